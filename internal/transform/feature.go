package transform

import "github.com/Davincible/claude-code-open/internal/uif"

// FeatureTransformer is a pluggable per-provider mutator applied to UIF
// values after request_out/before request_in, and after response_in/before
// response_out. Implementations live in internal/feature; this interface is
// declared here so the Pipeline can depend on the contract without
// depending on any concrete built-in.
type FeatureTransformer interface {
	Name() string

	// IsActive reports whether this transformer should run for the given
	// upstream provider name. Inactive transformers are skipped entirely.
	IsActive(providerName string) bool

	TransformRequest(providerName string, req *uif.UnifiedRequest)
	TransformResponse(providerName string, resp *uif.UnifiedResponse)
	TransformStreamChunk(providerName string, chunk *uif.UnifiedStreamChunk)
}

// FeatureChain applies a fixed, ordered list of FeatureTransformers. Order
// of registration is the order of application; this is never resorted.
type FeatureChain struct {
	transformers []FeatureTransformer
}

func NewFeatureChain(transformers ...FeatureTransformer) *FeatureChain {
	return &FeatureChain{transformers: transformers}
}

func (c *FeatureChain) ApplyRequest(providerName string, req *uif.UnifiedRequest) {
	for _, t := range c.transformers {
		if t.IsActive(providerName) {
			t.TransformRequest(providerName, req)
		}
	}
}

func (c *FeatureChain) ApplyResponse(providerName string, resp *uif.UnifiedResponse) {
	for _, t := range c.transformers {
		if t.IsActive(providerName) {
			t.TransformResponse(providerName, resp)
		}
	}
}

func (c *FeatureChain) ApplyStreamChunk(providerName string, chunk *uif.UnifiedStreamChunk) {
	for _, t := range c.transformers {
		if t.IsActive(providerName) {
			t.TransformStreamChunk(providerName, chunk)
		}
	}
}
