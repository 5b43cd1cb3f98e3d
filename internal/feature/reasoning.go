// Package feature implements the built-in FeatureTransformers the Pipeline
// applies between request_out/request_in and response_in/response_out:
// ReasoningTransformer, TokenLimitTransformer, and LuaFeatureTransformer.
package feature

import "github.com/Davincible/claude-code-open/internal/uif"

// ReasoningTransformer injects a configured reasoning effort into outbound
// requests for providers that opt in. It operates purely on
// UnifiedParameters.Extra, so it stays agnostic of which wire protocol a
// provider speaks: every protocol transformer's request_in copies Extra keys
// verbatim, so the provider receives a top-level "reasoning_effort" field.
type ReasoningTransformer struct {
	// effortByProvider maps a provider name to its configured effort
	// (low/medium/high). A provider absent from this map is untouched.
	effortByProvider map[string]string
}

func NewReasoningTransformer(effortByProvider map[string]string) *ReasoningTransformer {
	return &ReasoningTransformer{effortByProvider: effortByProvider}
}

func (t *ReasoningTransformer) Name() string { return "reasoning" }

func (t *ReasoningTransformer) IsActive(providerName string) bool {
	_, ok := t.effortByProvider[providerName]
	return ok
}

func (t *ReasoningTransformer) TransformRequest(providerName string, req *uif.UnifiedRequest) {
	effort, ok := t.effortByProvider[providerName]
	if !ok {
		return
	}
	if req.Parameters.Extra == nil {
		req.Parameters.Extra = map[string]any{}
	}
	req.Parameters.Extra["reasoning_effort"] = effort
}

func (t *ReasoningTransformer) TransformResponse(string, *uif.UnifiedResponse) {}

func (t *ReasoningTransformer) TransformStreamChunk(string, *uif.UnifiedStreamChunk) {}
