package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Davincible/claude-code-open/internal/uif"
)

type recordingFeature struct {
	name       string
	activeFor  map[string]bool
	applyOrder *[]string
}

func (f *recordingFeature) Name() string { return f.name }
func (f *recordingFeature) IsActive(providerName string) bool {
	return f.activeFor[providerName]
}
func (f *recordingFeature) TransformRequest(string, *uif.UnifiedRequest) {
	*f.applyOrder = append(*f.applyOrder, f.name)
}
func (f *recordingFeature) TransformResponse(string, *uif.UnifiedResponse) {
	*f.applyOrder = append(*f.applyOrder, f.name)
}
func (f *recordingFeature) TransformStreamChunk(string, *uif.UnifiedStreamChunk) {
	*f.applyOrder = append(*f.applyOrder, f.name)
}

func TestFeatureChain_AppliesOnlyActiveTransformersInRegistrationOrder(t *testing.T) {
	var order []string
	first := &recordingFeature{name: "reasoning", activeFor: map[string]bool{"openrouter": true}, applyOrder: &order}
	second := &recordingFeature{name: "token_limit", activeFor: map[string]bool{"openrouter": true}, applyOrder: &order}
	inactive := &recordingFeature{name: "lua", activeFor: map[string]bool{}, applyOrder: &order}

	chain := NewFeatureChain(first, second, inactive)

	chain.ApplyRequest("openrouter", &uif.UnifiedRequest{})
	assert.Equal(t, []string{"reasoning", "token_limit"}, order, "only active transformers run, in registration order")

	order = nil
	chain.ApplyResponse("openrouter", &uif.UnifiedResponse{})
	assert.Equal(t, []string{"reasoning", "token_limit"}, order)

	order = nil
	chain.ApplyStreamChunk("openrouter", &uif.UnifiedStreamChunk{})
	assert.Equal(t, []string{"reasoning", "token_limit"}, order)
}

func TestFeatureChain_NoTransformersActiveForUnknownProvider(t *testing.T) {
	var order []string
	f := &recordingFeature{name: "reasoning", activeFor: map[string]bool{"openrouter": true}, applyOrder: &order}
	chain := NewFeatureChain(f)

	chain.ApplyRequest("anthropic", &uif.UnifiedRequest{})
	assert.Empty(t, order)
}

func TestFeatureChain_Empty(t *testing.T) {
	chain := NewFeatureChain()
	// Must not panic with zero transformers registered.
	chain.ApplyRequest("anything", &uif.UnifiedRequest{})
	chain.ApplyResponse("anything", &uif.UnifiedResponse{})
	chain.ApplyStreamChunk("anything", &uif.UnifiedStreamChunk{})
}
