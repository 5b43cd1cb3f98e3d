package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-code-open/internal/uif"
)

func TestReasoningTransformer_InjectsConfiguredEffort(t *testing.T) {
	rt := NewReasoningTransformer(map[string]string{"openrouter": "high"})

	assert.True(t, rt.IsActive("openrouter"))
	assert.False(t, rt.IsActive("anthropic"), "a provider absent from the map is untouched")

	req := &uif.UnifiedRequest{}
	rt.TransformRequest("openrouter", req)
	require.NotNil(t, req.Parameters.Extra)
	assert.Equal(t, "high", req.Parameters.Extra["reasoning_effort"])

	untouched := &uif.UnifiedRequest{}
	rt.TransformRequest("anthropic", untouched)
	assert.Nil(t, untouched.Parameters.Extra)
}

func TestTokenLimitTransformer_ClampsOverLimit(t *testing.T) {
	tl := NewTokenLimitTransformer(map[string]int{"nvidia": 4096})
	assert.True(t, tl.IsActive("nvidia"))
	assert.False(t, tl.IsActive("unconfigured"))

	requested := 8192
	req := &uif.UnifiedRequest{Parameters: uif.UnifiedParameters{MaxTokens: &requested}}
	tl.TransformRequest("nvidia", req)
	require.NotNil(t, req.Parameters.MaxTokens)
	assert.Equal(t, 4096, *req.Parameters.MaxTokens)
}

func TestTokenLimitTransformer_LeavesUnderLimitAlone(t *testing.T) {
	tl := NewTokenLimitTransformer(map[string]int{"nvidia": 4096})

	requested := 1024
	req := &uif.UnifiedRequest{Parameters: uif.UnifiedParameters{MaxTokens: &requested}}
	tl.TransformRequest("nvidia", req)
	assert.Equal(t, 1024, *req.Parameters.MaxTokens)
}

func TestTokenLimitTransformer_FillsUnsetMaxTokens(t *testing.T) {
	tl := NewTokenLimitTransformer(map[string]int{"nvidia": 4096})

	req := &uif.UnifiedRequest{}
	tl.TransformRequest("nvidia", req)
	require.NotNil(t, req.Parameters.MaxTokens)
	assert.Equal(t, 4096, *req.Parameters.MaxTokens)
}

func TestTokenLimitTransformer_ZeroLimitIsInactive(t *testing.T) {
	tl := NewTokenLimitTransformer(map[string]int{"nvidia": 0})
	assert.False(t, tl.IsActive("nvidia"), "a zero limit means no clamping is configured")
}

type fakeScriptRegistry struct {
	has map[string]bool
}

func (f fakeScriptRegistry) HasScript(providerName string) bool { return f.has[providerName] }

func TestLuaFeatureTransformer_IsActiveDelegatesToEngine(t *testing.T) {
	lt := NewLuaFeatureTransformer(fakeScriptRegistry{has: map[string]bool{"openrouter": true}})
	assert.True(t, lt.IsActive("openrouter"))
	assert.False(t, lt.IsActive("anthropic"))

	// Every UIF-level hook is a documented no-op; calling them must not panic.
	req := &uif.UnifiedRequest{}
	lt.TransformRequest("openrouter", req)
	resp := &uif.UnifiedResponse{}
	lt.TransformResponse("openrouter", resp)
	chunk := &uif.UnifiedStreamChunk{}
	lt.TransformStreamChunk("openrouter", chunk)
}
