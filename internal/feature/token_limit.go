package feature

import "github.com/Davincible/claude-code-open/internal/uif"

// TokenLimitTransformer clamps an outbound request's max_tokens to a
// per-provider ceiling, protecting a provider with a lower context/output
// limit than whatever the client asked for from an upstream rejection.
type TokenLimitTransformer struct {
	limitByProvider map[string]int
}

func NewTokenLimitTransformer(limitByProvider map[string]int) *TokenLimitTransformer {
	return &TokenLimitTransformer{limitByProvider: limitByProvider}
}

func (t *TokenLimitTransformer) Name() string { return "token_limit" }

func (t *TokenLimitTransformer) IsActive(providerName string) bool {
	limit, ok := t.limitByProvider[providerName]
	return ok && limit > 0
}

func (t *TokenLimitTransformer) TransformRequest(providerName string, req *uif.UnifiedRequest) {
	limit, ok := t.limitByProvider[providerName]
	if !ok || limit <= 0 {
		return
	}
	if req.Parameters.MaxTokens == nil || *req.Parameters.MaxTokens > limit {
		req.Parameters.MaxTokens = &limit
	}
}

func (t *TokenLimitTransformer) TransformResponse(string, *uif.UnifiedResponse) {}

func (t *TokenLimitTransformer) TransformStreamChunk(string, *uif.UnifiedStreamChunk) {}
