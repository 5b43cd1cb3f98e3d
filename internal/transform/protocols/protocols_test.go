package protocols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-code-open/internal/transform"
	"github.com/Davincible/claude-code-open/internal/uif"
)

func TestOpenAITransformer_CanHandle(t *testing.T) {
	tr := NewOpenAITransformer()

	assert.True(t, tr.CanHandle(transform.RawJSON{
		"model":    "gpt-4o",
		"messages": []any{transform.RawJSON{"role": "user", "content": "hi"}},
	}))

	assert.False(t, tr.CanHandle(transform.RawJSON{"system": "x", "max_tokens": 10}), "an Anthropic-shaped payload is not OpenAI-shaped")
}

func TestOpenAITransformer_RequestOutRequestInRoundTrip(t *testing.T) {
	tr := NewOpenAITransformer()

	raw := transform.RawJSON{
		"model": "gpt-4o",
		"messages": []any{
			transform.RawJSON{"role": "system", "content": "be terse"},
			transform.RawJSON{"role": "user", "content": "hello"},
		},
		"max_tokens": float64(256),
		"stream":     true,
	}

	req, err := tr.RequestOut(raw)
	require.NoError(t, err)
	assert.Equal(t, "be terse", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, uif.RoleUser, req.Messages[0].Role)
	require.NotNil(t, req.Parameters.MaxTokens)
	assert.Equal(t, 256, *req.Parameters.MaxTokens)
	assert.True(t, req.Parameters.Stream)

	out, err := tr.RequestIn(req)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", out["model"])
	assert.Equal(t, 256, out["max_tokens"])
}

func TestOpenAITransformer_ToolCallRequestOut(t *testing.T) {
	tr := NewOpenAITransformer()

	raw := transform.RawJSON{
		"model": "gpt-4o",
		"messages": []any{
			transform.RawJSON{"role": "user", "content": "what's the weather?"},
			transform.RawJSON{
				"role": "assistant",
				"tool_calls": []any{
					transform.RawJSON{
						"id":   "call-1",
						"type": "function",
						"function": transform.RawJSON{
							"name": "get_weather", "arguments": `{"city":"nyc"}`,
						},
					},
				},
			},
			transform.RawJSON{"role": "tool", "tool_call_id": "call-1", "content": `{"temp":72}`},
		},
	}

	req, err := tr.RequestOut(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 3)

	assistantMsg := req.Messages[1]
	require.Len(t, assistantMsg.Content, 1)
	assert.Equal(t, uif.ContentToolUse, assistantMsg.Content[0].Type)
	assert.Equal(t, "get_weather", assistantMsg.Content[0].ToolUse.Name)
	assert.Equal(t, "nyc", assistantMsg.Content[0].ToolUse.Input["city"])

	toolResultMsg := req.Messages[2]
	require.Len(t, toolResultMsg.Content, 1)
	assert.Equal(t, uif.ContentToolResult, toolResultMsg.Content[0].Type)
	assert.Equal(t, "call-1", toolResultMsg.Content[0].ToolResult.ToolUseID)
}

func TestAnthropicTransformer_CanHandle(t *testing.T) {
	tr := NewAnthropicTransformer()

	assert.True(t, tr.CanHandle(transform.RawJSON{
		"system": "be helpful", "max_tokens": float64(100),
	}))
	assert.False(t, tr.CanHandle(transform.RawJSON{"model": "gpt-4o", "messages": []any{}}))
}

func TestAnthropicTransformer_GcpVertexSharesImplementationDistinctProtocolTag(t *testing.T) {
	anthropic := NewAnthropicTransformer()
	vertex := NewGcpVertexTransformer()

	assert.Equal(t, uif.ProtocolAnthropic, anthropic.Protocol())
	assert.Equal(t, uif.ProtocolGcpVertex, vertex.Protocol())
}

func TestAnthropicTransformer_ResponseOutProducesMessageShape(t *testing.T) {
	tr := NewAnthropicTransformer()

	resp := &uif.UnifiedResponse{
		ID:         "msg_1",
		Model:      "claude-3-5-sonnet",
		Content:    []uif.UnifiedContent{uif.NewText("hello there")},
		StopReason: uif.StopEndTurn,
		Usage:      uif.UnifiedUsage{InputTokens: 10, OutputTokens: 5},
	}

	out, err := tr.ResponseOut(resp)
	require.NoError(t, err)
	assert.Equal(t, "message", out["type"])
	assert.Equal(t, "end_turn", out["stop_reason"])

	content, ok := out["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	block := content[0].(transform.RawJSON)
	assert.Equal(t, "hello there", block["text"])
}

func TestGeminiTransformer_CanHandle(t *testing.T) {
	tr := NewGeminiTransformer()

	assert.True(t, tr.CanHandle(transform.RawJSON{
		"contents":         []any{},
		"generationConfig": transform.RawJSON{},
	}))
	assert.False(t, tr.CanHandle(transform.RawJSON{"messages": []any{}}))
}

func TestGeminiTransformer_RequestOutMapsRolesAndSystemInstruction(t *testing.T) {
	tr := NewGeminiTransformer()

	raw := transform.RawJSON{
		"systemInstruction": transform.RawJSON{"parts": []any{transform.RawJSON{"text": "be concise"}}},
		"contents": []any{
			transform.RawJSON{"role": "user", "parts": []any{transform.RawJSON{"text": "hi"}}},
			transform.RawJSON{"role": "model", "parts": []any{transform.RawJSON{"text": "hello"}}},
		},
		"generationConfig": transform.RawJSON{"maxOutputTokens": float64(128)},
	}

	req, err := tr.RequestOut(raw)
	require.NoError(t, err)
	assert.Equal(t, "be concise", req.System)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, uif.RoleUser, req.Messages[0].Role)
	assert.Equal(t, uif.RoleAssistant, req.Messages[1].Role)
	require.NotNil(t, req.Parameters.MaxTokens)
	assert.Equal(t, 128, *req.Parameters.MaxTokens)
}

func TestResponseAPITransformer_CanHandle(t *testing.T) {
	tr := NewResponseAPITransformer()

	assert.True(t, tr.CanHandle(transform.RawJSON{"input": "hi", "max_output_tokens": float64(50)}))
	assert.False(t, tr.CanHandle(transform.RawJSON{"messages": []any{}, "max_tokens": float64(50)}))
}

func TestResponseAPITransformer_PreservesNonFunctionToolTypes(t *testing.T) {
	tr := NewResponseAPITransformer()

	req := &uif.UnifiedRequest{
		Model: "gpt-4o",
		Tools: []uif.UnifiedTool{
			{Name: "browse", ToolType: uif.ToolTypeWebSearchPreview},
			{Name: "search_files", ToolType: uif.ToolTypeFileSearch},
		},
	}

	out, err := tr.RequestIn(req)
	require.NoError(t, err)
	tools, ok := out["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 2)
}
