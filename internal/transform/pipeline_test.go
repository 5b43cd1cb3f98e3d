package transform_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-code-open/internal/transform"
	"github.com/Davincible/claude-code-open/internal/transform/protocols"
	"github.com/Davincible/claude-code-open/internal/uif"
)

func newTestPipeline() *transform.Pipeline {
	registry := transform.NewRegistry()
	registry.Register(protocols.NewOpenAITransformer())
	registry.Register(protocols.NewAnthropicTransformer())
	registry.Register(protocols.NewGeminiTransformer())
	registry.Register(protocols.NewResponseAPITransformer())
	return transform.NewPipeline(registry, transform.NewDetector(), nil, nil)
}

func TestPipeline_PrepareRequest_AnthropicClientToOpenAIProvider(t *testing.T) {
	pipeline := newTestPipeline()

	rawBody := transform.RawJSON{
		"model":      "claude-3-5-sonnet",
		"max_tokens": float64(100),
		"system":     "be terse",
		"messages": []any{
			transform.RawJSON{"role": "user", "content": []any{
				transform.RawJSON{"type": "text", "text": "hello"},
			}},
		},
	}

	providerPayload, clientTransformer, clientProtocol, err := pipeline.PrepareRequest(
		rawBody, nil, "/v1/messages", "openrouter", uif.ProtocolOpenAI)
	require.NoError(t, err)

	assert.Equal(t, uif.ProtocolAnthropic, clientProtocol)
	assert.Equal(t, uif.ProtocolAnthropic, clientTransformer.Protocol())

	messages, ok := providerPayload["messages"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, messages)

	// The system prompt should have been folded into an OpenAI system
	// message, since Anthropic carries it as a top-level field but OpenAI
	// carries it as the first message.
	first := messages[0].(transform.RawJSON)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "be terse", first["content"])
}

func TestPipeline_FinishResponse_OpenAIProviderToAnthropicClient(t *testing.T) {
	pipeline := newTestPipeline()
	clientTransformer := protocols.NewAnthropicTransformer()

	providerPayload := transform.RawJSON{
		"id":    "chatcmpl-1",
		"model": "gpt-4o",
		"choices": []any{
			transform.RawJSON{
				"index":         0,
				"finish_reason": "stop",
				"message":       transform.RawJSON{"role": "assistant", "content": "hi there"},
			},
		},
		"usage": transform.RawJSON{"prompt_tokens": float64(10), "completion_tokens": float64(4)},
	}

	clientPayload, err := pipeline.FinishResponse(providerPayload, uif.ProtocolOpenAI, "claude-3-5-sonnet", "openrouter", clientTransformer)
	require.NoError(t, err)

	assert.Equal(t, "message", clientPayload["type"])
	content, ok := clientPayload["content"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, content)
	block := content[0].(transform.RawJSON)
	assert.Equal(t, "hi there", block["text"])
}

func TestPipeline_StreamSession_PumpFrameAndAbort(t *testing.T) {
	pipeline := newTestPipeline()
	session := pipeline.NewStreamSession(uif.ProtocolOpenAI, uif.ProtocolAnthropic, "openrouter")

	frame := []byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]}`)
	out, err := pipeline.PumpFrame(session, frame)
	require.NoError(t, err)
	assert.Contains(t, out, `"type":"message_start"`)

	aborted, err := pipeline.AbortStream(session)
	require.NoError(t, err)
	assert.Contains(t, aborted, `"type":"message_delta"`)
	assert.Contains(t, aborted, `"type":"message_stop"`)
}

func TestMarshalRaw(t *testing.T) {
	b, err := transform.MarshalRaw(transform.RawJSON{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))
}
