package tests

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-code-open/internal/config"
	"github.com/Davincible/claude-code-open/internal/handlers"
)

// TestProxyIntegration_AnthropicClientToOpenAIProvider drives a full
// request/response round trip through the real ProxyHandler: an
// Anthropic-shaped client request is routed to a fake OpenAI-shaped
// upstream, and the response the client sees back is translated back into
// Anthropic's shape.
func TestProxyIntegration_AnthropicClientToOpenAIProvider(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		assert.Equal(t, "test-model", req["model"], "the proxy should have rewritten the routed model name")
		if messages, ok := req["messages"].([]interface{}); ok {
			assert.NotEmpty(t, messages, "the OpenAI-bound request should carry translated messages")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "chatcmpl-test",
			"model": "test-model",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]interface{}{
						"role":    "assistant",
						"content": "Hello from the fake upstream!",
					},
				},
			},
			"usage": map[string]interface{}{
				"prompt_tokens":     12,
				"completion_tokens": 5,
			},
		})
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Host:   "127.0.0.1",
		Port:   8080,
		APIKey: "test-key",
		Providers: []config.Provider{
			{
				Name:     "openrouter",
				Protocol: "openai",
				APIBase:  upstream.URL,
				APIKey:   "test-provider-key",
				Models:   []string{"test-model"},
			},
		},
		Router: config.RouterConfig{
			Default: "openrouter,test-model",
		},
	}

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	require.NoError(t, cfgMgr.Save(cfg))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := handlers.NewProxyHandler(cfgMgr, logger)

	requestBody := map[string]interface{}{
		"model":      "test-model",
		"max_tokens": 100,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": "Hello, world!",
			},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, "response body: %s", rr.Body.String())

	var clientResp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &clientResp))

	assert.Equal(t, "message", clientResp["type"], "an Anthropic-shaped client should see an Anthropic-shaped response")
	content, ok := clientResp["content"].([]interface{})
	require.True(t, ok, "content should be an Anthropic-style block array")
	require.NotEmpty(t, content)

	block, ok := content[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Hello from the fake upstream!", block["text"])
}

// TestProxyIntegration_UnknownProvider exercises the error path: a request
// routed to a provider name absent from configuration should fail fast with
// a client error, not a panic or a hang.
func TestProxyIntegration_UnknownProvider(t *testing.T) {
	cfg := &config.Config{
		Host: "127.0.0.1",
		Port: 8080,
		Providers: []config.Provider{
			{Name: "openrouter", Protocol: "openai", APIBase: "https://example.invalid"},
		},
		Router: config.RouterConfig{Default: "does-not-exist,test-model"},
	}

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	require.NoError(t, cfgMgr.Save(cfg))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := handlers.NewProxyHandler(cfgMgr, logger)

	requestBody := map[string]interface{}{"max_tokens": 10, "messages": []interface{}{}}
	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(jsonBody))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
