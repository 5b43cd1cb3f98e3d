package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-code-open/internal/config"
	"github.com/Davincible/claude-code-open/internal/uif"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSelectModel_DynamicProviderSelection(t *testing.T) {
	handler := &ProxyHandler{logger: testLogger()}

	routerConfig := &config.RouterConfig{
		Default:     "default,claude-3-5-sonnet",
		LongContext: "longcontext,claude-3-opus",
		Think:       "think,claude-3-5-sonnet",
		WebSearch:   "websearch,claude-3-5-sonnet:online",
		Background:  "background,claude-3-5-haiku",
	}

	testCases := []struct {
		name          string
		inputModel    string
		tokens        int
		expectedModel string
		expectedBody  string
		description   string
	}{
		{
			name:          "explicit provider with comma",
			inputModel:    "openrouter,anthropic/claude-sonnet-4",
			tokens:        1000,
			expectedModel: "openrouter,anthropic/claude-sonnet-4",
			expectedBody:  "anthropic/claude-sonnet-4",
			description:   "should use explicit provider/model when comma format is used",
		},
		{
			name:          "explicit provider overrides long context",
			inputModel:    "openrouter,anthropic/claude-sonnet-4",
			tokens:        70000,
			expectedModel: "openrouter,anthropic/claude-sonnet-4",
			expectedBody:  "anthropic/claude-sonnet-4",
			description:   "should prioritize explicit provider over automatic routing",
		},
		{
			name:          "automatic routing for long context",
			inputModel:    "claude-3-5-sonnet",
			tokens:        70000,
			expectedModel: "longcontext,claude-3-opus",
			expectedBody:  "claude-3-opus",
			description:   "should use long context routing for high token count",
		},
		{
			name:          "automatic routing for haiku background",
			inputModel:    "claude-3-5-haiku",
			tokens:        1000,
			expectedModel: "background,claude-3-5-haiku",
			expectedBody:  "claude-3-5-haiku",
			description:   "should use background routing for haiku model",
		},
		{
			name:          "think routing for simple model",
			inputModel:    "claude-3-5-sonnet",
			tokens:        1000,
			expectedModel: "think,claude-3-5-sonnet",
			expectedBody:  "claude-3-5-sonnet",
			description:   "should use think routing when no other rules apply",
		},
		{
			name:          "online suffix preservation",
			inputModel:    "openrouter,anthropic/claude-sonnet-4:online",
			tokens:        1000,
			expectedModel: "openrouter,anthropic/claude-sonnet-4:online",
			expectedBody:  "anthropic/claude-sonnet-4:online",
			description:   "should preserve :online suffix for web search",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			requestBody := map[string]interface{}{
				"model":      tc.inputModel,
				"messages":   []interface{}{},
				"max_tokens": 100,
			}

			inputBody, err := json.Marshal(requestBody)
			require.NoError(t, err)

			resultBody, selectedModel := handler.selectModel(inputBody, tc.tokens, routerConfig, "")

			assert.Equal(t, tc.expectedModel, selectedModel, tc.description)

			var parsedResult map[string]interface{}
			err = json.Unmarshal(resultBody, &parsedResult)
			require.NoError(t, err)

			assert.Equal(t, tc.expectedBody, parsedResult["model"], "request body should contain the final model name")
		})
	}
}

func TestSelectModel_NoModelProvided(t *testing.T) {
	handler := &ProxyHandler{logger: testLogger()}

	routerConfig := &config.RouterConfig{
		Default: "default,claude-3-5-sonnet",
	}

	requestBody := map[string]interface{}{
		"messages":   []interface{}{},
		"max_tokens": 100,
	}

	inputBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	resultBody, selectedModel := handler.selectModel(inputBody, 1000, routerConfig, "")

	assert.Equal(t, "default,claude-3-5-sonnet", selectedModel)

	var parsedResult map[string]interface{}
	err = json.Unmarshal(resultBody, &parsedResult)
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-sonnet", parsedResult["model"])
}

func TestSelectModel_DomainPreferredProvider(t *testing.T) {
	handler := &ProxyHandler{logger: testLogger()}

	routerConfig := &config.RouterConfig{
		Think: "claude-3-5-sonnet", // no provider prefix on purpose
	}

	requestBody := map[string]interface{}{"model": "claude-3-5-sonnet", "max_tokens": 1}
	inputBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	_, selectedModel := handler.selectModel(inputBody, 10, routerConfig, "tenant-a")

	assert.Equal(t, "tenant-a,claude-3-5-sonnet", selectedModel, "a domain-mapped provider should be prepended when routing picked no provider")
}

func TestResolveProvider(t *testing.T) {
	handler := &ProxyHandler{logger: testLogger()}

	cfg := &config.Config{
		Providers: []config.Provider{
			{Name: "openrouter", APIBase: "https://openrouter.ai/api/v1/chat/completions"},
			{Name: "anthropic", APIBase: "https://api.anthropic.com/v1/messages"},
		},
	}

	provider, model, err := handler.resolveProvider("anthropic,claude-3-5-sonnet", cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", provider.Name)
	assert.Equal(t, "claude-3-5-sonnet", model)

	_, _, err = handler.resolveProvider("unknown,claude-3-5-sonnet", cfg)
	assert.Error(t, err, "an unconfigured provider name should be rejected")

	provider, model, err = handler.resolveProvider("claude-3-5-sonnet", cfg)
	require.NoError(t, err)
	assert.Equal(t, "openrouter", provider.Name, "no provider prefix falls back to the first configured provider")
	assert.Equal(t, "claude-3-5-sonnet", model)
}

func TestResolveProtocol(t *testing.T) {
	handler := &ProxyHandler{logger: testLogger()}

	assert.Equal(t, uif.ProtocolAnthropic, handler.resolveProtocol(&config.Provider{Protocol: "anthropic"}))
	assert.Equal(t, uif.ProtocolGemini, handler.resolveProtocol(&config.Provider{APIBase: "https://generativelanguage.googleapis.com/v1beta/models"}))
	assert.Equal(t, uif.ProtocolOpenAI, handler.resolveProtocol(&config.Provider{Name: "openrouter"}))
	assert.Equal(t, uif.ProtocolOpenAI, handler.resolveProtocol(&config.Provider{Name: "some-custom-vendor"}), "an unrecognized provider defaults to OpenAI's shape")
}

func TestBuildEndpointURL(t *testing.T) {
	handler := &ProxyHandler{logger: testLogger()}

	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:generateContent",
		handler.buildEndpointURL(uif.ProtocolGemini, "https://generativelanguage.googleapis.com/v1beta/models", "gemini-1.5-pro"))

	assert.Equal(t,
		"https://api.anthropic.com/v1/messages",
		handler.buildEndpointURL(uif.ProtocolAnthropic, "https://api.anthropic.com/v1/messages", "claude-3-5-sonnet"))
}

func TestApplyAnthropicBetaPolicy(t *testing.T) {
	handler := &ProxyHandler{logger: testLogger()}

	t.Run("dropped by default for a non-Anthropic-family provider", func(t *testing.T) {
		h := http.Header{}
		h.Set("Anthropic-Beta", "computer-use-2024-10-22")
		handler.applyAnthropicBetaPolicy(h, uif.ProtocolOpenAI, &config.Provider{})
		assert.Empty(t, h.Get("Anthropic-Beta"))
	})

	t.Run("passed through by default for an Anthropic-family provider", func(t *testing.T) {
		h := http.Header{}
		h.Set("Anthropic-Beta", "computer-use-2024-10-22")
		handler.applyAnthropicBetaPolicy(h, uif.ProtocolAnthropic, &config.Provider{})
		assert.Equal(t, "computer-use-2024-10-22", h.Get("Anthropic-Beta"))
	})

	t.Run("explicit passthrough overrides a non-family default", func(t *testing.T) {
		h := http.Header{}
		h.Set("Anthropic-Beta", "computer-use-2024-10-22")
		handler.applyAnthropicBetaPolicy(h, uif.ProtocolOpenAI, &config.Provider{AnthropicBetaPolicy: "passthrough"})
		assert.Equal(t, "computer-use-2024-10-22", h.Get("Anthropic-Beta"))
	})

	t.Run("allowlist filters to configured flags only", func(t *testing.T) {
		h := http.Header{}
		h.Set("Anthropic-Beta", "computer-use-2024-10-22, prompt-caching-2024-07-31")
		handler.applyAnthropicBetaPolicy(h, uif.ProtocolAnthropic, &config.Provider{
			AnthropicBetaPolicy:    "allowlist",
			AnthropicBetaAllowlist: []string{"prompt-caching-2024-07-31"},
		})
		assert.Equal(t, "prompt-caching-2024-07-31", h.Get("Anthropic-Beta"))
	})

	t.Run("allowlist drops the header entirely when nothing survives", func(t *testing.T) {
		h := http.Header{}
		h.Set("Anthropic-Beta", "computer-use-2024-10-22")
		handler.applyAnthropicBetaPolicy(h, uif.ProtocolAnthropic, &config.Provider{
			AnthropicBetaPolicy:    "allowlist",
			AnthropicBetaAllowlist: []string{"prompt-caching-2024-07-31"},
		})
		assert.Empty(t, h.Get("Anthropic-Beta"))
	})
}
