package handlers

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/pkoukk/tiktoken-go"

	"github.com/Davincible/claude-code-open/internal/config"
	"github.com/Davincible/claude-code-open/internal/feature"
	"github.com/Davincible/claude-code-open/internal/scripting"
	"github.com/Davincible/claude-code-open/internal/transform"
	"github.com/Davincible/claude-code-open/internal/transform/protocols"
	"github.com/Davincible/claude-code-open/internal/uif"
)

// domainProtocol maps a well-known upstream hostname to the wire protocol it
// speaks. This generalizes the lineage's per-vendor provider registry
// (internal/providers, domain->Provider) into a lookup keyed on the
// transform Registry's protocol tags, used when a configured provider
// doesn't name its protocol explicitly.
var domainProtocol = map[string]uif.Protocol{
	"openrouter.ai":                     uif.ProtocolOpenAI,
	"api.openrouter.ai":                 uif.ProtocolOpenAI,
	"api.openai.com":                    uif.ProtocolOpenAI,
	"openai.com":                        uif.ProtocolOpenAI,
	"api.anthropic.com":                 uif.ProtocolAnthropic,
	"anthropic.com":                     uif.ProtocolAnthropic,
	"integrate.api.nvidia.com":          uif.ProtocolOpenAI,
	"api.nvidia.com":                    uif.ProtocolOpenAI,
	"generativelanguage.googleapis.com": uif.ProtocolGemini,
	"googleapis.com":                    uif.ProtocolGemini,
}

// namedProtocol covers provider entries whose configured Name already
// doubles as its protocol tag, the common case for hand-written entries.
var namedProtocol = map[string]uif.Protocol{
	"openai":       uif.ProtocolOpenAI,
	"anthropic":    uif.ProtocolAnthropic,
	"gcp_vertex":   uif.ProtocolGcpVertex,
	"gcp-vertex":   uif.ProtocolGcpVertex,
	"response_api": uif.ProtocolResponseAPI,
	"gemini":       uif.ProtocolGemini,
	"openrouter":   uif.ProtocolOpenAI,
	"nvidia":       uif.ProtocolOpenAI,
}

// ProxyHandler routes an inbound request of any of the four supported wire
// protocols through the transform Pipeline to whichever upstream provider
// the router config selects, translating both the request and the response
// (buffered or streamed) between the client's protocol and the provider's.
type ProxyHandler struct {
	config   *config.Manager
	registry *transform.Registry
	detector *transform.Detector
	scripts  *scripting.Engine
	logger   *slog.Logger

	scriptMu      sync.Mutex
	loadedScripts map[string]string
}

func NewProxyHandler(cfgManager *config.Manager, logger *slog.Logger) *ProxyHandler {
	registry := transform.NewRegistry()
	registry.Register(protocols.NewOpenAITransformer())
	registry.Register(protocols.NewAnthropicTransformer())
	registry.Register(protocols.NewGcpVertexTransformer())
	registry.Register(protocols.NewResponseAPITransformer())
	registry.Register(protocols.NewGeminiTransformer())

	return &ProxyHandler{
		config:        cfgManager,
		registry:      registry,
		detector:      transform.NewDetector(),
		scripts:       scripting.NewEngine(),
		logger:        logger,
		loadedScripts: make(map[string]string),
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "failed to read request body: %v", err)
		return
	}

	inputTokens := h.countInputTokens(string(body))

	preferredProvider := cfg.DomainMappings[r.Host]
	routedBody, modelRoute := h.selectModel(body, inputTokens, &cfg.Router, preferredProvider)

	rawBody, err := transform.DecodeRaw(routedBody)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "malformed request body: %v", err)
		return
	}

	providerConfig, actualModel, err := h.resolveProvider(modelRoute, cfg)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "provider not found: %v", err)
		return
	}
	rawBody["model"] = actualModel

	providerProtocol := h.resolveProtocol(providerConfig)
	h.ensureScript(providerConfig)
	features := h.buildFeatureChain(providerConfig)
	pipeline := transform.NewPipeline(h.registry, h.detector, features, h.scripts)

	providerPayload, clientTransformer, clientProtocol, err := pipeline.PrepareRequest(rawBody, r.Header, r.URL.Path, providerConfig.Name, providerProtocol)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "request transformation failed: %v", err)
		return
	}

	finalBody, err := transform.MarshalRaw(providerPayload)
	if err != nil {
		h.httpError(w, http.StatusInternalServerError, "failed to marshal provider request: %v", err)
		return
	}

	finalURL := h.buildEndpointURL(providerProtocol, providerConfig.APIBase, actualModel)

	req, err := http.NewRequestWithContext(r.Context(), r.Method, finalURL, strings.NewReader(string(finalBody)))
	if err != nil {
		h.httpError(w, http.StatusInternalServerError, "failed to create upstream request: %v", err)
		return
	}

	req.Header = r.Header.Clone()
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(finalBody))
	h.applyAnthropicBetaPolicy(req.Header, providerProtocol, providerConfig)

	apiKey := providerConfig.APIKey
	if apiKey == "" {
		if ccoAPIKey := os.Getenv("CCO_API_KEY"); ccoAPIKey != "" {
			apiKey = ccoAPIKey
			h.logger.Debug("Using CCO_API_KEY for provider", "provider", providerConfig.Name)
		}
	}
	if apiKey != "" {
		h.setAuthHeader(req, providerProtocol, apiKey)
	}

	h.logger.Info("Proxying request",
		"provider", providerConfig.Name,
		"protocol", providerProtocol,
		"model", actualModel,
		"url", finalURL,
		"input_tokens", inputTokens,
	)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	streaming, _ := providerPayload["stream"].(bool)

	if streaming {
		h.handleStreamingResponse(w, resp, pipeline, providerProtocol, clientProtocol, providerConfig.Name, inputTokens)
	} else {
		h.handleResponse(w, resp, pipeline, providerProtocol, actualModel, providerConfig.Name, clientTransformer, inputTokens)
	}
}

func (h *ProxyHandler) handleStreamingResponse(w http.ResponseWriter, resp *http.Response, pipeline *transform.Pipeline, providerProtocol, clientProtocol uif.Protocol, providerName string, inputTokens int) {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "decompression error: %v", err)
		return
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	h.copyHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(bodyReader)
		h.logger.Error("Upstream streaming error response", "status", resp.StatusCode, "body", h.truncate(string(errBody), 2000))
		w.Write(errBody)
		h.flushResponse(w)
		return
	}

	session := pipeline.NewStreamSession(providerProtocol, clientProtocol, providerName)

	scanner := bufio.NewScanner(bodyReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, ": ") || !strings.HasPrefix(line, "data: ") {
			continue
		}

		frame := strings.TrimPrefix(line, "data: ")

		out, err := pipeline.PumpFrame(session, []byte(frame))
		if err != nil {
			h.logger.Error("Stream transformation error", "error", err)
			continue
		}
		if out != "" {
			fmt.Fprint(w, out)
			h.flushResponse(w)
		}
	}

	if err := scanner.Err(); err != nil {
		h.logger.Error("Stream read failed, closing client stream", "error", err)
		if out, abortErr := pipeline.AbortStream(session); abortErr == nil && out != "" {
			fmt.Fprint(w, out)
			h.flushResponse(w)
		}
	}

	h.logger.Info("Completed streaming response", "status", resp.StatusCode, "input_tokens", inputTokens)
}

func (h *ProxyHandler) handleResponse(w http.ResponseWriter, resp *http.Response, pipeline *transform.Pipeline, providerProtocol uif.Protocol, originalModel, providerName string, clientTransformer transform.Transformer, inputTokens int) {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "decompression error: %v", err)
		return
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	respBody, err := io.ReadAll(bodyReader)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "failed to read upstream response: %v", err)
		return
	}

	var finalBody []byte

	if resp.StatusCode != http.StatusOK {
		h.logger.Error("Upstream error response", "status", resp.StatusCode, "body", h.truncate(string(respBody), 2000))
		finalBody = respBody
	} else if providerRaw, err := transform.DecodeRaw(respBody); err != nil {
		h.logger.Warn("Response decode failed, forwarding raw", "error", err)
		finalBody = respBody
	} else if clientPayload, err := pipeline.FinishResponse(providerRaw, providerProtocol, originalModel, providerName, clientTransformer); err != nil {
		h.logger.Warn("Response transformation failed, using original", "error", err)
		finalBody = respBody
	} else if marshaled, err := transform.MarshalRaw(clientPayload); err != nil {
		h.logger.Warn("Marshal of transformed response failed, using original", "error", err)
		finalBody = respBody
	} else {
		finalBody = marshaled
	}

	h.copyHeaders(w, resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(finalBody)

	h.logResponseTokens(finalBody, resp.StatusCode, inputTokens)
}

// resolveProvider parses the "provider,model" route selectModel produced and
// looks up the matching configured provider, falling back to the first
// configured provider when no provider prefix is present.
func (h *ProxyHandler) resolveProvider(modelRoute string, cfg *config.Config) (*config.Provider, string, error) {
	parts := strings.SplitN(modelRoute, ",", 2)
	var providerName, actualModel string
	if len(parts) > 1 {
		providerName, actualModel = parts[0], parts[1]
	} else {
		actualModel = modelRoute
	}

	if providerName != "" {
		for i := range cfg.Providers {
			if cfg.Providers[i].Name == providerName {
				return &cfg.Providers[i], actualModel, nil
			}
		}
		return nil, "", fmt.Errorf("provider %q not found in configuration", providerName)
	}

	if len(cfg.Providers) == 0 {
		return nil, "", fmt.Errorf("no providers configured")
	}
	return &cfg.Providers[0], actualModel, nil
}

// resolveProtocol determines the wire protocol a configured provider speaks:
// its explicit Protocol field, then its API base's hostname, then its
// configured Name, defaulting to OpenAI (the shape most OpenAI-compatible
// vendors like OpenRouter and NVIDIA NIM speak).
func (h *ProxyHandler) resolveProtocol(p *config.Provider) uif.Protocol {
	if p.Protocol != "" {
		return uif.Protocol(p.Protocol)
	}
	if host := hostOf(p.APIBase); host != "" {
		if proto, ok := domainProtocol[host]; ok {
			return proto
		}
	}
	if proto, ok := namedProtocol[p.Name]; ok {
		return proto
	}
	return uif.ProtocolOpenAI
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func (h *ProxyHandler) ensureScript(p *config.Provider) {
	if p.LuaScript == "" {
		return
	}
	h.scriptMu.Lock()
	defer h.scriptMu.Unlock()
	if h.loadedScripts[p.Name] == p.LuaScript {
		return
	}
	if err := h.scripts.LoadScript(p.Name, p.LuaScript); err != nil {
		h.logger.Error("Failed to load provider Lua script", "provider", p.Name, "path", p.LuaScript, "error", err)
		return
	}
	h.loadedScripts[p.Name] = p.LuaScript
}

func (h *ProxyHandler) buildFeatureChain(p *config.Provider) *transform.FeatureChain {
	var transformers []transform.FeatureTransformer
	if p.ReasoningEffort != "" {
		transformers = append(transformers, feature.NewReasoningTransformer(map[string]string{p.Name: p.ReasoningEffort}))
	}
	if p.TokenLimit > 0 {
		transformers = append(transformers, feature.NewTokenLimitTransformer(map[string]int{p.Name: p.TokenLimit}))
	}
	transformers = append(transformers, feature.NewLuaFeatureTransformer(h.scripts))
	return transform.NewFeatureChain(transformers...)
}

// selectModel mirrors the lineage's router logic: an explicit "provider,model"
// in the request is used as-is; otherwise the configured router rules
// (long-context/background/think/web-search) pick a route, falling back to
// the client-requested model verbatim. preferredProvider (from a domain
// mapping) is prepended when routing didn't already pick a provider.
func (h *ProxyHandler) selectModel(inputBody []byte, tokens int, routerConfig *config.RouterConfig, preferredProvider string) ([]byte, string) {
	var modelBody map[string]any
	if err := json.Unmarshal(inputBody, &modelBody); err != nil {
		h.logger.Error("Failed to unmarshal request body for model selection", "error", err)
		return inputBody, routerConfig.Default
	}

	var selectedModel string

	if model, ok := modelBody["model"].(string); ok && len(model) > 0 {
		if strings.Contains(model, ",") {
			selectedModel = model
		} else {
			switch {
			case tokens > 60000 && routerConfig.LongContext != "":
				selectedModel = routerConfig.LongContext
			case strings.HasPrefix(model, "claude-3-5-haiku") && routerConfig.Background != "":
				selectedModel = routerConfig.Background
			case routerConfig.Think != "":
				selectedModel = routerConfig.Think
			case routerConfig.WebSearch != "":
				selectedModel = routerConfig.WebSearch
			default:
				selectedModel = model
			}
		}
	} else {
		selectedModel = routerConfig.Default
	}

	if preferredProvider != "" && !strings.Contains(selectedModel, ",") {
		selectedModel = preferredProvider + "," + selectedModel
	}

	var finalModel string
	if parts := strings.SplitN(selectedModel, ",", 2); len(parts) > 1 {
		finalModel = parts[1]
	} else {
		finalModel = selectedModel
	}

	modelBody["model"] = finalModel

	updatedBody, err := json.Marshal(modelBody)
	if err != nil {
		h.logger.Error("Failed to marshal updated request body", "error", err)
		return inputBody, selectedModel
	}

	return updatedBody, selectedModel
}

func (h *ProxyHandler) countInputTokens(text string) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		h.logger.Error("Failed to get tiktoken encoding", "error", err)
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}

func (h *ProxyHandler) decompressReader(resp *http.Response) (io.Reader, error) {
	var bodyReader io.Reader = resp.Body
	encoding := resp.Header.Get("Content-Encoding")

	switch encoding {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		bodyReader = gzipReader
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	}

	return bodyReader, nil
}

func (h *ProxyHandler) copyHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		if key == "Content-Encoding" || key == "Content-Length" {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
}

func (h *ProxyHandler) flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *ProxyHandler) httpError(w http.ResponseWriter, code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Error("HTTP Error", "code", code, "message", msg)
	http.Error(w, msg, code)
}

// buildEndpointURL handles Gemini's URL-embedded-model requirement; every
// other protocol dispatches to the provider's base URL unchanged.
func (h *ProxyHandler) buildEndpointURL(protocol uif.Protocol, baseURL, model string) string {
	if protocol != uif.ProtocolGemini {
		return baseURL
	}

	if strings.HasSuffix(baseURL, "/models") {
		return fmt.Sprintf("%s/%s:generateContent", baseURL, model)
	}
	if strings.Contains(baseURL, "/models/") {
		baseIndex := strings.LastIndex(baseURL, "/models/")
		return fmt.Sprintf("%s%s:generateContent", baseURL[:baseIndex+8], model)
	}
	return fmt.Sprintf("%s/%s:generateContent", strings.TrimSuffix(baseURL, "/"), model)
}

// setAuthHeader sets the appropriate authentication header for the protocol.
func (h *ProxyHandler) setAuthHeader(req *http.Request, protocol uif.Protocol, apiKey string) {
	switch protocol {
	case uif.ProtocolGemini:
		req.Header.Set("x-goog-api-key", apiKey)
	default:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// applyAnthropicBetaPolicy sanitizes the anthropic-beta header per the
// header policy: it is only ever meaningful to an Anthropic-family
// upstream, so it is dropped by default for anything else, and only passed
// through an Anthropic-family provider unsanitized unless that provider
// configures an explicit policy.
func (h *ProxyHandler) applyAnthropicBetaPolicy(headers http.Header, protocol uif.Protocol, p *config.Provider) {
	const headerName = "Anthropic-Beta"

	value := headers.Get(headerName)
	if value == "" {
		return
	}

	family := protocol == uif.ProtocolAnthropic || protocol == uif.ProtocolGcpVertex

	policy := p.AnthropicBetaPolicy
	if policy == "" {
		if family {
			return // pass through unsanitized, the default for an Anthropic-family upstream
		}
		policy = "drop"
	}

	switch policy {
	case "passthrough":
		return
	case "allowlist":
		allowed := make(map[string]bool, len(p.AnthropicBetaAllowlist))
		for _, v := range p.AnthropicBetaAllowlist {
			allowed[strings.TrimSpace(v)] = true
		}

		var kept []string
		for _, flag := range strings.Split(value, ",") {
			flag = strings.TrimSpace(flag)
			if allowed[flag] {
				kept = append(kept, flag)
			}
		}

		if len(kept) == 0 {
			headers.Del(headerName)
			return
		}
		headers.Set(headerName, strings.Join(kept, ","))
	default: // "drop"
		headers.Del(headerName)
	}
}

func (h *ProxyHandler) truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func (h *ProxyHandler) logResponseTokens(respBody []byte, statusCode int, inputTokens int) {
	logFields := []any{
		"status", statusCode,
		"input_tokens", inputTokens,
	}

	var response map[string]interface{}
	if err := json.Unmarshal(respBody, &response); err == nil {
		if usage, ok := response["usage"].(map[string]interface{}); ok {
			if outputTokens, ok := usage["output_tokens"]; ok {
				logFields = append(logFields, "output_tokens", outputTokens)
			} else if outputTokens, ok := usage["completion_tokens"]; ok {
				logFields = append(logFields, "output_tokens", outputTokens)
			}
		} else if usageMeta, ok := response["usageMetadata"].(map[string]interface{}); ok {
			if outputTokens, ok := usageMeta["candidatesTokenCount"]; ok {
				logFields = append(logFields, "output_tokens", outputTokens)
			}
		}
	}

	if statusCode != http.StatusOK {
		h.logger.Error("Upstream error response", logFields...)
	} else {
		h.logger.Info("Successful response", logFields...)
	}
}
