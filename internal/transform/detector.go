package transform

import (
	"strings"

	"github.com/Davincible/claude-code-open/internal/uif"
)

// Detector classifies a raw request into a Protocol using headers, path, and
// structural heuristics, in that priority order. It holds no state.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// DetectFromHeader reads the explicit x-protocol header, if present.
// Supported values: openai, anthropic|claude, response|response-api, gemini.
func (d *Detector) DetectFromHeader(headers map[string][]string) (uif.Protocol, bool) {
	var value string
	for k, v := range headers {
		if strings.EqualFold(k, "x-protocol") && len(v) > 0 {
			value = strings.ToLower(strings.TrimSpace(v[0]))
			break
		}
	}

	switch value {
	case "openai":
		return uif.ProtocolOpenAI, true
	case "anthropic", "claude":
		return uif.ProtocolAnthropic, true
	case "response", "response-api":
		return uif.ProtocolResponseAPI, true
	case "gemini":
		return uif.ProtocolGemini, true
	default:
		return "", false
	}
}

// DetectFromPath inspects the request path for a well-known suffix.
func (d *Detector) DetectFromPath(path string) (uif.Protocol, bool) {
	p := strings.ToLower(path)

	switch {
	case strings.Contains(p, "/chat/completions"):
		return uif.ProtocolOpenAI, true
	case strings.Contains(p, "/responses"):
		return uif.ProtocolResponseAPI, true
	case strings.Contains(p, "/messages"):
		return uif.ProtocolAnthropic, true
	case strings.Contains(p, "/projects/") && strings.Contains(p, "/models/"):
		return uif.ProtocolGemini, true
	case strings.Contains(p, "/completions"):
		return uif.ProtocolOpenAI, true
	default:
		return "", false
	}
}

// DetectStructural classifies a decoded request body by its shape alone.
// This is the fallback used when neither a header nor a path hint is
// available.
func (d *Detector) DetectStructural(raw RawJSON) uif.Protocol {
	if isAnthropicShape(raw) {
		return uif.ProtocolAnthropic
	}
	if isResponseAPIShape(raw) {
		return uif.ProtocolResponseAPI
	}
	if isGeminiShape(raw) {
		return uif.ProtocolGemini
	}
	return uif.ProtocolOpenAI
}

// Detect runs the full priority chain: header, then path, then structure.
func (d *Detector) Detect(raw RawJSON, headers map[string][]string, path string) uif.Protocol {
	if p, ok := d.DetectFromHeader(headers); ok {
		return p
	}
	if p, ok := d.DetectFromPath(path); ok {
		return p
	}
	return d.DetectStructural(raw)
}

func isAnthropicShape(raw RawJSON) bool {
	_, hasSystem := raw["system"]
	_, hasMaxTokens := raw["max_tokens"]

	hasAnthropicContent := false
	if messages, ok := raw["messages"].([]any); ok {
		for _, m := range messages {
			msg, ok := m.(RawJSON)
			if !ok {
				continue
			}
			content, ok := msg["content"].([]any)
			if !ok {
				continue
			}
			for _, c := range content {
				block, ok := c.(RawJSON)
				if !ok {
					continue
				}
				switch block["type"] {
				case "text", "image", "tool_use", "tool_result":
					hasAnthropicContent = true
				}
			}
		}
	}

	return (hasSystem && hasMaxTokens) || (hasMaxTokens && hasAnthropicContent)
}

func isResponseAPIShape(raw RawJSON) bool {
	if _, ok := raw["input"]; ok {
		return true
	}
	_, hasInstructions := raw["instructions"]
	_, hasMessages := raw["messages"]
	if hasInstructions && !hasMessages {
		return true
	}
	_, hasMaxOutputTokens := raw["max_output_tokens"]
	_, hasMaxTokens := raw["max_tokens"]
	if hasMaxOutputTokens && !hasMaxTokens {
		return true
	}
	return false
}

func isGeminiShape(raw RawJSON) bool {
	if _, ok := raw["contents"]; ok {
		return true
	}
	_, hasGenConfig := raw["generationConfig"]
	_, hasMessages := raw["messages"]
	return hasGenConfig && !hasMessages
}
