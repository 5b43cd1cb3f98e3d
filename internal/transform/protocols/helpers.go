// Package protocols implements the four concrete Transformers: OpenAI Chat
// Completions, Anthropic Messages (and its GcpVertex twin), OpenAI Response
// API, and Google Gemini.
package protocols

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Davincible/claude-code-open/internal/transform"
	"github.com/Davincible/claude-code-open/internal/uif"
	"github.com/google/uuid"
)

func str(m transform.RawJSON, key string) string {
	v, _ := m[key].(string)
	return v
}

func strPtr(m transform.RawJSON, key string) *string {
	v, ok := m[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func num(m transform.RawJSON, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}

func intVal(m transform.RawJSON, key string) (int, bool) {
	v, ok := num(m, key)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func boolVal(m transform.RawJSON, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func sliceVal(m transform.RawJSON, key string) ([]any, bool) {
	v, ok := m[key].([]any)
	return v, ok
}

func mapVal(m transform.RawJSON, key string) (transform.RawJSON, bool) {
	v, ok := m[key].(transform.RawJSON)
	return v, ok
}

// formatSSEWithEvent renders an Anthropic/Response-API-style named frame.
func formatSSEWithEvent(event string, data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal SSE payload for event %s: %w", event, err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, string(b)), nil
}

// formatSSEBare renders an OpenAI/Gemini-style unnamed frame.
func formatSSEBare(data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal SSE payload: %w", err)
	}
	return fmt.Sprintf("data: %s\n\n", string(b)), nil
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func toMap(v any) (transform.RawJSON, bool) {
	m, ok := v.(transform.RawJSON)
	return m, ok
}

// decodeJSONString unmarshals a JSON-object-shaped string into a RawJSON
// map, tolerating empty input (returns an empty map).
func decodeJSONString(s string) (transform.RawJSON, error) {
	if strings.TrimSpace(s) == "" {
		return transform.RawJSON{}, nil
	}
	var out transform.RawJSON
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeJSONString(m any) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// commonPrefixLen returns the length of the longest common prefix of a and
// b.
func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

var stopReasonToAnthropic = map[uif.StopReason]string{
	uif.StopEndTurn:       "end_turn",
	uif.StopMaxTokens:     "max_tokens",
	uif.StopLength:        "max_tokens",
	uif.StopStopSequence:  "stop_sequence",
	uif.StopToolUse:       "tool_use",
	uif.StopContentFilter: "end_turn",
}

var anthropicToStopReason = map[string]uif.StopReason{
	"end_turn":      uif.StopEndTurn,
	"max_tokens":    uif.StopMaxTokens,
	"stop_sequence": uif.StopStopSequence,
	"tool_use":      uif.StopToolUse,
}

var stopReasonToOpenAI = map[uif.StopReason]string{
	uif.StopEndTurn:       "stop",
	uif.StopMaxTokens:     "length",
	uif.StopLength:        "length",
	uif.StopStopSequence:  "stop",
	uif.StopToolUse:       "tool_calls",
	uif.StopContentFilter: "content_filter",
}

var openAIToStopReason = map[string]uif.StopReason{
	"stop":           uif.StopEndTurn,
	"length":         uif.StopMaxTokens,
	"tool_calls":     uif.StopToolUse,
	"function_call":  uif.StopToolUse,
	"content_filter": uif.StopContentFilter,
	"":               uif.StopEndTurn,
}
