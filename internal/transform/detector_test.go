package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Davincible/claude-code-open/internal/uif"
)

func TestDetector_FromHeader(t *testing.T) {
	d := NewDetector()

	p, ok := d.DetectFromHeader(map[string][]string{"X-Protocol": {"Gemini"}})
	assert.True(t, ok)
	assert.Equal(t, uif.ProtocolGemini, p)

	p, ok = d.DetectFromHeader(map[string][]string{"x-protocol": {"claude"}})
	assert.True(t, ok)
	assert.Equal(t, uif.ProtocolAnthropic, p)

	_, ok = d.DetectFromHeader(map[string][]string{})
	assert.False(t, ok)

	_, ok = d.DetectFromHeader(map[string][]string{"x-protocol": {"unknown-vendor"}})
	assert.False(t, ok)
}

func TestDetector_FromPath(t *testing.T) {
	d := NewDetector()

	cases := map[string]uif.Protocol{
		"/v1/chat/completions":                       uif.ProtocolOpenAI,
		"/v1/responses":                               uif.ProtocolResponseAPI,
		"/v1/messages":                                uif.ProtocolAnthropic,
		"/v1/projects/p/models/gemini-1.5-pro":        uif.ProtocolGemini,
		"/v1/completions":                             uif.ProtocolOpenAI,
	}
	for path, want := range cases {
		got, ok := d.DetectFromPath(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}

	_, ok := d.DetectFromPath("/unrelated")
	assert.False(t, ok)
}

func TestDetector_Structural(t *testing.T) {
	d := NewDetector()

	anthropicShaped := RawJSON{
		"system":     "be helpful",
		"max_tokens": 100,
		"messages": []any{
			RawJSON{"role": "user", "content": []any{RawJSON{"type": "text", "text": "hi"}}},
		},
	}
	assert.Equal(t, uif.ProtocolAnthropic, d.DetectStructural(anthropicShaped))

	responseAPIShaped := RawJSON{"input": "hi", "max_output_tokens": 100}
	assert.Equal(t, uif.ProtocolResponseAPI, d.DetectStructural(responseAPIShaped))

	geminiShaped := RawJSON{"contents": []any{RawJSON{"role": "user", "parts": []any{}}}}
	assert.Equal(t, uif.ProtocolGemini, d.DetectStructural(geminiShaped))

	openAIShaped := RawJSON{"model": "gpt-4o", "messages": []any{RawJSON{"role": "user", "content": "hi"}}}
	assert.Equal(t, uif.ProtocolOpenAI, d.DetectStructural(openAIShaped))
}

func TestDetector_Detect_PriorityOrder(t *testing.T) {
	d := NewDetector()

	// A header hint should win even when the path and body both look like
	// something else entirely.
	geminiShapedButAnthropicPath := RawJSON{"contents": []any{}}
	got := d.Detect(geminiShapedButAnthropicPath, map[string][]string{"x-protocol": {"openai"}}, "/v1/messages")
	assert.Equal(t, uif.ProtocolOpenAI, got)

	// With no header, path should win over structure.
	got = d.Detect(RawJSON{"model": "x"}, nil, "/v1/messages")
	assert.Equal(t, uif.ProtocolAnthropic, got)

	// With neither header nor path, fall back to structural sniffing.
	got = d.Detect(RawJSON{"model": "x", "messages": []any{}}, nil, "/")
	assert.Equal(t, uif.ProtocolOpenAI, got)
}
