package uif

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors_SetDiscriminatorAndPayload(t *testing.T) {
	text := NewText("hello")
	assert.Equal(t, ContentText, text.Type)
	a := assert.New(t)
	a.NotNil(text.Text)
	a.Equal("hello", text.Text.Text)

	thinking := NewThinking("because", "sig-1")
	assert.Equal(t, ContentThinking, thinking.Type)
	assert.Equal(t, "because", thinking.Thinking.Text)
	assert.Equal(t, "sig-1", thinking.Thinking.Signature)

	toolUse := NewToolUse("call-1", "search", map[string]any{"q": "go"})
	assert.Equal(t, ContentToolUse, toolUse.Type)
	assert.Equal(t, "call-1", toolUse.ToolUse.ID)
	assert.Equal(t, "search", toolUse.ToolUse.Name)

	toolResult := NewToolResultText("call-1", "42", false)
	assert.Equal(t, ContentToolResult, toolResult.Type)
	assert.Equal(t, "42", toolResult.ToolResult.ContentText)
	assert.False(t, toolResult.ToolResult.IsError)

	delta := NewToolInputDelta(2, `{"q":`)
	assert.Equal(t, ContentToolInputDelta, delta.Type)
	assert.Equal(t, 2, delta.ToolInputDelta.Index)
}

func TestThinkingContent_IsSignatureOnly(t *testing.T) {
	signatureOnly := ThinkingContent{Text: "", Signature: "sig"}
	assert.True(t, signatureOnly.IsSignatureOnly())

	withText := ThinkingContent{Text: "reasoning", Signature: "sig"}
	assert.False(t, withText.IsSignatureOnly())

	empty := ThinkingContent{}
	assert.False(t, empty.IsSignatureOnly(), "an entirely empty block is not signature-only")
}
