package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRectify_DropsThinkingBlocksAndSignatures(t *testing.T) {
	payload := RawJSON{
		"messages": []any{
			RawJSON{
				"role": "assistant",
				"content": []any{
					RawJSON{"type": "thinking", "text": "internal reasoning"},
					RawJSON{"type": "text", "text": "the answer", "signature": "sig-123"},
				},
			},
		},
	}

	Rectify(payload)

	msg := payload["messages"].([]any)[0].(RawJSON)
	content := msg["content"].([]any)
	require.Len(t, content, 1, "the thinking block should have been dropped")

	block := content[0].(RawJSON)
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "the answer", block["text"])
	_, hasSignature := block["signature"]
	assert.False(t, hasSignature, "signature should be stripped from surviving blocks")
}

func TestRectify_BlankTextBecomesPlaceholder(t *testing.T) {
	payload := RawJSON{
		"messages": []any{
			RawJSON{"role": "user", "content": []any{RawJSON{"type": "text", "text": "   "}}},
		},
	}

	Rectify(payload)

	block := payload["messages"].([]any)[0].(RawJSON)["content"].([]any)[0].(RawJSON)
	assert.Equal(t, ".", block["text"])
}

func TestRectify_EmptyAssistantContentGetsPlaceholderBlock(t *testing.T) {
	payload := RawJSON{
		"messages": []any{
			RawJSON{
				"role":    "assistant",
				"content": []any{RawJSON{"type": "thinking", "text": "only reasoning, nothing else"}},
			},
		},
	}

	Rectify(payload)

	content := payload["messages"].([]any)[0].(RawJSON)["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "text", content[0].(RawJSON)["type"])
	assert.Equal(t, ".", content[0].(RawJSON)["text"])
}

func TestRectify_DropsTopLevelThinkingWhenLastAssistantMessageUsesToolsWithoutThinking(t *testing.T) {
	payload := RawJSON{
		"thinking": RawJSON{"type": "enabled"},
		"messages": []any{
			RawJSON{
				"role": "assistant",
				"content": []any{
					RawJSON{"type": "tool_use", "id": "call-1", "name": "search"},
				},
			},
		},
	}

	Rectify(payload)

	_, hasThinking := payload["thinking"]
	assert.False(t, hasThinking, "top-level thinking should be dropped per rule 5")
}

func TestRectify_DropsTopLevelThinkingEvenWhenThinkingBlockWasFirst(t *testing.T) {
	payload := RawJSON{
		"thinking": RawJSON{"type": "enabled"},
		"messages": []any{
			RawJSON{
				"role": "assistant",
				"content": []any{
					RawJSON{"type": "thinking", "text": "reasoning first"},
					RawJSON{"type": "tool_use", "id": "call-1", "name": "search"},
				},
			},
		},
	}

	Rectify(payload)

	// rule 1 strips the thinking block from content before rule 5 inspects
	// the same (mutated) messages slice, so the surviving first block is
	// the tool_use regardless of the original ordering: thinking is dropped.
	_, hasThinking := payload["thinking"]
	assert.False(t, hasThinking)
}

func TestRectify_IsIdempotent(t *testing.T) {
	payload := RawJSON{
		"thinking": RawJSON{"type": "enabled"},
		"messages": []any{
			RawJSON{
				"role": "assistant",
				"content": []any{
					RawJSON{"type": "thinking", "text": "reasoning"},
					RawJSON{"type": "tool_use", "id": "call-1", "name": "search"},
				},
			},
		},
	}

	Rectify(payload)
	once := cloneRaw(payload)
	Rectify(payload)

	assert.Equal(t, once, payload)
}

func cloneRaw(in RawJSON) RawJSON {
	out := RawJSON{}
	for k, v := range in {
		out[k] = v
	}
	return out
}
