package transform

import "strings"

// Rectify sanitizes a provider-bound raw payload in place, repairing
// cross-protocol combinations no single upstream provider accepts. It is
// idempotent and order-preserving: Rectify(Rectify(x)) == Rectify(x).
//
// The five rules (grounded on the original implementation's
// sanitize_provider_payload, generalized from the teacher's
// RemoveFieldsRecursively field-stripping style):
//
//  1. Drop any message content block of type "thinking" or
//     "redacted_thinking".
//  2. Strip the "signature" field from surviving blocks.
//  3. Replace empty or whitespace-only text blocks with ".".
//  4. If an assistant message ends up with empty content, replace with
//     [{type:text,text:"."}].
//  5. Drop the top-level "thinking" config only when it is enabled AND the
//     last assistant message's first content block is not a thinking block
//     AND that message contains at least one tool-use block.
func Rectify(payload RawJSON) {
	messages, ok := payload["messages"].([]any)
	if ok {
		for _, m := range messages {
			msg, ok := m.(RawJSON)
			if !ok {
				continue
			}
			rectifyMessage(msg)
		}
	}

	if shouldDropTopLevelThinking(payload, messages) {
		delete(payload, "thinking")
	}
}

func rectifyMessage(msg RawJSON) {
	content, ok := msg["content"].([]any)
	if !ok {
		return
	}

	filtered := make([]any, 0, len(content))
	for _, c := range content {
		block, ok := c.(RawJSON)
		if !ok {
			filtered = append(filtered, c)
			continue
		}

		if t, _ := block["type"].(string); t == "thinking" || t == "redacted_thinking" {
			continue // rule 1
		}

		delete(block, "signature") // rule 2

		if t, _ := block["type"].(string); t == "text" {
			if text, ok := block["text"].(string); ok && strings.TrimSpace(text) == "" {
				block["text"] = "." // rule 3
			}
		}

		filtered = append(filtered, block)
	}

	if len(filtered) == 0 {
		if role, _ := msg["role"].(string); role == "assistant" {
			filtered = []any{RawJSON{"type": "text", "text": "."}} // rule 4
		}
	}

	msg["content"] = filtered
}

func shouldDropTopLevelThinking(payload RawJSON, messages []any) bool {
	thinking, ok := payload["thinking"].(RawJSON)
	if !ok {
		return false
	}
	if t, _ := thinking["type"].(string); t != "enabled" {
		return false
	}

	var lastAssistantContent []any
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(RawJSON)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role != "assistant" {
			continue
		}
		if content, ok := msg["content"].([]any); ok && len(content) > 0 {
			lastAssistantContent = content
		}
		break
	}

	if len(lastAssistantContent) == 0 {
		return false
	}

	first, ok := lastAssistantContent[0].(RawJSON)
	if ok {
		if t, _ := first["type"].(string); t == "thinking" || t == "redacted_thinking" {
			return false
		}
	}

	for _, c := range lastAssistantContent {
		block, ok := c.(RawJSON)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t == "tool_use" {
			return true
		}
	}

	return false
}
