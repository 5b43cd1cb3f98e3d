package protocols

import (
	"strings"
	"time"

	"github.com/Davincible/claude-code-open/internal/transform"
	"github.com/Davincible/claude-code-open/internal/uif"
)

// OpenAITransformer implements the OpenAI Chat Completions wire format.
type OpenAITransformer struct{}

func NewOpenAITransformer() *OpenAITransformer { return &OpenAITransformer{} }

func (t *OpenAITransformer) Protocol() uif.Protocol { return uif.ProtocolOpenAI }

func (t *OpenAITransformer) CanHandle(raw transform.RawJSON) bool {
	if _, hasSystem := raw["system"]; hasSystem {
		return false
	}
	if _, hasInput := raw["input"]; hasInput {
		return false
	}
	messages, ok := sliceVal(raw, "messages")
	if !ok {
		return false
	}
	for _, m := range messages {
		msg, ok := toMap(m)
		if !ok {
			continue
		}
		if _, hasToolCalls := msg["tool_calls"]; hasToolCalls {
			return true
		}
		if str(msg, "role") == "tool" {
			return true
		}
	}
	_, hasModel := raw["model"]
	return hasModel && len(messages) > 0
}

// ---- reasoning field extraction (4-channel redundancy) ----
//
// OpenAI-compatible providers surface model reasoning under any of several
// keys depending on vintage and vendor. We check them in a fixed priority
// order and, symmetrically, always emit under the first (most common) one,
// so a round trip through an unrelated provider never silently drops it.
var reasoningKeys = []string{"reasoning_content", "reasoning", "thinking", "thought"}

// thoughtSignatureSeparator joins a tool-call id to a piggybacked thought
// signature (gemini-3-via-litellm convention: some providers have no other
// channel to carry a signature alongside a tool call, so it rides the id).
const thoughtSignatureSeparator = "__thought__"

func extractOpenAIReasoning(msg transform.RawJSON) string {
	for _, k := range reasoningKeys {
		if v, ok := msg[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// extractOpenAISignatures recovers thought signatures from the four places
// an OpenAI-compatible provider may surface them, in priority order:
// thinking_blocks[].signature, provider_specific_fields.thought_signatures,
// tool_calls[].provider_specific_fields.thought_signature, and finally the
// __thought__-encoded suffix of a tool_calls[].id. Only the first channel
// that yields anything is used, mirroring the reasoning-text extraction
// above.
func extractOpenAISignatures(message transform.RawJSON) []string {
	if blocks, ok := sliceVal(message, "thinking_blocks"); ok {
		var sigs []string
		for _, b := range blocks {
			bm, ok := toMap(b)
			if !ok || str(bm, "type") != "thinking" {
				continue
			}
			if sig := str(bm, "signature"); sig != "" {
				sigs = append(sigs, sig)
			}
		}
		if len(sigs) > 0 {
			return sigs
		}
	}

	if psf, ok := mapVal(message, "provider_specific_fields"); ok {
		if rawSigs, ok := sliceVal(psf, "thought_signatures"); ok {
			var sigs []string
			for _, s := range rawSigs {
				if sv, ok := s.(string); ok && sv != "" {
					sigs = append(sigs, sv)
				}
			}
			if len(sigs) > 0 {
				return sigs
			}
		}
	}

	toolCalls, _ := sliceVal(message, "tool_calls")
	var sigs []string
	for _, tc := range toolCalls {
		tcm, ok := toMap(tc)
		if !ok {
			continue
		}
		if psf, ok := mapVal(tcm, "provider_specific_fields"); ok {
			if sig := str(psf, "thought_signature"); sig != "" {
				sigs = append(sigs, sig)
				continue
			}
		}
		if id := str(tcm, "id"); strings.Contains(id, thoughtSignatureSeparator) {
			if sig := id[strings.Index(id, thoughtSignatureSeparator)+len(thoughtSignatureSeparator):]; sig != "" {
				sigs = append(sigs, sig)
			}
		}
	}
	return sigs
}

// ---- request_out: OpenAI wire -> UIF ----

func (t *OpenAITransformer) RequestOut(raw transform.RawJSON) (*uif.UnifiedRequest, error) {
	req := &uif.UnifiedRequest{
		Model:          str(raw, "model"),
		ClientProtocol: uif.ProtocolOpenAI,
		Parameters:     uif.UnifiedParameters{Extra: map[string]any{}},
	}

	var systemParts []string

	if messages, ok := sliceVal(raw, "messages"); ok {
		for _, m := range messages {
			msg, ok := toMap(m)
			if !ok {
				continue
			}
			role := str(msg, "role")

			switch role {
			case "system", "developer":
				systemParts = append(systemParts, openaiContentToText(msg["content"]))
				continue
			case "tool":
				// Fold a standalone tool message into a synthetic user
				// message carrying a ToolResult block; OpenAI scatters
				// tool results as separate messages where the UIF (like
				// Anthropic) embeds them inline.
				block := uif.UnifiedContent{Type: uif.ContentToolResult, ToolResult: &uif.ToolResultContent{
					ToolUseID: str(msg, "tool_call_id"),
				}}
				switch cv := msg["content"].(type) {
				case string:
					block.ToolResult.ContentText = cv
				default:
					block.ToolResult.ContentJSON = cv
				}
				req.Messages = append(req.Messages, uif.UnifiedMessage{Role: uif.RoleUser, Content: []uif.UnifiedContent{block}})
				continue
			}

			out := uif.UnifiedMessage{Role: uif.Role(role)}

			if reasoning := extractOpenAIReasoning(msg); reasoning != "" {
				out.Content = append(out.Content, uif.NewThinking(reasoning, ""))
			}

			switch content := msg["content"].(type) {
			case string:
				if content != "" {
					out.Content = append(out.Content, uif.NewText(content))
				}
			case []any:
				for _, c := range content {
					block, ok := toMap(c)
					if !ok {
						continue
					}
					if uc, ok := openaiBlockToUIF(block); ok {
						out.Content = append(out.Content, uc)
					}
				}
			}

			if toolCalls, ok := sliceVal(msg, "tool_calls"); ok {
				for _, tc := range toolCalls {
					tcm, ok := toMap(tc)
					if !ok {
						continue
					}
					fn, _ := mapVal(tcm, "function")
					args, _ := decodeJSONString(str(fn, "arguments"))
					out.Content = append(out.Content, uif.NewToolUse(str(tcm, "id"), str(fn, "name"), args))
				}
			}

			req.Messages = append(req.Messages, out)
		}
	}

	req.System = strings.Join(systemParts, "\n")

	if tools, ok := sliceVal(raw, "tools"); ok {
		for _, tl := range tools {
			tm, ok := toMap(tl)
			if !ok {
				continue
			}
			fn, _ := mapVal(tm, "function")
			params, _ := mapVal(fn, "parameters")
			req.Tools = append(req.Tools, uif.UnifiedTool{
				Name:        str(fn, "name"),
				Description: str(fn, "description"),
				InputSchema: params,
				ToolType:    uif.ToolTypeFunction,
			})
		}
	}

	req.ToolChoice = openaiToolChoiceToUIF(raw["tool_choice"])

	if v, ok := intVal(raw, "max_tokens"); ok {
		req.Parameters.MaxTokens = &v
	} else if v, ok := intVal(raw, "max_completion_tokens"); ok {
		req.Parameters.MaxTokens = &v
	}
	if v, ok := num(raw, "temperature"); ok {
		req.Parameters.Temperature = &v
	}
	if v, ok := num(raw, "top_p"); ok {
		req.Parameters.TopP = &v
	}
	switch stop := raw["stop"].(type) {
	case string:
		req.Parameters.StopSequences = []string{stop}
	case []any:
		for _, s := range stop {
			if sv, ok := s.(string); ok {
				req.Parameters.StopSequences = append(req.Parameters.StopSequences, sv)
			}
		}
	}
	if stream, ok := raw["stream"].(bool); ok {
		req.Parameters.Stream = stream
	}

	for _, k := range []string{"model", "messages", "tools", "tool_choice", "max_tokens", "max_completion_tokens", "temperature", "top_p", "stop", "stream"} {
		delete(raw, k)
	}
	for k, v := range raw {
		req.Parameters.Extra[k] = v
	}

	return req, nil
}

func openaiContentToText(v any) string {
	switch cv := v.(type) {
	case string:
		return cv
	case []any:
		var parts []string
		for _, c := range cv {
			block, ok := toMap(c)
			if !ok {
				continue
			}
			if str(block, "type") == "text" {
				parts = append(parts, str(block, "text"))
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func openaiBlockToUIF(block transform.RawJSON) (uif.UnifiedContent, bool) {
	switch str(block, "type") {
	case "text":
		return uif.NewText(str(block, "text")), true
	case "image_url":
		imgURL, _ := mapVal(block, "image_url")
		return openaiImageURLToUIF(str(imgURL, "url")), true
	default:
		return uif.UnifiedContent{}, false
	}
}

func openaiImageURLToUIF(url string) uif.UnifiedContent {
	if strings.HasPrefix(url, "data:") {
		if idx := strings.Index(url, ";base64,"); idx >= 0 {
			mediaType := strings.TrimPrefix(url[:idx], "data:")
			data := url[idx+len(";base64,"):]
			return uif.UnifiedContent{Type: uif.ContentImage, Image: &uif.ImageContent{
				SourceType: uif.ImageSourceBase64, MediaType: mediaType, Data: data,
			}}
		}
	}
	return uif.UnifiedContent{Type: uif.ContentImage, Image: &uif.ImageContent{
		SourceType: uif.ImageSourceURL, Data: url,
	}}
}

func openaiToolChoiceToUIF(v any) *uif.ToolChoice {
	switch tc := v.(type) {
	case string:
		switch tc {
		case "auto":
			return &uif.ToolChoice{Type: uif.ToolChoiceAuto}
		case "none":
			return &uif.ToolChoice{Type: uif.ToolChoiceNone}
		case "required":
			return &uif.ToolChoice{Type: uif.ToolChoiceAny}
		}
		return nil
	case transform.RawJSON:
		fn, _ := mapVal(tc, "function")
		return &uif.ToolChoice{Type: uif.ToolChoiceTool, Name: str(fn, "name")}
	default:
		return nil
	}
}

// ---- request_in: UIF -> OpenAI wire ----

func (t *OpenAITransformer) RequestIn(req *uif.UnifiedRequest) (transform.RawJSON, error) {
	out := transform.RawJSON{
		"model":    req.Model,
		"messages": openaiMessagesFromUIF(req.System, req.Messages),
	}

	if req.Parameters.MaxTokens != nil {
		out["max_tokens"] = *req.Parameters.MaxTokens
	}
	if req.Parameters.Temperature != nil {
		out["temperature"] = *req.Parameters.Temperature
	}
	if req.Parameters.TopP != nil {
		out["top_p"] = *req.Parameters.TopP
	}
	if len(req.Parameters.StopSequences) > 0 {
		out["stop"] = toAnySlice(req.Parameters.StopSequences)
	}
	if req.Parameters.Stream {
		out["stream"] = true
	}
	for k, v := range req.Parameters.Extra {
		out[k] = v
	}

	if len(req.Tools) > 0 {
		tools := make([]any, 0, len(req.Tools))
		for _, tl := range req.Tools {
			if tl.ToolType != "" && tl.ToolType != uif.ToolTypeFunction {
				downgradeWarning(tl.ToolType)
			}
			tools = append(tools, transform.RawJSON{
				"type": "function",
				"function": transform.RawJSON{
					"name": tl.Name, "description": tl.Description, "parameters": tl.InputSchema,
				},
			})
		}
		out["tools"] = tools
	}

	if req.ToolChoice != nil {
		out["tool_choice"] = openaiToolChoiceFromUIF(req.ToolChoice)
	}

	return out, nil
}

func openaiToolChoiceFromUIF(tc *uif.ToolChoice) any {
	switch tc.Type {
	case uif.ToolChoiceAuto:
		return "auto"
	case uif.ToolChoiceNone:
		return "none"
	case uif.ToolChoiceAny:
		return "required"
	case uif.ToolChoiceTool:
		return transform.RawJSON{"type": "function", "function": transform.RawJSON{"name": tc.Name}}
	default:
		return "auto"
	}
}

func openaiMessagesFromUIF(system string, messages []uif.UnifiedMessage) []any {
	var out []any
	if system != "" {
		out = append(out, transform.RawJSON{"role": "system", "content": system})
	}

	for _, m := range messages {
		var textParts []string
		var contentParts []any
		hasImage := false
		var toolCalls []any
		var reasoning string
		var toolResultMessages []any

		for _, c := range m.Content {
			switch c.Type {
			case uif.ContentText:
				textParts = append(textParts, c.Text.Text)
				contentParts = append(contentParts, transform.RawJSON{"type": "text", "text": c.Text.Text})
			case uif.ContentThinking:
				if !c.Thinking.IsSignatureOnly() {
					reasoning = c.Thinking.Text
				}
			case uif.ContentToolUse:
				toolCalls = append(toolCalls, transform.RawJSON{
					"id": c.ToolUse.ID, "type": "function",
					"function": transform.RawJSON{"name": c.ToolUse.Name, "arguments": encodeJSONString(c.ToolUse.Input)},
				})
			case uif.ContentToolResult:
				content := c.ToolResult.ContentText
				if c.ToolResult.ContentJSON != nil {
					content = encodeJSONString(c.ToolResult.ContentJSON)
				}
				toolResultMessages = append(toolResultMessages, transform.RawJSON{
					"role": "tool", "tool_call_id": c.ToolResult.ToolUseID, "content": content,
				})
			case uif.ContentImage:
				url := c.Image.Data
				if c.Image.SourceType == uif.ImageSourceBase64 {
					url = "data:" + c.Image.MediaType + ";base64," + c.Image.Data
				}
				contentParts = append(contentParts, transform.RawJSON{"type": "image_url", "image_url": transform.RawJSON{"url": url}})
				hasImage = true
			}
		}

		// Tool messages go first so they stay adjacent to the assistant
		// message that issued the tool calls.
		out = append(out, toolResultMessages...)

		if len(textParts) > 0 || len(toolCalls) > 0 || reasoning != "" || hasImage {
			msg := transform.RawJSON{"role": string(m.Role)}
			if hasImage {
				msg["content"] = contentParts
			} else if len(textParts) > 0 {
				msg["content"] = strings.Join(textParts, "\n")
			} else {
				msg["content"] = nil
			}
			if reasoning != "" {
				msg[reasoningKeys[0]] = reasoning
			}
			if len(toolCalls) > 0 {
				msg["tool_calls"] = toolCalls
			}
			out = append(out, msg)
		}
	}

	return out
}

// ---- response_in: OpenAI wire -> UIF ----

func (t *OpenAITransformer) ResponseIn(raw transform.RawJSON, originalModel string) (*uif.UnifiedResponse, error) {
	resp := &uif.UnifiedResponse{ID: str(raw, "id"), Model: str(raw, "model")}
	if resp.Model == "" {
		resp.Model = originalModel
	}

	choices, _ := sliceVal(raw, "choices")
	if len(choices) == 0 {
		return resp, nil
	}
	choice, _ := toMap(choices[0])
	message, _ := mapVal(choice, "message")

	if reasoning := extractOpenAIReasoning(message); reasoning != "" {
		resp.Content = append(resp.Content, uif.NewThinking(reasoning, ""))
	}
	if text, ok := message["content"].(string); ok && text != "" {
		resp.Content = append(resp.Content, uif.NewText(text))
	}
	if toolCalls, ok := sliceVal(message, "tool_calls"); ok {
		for _, tc := range toolCalls {
			tcm, ok := toMap(tc)
			if !ok {
				continue
			}
			fn, _ := mapVal(tcm, "function")
			args, _ := decodeJSONString(str(fn, "arguments"))
			id := str(tcm, "id")
			if idx := strings.Index(id, thoughtSignatureSeparator); idx >= 0 {
				id = id[:idx]
			}
			uc := uif.NewToolUse(id, str(fn, "name"), args)
			resp.Content = append(resp.Content, uc)
			resp.ToolCalls = append(resp.ToolCalls, uif.UnifiedToolCall{ID: uc.ToolUse.ID, Name: uc.ToolUse.Name, Arguments: args})
		}
	}

	// thinking_blocks carries structured reasoning with a per-block
	// signature; provider_specific_fields.thought_signatures and the
	// tool-call id/provider_specific_fields channels are fallbacks used
	// only when no signature has surfaced yet, mirroring the reasoning
	// extraction's fixed-priority-channel approach.
	for _, sig := range extractOpenAISignatures(message) {
		resp.Content = append(resp.Content, uif.NewThinking("", sig))
	}

	if sr, ok := openAIToStopReason[str(choice, "finish_reason")]; ok {
		resp.StopReason = sr
	}

	if usage, ok := mapVal(raw, "usage"); ok {
		resp.Usage = openaiUsageToUIF(usage)
	}

	return resp, nil
}

func openaiUsageToUIF(usage transform.RawJSON) uif.UnifiedUsage {
	out := uif.UnifiedUsage{}
	if v, ok := intVal(usage, "prompt_tokens"); ok {
		out.InputTokens = v
	}
	if v, ok := intVal(usage, "completion_tokens"); ok {
		out.OutputTokens = v
	}
	if details, ok := mapVal(usage, "prompt_tokens_details"); ok {
		if v, ok := intVal(details, "cached_tokens"); ok {
			out.CacheReadTokens = &v
		}
	}
	return out
}

// ---- response_out: UIF -> OpenAI wire ----

func (t *OpenAITransformer) ResponseOut(resp *uif.UnifiedResponse) (transform.RawJSON, error) {
	var textParts []string
	var toolCalls []transform.RawJSON
	var reasoning string
	var thinkingBlocks []any
	var lastThinkingBlock transform.RawJSON
	var signatures []string

	for _, c := range resp.Content {
		switch c.Type {
		case uif.ContentText:
			textParts = append(textParts, c.Text.Text)
		case uif.ContentThinking:
			if c.Thinking.IsSignatureOnly() {
				signatures = append(signatures, c.Thinking.Signature)
				continue
			}
			reasoning = c.Thinking.Text
			block := transform.RawJSON{"type": "thinking", "thinking": c.Thinking.Text}
			thinkingBlocks = append(thinkingBlocks, block)
			lastThinkingBlock = block
		case uif.ContentToolUse:
			toolCalls = append(toolCalls, transform.RawJSON{
				"id": c.ToolUse.ID, "type": "function",
				"function": transform.RawJSON{"name": c.ToolUse.Name, "arguments": encodeJSONString(c.ToolUse.Input)},
			})
		}
	}

	// A signature-only block attaches to the most recent text-bearing
	// thinking block, matching litellm's thinking_blocks shape.
	if lastThinkingBlock != nil && len(signatures) > 0 {
		if _, has := lastThinkingBlock["signature"]; !has {
			lastThinkingBlock["signature"] = signatures[len(signatures)-1]
		}
	}

	// The last-seen signature rides along with every tool call: encoded
	// into the tool-call id via __thought__ (the only channel some
	// OpenAI-compatible clients preserve across a round trip) and set on
	// provider_specific_fields.thought_signature (the litellm-native one).
	if len(toolCalls) > 0 && len(signatures) > 0 {
		lastSig := signatures[len(signatures)-1]
		for _, tc := range toolCalls {
			id := str(tc, "id")
			if !strings.Contains(id, thoughtSignatureSeparator) {
				tc["id"] = id + thoughtSignatureSeparator + lastSig
			}
			tc["provider_specific_fields"] = transform.RawJSON{"thought_signature": lastSig}
		}
	}

	message := transform.RawJSON{"role": "assistant"}
	if len(textParts) > 0 {
		message["content"] = strings.Join(textParts, "\n")
	} else {
		message["content"] = nil
	}
	if reasoning != "" {
		message[reasoningKeys[0]] = reasoning
	}
	if len(thinkingBlocks) > 0 {
		message["thinking_blocks"] = thinkingBlocks
	}
	if len(signatures) > 0 {
		message["provider_specific_fields"] = transform.RawJSON{"thought_signatures": signatures}
	}
	if len(toolCalls) > 0 {
		wireToolCalls := make([]any, len(toolCalls))
		for i, tc := range toolCalls {
			wireToolCalls[i] = tc
		}
		message["tool_calls"] = wireToolCalls
	}

	finishReason := "stop"
	if fr, ok := stopReasonToOpenAI[resp.StopReason]; ok {
		finishReason = fr
	}

	return transform.RawJSON{
		"id":      resp.ID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   resp.Model,
		"choices": []any{transform.RawJSON{"index": 0, "message": message, "finish_reason": finishReason}},
		"usage":   openaiUsageFromUIF(resp.Usage),
	}, nil
}

func openaiUsageFromUIF(u uif.UnifiedUsage) transform.RawJSON {
	out := transform.RawJSON{
		"prompt_tokens":     u.InputTokens,
		"completion_tokens": u.OutputTokens,
		"total_tokens":      u.InputTokens + u.OutputTokens,
	}
	if u.CacheReadTokens != nil {
		out["prompt_tokens_details"] = transform.RawJSON{"cached_tokens": *u.CacheReadTokens}
	}
	return out
}

// ---- streaming ----

func (t *OpenAITransformer) StreamChunkIn(frame []byte, state *transform.StreamState) ([]uif.UnifiedStreamChunk, error) {
	if strings.TrimSpace(string(frame)) == "[DONE]" {
		state.Done = true
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkMessageStop}}, nil
	}

	raw, err := transform.DecodeRaw(frame)
	if err != nil {
		return nil, err
	}

	var chunks []uif.UnifiedStreamChunk

	if !state.MessageStartSent {
		state.MessageStartSent = true
		state.MessageID = str(raw, "id")
		state.Model = str(raw, "model")
		chunks = append(chunks, uif.UnifiedStreamChunk{
			ChunkType: uif.ChunkMessageStart,
			Message:   &uif.UnifiedResponse{ID: state.MessageID, Model: state.Model},
		})
	}

	choices, _ := sliceVal(raw, "choices")
	if len(choices) == 0 {
		if usage, ok := mapVal(raw, "usage"); ok {
			u := openaiUsageToUIF(usage)
			chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkMessageDelta, Usage: &u})
		}
		return chunks, nil
	}
	choice, _ := toMap(choices[0])
	delta, _ := mapVal(choice, "delta")

	if reasoning := extractOpenAIReasoning(delta); reasoning != "" {
		idx := openaiReasoningBlockIndex(state)
		chunks = append(chunks, openaiOpenBlockIfNeeded(state, idx, uif.ContentThinking)...)
		chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockDelta, Index: idx, Delta: &uif.UnifiedContent{
			Type: uif.ContentThinking, Thinking: &uif.ThinkingContent{Text: reasoning},
		}})
	}

	if text, ok := delta["content"].(string); ok && text != "" {
		chunks = append(chunks, openaiOpenBlockIfNeeded(state, 0, uif.ContentText)...)
		d := uif.NewText(text)
		chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockDelta, Index: 0, Delta: &d})
	}

	if toolCalls, ok := sliceVal(delta, "tool_calls"); ok {
		for _, tc := range toolCalls {
			tcm, ok := toMap(tc)
			if !ok {
				continue
			}
			wireIndex, _ := intVal(tcm, "index")
			idx := wireIndex + 1
			if idx < 1 {
				idx = 1
			}
			block := state.blockFor(idx)
			fn, _ := mapVal(tcm, "function")

			if !block.StartSent {
				block.StartSent = true
				block.ToolCallID = str(tcm, "id")
				block.ToolName = str(fn, "name")
				input := transform.RawJSON{}
				chunks = append(chunks, uif.UnifiedStreamChunk{
					ChunkType: uif.ChunkContentBlockStart, Index: idx,
					ContentBlock: &uif.UnifiedContent{Type: uif.ContentToolUse, ToolUse: &uif.ToolUseContent{
						ID: block.ToolCallID, Name: block.ToolName, Input: input,
					}},
				})
			}

			if args, ok := fn["arguments"].(string); ok && args != "" {
				d := uif.NewToolInputDelta(idx, args)
				chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockDelta, Index: idx, Delta: &d})
			}
		}
	}

	if fr, ok := choice["finish_reason"].(string); ok && fr != "" {
		for idx, b := range state.ContentBlocks {
			if b.StartSent && !b.StopSent {
				b.StopSent = true
				chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockStop, Index: idx})
			}
		}
		// The text block lives in ContentBlocks too, so the loop above has
		// already stopped it.
		state.TextBlockOpen = false
		sr := openAIToStopReason[fr]
		chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkMessageDelta, StopReason: &sr})
	}

	if usage, ok := mapVal(raw, "usage"); ok {
		u := openaiUsageToUIF(usage)
		chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkMessageDelta, Usage: &u})
	}

	return chunks, nil
}

func openaiReasoningBlockIndex(state *transform.StreamState) int {
	// Reasoning, when present, is always the first thing a model emits;
	// it keeps block 0 and pushes text to claim the next open index once
	// reasoning is in play. We track this via TextBlockIndex.
	if state.TextBlockIndex == 0 && !state.TextBlockOpen {
		return 0
	}
	return state.TextBlockIndex
}

func openaiOpenBlockIfNeeded(state *transform.StreamState, index int, typ uif.ContentType) []uif.UnifiedStreamChunk {
	block := state.blockFor(index)
	if block.StartSent {
		return nil
	}
	block.StartSent = true
	block.Type = typ
	var cb uif.UnifiedContent
	switch typ {
	case uif.ContentText:
		cb = uif.NewText("")
		state.TextBlockOpen = true
		state.TextBlockIndex = index
	case uif.ContentThinking:
		cb = uif.NewThinking("", "")
	}
	return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkContentBlockStart, Index: index, ContentBlock: &cb}}
}

func (t *OpenAITransformer) StreamChunkOut(chunk uif.UnifiedStreamChunk, state *transform.StreamState) (string, error) {
	switch chunk.ChunkType {
	case uif.ChunkMessageStart:
		state.MessageID = chunk.Message.ID
		state.Model = chunk.Message.Model
		return formatSSEBare(transform.RawJSON{
			"id": chunk.Message.ID, "object": "chat.completion.chunk", "created": time.Now().Unix(),
			"model": chunk.Message.Model,
			"choices": []any{transform.RawJSON{
				"index": 0, "delta": transform.RawJSON{"role": "assistant", "content": ""}, "finish_reason": nil,
			}},
		})

	case uif.ChunkContentBlockStart:
		if chunk.ContentBlock.Type == uif.ContentToolUse {
			block := state.blockFor(chunk.Index)
			block.ToolCallID = chunk.ContentBlock.ToolUse.ID
			block.ToolName = chunk.ContentBlock.ToolUse.Name
			delta := transform.RawJSON{"tool_calls": []any{transform.RawJSON{
				"index": chunk.Index - 1, "id": block.ToolCallID, "type": "function",
				"function": transform.RawJSON{"name": block.ToolName, "arguments": ""},
			}}}
			return openaiChunkFrame(state, delta)
		}
		return "", nil

	case uif.ChunkContentBlockDelta:
		return openaiDeltaFrame(chunk, state)

	case uif.ChunkContentBlockStop:
		return "", nil

	case uif.ChunkMessageDelta:
		if chunk.StopReason == nil {
			return "", nil
		}
		fr := "stop"
		if v, ok := stopReasonToOpenAI[*chunk.StopReason]; ok {
			fr = v
		}
		return formatSSEBare(transform.RawJSON{
			"id": state.MessageID, "object": "chat.completion.chunk", "created": time.Now().Unix(),
			"model":   state.Model,
			"choices": []any{transform.RawJSON{"index": 0, "delta": transform.RawJSON{}, "finish_reason": fr}},
		})

	case uif.ChunkMessageStop:
		return "data: [DONE]\n\n", nil

	case uif.ChunkPing:
		return "", nil

	default:
		return "", nil
	}
}

func openaiDeltaFrame(chunk uif.UnifiedStreamChunk, state *transform.StreamState) (string, error) {
	switch chunk.Delta.Type {
	case uif.ContentText:
		return openaiChunkFrame(state, transform.RawJSON{"content": chunk.Delta.Text.Text})
	case uif.ContentThinking:
		return openaiChunkFrame(state, transform.RawJSON{reasoningKeys[0]: chunk.Delta.Thinking.Text})
	case uif.ContentToolInputDelta:
		block := state.blockFor(chunk.Index)
		fragment := chunk.Delta.ToolInputDelta.PartialJSON
		block.Arguments += fragment
		return openaiChunkFrame(state, transform.RawJSON{"tool_calls": []any{transform.RawJSON{
			"index": chunk.Index - 1, "function": transform.RawJSON{"arguments": fragment},
		}}})
	default:
		return "", nil
	}
}

func openaiChunkFrame(state *transform.StreamState, delta transform.RawJSON) (string, error) {
	return formatSSEBare(transform.RawJSON{
		"id": state.MessageID, "object": "chat.completion.chunk", "created": time.Now().Unix(),
		"model":   state.Model,
		"choices": []any{transform.RawJSON{"index": 0, "delta": delta, "finish_reason": nil}},
	})
}
