package protocols

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Davincible/claude-code-open/internal/transform"
	"github.com/Davincible/claude-code-open/internal/uif"
)

// AnthropicTransformer implements the Anthropic Messages wire format. The
// same implementation backs the GcpVertex protocol tag: GCP-Vertex is
// structurally identical to Anthropic, differing only in the URL shape,
// which is the external dispatcher's concern.
type AnthropicTransformer struct {
	protocol uif.Protocol
}

func NewAnthropicTransformer() *AnthropicTransformer {
	return &AnthropicTransformer{protocol: uif.ProtocolAnthropic}
}

func NewGcpVertexTransformer() *AnthropicTransformer {
	return &AnthropicTransformer{protocol: uif.ProtocolGcpVertex}
}

func (t *AnthropicTransformer) Protocol() uif.Protocol { return t.protocol }

var billingHeaderPrefix = regexp.MustCompile(`(?is)^x-anthropic-billing-header:\s*`)

var bedrockModelPattern = regexp.MustCompile(`(?i)^claude-.*-bedrock$`)

func (t *AnthropicTransformer) CanHandle(raw transform.RawJSON) bool {
	_, hasSystem := raw["system"]
	_, hasMaxTokens := raw["max_tokens"]
	if hasSystem && hasMaxTokens {
		return true
	}
	if !hasMaxTokens {
		return false
	}
	if messages, ok := sliceVal(raw, "messages"); ok {
		for _, m := range messages {
			msg, ok := toMap(m)
			if !ok {
				continue
			}
			content, ok := sliceVal(msg, "content")
			if !ok {
				continue
			}
			for _, c := range content {
				block, ok := toMap(c)
				if !ok {
					continue
				}
				switch str(block, "type") {
				case "text", "image", "tool_use", "tool_result":
					return true
				}
			}
		}
	}
	return false
}

// ---- request_out: Anthropic wire -> UIF ----

func (t *AnthropicTransformer) RequestOut(raw transform.RawJSON) (*uif.UnifiedRequest, error) {
	req := &uif.UnifiedRequest{
		Model:          str(raw, "model"),
		ClientProtocol: t.protocol,
		Parameters:     uif.UnifiedParameters{Extra: map[string]any{}},
	}

	req.System = extractAnthropicSystem(raw["system"])

	if messages, ok := sliceVal(raw, "messages"); ok {
		for _, m := range messages {
			msg, ok := toMap(m)
			if !ok {
				continue
			}
			req.Messages = append(req.Messages, anthropicMessageToUIF(msg))
		}
	}

	if tools, ok := sliceVal(raw, "tools"); ok {
		for _, tl := range tools {
			tm, ok := toMap(tl)
			if !ok {
				continue
			}
			schema, _ := mapVal(tm, "input_schema")
			req.Tools = append(req.Tools, uif.UnifiedTool{
				Name:        str(tm, "name"),
				Description: str(tm, "description"),
				InputSchema: schema,
				ToolType:    uif.ToolTypeFunction,
			})
		}
	}

	if tc, ok := mapVal(raw, "tool_choice"); ok {
		req.ToolChoice = anthropicToolChoiceToUIF(tc)
	}

	applyCommonParameters(raw, &req.Parameters, "max_tokens")
	if stream, ok := raw["stream"].(bool); ok {
		req.Parameters.Stream = stream
	}

	for _, k := range []string{"model", "system", "messages", "tools", "tool_choice", "max_tokens", "temperature", "top_p", "top_k", "stop_sequences", "stream"} {
		delete(raw, k)
	}
	for k, v := range raw {
		req.Parameters.Extra[k] = v
	}

	return req, nil
}

func extractAnthropicSystem(v any) string {
	switch sv := v.(type) {
	case string:
		return stripBillingHeader(sv)
	case []any:
		var parts []string
		for _, b := range sv {
			block, ok := b.(transform.RawJSON)
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok {
				parts = append(parts, stripBillingHeader(text))
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func stripBillingHeader(s string) string {
	return billingHeaderPrefix.ReplaceAllString(s, "")
}

func anthropicMessageToUIF(msg transform.RawJSON) uif.UnifiedMessage {
	out := uif.UnifiedMessage{Role: uif.Role(str(msg, "role"))}

	switch content := msg["content"].(type) {
	case string:
		out.Content = append(out.Content, uif.NewText(content))
	case []any:
		for _, c := range content {
			block, ok := toMap(c)
			if !ok {
				continue
			}
			if uc, ok := anthropicBlockToUIF(block); ok {
				out.Content = append(out.Content, uc)
			}
		}
	}

	return out
}

func anthropicBlockToUIF(block transform.RawJSON) (uif.UnifiedContent, bool) {
	switch str(block, "type") {
	case "text":
		return uif.NewText(str(block, "text")), true
	case "image":
		src, _ := mapVal(block, "source")
		return uif.UnifiedContent{Type: uif.ContentImage, Image: &uif.ImageContent{
			SourceType: uif.ImageSourceType(str(src, "type")),
			MediaType:  str(src, "media_type"),
			Data:       str(src, "data"),
		}}, true
	case "tool_use":
		input, _ := mapVal(block, "input")
		return uif.NewToolUse(str(block, "id"), str(block, "name"), input), true
	case "tool_result":
		isError := boolVal(block, "is_error")
		switch cv := block["content"].(type) {
		case string:
			return uif.NewToolResultText(str(block, "tool_use_id"), cv, isError), true
		default:
			return uif.UnifiedContent{Type: uif.ContentToolResult, ToolResult: &uif.ToolResultContent{
				ToolUseID: str(block, "tool_use_id"), ContentJSON: cv, IsError: isError,
			}}, true
		}
	case "thinking", "redacted_thinking":
		return uif.NewThinking(str(block, "thinking"), str(block, "signature")), true
	default:
		return uif.UnifiedContent{}, false
	}
}

func anthropicToolChoiceToUIF(tc transform.RawJSON) *uif.ToolChoice {
	switch str(tc, "type") {
	case "auto":
		return &uif.ToolChoice{Type: uif.ToolChoiceAuto}
	case "none":
		return &uif.ToolChoice{Type: uif.ToolChoiceNone}
	case "any":
		return &uif.ToolChoice{Type: uif.ToolChoiceAny}
	case "tool":
		return &uif.ToolChoice{Type: uif.ToolChoiceTool, Name: str(tc, "name")}
	default:
		return nil
	}
}

func applyCommonParameters(raw transform.RawJSON, p *uif.UnifiedParameters, maxTokensKey string) {
	if v, ok := intVal(raw, maxTokensKey); ok {
		p.MaxTokens = &v
	}
	if v, ok := num(raw, "temperature"); ok {
		p.Temperature = &v
	}
	if v, ok := num(raw, "top_p"); ok {
		p.TopP = &v
	}
	if v, ok := intVal(raw, "top_k"); ok {
		p.TopK = &v
	}
	if ss, ok := sliceVal(raw, "stop_sequences"); ok {
		for _, s := range ss {
			if sv, ok := s.(string); ok {
				p.StopSequences = append(p.StopSequences, sv)
			}
		}
	}
}

// ---- request_in: UIF -> Anthropic wire ----

func (t *AnthropicTransformer) RequestIn(req *uif.UnifiedRequest) (transform.RawJSON, error) {
	out := transform.RawJSON{
		"model":    req.Model,
		"messages": anthropicMessagesFromUIF(req.Messages),
	}

	if req.System != "" {
		out["system"] = req.System
	}

	if req.Parameters.MaxTokens != nil {
		out["max_tokens"] = *req.Parameters.MaxTokens
	} else {
		out["max_tokens"] = 4096
	}
	if req.Parameters.Temperature != nil {
		out["temperature"] = *req.Parameters.Temperature
	}
	if req.Parameters.TopP != nil {
		out["top_p"] = *req.Parameters.TopP
	}
	if req.Parameters.TopK != nil {
		out["top_k"] = *req.Parameters.TopK
	}
	if len(req.Parameters.StopSequences) > 0 {
		out["stop_sequences"] = toAnySlice(req.Parameters.StopSequences)
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
			tools = append(tools, transform.RawJSON{
				"name":         tl.Name,
				"description":  tl.Description,
				"input_schema": tl.InputSchema,
			})
		}
		out["tools"] = tools
	}

	if req.ToolChoice != nil {
		out["tool_choice"] = anthropicToolChoiceFromUIF(req.ToolChoice)
	}

	applyBedrockPlaceholderTool(req.Model, out)

	return out, nil
}

func applyBedrockPlaceholderTool(model string, out transform.RawJSON) {
	if !bedrockModelPattern.MatchString(model) {
		return
	}
	if _, hasTools := out["tools"]; hasTools {
		return
	}

	messages, _ := out["messages"].([]any)
	hasToolContent := false
	for _, m := range messages {
		msg, ok := toMap(m)
		if !ok {
			continue
		}
		content, ok := sliceVal(msg, "content")
		if !ok {
			continue
		}
		for _, c := range content {
			block, ok := toMap(c)
			if !ok {
				continue
			}
			if str(block, "type") == "tool_use" || str(block, "type") == "tool_result" {
				hasToolContent = true
			}
		}
	}

	if hasToolContent {
		out["tools"] = []any{transform.RawJSON{
			"name":         "_placeholder_tool",
			"description":  "placeholder tool injected for Bedrock tool-content compatibility",
			"input_schema": transform.RawJSON{"type": "object", "properties": transform.RawJSON{}},
		}}
	}
}

func anthropicToolChoiceFromUIF(tc *uif.ToolChoice) transform.RawJSON {
	switch tc.Type {
	case uif.ToolChoiceAuto:
		return transform.RawJSON{"type": "auto"}
	case uif.ToolChoiceNone:
		return transform.RawJSON{"type": "none"}
	case uif.ToolChoiceAny:
		return transform.RawJSON{"type": "any"}
	case uif.ToolChoiceTool:
		return transform.RawJSON{"type": "tool", "name": tc.Name}
	default:
		return transform.RawJSON{"type": "auto"}
	}
}

func anthropicMessagesFromUIF(messages []uif.UnifiedMessage) []any {
	out := make([]any, 0, len(messages))
	for _, m := range messages {
		content := make([]any, 0, len(m.Content))
		for _, c := range m.Content {
			if b, ok := uifBlockToAnthropic(c); ok {
				content = append(content, b)
			}
		}
		out = append(out, transform.RawJSON{
			"role":    string(m.Role),
			"content": content,
		})
	}
	return out
}

func uifBlockToAnthropic(c uif.UnifiedContent) (transform.RawJSON, bool) {
	switch c.Type {
	case uif.ContentText:
		return transform.RawJSON{"type": "text", "text": c.Text.Text}, true
	case uif.ContentImage:
		return transform.RawJSON{"type": "image", "source": transform.RawJSON{
			"type": string(c.Image.SourceType), "media_type": c.Image.MediaType, "data": c.Image.Data,
		}}, true
	case uif.ContentToolUse:
		return transform.RawJSON{"type": "tool_use", "id": c.ToolUse.ID, "name": c.ToolUse.Name, "input": c.ToolUse.Input}, true
	case uif.ContentToolResult:
		block := transform.RawJSON{"type": "tool_result", "tool_use_id": c.ToolResult.ToolUseID, "is_error": c.ToolResult.IsError}
		if c.ToolResult.ContentJSON != nil {
			block["content"] = c.ToolResult.ContentJSON
		} else {
			block["content"] = c.ToolResult.ContentText
		}
		return block, true
	case uif.ContentThinking:
		block := transform.RawJSON{"type": "thinking", "thinking": c.Thinking.Text}
		if c.Thinking.Signature != "" {
			block["signature"] = c.Thinking.Signature
		}
		return block, true
	default:
		return nil, false
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ---- response_in: Anthropic wire -> UIF ----

func (t *AnthropicTransformer) ResponseIn(raw transform.RawJSON, originalModel string) (*uif.UnifiedResponse, error) {
	resp := &uif.UnifiedResponse{
		ID:    str(raw, "id"),
		Model: str(raw, "model"),
	}
	if resp.Model == "" {
		resp.Model = originalModel
	}

	if content, ok := sliceVal(raw, "content"); ok {
		for _, c := range content {
			block, ok := toMap(c)
			if !ok {
				continue
			}
			if uc, ok := anthropicBlockToUIF(block); ok {
				resp.Content = append(resp.Content, uc)
				if uc.Type == uif.ContentToolUse {
					resp.ToolCalls = append(resp.ToolCalls, uif.UnifiedToolCall{
						ID: uc.ToolUse.ID, Name: uc.ToolUse.Name, Arguments: uc.ToolUse.Input,
					})
				}
			}
		}
	}

	if sr, ok := anthropicToStopReason[str(raw, "stop_reason")]; ok {
		resp.StopReason = sr
	} else {
		resp.StopReason = uif.StopEndTurn
	}

	if usage, ok := mapVal(raw, "usage"); ok {
		resp.Usage = anthropicUsageToUIF(usage)
	}

	return resp, nil
}

func anthropicUsageToUIF(usage transform.RawJSON) uif.UnifiedUsage {
	out := uif.UnifiedUsage{}
	if v, ok := intVal(usage, "input_tokens"); ok {
		out.InputTokens = v
	}
	if v, ok := intVal(usage, "output_tokens"); ok {
		out.OutputTokens = v
	}
	if v, ok := intVal(usage, "cache_read_input_tokens"); ok {
		out.CacheReadTokens = &v
	}
	if v, ok := intVal(usage, "cache_creation_input_tokens"); ok {
		out.CacheWriteTokens = &v
	}
	return out
}

// ---- response_out: UIF -> Anthropic wire ----

func (t *AnthropicTransformer) ResponseOut(resp *uif.UnifiedResponse) (transform.RawJSON, error) {
	content := make([]any, 0, len(resp.Content))
	for _, c := range resp.Content {
		if b, ok := uifBlockToAnthropic(c); ok {
			content = append(content, b)
		}
	}

	out := transform.RawJSON{
		"id":      resp.ID,
		"type":    "message",
		"role":    "assistant",
		"model":   resp.Model,
		"content": content,
		"usage":   anthropicUsageFromUIF(resp.Usage),
	}
	if sr, ok := stopReasonToAnthropic[resp.StopReason]; ok {
		out["stop_reason"] = sr
	}
	return out, nil
}

func anthropicUsageFromUIF(u uif.UnifiedUsage) transform.RawJSON {
	out := transform.RawJSON{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
	}
	if u.CacheReadTokens != nil {
		out["cache_read_input_tokens"] = *u.CacheReadTokens
	}
	if u.CacheWriteTokens != nil {
		out["cache_creation_input_tokens"] = *u.CacheWriteTokens
	}
	return out
}

// ---- streaming ----

func (t *AnthropicTransformer) StreamChunkIn(frame []byte, state *transform.StreamState) ([]uif.UnifiedStreamChunk, error) {
	raw, err := transform.DecodeRaw(frame)
	if err != nil {
		return nil, err
	}

	switch str(raw, "type") {
	case "message_start":
		msg, _ := mapVal(raw, "message")
		state.MessageID = str(msg, "id")
		state.Model = str(msg, "model")
		if usage, ok := mapVal(msg, "usage"); ok {
			state.InitialUsage = anthropicUsageToUIF(usage)
		}
		state.MessageStartSent = true
		return []uif.UnifiedStreamChunk{{
			ChunkType: uif.ChunkMessageStart,
			Message:   &uif.UnifiedResponse{ID: state.MessageID, Model: state.Model, Usage: state.InitialUsage},
		}}, nil

	case "content_block_start":
		index, _ := intVal(raw, "index")
		block, _ := mapVal(raw, "content_block")
		uc, _ := anthropicBlockToUIF(block)
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkContentBlockStart, Index: index, ContentBlock: &uc}}, nil

	case "content_block_delta":
		index, _ := intVal(raw, "index")
		delta, _ := mapVal(raw, "delta")
		uc := anthropicDeltaToUIF(delta)
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkContentBlockDelta, Index: index, Delta: &uc}}, nil

	case "content_block_stop":
		index, _ := intVal(raw, "index")
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkContentBlockStop, Index: index}}, nil

	case "message_delta":
		delta, _ := mapVal(raw, "delta")
		var sr *uif.StopReason
		if v, ok := anthropicToStopReason[str(delta, "stop_reason")]; ok {
			sr = &v
		}
		var usage *uif.UnifiedUsage
		if u, ok := mapVal(raw, "usage"); ok {
			uu := anthropicUsageToUIF(u)
			usage = &uu
		}
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkMessageDelta, StopReason: sr, Usage: usage}}, nil

	case "message_stop":
		state.Done = true
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkMessageStop}}, nil

	case "ping":
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkPing}}, nil

	default:
		return nil, nil
	}
}

func anthropicDeltaToUIF(delta transform.RawJSON) uif.UnifiedContent {
	switch str(delta, "type") {
	case "text_delta":
		return uif.NewText(str(delta, "text"))
	case "input_json_delta":
		return uif.NewToolInputDelta(0, str(delta, "partial_json"))
	case "thinking_delta":
		return uif.NewThinking(str(delta, "thinking"), "")
	case "signature_delta":
		return uif.NewThinking("", str(delta, "signature"))
	default:
		return uif.NewText("")
	}
}

func (t *AnthropicTransformer) StreamChunkOut(chunk uif.UnifiedStreamChunk, state *transform.StreamState) (string, error) {
	switch chunk.ChunkType {
	case uif.ChunkMessageStart:
		state.MessageStartSent = true
		msg := transform.RawJSON{
			"id": chunk.Message.ID, "type": "message", "role": "assistant",
			"model": chunk.Message.Model, "content": []any{}, "stop_reason": nil,
			"usage": anthropicUsageFromUIF(chunk.Message.Usage),
		}
		return formatSSEWithEvent("message_start", transform.RawJSON{"type": "message_start", "message": msg})

	case uif.ChunkContentBlockStart:
		block, _ := uifBlockToAnthropic(*chunk.ContentBlock)
		return formatSSEWithEvent("content_block_start", transform.RawJSON{
			"type": "content_block_start", "index": chunk.Index, "content_block": zeroedBlock(block),
		})

	case uif.ChunkContentBlockDelta:
		return formatSSEWithEvent("content_block_delta", transform.RawJSON{
			"type": "content_block_delta", "index": chunk.Index, "delta": uifDeltaToAnthropic(*chunk.Delta),
		})

	case uif.ChunkContentBlockStop:
		return formatSSEWithEvent("content_block_stop", transform.RawJSON{"type": "content_block_stop", "index": chunk.Index})

	case uif.ChunkMessageDelta:
		delta := transform.RawJSON{}
		if chunk.StopReason != nil {
			if sr, ok := stopReasonToAnthropic[*chunk.StopReason]; ok {
				delta["stop_reason"] = sr
			}
		}
		payload := transform.RawJSON{"type": "message_delta", "delta": delta}
		if chunk.Usage != nil {
			payload["usage"] = anthropicUsageFromUIF(*chunk.Usage)
		}
		return formatSSEWithEvent("message_delta", payload)

	case uif.ChunkMessageStop:
		return formatSSEWithEvent("message_stop", transform.RawJSON{"type": "message_stop"})

	case uif.ChunkPing:
		return formatSSEWithEvent("ping", transform.RawJSON{"type": "ping"})

	default:
		return "", fmt.Errorf("anthropic stream_chunk_out: unknown chunk type %q", chunk.ChunkType)
	}
}

// zeroedBlock clears text/input fields on a content_block_start payload,
// matching Anthropic's wire convention of announcing an empty block that
// subsequent deltas fill in.
func zeroedBlock(block transform.RawJSON) transform.RawJSON {
	switch block["type"] {
	case "text":
		block["text"] = ""
	case "tool_use":
		block["input"] = transform.RawJSON{}
	case "thinking":
		block["thinking"] = ""
	}
	return block
}

func uifDeltaToAnthropic(c uif.UnifiedContent) transform.RawJSON {
	switch c.Type {
	case uif.ContentText:
		return transform.RawJSON{"type": "text_delta", "text": c.Text.Text}
	case uif.ContentToolInputDelta:
		return transform.RawJSON{"type": "input_json_delta", "partial_json": c.ToolInputDelta.PartialJSON}
	case uif.ContentThinking:
		if c.Thinking.IsSignatureOnly() {
			return transform.RawJSON{"type": "signature_delta", "signature": c.Thinking.Signature}
		}
		return transform.RawJSON{"type": "thinking_delta", "thinking": c.Thinking.Text}
	default:
		return transform.RawJSON{"type": "text_delta", "text": ""}
	}
}
