package protocols

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Davincible/claude-code-open/internal/transform"
	"github.com/Davincible/claude-code-open/internal/uif"
)

// ResponseAPITransformer implements OpenAI's Response API: "input" instead
// of "messages", a top-level "instructions" instead of a system message,
// "max_output_tokens" instead of "max_tokens", and an "output" array of
// typed items instead of a single message.
type ResponseAPITransformer struct{}

func NewResponseAPITransformer() *ResponseAPITransformer { return &ResponseAPITransformer{} }

func (t *ResponseAPITransformer) Protocol() uif.Protocol { return uif.ProtocolResponseAPI }

func (t *ResponseAPITransformer) CanHandle(raw transform.RawJSON) bool {
	_, hasInput := raw["input"]
	_, hasInstructions := raw["instructions"]
	_, hasMaxOutput := raw["max_output_tokens"]
	return hasInput && (hasInstructions || hasMaxOutput)
}

var builtinToolDowngradeOnce sync.Once

// downgradeWarning logs once per process that a Response API builtin tool
// type has no Chat Completions equivalent and is being carried through on
// the UIF ToolType as-is rather than silently dropped or coerced to
// "function". See the Open Question resolution this implements.
func downgradeWarning(toolType uif.ToolType) {
	builtinToolDowngradeOnce.Do(func() {
		slog.Warn("response_api: builtin tool type has no Chat Completions equivalent, preserving on UIF ToolType",
			"tool_type", toolType)
	})
}

// ---- request_out: Response API wire -> UIF ----

func (t *ResponseAPITransformer) RequestOut(raw transform.RawJSON) (*uif.UnifiedRequest, error) {
	req := &uif.UnifiedRequest{
		Model:          str(raw, "model"),
		ClientProtocol: uif.ProtocolResponseAPI,
		Parameters:     uif.UnifiedParameters{Extra: map[string]any{}},
		System:         str(raw, "instructions"),
	}

	switch input := raw["input"].(type) {
	case string:
		req.Messages = append(req.Messages, uif.UnifiedMessage{Role: uif.RoleUser, Content: []uif.UnifiedContent{uif.NewText(input)}})
	case []any:
		for _, item := range input {
			im, ok := toMap(item)
			if !ok {
				continue
			}
			req.Messages = append(req.Messages, responseAPIItemToUIF(im))
		}
	}

	if tools, ok := sliceVal(raw, "tools"); ok {
		for _, tl := range tools {
			tm, ok := toMap(tl)
			if !ok {
				continue
			}
			tool := uif.UnifiedTool{Name: str(tm, "name"), Description: str(tm, "description")}
			switch str(tm, "type") {
			case "function":
				tool.ToolType = uif.ToolTypeFunction
				schema, _ := mapVal(tm, "parameters")
				tool.InputSchema = schema
			case "computer_use_preview":
				tool.ToolType = uif.ToolTypeComputerUsePreview
			case "web_search_preview":
				tool.ToolType = uif.ToolTypeWebSearchPreview
			case "file_search":
				tool.ToolType = uif.ToolTypeFileSearch
			default:
				tool.ToolType = uif.ToolTypeFunction
			}
			req.Tools = append(req.Tools, tool)
		}
	}

	req.ToolChoice = openaiToolChoiceToUIF(raw["tool_choice"])

	if v, ok := intVal(raw, "max_output_tokens"); ok {
		req.Parameters.MaxTokens = &v
	}
	if v, ok := num(raw, "temperature"); ok {
		req.Parameters.Temperature = &v
	}
	if v, ok := num(raw, "top_p"); ok {
		req.Parameters.TopP = &v
	}
	if stream, ok := raw["stream"].(bool); ok {
		req.Parameters.Stream = stream
	}

	for _, k := range []string{"model", "input", "instructions", "tools", "tool_choice", "max_output_tokens", "temperature", "top_p", "stream"} {
		delete(raw, k)
	}
	for k, v := range raw {
		req.Parameters.Extra[k] = v
	}

	return req, nil
}

func responseAPIItemToUIF(item transform.RawJSON) uif.UnifiedMessage {
	itemType := str(item, "type")

	switch itemType {
	case "function_call":
		args, _ := decodeJSONString(str(item, "arguments"))
		return uif.UnifiedMessage{Role: uif.RoleAssistant, Content: []uif.UnifiedContent{
			uif.NewToolUse(str(item, "call_id"), str(item, "name"), args),
		}}
	case "function_call_output":
		out := str(item, "output")
		return uif.UnifiedMessage{Role: uif.RoleUser, Content: []uif.UnifiedContent{
			uif.NewToolResultText(str(item, "call_id"), out, false),
		}}
	default:
		// "message" item: role + content[] of input_text/output_text/
		// input_image, mirroring Chat Completions' content parts.
		role := str(item, "role")
		msg := uif.UnifiedMessage{Role: uif.Role(role)}
		switch content := item["content"].(type) {
		case string:
			msg.Content = append(msg.Content, uif.NewText(content))
		case []any:
			for _, c := range content {
				block, ok := toMap(c)
				if !ok {
					continue
				}
				switch str(block, "type") {
				case "input_text", "output_text":
					msg.Content = append(msg.Content, uif.NewText(str(block, "text")))
				case "input_image":
					msg.Content = append(msg.Content, openaiImageURLToUIF(str(block, "image_url")))
				}
			}
		}
		return msg
	}
}

// ---- request_in: UIF -> Response API wire ----

func (t *ResponseAPITransformer) RequestIn(req *uif.UnifiedRequest) (transform.RawJSON, error) {
	out := transform.RawJSON{
		"model": req.Model,
		"input": responseAPIInputFromUIF(req.Messages),
	}
	if req.System != "" {
		out["instructions"] = req.System
	}
	if req.Parameters.MaxTokens != nil {
		out["max_output_tokens"] = *req.Parameters.MaxTokens
	}
	if req.Parameters.Temperature != nil {
		out["temperature"] = *req.Parameters.Temperature
	}
	if req.Parameters.TopP != nil {
		out["top_p"] = *req.Parameters.TopP
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
			switch tl.ToolType {
			case uif.ToolTypeFunction:
				tools = append(tools, transform.RawJSON{
					"type": "function", "name": tl.Name, "description": tl.Description, "parameters": tl.InputSchema,
				})
			case uif.ToolTypeComputerUsePreview, uif.ToolTypeWebSearchPreview, uif.ToolTypeFileSearch:
				downgradeWarning(tl.ToolType)
				tools = append(tools, transform.RawJSON{"type": string(tl.ToolType)})
			default:
				tools = append(tools, transform.RawJSON{
					"type": "function", "name": tl.Name, "description": tl.Description, "parameters": tl.InputSchema,
				})
			}
		}
		out["tools"] = tools
	}

	if req.ToolChoice != nil {
		out["tool_choice"] = openaiToolChoiceFromUIF(req.ToolChoice)
	}

	return out, nil
}

func responseAPIInputFromUIF(messages []uif.UnifiedMessage) []any {
	var out []any
	for _, m := range messages {
		var textParts []any
		for _, c := range m.Content {
			switch c.Type {
			case uif.ContentText:
				textParts = append(textParts, transform.RawJSON{"type": "input_text", "text": c.Text.Text})
			case uif.ContentToolUse:
				out = append(out, transform.RawJSON{
					"type": "function_call", "call_id": c.ToolUse.ID, "name": c.ToolUse.Name,
					"arguments": encodeJSONString(c.ToolUse.Input),
				})
			case uif.ContentToolResult:
				content := c.ToolResult.ContentText
				if c.ToolResult.ContentJSON != nil {
					content = encodeJSONString(c.ToolResult.ContentJSON)
				}
				out = append(out, transform.RawJSON{"type": "function_call_output", "call_id": c.ToolResult.ToolUseID, "output": content})
			}
		}
		if len(textParts) > 0 {
			out = append(out, transform.RawJSON{"role": string(m.Role), "content": textParts})
		}
	}
	return out
}

// ---- response_in: Response API wire -> UIF ----

func (t *ResponseAPITransformer) ResponseIn(raw transform.RawJSON, originalModel string) (*uif.UnifiedResponse, error) {
	resp := &uif.UnifiedResponse{ID: str(raw, "id"), Model: str(raw, "model")}
	if resp.Model == "" {
		resp.Model = originalModel
	}

	if output, ok := sliceVal(raw, "output"); ok {
		for _, item := range output {
			im, ok := toMap(item)
			if !ok {
				continue
			}
			switch str(im, "type") {
			case "message":
				if content, ok := sliceVal(im, "content"); ok {
					for _, c := range content {
						block, ok := toMap(c)
						if !ok {
							continue
						}
						if str(block, "type") == "output_text" {
							resp.Content = append(resp.Content, uif.NewText(str(block, "text")))
						}
					}
				}
			case "function_call":
				args, _ := decodeJSONString(str(im, "arguments"))
				uc := uif.NewToolUse(str(im, "call_id"), str(im, "name"), args)
				resp.Content = append(resp.Content, uc)
				resp.ToolCalls = append(resp.ToolCalls, uif.UnifiedToolCall{ID: uc.ToolUse.ID, Name: uc.ToolUse.Name, Arguments: args})
			case "reasoning":
				if summary, ok := sliceVal(im, "summary"); ok {
					var parts []string
					for _, s := range summary {
						sm, ok := toMap(s)
						if !ok {
							continue
						}
						parts = append(parts, str(sm, "text"))
					}
					resp.Content = append(resp.Content, uif.NewThinking(strings.Join(parts, "\n"), ""))
				}
			}
		}
	}

	resp.StopReason = responseAPIStatusToStopReason(str(raw, "status"), len(resp.ToolCalls) > 0)

	if usage, ok := mapVal(raw, "usage"); ok {
		resp.Usage = responseAPIUsageToUIF(usage)
	}

	return resp, nil
}

func responseAPIStatusToStopReason(status string, hasToolCalls bool) uif.StopReason {
	if hasToolCalls {
		return uif.StopToolUse
	}
	switch status {
	case "incomplete":
		return uif.StopMaxTokens
	default:
		return uif.StopEndTurn
	}
}

func responseAPIUsageToUIF(usage transform.RawJSON) uif.UnifiedUsage {
	out := uif.UnifiedUsage{}
	if v, ok := intVal(usage, "input_tokens"); ok {
		out.InputTokens = v
	}
	if v, ok := intVal(usage, "output_tokens"); ok {
		out.OutputTokens = v
	}
	if details, ok := mapVal(usage, "input_tokens_details"); ok {
		if v, ok := intVal(details, "cached_tokens"); ok {
			out.CacheReadTokens = &v
		}
	}
	return out
}

// ---- response_out: UIF -> Response API wire ----

func (t *ResponseAPITransformer) ResponseOut(resp *uif.UnifiedResponse) (transform.RawJSON, error) {
	var output []any
	var textParts []any

	for _, c := range resp.Content {
		switch c.Type {
		case uif.ContentText:
			textParts = append(textParts, transform.RawJSON{"type": "output_text", "text": c.Text.Text, "annotations": []any{}})
		case uif.ContentToolUse:
			output = append(output, transform.RawJSON{
				"type": "function_call", "call_id": c.ToolUse.ID, "name": c.ToolUse.Name,
				"arguments": encodeJSONString(c.ToolUse.Input),
			})
		case uif.ContentThinking:
			if !c.Thinking.IsSignatureOnly() {
				output = append(output, transform.RawJSON{
					"type": "reasoning", "summary": []any{transform.RawJSON{"type": "summary_text", "text": c.Thinking.Text}},
				})
			}
		}
	}

	if len(textParts) > 0 {
		output = append([]any{transform.RawJSON{"type": "message", "role": "assistant", "content": textParts}}, output...)
	}

	status := "completed"
	if resp.StopReason == uif.StopMaxTokens || resp.StopReason == uif.StopLength {
		status = "incomplete"
	}

	return transform.RawJSON{
		"id":         resp.ID,
		"object":     "response",
		"created_at": time.Now().Unix(),
		"status":     status,
		"model":      resp.Model,
		"output":     output,
		"usage":      responseAPIUsageFromUIF(resp.Usage),
	}, nil
}

func responseAPIUsageFromUIF(u uif.UnifiedUsage) transform.RawJSON {
	out := transform.RawJSON{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"total_tokens":  u.InputTokens + u.OutputTokens,
	}
	if u.CacheReadTokens != nil {
		out["input_tokens_details"] = transform.RawJSON{"cached_tokens": *u.CacheReadTokens}
	}
	return out
}

// ---- streaming ----
//
// The Response API uses named SSE events (response.output_text.delta,
// response.function_call_arguments.delta, response.completed, ...), each
// carrying a monotonic "sequence_number" we don't need to track since the
// Pipeline serializes frame processing per session.

func (t *ResponseAPITransformer) StreamChunkIn(frame []byte, state *transform.StreamState) ([]uif.UnifiedStreamChunk, error) {
	raw, err := transform.DecodeRaw(frame)
	if err != nil {
		return nil, err
	}

	switch str(raw, "type") {
	case "response.created":
		resp, _ := mapVal(raw, "response")
		state.MessageStartSent = true
		state.MessageID = str(resp, "id")
		state.Model = str(resp, "model")
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkMessageStart, Message: &uif.UnifiedResponse{ID: state.MessageID, Model: state.Model}}}, nil

	case "response.output_item.added":
		item, _ := mapVal(raw, "item")
		outputIndex, _ := intVal(raw, "output_index")
		switch str(item, "type") {
		case "message":
			return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkContentBlockStart, Index: outputIndex, ContentBlock: ptrText("")}}, nil
		case "function_call":
			block := state.blockFor(outputIndex)
			block.ToolCallID = str(item, "call_id")
			block.ToolName = str(item, "name")
			uc := uif.NewToolUse(block.ToolCallID, block.ToolName, transform.RawJSON{})
			return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkContentBlockStart, Index: outputIndex, ContentBlock: &uc}}, nil
		default:
			return nil, nil
		}

	case "response.output_text.delta":
		outputIndex, _ := intVal(raw, "output_index")
		d := uif.NewText(str(raw, "delta"))
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkContentBlockDelta, Index: outputIndex, Delta: &d}}, nil

	case "response.function_call_arguments.delta":
		outputIndex, _ := intVal(raw, "output_index")
		d := uif.NewToolInputDelta(outputIndex, str(raw, "delta"))
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkContentBlockDelta, Index: outputIndex, Delta: &d}}, nil

	case "response.output_item.done":
		outputIndex, _ := intVal(raw, "output_index")
		return []uif.UnifiedStreamChunk{{ChunkType: uif.ChunkContentBlockStop, Index: outputIndex}}, nil

	case "response.completed", "response.incomplete", "response.done":
		resp, _ := mapVal(raw, "response")
		var usage *uif.UnifiedUsage
		if u, ok := mapVal(resp, "usage"); ok {
			uu := responseAPIUsageToUIF(u)
			usage = &uu
		}
		sr := uif.StopEndTurn
		if str(raw, "type") == "response.incomplete" {
			sr = uif.StopMaxTokens
		}
		state.Done = true
		return []uif.UnifiedStreamChunk{
			{ChunkType: uif.ChunkMessageDelta, StopReason: &sr, Usage: usage},
			{ChunkType: uif.ChunkMessageStop},
		}, nil

	default:
		return nil, nil
	}
}

func ptrText(s string) *uif.UnifiedContent {
	c := uif.NewText(s)
	return &c
}

func (t *ResponseAPITransformer) StreamChunkOut(chunk uif.UnifiedStreamChunk, state *transform.StreamState) (string, error) {
	switch chunk.ChunkType {
	case uif.ChunkMessageStart:
		state.MessageID = chunk.Message.ID
		state.Model = chunk.Message.Model
		return formatSSEWithEvent("response.created", transform.RawJSON{
			"type": "response.created",
			"response": transform.RawJSON{
				"id": state.MessageID, "object": "response", "status": "in_progress", "model": state.Model, "output": []any{},
			},
		})

	case uif.ChunkContentBlockStart:
		item := transform.RawJSON{"type": "message", "role": "assistant", "content": []any{}}
		if chunk.ContentBlock.Type == uif.ContentToolUse {
			item = transform.RawJSON{
				"type": "function_call", "call_id": chunk.ContentBlock.ToolUse.ID, "name": chunk.ContentBlock.ToolUse.Name, "arguments": "",
			}
		}
		return formatSSEWithEvent("response.output_item.added", transform.RawJSON{
			"type": "response.output_item.added", "output_index": chunk.Index, "item": item,
		})

	case uif.ChunkContentBlockDelta:
		if chunk.Delta.Type == uif.ContentToolInputDelta {
			return formatSSEWithEvent("response.function_call_arguments.delta", transform.RawJSON{
				"type": "response.function_call_arguments.delta", "output_index": chunk.Index, "delta": chunk.Delta.ToolInputDelta.PartialJSON,
			})
		}
		return formatSSEWithEvent("response.output_text.delta", transform.RawJSON{
			"type": "response.output_text.delta", "output_index": chunk.Index, "delta": chunk.Delta.Text.Text,
		})

	case uif.ChunkContentBlockStop:
		return formatSSEWithEvent("response.output_item.done", transform.RawJSON{
			"type": "response.output_item.done", "output_index": chunk.Index,
		})

	case uif.ChunkMessageDelta:
		return "", nil

	case uif.ChunkMessageStop:
		payload := transform.RawJSON{
			"id": state.MessageID, "object": "response", "status": "completed", "model": state.Model,
		}
		return formatSSEWithEvent("response.completed", transform.RawJSON{"type": "response.completed", "response": payload})

	default:
		return "", nil
	}
}
