package protocols

import (
	"github.com/Davincible/claude-code-open/internal/transform"
	"github.com/Davincible/claude-code-open/internal/uif"
)

// GeminiTransformer implements Google Gemini's generateContent /
// streamGenerateContent wire format: "contents" instead of "messages",
// "parts" instead of content blocks, a top-level "systemInstruction", and
// camelCase everywhere.
type GeminiTransformer struct{}

func NewGeminiTransformer() *GeminiTransformer { return &GeminiTransformer{} }

func (t *GeminiTransformer) Protocol() uif.Protocol { return uif.ProtocolGemini }

func (t *GeminiTransformer) CanHandle(raw transform.RawJSON) bool {
	_, hasContents := raw["contents"]
	_, hasGenConfig := raw["generationConfig"]
	_, hasSystemInstruction := raw["systemInstruction"]
	return hasContents && (hasGenConfig || hasSystemInstruction)
}

var geminiRoleToUIF = map[string]uif.Role{"user": uif.RoleUser, "model": uif.RoleAssistant}
var uifRoleToGemini = map[uif.Role]string{uif.RoleUser: "user", uif.RoleAssistant: "model", uif.RoleTool: "user"}

var geminiFinishToStopReason = map[string]uif.StopReason{
	"STOP":         uif.StopEndTurn,
	"MAX_TOKENS":   uif.StopMaxTokens,
	"SAFETY":       uif.StopContentFilter,
	"RECITATION":   uif.StopContentFilter,
	"OTHER":        uif.StopEndTurn,
}

var stopReasonToGeminiFinish = map[uif.StopReason]string{
	uif.StopEndTurn:       "STOP",
	uif.StopMaxTokens:     "MAX_TOKENS",
	uif.StopLength:        "MAX_TOKENS",
	uif.StopStopSequence:  "STOP",
	uif.StopToolUse:       "STOP",
	uif.StopContentFilter: "SAFETY",
}

// ---- request_out: Gemini wire -> UIF ----

func (t *GeminiTransformer) RequestOut(raw transform.RawJSON) (*uif.UnifiedRequest, error) {
	req := &uif.UnifiedRequest{
		Model:          str(raw, "model"),
		ClientProtocol: uif.ProtocolGemini,
		Parameters:     uif.UnifiedParameters{Extra: map[string]any{}},
	}

	if sysInst, ok := mapVal(raw, "systemInstruction"); ok {
		req.System = geminiPartsToText(sysInst["parts"])
	}

	if contents, ok := sliceVal(raw, "contents"); ok {
		for _, c := range contents {
			cm, ok := toMap(c)
			if !ok {
				continue
			}
			req.Messages = append(req.Messages, geminiContentToUIF(cm))
		}
	}

	if tools, ok := sliceVal(raw, "tools"); ok {
		for _, tl := range tools {
			tm, ok := toMap(tl)
			if !ok {
				continue
			}
			decls, _ := sliceVal(tm, "functionDeclarations")
			for _, d := range decls {
				dm, ok := toMap(d)
				if !ok {
					continue
				}
				schema, _ := mapVal(dm, "parameters")
				req.Tools = append(req.Tools, uif.UnifiedTool{
					Name: str(dm, "name"), Description: str(dm, "description"), InputSchema: schema, ToolType: uif.ToolTypeFunction,
				})
			}
		}
	}

	if tc, ok := mapVal(raw, "toolConfig"); ok {
		if fnc, ok := mapVal(tc, "functionCallingConfig"); ok {
			switch str(fnc, "mode") {
			case "AUTO":
				req.ToolChoice = &uif.ToolChoice{Type: uif.ToolChoiceAuto}
			case "NONE":
				req.ToolChoice = &uif.ToolChoice{Type: uif.ToolChoiceNone}
			case "ANY":
				req.ToolChoice = &uif.ToolChoice{Type: uif.ToolChoiceAny}
				if names, ok := sliceVal(fnc, "allowedFunctionNames"); ok && len(names) > 0 {
					if name, ok := names[0].(string); ok {
						req.ToolChoice = &uif.ToolChoice{Type: uif.ToolChoiceTool, Name: name}
					}
				}
			}
		}
	}

	if genConfig, ok := mapVal(raw, "generationConfig"); ok {
		if v, ok := intVal(genConfig, "maxOutputTokens"); ok {
			req.Parameters.MaxTokens = &v
		}
		if v, ok := num(genConfig, "temperature"); ok {
			req.Parameters.Temperature = &v
		}
		if v, ok := num(genConfig, "topP"); ok {
			req.Parameters.TopP = &v
		}
		if v, ok := intVal(genConfig, "topK"); ok {
			req.Parameters.TopK = &v
		}
		if ss, ok := sliceVal(genConfig, "stopSequences"); ok {
			for _, s := range ss {
				if sv, ok := s.(string); ok {
					req.Parameters.StopSequences = append(req.Parameters.StopSequences, sv)
				}
			}
		}
	}

	for _, k := range []string{"model", "contents", "systemInstruction", "tools", "toolConfig", "generationConfig"} {
		delete(raw, k)
	}
	for k, v := range raw {
		req.Parameters.Extra[k] = v
	}

	return req, nil
}

func geminiPartsToText(v any) string {
	parts, ok := v.([]any)
	if !ok {
		return ""
	}
	var out string
	for _, p := range parts {
		pm, ok := toMap(p)
		if !ok {
			continue
		}
		out += str(pm, "text")
	}
	return out
}

func geminiContentToUIF(cm transform.RawJSON) uif.UnifiedMessage {
	role, ok := geminiRoleToUIF[str(cm, "role")]
	if !ok {
		role = uif.RoleUser
	}
	msg := uif.UnifiedMessage{Role: role}

	parts, _ := sliceVal(cm, "parts")
	for _, p := range parts {
		pm, ok := toMap(p)
		if !ok {
			continue
		}
		if uc, ok := geminiPartToUIF(pm); ok {
			msg.Content = append(msg.Content, uc)
		}
	}
	return msg
}

func geminiPartToUIF(pm transform.RawJSON) (uif.UnifiedContent, bool) {
	if text, ok := pm["text"].(string); ok {
		if thought := boolVal(pm, "thought"); thought {
			sig := str(pm, "thoughtSignature")
			return uif.NewThinking(text, sig), true
		}
		return uif.NewText(text), true
	}
	if inline, ok := mapVal(pm, "inlineData"); ok {
		return uif.UnifiedContent{Type: uif.ContentImage, Image: &uif.ImageContent{
			SourceType: uif.ImageSourceBase64, MediaType: str(inline, "mimeType"), Data: str(inline, "data"),
		}}, true
	}
	if fc, ok := mapVal(pm, "functionCall"); ok {
		args, _ := mapVal(fc, "args")
		id := str(fc, "id")
		if id == "" {
			id = newID("call_")
		}
		return uif.NewToolUse(id, str(fc, "name"), args), true
	}
	if fr, ok := mapVal(pm, "functionResponse"); ok {
		response, _ := mapVal(fr, "response")
		id := str(fr, "id")
		if id == "" {
			id = str(fr, "name")
		}
		return uif.UnifiedContent{Type: uif.ContentToolResult, ToolResult: &uif.ToolResultContent{
			ToolUseID: id, ContentJSON: response,
		}}, true
	}
	return uif.UnifiedContent{}, false
}

// ---- request_in: UIF -> Gemini wire ----

func (t *GeminiTransformer) RequestIn(req *uif.UnifiedRequest) (transform.RawJSON, error) {
	out := transform.RawJSON{
		"contents": geminiContentsFromUIF(req.Messages),
	}
	if req.System != "" {
		out["systemInstruction"] = transform.RawJSON{"parts": []any{transform.RawJSON{"text": req.System}}}
	}

	genConfig := transform.RawJSON{}
	if req.Parameters.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.Parameters.MaxTokens
	}
	if req.Parameters.Temperature != nil {
		genConfig["temperature"] = *req.Parameters.Temperature
	}
	if req.Parameters.TopP != nil {
		genConfig["topP"] = *req.Parameters.TopP
	}
	if req.Parameters.TopK != nil {
		genConfig["topK"] = *req.Parameters.TopK
	}
	if len(req.Parameters.StopSequences) > 0 {
		genConfig["stopSequences"] = toAnySlice(req.Parameters.StopSequences)
	}
	if len(genConfig) > 0 {
		out["generationConfig"] = genConfig
	}
	for k, v := range req.Parameters.Extra {
		out[k] = v
	}

	if len(req.Tools) > 0 {
		decls := make([]any, 0, len(req.Tools))
		for _, tl := range req.Tools {
			decls = append(decls, transform.RawJSON{"name": tl.Name, "description": tl.Description, "parameters": tl.InputSchema})
		}
		out["tools"] = []any{transform.RawJSON{"functionDeclarations": decls}}
	}

	if req.ToolChoice != nil {
		fnc := transform.RawJSON{}
		switch req.ToolChoice.Type {
		case uif.ToolChoiceAuto:
			fnc["mode"] = "AUTO"
		case uif.ToolChoiceNone:
			fnc["mode"] = "NONE"
		case uif.ToolChoiceAny:
			fnc["mode"] = "ANY"
		case uif.ToolChoiceTool:
			fnc["mode"] = "ANY"
			fnc["allowedFunctionNames"] = []any{req.ToolChoice.Name}
		}
		out["toolConfig"] = transform.RawJSON{"functionCallingConfig": fnc}
	}

	return out, nil
}

func geminiContentsFromUIF(messages []uif.UnifiedMessage) []any {
	out := make([]any, 0, len(messages))
	for _, m := range messages {
		role, ok := uifRoleToGemini[m.Role]
		if !ok {
			role = "user"
		}
		parts := make([]any, 0, len(m.Content))
		for _, c := range m.Content {
			if p, ok := uifBlockToGemini(c); ok {
				parts = append(parts, p)
			}
		}
		out = append(out, transform.RawJSON{"role": role, "parts": parts})
	}
	return out
}

func uifBlockToGemini(c uif.UnifiedContent) (transform.RawJSON, bool) {
	switch c.Type {
	case uif.ContentText:
		return transform.RawJSON{"text": c.Text.Text}, true
	case uif.ContentImage:
		return transform.RawJSON{"inlineData": transform.RawJSON{"mimeType": c.Image.MediaType, "data": c.Image.Data}}, true
	case uif.ContentToolUse:
		return transform.RawJSON{"functionCall": transform.RawJSON{"id": c.ToolUse.ID, "name": c.ToolUse.Name, "args": c.ToolUse.Input}}, true
	case uif.ContentToolResult:
		content := c.ToolResult.ContentJSON
		if content == nil {
			content = transform.RawJSON{"result": c.ToolResult.ContentText}
		}
		return transform.RawJSON{"functionResponse": transform.RawJSON{"id": c.ToolResult.ToolUseID, "name": c.ToolResult.ToolUseID, "response": content}}, true
	case uif.ContentThinking:
		part := transform.RawJSON{"text": c.Thinking.Text, "thought": true}
		if c.Thinking.Signature != "" {
			part["thoughtSignature"] = c.Thinking.Signature
		}
		return part, true
	default:
		return nil, false
	}
}

// ---- response_in: Gemini wire -> UIF ----

func (t *GeminiTransformer) ResponseIn(raw transform.RawJSON, originalModel string) (*uif.UnifiedResponse, error) {
	resp := &uif.UnifiedResponse{ID: newID("gemini_"), Model: originalModel}

	candidates, _ := sliceVal(raw, "candidates")
	if len(candidates) == 0 {
		return resp, nil
	}
	cand, _ := toMap(candidates[0])
	content, _ := mapVal(cand, "content")
	parts, _ := sliceVal(content, "parts")
	for _, p := range parts {
		pm, ok := toMap(p)
		if !ok {
			continue
		}
		if uc, ok := geminiPartToUIF(pm); ok {
			resp.Content = append(resp.Content, uc)
			if uc.Type == uif.ContentToolUse {
				resp.ToolCalls = append(resp.ToolCalls, uif.UnifiedToolCall{ID: uc.ToolUse.ID, Name: uc.ToolUse.Name, Arguments: uc.ToolUse.Input})
			}
		}
	}

	if sr, ok := geminiFinishToStopReason[str(cand, "finishReason")]; ok {
		resp.StopReason = sr
	} else {
		resp.StopReason = uif.StopEndTurn
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = uif.StopToolUse
	}

	if usage, ok := mapVal(raw, "usageMetadata"); ok {
		resp.Usage = geminiUsageToUIF(usage)
	}

	return resp, nil
}

func geminiUsageToUIF(usage transform.RawJSON) uif.UnifiedUsage {
	out := uif.UnifiedUsage{}
	if v, ok := intVal(usage, "promptTokenCount"); ok {
		out.InputTokens = v
	}
	if v, ok := intVal(usage, "candidatesTokenCount"); ok {
		out.OutputTokens = v
	}
	if v, ok := intVal(usage, "cachedContentTokenCount"); ok {
		out.CacheReadTokens = &v
	}
	return out
}

// ---- response_out: UIF -> Gemini wire ----

func (t *GeminiTransformer) ResponseOut(resp *uif.UnifiedResponse) (transform.RawJSON, error) {
	parts := make([]any, 0, len(resp.Content))
	for _, c := range resp.Content {
		if p, ok := uifBlockToGemini(c); ok {
			parts = append(parts, p)
		}
	}

	finish := "STOP"
	if f, ok := stopReasonToGeminiFinish[resp.StopReason]; ok {
		finish = f
	}

	return transform.RawJSON{
		"candidates": []any{transform.RawJSON{
			"content":       transform.RawJSON{"role": "model", "parts": parts},
			"finishReason":  finish,
			"index":         0,
		}},
		"usageMetadata": geminiUsageFromUIF(resp.Usage),
		"modelVersion":  resp.Model,
	}, nil
}

func geminiUsageFromUIF(u uif.UnifiedUsage) transform.RawJSON {
	out := transform.RawJSON{
		"promptTokenCount":     u.InputTokens,
		"candidatesTokenCount": u.OutputTokens,
		"totalTokenCount":      u.InputTokens + u.OutputTokens,
	}
	if u.CacheReadTokens != nil {
		out["cachedContentTokenCount"] = *u.CacheReadTokens
	}
	return out
}

// ---- streaming ----
//
// Gemini's streamGenerateContent sends a bare JSON object per SSE frame (no
// named event, no "message_start": the first frame IS the first candidate
// chunk. The UIF's MessageStart has no wire counterpart here, so we
// synthesize one the instant the first frame arrives, matching the
// always-emit-message_start invariant the streaming state machine assumes
// of every protocol.

func (t *GeminiTransformer) StreamChunkIn(frame []byte, state *transform.StreamState) ([]uif.UnifiedStreamChunk, error) {
	raw, err := transform.DecodeRaw(frame)
	if err != nil {
		return nil, err
	}

	var chunks []uif.UnifiedStreamChunk

	if !state.MessageStartSent {
		state.MessageStartSent = true
		state.MessageID = newID("gemini_")
		state.Model = str(raw, "modelVersion")
		chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkMessageStart, Message: &uif.UnifiedResponse{ID: state.MessageID, Model: state.Model}})

		// Content index 0 is always reserved for text (and interleaved
		// thinking/signature deltas); Gemini gives no explicit block-open
		// signal of its own, so it is synthesized on the first frame.
		empty := uif.NewText("")
		chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockStart, Index: 0, ContentBlock: &empty})
		state.blockFor(0).StartSent = true
		state.TextBlockOpen = true
		state.TextBlockIndex = 0
		state.NextIndex = 1
	}

	candidates, _ := sliceVal(raw, "candidates")
	if len(candidates) == 0 {
		return chunks, nil
	}
	cand, _ := toMap(candidates[0])
	content, _ := mapVal(cand, "content")
	parts, _ := sliceVal(content, "parts")

	for _, p := range parts {
		pm, ok := toMap(p)
		if !ok {
			continue
		}

		if text, ok := pm["text"].(string); ok {
			if boolVal(pm, "thought") {
				d := uif.NewThinking(text, "")
				chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockDelta, Index: 0, Delta: &d})
				continue
			}
			d := uif.NewText(text)
			chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockDelta, Index: 0, Delta: &d})
			// A non-thought text part can carry its own thoughtSignature
			// (gemini-3); surface it as a trailing signature-only delta
			// on the same index so StreamChunkOut can re-attach it.
			if sig := str(pm, "thoughtSignature"); sig != "" {
				sd := uif.NewThinking("", sig)
				chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockDelta, Index: 0, Delta: &sd})
			}
			continue
		}

		if fc, ok := mapVal(pm, "functionCall"); ok {
			// A tool call ends the text block and opens a fresh one at
			// the next index; tool args arrive whole, so they are
			// emitted as a single ToolInputDelta rather than streamed.
			if state.TextBlockOpen {
				chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockStop, Index: 0})
				state.TextBlockOpen = false
			}

			args, _ := mapVal(fc, "args")
			id := str(fc, "id")
			if id == "" {
				id = newID("call_")
			}
			name := str(fc, "name")

			idx := state.NextIndex
			state.NextIndex++
			block := state.blockFor(idx)
			block.StartSent = true
			block.ToolCallID = id
			block.ToolName = name

			toolUse := uif.NewToolUse(id, name, transform.RawJSON{})
			chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockStart, Index: idx, ContentBlock: &toolUse})

			d := uif.NewToolInputDelta(idx, encodeJSONString(args))
			chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockDelta, Index: idx, Delta: &d})

			chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockStop, Index: idx})
			block.StopSent = true
			continue
		}
	}

	if fr, ok := cand["finishReason"].(string); ok && fr != "" {
		if state.TextBlockOpen {
			chunks = append(chunks, uif.UnifiedStreamChunk{ChunkType: uif.ChunkContentBlockStop, Index: 0})
			state.TextBlockOpen = false
		}
		sr := geminiFinishToStopReason[fr]
		var usage *uif.UnifiedUsage
		if u, ok := mapVal(raw, "usageMetadata"); ok {
			uu := geminiUsageToUIF(u)
			usage = &uu
		}
		state.Done = true
		chunks = append(chunks,
			uif.UnifiedStreamChunk{ChunkType: uif.ChunkMessageDelta, StopReason: &sr, Usage: usage},
			uif.UnifiedStreamChunk{ChunkType: uif.ChunkMessageStop},
		)
	}

	return chunks, nil
}

func (t *GeminiTransformer) StreamChunkOut(chunk uif.UnifiedStreamChunk, state *transform.StreamState) (string, error) {
	switch chunk.ChunkType {
	case uif.ChunkMessageStart:
		state.MessageID = chunk.Message.ID
		state.Model = chunk.Message.Model
		return "", nil

	case uif.ChunkContentBlockStart:
		return "", nil

	case uif.ChunkContentBlockStop:
		return geminiFlushPending(state)

	case uif.ChunkContentBlockDelta:
		return geminiStreamDelta(chunk, state)

	case uif.ChunkMessageDelta:
		flushed, err := geminiFlushPending(state)
		if err != nil {
			return "", err
		}
		finish := "STOP"
		if chunk.StopReason != nil {
			if f, ok := stopReasonToGeminiFinish[*chunk.StopReason]; ok {
				finish = f
			}
		}
		payload := transform.RawJSON{
			"candidates": []any{transform.RawJSON{
				"content": transform.RawJSON{"role": "model", "parts": []any{}}, "finishReason": finish, "index": 0,
			}},
			"modelVersion": state.Model,
		}
		if chunk.Usage != nil {
			payload["usageMetadata"] = geminiUsageFromUIF(*chunk.Usage)
		}
		frame, err := formatSSEBare(payload)
		if err != nil {
			return "", err
		}
		return flushed + frame, nil

	case uif.ChunkMessageStop:
		return geminiFlushPending(state)

	default:
		return "", nil
	}
}

// geminiStreamDelta handles one ContentBlockDelta chunk. Text parts are
// held back one step (state.PendingPart) rather than flushed immediately,
// because a signature-only Thinking chunk immediately following a text
// chunk must decorate that same part (thoughtSignature) instead of going
// out as its own standalone frame.
func geminiStreamDelta(chunk uif.UnifiedStreamChunk, state *transform.StreamState) (string, error) {
	if chunk.Delta.Type == uif.ContentThinking && chunk.Delta.Thinking.IsSignatureOnly() {
		if state.PendingPart != nil {
			state.PendingPart["thoughtSignature"] = chunk.Delta.Thinking.Signature
			return geminiFlushPending(state)
		}
		return geminiEmitPart(state, transform.RawJSON{"text": "", "thoughtSignature": chunk.Delta.Thinking.Signature})
	}

	if chunk.Delta.Type == uif.ContentToolInputDelta {
		flushed, err := geminiFlushPending(state)
		if err != nil {
			return "", err
		}
		args, err := decodeJSONString(chunk.Delta.ToolInputDelta.PartialJSON)
		if err != nil {
			return flushed, nil
		}
		frame, err := geminiEmitPart(state, transform.RawJSON{"functionCall": transform.RawJSON{"name": "", "args": args}})
		if err != nil {
			return "", err
		}
		return flushed + frame, nil
	}

	part, ok := uifBlockToGemini(*chunk.Delta)
	if !ok {
		return geminiFlushPending(state)
	}

	flushed, err := geminiFlushPending(state)
	if err != nil {
		return "", err
	}

	// Hold text and (non-signature-only) thinking parts back a step: either
	// may be immediately followed by a signature-only chunk that decorates
	// this same part rather than arriving as its own frame.
	if chunk.Delta.Type == uif.ContentText || chunk.Delta.Type == uif.ContentThinking {
		state.PendingPart = part
		return flushed, nil
	}

	frame, err := geminiEmitPart(state, part)
	if err != nil {
		return "", err
	}
	return flushed + frame, nil
}

func geminiFlushPending(state *transform.StreamState) (string, error) {
	if state.PendingPart == nil {
		return "", nil
	}
	part := state.PendingPart
	state.PendingPart = nil
	return geminiEmitPart(state, part)
}

func geminiEmitPart(state *transform.StreamState, part transform.RawJSON) (string, error) {
	return formatSSEBare(transform.RawJSON{
		"candidates": []any{transform.RawJSON{
			"content": transform.RawJSON{"role": "model", "parts": []any{part}}, "index": 0,
		}},
		"modelVersion": state.Model,
	})
}
