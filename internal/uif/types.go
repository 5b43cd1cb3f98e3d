// Package uif defines the Unified Internal Format: the canonical in-memory
// representation every protocol transformer translates to and from.
package uif

// Protocol tags a client or provider wire format.
type Protocol string

const (
	ProtocolOpenAI      Protocol = "openai"
	ProtocolAnthropic    Protocol = "anthropic"
	ProtocolResponseAPI  Protocol = "response_api"
	ProtocolGemini       Protocol = "gemini"
	ProtocolGcpVertex    Protocol = "gcp_vertex"
)

// Role is the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// StopReason is the normalized reason a response stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopLength       StopReason = "length"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
	StopContentFilter StopReason = "content_filter"
)

// ChunkType discriminates a UnifiedStreamChunk.
type ChunkType string

const (
	ChunkMessageStart      ChunkType = "message_start"
	ChunkMessageDelta      ChunkType = "message_delta"
	ChunkMessageStop       ChunkType = "message_stop"
	ChunkContentBlockStart ChunkType = "content_block_start"
	ChunkContentBlockDelta ChunkType = "content_block_delta"
	ChunkContentBlockStop  ChunkType = "content_block_stop"
	ChunkPing              ChunkType = "ping"
)

// ContentType discriminates a UnifiedContent variant.
type ContentType string

const (
	ContentText           ContentType = "text"
	ContentImage          ContentType = "image"
	ContentToolUse        ContentType = "tool_use"
	ContentToolResult     ContentType = "tool_result"
	ContentThinking       ContentType = "thinking"
	ContentFile           ContentType = "file"
	ContentAudio          ContentType = "audio"
	ContentRefusal        ContentType = "refusal"
	ContentToolInputDelta ContentType = "tool_input_delta"
)

// ImageSourceType is the carrier of an Image block's bytes.
type ImageSourceType string

const (
	ImageSourceBase64 ImageSourceType = "base64"
	ImageSourceURL    ImageSourceType = "url"
)

// ToolType distinguishes a callable function from a provider-builtin tool.
type ToolType string

const (
	ToolTypeFunction           ToolType = "function"
	ToolTypeComputerUsePreview ToolType = "computer_use_preview"
	ToolTypeWebSearchPreview   ToolType = "web_search_preview"
	ToolTypeFileSearch         ToolType = "file_search"
)

// UnifiedContent is a tagged variant: exactly one of the pointer fields
// matching Type is populated. Translation is a switch over Type, never
// virtual dispatch.
type UnifiedContent struct {
	Type ContentType

	Text *TextContent

	Image *ImageContent

	ToolUse *ToolUseContent

	ToolResult *ToolResultContent

	// Thinking holds model-internal reasoning. A block with empty Text
	// must carry a non-empty Signature (a "signature-only" block that
	// decorates the preceding thinking block on re-emission).
	Thinking *ThinkingContent

	File *FileContent

	Audio *AudioContent

	Refusal *RefusalContent

	// ToolInputDelta is stream-only: incremental tool-call argument JSON.
	ToolInputDelta *ToolInputDeltaContent
}

type TextContent struct {
	Text string
}

type ImageContent struct {
	SourceType ImageSourceType
	MediaType  string
	Data       string
}

type ToolUseContent struct {
	ID    string
	Name  string
	Input map[string]any
}

type ToolResultContent struct {
	ToolUseID string
	// Content is either a plain string or arbitrary JSON (map/slice);
	// exactly one of ContentText/ContentJSON is set.
	ContentText string
	ContentJSON any
	IsError     bool
}

type ThinkingContent struct {
	Text      string
	Signature string
}

func (t *ThinkingContent) IsSignatureOnly() bool {
	return t.Text == "" && t.Signature != ""
}

type FileContent struct {
	FileID   string
	Filename string
}

type AudioContent struct {
	Data   string
	Format string
}

type RefusalContent struct {
	Reason string
}

type ToolInputDeltaContent struct {
	Index       int
	PartialJSON string
}

// Constructors keep call sites uncluttered with the Type discriminator.

func NewText(text string) UnifiedContent {
	return UnifiedContent{Type: ContentText, Text: &TextContent{Text: text}}
}

func NewThinking(text, signature string) UnifiedContent {
	return UnifiedContent{Type: ContentThinking, Thinking: &ThinkingContent{Text: text, Signature: signature}}
}

func NewToolUse(id, name string, input map[string]any) UnifiedContent {
	return UnifiedContent{Type: ContentToolUse, ToolUse: &ToolUseContent{ID: id, Name: name, Input: input}}
}

func NewToolResultText(toolUseID, text string, isError bool) UnifiedContent {
	return UnifiedContent{Type: ContentToolResult, ToolResult: &ToolResultContent{ToolUseID: toolUseID, ContentText: text, IsError: isError}}
}

func NewToolInputDelta(index int, partialJSON string) UnifiedContent {
	return UnifiedContent{Type: ContentToolInputDelta, ToolInputDelta: &ToolInputDeltaContent{Index: index, PartialJSON: partialJSON}}
}

// UnifiedToolCall is the denormalized projection of a ToolUse content block.
type UnifiedToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any

	// ProviderSpecific carries per-provider extras (e.g. OpenAI's
	// thought_signature) that ride along a tool call without being part
	// of the core shape.
	ProviderSpecific map[string]any
}

// UnifiedMessage is one turn in a conversation.
type UnifiedMessage struct {
	Role       Role
	Content    []UnifiedContent
	Name       string
	ToolCalls  []UnifiedToolCall
	ToolCallID string
}

// UnifiedTool describes a callable the model may invoke.
type UnifiedTool struct {
	Name        string
	Description string
	InputSchema map[string]any
	ToolType    ToolType
}

// ToolChoice normalizes every protocol's tool-forcing knob to one shape.
type ToolChoiceType string

const (
	ToolChoiceAuto ToolChoiceType = "auto"
	ToolChoiceNone ToolChoiceType = "none"
	ToolChoiceAny  ToolChoiceType = "any"
	ToolChoiceTool ToolChoiceType = "tool"
)

type ToolChoice struct {
	Type ToolChoiceType
	Name string
}

// UnifiedParameters holds sampling and control knobs.
type UnifiedParameters struct {
	Temperature    *float64
	MaxTokens      *int
	TopP           *float64
	TopK           *int
	StopSequences  []string
	Stream         bool
	// Extra preserves unrecognized keys verbatim so round-trips don't
	// silently drop provider-specific parameters the UIF doesn't model.
	Extra map[string]any
}

// UnifiedRequest is the UIF projection of an inbound client request.
type UnifiedRequest struct {
	Model          string
	Messages       []UnifiedMessage
	System         string
	Parameters     UnifiedParameters
	Tools          []UnifiedTool
	ToolChoice     *ToolChoice
	ClientProtocol Protocol
	Metadata       map[string]any
}

// UnifiedUsage is normalized token accounting.
type UnifiedUsage struct {
	InputTokens     int
	OutputTokens    int
	CacheReadTokens  *int
	CacheWriteTokens *int
}

// UnifiedResponse is the UIF projection of a buffered provider response.
type UnifiedResponse struct {
	ID         string
	Model      string
	Content    []UnifiedContent
	StopReason StopReason
	Usage      UnifiedUsage
	ToolCalls  []UnifiedToolCall
}

// UnifiedStreamChunk is one event in the normalized streaming grammar:
//
//	MessageStart
//	  (ContentBlockStart . ContentBlockDelta* . ContentBlockStop)+
//	MessageDelta(stop_reason, usage)
//	MessageStop
//
// with Ping allowed anywhere.
type UnifiedStreamChunk struct {
	ChunkType ChunkType
	Index     int

	// Message is populated on MessageStart.
	Message *UnifiedResponse

	// ContentBlock is populated on ContentBlockStart: the block being
	// opened (its Text/ToolUse/Thinking fields may be seeded empty).
	ContentBlock *UnifiedContent

	// Delta is populated on ContentBlockDelta: the incremental content.
	Delta *UnifiedContent

	// StopReason/Usage are populated on MessageDelta.
	StopReason *StopReason
	Usage      *UnifiedUsage
}
