// Package transform implements the cross-protocol transformation core: the
// per-protocol Transformers, the Registry that maps a Protocol tag to one,
// the Detector that classifies a raw request, the Rectifier that sanitizes
// provider-bound payloads, and the Pipeline that orchestrates all of them.
package transform

import (
	"encoding/json"
	"fmt"

	"github.com/Davincible/claude-code-open/internal/uif"
)

// RawJSON is a decoded JSON object, the shape every Transformer operation
// reads from or writes to on the wire side of the boundary.
type RawJSON = map[string]any

// Transformer is the six-operation contract every protocol implements. All
// operations are pure functions of their arguments; streaming operations may
// carry state, but that state is owned by a StreamState passed in by the
// caller, never by the Transformer instance itself (transformer instances
// are shared across concurrent requests).
type Transformer interface {
	Protocol() uif.Protocol

	// RequestOut: client wire -> UIF.
	RequestOut(raw RawJSON) (*uif.UnifiedRequest, error)

	// RequestIn: UIF -> provider wire.
	RequestIn(req *uif.UnifiedRequest) (RawJSON, error)

	// ResponseIn: provider wire -> UIF. originalModel is the model the
	// client asked for, used when the provider echoes back a routed
	// alias instead of the client-facing name.
	ResponseIn(raw RawJSON, originalModel string) (*uif.UnifiedResponse, error)

	// ResponseOut: UIF -> client wire.
	ResponseOut(resp *uif.UnifiedResponse) (RawJSON, error)

	// StreamChunkIn: one provider SSE frame -> zero or more UIF chunks.
	StreamChunkIn(frame []byte, state *StreamState) ([]uif.UnifiedStreamChunk, error)

	// StreamChunkOut: one UIF chunk -> zero or more client SSE frames.
	StreamChunkOut(chunk uif.UnifiedStreamChunk, state *StreamState) (string, error)

	// CanHandle is a structural sniff used by protocol detection.
	CanHandle(raw RawJSON) bool
}

// ContentBlockState tracks one open content block across a stream.
type ContentBlockState struct {
	Index      int
	Type       uif.ContentType
	StartSent  bool
	StopSent   bool
	ToolCallID string
	ToolName   string
	// Arguments accumulates the raw JSON argument fragments re-emitted for
	// a tool-call block (OpenAI StreamChunkOut).
	Arguments string
}

// StreamState is the per-stream, per-session carried state a Transformer's
// streaming operations read and mutate. The pipeline constructs exactly one
// fresh StreamState per streaming session and never shares it across
// sessions or requests.
type StreamState struct {
	MessageStartSent bool
	MessageID        string
	Model            string
	InitialUsage     uif.UnifiedUsage

	// ContentBlocks is keyed by UIF content-block index.
	ContentBlocks map[int]*ContentBlockState
	NextIndex     int

	// TextBlockOpen/TextBlockIndex track the always-reserved index-0 text
	// block across protocols that interleave text and tool content
	// (Gemini, OpenAI).
	TextBlockOpen  bool
	TextBlockIndex int

	// Done is set once MessageStop has been observed, so callers can
	// detect a stream that ended cleanly vs. one cut off mid-session.
	Done bool

	// PendingPart holds a wire-shaped part a StreamChunkOut implementation
	// has built but not yet flushed, so a following signature-only chunk
	// can be merged into it instead of going out as its own frame
	// (Gemini's thoughtSignature-on-prior-part convention).
	PendingPart RawJSON
}

// NewStreamState returns a freshly constructed, empty stream session.
func NewStreamState() *StreamState {
	return &StreamState{
		ContentBlocks: make(map[int]*ContentBlockState),
	}
}

func (s *StreamState) blockFor(index int) *ContentBlockState {
	b, ok := s.ContentBlocks[index]
	if !ok {
		b = &ContentBlockState{Index: index}
		s.ContentBlocks[index] = b
	}
	return b
}

// ErrorKind classifies a pipeline-level failure so the proxy boundary can
// pick the right client-facing error envelope without string matching.
type ErrorKind string

const (
	ErrDecodeFailure    ErrorKind = "decode_failure"
	ErrUnknownProtocol  ErrorKind = "unknown_protocol"
	ErrUnsupportedContent ErrorKind = "unsupported_content"
	ErrScript           ErrorKind = "script_error"
	ErrUpstreamTransport ErrorKind = "upstream_transport"
)

// PipelineError is a typed error carrying an ErrorKind, so callers can
// errors.As into it instead of matching on message text.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func NewPipelineError(kind ErrorKind, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}

// DecodeRaw unmarshals a JSON frame into a RawJSON map, wrapping failures as
// a DecodeFailure PipelineError.
func DecodeRaw(data []byte) (RawJSON, error) {
	var raw RawJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewPipelineError(ErrDecodeFailure, "malformed JSON frame", err)
	}
	return raw, nil
}
