package transform

import (
	"encoding/json"
	"fmt"

	"github.com/Davincible/claude-code-open/internal/uif"
)

// ScriptHook is the outbound contract to the embedded scripting runtime
// (internal/scripting): raw-JSON in, raw-JSON out, invoked at the pipeline
// boundary: OnRequest on the provider-bound payload after request_in and
// rectify, OnResponse on the client-bound payload after response_out. The
// Pipeline does not call OnStreamChunk. A LuaFeatureTransformer
// is a no-op at the UIF level; it is the Pipeline that actually calls this
// hook, since Lua scripts operate on raw JSON, not UIF values.
type ScriptHook interface {
	// HasScript reports whether a script is registered for providerName.
	HasScript(providerName string) bool
	OnRequest(providerName string, raw RawJSON) (RawJSON, error)
	OnResponse(providerName string, raw RawJSON) (RawJSON, error)
	OnStreamChunk(providerName string, raw RawJSON) (RawJSON, error)
}

// noopScriptHook is used when the caller wires no scripting engine.
type noopScriptHook struct{}

func (noopScriptHook) HasScript(string) bool                          { return false }
func (noopScriptHook) OnRequest(_ string, raw RawJSON) (RawJSON, error)  { return raw, nil }
func (noopScriptHook) OnResponse(_ string, raw RawJSON) (RawJSON, error) { return raw, nil }
func (noopScriptHook) OnStreamChunk(_ string, raw RawJSON) (RawJSON, error) {
	return raw, nil
}

// Pipeline orchestrates a single request's translation:
//
//	detect -> request_out -> features -> request_in -> rectify -> (on_request)
//	  -> (dispatch) -> response_in -> features -> response_out -> (on_response)
//
// and, for streaming:
//
//	stream_chunk_in -> features -> stream_chunk_out
//
// carrying a StreamState across chunks of one session.
type Pipeline struct {
	Registry *Registry
	Detector *Detector
	Features *FeatureChain
	Scripts  ScriptHook
}

// NewPipeline builds a Pipeline. scripts may be nil, in which case script
// hooks are no-ops.
func NewPipeline(registry *Registry, detector *Detector, features *FeatureChain, scripts ScriptHook) *Pipeline {
	if features == nil {
		features = NewFeatureChain()
	}
	if scripts == nil {
		scripts = noopScriptHook{}
	}
	return &Pipeline{Registry: registry, Detector: detector, Features: features, Scripts: scripts}
}

// PrepareRequest runs detect -> request_out -> features -> request_in ->
// rectify, then the provider's on_request script hook if one is registered,
// returning the provider-bound raw payload ready to dispatch,
// along with the client transformer (needed later to translate the
// response back) and the detected client protocol.
func (p *Pipeline) PrepareRequest(rawBody RawJSON, headers map[string][]string, path string, providerName string, providerProtocol uif.Protocol) (providerPayload RawJSON, clientTransformer Transformer, clientProtocol uif.Protocol, err error) {
	clientProtocol = p.Detector.Detect(rawBody, headers, path)

	clientTransformer, err = p.Registry.GetOrError(clientProtocol)
	if err != nil {
		return nil, nil, "", err
	}

	req, err := clientTransformer.RequestOut(rawBody)
	if err != nil {
		return nil, nil, "", err
	}

	p.Features.ApplyRequest(providerName, req)

	providerTransformer, err := p.Registry.GetOrError(providerProtocol)
	if err != nil {
		return nil, nil, "", err
	}

	providerPayload, err = providerTransformer.RequestIn(req)
	if err != nil {
		return nil, nil, "", err
	}

	Rectify(providerPayload)

	if p.Scripts.HasScript(providerName) {
		providerPayload, err = p.Scripts.OnRequest(providerName, providerPayload)
		if err != nil {
			return nil, nil, "", NewPipelineError(ErrScript, "on_request hook failed", err)
		}
	}

	return providerPayload, clientTransformer, clientProtocol, nil
}

// FinishResponse runs response_in -> features -> response_out, then the
// provider's on_response script hook on the client-bound payload if one is
// registered, for a buffered (non-streaming) response.
func (p *Pipeline) FinishResponse(providerPayload RawJSON, providerProtocol uif.Protocol, originalModel, providerName string, clientTransformer Transformer) (RawJSON, error) {
	providerTransformer, err := p.Registry.GetOrError(providerProtocol)
	if err != nil {
		return nil, err
	}

	resp, err := providerTransformer.ResponseIn(providerPayload, originalModel)
	if err != nil {
		return nil, err
	}

	p.Features.ApplyResponse(providerName, resp)

	clientPayload, err := clientTransformer.ResponseOut(resp)
	if err != nil {
		return nil, err
	}

	if p.Scripts.HasScript(providerName) {
		clientPayload, err = p.Scripts.OnResponse(providerName, clientPayload)
		if err != nil {
			return nil, NewPipelineError(ErrScript, "on_response hook failed", err)
		}
	}

	return clientPayload, nil
}

// StreamSession carries per-session state across PumpFrame calls: one
// StreamState for the provider-side decode and one for the client-side
// re-encode, since content-block indices and message identity are each
// protocol's own bookkeeping.
type StreamSession struct {
	ProviderState *StreamState
	ClientState   *StreamState
	ProviderProto uif.Protocol
	ClientProto   uif.Protocol
	ProviderName  string
}

// NewStreamSession constructs a fresh, unshared session for one streaming
// request.
func (p *Pipeline) NewStreamSession(providerProto, clientProto uif.Protocol, providerName string) *StreamSession {
	return &StreamSession{
		ProviderState: NewStreamState(),
		ClientState:   NewStreamState(),
		ProviderProto: providerProto,
		ClientProto:   clientProto,
		ProviderName:  providerName,
	}
}

// PumpFrame translates one provider SSE frame into zero or more client SSE
// frames: stream_chunk_in -> features -> stream_chunk_out, in order. The
// client frames are returned concatenated, for the caller to write and
// flush together.
func (p *Pipeline) PumpFrame(session *StreamSession, frame []byte) (string, error) {
	providerTransformer, err := p.Registry.GetOrError(session.ProviderProto)
	if err != nil {
		return "", err
	}
	clientTransformer, err := p.Registry.GetOrError(session.ClientProto)
	if err != nil {
		return "", err
	}

	chunks, err := providerTransformer.StreamChunkIn(frame, session.ProviderState)
	if err != nil {
		return "", err
	}

	var out string
	for i := range chunks {
		p.Features.ApplyStreamChunk(session.ProviderName, &chunks[i])

		frameOut, err := clientTransformer.StreamChunkOut(chunks[i], session.ClientState)
		if err != nil {
			return out, err
		}
		out += frameOut
	}

	return out, nil
}

// AbortStream synthesizes the client-visible close sequence for a stream
// that was cut off by an upstream transport failure: MessageDelta(end_turn)
// + MessageStop, so the client's own state machine can close cleanly.
func (p *Pipeline) AbortStream(session *StreamSession) (string, error) {
	clientTransformer, err := p.Registry.GetOrError(session.ClientProto)
	if err != nil {
		return "", err
	}

	stop := uif.StopEndTurn
	deltaChunk := uif.UnifiedStreamChunk{ChunkType: uif.ChunkMessageDelta, StopReason: &stop}
	stopChunk := uif.UnifiedStreamChunk{ChunkType: uif.ChunkMessageStop}

	var out string
	for _, c := range []uif.UnifiedStreamChunk{deltaChunk, stopChunk} {
		frame, err := clientTransformer.StreamChunkOut(c, session.ClientState)
		if err != nil {
			return out, err
		}
		out += frame
	}
	return out, nil
}

// MarshalRaw is a small convenience used throughout the protocols package to
// turn a RawJSON map back into bytes for dispatch.
func MarshalRaw(raw RawJSON) ([]byte, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal raw payload: %w", err)
	}
	return b, nil
}
