package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-code-open/internal/uif"
)

type fakeTransformer struct {
	protocol uif.Protocol
	handles  func(RawJSON) bool
}

func (f *fakeTransformer) Protocol() uif.Protocol { return f.protocol }
func (f *fakeTransformer) RequestOut(RawJSON) (*uif.UnifiedRequest, error)   { return nil, nil }
func (f *fakeTransformer) RequestIn(*uif.UnifiedRequest) (RawJSON, error)    { return nil, nil }
func (f *fakeTransformer) ResponseIn(RawJSON, string) (*uif.UnifiedResponse, error) {
	return nil, nil
}
func (f *fakeTransformer) ResponseOut(*uif.UnifiedResponse) (RawJSON, error) { return nil, nil }
func (f *fakeTransformer) StreamChunkIn(frame []byte, state *StreamState) ([]uif.UnifiedStreamChunk, error) {
	return nil, nil
}
func (f *fakeTransformer) StreamChunkOut(uif.UnifiedStreamChunk, *StreamState) (string, error) {
	return "", nil
}
func (f *fakeTransformer) CanHandle(raw RawJSON) bool {
	if f.handles == nil {
		return false
	}
	return f.handles(raw)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Len())

	openai := &fakeTransformer{protocol: uif.ProtocolOpenAI}
	r.Register(openai)

	got, ok := r.Get(uif.ProtocolOpenAI)
	require.True(t, ok)
	assert.Same(t, openai, got)

	_, ok = r.Get(uif.ProtocolGemini)
	assert.False(t, ok, "an unregistered protocol should not be found")

	assert.ElementsMatch(t, []uif.Protocol{uif.ProtocolOpenAI}, r.Protocols())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_GetOrError(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTransformer{protocol: uif.ProtocolAnthropic})

	_, err := r.GetOrError(uif.ProtocolAnthropic)
	assert.NoError(t, err)

	_, err = r.GetOrError(uif.ProtocolGemini)
	require.Error(t, err)

	var pipelineErr *PipelineError
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, ErrUnknownProtocol, pipelineErr.Kind)
}

func TestRegistry_DetectAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTransformer{
		protocol: uif.ProtocolGemini,
		handles:  func(raw RawJSON) bool { _, ok := raw["contents"]; return ok },
	})
	r.Register(&fakeTransformer{
		protocol: uif.ProtocolOpenAI,
		handles:  func(raw RawJSON) bool { _, ok := raw["messages"]; return ok },
	})

	t1, ok := r.DetectAndGet(RawJSON{"contents": []any{}})
	require.True(t, ok)
	assert.Equal(t, uif.ProtocolGemini, t1.Protocol())

	t2, ok := r.DetectAndGet(RawJSON{"messages": []any{}})
	require.True(t, ok)
	assert.Equal(t, uif.ProtocolOpenAI, t2.Protocol())

	_, ok = r.DetectAndGet(RawJSON{"unrelated": true})
	assert.False(t, ok)
}

func TestRegistry_RegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	first := &fakeTransformer{protocol: uif.ProtocolOpenAI}
	second := &fakeTransformer{protocol: uif.ProtocolOpenAI}

	r.Register(first)
	r.Register(second)

	got, ok := r.Get(uif.ProtocolOpenAI)
	require.True(t, ok)
	assert.Same(t, second, got, "registering the same protocol tag twice should replace, not duplicate")
	assert.Equal(t, 1, r.Len())
}
