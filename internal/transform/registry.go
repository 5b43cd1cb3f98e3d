package transform

import (
	"fmt"
	"sync"

	"github.com/Davincible/claude-code-open/internal/uif"
)

// Registry maps a Protocol tag to the Transformer that handles it. It is
// read-mostly: written only at startup and on explicit reload, guarded by a
// single-writer/many-reader RWMutex, matching the teacher's registry.go
// shape generalized from a map[string]Provider to map[uif.Protocol]Transformer.
type Registry struct {
	mu           sync.RWMutex
	transformers map[uif.Protocol]Transformer
}

func NewRegistry() *Registry {
	return &Registry{
		transformers: make(map[uif.Protocol]Transformer),
	}
}

// Register adds or replaces the transformer for its own Protocol() tag.
func (r *Registry) Register(t Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transformers[t.Protocol()] = t
}

// Get returns the transformer registered for protocol, if any.
func (r *Registry) Get(protocol uif.Protocol) (Transformer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transformers[protocol]
	return t, ok
}

// GetOrError returns the transformer for protocol, or an UnknownProtocol
// PipelineError if none is registered.
func (r *Registry) GetOrError(protocol uif.Protocol) (Transformer, error) {
	t, ok := r.Get(protocol)
	if !ok {
		return nil, NewPipelineError(ErrUnknownProtocol, fmt.Sprintf("no transformer registered for protocol %q", protocol), nil)
	}
	return t, nil
}

// DetectAndGet runs each registered transformer's CanHandle sniff and
// returns the first match, independent of the Detector's header/path/
// structural priority chain. Useful when only the payload is available.
func (r *Registry) DetectAndGet(raw RawJSON) (Transformer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transformers {
		if t.CanHandle(raw) {
			return t, true
		}
	}
	return nil, false
}

// Protocols lists every registered protocol tag.
func (r *Registry) Protocols() []uif.Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uif.Protocol, 0, len(r.transformers))
	for p := range r.transformers {
		out = append(out, p)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transformers)
}
