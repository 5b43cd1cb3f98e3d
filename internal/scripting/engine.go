// Package scripting embeds a sandboxed Lua runtime that lets an operator
// attach a small per-provider script hooking on_request/on_response/
// on_stream_chunk, each operating on raw JSON rather than the Unified
// Internal Format: a script should be able to patch a provider's quirks
// without knowing anything about UIF's tagged-variant content model.
package scripting

import (
	"fmt"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/Davincible/claude-code-open/internal/transform"
)

// MaxScriptSize bounds how large a feature script may be, matching the
// cautious default of the scripting runtimes this package was modeled on.
const MaxScriptSize = 1024 * 1024

// dangerousGlobals are stripped from every Lua state this engine creates,
// so a feature script can transform payloads but can't touch the
// filesystem, spawn processes, or load further code at runtime.
var dangerousGlobals = []string{"io", "os", "debug", "load", "loadfile", "dofile", "require"}

type script struct {
	mu         sync.Mutex
	state      *lua.LState
	hasRequest bool
	hasResponse bool
	hasStream  bool
}

// Engine holds one compiled, sandboxed Lua state per provider name.
type Engine struct {
	mu      sync.RWMutex
	scripts map[string]*script
}

func NewEngine() *Engine {
	return &Engine{scripts: make(map[string]*script)}
}

// LoadScript reads, sandboxes, and validates the Lua file at path, then
// registers it for providerName. A script with none of on_request/
// on_response/on_stream_chunk defined is rejected: it can never do
// anything, and silently accepting it would mask a typo in the hook name.
func (e *Engine) LoadScript(providerName, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat script %s: %w", path, err)
	}
	if info.Size() > MaxScriptSize {
		return fmt.Errorf("script %s exceeds max size of %d bytes", path, MaxScriptSize)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script %s: %w", path, err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	sandbox(L)

	if err := L.DoString(string(src)); err != nil {
		L.Close()
		return fmt.Errorf("compile script %s: %w", path, err)
	}

	sc := &script{
		state:       L,
		hasRequest:  isFunction(L, "on_request"),
		hasResponse: isFunction(L, "on_response"),
		hasStream:   isFunction(L, "on_stream_chunk"),
	}
	if !sc.hasRequest && !sc.hasResponse && !sc.hasStream {
		L.Close()
		return fmt.Errorf("script %s defines none of on_request/on_response/on_stream_chunk", path)
	}

	e.mu.Lock()
	if old, ok := e.scripts[providerName]; ok {
		old.state.Close()
	}
	e.scripts[providerName] = sc
	e.mu.Unlock()

	return nil
}

func isFunction(L *lua.LState, name string) bool {
	_, ok := L.GetGlobal(name).(*lua.LFunction)
	return ok
}

// sandbox removes globals a feature script has no business touching.
// Modeled on the dangerous-global removal of the original scripting
// sandbox this runtime replaces: the allowed surface is pure data
// transformation, string/table/math helpers, nothing that reaches outside
// the process.
func sandbox(L *lua.LState) {
	for _, name := range dangerousGlobals {
		L.SetGlobal(name, lua.LNil)
	}
}

func (e *Engine) get(providerName string) (*script, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sc, ok := e.scripts[providerName]
	return sc, ok
}

// HasScript implements transform.ScriptHook.
func (e *Engine) HasScript(providerName string) bool {
	_, ok := e.get(providerName)
	return ok
}

func (e *Engine) OnRequest(providerName string, raw transform.RawJSON) (transform.RawJSON, error) {
	sc, ok := e.get(providerName)
	if !ok || !sc.hasRequest {
		return raw, nil
	}
	return sc.call("on_request", raw)
}

func (e *Engine) OnResponse(providerName string, raw transform.RawJSON) (transform.RawJSON, error) {
	sc, ok := e.get(providerName)
	if !ok || !sc.hasResponse {
		return raw, nil
	}
	return sc.call("on_response", raw)
}

func (e *Engine) OnStreamChunk(providerName string, raw transform.RawJSON) (transform.RawJSON, error) {
	sc, ok := e.get(providerName)
	if !ok || !sc.hasStream {
		return raw, nil
	}
	return sc.call("on_stream_chunk", raw)
}

// call invokes the named hook with raw converted to a Lua table, and
// converts its single return value back. A gopher-lua state is not safe
// for concurrent use, so every call through one script is serialized on
// its own mutex; this trades throughput under heavy scripted load for
// never needing one Lua state per goroutine.
func (sc *script) call(fn string, raw transform.RawJSON) (transform.RawJSON, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	L := sc.state
	L.SetTop(0)

	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal(fn),
		NRet:    1,
		Protect: true,
	}, goToLua(L, raw)); err != nil {
		return nil, sanitizeLuaError(err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	out, ok := luaToGo(ret).(transform.RawJSON)
	if !ok {
		return nil, fmt.Errorf("%s: hook must return a table", fn)
	}
	return out, nil
}

// sanitizeLuaError strips gopher-lua's embedded stack traceback, which can
// otherwise leak script source fragments into a client-facing error body.
func sanitizeLuaError(err error) error {
	if lerr, ok := err.(*lua.ApiError); ok {
		return fmt.Errorf("lua script error: %s", lerr.Object.String())
	}
	return fmt.Errorf("lua script error: %w", err)
}

// Close releases every loaded Lua state. Call once at shutdown.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sc := range e.scripts {
		sc.state.Close()
	}
	e.scripts = make(map[string]*script)
}
