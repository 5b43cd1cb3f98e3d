package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-code-open/internal/transform"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.lua")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEngine_LoadAndRunOnRequest(t *testing.T) {
	path := writeScript(t, `
function on_request(req)
  req.injected = "yes"
  return req
end
`)

	e := NewEngine()
	require.NoError(t, e.LoadScript("openrouter", path))
	assert.True(t, e.HasScript("openrouter"))
	assert.False(t, e.HasScript("anthropic"))

	out, err := e.OnRequest("openrouter", transform.RawJSON{"model": "x"})
	require.NoError(t, err)
	assert.Equal(t, "yes", out["injected"])
	assert.Equal(t, "x", out["model"])
}

func TestEngine_RejectsScriptWithNoRecognizedHooks(t *testing.T) {
	path := writeScript(t, `function unrelated() end`)

	e := NewEngine()
	err := e.LoadScript("openrouter", path)
	assert.Error(t, err)
	assert.False(t, e.HasScript("openrouter"))
}

func TestEngine_SandboxStripsDangerousGlobals(t *testing.T) {
	path := writeScript(t, `
function on_request(req)
  if os == nil and io == nil and require == nil then
    req.sandboxed = true
  else
    req.sandboxed = false
  end
  return req
end
`)

	e := NewEngine()
	require.NoError(t, e.LoadScript("openrouter", path))

	out, err := e.OnRequest("openrouter", transform.RawJSON{})
	require.NoError(t, err)
	assert.Equal(t, true, out["sandboxed"])
}

func TestEngine_HookNotDefinedPassesPayloadThrough(t *testing.T) {
	path := writeScript(t, `function on_response(resp) return resp end`)

	e := NewEngine()
	require.NoError(t, e.LoadScript("openrouter", path))

	in := transform.RawJSON{"untouched": true}
	out, err := e.OnRequest("openrouter", in)
	require.NoError(t, err)
	assert.Equal(t, in, out, "a script with no on_request hook should pass the payload through unchanged")
}

func TestEngine_LoadScriptReplacesPriorScriptForSameProvider(t *testing.T) {
	first := writeScript(t, `function on_request(req) req.version = 1 return req end`)
	second := writeScript(t, `function on_request(req) req.version = 2 return req end`)

	e := NewEngine()
	require.NoError(t, e.LoadScript("openrouter", first))
	require.NoError(t, e.LoadScript("openrouter", second))

	out, err := e.OnRequest("openrouter", transform.RawJSON{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out["version"])
}

func TestEngine_ScriptRuntimeErrorIsSanitized(t *testing.T) {
	path := writeScript(t, `function on_request(req) error("boom") end`)

	e := NewEngine()
	require.NoError(t, e.LoadScript("openrouter", path))

	_, err := e.OnRequest("openrouter", transform.RawJSON{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lua script error")
}

func TestEngine_Close(t *testing.T) {
	path := writeScript(t, `function on_request(req) return req end`)

	e := NewEngine()
	require.NoError(t, e.LoadScript("openrouter", path))
	e.Close()
	assert.False(t, e.HasScript("openrouter"))
}
