package feature

import "github.com/Davincible/claude-code-open/internal/uif"

// scriptRegistry is the minimal surface LuaFeatureTransformer needs from
// internal/scripting.Engine, declared here to avoid a dependency from
// feature on scripting (the Pipeline wires the concrete engine in as a
// transform.ScriptHook separately).
type scriptRegistry interface {
	HasScript(providerName string) bool
}

// LuaFeatureTransformer is a marker FeatureTransformer: Lua hooks operate
// on raw JSON at the Pipeline boundary (see transform.ScriptHook), not on
// UIF values, so every UIF-level hook here is a no-op. Its only real job
// is IsActive, which the chain uses to report whether scripting is in
// play for a provider without reaching into the Pipeline's internals.
type LuaFeatureTransformer struct {
	scripts scriptRegistry
}

func NewLuaFeatureTransformer(scripts scriptRegistry) *LuaFeatureTransformer {
	return &LuaFeatureTransformer{scripts: scripts}
}

func (t *LuaFeatureTransformer) Name() string { return "lua" }

func (t *LuaFeatureTransformer) IsActive(providerName string) bool {
	return t.scripts.HasScript(providerName)
}

func (t *LuaFeatureTransformer) TransformRequest(string, *uif.UnifiedRequest) {}

func (t *LuaFeatureTransformer) TransformResponse(string, *uif.UnifiedResponse) {}

func (t *LuaFeatureTransformer) TransformStreamChunk(string, *uif.UnifiedStreamChunk) {}
