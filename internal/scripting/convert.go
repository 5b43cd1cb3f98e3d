package scripting

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/Davincible/claude-code-open/internal/transform"
)

// goToLua converts a decoded-JSON Go value (the map[string]any/[]any/
// string/float64/bool/nil shape json.Unmarshal produces) into an LValue.
// Object keys become string-keyed table entries; arrays become
// 1-indexed table entries, matching Lua convention.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case transform.RawJSON:
		t := L.NewTable()
		for k, v := range val {
			t.RawSetString(k, goToLua(L, v))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, v := range val {
			t.RawSetString(k, goToLua(L, v))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, v := range val {
			t.RawSetInt(i+1, goToLua(L, v))
		}
		return t
	default:
		return lua.LNil
	}
}

// luaToGo converts an LValue back into a decoded-JSON-shaped Go value. A
// table is treated as an array if every key is a dense 1..n integer
// sequence, otherwise as an object.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return luaTableToGo(val)
	default:
		return nil
	}
}

func luaTableToGo(t *lua.LTable) any {
	n := t.Len()
	isArray := n > 0
	if isArray {
		count := 0
		t.ForEach(func(_, _ lua.LValue) { count++ })
		isArray = count == n
	}

	if isArray {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, luaToGo(t.RawGetInt(i)))
		}
		return out
	}

	out := transform.RawJSON{}
	t.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			out[string(ks)] = luaToGo(v)
		}
	})
	return out
}
