package lua

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/ember/internal/event"
)

const contextTypeName = "ember.context"

// registerContextType installs the metatable for ctx objects.
func registerContextType(L *lua.LState, b *Bridge) {
	mt := L.NewTypeMetatable(contextTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get": func(L *lua.LState) int {
			ec := checkContext(L)
			v, ok := ec.Get(L.CheckString(2))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(b.ToLuaValue(v))
			return 1
		},
		"set": func(L *lua.LState) int {
			ec := checkContext(L)
			ec.Set(L.CheckString(2), b.ToGoValue(L.Get(3)))
			return 0
		},
		"remove": func(L *lua.LState) int {
			ec := checkContext(L)
			v, ok := ec.Remove(L.CheckString(2))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(b.ToLuaValue(v))
			return 1
		},
		"contains": func(L *lua.LState) int {
			ec := checkContext(L)
			L.Push(lua.LBool(ec.Contains(L.CheckString(2))))
			return 1
		},
		"keys": func(L *lua.LState) int {
			ec := checkContext(L)
			L.Push(b.ToLuaValue(ec.Keys()))
			return 1
		},
		"emit": func(L *lua.LState) int {
			ec := checkContext(L)
			e, err := b.TableToEvent(L.CheckTable(2))
			if err != nil {
				L.ArgError(2, err.Error())
				return 0
			}
			ec.Emit(e)
			return 0
		},
		"emit_custom": func(L *lua.LState) int {
			ec := checkContext(L)
			name := L.CheckString(2)
			ec.EmitCustom(name, b.ToGoValue(L.Get(3)))
			return 0
		},
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(contextTypeName))
		return 1
	}))
	// Shared by every invocation on this state; scripts must not reach it.
	L.SetField(mt, "__metatable", lua.LString(contextTypeName))
}

// newContext wraps ec for one invocation.
func newContext(L *lua.LState, ec *event.Context) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = ec
	L.SetMetatable(ud, L.GetTypeMetatable(contextTypeName))
	return ud
}

// checkContext returns the *event.Context behind argument 1. A ctx kept
// past its invocation has been detached and raises an error.
func checkContext(L *lua.LState) *event.Context {
	ud := L.CheckUserData(1)
	ec, ok := ud.Value.(*event.Context)
	if !ok || ec == nil {
		L.ArgError(1, "context expected (use ctx:method(...))")
		return nil
	}
	return ec
}
