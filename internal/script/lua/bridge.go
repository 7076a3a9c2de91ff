package lua

import (
	"fmt"
	"reflect"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/ember/internal/event"
)

// Bridge converts values between Go and Lua.
type Bridge struct {
	L *lua.LState

	// array is the metatable of tables made from Go slices, so an empty
	// one converts back to a slice.
	array *lua.LTable
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	array := L.NewTable()
	// Protected: getmetatable returns the name and setmetatable fails.
	array.RawSetString("__metatable", lua.LString("array"))
	return &Bridge{L: L, array: array}
}

// ToGoValue converts a Lua value to a Go value. Tables with contiguous
// integer keys from 1 become []any, as do empty tables that came from a Go
// slice; other tables become map[string]any. Integral numbers become
// int64. Functions, threads and channels become nil, as does a table met
// again inside itself.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	c := goConverter{open: make(map[*lua.LTable]bool), array: b.array}
	return c.value(lv)
}

// goConverter tracks the tables on the current conversion path.
type goConverter struct {
	open  map[*lua.LTable]bool
	array *lua.LTable
}

func (c *goConverter) value(lv lua.LValue) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		if f := float64(v); f == float64(int64(f)) {
			return int64(f)
		}
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LUserData:
		return v.Value
	case *lua.LTable:
		if c.open[v] {
			return nil
		}
		c.open[v] = true
		defer delete(c.open, v)
		if n, ok := sequenceLen(v); ok && (n > 0 || v.Metatable == c.array) {
			return c.slice(v, n)
		}
		return c.record(v)
	default:
		return nil
	}
}

func (c *goConverter) slice(t *lua.LTable, n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = c.value(t.RawGetInt(i + 1))
	}
	return out
}

func (c *goConverter) record(t *lua.LTable) map[string]any {
	out := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		out[tableKey(k)] = c.value(v)
	})
	return out
}

// sequenceLen reports whether t holds exactly the keys 1..n. An empty
// table is a sequence of length 0.
func sequenceLen(t *lua.LTable) (int, bool) {
	var count, highest int
	seq := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		kn, ok := k.(lua.LNumber)
		if !ok || float64(kn) != float64(int(kn)) || kn < 1 {
			seq = false
			return
		}
		highest = max(highest, int(kn))
	})
	return highest, seq && count == highest
}

func tableKey(k lua.LValue) string {
	switch kv := k.(type) {
	case lua.LString:
		return string(kv)
	case lua.LNumber:
		return fmt.Sprintf("%v", float64(kv))
	default:
		return k.String()
	}
}

// ToLuaValue converts a Go value to a Lua value. Value trees built from
// maps, slices and scalars convert directly; other types go through
// reflection, with structs keyed by json tag.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case error:
		return lua.LString(val.Error())
	case []any:
		t := b.newArray(len(val))
		for i, item := range val {
			t.RawSetInt(i+1, b.ToLuaValue(item))
		}
		return t
	case map[string]any:
		t := b.L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, b.ToLuaValue(item))
		}
		return t
	}
	return b.reflectToLua(reflect.ValueOf(v))
}

func (b *Bridge) reflectToLua(rv reflect.Value) lua.LValue {
	switch rv.Kind() {
	case reflect.Invalid:
		return lua.LNil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.ToLuaValue(rv.Elem().Interface())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.Slice, reflect.Array:
		t := b.newArray(rv.Len())
		for i := range rv.Len() {
			t.RawSetInt(i+1, b.ToLuaValue(rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		t := b.L.CreateTable(0, rv.Len())
		for it := rv.MapRange(); it.Next(); {
			t.RawSet(b.ToLuaValue(it.Key().Interface()), b.ToLuaValue(it.Value().Interface()))
		}
		return t
	case reflect.Struct:
		return b.structToTable(rv)
	default:
		ud := b.L.NewUserData()
		ud.Value = rv.Interface()
		return ud
	}
}

// newArray creates a table marked as coming from a Go slice.
func (b *Bridge) newArray(n int) *lua.LTable {
	t := b.L.CreateTable(n, 0)
	t.Metatable = b.array
	return t
}

// structToTable converts a Go struct to a Lua table keyed by json tag or
// field name.
func (b *Bridge) structToTable(rv reflect.Value) *lua.LTable {
	t := b.L.NewTable()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue
		}

		name := field.Name
		if tag, _, _ := strings.Cut(field.Tag.Get("json"), ","); tag == "-" {
			continue
		} else if tag != "" {
			name = tag
		}

		t.RawSetString(name, b.ToLuaValue(rv.Field(i).Interface()))
	}

	return t
}

// EventToTable converts an event to the table handlers receive.
func (b *Bridge) EventToTable(e event.Event) *lua.LTable {
	t := b.L.CreateTable(0, 7)
	t.RawSetString("id", lua.LString(e.ID))
	t.RawSetString("type", lua.LString(e.Type))
	t.RawSetString("identifier", lua.LString(e.Identifier))
	t.RawSetString("payload", b.ToLuaValue(e.Payload))
	t.RawSetString("timestamp_ms", lua.LNumber(e.TimestampMS))
	t.RawSetString("cancelled", lua.LBool(e.Cancelled))
	if e.Source != "" {
		t.RawSetString("source", lua.LString(e.Source))
	}
	return t
}

// ApplyTable returns e with the payload and cancelled flag taken from t.
// The other fields of t are ignored.
func (b *Bridge) ApplyTable(e event.Event, t *lua.LTable) event.Event {
	e.Payload = b.ToGoValue(t.RawGetString("payload"))
	e.Cancelled = lua.LVAsBool(t.RawGetString("cancelled"))
	return e
}

// TableToEvent builds a new event from a table passed to ctx:emit. The
// type field is required; identifier, payload and source are optional.
func (b *Bridge) TableToEvent(t *lua.LTable) (event.Event, error) {
	typ, err := event.ParseType(lua.LVAsString(t.RawGetString("type")))
	if err != nil {
		return event.Event{}, err
	}
	e := event.New(typ, lua.LVAsString(t.RawGetString("identifier")), b.ToGoValue(t.RawGetString("payload")))
	e.Source = lua.LVAsString(t.RawGetString("source"))
	return e, nil
}
