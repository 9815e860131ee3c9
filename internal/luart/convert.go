package luart

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/HerbHall/pilethost/pkg/pilet"
	lua "github.com/yuin/gopher-lua"
)

// toGo converts a Lua value to plain Go data. Integral numbers become
// int64, other numbers float64. Tables with keys 1..n become []any, other
// tables map[string]any. Functions convert to nil.
func toGo(lv lua.LValue) any {
	return toGoVisited(lv, make(map[*lua.LTable]bool))
}

func toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

// storable reports whether lv converts to Go without losing anything:
// functions, threads and channels cannot be stored, at any depth.
func storable(lv lua.LValue) bool {
	return storableVisited(lv, make(map[*lua.LTable]bool))
}

func storableVisited(lv lua.LValue, visited map[*lua.LTable]bool) bool {
	switch v := lv.(type) {
	case *lua.LFunction, *lua.LState, lua.LChannel:
		return false
	case *lua.LTable:
		if visited[v] {
			return true
		}
		visited[v] = true
		ok := true
		v.ForEach(func(k, item lua.LValue) {
			if ok && !(storableVisited(k, visited) && storableVisited(item, visited)) {
				ok = false
			}
		})
		return ok
	}
	return true
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && n == count {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = toGoVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kv), 'f', -1, 64)
		default:
			key = k.String()
		}
		m[key] = toGoVisited(v, visited)
	})
	return m
}

// toParams converts a Lua table to params. Anything else yields nil.
func toParams(lv lua.LValue) pilet.Params {
	t, ok := lv.(*lua.LTable)
	if !ok {
		return nil
	}
	switch v := toGo(t).(type) {
	case map[string]any:
		return v
	case []any:
		p := make(pilet.Params, len(v))
		for i, item := range v {
			p[strconv.Itoa(i+1)] = item
		}
		return p
	}
	return nil
}

// toLua converts Go data to a Lua value. Components become userdata that
// can be handed back to registerExtension. mu must be held.
func (s *state) toLua(v any) lua.LValue {
	L := s.L
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
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case pilet.Params:
		return s.toLua(map[string]any(val))
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, s.toLua(item))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, s.toLua(item))
		}
		return t
	case pilet.Component:
		ud := L.NewUserData()
		ud.Value = val
		return ud
	case fmt.Stringer:
		return lua.LString(val.String())
	}
	return s.reflectToLua(reflect.ValueOf(v))
}

func (s *state) reflectToLua(rv reflect.Value) lua.LValue {
	switch rv.Kind() {
	case reflect.Invalid:
		return lua.LNil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return s.toLua(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		t := s.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, s.toLua(rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		t := s.L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(s.toLua(iter.Key().Interface()), s.toLua(iter.Value().Interface()))
		}
		return t
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.String:
		return lua.LString(rv.String())
	}
	return lua.LString(fmt.Sprint(rv.Interface()))
}
