package luart

import (
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/pilethost/pkg/pilet"
	lua "github.com/yuin/gopher-lua"
)

// Module is a loaded Lua plugin whose chunk returned a setup function.
type Module struct {
	st   *state
	fn   *lua.LFunction
	path string
}

// Path returns the plugin directory the module was loaded from.
func (m *Module) Path() string { return m.path }

// Invoke calls the setup function with a table exposing api.
func (m *Module) Invoke(api pilet.API) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	if m.st.closed {
		return ErrStateClosed
	}
	_, err := m.st.call(m.fn, 0, m.st.apiTable(api))
	return err
}

// apiTable builds the capability table handed to the setup function.
// mu must be held.
func (s *state) apiTable(api pilet.API) *lua.LTable {
	L := s.L
	t := L.NewTable()

	meta := api.Meta()
	mt := L.NewTable()
	mt.RawSetString("name", lua.LString(meta.Name))
	mt.RawSetString("path", lua.LString(meta.Path))
	mt.RawSetString("source", lua.LString(meta.Source))
	t.RawSetString("meta", mt)

	t.RawSetString("getData", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		var (
			v  any
			ok bool
		)
		s.unlocked(func() { v, ok = api.GetData(key) })
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(s.toLua(v))
		return 1
	}))

	t.RawSetString("setData", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if !storable(L.Get(2)) {
			L.Push(lua.LFalse)
			return 1
		}
		value := toGo(L.Get(2))
		opts, err := dataOptions(L.OptTable(3, nil))
		if err != nil {
			L.Push(lua.LFalse)
			return 1
		}
		var ok bool
		s.unlocked(func() { ok = api.SetData(key, value, opts...) })
		L.Push(lua.LBool(ok))
		return 1
	}))

	t.RawSetString("registerPage", L.NewFunction(func(L *lua.LState) int {
		route := L.CheckString(1)
		c := s.checkComponent(L, 2)
		s.unlocked(func() { api.RegisterPage(route, c) })
		return 0
	}))

	t.RawSetString("unregisterPage", L.NewFunction(func(L *lua.LState) int {
		route := L.CheckString(1)
		s.unlocked(func() { api.UnregisterPage(route) })
		return 0
	}))

	t.RawSetString("registerExtension", L.NewFunction(func(L *lua.LState) int {
		slot := L.CheckString(1)
		c := s.checkComponent(L, 2)
		defaults := toParams(L.Get(3))
		s.unlocked(func() { api.RegisterExtension(slot, c, defaults) })
		return 0
	}))

	t.RawSetString("unregisterExtension", L.NewFunction(func(L *lua.LState) int {
		slot := L.CheckString(1)
		c := s.checkComponent(L, 2)
		s.unlocked(func() { api.UnregisterExtension(slot, c) })
		return 0
	}))

	t.RawSetString("renderExtension", L.NewFunction(func(L *lua.LState) int {
		slot := L.CheckString(1)
		params := toParams(L.Get(2))
		var (
			sb  strings.Builder
			err error
		)
		s.unlocked(func() { err = api.RenderExtension(&sb, slot, params) })
		if err != nil {
			L.RaiseError("render %s: %v", slot, err)
			return 0
		}
		L.Push(lua.LString(sb.String()))
		return 1
	}))

	t.RawSetString("extension", L.NewFunction(func(L *lua.LState) int {
		slot := L.CheckString(1)
		params := toParams(L.Get(2))
		var c pilet.Component
		s.unlocked(func() { c = api.Extension(slot, pilet.WithParams(params)) })
		ud := L.NewUserData()
		ud.Value = c
		L.Push(ud)
		return 1
	}))

	return t
}

// checkComponent converts argument n into a component: a Lua function, a
// string rendered verbatim, or a component userdata from api.extension.
func (s *state) checkComponent(L *lua.LState, n int) pilet.Component {
	v := L.Get(n)
	switch lv := v.(type) {
	case *lua.LFunction, lua.LString:
		return s.component(lv)
	case *lua.LUserData:
		if c, ok := lv.Value.(pilet.Component); ok {
			return c
		}
	}
	L.ArgError(n, "component expected (function, string or extension)")
	return nil
}

// component returns the cached wrapper of v. mu must be held.
func (s *state) component(v lua.LValue) *component {
	if c, ok := s.components[v]; ok {
		return c
	}
	c := &component{st: s, value: v}
	s.components[v] = c
	return c
}

// component renders a Lua function or string.
type component struct {
	st    *state
	value lua.LValue
}

// Render implements pilet.Component. A function receives the params table
// and its first return value is converted with tostring.
func (c *component) Render(params pilet.Params) (string, error) {
	if str, ok := c.value.(lua.LString); ok {
		return string(str), nil
	}
	fn := c.value.(*lua.LFunction)

	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	rets, err := c.st.call(fn, 1, c.st.toLua(params))
	if err != nil {
		return "", err
	}
	if rets[0] == lua.LNil {
		return "", nil
	}
	return c.st.tostring(rets[0])
}

// DisplayName implements pilet.Named.
func (c *component) DisplayName() string {
	return c.st.name
}

// dataOptions reads {target=, expires=, ttl=} where expires is a Unix
// timestamp and ttl a number of seconds.
func dataOptions(t *lua.LTable) ([]pilet.DataOption, error) {
	if t == nil {
		return nil, nil
	}
	var opts []pilet.DataOption
	if v := t.RawGetString("target"); v != lua.LNil {
		target := pilet.Target(lua.LVAsString(v))
		if !target.Valid() {
			return nil, fmt.Errorf("unknown target %q", target)
		}
		opts = append(opts, pilet.WithTarget(target))
	}
	if v, ok := t.RawGetString("expires").(lua.LNumber); ok {
		sec := float64(v)
		opts = append(opts, pilet.ExpiresAt(time.Unix(0, int64(sec*float64(time.Second)))))
	}
	if v, ok := t.RawGetString("ttl").(lua.LNumber); ok {
		opts = append(opts, pilet.ExpiresIn(time.Duration(float64(v)*float64(time.Second))))
	}
	return opts, nil
}
