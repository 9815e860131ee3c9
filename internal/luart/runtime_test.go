package luart_test

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/pilethost/internal/host"
	"github.com/HerbHall/pilethost/internal/luart"
	"github.com/HerbHall/pilethost/internal/testutil"
	"github.com/HerbHall/pilethost/pkg/pilet"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	fs      afero.Fs
	rt      *luart.Runtime
	session *host.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	rt := luart.New(luart.WithFs(fs))
	s, err := host.New(nil, nil, host.WithFs(fs), host.WithModuleLoader(rt))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rt.Close()
		_ = s.Close()
	})
	return &harness{fs: fs, rt: rt, session: s}
}

// load writes src as the entry of plugin name and loads it.
func (h *harness) load(t *testing.T, name, src string) (any, error) {
	t.Helper()
	dir := testutil.WritePlugin(t, h.fs, testutil.NewPlugin(
		testutil.WithDir("/plugins"),
		testutil.WithName(name),
		testutil.WithSource(src),
	))
	return h.rt.Load(dir)
}

// invoke loads and runs plugin name with its API.
func (h *harness) invoke(t *testing.T, name, src string) error {
	t.Helper()
	mod, err := h.load(t, name, src)
	require.NoError(t, err)
	inv, ok := pilet.AsInvocable(mod)
	require.True(t, ok, "module should be invocable, got %T", mod)
	return inv.Invoke(h.session.API(pilet.Meta{Name: name, Path: "/plugins/" + name, Source: "local"}))
}

func (h *harness) render(t *testing.T, slot string, params pilet.Params) string {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, h.session.API(pilet.Meta{Name: "host"}).RenderExtension(&sb, slot, params))
	return sb.String()
}

func TestLoadReturnsModuleForFunction(t *testing.T) {
	h := newHarness(t)
	mod, err := h.load(t, "p", `return function(api) end`)
	require.NoError(t, err)

	m, ok := mod.(*luart.Module)
	require.True(t, ok)
	assert.Equal(t, "/plugins/p", m.Path())
}

func TestLoadNonFunction(t *testing.T) {
	h := newHarness(t)

	mod, err := h.load(t, "table", `return { name = "x", list = { 1, 2 } }`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x", "list": []any{int64(1), int64(2)}}, mod)
	_, ok := pilet.AsInvocable(mod)
	assert.False(t, ok)

	mod, err = h.load(t, "nothing", `local x = 1`)
	require.NoError(t, err)
	assert.Nil(t, mod)
}

func TestLoadErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.rt.Load("/plugins/missing")
	assert.Error(t, err)

	_, err = h.load(t, "syntax", `return function(`)
	assert.ErrorContains(t, err, "compile")

	_, err = h.load(t, "raises", `error("boom")`)
	assert.ErrorContains(t, err, "boom")
}

func TestCustomEntry(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/p/main.lua", []byte(`return 42`), 0o644))
	rt := luart.New(luart.WithFs(fs), luart.WithEntry("main.lua"))
	defer rt.Close()

	mod, err := rt.Load("/p")
	require.NoError(t, err)
	assert.Equal(t, int64(42), mod)
}

func TestInvokeRegistersExtensions(t *testing.T) {
	h := newHarness(t)
	err := h.invoke(t, "pilethost-cli-menu", `
return function(api)
  api.registerExtension("menu", function(p) return "[" .. p.label .. "]" end, { label = "default" })
  api.registerExtension("menu", "static")
end`)
	require.NoError(t, err)

	assert.Equal(t, "[default]static", h.render(t, "menu", nil))
	assert.Equal(t, "[given]static", h.render(t, "menu", pilet.Params{"label": "given"}))

	exts := h.session.Registry.GetExtensions("menu")
	require.Len(t, exts, 2)
	assert.Equal(t, "pilethost-cli-menu", exts[0].Reference.Name)
}

func TestUnregisterUsesSameFunction(t *testing.T) {
	h := newHarness(t)
	err := h.invoke(t, "p", `
local function a() return "a" end
local function b() return "b" end
return function(api)
  api.registerExtension("s", a)
  api.registerExtension("s", b)
  api.unregisterExtension("s", a)
  api.unregisterExtension("s", function() return "a" end)
  api.registerPage("/x", a)
  api.unregisterPage("/x")
end`)
	require.NoError(t, err)

	assert.Equal(t, "b", h.render(t, "s", nil))
	_, ok := h.session.Registry.Page("/x")
	assert.False(t, ok)
}

func TestDataBridge(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.session.API(pilet.Meta{Name: "go"}).SetData("fromGo", map[string]any{"n": 3}))

	err := h.invoke(t, "p", `
return function(api)
  assert(api.getData("missing") == nil)
  local v = api.getData("fromGo")
  assert(v.n == 3, "n should be 3")
  assert(api.setData("fromGo", 1) == false)
  assert(api.setData("mine", { a = 1, b = { true, "x" } }, { target = "remote", ttl = 60 }))
  api.setData("meta", api.meta.name .. "@" .. api.meta.source)
end`)
	require.NoError(t, err)

	e, ok := h.session.Data.Lookup("mine")
	require.True(t, ok)
	assert.Equal(t, pilet.TargetRemote, e.Target)
	assert.Equal(t, "p", e.Owner)
	assert.False(t, e.Expires.IsZero())
	assert.Equal(t, map[string]any{"a": int64(1), "b": []any{true, "x"}}, e.Value)

	v, _ := h.session.Data.Get("meta")
	assert.Equal(t, "p@local", v)
}

func TestSetDataRejectsUnknownTarget(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.invoke(t, "p", `
return function(api)
  api.setData("accepted", api.setData("k", 1, { target = "cloud" }))
end`))

	api := h.session.API(pilet.Meta{Name: "host"})
	_, ok := api.GetData("k")
	assert.False(t, ok)
	accepted, _ := api.GetData("accepted")
	assert.Equal(t, false, accepted)
}

func TestSetDataRejectsUnconvertibleValues(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.invoke(t, "p", `
return function(api)
  api.setData("k", "kept")
  local fn = api.setData("k", function() end)
  local builtin = api.setData("k", print)
  api.setData("results", { fn, builtin })
end`))

	api := h.session.API(pilet.Meta{Name: "host"})
	v, ok := api.GetData("k")
	require.True(t, ok)
	assert.Equal(t, "kept", v)
	results, _ := api.GetData("results")
	assert.Equal(t, []any{false, false}, results)
}

func TestInvokeErrorsAreReturned(t *testing.T) {
	h := newHarness(t)
	err := h.invoke(t, "p", `return function(api) error("setup failed") end`)
	assert.ErrorContains(t, err, "setup failed")

	err = h.invoke(t, "q", `return function(api) api.registerExtension("s", 42) end`)
	assert.ErrorContains(t, err, "component expected")
}

func TestRenderExtensionFromLua(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.invoke(t, "inner", `
return function(api)
  api.registerExtension("inner", function(p) return "<" .. tostring(p.who) .. ">" end)
end`))
	require.NoError(t, h.invoke(t, "outer", `
return function(api)
  api.registerExtension("outer", function(p)
    return "outer" .. api.renderExtension("inner", { who = "lua" })
  end)
  api.registerExtension("nested", api.extension("inner", { who = "embedded" }))
end`))

	assert.Equal(t, "outer<lua>", h.render(t, "outer", nil))
	assert.Equal(t, "<embedded>", h.render(t, "nested", nil))
}

func TestComponentsRenderConcurrently(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.invoke(t, "p", `
local count = 0
return function(api)
  api.registerExtension("s", function(p) count = count + 1; return tostring(p.i) end)
end`))

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var sb strings.Builder
			err := h.session.API(pilet.Meta{Name: "host"}).RenderExtension(&sb, "s", pilet.Params{"i": i})
			assert.NoError(t, err)
			assert.Equal(t, strconv.Itoa(i), sb.String())
		}()
	}
	wg.Wait()
}

func TestNestedRenderFromConcurrentCallers(t *testing.T) {
	h := newHarness(t)
	h.session.API(pilet.Meta{Name: "host"}).RegisterExtension("inner",
		pilet.NewComponent("slow", func(pilet.Params) (string, error) {
			time.Sleep(20 * time.Millisecond)
			return "in", nil
		}), nil)
	require.NoError(t, h.invoke(t, "p", `
return function(api)
  api.registerExtension("outer", function(p)
    return "A" .. p.i .. ":" .. api.renderExtension("inner")
  end)
end`))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var sb strings.Builder
			err := h.session.API(pilet.Meta{Name: "host"}).RenderExtension(&sb, "outer", pilet.Params{"i": i})
			assert.NoError(t, err)
			assert.Equal(t, "A"+strconv.Itoa(i)+":in", sb.String())
		}()
	}
	wg.Wait()
}

func TestCloseStopsComponents(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.invoke(t, "p", `
return function(api) api.registerExtension("s", function() return "x" end) end`))

	require.NoError(t, h.rt.Close())

	var sb strings.Builder
	err := h.session.API(pilet.Meta{Name: "host"}).RenderExtension(&sb, "s", nil)
	assert.ErrorIs(t, err, luart.ErrStateClosed)

	_, err = h.load(t, "late", `return function() end`)
	assert.ErrorIs(t, err, luart.ErrStateClosed)
}
