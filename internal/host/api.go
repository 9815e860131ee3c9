package host

import (
	"io"

	"github.com/HerbHall/pilethost/internal/slot"
	"github.com/HerbHall/pilethost/pkg/pilet"
)

// pluginAPI is the capability surface of one plugin. It carries the
// plugin's identity over the session's shared registry and store.
type pluginAPI struct {
	s    *Session
	meta pilet.Meta
}

// API returns the capability surface bound to meta.Name. Every view over
// the same session shares its registry and data store.
func (s *Session) API(meta pilet.Meta) pilet.API {
	return &pluginAPI{s: s, meta: meta}
}

func (a *pluginAPI) Meta() pilet.Meta { return a.meta }

func (a *pluginAPI) RegisterPage(route string, component pilet.Component) {
	a.s.Registry.RegisterPage(a.meta.Name, route, component)
}

func (a *pluginAPI) UnregisterPage(route string) {
	a.s.Registry.UnregisterPage(route)
}

func (a *pluginAPI) RegisterExtension(name string, component pilet.Component, defaults pilet.Params) {
	a.s.Registry.RegisterExtension(a.meta.Name, name, component, defaults)
}

func (a *pluginAPI) UnregisterExtension(name string, component pilet.Component) {
	a.s.Registry.UnregisterExtension(name, component)
}

func (a *pluginAPI) GetData(key string) (any, bool) {
	return a.s.Data.Get(key)
}

func (a *pluginAPI) SetData(key string, value any, opts ...pilet.DataOption) bool {
	return a.s.Data.Set(a.meta.Name, key, value, opts...)
}

func (a *pluginAPI) RenderExtension(w io.Writer, name string, params pilet.Params) error {
	return slot.Render(w, a.s.Registry, name, pilet.WithParams(params))
}

func (a *pluginAPI) Extension(name string, opts ...pilet.SlotOption) pilet.Component {
	return slot.Extension(a.s.Registry, name, opts...)
}
