// Package slot composes the contents of a named extension slot for the
// presentation layer: which components render, in what order, with which
// params.
package slot

import (
	"fmt"
	"io"
	"strconv"

	"github.com/HerbHall/pilethost/internal/registry"
	"github.com/HerbHall/pilethost/pkg/pilet"
)

// Source provides the contributions of a slot. *registry.Registry
// satisfies it.
type Source interface {
	GetExtensions(slot string) []registry.Extension
}

// Item is one component to render in a slot.
type Item struct {
	Key       string
	Component pilet.Component
	Params    pilet.Params
}

// Compose returns the items of the named slot. A slot without
// contributors yields the Empty fallback keyed "empty" when one is set,
// otherwise no items. Each contribution renders with its defaults merged
// under o.Params.
func Compose(src Source, name string, o pilet.SlotOptions) []Item {
	exts := src.GetExtensions(name)
	if len(exts) == 0 {
		if o.Empty != nil {
			return []Item{{Key: "empty", Component: o.Empty, Params: pilet.Merge(nil, o.Params)}}
		}
		return []Item{}
	}

	items := make([]Item, 0, len(exts))
	for i, ext := range exts {
		items = append(items, Item{
			Key:       itemKey(ext, i),
			Component: ext.Component,
			Params:    pilet.Merge(ext.Defaults, o.Params),
		})
	}
	return items
}

func itemKey(ext registry.Extension, i int) string {
	name := pilet.DisplayName(ext.Component)
	if name == "" {
		name = "_"
	}
	return name + strconv.Itoa(i)
}

// RenderString renders the named slot and returns the wrapped output.
func RenderString(src Source, name string, opts ...pilet.SlotOption) (string, error) {
	o := pilet.NewSlotOptions(opts...)
	items := Compose(src, name, o)

	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.Component == nil {
			continue
		}
		out, err := it.Component.Render(it.Params)
		if err != nil {
			return "", fmt.Errorf("render %s in slot %q: %w", it.Key, name, err)
		}
		parts = append(parts, out)
	}
	return o.Render(parts), nil
}

// Render writes the rendered slot into w.
func Render(w io.Writer, src Source, name string, opts ...pilet.SlotOption) error {
	out, err := RenderString(src, name, opts...)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// Component renders a slot as part of a larger component tree.
type Component struct {
	src  Source
	name string
	opts []pilet.SlotOption
}

// Extension returns a component that renders the named slot. Params given
// to Render are merged over the params in opts.
func Extension(src Source, name string, opts ...pilet.SlotOption) *Component {
	return &Component{src: src, name: name, opts: opts}
}

// Render implements pilet.Component.
func (c *Component) Render(params pilet.Params) (string, error) {
	base := pilet.NewSlotOptions(c.opts...)
	opts := append(append([]pilet.SlotOption{}, c.opts...), pilet.WithParams(pilet.Merge(base.Params, params)))
	return RenderString(c.src, c.name, opts...)
}

// DisplayName implements pilet.Named.
func (c *Component) DisplayName() string {
	return "ExtensionSlot"
}
