package pilet

import (
	"reflect"
	"strings"
)

// Params are the parameters a component is rendered with.
type Params map[string]any

// Merge returns a shallow merge of defaults and params. Values in params
// take precedence. Neither input is modified.
func Merge(defaults, params Params) Params {
	out := make(Params, len(defaults)+len(params))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}

// Component is a unit of UI a pilet contributes. The presentation layer
// decides what the rendered string means (HTML fragment, text, ...).
type Component interface {
	Render(params Params) (string, error)
}

// Named is implemented by components that carry a display name. The name
// is used to key rendered slot items.
type Named interface {
	DisplayName() string
}

// FuncComponent adapts a function to Component. Always use it through the
// pointer returned by NewComponent: the pointer is the component identity.
type FuncComponent struct {
	name string
	fn   func(Params) (string, error)
}

// NewComponent creates a component backed by fn.
func NewComponent(name string, fn func(Params) (string, error)) *FuncComponent {
	return &FuncComponent{name: name, fn: fn}
}

// Render implements Component.
func (c *FuncComponent) Render(params Params) (string, error) {
	if c.fn == nil {
		return "", nil
	}
	return c.fn(params)
}

// DisplayName implements Named.
func (c *FuncComponent) DisplayName() string {
	return c.name
}

// Text returns a component that always renders s.
func Text(name, s string) *FuncComponent {
	return NewComponent(name, func(Params) (string, error) { return s, nil })
}

// SameComponent reports whether a and b are the same component. Comparable
// dynamic types use ==; funcs, maps and slices compare by pointer.
func SameComponent(a, b Component) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Func, reflect.Map, reflect.Slice:
		return va.Pointer() == vb.Pointer()
	default:
		return false
	}
}

// DisplayName returns the display name of c, or "" if it has none.
func DisplayName(c Component) string {
	if n, ok := c.(Named); ok {
		return n.DisplayName()
	}
	return ""
}

// RenderFunc wraps the rendered items of a slot into the final output.
type RenderFunc func(items []string) string

// DefaultRender concatenates items in order.
func DefaultRender(items []string) string {
	return strings.Join(items, "")
}

// SlotOptions control how an extension slot is rendered.
type SlotOptions struct {
	// Empty is rendered when the slot has no contributors.
	Empty Component
	// Render wraps the rendered items. Defaults to DefaultRender.
	Render RenderFunc
	// Params are merged over each contribution's defaults.
	Params Params
}

// SlotOption configures SlotOptions.
type SlotOption func(*SlotOptions)

// WithEmpty sets the fallback rendered for a slot without contributors.
func WithEmpty(c Component) SlotOption {
	return func(o *SlotOptions) { o.Empty = c }
}

// WithRender sets the function wrapping rendered slot items.
func WithRender(fn RenderFunc) SlotOption {
	return func(o *SlotOptions) { o.Render = fn }
}

// WithParams sets caller-supplied params for every contribution.
func WithParams(p Params) SlotOption {
	return func(o *SlotOptions) { o.Params = p }
}

// NewSlotOptions applies opts over the defaults.
func NewSlotOptions(opts ...SlotOption) SlotOptions {
	o := SlotOptions{Render: DefaultRender}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Render == nil {
		o.Render = DefaultRender
	}
	return o
}
