package pilet

import "errors"

// ErrNotInvocable is returned when a loaded module is not a callable setup.
var ErrNotInvocable = errors.New("module does not export a setup function")

// Invocable is a loaded module that can be called with the capability surface.
type Invocable interface {
	Invoke(api API) error
}

// SetupFunc is the simplest pilet shape: a function receiving the API.
type SetupFunc func(api API)

// Invoke implements Invocable.
func (f SetupFunc) Invoke(api API) error {
	f(api)
	return nil
}

// SetupFuncE is a setup function that can report failure.
type SetupFuncE func(api API) error

// Invoke implements Invocable.
func (f SetupFuncE) Invoke(api API) error {
	return f(api)
}

// AsInvocable reports whether a loaded module value is callable with the
// API and returns it as an Invocable.
func AsInvocable(module any) (Invocable, bool) {
	switch m := module.(type) {
	case nil:
		return nil, false
	case Invocable:
		return m, true
	case func(API):
		if m == nil {
			return nil, false
		}
		return SetupFunc(m), true
	case func(API) error:
		if m == nil {
			return nil, false
		}
		return SetupFuncE(m), true
	default:
		return nil, false
	}
}
