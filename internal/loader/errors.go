package loader

import "fmt"

// LoadError reports a module that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load plugin %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// InvocationError reports a module whose setup function failed or panicked.
type InvocationError struct {
	Path string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke plugin %s: %v", e.Path, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from plugin code.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
