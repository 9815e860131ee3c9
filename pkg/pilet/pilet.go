// Package pilet provides the public SDK types for pilethost plugins ("pilets").
// A pilet receives an API value when it is invoked and uses it to contribute
// pages, extensions and shared data to the host session.
package pilet

import (
	"io"
	"time"
)

// Meta identifies the pilet an API value is bound to.
type Meta struct {
	Name   string // Base name of the plugin directory, used as data owner
	Path   string // Filesystem location the module was loaded from
	Source string // "local" or "global"
}

// ExtensionRegistryAPI mutates the session's pages and extension slots.
type ExtensionRegistryAPI interface {
	// RegisterPage maps route to component. A later registration under the
	// same route replaces the former.
	RegisterPage(route string, component Component)

	// UnregisterPage removes the mapping for route. No-op if absent.
	UnregisterPage(route string)

	// RegisterExtension appends component to the ordered contributor list
	// of the named slot. defaults may be nil.
	RegisterExtension(slot string, component Component, defaults Params)

	// UnregisterExtension removes the first contribution to slot whose
	// component is identical to component. No-op if absent.
	UnregisterExtension(slot string, component Component)
}

// DataStoreAPI reads and writes the session's shared data.
type DataStoreAPI interface {
	// GetData returns the value stored under key. The boolean is false if
	// the key was never set or has expired.
	GetData(key string) (any, bool)

	// SetData stores value under key. It returns false and leaves the store
	// unchanged when key is owned by another pilet.
	SetData(key string, value any, opts ...DataOption) bool
}

// API is the capability surface handed to every pilet at load time.
type API interface {
	ExtensionRegistryAPI
	DataStoreAPI

	// Meta returns the identity of the pilet this API is bound to.
	Meta() Meta

	// RenderExtension renders the named slot into w.
	RenderExtension(w io.Writer, slot string, params Params) error

	// Extension returns a component that renders the named slot, for
	// embedding slots inside a larger component tree.
	Extension(slot string, opts ...SlotOption) Component
}

// Storage is the external key/value medium the data store persists
// "local" entries through.
type Storage interface {
	SetItem(name, value string, expires *time.Time) error
	GetItem(name string) (value string, ok bool, err error)
	RemoveItem(name string) error
}
