// Package registry holds the pages and extension slots pilets contribute
// to a host session.
package registry

import (
	"sort"
	"sync"

	"github.com/HerbHall/pilethost/pkg/pilet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher announces registry mutations. *event.Emitter satisfies it.
type Publisher interface {
	Emit(eventType pilet.EventType, payload any)
}

// Reference identifies the pilet that made a registration.
type Reference struct {
	Name string `json:"name"`
}

// Extension is one contribution to a named slot.
type Extension struct {
	ID        string          `json:"id"`
	Slot      string          `json:"slot"`
	Component pilet.Component `json:"-"`
	Defaults  pilet.Params    `json:"defaults,omitempty"`
	Reference Reference       `json:"reference"`
}

// Page maps a route to a component.
type Page struct {
	Route     string          `json:"route"`
	Component pilet.Component `json:"-"`
	Reference Reference       `json:"reference"`
}

// Registry stores pages and ordered extension slots.
type Registry struct {
	mu         sync.RWMutex
	pages      map[string]Page
	extensions map[string][]Extension // slot -> contributions in registration order
	events     Publisher
	logger     *zap.Logger
}

// New creates an empty registry.
func New(events Publisher, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		pages:      make(map[string]Page),
		extensions: make(map[string][]Extension),
		events:     events,
		logger:     logger,
	}
}

// RegisterPage maps route to component on behalf of owner. A previous page
// under the same route is replaced.
func (r *Registry) RegisterPage(owner, route string, component pilet.Component) {
	r.mu.Lock()
	_, replaced := r.pages[route]
	r.pages[route] = Page{Route: route, Component: component, Reference: Reference{Name: owner}}
	r.mu.Unlock()

	r.logger.Debug("page registered",
		zap.String("route", route),
		zap.String("owner", owner),
		zap.Bool("replaced", replaced),
	)
	r.emit(pilet.EventRegisterPage, pilet.PageEvent{Route: route, Owner: owner})
}

// UnregisterPage removes the page under route. No-op if absent.
func (r *Registry) UnregisterPage(route string) {
	r.mu.Lock()
	p, ok := r.pages[route]
	delete(r.pages, route)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.logger.Debug("page unregistered", zap.String("route", route))
	r.emit(pilet.EventUnregisterPage, pilet.PageEvent{Route: route, Owner: p.Reference.Name})
}

// Page returns the page registered under route.
func (r *Registry) Page(route string) (Page, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pages[route]
	return p, ok
}

// Pages returns every registered page sorted by route.
func (r *Registry) Pages() []Page {
	r.mu.RLock()
	out := make([]Page, 0, len(r.pages))
	for _, p := range r.pages {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

// RegisterExtension appends component to slot on behalf of owner and
// returns the registration ID. defaults is copied.
func (r *Registry) RegisterExtension(owner, slot string, component pilet.Component, defaults pilet.Params) string {
	if defaults != nil {
		defaults = pilet.Merge(nil, defaults)
	}
	ext := Extension{
		ID:        uuid.NewString(),
		Slot:      slot,
		Component: component,
		Defaults:  defaults,
		Reference: Reference{Name: owner},
	}

	r.mu.Lock()
	r.extensions[slot] = append(r.extensions[slot], ext)
	n := len(r.extensions[slot])
	r.mu.Unlock()

	r.logger.Debug("extension registered",
		zap.String("slot", slot),
		zap.String("owner", owner),
		zap.Int("position", n-1),
	)
	r.emit(pilet.EventRegisterExtension, pilet.ExtensionEvent{Slot: slot, Owner: owner, ID: ext.ID})
	return ext.ID
}

// UnregisterExtension removes the first contribution to slot whose
// component is the same as component. No-op if none matches.
func (r *Registry) UnregisterExtension(slot string, component pilet.Component) {
	r.mu.Lock()
	list := r.extensions[slot]
	idx := -1
	for i, ext := range list {
		if pilet.SameComponent(ext.Component, component) {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	removed := list[idx]
	list = append(list[:idx:idx], list[idx+1:]...)
	if len(list) == 0 {
		delete(r.extensions, slot)
	} else {
		r.extensions[slot] = list
	}
	r.mu.Unlock()

	r.logger.Debug("extension unregistered",
		zap.String("slot", slot),
		zap.String("owner", removed.Reference.Name),
	)
	r.emit(pilet.EventUnregisterExtension, pilet.ExtensionEvent{
		Slot:  slot,
		Owner: removed.Reference.Name,
		ID:    removed.ID,
	})
}

// GetExtensions returns the contributions to slot in registration order.
// An unknown slot yields an empty, non-nil slice. The result is a copy.
func (r *Registry) GetExtensions(slot string) []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Extension, len(r.extensions[slot]))
	copy(out, r.extensions[slot])
	return out
}

// Slots returns the names of every slot with at least one contribution,
// sorted.
func (r *Registry) Slots() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.extensions))
	for name := range r.extensions {
		out = append(out, name)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Counts returns the number of pages and extension contributions.
func (r *Registry) Counts() (pages, extensions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, list := range r.extensions {
		extensions += len(list)
	}
	return len(r.pages), extensions
}

func (r *Registry) emit(t pilet.EventType, payload any) {
	if r.events != nil {
		r.events.Emit(t, payload)
	}
}
