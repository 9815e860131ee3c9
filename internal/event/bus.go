// Package event provides the session-wide publish/subscribe hub pilets and
// host components announce mutations through.
package event

import (
	"sync"
	"time"

	"github.com/HerbHall/pilethost/pkg/pilet"
	"go.uber.org/zap"
)

// Listener receives events. Listeners run synchronously on the emitting
// goroutine; a panicking listener panics the emitter's caller.
type Listener func(event pilet.Event)

// Emitter is an in-memory typed event hub. Emit is synchronous and
// dispatches to listeners in subscription order.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[pilet.EventType][]handlerEntry // type -> listeners
	allSubs  []handlerEntry                     // listeners for every type
	nextID   uint64
	now      func() time.Time
	logger   *zap.Logger
}

type handlerEntry struct {
	id       uint64
	listener Listener
}

// NewEmitter creates an event emitter.
func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		handlers: make(map[pilet.EventType][]handlerEntry),
		now:      time.Now,
		logger:   logger,
	}
}

// On registers listener for eventType and returns the emitter for chaining.
func (e *Emitter) On(eventType pilet.EventType, listener Listener) *Emitter {
	e.Subscribe(eventType, listener)
	return e
}

// Subscribe registers listener for eventType. Returns an unsubscribe function.
func (e *Emitter) Subscribe(eventType pilet.EventType, listener Listener) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[eventType] = append(e.handlers[eventType], handlerEntry{id: id, listener: listener})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		entries := e.handlers[eventType]
		for i, h := range entries {
			if h.id == id {
				e.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers listener for every event type. Returns an
// unsubscribe function.
func (e *Emitter) SubscribeAll(listener Listener) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.allSubs = append(e.allSubs, handlerEntry{id: id, listener: listener})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, h := range e.allSubs {
			if h.id == id {
				e.allSubs = append(e.allSubs[:i:i], e.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Emit dispatches payload to the listeners of eventType, then to the
// listeners subscribed to every type. Listeners added during dispatch
// receive the next emission, not this one.
func (e *Emitter) Emit(eventType pilet.EventType, payload any) {
	e.mu.RLock()
	typed := make([]handlerEntry, len(e.handlers[eventType]))
	copy(typed, e.handlers[eventType])
	all := make([]handlerEntry, len(e.allSubs))
	copy(all, e.allSubs)
	e.mu.RUnlock()

	ev := pilet.Event{
		Type:      eventType,
		Timestamp: e.now(),
		Payload:   payload,
	}

	e.logger.Debug("emit",
		zap.String("type", string(eventType)),
		zap.Int("listeners", len(typed)+len(all)),
	)

	for _, h := range typed {
		h.listener(ev)
	}
	for _, h := range all {
		h.listener(ev)
	}
}

// Count returns the number of listeners subscribed to eventType, not
// counting listeners subscribed to every type.
func (e *Emitter) Count(eventType pilet.EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[eventType])
}
