package pilet

import "time"

// EventType names a kind of session event.
type EventType string

// Session events.
const (
	EventStoreData           EventType = "store-data"
	EventRegisterPage        EventType = "register-page"
	EventUnregisterPage      EventType = "unregister-page"
	EventRegisterExtension   EventType = "register-extension"
	EventUnregisterExtension EventType = "unregister-extension"
	EventLoadPilet           EventType = "load-pilet"
)

// Event is a message on the session emitter.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any // Type depends on Type
}

// StoreDataEvent is the payload of EventStoreData. Its fields equal the
// stored entry; Value is nil when the entry was removed.
type StoreDataEvent struct {
	Name    string    `json:"name"`
	Target  Target    `json:"target"`
	Value   any       `json:"value"`
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires,omitzero"`
}

// PageEvent is the payload of EventRegisterPage and EventUnregisterPage.
type PageEvent struct {
	Route string `json:"route"`
	Owner string `json:"owner"`
}

// ExtensionEvent is the payload of EventRegisterExtension and
// EventUnregisterExtension.
type ExtensionEvent struct {
	Slot  string `json:"slot"`
	Owner string `json:"owner"`
	ID    string `json:"id"`
}

// PiletEvent is the payload of EventLoadPilet.
type PiletEvent struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Source string `json:"source"`
}
