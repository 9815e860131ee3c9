package event

import (
	"testing"

	"github.com/HerbHall/pilethost/pkg/pilet"
	"go.uber.org/zap"
)

func TestEmitOrder(t *testing.T) {
	e := NewEmitter(zap.NewNop())

	var got []string
	e.On(pilet.EventStoreData, func(pilet.Event) { got = append(got, "first") }).
		On(pilet.EventStoreData, func(pilet.Event) { got = append(got, "second") }).
		On(pilet.EventRegisterPage, func(pilet.Event) { got = append(got, "other") })

	e.Emit(pilet.EventStoreData, nil)

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("listeners ran as %v, want [first second]", got)
	}
}

func TestEmitPayload(t *testing.T) {
	e := NewEmitter(nil)

	var received pilet.Event
	e.On(pilet.EventStoreData, func(ev pilet.Event) { received = ev })

	payload := pilet.StoreDataEvent{Name: "k", Owner: "p1", Value: 1}
	e.Emit(pilet.EventStoreData, payload)

	if received.Type != pilet.EventStoreData {
		t.Errorf("Type = %q, want %q", received.Type, pilet.EventStoreData)
	}
	if received.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	got, ok := received.Payload.(pilet.StoreDataEvent)
	if !ok {
		t.Fatalf("Payload type = %T", received.Payload)
	}
	if got.Name != "k" || got.Owner != "p1" || got.Value != 1 {
		t.Errorf("Payload = %+v", got)
	}
}

func TestEmitNoListeners(t *testing.T) {
	e := NewEmitter(nil)
	// Must not panic.
	e.Emit(pilet.EventLoadPilet, pilet.PiletEvent{Name: "x"})
}

func TestUnsubscribe(t *testing.T) {
	e := NewEmitter(nil)

	calls := 0
	unsub := e.Subscribe(pilet.EventStoreData, func(pilet.Event) { calls++ })
	e.Emit(pilet.EventStoreData, nil)
	unsub()
	e.Emit(pilet.EventStoreData, nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if n := e.Count(pilet.EventStoreData); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}

	// Second unsubscribe is a no-op.
	unsub()
}

func TestSubscribeAll(t *testing.T) {
	e := NewEmitter(nil)

	var types []pilet.EventType
	unsub := e.SubscribeAll(func(ev pilet.Event) { types = append(types, ev.Type) })

	e.Emit(pilet.EventStoreData, nil)
	e.Emit(pilet.EventRegisterExtension, nil)
	unsub()
	e.Emit(pilet.EventRegisterPage, nil)

	if len(types) != 2 {
		t.Fatalf("received %v, want 2 events", types)
	}
	if types[0] != pilet.EventStoreData || types[1] != pilet.EventRegisterExtension {
		t.Errorf("received %v", types)
	}
}

func TestTypedListenersRunBeforeWildcard(t *testing.T) {
	e := NewEmitter(nil)

	var got []string
	e.SubscribeAll(func(pilet.Event) { got = append(got, "all") })
	e.On(pilet.EventStoreData, func(pilet.Event) { got = append(got, "typed") })

	e.Emit(pilet.EventStoreData, nil)

	if len(got) != 2 || got[0] != "typed" || got[1] != "all" {
		t.Errorf("order = %v, want [typed all]", got)
	}
}

func TestSubscribeDuringEmit(t *testing.T) {
	e := NewEmitter(nil)

	late := 0
	e.On(pilet.EventStoreData, func(pilet.Event) {
		e.On(pilet.EventStoreData, func(pilet.Event) { late++ })
	})

	e.Emit(pilet.EventStoreData, nil)
	if late != 0 {
		t.Fatalf("listener added during emit ran %d times in the same emit", late)
	}

	e.Emit(pilet.EventStoreData, nil)
	if late != 1 {
		t.Errorf("late = %d, want 1", late)
	}
}

func TestListenerPanicPropagates(t *testing.T) {
	e := NewEmitter(nil)
	e.On(pilet.EventStoreData, func(pilet.Event) { panic("boom") })

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic to reach the emitter's caller")
		}
	}()
	e.Emit(pilet.EventStoreData, nil)
}
