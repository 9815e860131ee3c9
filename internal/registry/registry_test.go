package registry

import (
	"testing"

	"github.com/HerbHall/pilethost/internal/event"
	"github.com/HerbHall/pilethost/pkg/pilet"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// components returns the display names of exts in order.
func components(exts []Extension) []string {
	out := make([]string, len(exts))
	for i, e := range exts {
		out[i] = pilet.DisplayName(e.Component)
	}
	return out
}

func TestExtensionOrdering(t *testing.T) {
	reg := New(nil, testLogger())
	x := pilet.Text("X", "x")
	y := pilet.Text("Y", "y")

	reg.RegisterExtension("p1", "footer", x, nil)
	reg.RegisterExtension("p2", "footer", y, nil)

	if diff := cmp.Diff([]string{"X", "Y"}, components(reg.GetExtensions("footer"))); diff != "" {
		t.Fatalf("GetExtensions(footer) mismatch (-want +got):\n%s", diff)
	}

	reg.UnregisterExtension("footer", x)
	if diff := cmp.Diff([]string{"Y"}, components(reg.GetExtensions("footer"))); diff != "" {
		t.Fatalf("after unregister X (-want +got):\n%s", diff)
	}

	// Unregistering X again is a no-op.
	reg.UnregisterExtension("footer", x)
	if diff := cmp.Diff([]string{"Y"}, components(reg.GetExtensions("footer"))); diff != "" {
		t.Fatalf("after second unregister X (-want +got):\n%s", diff)
	}
}

func TestUnregisterRemovesFirstMatchOnly(t *testing.T) {
	reg := New(nil, nil)
	x := pilet.Text("X", "x")
	y := pilet.Text("Y", "y")

	reg.RegisterExtension("p", "s", x, pilet.Params{"n": 1})
	reg.RegisterExtension("p", "s", y, nil)
	reg.RegisterExtension("p", "s", x, pilet.Params{"n": 2})

	reg.UnregisterExtension("s", x)

	got := reg.GetExtensions("s")
	if diff := cmp.Diff([]string{"Y", "X"}, components(got)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if got[1].Defaults["n"] != 2 {
		t.Errorf("remaining X defaults = %v, want n=2", got[1].Defaults)
	}
}

func TestUnknownSlotIsEmptyNotNil(t *testing.T) {
	reg := New(nil, nil)

	got := reg.GetExtensions("unused")
	if got == nil {
		t.Fatal("GetExtensions(unused) returned nil")
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}

	// Unregister from unknown slot is a silent no-op.
	reg.UnregisterExtension("unused", pilet.Text("Z", "z"))
}

func TestEmptiedSlotDisappears(t *testing.T) {
	reg := New(nil, nil)
	x := pilet.Text("X", "x")
	reg.RegisterExtension("p", "s", x, nil)
	reg.UnregisterExtension("s", x)

	if slots := reg.Slots(); len(slots) != 0 {
		t.Errorf("Slots() = %v, want empty", slots)
	}
}

func TestGetExtensionsReturnsCopy(t *testing.T) {
	reg := New(nil, nil)
	reg.RegisterExtension("p", "s", pilet.Text("X", "x"), nil)

	got := reg.GetExtensions("s")
	got[0].Slot = "mutated"

	if reg.GetExtensions("s")[0].Slot != "s" {
		t.Error("caller mutation leaked into registry")
	}
}

func TestRegisterCopiesDefaults(t *testing.T) {
	reg := New(nil, nil)
	defaults := pilet.Params{"label": "Home"}
	reg.RegisterExtension("p", "menu", pilet.Text("M", "m"), defaults)

	defaults["label"] = "changed"
	defaults["extra"] = true

	want := pilet.Params{"label": "Home"}
	if diff := cmp.Diff(want, reg.GetExtensions("menu")[0].Defaults); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestExtensionReference(t *testing.T) {
	reg := New(nil, nil)
	id := reg.RegisterExtension("pilethost-cli-foo", "menu", pilet.Text("M", "m"), nil)

	ext := reg.GetExtensions("menu")[0]
	if ext.ID != id || id == "" {
		t.Errorf("ID = %q, returned %q", ext.ID, id)
	}
	if ext.Reference.Name != "pilethost-cli-foo" {
		t.Errorf("Reference.Name = %q", ext.Reference.Name)
	}
}

func TestPagesReplace(t *testing.T) {
	reg := New(nil, nil)
	a := pilet.Text("A", "a")
	b := pilet.Text("B", "b")

	reg.RegisterPage("p1", "/home", a)
	reg.RegisterPage("p2", "/home", b)

	p, ok := reg.Page("/home")
	if !ok {
		t.Fatal("page /home missing")
	}
	if !pilet.SameComponent(p.Component, b) || p.Reference.Name != "p2" {
		t.Errorf("page = %+v, want last writer", p)
	}
	if n := len(reg.Pages()); n != 1 {
		t.Errorf("Pages() len = %d, want 1", n)
	}

	reg.UnregisterPage("/home")
	if _, ok := reg.Page("/home"); ok {
		t.Error("page still present after unregister")
	}
	reg.UnregisterPage("/home")
}

func TestPagesSorted(t *testing.T) {
	reg := New(nil, nil)
	reg.RegisterPage("p", "/z", pilet.Text("Z", ""))
	reg.RegisterPage("p", "/a", pilet.Text("A", ""))

	pages := reg.Pages()
	if pages[0].Route != "/a" || pages[1].Route != "/z" {
		t.Errorf("Pages() order = %s, %s", pages[0].Route, pages[1].Route)
	}
}

func TestMutationEvents(t *testing.T) {
	em := event.NewEmitter(nil)
	reg := New(em, nil)

	var types []pilet.EventType
	em.SubscribeAll(func(ev pilet.Event) { types = append(types, ev.Type) })

	x := pilet.Text("X", "x")
	reg.RegisterPage("p", "/", x)
	reg.UnregisterPage("/")
	reg.UnregisterPage("/") // absent: no event
	reg.RegisterExtension("p", "s", x, nil)
	reg.UnregisterExtension("s", x)
	reg.UnregisterExtension("s", x) // absent: no event

	want := []pilet.EventType{
		pilet.EventRegisterPage,
		pilet.EventUnregisterPage,
		pilet.EventRegisterExtension,
		pilet.EventUnregisterExtension,
	}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestCounts(t *testing.T) {
	reg := New(nil, nil)
	reg.RegisterPage("p", "/", pilet.Text("P", ""))
	reg.RegisterExtension("p", "a", pilet.Text("A", ""), nil)
	reg.RegisterExtension("p", "a", pilet.Text("B", ""), nil)
	reg.RegisterExtension("p", "b", pilet.Text("C", ""), nil)

	pages, exts := reg.Counts()
	if pages != 1 || exts != 3 {
		t.Errorf("Counts() = %d, %d; want 1, 3", pages, exts)
	}
}
