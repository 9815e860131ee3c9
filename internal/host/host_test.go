package host

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/pilethost/internal/config"
	"github.com/HerbHall/pilethost/internal/loader"
	"github.com/HerbHall/pilethost/internal/resolver"
	"github.com/HerbHall/pilethost/internal/storage"
	"github.com/HerbHall/pilethost/internal/testutil"
	"github.com/HerbHall/pilethost/pkg/pilet"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	localDir  = "/opt/pilethost/lib/pilethost"
	globalDir = "/srv/pilethost/plugins"
)

func testConfig(t *testing.T) config.Reader {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("loader.local_dir", localDir)
	return config.New(v)
}

func noGlobal() Option {
	return WithResolverStrategies()
}

func writePlugin(t *testing.T, fs afero.Fs, dir, name, src string) string {
	t.Helper()
	return testutil.WritePlugin(t, fs, testutil.NewPlugin(
		testutil.WithDir(dir),
		testutil.WithName(name),
		testutil.WithSource(src),
	))
}

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s, err := New(testConfig(t), nil, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDataOwnershipAcrossPlugins(t *testing.T) {
	s := newSession(t, WithModuleLoader(loader.ModuleLoaderFunc(func(string) (any, error) { return nil, nil })))
	p1 := s.API(pilet.Meta{Name: "p1"})
	p2 := s.API(pilet.Meta{Name: "p2"})

	if !p1.SetData("k", 1) {
		t.Fatal("p1 SetData(k, 1) = false, want true")
	}
	if p2.SetData("k", 2) {
		t.Fatal("p2 SetData(k, 2) = true, want false")
	}
	if v, _ := p2.GetData("k"); v != 1 {
		t.Fatalf("GetData(k) = %v, want 1", v)
	}
	if !p1.SetData("k", 2) {
		t.Fatal("p1 SetData(k, 2) = false, want true")
	}
	if v, _ := p1.GetData("k"); v != 2 {
		t.Fatalf("GetData(k) = %v, want 2", v)
	}
}

func TestExpiredDataReadsAbsent(t *testing.T) {
	s := newSession(t)
	api := s.API(pilet.Meta{Name: "p"})

	api.SetData("k", "v", pilet.ExpiresAt(time.Now().Add(-time.Minute)))
	if _, ok := api.GetData("k"); ok {
		t.Error("expired key still readable")
	}
}

func TestFaultIsolationGoModules(t *testing.T) {
	fs := afero.NewMemMapFs()
	bad := filepath.Join(localDir, "pilethost-cli-bad")
	good := filepath.Join(localDir, "pilethost-cli-good")
	for _, d := range []string{bad, good} {
		if err := fs.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	modules := loader.ModuleLoaderFunc(func(path string) (any, error) {
		if path == bad {
			return nil, errors.New("cannot load")
		}
		return pilet.SetupFunc(func(api pilet.API) {
			api.RegisterPage("/good", pilet.Text("Good", "good"))
		}), nil
	})
	s := newSession(t, WithFs(fs), WithModuleLoader(modules), noGlobal())

	report := s.Load()
	if len(report.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(report.Attempts))
	}
	if _, ok := s.Registry.Page("/good"); !ok {
		t.Error("good plugin registration missing")
	}
	if n, _ := s.Registry.Counts(); n != 1 {
		t.Errorf("pages = %d, want only the good plugin's page", n)
	}
	if s.Report() != report {
		t.Error("Report() does not return the last load report")
	}
}

func TestLuaPluginsEndToEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePlugin(t, fs, localDir, "pilethost-cli-menu", `
return function(api)
  api.registerExtension("menu", function(p) return "<li>" .. p.label .. "</li>" end, { label = "Home" })
  api.registerPage("/about", "about page")
  api.setData("owner", api.meta.name)
end`)
	writePlugin(t, fs, globalDir, "pilethost-cli-more", `
return function(api)
  api.registerExtension("menu", function(p) return "<li>More</li>" end)
  local ok = api.setData("owner", "intruder")
  api.setData("intrusion", ok)
end`)
	writePlugin(t, fs, globalDir, "pilethost-cli-menu", `error("shadowed plugins never run")`)
	writePlugin(t, fs, localDir, "pilethost-cli-broken", `this is not lua`)
	writePlugin(t, fs, localDir, "pilethost-cli-table", `return { version = 1 }`)

	s := newSession(t, WithFs(fs), WithResolverStrategies(resolver.Strategy{
		Name:    "fixed",
		Resolve: func() (string, error) { return globalDir, nil },
	}))

	report := s.Load()

	got := map[string]loader.Outcome{}
	for _, a := range report.Attempts {
		got[a.Name+"@"+string(a.Source)] = a.Outcome
	}
	want := map[string]loader.Outcome{
		"pilethost-cli-broken@local": loader.OutcomeLoadFailed,
		"pilethost-cli-menu@local":   loader.OutcomeInvoked,
		"pilethost-cli-table@local":  loader.OutcomeSkipped,
		"pilethost-cli-more@global":  loader.OutcomeInvoked,
	}
	for k, o := range want {
		if got[k] != o {
			t.Errorf("outcome[%s] = %q, want %q", k, got[k], o)
		}
	}
	if len(got) != len(want) {
		t.Errorf("attempts = %v", got)
	}

	var sb strings.Builder
	api := s.API(pilet.Meta{Name: "test"})
	if err := api.RenderExtension(&sb, "menu", nil); err != nil {
		t.Fatalf("RenderExtension() error = %v", err)
	}
	if got, want := sb.String(), "<li>Home</li><li>More</li>"; got != want {
		t.Errorf("menu = %q, want %q", got, want)
	}

	page, ok := s.Registry.Page("/about")
	if !ok {
		t.Fatal("page /about missing")
	}
	if out, _ := page.Component.Render(nil); out != "about page" {
		t.Errorf("page render = %q", out)
	}

	if v, _ := api.GetData("owner"); v != "pilethost-cli-menu" {
		t.Errorf("owner = %v, want pilethost-cli-menu", v)
	}
	if v, _ := api.GetData("intrusion"); v != false {
		t.Errorf("intrusion = %v, want false", v)
	}
}

func TestEventsReachSubscribers(t *testing.T) {
	s := newSession(t)
	var types []pilet.EventType
	s.Events.SubscribeAll(func(ev pilet.Event) { types = append(types, ev.Type) })

	api := s.API(pilet.Meta{Name: "p"})
	api.SetData("k", 1)
	api.RegisterExtension("s", pilet.Text("X", "x"), nil)

	if len(types) != 2 || types[0] != pilet.EventStoreData || types[1] != pilet.EventRegisterExtension {
		t.Errorf("events = %v", types)
	}
}

func TestLocalDataPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	backend, err := storage.Open(storage.DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s, err := New(testConfig(t), nil, WithStorage(backend))
	if err != nil {
		t.Fatal(err)
	}
	s.API(pilet.Meta{Name: "p"}).SetData("theme", "dark", pilet.WithTarget(pilet.TargetLocal))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	backend, err = storage.Open(storage.DriverSQLite, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	s = newSession(t, WithStorage(backend))

	api := s.API(pilet.Meta{Name: "other"})
	if v, ok := api.GetData("theme"); !ok || v != "dark" {
		t.Errorf("GetData(theme) = %v, %v; want dark", v, ok)
	}
	if api.SetData("theme", "light") {
		t.Error("rehydrated entry lost its owner")
	}
}

func TestUnknownStorageDriver(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("storage.driver", "etcd")

	if _, err := New(config.New(v), nil); err == nil {
		t.Error("New() with unknown driver should fail")
	}
}
