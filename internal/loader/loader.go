// Package loader discovers plugin directories in the local installation
// root and the global plugin directory, loads each module and invokes it
// with its capability surface. One plugin's failure never aborts the batch.
package loader

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/HerbHall/pilethost/internal/logcode"
	"github.com/HerbHall/pilethost/pkg/pilet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultPrefix is the name prefix plugin directories must carry.
const DefaultPrefix = "pilethost-cli-"

var attemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pilethost_plugin_attempts_total",
		Help: "Plugin load attempts by source and outcome.",
	},
	[]string{"source", "outcome"},
)

func init() {
	prometheus.MustRegister(attemptsTotal)
}

// ModuleLoader loads the module stored in a plugin directory. The returned
// value is invoked when pilet.AsInvocable accepts it and skipped otherwise.
type ModuleLoader interface {
	Load(path string) (any, error)
}

// ModuleLoaderFunc adapts a function to ModuleLoader.
type ModuleLoaderFunc func(path string) (any, error)

// Load implements ModuleLoader.
func (f ModuleLoaderFunc) Load(path string) (any, error) { return f(path) }

// GlobalResolver locates the global plugin directory. *resolver.Resolver
// satisfies it.
type GlobalResolver interface {
	GlobalDir() string
}

// APIFactory returns the capability surface bound to one plugin.
type APIFactory func(meta pilet.Meta) pilet.API

// Publisher receives load-pilet events. *event.Emitter satisfies it.
type Publisher interface {
	Emit(eventType pilet.EventType, payload any)
}

// Config holds the loader settings.
type Config struct {
	Prefix   string // Directory name prefix, DefaultPrefix when empty
	LocalDir string // Host installation root
}

// Loader runs the discovery and load phase of a host session.
type Loader struct {
	cfg      Config
	fs       afero.Fs
	resolver GlobalResolver
	modules  ModuleLoader
	apis     APIFactory
	events   Publisher
	logger   *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithFs sets the filesystem directories are scanned on.
func WithFs(fs afero.Fs) Option {
	return func(l *Loader) { l.fs = fs }
}

// WithEvents announces each invoked plugin on p.
func WithEvents(p Publisher) Option {
	return func(l *Loader) { l.events = p }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New creates a loader.
func New(cfg Config, resolver GlobalResolver, modules ModuleLoader, apis APIFactory, opts ...Option) *Loader {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	l := &Loader{
		cfg:      cfg,
		fs:       afero.NewOsFs(),
		resolver: resolver,
		modules:  modules,
		apis:     apis,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Discover returns the plugin directories to load, local ones first, then
// global ones whose base name is not already taken by a local plugin.
func (l *Loader) Discover() []Candidate {
	local := l.scan(l.cfg.LocalDir, SourceLocal)

	var global []Candidate
	if l.resolver != nil {
		dir := l.resolver.GlobalDir()
		if dir != "" && !samePath(dir, l.cfg.LocalDir) {
			global = l.scan(dir, SourceGlobal)
		}
	}

	seen := make(map[string]bool, len(local))
	out := make([]Candidate, 0, len(local)+len(global))
	for _, c := range local {
		seen[c.Name] = true
		out = append(out, c)
	}
	for _, c := range global {
		if seen[c.Name] {
			logcode.Debug(l.logger, logcode.GeneralDebug, "global plugin shadowed by local plugin",
				zap.String("name", c.Name),
				zap.String("path", c.Path),
			)
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out
}

// scan lists the plugin directories directly under dir in name order. A
// missing or unreadable dir yields no candidates.
func (l *Loader) scan(dir string, src Source) []Candidate {
	if dir == "" {
		return nil
	}
	entries, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		logcode.Debug(l.logger, logcode.GeneralDebug, "plugin directory not readable",
			zap.String("dir", dir),
			zap.String("source", string(src)),
			zap.Error(err),
		)
		return nil
	}

	var out []Candidate
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, l.cfg.Prefix) || len(name) <= len(l.cfg.Prefix) {
			continue
		}
		path := filepath.Join(dir, name)
		if !e.IsDir() {
			// Follow symlinks.
			info, err := l.fs.Stat(path)
			if err != nil || !info.IsDir() {
				logcode.Debug(l.logger, logcode.GeneralDebug, "skipping non-directory entry",
					zap.String("path", path),
				)
				continue
			}
		}
		out = append(out, Candidate{Name: name, Path: path, Source: src})
	}
	return out
}

// LoadPlugins loads and invokes every discovered plugin in order and
// returns once each has been attempted. Failures are logged and recorded
// in the report, never returned.
func (l *Loader) LoadPlugins() *Report {
	candidates := l.Discover()
	report := &Report{Attempts: make([]Attempt, 0, len(candidates))}
	for _, c := range candidates {
		a := l.attempt(c)
		attemptsTotal.WithLabelValues(string(a.Source), string(a.Outcome)).Inc()
		report.Attempts = append(report.Attempts, a)
	}
	l.logger.Info("plugins loaded",
		zap.Int("candidates", len(candidates)),
		zap.Int("invoked", report.Count(OutcomeInvoked)),
		zap.Int("failed", report.Count(OutcomeLoadFailed)+report.Count(OutcomeInvokeFailed)),
	)
	return report
}

func (l *Loader) attempt(c Candidate) Attempt {
	a := Attempt{Candidate: c}

	module, err := l.load(c.Path)
	if errors.Is(err, pilet.ErrNotInvocable) {
		err, module = nil, nil
	}
	if err != nil {
		a.Outcome, a.Err = OutcomeLoadFailed, &LoadError{Path: c.Path, Err: err}
		logcode.Error(l.logger, logcode.PluginLoadFailure, "plugin could not be loaded",
			zap.String("path", c.Path),
			zap.Error(err),
		)
		return a
	}

	inv, ok := pilet.AsInvocable(module)
	if !ok {
		a.Outcome = OutcomeSkipped
		logcode.Debug(l.logger, logcode.GeneralDebug, "skipping module without setup function",
			zap.String("path", c.Path),
		)
		return a
	}

	meta := pilet.Meta{Name: c.Name, Path: c.Path, Source: string(c.Source)}
	if err := invoke(inv, l.apis(meta)); err != nil {
		a.Outcome, a.Err = OutcomeInvokeFailed, &InvocationError{Path: c.Path, Err: err}
		logcode.Error(l.logger, logcode.PluginInvokeFailure, "plugin could not be invoked",
			zap.String("path", c.Path),
			zap.Error(err),
		)
		return a
	}

	a.Outcome = OutcomeInvoked
	if l.events != nil {
		l.events.Emit(pilet.EventLoadPilet, pilet.PiletEvent{Name: c.Name, Path: c.Path, Source: string(c.Source)})
	}
	l.logger.Debug("plugin invoked", zap.String("name", c.Name), zap.String("source", string(c.Source)))
	return a
}

func (l *Loader) load(path string) (module any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec}
		}
	}()
	return l.modules.Load(path)
}

func invoke(inv pilet.Invocable, api pilet.API) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec}
		}
	}()
	return inv.Invoke(api)
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
