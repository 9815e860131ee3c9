// Package host wires one pilethost session: the shared event emitter,
// data store and extension registry, and the loader that hands every
// plugin its own view of them.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/pilethost/internal/config"
	"github.com/HerbHall/pilethost/internal/datastore"
	"github.com/HerbHall/pilethost/internal/event"
	"github.com/HerbHall/pilethost/internal/loader"
	"github.com/HerbHall/pilethost/internal/luart"
	"github.com/HerbHall/pilethost/internal/registry"
	"github.com/HerbHall/pilethost/internal/resolver"
	"github.com/HerbHall/pilethost/internal/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Session owns the process-wide state of one host run.
type Session struct {
	ID       string
	Events   *event.Emitter
	Data     *datastore.Store
	Registry *registry.Registry
	Resolver *resolver.Resolver
	Loader   *loader.Loader

	cfg     config.Reader
	runtime *luart.Runtime
	storage storage.Backend
	logger  *zap.Logger

	mu     sync.RWMutex
	report *loader.Report
}

type options struct {
	fs      afero.Fs
	modules loader.ModuleLoader
	storage storage.Backend
	now     func() time.Time
	strats  []resolver.Strategy
}

// Option configures a Session.
type Option func(*options)

// WithFs scans plugin directories and reads Lua entries on fs.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithModuleLoader replaces the Lua runtime as module loader.
func WithModuleLoader(m loader.ModuleLoader) Option {
	return func(o *options) { o.modules = m }
}

// WithStorage sets the backend of "local" data instead of opening the
// configured one. The session closes it.
func WithStorage(b storage.Backend) Option {
	return func(o *options) { o.storage = b }
}

// WithClock replaces time.Now in the data store.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithResolverStrategies replaces the global directory strategy chain.
func WithResolverStrategies(s ...resolver.Strategy) Option {
	return func(o *options) { o.strats = append([]resolver.Strategy{}, s...) }
}

// New creates a session from cfg. A nil cfg uses the defaults.
func New(cfg config.Reader, logger *zap.Logger, opts ...Option) (*Session, error) {
	if cfg == nil {
		v := viper.New()
		config.SetDefaults(v)
		cfg = config.New(v)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.storage
	if backend == nil {
		var err error
		backend, err = storage.Open(cfg.GetString("storage.driver"), cfg.GetString("storage.path"))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	s := &Session{
		ID:      uuid.New().String(),
		cfg:     cfg,
		storage: backend,
		logger:  logger,
	}
	s.Events = event.NewEmitter(logger.Named("event"))

	storeOpts := []datastore.Option{datastore.WithStorage(backend)}
	if o.now != nil {
		storeOpts = append(storeOpts, datastore.WithClock(o.now))
	}
	s.Data = datastore.New(s.Events, logger.Named("datastore"), storeOpts...)
	s.Registry = registry.New(s.Events, logger.Named("registry"))

	resolverOpts := []resolver.Option{resolver.WithFs(o.fs)}
	if o.strats != nil {
		resolverOpts = append(resolverOpts, resolver.WithStrategies(o.strats...))
	}
	s.Resolver = resolver.New(cfg.GetString("resolver.global_dir"), logger.Named("resolver"), resolverOpts...)

	modules := o.modules
	if modules == nil {
		s.runtime = luart.New(
			luart.WithFs(o.fs),
			luart.WithEntry(cfg.GetString("loader.entry")),
			luart.WithLogger(logger.Named("lua")),
		)
		modules = s.runtime
	}

	s.Loader = loader.New(
		loader.Config{
			Prefix:   cfg.GetString("loader.prefix"),
			LocalDir: cfg.GetString("loader.local_dir"),
		},
		s.Resolver,
		modules,
		s.API,
		loader.WithFs(o.fs),
		loader.WithEvents(s.Events),
		loader.WithLogger(logger.Named("loader")),
	)

	logger.Debug("session created", zap.String("session_id", s.ID))
	return s, nil
}

// Load runs the loader once and keeps its report.
func (s *Session) Load() *loader.Report {
	r := s.Loader.LoadPlugins()
	s.mu.Lock()
	s.report = r
	s.mu.Unlock()
	return r
}

// Report returns the report of the last Load, or nil.
func (s *Session) Report() *loader.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Sweep runs the data store expiry sweeper at the configured
// datastore.sweep_interval until ctx is done. It returns at once when the
// interval is zero.
func (s *Session) Sweep(ctx context.Context) {
	s.Data.Run(ctx, s.cfg.GetDuration("datastore.sweep_interval"))
}

// Close releases the Lua states and the storage backend.
func (s *Session) Close() error {
	var result *multierror.Error
	if s.runtime != nil {
		if err := s.runtime.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close lua runtime: %w", err))
		}
	}
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close storage: %w", err))
		}
	}
	return result.ErrorOrNil()
}
