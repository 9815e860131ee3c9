// Package resolver locates the global plugin directory by probing an
// ordered chain of strategies.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/HerbHall/pilethost/internal/logcode"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// GlobalRootEnv names the environment variable the "env" strategy reads.
const GlobalRootEnv = "PILETHOST_GLOBAL_ROOT"

// Strategy is one named way of finding the global plugin directory. It
// returns "" when it has no result.
type Strategy struct {
	Name    string
	Resolve func() (string, error)
}

// Resolver tries its strategies in order and returns the first result.
type Resolver struct {
	fs         afero.Fs
	strategies []Strategy
	logger     *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategies replaces the strategy chain.
func WithStrategies(s ...Strategy) Option {
	return func(r *Resolver) { r.strategies = s }
}

// WithFs sets the filesystem directories are probed on.
func WithFs(fs afero.Fs) Option {
	return func(r *Resolver) { r.fs = fs }
}

// New creates a resolver. configured is an explicit global directory
// (resolver.global_dir) tried before every other strategy; it may be empty.
func New(configured string, logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		fs:     afero.NewOsFs(),
		logger: logger,
	}
	r.strategies = DefaultStrategies(configured)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultStrategies returns the standard chain: configured value,
// PILETHOST_GLOBAL_ROOT, XDG data dir, home dir, system lib dir.
func DefaultStrategies(configured string) []Strategy {
	return []Strategy{
		{Name: "configured", Resolve: func() (string, error) { return configured, nil }},
		{Name: "env", Resolve: func() (string, error) { return os.Getenv(GlobalRootEnv), nil }},
		{Name: "xdg-data", Resolve: xdgDataDir},
		{Name: "home", Resolve: homePluginDir},
		{Name: "system", Resolve: func() (string, error) { return "/usr/local/lib/pilethost/plugins", nil }},
	}
}

func xdgDataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "pilethost", "plugins"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "pilethost", "plugins"), nil
}

func homePluginDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pilethost", "plugins"), nil
}

// GlobalDir returns the first existing directory produced by the chain,
// or "" when every strategy comes up empty. It never fails: strategy
// errors and panics count as "no result".
func (r *Resolver) GlobalDir() string {
	for _, s := range r.strategies {
		dir, err := r.try(s)
		if err != nil {
			logcode.Debug(r.logger, logcode.ResolverStrategyFail, "resolver strategy failed",
				zap.String("strategy", s.Name),
				zap.Error(err),
			)
			continue
		}
		if dir == "" {
			continue
		}
		if !r.isDir(dir) {
			r.logger.Debug("resolver candidate is not a directory",
				zap.String("strategy", s.Name),
				zap.String("dir", dir),
			)
			continue
		}
		r.logger.Debug("global plugin directory resolved",
			zap.String("strategy", s.Name),
			zap.String("dir", dir),
		)
		return dir
	}
	return ""
}

func (r *Resolver) try(s Strategy) (dir string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("strategy panicked: %v", rec)
		}
	}()
	if s.Resolve == nil {
		return "", nil
	}
	return s.Resolve()
}

func (r *Resolver) isDir(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && info.IsDir()
}
