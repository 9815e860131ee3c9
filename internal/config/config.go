// Package config loads pilethost settings through Viper and exposes them to
// components behind the small Reader interface.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override:
// PILETHOST_LOADER_PREFIX overrides loader.prefix.
const EnvPrefix = "PILETHOST"

// Reader abstracts read access to configuration.
type Reader interface {
	GetString(key string) string
	GetInt(key string) int
	GetFloat64(key string) float64
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Reader
}

// Compile-time interface guard.
var _ Reader = (*ViperConfig)(nil)

// ViperConfig wraps a Viper instance to implement Reader.
type ViperConfig struct {
	v *viper.Viper
}

// New creates a Reader backed by the given Viper instance.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *ViperConfig) GetInt(key string) int {
	return c.v.GetInt(key)
}

func (c *ViperConfig) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

func (c *ViperConfig) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func (c *ViperConfig) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

func (c *ViperConfig) IsSet(key string) bool {
	return c.v.IsSet(key)
}

func (c *ViperConfig) Sub(key string) Reader {
	sub := c.v.Sub(key)
	if sub == nil {
		return New(nil)
	}
	return New(sub)
}

// Viper returns the underlying Viper instance.
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}

// SetDefaults installs the default value of every pilethost setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")

	v.SetDefault("loader.prefix", "pilethost-cli-")
	v.SetDefault("loader.local_dir", DefaultLocalDir())
	v.SetDefault("loader.entry", "init.lua")

	v.SetDefault("resolver.global_dir", "")

	v.SetDefault("datastore.sweep_interval", "0s")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.path", "./data/pilethost.db")

	v.SetDefault("inspect.addr", "127.0.0.1:8765")
	v.SetDefault("inspect.rate_limit", 50)
	v.SetDefault("inspect.rate_burst", 100)
	v.SetDefault("inspect.token_secret", "")
	v.SetDefault("inspect.token_ttl", "24h")
	v.SetDefault("inspect.swagger", false)
}

// Load builds the configuration from defaults, an optional YAML file and
// PILETHOST_* environment variables. An explicit configPath must exist; the
// default search locations may be empty.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pilethost")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/pilethost")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}

// DefaultLocalDir returns the host's own installation root: lib/pilethost
// next to the directory holding the running executable.
func DefaultLocalDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(filepath.Dir(exe)), "lib", "pilethost")
}
