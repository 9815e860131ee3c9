package main

import (
	"fmt"

	"github.com/HerbHall/pilethost/internal/config"
	"github.com/HerbHall/pilethost/internal/host"
	"github.com/HerbHall/pilethost/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app holds the persistent flags shared by every subcommand.
type app struct {
	configPath string
	localDir   string
	globalDir  string
	prefix     string
	logLevel   string

	// hostOpts are appended to every session; tests use them to swap the
	// filesystem and resolver.
	hostOpts []host.Option
}

func newRootCmd(opts ...host.Option) *cobra.Command {
	a := &app{hostOpts: opts}

	root := &cobra.Command{
		Use:   "pilethost",
		Short: "Compose plugin-contributed pages, extensions and data",
		Long: `pilethost discovers plugins named pilethost-cli-* in the host's own
installation directory and in a global plugin directory, loads each one
into a shared session, and renders or serves what they contribute.

Examples:
  pilethost list                 Show discovered plugins
  pilethost load --strict        Load plugins and fail on any error
  pilethost render menu          Render the "menu" extension slot
  pilethost serve                Run the inspector HTTP server`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Short(),
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "path to configuration file")
	f.StringVar(&a.localDir, "local-dir", "", "override loader.local_dir")
	f.StringVar(&a.globalDir, "global-dir", "", "override resolver.global_dir")
	f.StringVar(&a.prefix, "prefix", "", "override loader.prefix")
	f.StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newListCmd(a),
		newLoadCmd(a),
		newRenderCmd(a),
		newServeCmd(a),
		newTokenCmd(a),
		newVersionCmd(),
	)
	return root
}

// settings loads the configuration and applies flag overrides on top.
func (a *app) settings() (*viper.Viper, error) {
	v, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	overrides := map[string]string{
		"loader.local_dir":    a.localDir,
		"resolver.global_dir": a.globalDir,
		"loader.prefix":       a.prefix,
		"logging.level":       a.logLevel,
	}
	for key, val := range overrides {
		if val != "" {
			v.Set(key, val)
		}
	}
	return v, nil
}

// session builds the logger and a host session. The caller closes the
// session and syncs the logger.
func (a *app) session() (*host.Session, *viper.Viper, *zap.Logger, error) {
	v, err := a.settings()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	if f := v.ConfigFileUsed(); f != "" {
		logger.Debug("configuration loaded", zap.String("source", f))
	}

	s, err := host.New(config.New(v), logger, a.hostOpts...)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return s, v, logger, nil
}
