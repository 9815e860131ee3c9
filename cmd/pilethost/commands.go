package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/HerbHall/pilethost/internal/config"
	"github.com/HerbHall/pilethost/internal/inspect"
	"github.com/HerbHall/pilethost/internal/loader"
	"github.com/HerbHall/pilethost/internal/slot"
	"github.com/HerbHall/pilethost/internal/version"
	"github.com/HerbHall/pilethost/pkg/pilet"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins without loading them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, logger, err := a.session()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer s.Close()

			candidates := s.Loader.Discover()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if candidates == nil {
					candidates = []loader.Candidate{}
				}
				return enc.Encode(candidates)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSOURCE\tPATH")
			for _, c := range candidates {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Source, c.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print candidates as JSON")
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load every plugin and print the outcome of each attempt",
		Long: `Load discovers and loads every plugin once. A plugin that fails to load
or to run is reported and skipped; the remaining plugins still load.
With --strict the command exits with status 2 if any plugin failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, logger, err := a.session()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer s.Close()

			report := s.Load()
			printReport(cmd, report)

			pages, exts := s.Registry.Counts()
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d invoked, %d failed, %d skipped; %d pages, %d extensions, %d data entries\n",
				report.Count(loader.OutcomeInvoked),
				report.Count(loader.OutcomeLoadFailed)+report.Count(loader.OutcomeInvokeFailed),
				report.Count(loader.OutcomeSkipped),
				pages, exts, len(s.Data.Snapshot()),
			)

			if strict {
				if err := report.Err(); err != nil {
					return &exitError{code: 2, err: err}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero if any plugin failed")
	return cmd
}

func printReport(cmd *cobra.Command, report *loader.Report) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tOUTCOME\tERROR")
	for _, at := range report.Attempts {
		msg := ""
		if at.Err != nil {
			msg = at.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", at.Name, at.Source, at.Outcome, msg)
	}
	_ = tw.Flush()
}

func newRenderCmd(a *app) *cobra.Command {
	var (
		empty     string
		separator string
	)
	cmd := &cobra.Command{
		Use:   "render <slot> [key=value...]",
		Short: "Load plugins and render an extension slot",
		Long: `Render loads every plugin and writes the named slot to stdout. Trailing
key=value arguments become render parameters and override each
contribution's defaults.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}

			s, _, logger, err := a.session()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer s.Close()

			s.Load()

			opts := []pilet.SlotOption{pilet.WithParams(params)}
			if empty != "" {
				opts = append(opts, pilet.WithEmpty(pilet.Text("empty", empty)))
			}
			if separator != "" {
				opts = append(opts, pilet.WithRender(func(items []string) string {
					return strings.Join(items, separator)
				}))
			}

			out, err := slot.RenderString(s.Registry, args[0], opts...)
			if err != nil {
				return fmt.Errorf("render %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&empty, "empty", "", "text rendered when the slot has no contributions")
	cmd.Flags().StringVar(&separator, "separator", "", "string placed between rendered items")
	return cmd
}

// parseParams turns key=value arguments into render params.
func parseParams(args []string) (pilet.Params, error) {
	params := pilet.Params{}
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: want key=value", arg)
		}
		params[key] = val
	}
	return params, nil
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load plugins and run the inspector HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, v, logger, err := a.session()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer s.Close()

			logger.Info("pilethost starting",
				zap.String("version", version.Short()),
				zap.String("session_id", s.ID),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Subscribe the inspector before loading so the stream sees
			// registrations.
			cfg := inspect.LoadConfig(config.New(v))
			if addr != "" {
				cfg.Addr = addr
			}
			srv := inspect.New(cfg, inspect.Sources{
				Registry: s.Registry,
				Data:     s.Data,
				Events:   s.Events,
				Report:   s.Report,
			}, logger.Named("inspect"))

			report := s.Load()
			logger.Info("plugins loaded",
				zap.Strings("invoked", report.Invoked()),
				zap.Int("attempts", len(report.Attempts)),
			)

			go s.Sweep(ctx)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("inspector shutdown error", zap.Error(err))
			}
			logger.Info("pilethost stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override inspect.addr")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token for the inspector API",
		Long: `Token signs an inspector access token with inspect.token_secret. Pass it
as "Authorization: Bearer <token>", or as ?token= on the event stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.settings()
			if err != nil {
				return err
			}
			cfg := inspect.LoadConfig(config.New(v))
			if ttl > 0 {
				cfg.TokenTTL = ttl
			}
			tokens, err := inspect.NewTokenService(cfg.TokenSecret, cfg.TokenTTL)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "override inspect.token_ttl")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
