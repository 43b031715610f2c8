// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/filmindex/internal/api"
	"github.com/tomtom215/filmindex/internal/config"
	"github.com/tomtom215/filmindex/internal/logging"
	"github.com/tomtom215/filmindex/internal/state"
	"github.com/tomtom215/filmindex/internal/supervisor"
	"github.com/tomtom215/filmindex/internal/supervisor/services"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "filmindex",
		Short:         "Incremental film catalog search indexer",
		Long:          `Polls the content database for changed films, persons and genres and keeps the film search index up to date.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if configPath != "" {
				return os.Setenv(config.ConfigPathEnvVar, configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	root.AddCommand(newRunCmd(), newOnceCmd(), newBootstrapCmd())
	return root
}

// loadConfig loads and validates configuration and initializes logging.
// Failures are logged, so callers only propagate the error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return nil, err
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the indexing loop under supervision",
		Long:  `Runs the pipeline until SIGINT or SIGTERM. The ops server exposes /healthz, /readyz, /status and /metrics.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runSupervised(ctx, cfg)
		},
	}
}

func runSupervised(ctx context.Context, cfg *config.Config) error {
	logging.Info().
		Str("sink", cfg.Sink.Backend).
		Str("index", cfg.Pipeline.IndexName).
		Strs("streams", cfg.Pipeline.Streams).
		Str("state", cfg.State.Path).
		Msg("Starting filmindex")

	a, err := buildApp(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialize")
		return err
	}
	defer a.Close()

	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	tree.AddPipelineService(services.NewPipelineService(a.orch))

	if cfg.Ops.Enabled {
		handler := api.NewHandler(a.orch, api.Options{
			ReadyAfter:  cfg.Ops.ReadyAfter,
			Breaker:     a.breaker,
			Index:       cfg.Pipeline.IndexName,
			RateLimit:   cfg.Ops.RateLimit,
			CORSOrigins: cfg.Ops.CORSOrigins,
		})
		server := &http.Server{
			Addr:              cfg.Ops.Addr(),
			Handler:           api.NewRouter(handler),
			ReadHeaderTimeout: cfg.Ops.Timeout,
			ReadTimeout:       cfg.Ops.Timeout,
			WriteTimeout:      cfg.Ops.Timeout,
		}
		tree.AddOpsService(services.NewHTTPServerService(server, cfg.Supervisor.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("Ops server enabled")
	}

	logging.Info().Msg("Starting supervisor tree...")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}

	logging.Info().Msg("Stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single iteration and exit",
		Long:  `Runs every configured stream once. Exits non-zero if any stream failed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				logging.Error().Err(err).Msg("Failed to initialize")
				return err
			}
			defer a.Close()

			if err := a.orch.RunOnce(ctx); err != nil {
				return fmt.Errorf("iteration failed: %w", err)
			}
			logging.Info().Msg("Iteration completed")
			return nil
		},
	}
}

func newBootstrapCmd() *cobra.Command {
	var (
		since string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Seed stream watermarks",
		Long: `Writes the given time as the watermark of every stream so the first run
only picks up changes made after it. Existing watermarks are kept unless --force is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := parseSince(since)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return bootstrap(cmd.Context(), cfg.State, t, force, cmd)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "RFC 3339 timestamp, or \"now\"")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing watermarks, even backwards")
	_ = cmd.MarkFlagRequired("since")
	return cmd
}

func parseSince(raw string) (time.Time, error) {
	if strings.EqualFold(raw, "now") {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since: %w", err)
	}
	return t.UTC(), nil
}

func bootstrap(ctx context.Context, cfg config.StateConfig, since time.Time, force bool, cmd *cobra.Command) error {
	opened, err := state.Open(state.Backend(cfg.Backend), cfg.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := opened.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing state store")
		}
	}()

	written, err := opened.Store.Bootstrap(ctx, since, force)
	if err != nil {
		return err
	}
	if len(written) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "All watermarks already set; use --force to overwrite")
		return nil
	}
	for _, s := range written {
		fmt.Fprintf(cmd.OutOrStdout(), "%s watermark set to %s\n", s, since.Format(time.RFC3339Nano))
	}
	return nil
}
