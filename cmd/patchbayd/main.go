// patchbayd is the plugin host daemon: it loads native and scripted
// plugins, drives them on a fixed tick, and serves the HTTP/websocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/goatkit/patchbay/internal/api"
	"github.com/goatkit/patchbay/internal/config"
	"github.com/goatkit/patchbay/internal/host"
	"github.com/goatkit/patchbay/internal/host/loader"
	"github.com/goatkit/patchbay/internal/store"
	"github.com/goatkit/patchbay/internal/telemetry"
	"github.com/goatkit/patchbay/pkg/plugin"
	"github.com/goatkit/patchbay/plugins/oscillator"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "patchbayd",
		Short:         "Plugin host for self-describing signal processors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the host daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	plugins := &cobra.Command{
		Use:   "plugins",
		Short: "List available plugins without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			registry := plugin.NewRegistry()
			if err := registry.Register(oscillator.New()); err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			scripts := loader.NewLoader(cfg.ScriptDir, registry, logger)
			if _, errs := scripts.LoadAll(); len(errs) > 0 {
				for _, err := range errs {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
				}
			}
			for _, name := range registry.Names() {
				p, ok := registry.Get(name)
				if !ok {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tcapability %d\n", p.Name(), p.CapabilityVersion())
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "patchbayd", version)
		},
	}

	root.AddCommand(serve, plugins, versionCmd)
	return root
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func run(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	registry := plugin.NewRegistry()
	if err := registry.Register(oscillator.New()); err != nil {
		return fmt.Errorf("register builtin plugins: %w", err)
	}

	scripts := loader.NewLoader(cfg.ScriptDir, registry, logger)
	if loaded, errs := scripts.LoadAll(); len(errs) > 0 {
		for _, err := range errs {
			logger.Warn("script load failed", "error", err)
		}
	} else {
		logger.Info("scripts loaded", "count", loaded)
	}
	if cfg.WatchScripts {
		if err := scripts.WatchDir(ctx); err != nil {
			return fmt.Errorf("watch scripts: %w", err)
		}
		defer scripts.StopWatch()
	}

	broker := telemetry.NewBroker()
	opts := []host.Option{
		host.WithLogger(logger),
		host.WithStore(db),
		host.WithTelemetry(broker),
	}
	if cfg.ValidateConfigs {
		opts = append(opts, host.WithConfigValidation())
	}
	manager := host.NewManager(registry, opts...)
	defer manager.DestroyAll()

	runner := host.NewRunner(manager, cfg.TickPeriod, host.WithRunnerLogger(logger))
	go func() {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("runner stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.NewServer(manager, runner, broker, logger).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "tick_period", cfg.TickPeriod.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
