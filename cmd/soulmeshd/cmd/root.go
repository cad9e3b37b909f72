// Package cmd holds the soulmeshd command tree.
package cmd

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

	"github.com/soulmesh/soulmesh"
	"github.com/soulmesh/soulmesh/config"
	"github.com/soulmesh/soulmesh/eventbus"
	"github.com/soulmesh/soulmesh/httpapi"
	"github.com/soulmesh/soulmesh/orchestrator"
	"github.com/soulmesh/soulmesh/registry"
	"github.com/soulmesh/soulmesh/toggles"
)

// Version information set at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// NewRootCommand creates the root command for soulmeshd.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "soulmeshd",
		Short: "soulmeshd - module lifecycle runtime",
		Long: `soulmeshd runs the module lifecycle runtime: it loads the module
catalog, resolves capabilities against the current Telos, and serves the
orchestration API over HTTP.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("soulmeshd %s (%s)\n", Version, Commit)
		},
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime and serve the orchestration API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "soulmesh.toml", "path to the TOML configuration file")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := soulmesh.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStateStore(cfg.Toggles)
	if err != nil {
		return err
	}
	defer store.Close()

	tog := toggles.New(store, cfg.Toggles.UserID, logger)
	tog.InitializeFromStorage(ctx)

	reg := registry.New(logger)
	if err := reg.LoadCatalog(cfg.Catalog.Path); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if cfg.Catalog.Watch {
		if err := reg.Watch(ctx, cfg.Catalog.Path); err != nil {
			logger.Warn("catalog watch unavailable", "error", err)
		}
	}

	bus := eventbus.New(logger, eventbus.WithRecordCapacity(cfg.Record.Capacity))

	orch := orchestrator.New(bus, reg, tog, logger,
		orchestrator.WithIntegrityFloor(cfg.Lifecycle.IntegrityFloor),
		orchestrator.WithQuarantineFloor(cfg.Lifecycle.QuarantineFloor),
		orchestrator.WithIdleTimeout(cfg.Lifecycle.IdleTimeout.Std()),
		orchestrator.WithPurgeInterval(cfg.Lifecycle.PurgeInterval.Std()),
		orchestrator.WithPurgeAge(cfg.Lifecycle.PurgeAge.Std()),
		orchestrator.WithBasePenalty(cfg.Lifecycle.BaseErrorPenalty),
	)
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	api := httpapi.New(orch, bus, reg, tog, logger)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving orchestration api", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		_ = orch.Stop(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Error("orchestrator stop", "error", err)
	}
	return nil
}

// closableStore lets the in-memory store share the SQLite store's
// shutdown path.
type closableStore interface {
	toggles.StateStore
	Close() error
}

type memoryStore struct{ *toggles.MemoryStateStore }

func (memoryStore) Close() error { return nil }

func openStateStore(cfg config.TogglesConfig) (closableStore, error) {
	if cfg.DBPath == "" {
		return memoryStore{toggles.NewMemoryStateStore()}, nil
	}
	store, err := toggles.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open toggle store: %w", err)
	}
	return store, nil
}
