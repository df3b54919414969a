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

	v1 "github.com/tinoosan/modlib/api/v1"
	"github.com/tinoosan/modlib/internal/activation"
	"github.com/tinoosan/modlib/internal/aria2"
	"github.com/tinoosan/modlib/internal/config"
	"github.com/tinoosan/modlib/internal/downloader"
	aria2dl "github.com/tinoosan/modlib/internal/downloader/aria2"
	"github.com/tinoosan/modlib/internal/downloader/httpdl"
	"github.com/tinoosan/modlib/internal/install"
	"github.com/tinoosan/modlib/internal/library"
	"github.com/tinoosan/modlib/internal/metrics"
	"github.com/tinoosan/modlib/internal/modinfo"
	"github.com/tinoosan/modlib/internal/notify"
	"github.com/tinoosan/modlib/internal/procedure"
	"github.com/tinoosan/modlib/internal/queue"
	"github.com/tinoosan/modlib/internal/repo"
	"github.com/tinoosan/modlib/internal/router"
	"github.com/tinoosan/modlib/internal/scheduler"
)

func openStore(ctx context.Context, cfg *config.Config) (repo.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return repo.NewInMemoryStore(), nil
	case "postgres":
		return repo.NewPostgresStore(ctx, cfg.PostgresOptions().DSN())
	default:
		return repo.NewFileStore(cfg.Storage.StateDir)
	}
}

func newTransport(cfg *config.Config, rep downloader.Reporter, log *slog.Logger) (downloader.Transport, error) {
	if cfg.Transport.Kind == "aria2" {
		cl, err := aria2.NewClient(cfg.Transport.Aria2URL, cfg.Transport.Aria2Secret, cfg.Transport.Aria2Timeout)
		if err != nil {
			return nil, fmt.Errorf("aria2 client: %w", err)
		}
		return aria2dl.New(cl, rep, log, cfg.Transport.Aria2Poll), nil
	}
	return httpdl.New(rep, log), nil
}

// openLibrary loads the persisted library and applies the configured
// update policy.
func openLibrary(ctx context.Context, cfg *config.Config, store repo.Store, log *slog.Logger) (*library.Registry, error) {
	if err := os.MkdirAll(cfg.LibraryDir, 0o755); err != nil {
		return nil, err
	}
	lib := library.New(store, cfg.LibraryDir, log)
	if err := lib.Load(ctx); err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	if err := lib.SetDefaultUpdatePolicy(ctx, cfg.UpdatePolicy()); err != nil {
		return nil, fmt.Errorf("set update policy: %w", err)
	}
	return lib, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, closeLog := newLogger(cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()

	lib, err := openLibrary(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	rec := notify.NewRecorder(notify.NewLog(logger))
	cache := modinfo.NewCache(cfg.LibraryDir, rec, logger)
	exec := procedure.NewExecutor(procedure.Config{
		Root:            cfg.LibraryDir,
		KeepOldVersions: cfg.Install.KeepOldVersions,
		Collision:       cfg.Collision(),
	}, lib, cache, rec, logger)

	events := make(chan downloader.Event, 256)
	tr, err := newTransport(cfg, downloader.NewChanReporter(events), logger)
	if err != nil {
		return err
	}
	pool := scheduler.New(logger, cfg.Install.Workers)
	q := queue.New(logger, tr, events, exec, pool, lib)
	q.Run()
	if n := q.RetryPending(ctx); n > 0 {
		logger.Info("retrying pending installs", "count", n)
	}

	resolver := activation.New(lib, cache, store, logger)
	if err := resolver.Load(ctx); err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if res, err := resolver.SanityCheck(ctx); err != nil {
		logger.Warn("profile sanity check", "err", err)
	} else if !res.OK() {
		logger.Warn("profile has unsatisfiable settings", "count", len(res.Errors))
	}

	svc := install.NewService(install.Config{Collision: cfg.Collision()}, lib, q, resolver, cache, rec, logger)
	if n, err := lib.AttemptDeletions(ctx); err != nil {
		logger.Warn("attempt deletions", "err", err)
	} else if n > 0 {
		logger.Info("deleted leftover files", "count", n)
	}

	deps := v1.Deps{Downloads: q, Installer: svc, Library: lib, Profile: resolver, Messages: rec}
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router.New(logger, deps, tr, cfg.HTTP.Token),
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting modlib API", "addr", server.Addr, "transport", cfg.Transport.Kind, "storage", cfg.Storage.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received terminate, graceful shutdown")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	pool.StopAccepting()
	q.Stop()
	pool.Drain(shutdownCtx)
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, closeLog := newLogger(cfg)
	defer closeLog()

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()

	lib, err := openLibrary(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	n, err := lib.AttemptDeletions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d, %d still pending\n", n, len(lib.PendingDeletes()))
	return nil
}
