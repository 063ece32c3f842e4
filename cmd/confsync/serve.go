package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360/confsync/metric"
	"github.com/c360/confsync/watcher"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization daemon",
		Long: `Serve runs the synchronization daemon: it restores live state from the
stored snapshot, runs one files-authoritative pass so edits made while
the daemon was down are applied, and then watches the fragment
directory, regenerating on every debounced batch of changes.

Files appearing or disappearing trigger a path-map rebuild before the
pass; plain edits regenerate directly. SIGINT and SIGTERM shut the
daemon down cleanly.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	slog.Info("Starting confsync daemon",
		"version", Version,
		"build_time", BuildTime,
		"platform", cfg.Platform.ID,
		"root", cfg.Sync.Root,
		"store", cfg.Sync.Snapshot.Store)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stack, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.close()

	if err := stack.restoreLiveState(ctx); err != nil {
		return err
	}
	if err := synchronizeOnBoot(ctx, stack); err != nil {
		return err
	}

	metricsServer := startMetricsServer(stack)
	defer stopMetricsServer(metricsServer)

	if cfg.Sync.Watch.Enabled {
		err = watchLoop(ctx, stack)
	} else {
		slog.Info("File watching disabled; regeneration only ran at boot")
		<-ctx.Done()
	}
	if err != nil {
		return err
	}

	slog.Info("Received shutdown signal")
	slog.Info("Confsync shutdown complete")
	return nil
}

// synchronizeOnBoot runs the first files-authoritative pass so changes
// made while the daemon was down are applied before watching starts.
func synchronizeOnBoot(ctx context.Context, s *syncStack) error {
	err := s.coord.RegenerateSnapshot(ctx)
	s.reportRun(ctx, "snapshot", err)
	if err != nil {
		return fmt.Errorf("initial synchronization: %w", err)
	}
	return nil
}

// startMetricsServer starts the operational HTTP endpoint when metrics
// are enabled, with the health monitor mounted on /health. Returns nil
// when disabled.
func startMetricsServer(s *syncStack) *metric.Server {
	if !s.cfg.Metrics.Enabled {
		return nil
	}

	srv := metric.NewServer(s.cfg.Metrics.Port, s.cfg.Metrics.Path, s.registry, s.cfg.Security)
	srv.SetHealthHandler(s.monitor.Handler(appName))

	go func() {
		if err := srv.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
			s.monitor.UpdateFromError("metrics", err)
		}
	}()

	slog.Info("Metrics server listening", "address", srv.Address())
	return srv
}

func stopMetricsServer(srv *metric.Server) {
	if srv == nil {
		return
	}
	if err := srv.Stop(); err != nil {
		slog.Warn("Metrics server stop failed", "error", err)
	}
}

// watchLoop runs one regeneration pass per debounced batch of fragment
// changes until the context ends.
func watchLoop(ctx context.Context, s *syncStack) error {
	w, err := watcher.New(s.cfg.Sync.Root,
		watcher.WithDebounce(s.cfg.Sync.Watch.Debounce),
		watcher.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() {
		if err := w.Stop(); err != nil {
			s.logger.Warn("Watcher stop failed", "error", err)
		}
	}()
	s.monitor.UpdateHealthy("watcher", "watching "+s.cfg.Sync.Root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Batches():
			if !ok {
				return nil
			}
			s.handleBatch(ctx, batch)
		}
	}
}

// handleBatch runs the passes one batch calls for. Structural changes
// rebuild the path map first so new files bind and deleted files
// unbind; every batch then runs a files-authoritative pass. A failed
// pass is reported and the loop keeps going; the next batch, or a
// manual regen, retries.
func (s *syncStack) handleBatch(ctx context.Context, batch watcher.Batch) {
	s.logger.Debug("Fragment batch received", "events", len(batch))

	if remapNeeded(batch) {
		if _, err := s.coord.RegenerateConfigMappings(ctx); err != nil {
			s.reportRun(ctx, "mappings", err)
			return
		}
	}

	s.reportRun(ctx, "snapshot", s.coord.RegenerateSnapshot(ctx))
}

// remapNeeded reports whether the batch contains structural changes,
// files appearing or disappearing, which invalidate the path map.
func remapNeeded(batch watcher.Batch) bool {
	for _, ev := range batch {
		if ev.Op.Has(watcher.OpCreate) || ev.Op.Has(watcher.OpRemove) || ev.Op.Has(watcher.OpRename) {
			return true
		}
	}
	return false
}
