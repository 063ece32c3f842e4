package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/confsync/config"
	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/filestore"
	"github.com/c360/confsync/health"
	"github.com/c360/confsync/livestate"
	"github.com/c360/confsync/metric"
	"github.com/c360/confsync/natsclient"
	"github.com/c360/confsync/pathmap"
	"github.com/c360/confsync/pkg/timestamp"
	"github.com/c360/confsync/regen"
	"github.com/c360/confsync/snapshot"
)

// syncStack is the wired synchronization stack for one process: the
// fragment store, the snapshot store, the live state, and the regen
// coordinator, plus the operational pieces around them. The serve
// daemon and the one-shot regen commands build the same stack.
type syncStack struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	started  time.Time
	runs     atomic.Int64

	nats      *natsclient.Client // nil when the memory store runs standalone
	runStream bool               // run events go through JetStream
	kv        *snapshot.KVStore  // nil for the memory store
	store     snapshot.Store
	files     *filestore.Store
	live      *livestate.State
	coord     *regen.Coordinator
}

// buildStack wires the stack from configuration. The NATS connection is
// established only when the KV snapshot store demands one; a memory
// store daemon runs with no external dependencies.
func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*syncStack, error) {
	s := &syncStack{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
		started:  time.Now(),
	}

	if cfg.Sync.Snapshot.Store == config.StoreKV {
		client, err := createNATSClient(cfg, s.registry)
		if err != nil {
			return nil, err
		}
		if err := connectToNATS(ctx, client); err != nil {
			return nil, err
		}
		s.nats = client
		s.monitor.UpdateHealthy("nats", "connected")
		client.OnHealthChange(func(healthy bool) {
			if healthy {
				s.monitor.UpdateHealthy("nats", "connected")
			} else {
				s.monitor.UpdateUnhealthy("nats", "connection lost")
			}
		})
		s.ensureRunStream(ctx)
	}

	store, kv, err := createSnapshotStore(ctx, cfg, s.nats, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	s.store = store
	s.kv = kv

	files, err := filestore.New(cfg.Sync.Root, filestore.WithLogger(logger))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("open fragment root %s: %w", cfg.Sync.Root, err)
	}
	s.files = files

	rules, err := loadMountRules(cfg.Sync.RulesFile)
	if err != nil {
		s.close()
		return nil, err
	}

	s.live = livestate.New()
	coord, err := regen.New(files, store, s.live, rules,
		regen.WithLogger(logger),
		regen.WithMetrics(s.registry.CoreMetrics()))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	s.coord = coord

	return s, nil
}

// close tears the stack down in reverse build order. Safe on a
// partially built stack.
func (s *syncStack) close() {
	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			s.logger.Warn("Snapshot store close failed", "error", err)
		}
		s.kv = nil
	}
	if s.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.nats.Close(ctx); err != nil {
			s.logger.Warn("NATS close failed", "error", err)
		}
		s.nats = nil
	}
}

// restoreLiveState seeds the live tree from the stored snapshot so the
// first pass diffs against the last applied state instead of an empty
// tree. First boot, with no stored snapshot, starts empty.
func (s *syncStack) restoreLiveState(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		if stderrors.Is(err, errors.ErrSnapshotNotFound) {
			s.logger.Info("No stored snapshot; starting from an empty live state")
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}

	if err := s.live.Replace(snap.Tree); err != nil {
		return fmt.Errorf("restore live state: %w", err)
	}
	s.logger.Info("Live state restored from snapshot", "version", snap.Version)
	return nil
}

// reportRun records one pass's outcome in the health monitor and
// publishes its run event. Successful passes carry run metrics so the
// health endpoint shows activity, not just state.
func (s *syncStack) reportRun(ctx context.Context, operation string, runErr error) {
	if runErr == nil {
		s.monitor.Update("regen", health.NewHealthy("regen", operation+" pass complete").
			WithMetrics(&health.Metrics{
				Uptime:        time.Since(s.started),
				RunsCompleted: s.runs.Add(1),
				LastActivity:  time.Now(),
			}))
	} else {
		s.monitor.UpdateFromError("regen", runErr)
	}
	s.publishRunEvent(ctx, operation, runErr)
}

// runEvent is the JSON payload published after every regeneration pass.
type runEvent struct {
	Platform  string `json:"platform"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

const runStreamName = "CONFSYNC_RUNS"

// ensureRunStream gets or creates the stream retaining run events, so
// operators can replay what happened while they were not subscribed.
// Best effort: without it events still go out as plain publishes.
func (s *syncStack) ensureRunStream(ctx context.Context) {
	streamCfg := jetstream.StreamConfig{
		Name:     runStreamName,
		Subjects: []string{"confsync.runs.>"},
		MaxAge:   24 * time.Hour,
	}
	if _, err := s.nats.CreateStream(ctx, streamCfg); err == nil {
		s.runStream = true
		return
	}

	// Create fails when another instance made the stream first, possibly
	// with different retention. Use it as it stands.
	if _, err := s.nats.GetStream(ctx, runStreamName); err == nil {
		s.runStream = true
		return
	}

	s.logger.Warn("Run event stream unavailable; events will not be retained",
		"stream", runStreamName)
}

// publishRunEvent reports one regeneration pass on the run-event
// subject. Best effort: a failed publish never fails the pass that
// produced it, and without a NATS connection nothing is published.
func (s *syncStack) publishRunEvent(ctx context.Context, operation string, runErr error) {
	if s.nats == nil {
		return
	}

	evt := runEvent{
		Platform:  s.cfg.Platform.ID,
		Operation: operation,
		Status:    "success",
		Timestamp: timestamp.Now(),
	}
	if runErr != nil {
		evt.Status = "failure"
		evt.Error = runErr.Error()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	subject := fmt.Sprintf("confsync.runs.%s", s.cfg.Platform.ID)
	publish := s.nats.Publish
	if s.runStream {
		publish = s.nats.PublishToStream
	}
	if err := publish(ctx, subject, data); err != nil {
		s.logger.Warn("Run event publish failed", "subject", subject, "error", err)
	}
}

// createNATSClient builds the client from the NATS section of the
// configuration. Connection is the caller's job.
func createNATSClient(cfg *config.Config, registry *metric.MetricsRegistry) (*natsclient.Client, error) {
	url := "nats://localhost:4222"
	if len(cfg.NATS.URLs) > 0 {
		// nats.go takes a comma separated server list.
		url = strings.Join(cfg.NATS.URLs, ",")
	}

	opts := []natsclient.ClientOption{
		natsclient.WithName(appName + "-" + cfg.Platform.ID),
		natsclient.WithMetrics(registry),
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	client, err := natsclient.NewClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}

// connectToNATS establishes the NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, client *natsclient.Client) error {
	slog.Info("Connecting to NATS")
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	return nil
}

// createSnapshotStore returns the configured store. The second return
// is non-nil only for the KV store, which needs an explicit Close.
func createSnapshotStore(
	ctx context.Context,
	cfg *config.Config,
	client *natsclient.Client,
	logger *slog.Logger,
) (snapshot.Store, *snapshot.KVStore, error) {
	if cfg.Sync.Snapshot.Store != config.StoreKV {
		return snapshot.NewMemoryStore(), nil, nil
	}

	opts := []snapshot.KVOption{
		snapshot.WithLogger(logger),
		snapshot.WithHistoryCache(cfg.Sync.Snapshot.HistoryCache),
	}
	if cfg.Sync.Snapshot.Bucket != "" {
		opts = append(opts, snapshot.WithBucket(cfg.Sync.Snapshot.Bucket))
	}
	if cfg.Sync.Snapshot.History > 0 {
		opts = append(opts, snapshot.WithHistory(cfg.Sync.Snapshot.History))
	}

	kv, err := snapshot.NewKVStore(ctx, client, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create KV snapshot store: %w", err)
	}
	return kv, kv, nil
}

// loadMountRules reads the YAML rules file. No file means no explicit
// rules; every fragment is auto-bound by its relative path.
func loadMountRules(file string) ([]pathmap.Rule, error) {
	if file == "" {
		return nil, nil
	}
	rules, err := pathmap.LoadRulesFile(file)
	if err != nil {
		return nil, fmt.Errorf("load mount rules: %w", err)
	}
	return rules, nil
}
