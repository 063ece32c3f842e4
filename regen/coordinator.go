package regen

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/c360/confsync/configtree"
	"github.com/c360/confsync/diff"
	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/filestore"
	"github.com/c360/confsync/metric"
	"github.com/c360/confsync/pathmap"
	"github.com/c360/confsync/snapshot"
)

// LiveState is the runtime configuration a coordinator synchronizes
// against. livestate.State satisfies it; tests may substitute anything
// that can report its tree, absorb change ops, and dispatch them.
type LiveState interface {
	// CurrentTree returns a copy of the live tree, stable under
	// concurrent mutation so the coordinator can diff against it.
	CurrentTree() *configtree.Tree

	// Set and Remove absorb the mutations of an apply pass.
	diff.Target

	// OnChange dispatches an applied op to the component responsible
	// for the changed section. An error fails that op.
	OnChange(op diff.Op) error
}

// Coordinator drives the three regeneration operations over one
// configuration instance: the fragment files on disk, the persisted
// snapshot, and the live runtime state.
//
// Between operations the only thing a Coordinator carries is the
// derived path map. It takes no internal locks; regeneration is
// single-writer and callers serialize the operations themselves, the
// way the daemon's run loop does.
type Coordinator struct {
	files   *filestore.Store
	snaps   snapshot.Store
	live    LiveState
	rules   []pathmap.Rule
	pm      *pathmap.Map
	gate    Gate
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithGate sets the authorization gate consulted before every
// operation. The default admits all callers.
func WithGate(g Gate) Option {
	return func(c *Coordinator) {
		if g != nil {
			c.gate = g
		}
	}
}

// WithLogger sets the logger for regeneration runs.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables operation counters, durations, and the snapshot
// version gauge on the given registry's core metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a Coordinator and builds its initial path map from the
// store's current files and the declared mount rules.
func New(files *filestore.Store, snaps snapshot.Store, live LiveState, rules []pathmap.Rule, opts ...Option) (*Coordinator, error) {
	if files == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Coordinator", "New", "file store validation")
	}
	if snaps == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Coordinator", "New", "snapshot store validation")
	}
	if live == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Coordinator", "New", "live state validation")
	}

	c := &Coordinator{
		files:  files,
		snaps:  snaps,
		live:   live,
		rules:  append([]pathmap.Rule(nil), rules...),
		gate:   AllowAll(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	list, err := files.Files()
	if err != nil {
		return nil, errors.Wrap(err, "Coordinator", "New", "list config files")
	}
	pm, err := pathmap.Build(list, c.rules)
	if err != nil {
		return nil, errors.Wrap(err, "Coordinator", "New", "build path map")
	}
	c.pm = pm
	return c, nil
}

// PathMap returns the coordinator's current path map. The map is only
// replaced by RegenerateConfigMappings and extended by the other two
// operations, never mutated behind the caller's back mid-operation.
func (c *Coordinator) PathMap() *pathmap.Map {
	return c.pm
}

func (c *Coordinator) authorize(ctx context.Context, method string) error {
	if err := c.gate.Authorize(ctx); err != nil {
		return errors.Wrap(err, "Coordinator", method, "authorize")
	}
	return nil
}

// loadSnapshot returns the persisted snapshot, or the empty version-0
// snapshot on first boot when no record exists yet.
func (c *Coordinator) loadSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	snap, err := c.snaps.Load(ctx)
	if err != nil {
		if stderrors.Is(err, errors.ErrSnapshotNotFound) {
			return snapshot.Empty(), nil
		}
		return nil, err
	}
	return snap, nil
}

func (c *Coordinator) record(operation, status string, start time.Time, applied int) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordRegenOperation(operation, status)
	c.metrics.RecordRegenDuration(operation, time.Since(start))
	if applied > 0 {
		c.metrics.RecordOpsApplied(operation, applied)
	}
}
