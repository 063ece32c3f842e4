package regen

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/c360/confsync/configtree"
	"github.com/c360/confsync/diff"
	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/pathmap"
	"github.com/c360/confsync/snapshot"
)

// Operation labels shared by logs and metrics.
const (
	opSnapshot = "snapshot"
	opConfig   = "config"
	opMappings = "mappings"
)

// Status labels for the operation counter.
const (
	statusSuccess = "success"
	statusFailure = "failure"
	statusDenied  = "denied"
)

// RegenerateSnapshot makes the files on disk authoritative. It merges
// every fragment through the path map, applies the difference between
// the stored snapshot and the merged result to the live state, and
// persists the merged tree as the next snapshot version.
//
// When the merge result already matches the stored snapshot the
// operation returns without applying anything and without bumping the
// snapshot version.
//
// A failed apply leaves the ops before the failure in the live state;
// nothing is persisted in that case. There is no automatic retry, the
// caller decides whether to rerun.
func (c *Coordinator) RegenerateSnapshot(ctx context.Context) error {
	start := time.Now()
	log := c.logger.With("run_id", uuid.NewString(), "operation", opSnapshot)

	if err := c.authorize(ctx, "RegenerateSnapshot"); err != nil {
		c.record(opSnapshot, statusDenied, start, 0)
		return err
	}

	snap, err := c.loadSnapshot(ctx)
	if err != nil {
		c.record(opSnapshot, statusFailure, start, 0)
		return errors.Wrap(err, "Coordinator", "RegenerateSnapshot", "load snapshot")
	}

	manifest, err := c.files.LoadAll()
	if err != nil {
		c.record(opSnapshot, statusFailure, start, 0)
		return errors.Wrap(err, "Coordinator", "RegenerateSnapshot", "load config files")
	}

	// Bind files that appeared since the map was built. Stale bindings
	// for deleted files are pruned by RegenerateConfigMappings, not here.
	if err := c.pm.Refresh(manifest.Paths(), c.live.CurrentTree()); err != nil {
		c.record(opSnapshot, statusFailure, start, 0)
		return errors.Wrap(err, "Coordinator", "RegenerateSnapshot", "refresh path map")
	}

	merged, err := manifest.MergedTree(c.pm, configtree.OverwriteScalars)
	if err != nil {
		c.record(opSnapshot, statusFailure, start, 0)
		return errors.Wrap(err, "Coordinator", "RegenerateSnapshot", "merge fragments")
	}

	ops := diff.Diff(snap.Tree, merged)
	if len(ops) == 0 {
		log.Info("files already match the snapshot", "version", snap.Version)
		c.record(opSnapshot, statusSuccess, start, 0)
		return nil
	}

	applied, err := diff.Apply(ops, c.live, c.live.OnChange)
	if err != nil {
		log.Error("apply to live state halted",
			"applied", len(applied), "total", len(ops), "error", err)
		c.record(opSnapshot, statusFailure, start, len(applied))
		return errors.Wrap(err, "Coordinator", "RegenerateSnapshot", "apply to live state")
	}

	stats, err := c.files.StatAll()
	if err != nil {
		c.record(opSnapshot, statusFailure, start, len(applied))
		return errors.Wrap(err, "Coordinator", "RegenerateSnapshot", "stat config files")
	}

	snap.Tree = merged
	snap.Modified = snapshot.BuildModifiedDates(stats, c.pm)
	if err := c.snaps.Save(ctx, snap); err != nil {
		c.record(opSnapshot, statusFailure, start, len(applied))
		return errors.Wrap(err, "Coordinator", "RegenerateSnapshot", "save snapshot")
	}

	if c.metrics != nil {
		c.metrics.RecordSnapshotVersion(snap.Version)
	}
	c.record(opSnapshot, statusSuccess, start, len(applied))
	log.Info("snapshot regenerated",
		"version", snap.Version,
		"ops", len(applied),
		"files", manifest.Len(),
		"duration", time.Since(start))
	return nil
}

// RegenerateConfig makes the live state authoritative. It folds the
// difference between the stored snapshot and the live tree into the
// snapshot tree, serializes that tree back into per-file fragments, and
// persists the new snapshot version. Files whose rendered bytes are
// unchanged are left alone, so a run with no drift touches nothing.
//
// The files are written before the snapshot record: if the process dies
// between the two, the next RegenerateSnapshot reads the fresh files
// and converges the snapshot to them.
func (c *Coordinator) RegenerateConfig(ctx context.Context) error {
	start := time.Now()
	log := c.logger.With("run_id", uuid.NewString(), "operation", opConfig)

	if err := c.authorize(ctx, "RegenerateConfig"); err != nil {
		c.record(opConfig, statusDenied, start, 0)
		return err
	}

	snap, err := c.loadSnapshot(ctx)
	if err != nil {
		c.record(opConfig, statusFailure, start, 0)
		return errors.Wrap(err, "Coordinator", "RegenerateConfig", "load snapshot")
	}

	ops := diff.Diff(snap.Tree, c.live.CurrentTree())
	if len(ops) > 0 {
		// Fold the drift into the in-memory snapshot tree first; an op
		// that cannot apply aborts the run before anything is written.
		if _, err := diff.Apply(ops, snap.Tree, nil); err != nil {
			c.record(opConfig, statusFailure, start, 0)
			return errors.Wrap(err, "Coordinator", "RegenerateConfig", "apply to snapshot tree")
		}
	}

	// Even with zero drift the fragments are re-rendered so files whose
	// bytes diverged from canonical form converge again.
	if err := c.files.WriteAll(snap.Tree, c.pm); err != nil {
		c.record(opConfig, statusFailure, start, len(ops))
		return errors.Wrap(err, "Coordinator", "RegenerateConfig", "write config files")
	}

	if len(ops) == 0 {
		log.Info("live state already matches the snapshot", "version", snap.Version)
		c.record(opConfig, statusSuccess, start, 0)
		return nil
	}

	stats, err := c.files.StatAll()
	if err != nil {
		c.record(opConfig, statusFailure, start, len(ops))
		return errors.Wrap(err, "Coordinator", "RegenerateConfig", "stat config files")
	}

	snap.Modified = snapshot.BuildModifiedDates(stats, c.pm)
	if err := c.snaps.Save(ctx, snap); err != nil {
		c.record(opConfig, statusFailure, start, len(ops))
		return errors.Wrap(err, "Coordinator", "RegenerateConfig", "save snapshot")
	}

	if c.metrics != nil {
		c.metrics.RecordSnapshotVersion(snap.Version)
	}
	c.record(opConfig, statusSuccess, start, len(ops))
	log.Info("config files regenerated",
		"version", snap.Version,
		"ops", len(ops),
		"duration", time.Since(start))
	return nil
}

// RegenerateConfigMappings rebuilds the path map from the current file
// listing and the coordinator's mount rules, replacing the old map
// wholesale. This is the only operation that prunes bindings for files
// that no longer exist. It reports whether the map changed.
func (c *Coordinator) RegenerateConfigMappings(ctx context.Context) (bool, error) {
	start := time.Now()
	log := c.logger.With("run_id", uuid.NewString(), "operation", opMappings)

	if err := c.authorize(ctx, "RegenerateConfigMappings"); err != nil {
		c.record(opMappings, statusDenied, start, 0)
		return false, err
	}

	list, err := c.files.Files()
	if err != nil {
		c.record(opMappings, statusFailure, start, 0)
		return false, errors.Wrap(err, "Coordinator", "RegenerateConfigMappings", "list config files")
	}

	next, err := pathmap.Build(list, c.rules)
	if err != nil {
		c.record(opMappings, statusFailure, start, 0)
		return false, errors.Wrap(err, "Coordinator", "RegenerateConfigMappings", "build path map")
	}

	changed := !next.Equal(c.pm)
	c.pm = next

	c.record(opMappings, statusSuccess, start, 0)
	log.Info("path map rebuilt",
		"files", len(list),
		"bindings", next.Len(),
		"changed", changed,
		"duration", time.Since(start))
	return changed, nil
}
