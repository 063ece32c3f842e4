package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360/confsync/pkg/timestamp"
)

func newRegenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regen",
		Short: "Run a single regeneration pass",
		Long: `Regen runs one regeneration pass and exits. The subcommand picks which
side is authoritative:

  snapshot   files win: merge the fragments, apply the difference to
             live state, persist a new snapshot version
  config     snapshot and live state win: rewrite the fragment files
             from the stored tree, persist a new version
  mappings   rebuild the path map from the current file listing and
             mount rules, reporting whether anything changed

These are the same passes the serve daemon runs; use them from scripts,
cron, or for recovery after hand edits.`,
	}

	cmd.AddCommand(newRegenSnapshotCommand())
	cmd.AddCommand(newRegenConfigCommand())
	cmd.AddCommand(newRegenMappingsCommand())
	return cmd
}

func newRegenSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Regenerate the snapshot from the fragment files",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStack(func(ctx context.Context, s *syncStack) error {
				if err := s.restoreLiveState(ctx); err != nil {
					return err
				}
				if err := s.coord.RegenerateSnapshot(ctx); err != nil {
					s.publishRunEvent(ctx, "snapshot", err)
					return err
				}
				s.publishRunEvent(ctx, "snapshot", nil)

				snap, err := s.store.Load(ctx)
				if err != nil {
					return fmt.Errorf("load snapshot after regeneration: %w", err)
				}
				fmt.Printf("Snapshot at version %d (%s)\n", snap.Version, timestamp.Format(snap.UpdatedAt))
				return nil
			})
		},
	}
}

func newRegenConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Regenerate the fragment files from the snapshot",
		Long: `Rewrites every fragment file from the stored snapshot tree, converging
hand-edited or corrupted files back to canonical form. Files whose
rendered bytes already match are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStack(func(ctx context.Context, s *syncStack) error {
				// Live state must mirror the snapshot first: a one-shot
				// process has nothing live, and diffing the snapshot
				// against an empty tree would read as total drift.
				if err := s.restoreLiveState(ctx); err != nil {
					return err
				}
				if err := s.coord.RegenerateConfig(ctx); err != nil {
					s.publishRunEvent(ctx, "config", err)
					return err
				}
				s.publishRunEvent(ctx, "config", nil)
				fmt.Println("Fragment files regenerated from snapshot")
				return nil
			})
		},
	}
}

func newRegenMappingsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mappings",
		Short: "Rebuild the path map from files and mount rules",
		Long: `Rebuilds the path map and reports whether it changed. Also serves as a
validation pass: conflicting mount rules or unmappable fragments fail
here before they can fail a synchronization run.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStack(func(ctx context.Context, s *syncStack) error {
				changed, err := s.coord.RegenerateConfigMappings(ctx)
				if err != nil {
					s.publishRunEvent(ctx, "mappings", err)
					return err
				}
				s.publishRunEvent(ctx, "mappings", nil)

				if changed {
					fmt.Printf("Path map rebuilt: %d bindings (changed)\n", s.coord.PathMap().Len())
				} else {
					fmt.Printf("Path map rebuilt: %d bindings (unchanged)\n", s.coord.PathMap().Len())
				}
				return nil
			})
		},
	}
}

// withStack wires the synchronization stack, runs fn, and tears the
// stack down again. The one-shot regen commands share it.
func withStack(fn func(context.Context, *syncStack) error) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stack, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.close()

	return fn(ctx, stack)
}
