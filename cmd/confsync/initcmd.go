package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/confsync/config"
	"github.com/c360/confsync/pkg/cache"
)

const starterRules = `# Mount rules bind configuration paths to fragment files. A file rule
# holds the whole subtree in one file; a dir rule gives each child
# section its own file under that directory. Fragments no rule claims
# are auto-bound by their relative path.
rules:
  - prefix: system
    file: system.json
`

const starterFragment = `{
  "environment": "dev",
  "log_level": "info"
}
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a confsync working directory",
		Long: `Init writes a starter layout into dir (default current directory):

  confsync.json    daemon configuration, memory snapshot store
  mounts.yaml      mount rules with one example binding
  config/          fragment root with one example fragment

The starter runs with no external services. Switch the snapshot store
to "kv" in confsync.json to persist versions in NATS JetStream.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func runInit(dir string, force bool) error {
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	targets := []struct {
		path  string
		write func(string) error
	}{
		{filepath.Join(dir, "confsync.json"), starterConfig().SaveToFile},
		{filepath.Join(dir, "mounts.yaml"), func(p string) error {
			return os.WriteFile(p, []byte(starterRules), 0o644)
		}},
		{filepath.Join(dir, "config", "system.json"), func(p string) error {
			return os.WriteFile(p, []byte(starterFragment), 0o644)
		}},
	}

	for _, t := range targets {
		if !force {
			if _, err := os.Stat(t.path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", t.path)
			}
		}
		if err := t.write(t.path); err != nil {
			return fmt.Errorf("write %s: %w", t.path, err)
		}
	}

	fmt.Printf("Initialized confsync workspace in %s\n\n", dir)
	fmt.Println("  confsync.json   daemon configuration")
	fmt.Println("  mounts.yaml     mount rules")
	fmt.Println("  config/         fragment root")
	fmt.Println()
	fmt.Println("Start the daemon with:")
	// The starter config uses paths relative to the workspace root.
	if dir == "." {
		fmt.Printf("  %s --config confsync.json serve\n", appName)
	} else {
		fmt.Printf("  cd %s && %s --config confsync.json serve\n", dir, appName)
	}
	return nil
}

// starterConfig is the configuration init writes: a watching daemon on
// the memory store, runnable with no external services.
func starterConfig() *config.Config {
	return &config.Config{
		Version: "1.0.0",
		Platform: config.PlatformConfig{
			ID:          appName,
			Environment: "dev",
		},
		NATS: config.NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream:     config.JetStreamConfig{Enabled: true},
		},
		Sync: config.SyncConfig{
			Root:      "config",
			RulesFile: "mounts.yaml",
			Snapshot: config.SnapshotConfig{
				Store:   config.StoreMemory,
				Bucket:  "confsync_snapshots",
				History: 20,
				HistoryCache: cache.Config{
					Enabled:         true,
					TTL:             5 * time.Second,
					CleanupInterval: time.Second,
				},
			},
			Watch: config.WatchConfig{
				Enabled:  true,
				Debounce: 500 * time.Millisecond,
			},
		},
		Metrics: config.MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		Log: config.LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
