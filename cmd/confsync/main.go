// Package main implements the confsync command line interface.
// Confsync keeps three views of a configuration in step: JSON fragment
// files on disk, a versioned snapshot store, and the live state of a
// running process. The serve command runs the synchronization daemon;
// the regen commands run single passes for scripting and recovery.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/c360/confsync/config"
)

// Build information, overridden by ldflags on release builds.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "confsync"

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// Persistent flags shared by every subcommand.
var (
	configPaths   []string
	logLevelFlag  string
	logFormatFlag string
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Declarative configuration synchronization",
		Long: `Confsync synchronizes a directory of JSON configuration fragments with
a versioned snapshot store and the live state of a running process.

Fragments are bound to configuration paths by mount rules, merged into
one tree, and applied incrementally: only the paths that actually
changed are touched, and every applied pass is persisted as a new
snapshot version.`,
		Version:      fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringArrayVarP(&configPaths, "config", "c", nil,
		"daemon config file (repeat to layer overrides)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"override configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "",
		"override configured log format (text, json)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRegenCommand())
	rootCmd.AddCommand(newInitCommand())

	return rootCmd
}

// loadDaemonConfig layers the --config files over built-in defaults,
// applies CONFSYNC_* environment overrides and the logging flags, and
// validates the result.
func loadDaemonConfig() (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range configPaths {
		loader.AddLayer(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Flag overrides land before validation so a bad flag value is
	// rejected the same way a bad file value is.
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if logFormatFlag != "" {
		cfg.Log.Format = logFormatFlag
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// bootstrap loads the daemon configuration and installs the process
// logger. Every subcommand that touches the synchronization stack
// starts here.
func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := loadDaemonConfig()
	if err != nil {
		return nil, nil, err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	return cfg, logger, nil
}
