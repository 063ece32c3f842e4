// Package config loads and validates the daemon's bootstrap
// configuration.
//
// This is the configuration of the confsync process itself: identity, the
// NATS connection, where the managed fragments live, and the operational
// HTTP surface. The configuration tree the daemon synchronizes is not
// described here; it lives in the fragment files under sync.root and is
// owned by the filestore and snapshot packages.
//
// # Core Components
//
// Config: the bootstrap structure covering platform identity, NATS
// connection details, sync surfaces (fragment root, mount rules, snapshot
// store, watcher) and the metrics endpoint.
//
// Loader: loads configuration with layer merging (base + overrides) and
// environment variable substitution for flexible deployment scenarios.
//
// # Basic Usage
//
// Loading configuration from files with layer merging:
//
//	loader := config.NewLoader()
//	loader.AddLayer("confsync.json")
//	loader.AddLayer("confsync.production.json") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Variable Overrides
//
// Selected values can be overridden with environment variables, which win
// over every file layer:
//
//	# Override the instance ID
//	export CONFSYNC_PLATFORM_ID="edge-01"
//
//	# Override NATS URLs (comma-separated)
//	export CONFSYNC_NATS_URLS="nats://server1:4222,nats://server2:4222"
//
//	# Point at a different fragment directory
//	export CONFSYNC_SYNC_ROOT="/etc/myapp/config"
//
// # Layer Merging
//
// Layers are deep-merged with last-wins semantics:
//
//	confsync.json:
//	  {"sync": {"root": "./config", "watch": {"enabled": true}}}
//
//	confsync.production.json:
//	  {"sync": {"root": "/etc/myapp/config"}}
//
//	Result:
//	  {"sync": {"root": "/etc/myapp/config", "watch": {"enabled": true}}}
//
// Duration fields accept Go duration strings ("2s", "500ms") as well as
// integer nanoseconds.
//
// # Security
//
// Input is validated before parsing:
//   - File size limits (10MB max) to prevent memory exhaustion
//   - JSON depth validation (100 levels max) to prevent DoS attacks
//   - Path validation to prevent directory traversal
//   - Regular file checks (no symlinks or device files)
package config
