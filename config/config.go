package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
	"unicode"

	"github.com/c360/confsync/pkg/cache"
	"github.com/c360/confsync/pkg/security"
)

// Snapshot store kinds.
const (
	StoreMemory = "memory" // process-local, lost on restart
	StoreKV     = "kv"     // NATS JetStream KV, survives restarts
)

// NATS KV buckets refuse history depths above this.
const maxKVHistory = 64

// Config is the daemon's bootstrap configuration. It covers everything the
// process needs before the first regeneration run: identity, the NATS
// connection, where the config fragments live, and the operational HTTP
// surface. The configuration tree itself is never described here; that is
// what the fragments under sync.root are for.
type Config struct {
	Version  string          `json:"version,omitempty"`
	Platform PlatformConfig  `json:"platform"`
	Security security.Config `json:"security,omitempty"`
	NATS     NATSConfig      `json:"nats"`
	Sync     SyncConfig      `json:"sync"`
	Metrics  MetricsConfig   `json:"metrics,omitempty"`
	Log      LogConfig       `json:"log,omitempty"`
}

// PlatformConfig identifies the daemon instance. The ID becomes a NATS
// subject token for run events, so it is restricted to subject-safe
// characters.
type PlatformConfig struct {
	ID          string `json:"id"`
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings.
type NATSConfig struct {
	URLs          []string        `json:"urls,omitempty"`
	MaxReconnects int             `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration   `json:"reconnect_wait,omitempty"`
	Username      string          `json:"username,omitempty"`
	Password      string          `json:"password,omitempty"`
	Token         string          `json:"token,omitempty"`
	TLS           NATSTLSConfig   `json:"tls,omitempty"`
	JetStream     JetStreamConfig `json:"jetstream,omitempty"`
}

// NATSTLSConfig for secure NATS connections.
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// JetStreamConfig gates the JetStream-backed features. The KV snapshot
// store requires it.
type JetStreamConfig struct {
	Enabled bool `json:"enabled"`
}

// SyncConfig describes the synchronization surfaces: the fragment
// directory, the mount rules, the snapshot store, and the file watcher.
type SyncConfig struct {
	// Root is the directory holding the JSON config fragments.
	Root string `json:"root"`

	// RulesFile points at the YAML mount-rule document. Empty means no
	// explicit rules; every fragment is auto-bound by its relative path.
	RulesFile string `json:"rules_file,omitempty"`

	Snapshot SnapshotConfig `json:"snapshot,omitempty"`
	Watch    WatchConfig    `json:"watch,omitempty"`
}

// SnapshotConfig selects and tunes the snapshot store.
type SnapshotConfig struct {
	// Store is the store kind, StoreMemory or StoreKV.
	Store string `json:"store,omitempty"`

	// Bucket names the KV bucket. Only meaningful for StoreKV.
	Bucket string `json:"bucket,omitempty"`

	// History is how many snapshot revisions the bucket retains, at most 64.
	History uint8 `json:"history,omitempty"`

	// HistoryCache tunes the revision-history cache behind temporal
	// queries. Only meaningful for StoreKV.
	HistoryCache cache.Config `json:"history_cache,omitempty"`
}

// WatchConfig controls the fragment-directory watcher in serve mode.
type WatchConfig struct {
	Enabled  bool          `json:"enabled"`
	Debounce time.Duration `json:"debounce,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // text, json
}

// Clone creates a deep copy of the configuration. The JSON round trip
// copies the nested slices without tracking every field by hand.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	if data, err := json.Marshal(c); err == nil {
		var clone Config
		if json.Unmarshal(data, &clone) == nil {
			return &clone
		}
	}

	shallow := *c
	return &shallow
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}
	if !isValidSubjectToken(c.Platform.ID) {
		return fmt.Errorf(
			"platform.id %q is not usable as a NATS subject token (alphanumeric, dashes and underscores only)",
			c.Platform.ID)
	}

	if c.Sync.Root == "" {
		return errors.New("sync.root is required")
	}

	if err := c.validateSnapshot(); err != nil {
		return fmt.Errorf("sync.snapshot: %w", err)
	}
	if c.Sync.Watch.Debounce < 0 {
		return fmt.Errorf("sync.watch.debounce must not be negative, got %s", c.Sync.Watch.Debounce)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", c.Metrics.Port)
		}
	}

	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security configuration: %w", err)
	}

	if err := validateLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if err := validateLogFormat(c.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}

	return nil
}

// validateSnapshot checks the snapshot store selection.
func (c *Config) validateSnapshot() error {
	snap := c.Sync.Snapshot

	switch snap.Store {
	case "", StoreMemory:
		// Memory store ignores the KV tuning fields.
	case StoreKV:
		if !c.NATS.JetStream.Enabled {
			return errors.New("store \"kv\" requires nats.jetstream.enabled")
		}
		if len(c.NATS.URLs) == 0 {
			return errors.New("store \"kv\" requires at least one nats.urls entry")
		}
	default:
		return fmt.Errorf("unknown store %q (must be %q or %q)", snap.Store, StoreMemory, StoreKV)
	}

	if snap.History > maxKVHistory {
		return fmt.Errorf("history %d exceeds the KV limit of %d", snap.History, maxKVHistory)
	}

	if err := snap.HistoryCache.Validate(); err != nil {
		return fmt.Errorf("history_cache: %w", err)
	}

	return nil
}

// isValidSubjectToken reports whether a string can stand as a single NATS
// subject token. Dots are excluded deliberately; they would split the token.
func isValidSubjectToken(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// validateSecurity validates the operational TLS configuration.
func (c *Config) validateSecurity() error {
	srv := c.Security.TLS.Server

	if srv.Enabled {
		required := []struct{ field, path string }{
			{"tls.server.cert_file", srv.CertFile},
			{"tls.server.key_file", srv.KeyFile},
		}
		for _, f := range required {
			if f.path == "" {
				return fmt.Errorf("%s is required when TLS is enabled", f.field)
			}
			if _, err := os.Stat(f.path); err != nil {
				return fmt.Errorf("%s: %w", f.field, err)
			}
		}

		if srv.MinVersion != "" {
			if err := validateTLSVersion(srv.MinVersion); err != nil {
				return fmt.Errorf("tls.server.min_version: %w", err)
			}
		}
	}

	if srv.MTLS.Enabled {
		if !srv.Enabled {
			return errors.New("tls.server.mtls requires tls.server.enabled")
		}
		if len(srv.MTLS.ClientCAFiles) == 0 {
			return errors.New("tls.server.mtls.client_ca_files is required when mTLS is enabled")
		}
		for i, caFile := range srv.MTLS.ClientCAFiles {
			if _, err := os.Stat(caFile); err != nil {
				return fmt.Errorf("tls.server.mtls.client_ca_files[%d]: %w", i, err)
			}
		}
	}

	return nil
}

// validateTLSVersion accepts the two versions the Go TLS stack should be
// allowed to negotiate down to.
func validateTLSVersion(version string) error {
	if version == "1.2" || version == "1.3" {
		return nil
	}
	return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
}

// validateLogLevel checks a log level name. Empty means the default.
func validateLogLevel(level string) error {
	switch level {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid level %q (must be debug, info, warn or error)", level)
	}
}

// validateLogFormat checks a log format name. Empty means the default.
func validateLogFormat(format string) error {
	switch format {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("invalid format %q (must be text or json)", format)
	}
}

// SaveToFile saves the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return safeWriteFile(path, data)
}

// String returns an indented JSON rendering of the config with NATS
// credentials redacted, safe for logs.
func (c *Config) String() string {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "<redacted>"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "<redacted>"
	}

	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// UnmarshalJSON accepts reconnect_wait as either a duration string
// ("2s") or integer nanoseconds.
func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type Alias NATSConfig
	aux := &struct {
		ReconnectWait json.RawMessage `json:"reconnect_wait,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(n),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.ReconnectWait) > 0 {
		d, err := parseDurationValue(aux.ReconnectWait, "nats.reconnect_wait")
		if err != nil {
			return err
		}
		n.ReconnectWait = d
	}

	return nil
}

// UnmarshalJSON accepts debounce as either a duration string ("500ms")
// or integer nanoseconds.
func (w *WatchConfig) UnmarshalJSON(data []byte) error {
	type Alias WatchConfig
	aux := &struct {
		Debounce json.RawMessage `json:"debounce,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(w),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Debounce) > 0 {
		d, err := parseDurationValue(aux.Debounce, "sync.watch.debounce")
		if err != nil {
			return err
		}
		w.Debounce = d
	}

	return nil
}

// parseDurationValue parses a JSON value that is either a duration string
// or integer nanoseconds.
func parseDurationValue(data json.RawMessage, field string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		d, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %w", field, err)
		}
		return d, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("%s must be a duration string (e.g. \"2s\") or integer nanoseconds", field)
	}
	return time.Duration(nsec), nil
}
