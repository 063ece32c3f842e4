package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/confsync/pkg/cache"
	"github.com/c360/confsync/pkg/security"
)

// validConfig returns a minimal configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		Platform: PlatformConfig{ID: "confsync-test"},
		NATS: NATSConfig{
			URLs:      []string{"nats://localhost:4222"},
			JetStream: JetStreamConfig{Enabled: true},
		},
		Sync: SyncConfig{
			Root: "./config",
			Snapshot: SnapshotConfig{
				Store:   StoreMemory,
				History: 20,
			},
		},
	}
}

// writeDummyFile creates a file whose content does not matter, only its
// existence.
func writeDummyFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("dummy"), 0600))
	return path
}

func TestConfig_Validate(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := writeDummyFile(t, tmpDir, "server.crt")
	keyFile := writeDummyFile(t, tmpDir, "server.key")
	caFile := writeDummyFile(t, tmpDir, "clients.crt")

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:      "missing platform id",
			mutate:    func(c *Config) { c.Platform.ID = "" },
			wantError: "platform.id is required",
		},
		{
			name:      "platform id with dot",
			mutate:    func(c *Config) { c.Platform.ID = "edge.01" },
			wantError: "not usable as a NATS subject token",
		},
		{
			name:      "platform id with space",
			mutate:    func(c *Config) { c.Platform.ID = "edge 01" },
			wantError: "not usable as a NATS subject token",
		},
		{
			name:      "missing sync root",
			mutate:    func(c *Config) { c.Sync.Root = "" },
			wantError: "sync.root is required",
		},
		{
			name:      "unknown snapshot store",
			mutate:    func(c *Config) { c.Sync.Snapshot.Store = "redis" },
			wantError: "unknown store",
		},
		{
			name: "kv store without jetstream",
			mutate: func(c *Config) {
				c.Sync.Snapshot.Store = StoreKV
				c.NATS.JetStream.Enabled = false
			},
			wantError: "requires nats.jetstream.enabled",
		},
		{
			name: "kv store without urls",
			mutate: func(c *Config) {
				c.Sync.Snapshot.Store = StoreKV
				c.NATS.URLs = nil
			},
			wantError: "requires at least one nats.urls entry",
		},
		{
			name:      "history above KV limit",
			mutate:    func(c *Config) { c.Sync.Snapshot.History = 65 },
			wantError: "exceeds the KV limit",
		},
		{
			name: "history cache with zero ttl",
			mutate: func(c *Config) {
				c.Sync.Snapshot.HistoryCache = cache.Config{Enabled: true, CleanupInterval: time.Second}
			},
			wantError: "ttl must be positive",
		},
		{
			name:      "negative debounce",
			mutate:    func(c *Config) { c.Sync.Watch.Debounce = -time.Second },
			wantError: "sync.watch.debounce must not be negative",
		},
		{
			name: "metrics without port",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 0
			},
			wantError: "metrics.port must be 1-65535",
		},
		{
			name: "metrics port out of range",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 70000
			},
			wantError: "metrics.port must be 1-65535",
		},
		{
			name:      "bad log level",
			mutate:    func(c *Config) { c.Log.Level = "verbose" },
			wantError: "invalid level",
		},
		{
			name:      "bad log format",
			mutate:    func(c *Config) { c.Log.Format = "logfmt" },
			wantError: "invalid format",
		},
		{
			name: "tls without cert file",
			mutate: func(c *Config) {
				c.Security.TLS.Server.Enabled = true
				c.Security.TLS.Server.KeyFile = keyFile
			},
			wantError: "tls.server.cert_file is required",
		},
		{
			name: "tls with missing key file on disk",
			mutate: func(c *Config) {
				c.Security.TLS.Server.Enabled = true
				c.Security.TLS.Server.CertFile = certFile
				c.Security.TLS.Server.KeyFile = filepath.Join(tmpDir, "nope.key")
			},
			wantError: "tls.server.key_file",
		},
		{
			name: "tls with bad min version",
			mutate: func(c *Config) {
				c.Security.TLS.Server.Enabled = true
				c.Security.TLS.Server.CertFile = certFile
				c.Security.TLS.Server.KeyFile = keyFile
				c.Security.TLS.Server.MinVersion = "1.1"
			},
			wantError: "invalid TLS version",
		},
		{
			name: "mtls without server tls",
			mutate: func(c *Config) {
				c.Security.TLS.Server.MTLS = security.ServerMTLSConfig{
					Enabled:       true,
					ClientCAFiles: []string{caFile},
				}
			},
			wantError: "mtls requires tls.server.enabled",
		},
		{
			name: "mtls without client CAs",
			mutate: func(c *Config) {
				c.Security.TLS.Server.Enabled = true
				c.Security.TLS.Server.CertFile = certFile
				c.Security.TLS.Server.KeyFile = keyFile
				c.Security.TLS.Server.MTLS.Enabled = true
			},
			wantError: "client_ca_files is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.URLs = []string{"nats://a:4222", "nats://b:4222"}

	clone := cfg.Clone()
	require.NotSame(t, cfg, clone)

	clone.Platform.ID = "other"
	clone.NATS.URLs[0] = "nats://mutated:4222"

	assert.Equal(t, "confsync-test", cfg.Platform.ID)
	assert.Equal(t, "nats://a:4222", cfg.NATS.URLs[0])
}

func TestConfig_Clone_Nil(t *testing.T) {
	var cfg *Config
	clone := cfg.Clone()
	require.NotNil(t, clone)
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Username = "svc-confsync"
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cr3t-token"

	rendered := cfg.String()

	assert.NotContains(t, rendered, "hunter2")
	assert.NotContains(t, rendered, "s3cr3t-token")
	assert.Contains(t, rendered, "<redacted>")
	// Non-secrets stay readable.
	assert.Contains(t, rendered, "svc-confsync")
	assert.Contains(t, rendered, "confsync-test")

	// Redaction must not touch the original.
	assert.Equal(t, "hunter2", cfg.NATS.Password)
}

func TestConfig_SaveToFile(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.RulesFile = "./config/mounts.yaml"
	cfg.Sync.Watch = WatchConfig{Enabled: true, Debounce: 250 * time.Millisecond}

	tmpDir := t.TempDir()
	saveFile := filepath.Join(tmpDir, "saved.json")

	require.NoError(t, cfg.SaveToFile(saveFile))

	loader := NewLoader()
	loaded, err := loader.LoadFile(saveFile)
	require.NoError(t, err)

	assert.Equal(t, cfg.Platform.ID, loaded.Platform.ID)
	assert.Equal(t, cfg.Sync.Root, loaded.Sync.Root)
	assert.Equal(t, cfg.Sync.RulesFile, loaded.Sync.RulesFile)
	assert.Equal(t, cfg.Sync.Watch.Debounce, loaded.Sync.Watch.Debounce)

	// Written with owner-only permissions.
	info, err := os.Stat(saveFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestNATSConfig_UnmarshalDurations(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "duration string", input: `{"reconnect_wait": "5s"}`, want: 5 * time.Second},
		{name: "integer nanoseconds", input: `{"reconnect_wait": 2000000000}`, want: 2 * time.Second},
		{name: "absent keeps zero", input: `{}`, want: 0},
		{name: "garbage string", input: `{"reconnect_wait": "fast"}`, wantErr: true},
		{name: "wrong type", input: `{"reconnect_wait": true}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n NATSConfig
			err := json.Unmarshal([]byte(tt.input), &n)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.ReconnectWait)
		})
	}
}

func TestWatchConfig_UnmarshalDurations(t *testing.T) {
	var w WatchConfig
	require.NoError(t, json.Unmarshal([]byte(`{"enabled": true, "debounce": "750ms"}`), &w))
	assert.True(t, w.Enabled)
	assert.Equal(t, 750*time.Millisecond, w.Debounce)

	err := json.Unmarshal([]byte(`{"debounce": "soon"}`), &w)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "sync.watch.debounce"))
}
