package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/confsync/errors"
)

// Config selects and shapes a cache from configuration. Durations accept
// either Go duration strings ("5s", "2m") or integer nanoseconds in JSON.
type Config struct {
	Enabled         bool          `json:"enabled"`
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	StatsInterval   time.Duration `json:"stats_interval"`
}

// DefaultConfig enables caching with a five minute lifetime.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		TTL:             5 * time.Minute,
		CleanupInterval: time.Minute,
		StatsInterval:   30 * time.Second,
	}
}

// Validate rejects schedules that cannot run. A disabled config is always
// valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("ttl must be positive, got %v", c.TTL))
	}
	if c.CleanupInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("cleanup_interval must be positive, got %v", c.CleanupInterval))
	}
	if c.StatsInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("stats_interval cannot be negative, got %v", c.StatsInterval))
	}
	return nil
}

// NewFromConfig builds the cache the config describes: a TTL cache when
// enabled, the noop cache otherwise.
func NewFromConfig[V any](ctx context.Context, cfg Config, options ...Option[V]) (Cache[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewFromConfig", "config validation")
	}
	if !cfg.Enabled {
		return NewNoop[V](), nil
	}
	if cfg.StatsInterval > 0 {
		options = append(options, WithStatsInterval[V](cfg.StatsInterval))
	}
	return NewTTL[V](ctx, cfg.TTL, cfg.CleanupInterval, options...)
}

// NewTTL builds a TTL cache directly. The maintenance goroutine runs until
// Close or until ctx ends.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration, options ...Option[V]) (Cache[V], error) {
	return newTTLCache[V](ctx, ttl, cleanupInterval, applyOptions(options...))
}

// UnmarshalJSON accepts durations as strings or nanosecond integers.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		TTL             json.RawMessage `json:"ttl,omitempty"`
		CleanupInterval json.RawMessage `json:"cleanup_interval,omitempty"`
		StatsInterval   json.RawMessage `json:"stats_interval,omitempty"`
		*plain
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	for _, f := range []struct {
		raw  json.RawMessage
		name string
		dst  *time.Duration
	}{
		{aux.TTL, "ttl", &c.TTL},
		{aux.CleanupInterval, "cleanup_interval", &c.CleanupInterval},
		{aux.StatsInterval, "stats_interval", &c.StatsInterval},
	} {
		if len(f.raw) == 0 {
			continue
		}
		d, err := decodeDuration(f.raw)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

func decodeDuration(raw json.RawMessage) (time.Duration, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return d, nil
	}
	var ns int64
	if err := json.Unmarshal(raw, &ns); err != nil {
		return 0, fmt.Errorf("want a duration string or integer nanoseconds, got %s", raw)
	}
	return time.Duration(ns), nil
}
