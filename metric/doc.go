// Package metric provides Prometheus metrics and the operational HTTP
// endpoint for confsync.
//
// A MetricsRegistry owns one process's Prometheus registry. It comes
// with the core metric set pre-registered and lets subsystems add
// their own collectors under a component namespace. A Server exposes
// the registry over HTTP together with the health endpoint.
//
// # Core Metrics
//
// Every process exports the core set, namespace "confsync":
//
//   - regen_operations_total{operation,status}: passes by outcome
//   - regen_duration_seconds{operation}: pass duration histogram
//   - regen_ops_applied_total{operation}: change ops applied
//   - snapshot_version: logical version of the current snapshot
//   - nats_connected, nats_rtt_milliseconds, nats_reconnects_total,
//     nats_circuit_breaker: connection state
//
// Record them through the shared instance:
//
//	core := registry.CoreMetrics()
//	core.RecordRegenOperation("snapshot", "success")
//	core.RecordRegenDuration("snapshot", 150*time.Millisecond)
//	core.RecordOpsApplied("snapshot", 17)
//	core.RecordSnapshotVersion(42)
//
// Go runtime and process collectors are registered as well.
//
// # Subsystem Metrics
//
// Subsystems bring their own collectors and register them through the
// MetricsRegistrar interface, scoped by component name:
//
//	filesWritten := prometheus.NewCounter(prometheus.CounterOpts{
//	    Name: "files_written_total",
//	    Help: "Config files rewritten",
//	})
//	if err := registry.RegisterCounter("filestore", "files_written_total", filesWritten); err != nil {
//	    return err
//	}
//
// Registering the same component/name pair twice fails with an
// invalid-class error, as does a descriptor collision inside
// Prometheus itself. Unregister removes a collector again; tests use
// it, production code rarely should.
//
// Accepting the interface rather than the concrete registry keeps
// subsystems testable:
//
//	func newCacheMetrics(registrar metric.MetricsRegistrar) error {
//	    return registrar.RegisterGauge("cache", "cache_size", size)
//	}
//
// # HTTP Server
//
//	srv := metric.NewServer(9090, "/metrics", registry, securityCfg)
//	srv.SetHealthHandler(monitor.Handler("confsync"))
//
//	go func() {
//	    if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//	        slog.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer srv.Stop()
//
// Start blocks serving three routes: the metrics path (OpenMetrics
// enabled), /health, and an index page on /. Stop shuts down
// gracefully, letting in-flight scrapes finish, after which the
// server can be started again. Zero port and empty path select the
// defaults, 9090 and /metrics.
//
// When the security configuration enables server TLS the endpoint
// serves HTTPS, optionally with client certificate verification.
// Address reports the resulting URL either way.
//
// # Scrape Configuration
//
//	scrape_configs:
//	  - job_name: 'confsync'
//	    static_configs:
//	      - targets: ['localhost:9090']
//	    scrape_interval: 15s
//
// # Thread Safety
//
// Registration and unregistration lock internally; recording on the
// collectors themselves is lock-free per the Prometheus client's own
// guarantees. CoreMetrics and PrometheusRegistry hand out shared
// instances that are safe for concurrent use.
package metric
