// Package health provides thread-safe health tracking and aggregation for
// the daemon's subsystems.
//
// # Health States
//
// The package supports three health states:
//   - Healthy: subsystem operating normally
//   - Degraded: subsystem operating with reduced functionality
//   - Unhealthy: subsystem not functioning properly
//
// The three-state model lets probes distinguish "keep serving but
// investigate" from "take out of rotation". A daemon whose NATS connection
// is reconnecting is degraded; one whose fragment directory disappeared is
// unhealthy.
//
// # Core Components
//
// Status: a subsystem's health state with status level, message, timestamp,
// optional metrics, and hierarchical sub-statuses.
//
// Monitor: thread-safe tracking of multiple subsystem statuses with
// aggregation and an HTTP handler for the operational endpoint.
//
// # Basic Usage
//
//	monitor := health.NewMonitor()
//
//	monitor.UpdateHealthy("filestore", "fragment directory readable")
//	monitor.UpdateFromError("nats", connErr)
//
//	system := monitor.Overall("confsync")
//	if system.IsUnhealthy() {
//	    log.Error("daemon unhealthy", "message", system.Message)
//	}
//
// Aggregation is conservative: any unhealthy subsystem marks the system
// unhealthy, any degraded one (with none unhealthy) marks it degraded.
//
// # HTTP Endpoint
//
//	mux.Handle("/health", monitor.Handler("confsync"))
//
// The handler serves the aggregated status as JSON and answers 503 when the
// system is unhealthy, so probes can act on the status code alone.
//
// # Error Sanitization
//
// Statuses derived through FromError have their messages sanitized first:
// URLs, file paths, IP addresses, ports, and credential-shaped fragments
// are replaced with placeholders. Health output frequently ends up in
// dashboards and logs with wider audiences than the daemon's own logs, so
// sanitization is not optional.
package health
