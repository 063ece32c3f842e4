package health

import (
	"fmt"
	"time"
)

// The three states a subsystem can report. Stored as strings so the
// JSON output stays readable without a legend.
const (
	stateHealthy   = "healthy"
	stateDegraded  = "degraded"
	stateUnhealthy = "unhealthy"
)

// Status is one subsystem's health at a point in time. Aggregated
// statuses carry their inputs in SubStatuses.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries activity counters a subsystem can attach to its
// status, typically on successful runs.
type Metrics struct {
	Uptime        time.Duration `json:"uptime"`
	ErrorCount    int           `json:"error_count"`
	RunsCompleted int64         `json:"runs_completed,omitempty"`
	LastActivity  time.Time     `json:"last_activity,omitempty"`
}

func newStatus(state, component, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == stateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy reports a subsystem operating normally.
func NewHealthy(component, message string) Status {
	return newStatus(stateHealthy, component, message)
}

// NewDegraded reports a subsystem that is impaired but expected to
// recover on its own.
func NewDegraded(component, message string) Status {
	return newStatus(stateDegraded, component, message)
}

// NewUnhealthy reports a subsystem that is not functioning.
func NewUnhealthy(component, message string) Status {
	return newStatus(stateUnhealthy, component, message)
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.Status == stateHealthy }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.Status == stateDegraded }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.Status == stateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(m *Metrics) Status {
	s.Metrics = m
	return s
}

// Aggregate folds per-subsystem statuses into one status for the whole
// system. Any unhealthy input makes the aggregate unhealthy; otherwise
// any degraded input makes it degraded. The inputs are copied into
// SubStatuses in the order given.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "no components reporting")
	}

	var unhealthy, degraded int
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var agg Status
	switch {
	case unhealthy > 0:
		agg = NewUnhealthy(component, fmt.Sprintf("%d of %d components unhealthy", unhealthy, len(subs)))
	case degraded > 0:
		agg = NewDegraded(component, fmt.Sprintf("%d of %d components degraded", degraded, len(subs)))
	default:
		agg = NewHealthy(component, fmt.Sprintf("all %d components healthy", len(subs)))
	}

	agg.SubStatuses = make([]Status, len(subs))
	copy(agg.SubStatuses, subs)
	return agg
}
