package health

import (
	"cmp"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Monitor tracks the health of named subsystems. All methods are safe
// for concurrent use.
type Monitor struct {
	mu         sync.RWMutex
	components map[string]Status
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{components: make(map[string]Status)}
}

// Update records the status for a subsystem. The component name is
// taken from the name argument, not from the status, and a missing
// timestamp is stamped with the current time.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.components[name] = status
	m.mu.Unlock()
}

// UpdateHealthy records the subsystem as healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded records the subsystem as degraded.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy records the subsystem as unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateFromError records a status derived from err, per FromError.
func (m *Monitor) UpdateFromError(name string, err error) {
	m.Update(name, FromError(name, err))
}

// Get returns the recorded status for a subsystem.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.components[name]
	return status, ok
}

// All returns a copy of every recorded status, keyed by subsystem.
func (m *Monitor) All() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.components)
}

// Overall aggregates every recorded status into one system status.
// Sub-statuses are sorted by component name so the output is stable
// across calls.
func (m *Monitor) Overall(system string) Status {
	m.mu.RLock()
	subs := slices.Collect(maps.Values(m.components))
	m.mu.RUnlock()

	slices.SortFunc(subs, func(a, b Status) int {
		return cmp.Compare(a.Component, b.Component)
	})
	return Aggregate(system, subs)
}

// Handler returns an HTTP handler serving the aggregated health as
// JSON. Unhealthy systems answer 503 so probes and load balancers can
// act on the status code alone; degraded systems still answer 200
// because they keep serving.
func (m *Monitor) Handler(system string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		overall := m.Overall(system)

		code := http.StatusOK
		if overall.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(overall)
	}
}
