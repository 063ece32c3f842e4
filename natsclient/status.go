package natsclient

import (
	stderrors "errors"
	"time"
)

// ConnectionStatus is the client's view of the NATS connection lifecycle.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the status name used in logs and health reports.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = stderrors.New("not connected to NATS")
	// ErrCircuitOpen is returned while the circuit breaker is failing fast.
	ErrCircuitOpen = stderrors.New("circuit breaker is open")
	// ErrConnectionTimeout is returned when waiting for a connection gives up.
	ErrConnectionTimeout = stderrors.New("connection timeout")
)

// Circuit breaker states as reported by the circuit_breaker gauge.
const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
)

// Status is a point-in-time snapshot of the connection for health
// reporting and diagnostics.
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      int32
	RTT             time.Duration
}

// GetStatus reports the connection state, failure counters and the last
// measured round trip time.
func (c *Client) GetStatus() *Status {
	s := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		LastFailureTime: c.lastFailure.Load().(time.Time),
		Reconnects:      c.reconnects.Load(),
	}
	if rtt, err := c.RTT(); err == nil {
		s.RTT = rtt
	}
	return s
}

// Failures returns the failures recorded since the last successful
// operation.
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns the wait applied before the next circuit probe.
func (c *Client) Backoff() time.Duration {
	return c.backoff.Load().(time.Duration)
}

// recordFailure counts one failure and opens the circuit once the
// threshold is crossed. Failures that arrive while the circuit is
// already open stretch the backoff, so a flapping server is probed less
// and less often up to the configured ceiling.
func (c *Client) recordFailure() {
	total := c.failures.Add(1)
	c.lastFailure.Store(time.Now())

	round := c.circuitFailures.Add(1)
	c.logger.Debugf("Recorded failure %d (%d this circuit round)", total, round)
	if round < c.circuitThreshold {
		return
	}
	c.circuitFailures.Store(0)

	cur := c.Status()
	if cur != StatusCircuitOpen && c.status.CompareAndSwap(cur, StatusCircuitOpen) {
		wait := c.growBackoff()
		c.observeCircuit(circuitOpen)
		c.logger.Printf("Circuit opened after %d failures, next probe in %v", round, wait)
		time.AfterFunc(wait, c.testCircuit)
		return
	}

	c.growBackoff()
	c.logger.Printf("Circuit still open, backoff now %v", c.Backoff())
}

// growBackoff doubles the backoff up to the ceiling and returns the
// value that was in effect before doubling.
func (c *Client) growBackoff() time.Duration {
	cur := c.backoff.Load().(time.Duration)
	c.backoff.Store(min(cur*2, c.maxBackoff))
	return cur
}

// testCircuit half-opens the circuit so the next Connect call can probe
// the server again.
func (c *Client) testCircuit() {
	if c.Status() != StatusCircuitOpen {
		return
	}
	c.logger.Debugf("Circuit backoff elapsed, allowing a probe connection")
	c.setStatus(StatusDisconnected)
	c.observeCircuit(circuitHalfOpen)
}

// resetCircuit clears all failure state after a successful operation.
func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(initialBackoff)
	c.lastFailure.Store(time.Time{})
	c.observeCircuit(circuitClosed)

	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}
