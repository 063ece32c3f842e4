// Package natsclient wraps the NATS connection behind a circuit breaker
// with health monitoring and JetStream access.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/metric"
)

// Connection defaults. Reconnection is infinite because a daemon is
// better off waiting out a NATS outage than crash looping.
const (
	defaultReconnectWait    = 2 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultHealthInterval   = 10 * time.Second
	defaultTimeout          = 5 * time.Second
	defaultDrainTimeout     = 30 * time.Second
	defaultMetricsInterval  = 30 * time.Second
	defaultCircuitThreshold = 5
	defaultMaxBackoff       = time.Minute
	initialBackoff          = time.Second

	// messageTimeout bounds the handler of a single subscribed message.
	messageTimeout = 30 * time.Second
)

// Client manages one NATS connection. All methods are safe for
// concurrent use; Close may be called at most once to any effect.
type Client struct {
	url    string
	logger Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	// status holds a ConnectionStatus, lastFailure a time.Time and
	// backoff a time.Duration.
	status      atomic.Value
	failures    atomic.Int32
	reconnects  atomic.Int32
	lastFailure atomic.Value
	backoff     atomic.Value

	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Credentials are wiped from memory on Close.
	username string
	password string
	token    string

	tlsEnabled bool
	tlsCert    string
	tlsKey     string
	tlsCA      string

	clientName string

	core            *metric.Metrics
	jsMetrics       *jetstreamMetrics
	metricsCancel   context.CancelFunc
	metricsInterval time.Duration

	onDisconnect     func(error)
	onReconnect      func()
	onHealthChange   func(bool)
	onConnectionLost func(error)

	healthTicker   *time.Ticker
	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient builds a client for the given server URL. Nothing connects
// until Connect is called.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           &defaultLogger{},
		maxReconnects:    -1,
		reconnectWait:    defaultReconnectWait,
		pingInterval:     defaultPingInterval,
		healthInterval:   defaultHealthInterval,
		circuitThreshold: defaultCircuitThreshold,
		maxBackoff:       defaultMaxBackoff,
		timeout:          defaultTimeout,
		drainTimeout:     defaultDrainTimeout,
		metricsInterval:  defaultMetricsInterval,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(initialBackoff)
	c.lastFailure.Store(time.Time{})

	return c, nil
}

// URL returns the configured server URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsHealthy reports whether the connection is established and usable.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// GetConnection exposes the underlying connection for code that needs
// raw NATS access, such as test harnesses.
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// RTT measures the round trip time to the server.
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// connectOptions translates client configuration into nats.go options.
func (c *Client) connectOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsEnabled {
		if c.tlsCert != "" && c.tlsKey != "" {
			opts = append(opts, nats.ClientCert(c.tlsCert, c.tlsKey))
		}
		if c.tlsCA != "" {
			opts = append(opts, nats.RootCAs(c.tlsCA))
		}
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// Connect dials the server and initializes JetStream. A connection
// refused by the circuit breaker returns ErrCircuitOpen without dialing.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		c.logger.Debugf("Circuit open, refusing connection attempt")
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Printf("Connecting to NATS at %s", c.url)

	// nats.Connect does not take a context, so dial on a goroutine and
	// race it against ctx.
	dialDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectOptions()...)
		if err != nil {
			dialDone <- err
			return
		}

		js, jsErr := jetstream.New(conn)
		if jsErr != nil {
			c.logger.Debugf("JetStream unavailable: %v", jsErr)
		}

		c.mu.Lock()
		c.conn = conn
		if jsErr == nil {
			c.js = js
		}
		c.mu.Unlock()

		dialDone <- nil
	}()

	select {
	case err := <-dialDone:
		if err != nil {
			c.connectFailed()
			if c.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.connectFailed()
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.observeConnected(true)
	c.logger.Printf("Connected to NATS at %s", c.url)

	if c.healthInterval > 0 {
		c.startHealthMonitoring()
	}
	if c.jsMetrics != nil && c.metricsInterval > 0 {
		c.metricsCancel = c.jsMetrics.startPoller(context.Background(), c.metricsInterval)
	}

	c.mu.RLock()
	notify := c.onHealthChange
	c.mu.RUnlock()
	if notify != nil {
		notify(true)
	}
	return nil
}

// connectFailed records a failed dial, leaving the status alone when the
// failure tripped the circuit.
func (c *Client) connectFailed() {
	c.recordFailure()
	if c.Status() != StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// Close drains the connection and releases all client resources.
// Subsequent calls are no-ops. The context deadline, when sooner than
// the configured drain timeout, bounds the drain.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Stop background loops before taking the main lock; the health
	// goroutine takes it too.
	c.stopHealthMonitoring()
	if c.metricsCancel != nil {
		c.metricsCancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		if err := c.drainConn(ctx); err != nil {
			c.logger.Errorf("Drain failed, force closing: %v", err)
			errs = append(errs, err)
		}
		c.conn.Close()
		c.conn = nil
	}

	c.username = ""
	c.password = ""
	c.token = ""

	c.setStatus(StatusDisconnected)
	c.observeConnected(false)

	return stderrors.Join(errs...)
}

// drainConn drains in-flight messages, giving up after the drain
// timeout or the context deadline, whichever is sooner. Callers force
// close afterwards either way.
func (c *Client) drainConn(ctx context.Context) error {
	timeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- c.conn.Drain()
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("drain timeout after %v", timeout),
			"Client", "Close", "drain connection")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
}

// WaitForConnection polls until the connection is healthy or the
// context expires.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConnectionTimeout, ctx.Err())
		case <-ticker.C:
			if c.IsHealthy() {
				return nil
			}
		}
	}
}

// Publish sends a message on a core NATS subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// Subscribe registers a handler for a subject. Each message runs with a
// context derived from ctx and bounded by messageTimeout. Subscriptions
// live until the client is closed.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, messageTimeout)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return err
	}

	c.subs = append(c.subs, sub)
	return nil
}

// OnHealthChange sets the callback invoked whenever connection health
// flips. Replaces any callback configured earlier.
func (c *Client) OnHealthChange(fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHealthChange = fn
}

// Connection event handlers, invoked by nats.go on its own goroutines.

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	c.observeConnected(false)

	c.mu.RLock()
	onDisconnect, onHealth := c.onDisconnect, c.onHealthChange
	c.mu.RUnlock()

	if onDisconnect != nil {
		go onDisconnect(err)
	}
	if onHealth != nil {
		go onHealth(false)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.reconnects.Add(1)
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.observeConnected(true)
	c.observeReconnect()

	c.mu.RLock()
	onReconnect, onHealth := c.onReconnect, c.onHealthChange
	c.mu.RUnlock()

	if onReconnect != nil {
		go onReconnect()
	}
	if onHealth != nil {
		go onHealth(true)
	}
}

func (c *Client) handleClosed(conn *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.observeConnected(false)

	c.mu.RLock()
	onLost, onHealth := c.onConnectionLost, c.onHealthChange
	c.mu.RUnlock()

	// A closed connection on a client nobody closed means reconnection
	// gave up for good.
	if !c.closed.Load() && onLost != nil {
		go onLost(conn.LastError())
	}
	if onHealth != nil {
		go onHealth(false)
	}
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	// Async errors include per-subscription problems, so they are logged
	// rather than counted against the circuit.
	c.logger.Errorf("NATS error: %v", err)
}

// startHealthMonitoring launches the periodic connection probe.
func (c *Client) startHealthMonitoring() {
	c.stopHealthMonitoring()

	c.mu.Lock()
	c.healthTicker = time.NewTicker(c.healthInterval)
	c.healthDone = make(chan struct{})
	ticker, done := c.healthTicker, c.healthDone
	c.mu.Unlock()

	go c.healthLoop(ticker, done)
}

func (c *Client) stopHealthMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthTicker != nil {
		c.healthTicker.Stop()
		c.healthTicker = nil
	}
	if c.healthDone != nil {
		close(c.healthDone)
		c.healthDone = nil
	}
}

// healthLoop probes the connection every tick and notifies the health
// callback on transitions.
func (c *Client) healthLoop(ticker *time.Ticker, done chan struct{}) {
	defer ticker.Stop()
	lastHealthy := c.IsHealthy()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			healthy := c.probeConnection()
			if healthy != lastHealthy {
				c.mu.RLock()
				notify := c.onHealthChange
				c.mu.RUnlock()
				if notify != nil {
					notify(healthy)
				}
			}
			lastHealthy = healthy
		}
	}
}

// probeConnection checks the live connection, reconciles the status
// with what the probe saw, and feeds the connection gauges.
func (c *Client) probeConnection() bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return false
	}

	healthy := conn.IsConnected()
	if healthy {
		if rtt, err := conn.RTT(); err == nil {
			c.observeRTT(rtt)
		} else {
			healthy = false
		}
	}

	switch {
	case healthy && c.Status() != StatusConnected:
		c.setStatus(StatusConnected)
	case !healthy && c.Status() == StatusConnected:
		c.setStatus(StatusReconnecting)
	}
	c.observeConnected(healthy)

	return healthy
}

// Gauge recording helpers. All tolerate a client built without metrics.

func (c *Client) observeConnected(up bool) {
	if c.core != nil {
		c.core.RecordNATSStatus(up)
	}
}

func (c *Client) observeReconnect() {
	if c.core != nil {
		c.core.RecordNATSReconnect()
	}
}

func (c *Client) observeRTT(rtt time.Duration) {
	if c.core != nil {
		c.core.RecordNATSRTT(rtt)
	}
}

func (c *Client) observeCircuit(state int) {
	if c.core != nil {
		c.core.RecordCircuitBreakerState(state)
	}
}
