package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/metric"
)

func kvConfig(bucket string) jetstream.KeyValueConfig {
	return jetstream.KeyValueConfig{Bucket: bucket}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, -1, c.maxReconnects)
	assert.Equal(t, defaultReconnectWait, c.reconnectWait)
	assert.Equal(t, int32(defaultCircuitThreshold), c.circuitThreshold)
	assert.Equal(t, initialBackoff, c.Backoff())
}

func TestNewClientOptions(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("confsync-edge-7"),
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithTimeout(2*time.Second),
		WithCircuitBreakerThreshold(2),
		WithMaxBackoff(10*time.Second),
		WithCredentials("sync", "secret"),
	)
	require.NoError(t, err)

	assert.Equal(t, "confsync-edge-7", c.clientName)
	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, 2*time.Second, c.timeout)
	assert.Equal(t, int32(2), c.circuitThreshold)
	assert.Equal(t, 10*time.Second, c.maxBackoff)
	assert.Equal(t, "sync", c.username)
}

func TestOptionBoundsFallBackToDefaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(0),
		WithMaxBackoff(time.Millisecond),
	)
	require.NoError(t, err)

	assert.Equal(t, int32(defaultCircuitThreshold), c.circuitThreshold)
	assert.Equal(t, defaultMaxBackoff, c.maxBackoff)
}

func TestConnectionStatusString(t *testing.T) {
	cases := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(99), "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.status.String())
	}
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(3))
	require.NoError(t, err)

	c.recordFailure()
	c.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, c.Status())

	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, int32(3), c.Failures())

	// Opening doubles the backoff for the round after this one.
	assert.Equal(t, 2*initialBackoff, c.Backoff())
}

func TestCircuitBackoffGrowsWhileOpen(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(2),
		WithMaxBackoff(3*time.Second))
	require.NoError(t, err)

	c.recordFailure()
	c.recordFailure()
	require.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 2*time.Second, c.Backoff())

	// A full round of failures while open stretches the backoff,
	// clamped at the ceiling.
	c.recordFailure()
	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 3*time.Second, c.Backoff())
}

func TestCircuitReset(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	c.recordFailure()
	c.recordFailure()
	require.Equal(t, StatusCircuitOpen, c.Status())

	c.resetCircuit()
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, int32(0), c.Failures())
	assert.Equal(t, initialBackoff, c.Backoff())
	assert.True(t, c.lastFailure.Load().(time.Time).IsZero())
}

func TestCircuitHalfOpensForProbe(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	c.setStatus(StatusCircuitOpen)
	c.testCircuit()
	assert.Equal(t, StatusDisconnected, c.Status())

	// A probe on a circuit that is not open changes nothing.
	c.setStatus(StatusConnected)
	c.testCircuit()
	assert.Equal(t, StatusConnected, c.Status())
}

func TestGetStatusSnapshot(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	s := c.GetStatus()
	assert.Equal(t, StatusDisconnected, s.Status)
	assert.Zero(t, s.FailureCount)
	assert.True(t, s.LastFailureTime.IsZero())
	assert.Zero(t, s.Reconnects)
	assert.Zero(t, s.RTT)

	c.recordFailure()
	s = c.GetStatus()
	assert.Equal(t, int32(1), s.FailureCount)
	assert.False(t, s.LastFailureTime.IsZero())
}

func TestWaitForConnectionTimesOut(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = c.WaitForConnection(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForConnectionReturnsOnceHealthy(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		c.setStatus(StatusConnected)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.WaitForConnection(ctx))
}

func TestOperationsRequireConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, c.Publish(ctx, "confsync.runs.edge", []byte("{}")), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe(ctx, "confsync.>", func(context.Context, []byte) {}), ErrNotConnected)

	_, err = c.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.CreateKeyValueBucket(ctx, kvConfig("confsync_snapshots"))
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.GetKeyValueBucket(ctx, "confsync_snapshots")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.DeleteKeyValueBucket(ctx, "confsync_snapshots"), ErrNotConnected)
	assert.ErrorIs(t, c.PublishToStream(ctx, "confsync.runs.edge", nil), ErrNotConnected)
}

func TestOperationsFailFastWhileCircuitOpen(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	c.setStatus(StatusCircuitOpen)
	ctx := context.Background()

	assert.ErrorIs(t, c.Connect(ctx), ErrCircuitOpen)
	_, err = c.CreateKeyValueBucket(ctx, kvConfig("confsync_snapshots"))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	_, err = c.GetStream(ctx, "CONFSYNC_RUNS")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, c.PublishToStream(ctx, "confsync.runs.edge", nil), ErrCircuitOpen)
}

func TestJetStreamBeforeConnect(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.JetStream()
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestConnectOptionBuilding(t *testing.T) {
	base, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	baseLen := len(base.connectOptions())

	full, err := NewClient("nats://localhost:4222",
		WithName("confsync"),
		WithCredentials("sync", "secret"),
		WithToken("tok"),
		WithTLS("client.crt", "client.key", "ca.crt"),
	)
	require.NoError(t, err)

	// Name, user info, token, client cert and root CA each add one.
	assert.Equal(t, baseLen+5, len(full.connectOptions()))
}

func TestConnectionHandlers(t *testing.T) {
	disconnects := make(chan error, 1)
	reconnects := make(chan struct{}, 1)
	health := make(chan bool, 4)

	c, err := NewClient("nats://localhost:4222",
		WithDisconnectCallback(func(err error) { disconnects <- err }),
		WithReconnectCallback(func() { reconnects <- struct{}{} }),
		WithHealthChangeCallback(func(ok bool) { health <- ok }),
	)
	require.NoError(t, err)

	wantErr := stderrors.New("connection reset")
	c.handleDisconnect(nil, wantErr)
	assert.Equal(t, StatusReconnecting, c.Status())
	assert.Equal(t, wantErr, <-disconnects)
	assert.False(t, <-health)

	c.handleReconnect(nil)
	assert.Equal(t, StatusConnected, c.Status())
	<-reconnects
	assert.True(t, <-health)
	assert.Equal(t, int32(1), c.GetStatus().Reconnects)
}

func TestClosedHandlerReportsLostConnection(t *testing.T) {
	lost := make(chan error, 1)
	c, err := NewClient("nats://localhost:4222",
		WithConnectionLostCallback(func(err error) { lost <- err }),
	)
	require.NoError(t, err)
	c.setStatus(StatusConnected)

	c.handleClosed(&nats.Conn{})
	assert.Equal(t, StatusDisconnected, c.Status())

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("connection lost callback never fired")
	}

	// A deliberate Close must not report a lost connection.
	c2, err := NewClient("nats://localhost:4222",
		WithConnectionLostCallback(func(error) { t.Error("unexpected lost callback") }),
	)
	require.NoError(t, err)
	require.NoError(t, c2.Close(context.Background()))
	c2.handleClosed(&nats.Conn{})
	time.Sleep(50 * time.Millisecond)
}

func TestCloseIsIdempotentAndWipesCredentials(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithCredentials("sync", "secret"),
		WithToken("tok"),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	assert.Empty(t, c.username)
	assert.Empty(t, c.password)
	assert.Empty(t, c.token)
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestConnectRefusedRecordsFailure(t *testing.T) {
	// Port 1 refuses immediately, no server needed.
	c, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(500*time.Millisecond),
		WithMaxReconnects(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, int32(1), c.Failures())
}

func TestWithMetricsWiresRegistry(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	c, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)
	assert.NotNil(t, c.core)
	assert.NotNil(t, c.jsMetrics)

	// The jetstream collectors register once per registry, so a second
	// client on the same registry is rejected.
	_, err = NewClient("nats://localhost:4222", WithMetrics(registry))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// No registry means no metrics, not an error.
	c2, err := NewClient("nats://localhost:4222", WithMetrics(nil))
	require.NoError(t, err)
	assert.Nil(t, c2.core)
	assert.Nil(t, c2.jsMetrics)
}

func TestIsAlreadyExistsError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("nats: bucket name already in use"), true},
		{fmt.Errorf("nats: stream name already in use (10058)"), true},
		{fmt.Errorf("resource already exists"), true},
		{fmt.Errorf("nats: key not found"), false},
		{fmt.Errorf("connection refused"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isAlreadyExistsError(tc.err), "err=%v", tc.err)
	}
}

func TestConcurrentStatusAccess(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1000))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for range 50 {
				c.recordFailure()
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				_ = c.Status()
				_ = c.IsHealthy()
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				_ = c.GetStatus()
				_ = c.Backoff()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(500), c.Failures())
}
