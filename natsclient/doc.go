// Package natsclient is the NATS transport layer for confsync. It wraps
// the nats.go client with a circuit breaker, connection health
// monitoring, and JetStream access, and builds the revision-aware
// KVStore the snapshot store persists through.
//
// # Connecting
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("confsync-edge-7"),
//	    natsclient.WithMaxReconnects(-1),
//	    natsclient.WithReconnectWait(2*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// Connect dials once; afterwards nats.go reconnects on its own within
// the configured limits. WaitForConnection blocks until the connection
// is usable:
//
//	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
//	defer cancel()
//	if err := client.WaitForConnection(waitCtx); err != nil {
//	    return err
//	}
//
// # Circuit breaker
//
// Consecutive failures past the threshold (default five) open the
// circuit: operations fail fast with ErrCircuitOpen instead of piling
// onto a struggling server. The breaker half-opens after an exponential
// backoff and closes again on the first success.
//
//	err := client.Connect(ctx)
//	if errors.Is(err, natsclient.ErrCircuitOpen) {
//	    time.Sleep(client.Backoff())
//	    // retry later
//	}
//
// Threshold and backoff ceiling are configurable:
//
//	natsclient.WithCircuitBreakerThreshold(10)
//	natsclient.WithMaxBackoff(5 * time.Minute)
//
// # Key-value store
//
// KVStore layers CAS semantics over a JetStream KV bucket. The snapshot
// store uses it for optimistic versioning of the configuration
// snapshot:
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//	    Bucket:  "confsync_snapshots",
//	    History: 20,
//	})
//	kv := client.NewKVStore(bucket)
//
//	entry, err := kv.Get(ctx, "current")             // value + revision
//	_, err = kv.Update(ctx, "current", data, entry.Revision) // CAS write
//
// UpdateWithRetry handles the whole read-modify-write cycle, retrying
// revision conflicts with jittered backoff:
//
//	err = kv.UpdateWithRetry(ctx, "current", func(current []byte) ([]byte, error) {
//	    return rewrite(current), nil // may run more than once
//	})
//
// TemporalResolver answers "what was this key at time T" against the
// bucket's revision history, with a short-TTL cache over history reads.
//
// # Errors
//
// Connection level sentinels are ErrNotConnected, ErrCircuitOpen and
// ErrConnectionTimeout. KV operations translate the NATS error surface
// into ErrKVKeyNotFound, ErrKVKeyExists, ErrKVRevisionMismatch and
// ErrKVMaxRetriesExceeded; IsKVNotFoundError and IsKVConflictError also
// match the raw server replies, so they work on errors from any layer:
//
//	_, err := kv.Update(ctx, key, value, revision)
//	switch {
//	case natsclient.IsKVNotFoundError(err):
//	    // key vanished, create instead
//	case natsclient.IsKVConflictError(err):
//	    // another writer won, re-read and retry
//	}
//
// # Health and metrics
//
// A background probe checks the connection every WithHealthInterval
// (default ten seconds) and fires the OnHealthChange callback on
// transitions; the daemon feeds this into its health endpoint. With
// WithMetrics the client also keeps the nats_connected, nats_rtt,
// nats_reconnects and circuit breaker gauges current, and polls message
// and byte counts for every stream it created.
//
// # Testing
//
// TestClient runs a real NATS server in a container, because mocks do
// not reproduce revision semantics or reconnect behavior:
//
//	func TestSnapshotRoundTrip(t *testing.T) {
//	    tc := natsclient.NewTestClient(t, natsclient.WithKV())
//	    kv, err := tc.CreateKVBucket(ctx, "snapshots")
//	    ...
//	}
//
// NewSharedTestClient is the TestMain variant for sharing one container
// across a package's integration tests.
package natsclient
