// Package retry runs an operation under exponential backoff.
//
// # Overview
//
// It backs the KV store's compare-and-swap loops, where a lost race is
// transient by definition and a short randomized backoff resolves it.
// The loop is deliberately plain: backoff with jitter, a hard attempt
// cap, and context cancellation. What is worth retrying is the caller's
// call, signalled by wrapping terminal failures with NonRetryable.
//
// # Usage
//
// A CAS update that must not repeat validation failures:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    cur, rev, err := bucket.Get(ctx, key)
//	    if err != nil {
//	        return err
//	    }
//	    next, err := mutate(cur)
//	    if err != nil {
//	        return retry.NonRetryable(err)
//	    }
//	    _, err = bucket.Update(ctx, key, next, rev)
//	    return err
//	})
//
// Custom schedules set Config fields directly; zero fields take the
// defaults:
//
//	cfg := retry.Config{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond}
//	err := retry.Do(ctx, cfg, op)
//
// # Context Cancellation
//
// Do checks ctx between attempts and while sleeping; cancellation
// surfaces wrapped around ctx.Err with the attempt count.
package retry
