package regen

import "context"

// Gate is the authorization check in front of every regeneration
// operation. Regeneration rewrites live state, config files, or the
// snapshot record, so the coordinator refuses to start until the gate
// admits the caller. Any error fails closed.
type Gate interface {
	// Authorize reports whether the calling context may trigger a
	// regeneration. Implementations return errors.ErrUnauthorized,
	// wrapped with their own context, on denial.
	Authorize(ctx context.Context) error
}

// GateFunc adapts a plain function to the Gate interface.
type GateFunc func(ctx context.Context) error

// Authorize implements Gate.
func (f GateFunc) Authorize(ctx context.Context) error { return f(ctx) }

// AllowAll returns a gate that admits every caller. It is the default
// for coordinators embedded in contexts that are already elevated, such
// as the daemon's own file watcher.
func AllowAll() Gate {
	return GateFunc(func(context.Context) error { return nil })
}
