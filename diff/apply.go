package diff

import (
	"fmt"

	"github.com/c360/confsync/errors"
)

// Target is the mutable state an op sequence is applied to: either the live
// runtime state or a snapshot's tree. *configtree.Tree satisfies Target.
type Target interface {
	Set(path string, value any) error
	Remove(path string) error
}

// OnChange is invoked synchronously after each successful mutation so
// dependent subsystems can react incrementally. It must not block
// indefinitely: it gates the remaining ops in the same apply pass.
// Returning an error halts the pass.
type OnChange func(op Op) error

// ApplyError reports a halted apply pass: the op in flight, every op fully
// applied before it, and the underlying cause. There is no automatic
// rollback; callers decide whether the partial apply is acceptable.
//
// When Err came from the OnChange callback, Failed's mutation itself had
// already succeeded: the target includes it even though Applied does not.
type ApplyError struct {
	Failed  Op
	Applied []Op
	Err     error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply halted at %s after %d applied ops: %v",
		e.Failed, len(e.Applied), e.Err)
}

// Unwrap returns the underlying cause.
func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Apply applies ops to target in order. Add and Update set the op's new
// value; Remove deletes the op's path. After each successful mutation the
// onChange callback (if non-nil) runs synchronously. The first mutation or
// callback failure halts the pass with an *ApplyError. On success the
// returned slice holds every applied op.
func Apply(ops []Op, target Target, onChange OnChange) ([]Op, error) {
	applied := make([]Op, 0, len(ops))
	for _, op := range ops {
		var err error
		switch op.Kind {
		case KindAdd, KindUpdate:
			err = target.Set(op.Path, op.New)
		case KindRemove:
			err = target.Remove(op.Path)
		default:
			err = errors.WrapInvalid(errors.ErrInvalidValue, "Apply", "Apply",
				fmt.Sprintf("unknown op kind %q", op.Kind))
		}
		if err != nil {
			return applied, &ApplyError{Failed: op, Applied: applied, Err: err}
		}
		if onChange != nil {
			if err := onChange(op); err != nil {
				return applied, &ApplyError{Failed: op, Applied: applied, Err: err}
			}
		}
		applied = append(applied, op)
	}
	return applied, nil
}
