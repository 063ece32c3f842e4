// Package errors carries the error idiom used across ConfSync: sentinel
// values for well-known conditions, a transient/invalid/fatal
// classification, and wrapping helpers that attach component and operation
// context while keeping the cause reachable through errors.Is/As.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

/// ErrorClass sorts failures by how callers should react: retry, reject
// the input, or stop.
type ErrorClass int

const (
	// ErrorTransient marks failures worth retrying.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid marks failures caused by bad input or configuration.
	ErrorInvalid
	// ErrorFatal marks failures that must stop processing.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinels for conditions callers branch on.
var (
	// Tree and path errors
	ErrNotFound     = errors.New("path not found")
	ErrInvalidPath  = errors.New("invalid path")
	ErrInvalidKey   = errors.New("invalid key")
	ErrInvalidValue = errors.New("invalid value")
	ErrTypeMismatch = errors.New("value type mismatch")

	// File store errors
	ErrParsingFailed = errors.New("parsing failed")
	ErrUnsafePath    = errors.New("file path escapes configuration root")
	ErrFileTooLarge  = errors.New("file exceeds size limit")

	// Snapshot and persistence errors
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrVersionConflict    = errors.New("snapshot version conflict")
	ErrDataCorrupted      = errors.New("data corrupted")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")

	// Connection errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Mapping and rule errors
	ErrUnmappedPath = errors.New("path has no owning file")
	ErrInvalidRule  = errors.New("invalid mount rule")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Coordination errors
	ErrUnauthorized      = errors.New("operation not authorized")
	ErrAlreadyRegistered = errors.New("handler type already registered")
	ErrAlreadyStarted    = errors.New("component already started")
	ErrNotStarted        = errors.New("component not started")
)

// Per-class sentinel sets. An unwrapped sentinel classifies by membership
// here; wrapped errors classify by their ClassifiedError instead.
var (
	transientSentinels = []error{
		ErrConnectionTimeout,
		ErrConnectionLost,
		ErrNoConnection,
		ErrStorageUnavailable,
		ErrVersionConflict,
		context.DeadlineExceeded,
		context.Canceled,
	}
	invalidSentinels = []error{
		ErrParsingFailed,
		ErrInvalidPath,
		ErrInvalidKey,
		ErrInvalidValue,
		ErrTypeMismatch,
		ErrUnsafePath,
		ErrUnmappedPath,
		ErrInvalidRule,
		ErrUnauthorized,
	}
	fatalSentinels = []error{
		ErrInvalidConfig,
		ErrMissingConfig,
		ErrDataCorrupted,
	}
)

// Message substrings used as a last resort for errors from outside the
// module (drivers, the runtime) that carry neither a sentinel nor a
// classification.
var (
	transientHints = []string{
		"timeout", "connection", "network", "temporary", "unavailable", "busy", "retry",
	}
	fatalHints = []string{
		"fatal", "panic", "corrupted", "invalid config", "missing config",
		"out of memory", "disk full",
	}
)

// ClassifiedError binds a wrapped cause to its class and the
// component/operation that produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

func matchesAny(err error, sentinels []error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

func hintedBy(err error, hints []string) bool {
	msg := strings.ToLower(err.Error())
	for _, h := range hints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err should be retried. An explicit
// classification wins; otherwise transient sentinels and message hints
// decide.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}
	return matchesAny(err, transientSentinels) || hintedBy(err, transientHints)
}

// IsFatal reports whether err must stop processing.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}
	return matchesAny(err, fatalSentinels) || hintedBy(err, fatalHints)
}

// IsInvalid reports whether err blames the caller's input. No message
// hints here: unknown errors should default to retryable, not to a
// silent rejection.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}
	return matchesAny(err, invalidSentinels)
}

// Classify resolves err to a single class, preferring transient so
// unknown failures stay retryable.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsTransient(err):
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// Wrap adds "component.method: action failed" context around err. The
// cause stays reachable through errors.Is/As.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err with context and marks it retryable.
func WrapTransient(err error, component, method, action string) error {
	return wrapClass(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err with context and marks it unrecoverable.
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err with context and blames the input.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(ErrorInvalid, err, component, method, action)
}
