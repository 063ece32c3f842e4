// Package errors provides standardized error handling patterns for ConfSync components.
//
// # Overview
//
// The errors package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable), and
// Fatal (unrecoverable, stop processing). Classification lets callers decide
// between retrying a NATS hiccup, rejecting a malformed configuration file,
// and refusing to touch persisted state after corruption, without string
// matching at every call site.
//
// # Error Classification
//
//   - Transient: connection loss, storage unavailability, version conflicts
//     during compare-and-set (retry recommended)
//   - Invalid: malformed files, bad paths, unauthorized operations (do not retry)
//   - Fatal: corrupted snapshots, invalid configuration (stop processing)
//
// The system integrates with Go's standard error handling, supporting
// errors.Is(), errors.As(), and wrapping chains.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "SnapshotStore", "Save", "put snapshot")
//	errors.WrapInvalid(err, "FileStore", "LoadAll", "parse fragment")
//	errors.WrapFatal(err, "Coordinator", "RegenerateSnapshot", "decode snapshot")
//
// The generic Wrap() adds context while preserving the original error's
// classification through the chain.
//
// # Standard Error Variables
//
// Pre-defined variables cover the common conditions of a configuration
// synchronization engine: path lookups (ErrNotFound, ErrInvalidPath),
// file parsing (ErrParsingFailed, ErrUnsafePath), snapshot persistence
// (ErrSnapshotNotFound, ErrVersionConflict), mapping (ErrUnmappedPath,
// ErrInvalidRule), and coordination (ErrUnauthorized, ErrAlreadyRegistered).
// Use these instead of ad hoc messages so errors.Is checks work across
// package boundaries.
//
// Richer structured errors (parse locations, merge conflict paths, partial
// apply reports) live as typed errors in the packages that raise them:
// filestore.ParseError, configtree.ConflictError, pathmap.ConflictError,
// and diff.ApplyError. This package classifies them; it does not define them.
package errors
