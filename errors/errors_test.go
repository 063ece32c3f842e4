package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestClassificationOfSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"version conflict retries", ErrVersionConflict, ErrorTransient},
		{"lost connection retries", ErrConnectionLost, ErrorTransient},
		{"storage outage retries", ErrStorageUnavailable, ErrorTransient},
		{"context deadline retries", context.DeadlineExceeded, ErrorTransient},
		{"cancellation reads as transient", context.Canceled, ErrorTransient},
		{"parse failure blames input", ErrParsingFailed, ErrorInvalid},
		{"escaping path blames input", ErrUnsafePath, ErrorInvalid},
		{"unmapped path blames input", ErrUnmappedPath, ErrorInvalid},
		{"gate refusal blames input", ErrUnauthorized, ErrorInvalid},
		{"bad mount rule blames input", ErrInvalidRule, ErrorInvalid},
		{"corrupt record stops", ErrDataCorrupted, ErrorFatal},
		{"bad daemon config stops", ErrInvalidConfig, ErrorFatal},
		{"unknown defaults to retryable", fmt.Errorf("something odd"), ErrorTransient},
		{"nil defaults to retryable", nil, ErrorTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestMessageHints(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(fmt.Errorf("nats: connection refused")))
	assert.True(t, IsFatal(fmt.Errorf("panic recovered in apply")))
	assert.False(t, IsInvalid(fmt.Errorf("looks invalid but is unhinted")),
		"invalid has no message hints, unknown errors stay retryable")
}

func TestExplicitClassWinsOverHints(t *testing.T) {
	// The message says timeout, the classification says invalid.
	err := WrapInvalid(fmt.Errorf("read timeout while parsing"), "filestore", "LoadAll", "read fragment")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, ErrorInvalid, Classify(err))
}

func TestWrapFormat(t *testing.T) {
	cause := fmt.Errorf("unexpected end of JSON input")
	err := Wrap(cause, "filestore", "LoadAll", "parse fragment")
	require.Error(t, err)
	assert.Equal(t, "filestore.LoadAll: parse fragment failed: unexpected end of JSON input", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.NoError(t, Wrap(nil, "filestore", "LoadAll", "parse fragment"))
}

func TestWrapClassPreservesChain(t *testing.T) {
	err := WrapTransient(ErrSnapshotNotFound, "snapshot", "Load", "read record")
	require.Error(t, err)

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "snapshot", ce.Component)
	assert.Equal(t, "Load", ce.Operation)
	assert.Contains(t, ce.Error(), "snapshot.Load: read record failed")

	// Callers must still be able to branch on the sentinel underneath.
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestWrapClassVariants(t *testing.T) {
	cause := errors.New("cause")
	for _, tc := range []struct {
		wrap func(error, string, string, string) error
		want ErrorClass
	}{
		{WrapTransient, ErrorTransient},
		{WrapInvalid, ErrorInvalid},
		{WrapFatal, ErrorFatal},
	} {
		err := tc.wrap(cause, "c", "m", "a")
		assert.Equal(t, tc.want, Classify(err))
		assert.NoError(t, tc.wrap(nil, "c", "m", "a"), "nil in, nil out")
	}
}

func TestClassifiedErrorMessageFallback(t *testing.T) {
	ce := &ClassifiedError{Class: ErrorFatal, Err: errors.New("underlying")}
	assert.Equal(t, "underlying", ce.Error(), "empty Message falls back to the cause")
}

func TestDoubleWrapKeepsInnerClass(t *testing.T) {
	inner := WrapInvalid(ErrInvalidKey, "configtree", "Set", "validate key")
	outer := Wrap(inner, "regen", "RegenerateSnapshot", "apply ops")

	assert.True(t, IsInvalid(outer), "plain Wrap must not hide the classification")
	assert.ErrorIs(t, outer, ErrInvalidKey)
}
