package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy, func(error) bool { return true }, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		func(err error) bool { return errors.Is(err, errTransient) },
		func() error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy,
		func(err error) bool { return errors.Is(err, errTransient) },
		func() error {
			calls++
			return errFatal
		})
	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		func(error) bool { return true },
		func() error {
			calls++
			return errTransient
		})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second},
		func(error) bool { return true },
		func() error {
			calls++
			return errTransient
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSnapshotPolicyRetriesOnce(t *testing.T) {
	assert.Equal(t, 2, SnapshotPolicy.MaxAttempts)

	calls := 0
	err := Do(context.Background(), SnapshotPolicy, func(error) bool { return true }, func() error {
		calls++
		return errTransient
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
