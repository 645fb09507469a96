package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      10 * time.Millisecond,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, fastConfig())

	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesTransientError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastConfig())

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	}, fastConfig())

	require.Equal(t, boom, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	invalid := errors.New("validation failed")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(invalid)
	}, fastConfig())

	require.Equal(t, invalid, err)
	require.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(ctx context.Context) error {
		return errors.New("never succeeds")
	}, fastConfig())

	require.ErrorIs(t, err, context.Canceled)
}

func TestPermanentNil(t *testing.T) {
	require.Nil(t, Permanent(nil))
}
