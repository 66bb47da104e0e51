package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/contrabot/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = retry.Policy{Attempts: 3, BaseWait: time.Millisecond}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fast, "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := retry.Do(context.Background(), fast, "transcribe", func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	bad := errors.New("401 unauthorized")
	calls := 0
	err := retry.Do(context.Background(), fast, "op", func(context.Context) error {
		calls++
		return retry.Permanent(bad)
	})
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
}

func TestDo_TimeoutPerAttempt(t *testing.T) {
	p := retry.Policy{Attempts: 2, BaseWait: time.Millisecond, Timeout: 10 * time.Millisecond}
	err := retry.Do(context.Background(), p, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry.Do(ctx, fast, "op", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
