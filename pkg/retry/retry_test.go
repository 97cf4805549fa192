package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueforge/queueforge/pkg/retry"
)

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fn should be called exactly once on immediate success")
}

func TestDo_RetriesOnTransientError(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient error")
		}
		return nil // succeeds on 2nd attempt
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "fn should be called twice: fail then succeed")
}

func TestDo_ReturnsErrorAfterMaxAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("permanent error")
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 3, calls, "fn should be called exactly MaxAttempts times")
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := retry.Do(ctx, retry.Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}, func() error {
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded),
		"expected DeadlineExceeded, got: %v", err)
}

func TestDo_OnRetry_CalledWithCorrectAttempt(t *testing.T) {
	var retryAttempts []int
	_ = retry.Do(context.Background(), retry.Config{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		OnRetry: func(attempt int, _ error) {
			retryAttempts = append(retryAttempts, attempt)
		},
	}, func() error {
		return errors.New("fail")
	})

	// OnRetry is called after attempts 1, 2, 3 (not after the last attempt).
	assert.Equal(t, []int{1, 2, 3}, retryAttempts)
}

func TestDo_AbortStopsRetrying(t *testing.T) {
	calls := 0
	sentinel := errors.New("unrecoverable")
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 5, BaseDelay: time.Millisecond}, func() error {
		calls++
		return retry.Abort(sentinel)
	})
	require.Error(t, err)
	assert.Equal(t, sentinel, err, "Abort unwraps to the original error")
	assert.Equal(t, 1, calls, "aborted errors must not retry")
}

func TestAbort_NilPassesThrough(t *testing.T) {
	assert.NoError(t, retry.Abort(nil))
}

func TestDo_ZeroMaxAttempts_DefaultsToOne(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 0, BaseDelay: time.Millisecond}, func() error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "MaxAttempts=0 should default to 1 attempt")
}

func TestDelay_ExponentialDoublesAndCaps(t *testing.T) {
	cfg := retry.Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Strategy: retry.Exponential}

	assert.Equal(t, 1*time.Second, cfg.Delay(1))
	assert.Equal(t, 2*time.Second, cfg.Delay(2))
	assert.Equal(t, 4*time.Second, cfg.Delay(3))
	assert.Equal(t, 16*time.Second, cfg.Delay(5))
	assert.Equal(t, 30*time.Second, cfg.Delay(6), "capped at MaxDelay")
	assert.Equal(t, 30*time.Second, cfg.Delay(20), "stays at cap")
}

func TestDelay_LinearGrowsByBase(t *testing.T) {
	cfg := retry.Config{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Strategy: retry.Linear}

	assert.Equal(t, 1*time.Second, cfg.Delay(1))
	assert.Equal(t, 2*time.Second, cfg.Delay(2))
	assert.Equal(t, 3*time.Second, cfg.Delay(3))
	assert.Equal(t, 3*time.Second, cfg.Delay(4), "capped at MaxDelay")
}

func TestDelay_MonotonicallyNonDecreasing(t *testing.T) {
	for _, strategy := range []retry.Strategy{retry.Exponential, retry.Linear} {
		cfg := retry.Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 30 * time.Second, Strategy: strategy}
		prev := time.Duration(0)
		for attempt := 1; attempt <= 12; attempt++ {
			d := cfg.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "strategy %s attempt %d", strategy, attempt)
			prev = d
		}
	}
}
