package poller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig(max int) Config {
	return Config{Interval: time.Millisecond, MaxAttempts: max}
}

func TestWaitFor_TimesOutAfterExactlyMaxProbes(t *testing.T) {
	calls := 0
	res, err := WaitFor(context.Background(), fastConfig(30), func(ctx context.Context) (string, bool) {
		calls++
		return "", false
	})

	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 30, calls)
	assert.Equal(t, 30, res.Attempts)
}

func TestWaitFor_SucceedsOnAttemptK(t *testing.T) {
	for _, k := range []int{1, 5, 16} {
		calls := 0
		res, err := WaitFor(context.Background(), fastConfig(16), func(ctx context.Context) (int, bool) {
			calls++
			return calls * 10, calls == k
		})

		require.NoError(t, err)
		assert.Equal(t, k, calls, "probe invocations")
		assert.Equal(t, k, res.Attempts)
		assert.Equal(t, k*10, res.Value)
	}
}

func TestWaitFor_NudgeCadence(t *testing.T) {
	var nudgedAt []int
	calls := 0
	cfg := fastConfig(30)
	cfg.NudgeEvery = 6
	cfg.Nudge = func(ctx context.Context) { nudgedAt = append(nudgedAt, calls) }

	_, err := WaitFor(context.Background(), cfg, func(ctx context.Context) (struct{}, bool) {
		calls++
		return struct{}{}, false
	})

	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 30, calls, "nudging does not change probe count")
	assert.Equal(t, []int{6, 12, 18, 24, 30}, nudgedAt)
}

func TestWaitFor_FirstProbeWaitsOneInterval(t *testing.T) {
	start := time.Now()
	_, err := WaitFor(context.Background(), Config{Interval: 20 * time.Millisecond, MaxAttempts: 1},
		func(ctx context.Context) (bool, bool) { return true, true })
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestWaitFor_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WaitFor(ctx, Config{Interval: time.Hour, MaxAttempts: 3},
		func(ctx context.Context) (int, bool) {
			t.Fatal("probe must not run")
			return 0, false
		})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitFor_ZeroBudget(t *testing.T) {
	_, err := WaitFor(context.Background(), Config{Interval: time.Millisecond},
		func(ctx context.Context) (int, bool) { return 1, true })
	assert.ErrorIs(t, err, ErrTimeout)
}
