package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_SucceedsFirstTry(t *testing.T) {
	calls := 0
	attempt, n := Run(context.Background(), Policy{MaxAttempts: 3}, func(int) Attempt {
		calls++
		return Attempt{Success: true}
	})
	assert.True(t, attempt.Success)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

func TestRun_RetriesUpToMax(t *testing.T) {
	calls := 0
	attempt, n := Run(context.Background(), Policy{MaxAttempts: 3}, func(int) Attempt {
		calls++
		return Attempt{Success: false}
	})
	require.False(t, attempt.Success)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestRun_SucceedsOnLastAttempt(t *testing.T) {
	calls := 0
	attempt, n := Run(context.Background(), Policy{MaxAttempts: 3}, func(a int) Attempt {
		calls++
		return Attempt{Success: a == 3}
	})
	assert.True(t, attempt.Success)
	assert.Equal(t, 3, n)
}

func TestRun_ZeroMaxAttemptsMeansOneTry(t *testing.T) {
	calls := 0
	_, n := Run(context.Background(), Policy{MaxAttempts: 0}, func(int) Attempt {
		calls++
		return Attempt{Success: false}
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

func TestRun_DoublingDelayGrows(t *testing.T) {
	var gaps []time.Duration
	var last time.Time
	Run(context.Background(), Policy{MaxAttempts: 3, DelayMs: 10, Doubling: true}, func(a int) Attempt {
		now := time.Now()
		if a > 1 {
			gaps = append(gaps, now.Sub(last))
		}
		last = now
		return Attempt{Success: false}
	})
	require.Len(t, gaps, 2)
	assert.Greater(t, gaps[1], gaps[0])
}

func TestRun_CancelStopsWaitingBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	_, n := Run(ctx, Policy{MaxAttempts: 5, DelayMs: 5000}, func(a int) Attempt {
		calls++
		if a == 1 {
			cancel()
		}
		return Attempt{Success: false}
	})
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}
