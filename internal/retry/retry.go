// Package retry implements the bounded retry controller of spec.md §4.6:
// a task with retry_max > 0 gets additional attempts after a non-zero exit,
// spaced by a fixed or doubling delay. It adopts cenkalti/backoff/v4's
// BackOff vocabulary (the interface the teacher's dependency pack contributes
// for this concern) but drives its own bounded loop rather than the
// library's stock ExponentialBackOff, whose jitter and max-elapsed-time
// semantics don't match spec.md's exact doubling-with-a-hard-attempt-cap
// policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes one task's retry configuration (spec.md §3 Task fields
// retry_max, retry_delay_ms, retry_backoff).
type Policy struct {
	MaxAttempts int   // total attempts including the first; 1 means no retry
	DelayMs     int64 // base delay between attempts
	Doubling    bool  // double DelayMs after each failed attempt
}

// fixedOrDoublingBackOff implements backoff.BackOff with exactly the two
// policies spec.md names: a constant delay, or one that doubles each call.
// It never reports backoff.Stop; Run owns the attempt cap.
type fixedOrDoublingBackOff struct {
	next     time.Duration
	doubling bool
}

var _ backoff.BackOff = (*fixedOrDoublingBackOff)(nil)

func (b *fixedOrDoublingBackOff) NextBackOff() time.Duration {
	d := b.next
	if b.doubling {
		b.next *= 2
	}
	return d
}

func (b *fixedOrDoublingBackOff) Reset() {}

// Attempt is the outcome of a single try, as reported by the caller's
// operation function.
type Attempt struct {
	Success bool
}

// Run invokes op up to policy.MaxAttempts times, stopping as soon as op
// returns a successful Attempt. Between attempts it waits according to
// policy's delay (zero delay if DelayMs is zero), unless ctx is cancelled
// first, in which case Run returns the last attempt immediately without
// waiting out the remaining delay (spec.md §9: retry waits should observe
// cancellation).
//
// Run returns the final Attempt and the number of attempts made. It never
// returns an error itself: op's own error (if any) must be folded into
// Attempt by the caller, since what counts as "success" is task-specific
// (e.g. allow_failure changes whether a non-zero exit still halts retries
// upstream, but that decision belongs to the Scheduler, not here).
func Run(ctx context.Context, policy Policy, op func(attemptNum int) Attempt) (Attempt, int) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := &fixedOrDoublingBackOff{
		next:     time.Duration(policy.DelayMs) * time.Millisecond,
		doubling: policy.Doubling,
	}

	var last Attempt
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = op(attempt)
		if last.Success || attempt == maxAttempts {
			return last, attempt
		}

		delay := bo.NextBackOff()
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return last, attempt
		}
	}
	return last, maxAttempts
}
