// Package poll provides a bounded fixed-interval polling loop that tells an
// exhausted attempt budget apart from a failed check.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when every attempt reported pending.
var ErrTimeout = errors.New("poll attempts exhausted")

// Func is one poll attempt. It returns done=true with a nil error when a
// terminal answer has been obtained, done=false to keep waiting, or a non-nil
// error to stop immediately.
type Func func(ctx context.Context, attempt int) (done bool, err error)

// Poller runs a Func at a fixed interval for at most MaxAttempts attempts.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int

	// Sleep waits for d or until ctx is done. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run waits Interval before every attempt, as the runner needs time to pick
// up a submission. It returns the number of attempts made, ErrTimeout when the
// budget ran out, the context error on cancellation, or the error from fn.
func (p Poller) Run(ctx context.Context, fn Func) (int, error) {
	if p.MaxAttempts <= 0 {
		return 0, fmt.Errorf("%w: max attempts is %d", ErrTimeout, p.MaxAttempts)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := sleep(ctx, p.Interval); err != nil {
			return attempt - 1, err
		}
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		done, err := fn(ctx, attempt)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}
	}
	return p.MaxAttempts, fmt.Errorf("%w after %d attempts", ErrTimeout, p.MaxAttempts)
}

// Sleep blocks for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
