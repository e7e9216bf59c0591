// Package stage executes one external collaborator call under a uniform
// reliability policy so the orchestrator never sees collaborator-specific
// failure modes, only outcomes.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"venturemill/internal/scoring"
)

// RunFunc is one collaborator invocation, already adapted to produce scoring
// items. It must honor ctx cancellation.
type RunFunc func(ctx context.Context) ([]scoring.Item, error)

// Policy carries the per-stage reliability options.
type Policy struct {
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	BackoffFactor float64
}

const (
	defaultBackoff       = 250 * time.Millisecond
	defaultBackoffFactor = 2
)

// TimeoutError marks an attempt that exceeded the stage timeout. It is
// retryable, same as any collaborator error.
type TimeoutError struct {
	Limit time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("collaborator did not respond within %s", e.Limit)
}

// IsTimeout reports whether err (or anything it wraps) is a stage timeout.
func IsTimeout(err error) bool {
	var te TimeoutError
	return errors.As(err, &te)
}

// Outcome statuses mirror domain stage statuses.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type Outcome struct {
	Status   string
	Items    []scoring.Item
	Err      error
	Attempts int
	Duration time.Duration
}

// Executor retries collaborator calls with exponential backoff. The zero
// value is usable; Sleep is injectable for tests.
type Executor struct {
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func (e Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
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

func (e Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Execute runs the collaborator up to MaxRetries+1 times. Timeouts count as
// retryable collaborator errors. If ctx is cancelled the in-flight attempt is
// abandoned and no further retries are scheduled.
func (e Executor) Execute(ctx context.Context, run RunFunc, p Policy) Outcome {
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	factor := p.BackoffFactor
	if factor <= 1 {
		factor = defaultBackoffFactor
	}

	start := e.now()
	attempts := 0
	var lastErr error
	for {
		attempts++
		items, err := e.attempt(ctx, run, p.Timeout)
		if err == nil {
			return Outcome{Status: StatusSuccess, Items: items, Attempts: attempts, Duration: e.now().Sub(start)}
		}
		if ctx.Err() != nil {
			return Outcome{Status: StatusCancelled, Err: ctx.Err(), Attempts: attempts, Duration: e.now().Sub(start)}
		}
		lastErr = err
		if attempts > p.MaxRetries {
			return Outcome{Status: StatusFailed, Err: lastErr, Attempts: attempts, Duration: e.now().Sub(start)}
		}
		if err := e.sleep(ctx, backoff); err != nil {
			return Outcome{Status: StatusCancelled, Err: err, Attempts: attempts, Duration: e.now().Sub(start)}
		}
		backoff = time.Duration(float64(backoff) * factor)
	}
}

func (e Executor) attempt(ctx context.Context, run RunFunc, timeout time.Duration) ([]scoring.Item, error) {
	attemptCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()
	items, err := run(attemptCtx)
	if err != nil {
		// Only classify as stage timeout when the parent is still alive;
		// otherwise the deadline came from cancellation.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, TimeoutError{Limit: timeout}
		}
		return nil, err
	}
	return items, nil
}
