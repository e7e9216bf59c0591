package stage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"venturemill/internal/scoring"
	"venturemill/internal/stage"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	e := stage.Executor{Sleep: noSleep}
	out := e.Execute(context.Background(), func(ctx context.Context) ([]scoring.Item, error) {
		return []scoring.Item{{Label: "one"}}, nil
	}, stage.Policy{MaxRetries: 3})
	if out.Status != stage.StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", out.Status, out.Err)
	}
	if out.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", out.Attempts)
	}
	if len(out.Items) != 1 || out.Items[0].Label != "one" {
		t.Fatalf("unexpected items %v", out.Items)
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	e := stage.Executor{Sleep: noSleep}
	calls := 0
	out := e.Execute(context.Background(), func(ctx context.Context) ([]scoring.Item, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("flaky collaborator")
		}
		return []scoring.Item{{Label: "ok"}}, nil
	}, stage.Policy{MaxRetries: 3})
	if out.Status != stage.StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", out.Status, out.Err)
	}
	if out.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", out.Attempts)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	e := stage.Executor{Sleep: noSleep}
	boom := errors.New("always down")
	out := e.Execute(context.Background(), func(ctx context.Context) ([]scoring.Item, error) {
		return nil, boom
	}, stage.Policy{MaxRetries: 2})
	if out.Status != stage.StatusFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	if out.Attempts != 3 {
		t.Fatalf("maxRetries=2 should mean 3 attempts, got %d", out.Attempts)
	}
	if !errors.Is(out.Err, boom) {
		t.Fatalf("expected last error preserved, got %v", out.Err)
	}
}

func TestExecuteTimeoutSingleAttempt(t *testing.T) {
	e := stage.Executor{Sleep: noSleep}
	out := e.Execute(context.Background(), func(ctx context.Context) ([]scoring.Item, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, stage.Policy{Timeout: 10 * time.Millisecond, MaxRetries: 0})
	if out.Status != stage.StatusFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	if out.Attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", out.Attempts)
	}
	if !stage.IsTimeout(out.Err) {
		t.Fatalf("expected timeout error, got %v", out.Err)
	}
}

func TestExecuteCancelledMidAttempt(t *testing.T) {
	e := stage.Executor{Sleep: noSleep}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	out := e.Execute(ctx, func(ctx context.Context) ([]scoring.Item, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, stage.Policy{MaxRetries: 5})
	if out.Status != stage.StatusCancelled {
		t.Fatalf("expected cancelled, got %s (%v)", out.Status, out.Err)
	}
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := stage.Executor{Sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}}
	out := e.Execute(ctx, func(ctx context.Context) ([]scoring.Item, error) {
		return nil, errors.New("fail once")
	}, stage.Policy{MaxRetries: 3})
	if out.Status != stage.StatusCancelled {
		t.Fatalf("expected cancelled during backoff, got %s", out.Status)
	}
	if out.Attempts != 1 {
		t.Fatalf("expected no retry after cancel, got %d attempts", out.Attempts)
	}
}
