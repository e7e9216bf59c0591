package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"venturemill/internal/db"
	"venturemill/internal/domain"
	"venturemill/internal/migrate"
	"venturemill/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.Store{DB: conn, Now: func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}}
}

func TestJobStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job, err := s.Create(ctx, "trend-scan")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Status != domain.JobPending {
		t.Fatalf("new job status = %s", job.Status)
	}

	// pending cannot jump straight to a terminal state
	err = s.Transition(ctx, job.ID, domain.JobCompleted, json.RawMessage(`[]`), nil)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("pending->completed: %v", err)
	}

	if err := s.Transition(ctx, job.ID, domain.JobRunning, nil, nil); err != nil {
		t.Fatalf("pending->running: %v", err)
	}
	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartedAt == nil {
		t.Fatalf("running job missing started_at")
	}

	if err := s.Transition(ctx, job.ID, domain.JobCompleted, json.RawMessage(`[{"label":"x"}]`), nil); err != nil {
		t.Fatalf("running->completed: %v", err)
	}
	got, err = s.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt == nil || len(got.Result) == 0 || got.Error != nil {
		t.Fatalf("completed job: completedAt=%v result=%q err=%v", got.CompletedAt, got.Result, got.Error)
	}

	// terminal states admit no further transitions
	err = s.Transition(ctx, job.ID, domain.JobFailed, nil, &domain.JobError{Kind: domain.ErrKindCollaborator, Message: "late"})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("completed->failed: %v", err)
	}
}

func TestTransitionResultErrorExclusivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job, err := s.Create(ctx, "full-pipeline")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(ctx, job.ID, domain.JobRunning, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(ctx, job.ID, domain.JobCompleted, nil, nil); err == nil {
		t.Fatalf("completed without result should error")
	}
	if err := s.Transition(ctx, job.ID, domain.JobFailed, nil, nil); err == nil {
		t.Fatalf("failed without error should error")
	}
	jobErr := &domain.JobError{Stage: "trend-scan", Kind: domain.ErrKindTimeout, Message: "deadline", Attempts: 3}
	if err := s.Transition(ctx, job.ID, domain.JobFailed, nil, jobErr); err != nil {
		t.Fatalf("running->failed: %v", err)
	}
	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Error == nil || got.Error.Kind != domain.ErrKindTimeout || got.Error.Attempts != 3 {
		t.Fatalf("job error = %+v", got.Error)
	}
	if len(got.Result) != 0 {
		t.Fatalf("failed job carries result: %s", got.Result)
	}
}

func TestStageResultsAppendOnlyOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job, err := s.Create(ctx, "idea-generation")
	if err != nil {
		t.Fatal(err)
	}
	stages := []string{"trend-scan", "idea-generation"}
	for i, name := range stages {
		sr := domain.StageResult{
			Stage:       name,
			Status:      domain.StageSuccess,
			Attempts:    1,
			DurationMS:  int64(10 * (i + 1)),
			Result:      json.RawMessage(`[]`),
			CompletedAt: fmt.Sprintf("2024-05-01T12:00:0%dZ", i),
		}
		if err := s.AppendStageResult(ctx, job.ID, sr); err != nil {
			t.Fatalf("append %s: %v", name, err)
		}
	}
	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.StageResults) != 2 {
		t.Fatalf("stage results = %d", len(got.StageResults))
	}
	for i, name := range stages {
		if got.StageResults[i].Stage != name {
			t.Fatalf("stage %d = %s, want %s", i, got.StageResults[i].Stage, name)
		}
	}
	if err := s.AppendStageResult(ctx, "missing", domain.StageResult{Stage: "x", Status: domain.StageFailed, CompletedAt: "2024-05-01T12:00:00Z"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("append to missing job: %v", err)
	}
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i, kind := range []string{"trend-scan", "trend-scan", "mvp-build"} {
		tick := base.Add(time.Duration(i) * time.Minute)
		s.Now = func() time.Time { return tick }
		job, err := s.Create(ctx, kind)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, job.ID)
	}
	if err := s.Transition(ctx, ids[0], domain.JobRunning, nil, nil); err != nil {
		t.Fatal(err)
	}

	all, err := s.List(ctx, store.Filter{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("list all = %d", len(all))
	}
	// newest first
	if all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Fatalf("order = %s,%s,%s", all[0].ID, all[1].ID, all[2].ID)
	}

	byKind, err := s.List(ctx, store.Filter{Kind: "trend-scan"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byKind) != 2 {
		t.Fatalf("kind filter = %d", len(byKind))
	}

	byStatus, err := s.List(ctx, store.Filter{Status: domain.JobRunning}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != ids[0] {
		t.Fatalf("status filter = %+v", byStatus)
	}

	limited, err := s.List(ctx, store.Filter{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit = %d", len(limited))
	}
}

func TestEvictRemovesOnlyOldTerminalJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	finish := func(at time.Time) string {
		s.Now = func() time.Time { return at }
		job, err := s.Create(ctx, "trend-scan")
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Transition(ctx, job.ID, domain.JobRunning, nil, nil); err != nil {
			t.Fatal(err)
		}
		if err := s.Transition(ctx, job.ID, domain.JobCompleted, json.RawMessage(`[]`), nil); err != nil {
			t.Fatal(err)
		}
		return job.ID
	}

	oldID := finish(base)
	freshID := finish(base.Add(48 * time.Hour))

	s.Now = func() time.Time { return base.Add(72 * time.Hour) }
	running, err := s.Create(ctx, "trend-scan")
	if err != nil {
		t.Fatal(err)
	}

	n, err := s.Evict(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("evicted = %d", n)
	}
	if _, err := s.Get(ctx, oldID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old job still present: %v", err)
	}
	if _, err := s.Get(ctx, freshID); err != nil {
		t.Fatalf("fresh job evicted: %v", err)
	}
	if _, err := s.Get(ctx, running.ID); err != nil {
		t.Fatalf("running job evicted: %v", err)
	}
}
