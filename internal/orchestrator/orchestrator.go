// Package orchestrator runs pipeline jobs. Each job gets its own goroutine
// which owns every write to that job's record, so job state never races.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"venturemill/internal/domain"
	"venturemill/internal/events"
	"venturemill/internal/pipeline"
	"venturemill/internal/scoring"
	"venturemill/internal/stage"
	"venturemill/internal/store"
)

var (
	ErrUnknownKind    = errors.New("unknown pipeline kind")
	ErrNotCancellable = errors.New("job is not cancellable")
)

type Orchestrator struct {
	Store    store.Store
	Events   events.Writer
	Registry *pipeline.Registry
	Exec     stage.Executor
	Now      func() time.Time
	Logger   *log.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	done    map[string]chan struct{}
}

func New(s store.Store, ev events.Writer, reg *pipeline.Registry) *Orchestrator {
	return &Orchestrator{
		Store:    s,
		Events:   ev,
		Registry: reg,
		running:  make(map[string]context.CancelFunc),
		done:     make(map[string]chan struct{}),
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// Submit creates a job and dispatches it. The returned job is still pending;
// poll Get or use Wait to observe progress.
func (o *Orchestrator) Submit(ctx context.Context, kind string, params pipeline.Params) (domain.Job, error) {
	def, ok := o.Registry.Get(kind)
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	job, err := o.Store.Create(ctx, kind)
	if err != nil {
		return domain.Job{}, err
	}
	o.emit(ctx, "job.created", job.ID, events.EventPayload{"pipeline_kind": kind})

	// The job outlives the submit request.
	runCtx, cancel := context.WithCancel(context.Background())
	ch := make(chan struct{})
	o.mu.Lock()
	o.running[job.ID] = cancel
	o.done[job.ID] = ch
	o.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.running, job.ID)
			o.mu.Unlock()
			close(ch)
		}()
		o.run(runCtx, job.ID, def, params)
	}()
	return job, nil
}

// Wait returns a channel closed when the job's goroutine finishes. For jobs
// not currently running it returns a closed channel.
func (o *Orchestrator) Wait(id string) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ch, ok := o.done[id]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Cancel requests cancellation of a running or pending job. The job will
// finish as failed with kind cancelled once its goroutine observes the
// request.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	cancel, ok := o.running[id]
	o.mu.Unlock()
	if !ok {
		job, err := o.Store.Get(ctx, id)
		if err != nil {
			return err
		}
		if job.Terminal() {
			return fmt.Errorf("%w: job is %s", ErrNotCancellable, job.Status)
		}
		return ErrNotCancellable
	}
	o.emit(ctx, "job.cancel.requested", id, nil)
	cancel()
	return nil
}

func (o *Orchestrator) run(ctx context.Context, jobID string, def pipeline.Definition, params pipeline.Params) {
	// Persist the start on a fresh context: a cancel can land before this
	// goroutine is scheduled, and the job must still settle in a terminal
	// status rather than stay pending.
	if err := o.Store.Transition(context.Background(), jobID, domain.JobRunning, nil, nil); err != nil {
		o.logf("job %s: start: %v", jobID, err)
		return
	}
	o.emit(context.Background(), "job.started", jobID, nil)

	if err := ctx.Err(); err != nil {
		o.fail(jobID, &domain.JobError{
			Kind:    domain.ErrKindCancelled,
			Message: "cancelled before the first stage",
		})
		return
	}

	if def.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Deadline)
		defer cancel()
	}

	var carry []scoring.Item
	for _, st := range def.Stages {
		run := func(c context.Context) ([]scoring.Item, error) {
			return st.Run(c, carry, params)
		}
		out := o.Exec.Execute(ctx, run, st.Policy)
		if out.Status != stage.StatusSuccess {
			o.recordStage(jobID, domain.StageResult{
				Stage:       st.Name,
				Status:      stageStatus(out.Status),
				Attempts:    out.Attempts,
				DurationMS:  out.Duration.Milliseconds(),
				Error:       out.Err.Error(),
				CompletedAt: o.now().UTC().Format(time.RFC3339),
			})
			o.fail(jobID, &domain.JobError{
				Stage:    st.Name,
				Kind:     classify(ctx, out),
				Message:  out.Err.Error(),
				Attempts: out.Attempts,
			})
			return
		}

		items := out.Items
		if err := scoring.Apply(items, st.Weights); err != nil {
			o.recordStage(jobID, domain.StageResult{
				Stage:       st.Name,
				Status:      domain.StageFailed,
				Attempts:    out.Attempts,
				DurationMS:  out.Duration.Milliseconds(),
				Error:       err.Error(),
				CompletedAt: o.now().UTC().Format(time.RFC3339),
			})
			o.fail(jobID, &domain.JobError{
				Stage:    st.Name,
				Kind:     domain.ErrKindInvalidInput,
				Message:  err.Error(),
				Attempts: out.Attempts,
			})
			return
		}
		kept := scoring.Filter(scoring.Rank(items, scoring.ByRecency), st.MinScore)

		data, err := json.Marshal(itemsOrEmpty(kept))
		if err != nil {
			o.fail(jobID, &domain.JobError{Stage: st.Name, Kind: domain.ErrKindCollaborator, Message: err.Error(), Attempts: out.Attempts})
			return
		}
		o.recordStage(jobID, domain.StageResult{
			Stage:       st.Name,
			Status:      domain.StageSuccess,
			Attempts:    out.Attempts,
			DurationMS:  out.Duration.Milliseconds(),
			Result:      data,
			CompletedAt: o.now().UTC().Format(time.RFC3339),
		})
		o.emit(context.Background(), "job.stage.completed", jobID, events.EventPayload{
			"stage": st.Name,
			"kept":  len(kept),
		})

		if len(kept) == 0 && st.Mandatory {
			o.fail(jobID, &domain.JobError{
				Stage:    st.Name,
				Kind:     domain.ErrKindNoQualifyingResults,
				Message:  fmt.Sprintf("no results from %s met the minimum score %.0f", st.Name, st.MinScore),
				Attempts: out.Attempts,
			})
			return
		}
		carry = kept
	}

	result, err := json.Marshal(itemsOrEmpty(carry))
	if err != nil {
		o.fail(jobID, &domain.JobError{Kind: domain.ErrKindCollaborator, Message: err.Error()})
		return
	}
	if err := o.Store.Transition(context.Background(), jobID, domain.JobCompleted, result, nil); err != nil {
		o.logf("job %s: complete: %v", jobID, err)
		return
	}
	o.emit(context.Background(), "job.completed", jobID, events.EventPayload{"items": len(carry)})
}

func (o *Orchestrator) fail(jobID string, jobErr *domain.JobError) {
	// The run context may already be cancelled; persistence must still happen.
	if err := o.Store.Transition(context.Background(), jobID, domain.JobFailed, nil, jobErr); err != nil {
		o.logf("job %s: fail: %v", jobID, err)
		return
	}
	o.emit(context.Background(), "job.failed", jobID, events.EventPayload{
		"stage": jobErr.Stage,
		"kind":  jobErr.Kind,
	})
}

func (o *Orchestrator) recordStage(jobID string, sr domain.StageResult) {
	if err := o.Store.AppendStageResult(context.Background(), jobID, sr); err != nil {
		o.logf("job %s: stage result: %v", jobID, err)
	}
}

func (o *Orchestrator) emit(ctx context.Context, evtType, jobID string, payload events.EventPayload) {
	if o.Events.DB == nil {
		return
	}
	if err := o.Events.Append(ctx, evtType, jobID, payload); err != nil {
		o.logf("event %s: %v", evtType, err)
	}
}

func stageStatus(s string) string {
	if s == stage.StatusCancelled {
		return domain.StageCancelled
	}
	return domain.StageFailed
}

func classify(ctx context.Context, out stage.Outcome) string {
	if out.Status == stage.StatusCancelled {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.ErrKindTimeout
		}
		return domain.ErrKindCancelled
	}
	if stage.IsTimeout(out.Err) {
		return domain.ErrKindTimeout
	}
	if errors.Is(out.Err, scoring.ErrInvalidInput) {
		return domain.ErrKindInvalidInput
	}
	return domain.ErrKindCollaborator
}

func itemsOrEmpty(items []scoring.Item) []scoring.Item {
	if items == nil {
		return []scoring.Item{}
	}
	return items
}
