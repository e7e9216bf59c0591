package domain

import "encoding/json"

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Stage outcome statuses.
const (
	StageSuccess   = "success"
	StageFailed    = "failed"
	StageCancelled = "cancelled"
)

// Error kinds carried in JobError.Kind.
const (
	ErrKindInvalidInput        = "invalid_input"
	ErrKindCollaborator        = "collaborator_error"
	ErrKindTimeout             = "timeout"
	ErrKindNoQualifyingResults = "no_qualifying_results"
	ErrKindInvalidTransition   = "invalid_transition"
	ErrKindNotFound            = "not_found"
	ErrKindCancelled           = "cancelled"
)

type Job struct {
	ID           string          `json:"id"`
	PipelineKind string          `json:"pipeline_kind"`
	Status       string          `json:"status" enum:"pending,running,completed,failed"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
	StartedAt    *string         `json:"started_at,omitempty" format:"date-time"`
	CompletedAt  *string         `json:"completed_at,omitempty" format:"date-time"`
	StageResults []StageResult   `json:"stage_results,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *JobError       `json:"error,omitempty"`
}

// Terminal reports whether no further status transitions are allowed.
func (j Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// StageResult is one per-stage outcome. Rows are append-only: once written
// they are never rewritten or reordered.
type StageResult struct {
	Stage       string          `json:"stage"`
	Status      string          `json:"status" enum:"success,failed,cancelled"`
	Attempts    int             `json:"attempts"`
	DurationMS  int64           `json:"duration_ms"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt string          `json:"completed_at" format:"date-time"`
}

// JobError is the structured failure reason on a failed job.
type JobError struct {
	Stage    string `json:"stage,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
}
