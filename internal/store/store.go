package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"venturemill/internal/domain"
)

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
)

var allowedTransitions = map[string][]string{
	domain.JobPending: {domain.JobRunning},
	domain.JobRunning: {domain.JobCompleted, domain.JobFailed},
}

func transitionAllowed(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Store) now() string {
	if s.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return s.Now().UTC().Format(time.RFC3339)
}

func (s Store) Create(ctx context.Context, kind string) (domain.Job, error) {
	j := domain.Job{
		ID:           uuid.NewString(),
		PipelineKind: kind,
		Status:       domain.JobPending,
		CreatedAt:    s.now(),
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO jobs(id,pipeline_kind,status,created_at) VALUES (?,?,?,?)`,
		j.ID, j.PipelineKind, j.Status, j.CreatedAt)
	return j, err
}

func (s Store) Get(ctx context.Context, id string) (domain.Job, error) {
	var j domain.Job
	var startedAt, completedAt, resultJSON, errorJSON sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT id,pipeline_kind,status,created_at,started_at,completed_at,result_json,error_json FROM jobs WHERE id=?`, id).
		Scan(&j.ID, &j.PipelineKind, &j.Status, &j.CreatedAt, &startedAt, &completedAt, &resultJSON, &errorJSON)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.String
	}
	if resultJSON.Valid {
		j.Result = json.RawMessage(resultJSON.String)
	}
	if errorJSON.Valid {
		var je domain.JobError
		if err := json.Unmarshal([]byte(errorJSON.String), &je); err != nil {
			return j, fmt.Errorf("decode job error: %w", err)
		}
		j.Error = &je
	}
	j.StageResults, err = s.stageResults(ctx, id)
	return j, err
}

func (s Store) stageResults(ctx context.Context, jobID string) ([]domain.StageResult, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT stage,status,attempts,duration_ms,result_json,error,completed_at FROM stage_results WHERE job_id=? ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageResult
	for rows.Next() {
		var sr domain.StageResult
		var resultJSON, stageErr sql.NullString
		if err := rows.Scan(&sr.Stage, &sr.Status, &sr.Attempts, &sr.DurationMS, &resultJSON, &stageErr, &sr.CompletedAt); err != nil {
			return nil, err
		}
		if resultJSON.Valid {
			sr.Result = json.RawMessage(resultJSON.String)
		}
		if stageErr.Valid {
			sr.Error = stageErr.String
		}
		res = append(res, sr)
	}
	return res, rows.Err()
}

func (s Store) AppendStageResult(ctx context.Context, jobID string, sr domain.StageResult) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id=?`, jobID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM stage_results WHERE job_id=?`, jobID).Scan(&seq); err != nil {
		return err
	}
	var resultJSON any
	if len(sr.Result) > 0 {
		resultJSON = string(sr.Result)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO stage_results(job_id,seq,stage,status,attempts,duration_ms,result_json,error,completed_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		jobID, seq+1, sr.Stage, sr.Status, sr.Attempts, sr.DurationMS, resultJSON, nullable(sr.Error), sr.CompletedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Transition moves a job to newStatus, stamping started_at on the first move to
// running and completed_at on terminal states. Terminal jobs carry exactly one
// of result or jobErr.
func (s Store) Transition(ctx context.Context, id, newStatus string, result json.RawMessage, jobErr *domain.JobError) error {
	switch newStatus {
	case domain.JobCompleted:
		if len(result) == 0 || jobErr != nil {
			return fmt.Errorf("completed job requires result and no error")
		}
	case domain.JobFailed:
		if jobErr == nil || len(result) > 0 {
			return fmt.Errorf("failed job requires error and no result")
		}
	default:
		if len(result) > 0 || jobErr != nil {
			return fmt.Errorf("non-terminal transition carries no result or error")
		}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id=?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !transitionAllowed(current, newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, newStatus)
	}

	ts := s.now()
	switch newStatus {
	case domain.JobRunning:
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status=?, started_at=? WHERE id=?`, newStatus, ts, id)
	case domain.JobCompleted:
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status=?, completed_at=?, result_json=? WHERE id=?`, newStatus, ts, string(result), id)
	case domain.JobFailed:
		data, merr := json.Marshal(jobErr)
		if merr != nil {
			return merr
		}
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status=?, completed_at=?, error_json=? WHERE id=?`, newStatus, ts, string(data), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

type Filter struct {
	Kind   string
	Status string
}

// Summary is a job without its stage results, for listings.
type Summary struct {
	ID           string  `json:"job_id"`
	PipelineKind string  `json:"pipeline_kind"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

func (s Store) List(ctx context.Context, f Filter, limit int) ([]Summary, error) {
	q := sq.Select("id", "pipeline_kind", "status", "created_at", "completed_at").
		From("jobs").
		OrderBy("created_at DESC", "id DESC")
	if f.Kind != "" {
		q = q.Where(sq.Eq{"pipeline_kind": f.Kind})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Summary
	for rows.Next() {
		var sum Summary
		var completedAt sql.NullString
		if err := rows.Scan(&sum.ID, &sum.PipelineKind, &sum.Status, &sum.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			sum.CompletedAt = &completedAt.String
		}
		res = append(res, sum)
	}
	return res, rows.Err()
}

// Evict removes terminal jobs that completed before the cutoff. Stage results
// go with them via cascade.
func (s Store) Evict(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UTC().Format(time.RFC3339)
	res, err := s.DB.ExecContext(ctx, `DELETE FROM jobs WHERE status IN (?,?) AND completed_at < ?`,
		domain.JobCompleted, domain.JobFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
