package venturemillsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal VentureMill HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// JobSummary is one row of a job listing.
type JobSummary struct {
	JobID        string `json:"job_id"`
	PipelineKind string `json:"pipeline_kind"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

// StageResult is one stage's recorded outcome.
type StageResult struct {
	Stage       string          `json:"stage"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	DurationMS  int64           `json:"duration_ms"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt string          `json:"completed_at"`
}

// JobError describes why a job failed.
type JobError struct {
	Stage    string `json:"stage,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
}

// Job is the full job record.
type Job struct {
	JobID        string          `json:"job_id"`
	PipelineKind string          `json:"pipeline_kind"`
	Status       string          `json:"status"`
	CreatedAt    string          `json:"created_at"`
	StartedAt    string          `json:"started_at,omitempty"`
	CompletedAt  string          `json:"completed_at,omitempty"`
	StageResults []StageResult   `json:"stage_results"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *JobError       `json:"error,omitempty"`
}

// PipelineStage is one stage of a pipeline definition.
type PipelineStage struct {
	Name      string  `json:"name"`
	MinScore  float64 `json:"min_score"`
	Mandatory bool    `json:"mandatory"`
}

// Pipeline is one configured pipeline kind.
type Pipeline struct {
	Kind            string          `json:"kind"`
	Description     string          `json:"description,omitempty"`
	DeadlineMinutes int             `json:"deadline_minutes,omitempty"`
	Stages          []PipelineStage `json:"stages"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Submit starts a pipeline job. params may be nil.
func (c *Client) Submit(ctx context.Context, kind string, params map[string]any) (JobSummary, error) {
	body := map[string]any{"kind": kind}
	if params != nil {
		body["params"] = params
	}
	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "v1/jobs", body, &resp); err != nil {
		return JobSummary{}, err
	}
	return JobSummary{JobID: resp.JobID, PipelineKind: kind, Status: resp.Status}, nil
}

// Job fetches a job by id.
func (c *Client) Job(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "v1/jobs/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

// Jobs lists jobs, optionally filtered by kind and status.
func (c *Client) Jobs(ctx context.Context, kind, status string, limit int) ([]JobSummary, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v1/jobs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []JobSummary `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Cancel requests cancellation of a running job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil)
}

// Pipelines lists the configured pipeline kinds.
func (c *Client) Pipelines(ctx context.Context) ([]Pipeline, error) {
	var resp []Pipeline
	err := c.do(ctx, http.MethodGet, "v1/pipelines", nil, &resp)
	return resp, err
}

// WaitForJob polls until the job reaches a terminal status.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		job, err := c.Job(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		if job.Status == "completed" || job.Status == "failed" {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
