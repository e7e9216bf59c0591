package server

import (
	"encoding/json"

	"venturemill/internal/domain"
	"venturemill/internal/pipeline"
	"venturemill/internal/store"
)

type SubmitJobRequest struct {
	Kind   string          `json:"kind" example:"full-pipeline"`
	Params pipeline.Params `json:"params,omitempty"`
}

type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status" example:"pending"`
}

type StageResultResponse struct {
	Stage       string          `json:"stage"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	DurationMS  int64           `json:"duration_ms"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt string          `json:"completed_at"`
}

type JobErrorResponse struct {
	Stage    string `json:"stage,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
}

type JobResponse struct {
	JobID        string                `json:"job_id"`
	PipelineKind string                `json:"pipeline_kind"`
	Status       string                `json:"status"`
	CreatedAt    string                `json:"created_at"`
	StartedAt    *string               `json:"started_at,omitempty"`
	CompletedAt  *string               `json:"completed_at,omitempty"`
	StageResults []StageResultResponse `json:"stage_results"`
	Result       json.RawMessage       `json:"result,omitempty"`
	Error        *JobErrorResponse     `json:"error,omitempty"`
}

type JobListResponse struct {
	Items []store.Summary `json:"items"`
}

type PipelineStageResponse struct {
	Name      string  `json:"name"`
	MinScore  float64 `json:"min_score"`
	Mandatory bool    `json:"mandatory"`
}

type PipelineResponse struct {
	Kind            string                  `json:"kind"`
	Description     string                  `json:"description,omitempty"`
	DeadlineMinutes int                     `json:"deadline_minutes,omitempty"`
	Stages          []PipelineStageResponse `json:"stages"`
}

func jobResponse(j domain.Job) JobResponse {
	resp := JobResponse{
		JobID:        j.ID,
		PipelineKind: j.PipelineKind,
		Status:       j.Status,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		StageResults: []StageResultResponse{},
		Result:       j.Result,
	}
	for _, sr := range j.StageResults {
		resp.StageResults = append(resp.StageResults, StageResultResponse{
			Stage:       sr.Stage,
			Status:      sr.Status,
			Attempts:    sr.Attempts,
			DurationMS:  sr.DurationMS,
			Result:      sr.Result,
			Error:       sr.Error,
			CompletedAt: sr.CompletedAt,
		})
	}
	if j.Error != nil {
		resp.Error = &JobErrorResponse{
			Stage:    j.Error.Stage,
			Kind:     j.Error.Kind,
			Message:  j.Error.Message,
			Attempts: j.Error.Attempts,
		}
	}
	return resp
}

func pipelineResponse(def pipeline.Definition) PipelineResponse {
	resp := PipelineResponse{
		Kind:            def.Kind,
		Description:     def.Description,
		DeadlineMinutes: int(def.Deadline.Minutes()),
		Stages:          []PipelineStageResponse{},
	}
	for _, st := range def.Stages {
		resp.Stages = append(resp.Stages, PipelineStageResponse{
			Name:      st.Name,
			MinScore:  st.MinScore,
			Mandatory: st.Mandatory,
		})
	}
	return resp
}
