// Package model defines the core data types shared by the job engine and the scoring pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/cvforge/cv-engine/internal/errors"
)

// JobType represents the kind of work a job performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current lifecycle state of a job.
type JobStatus string

const (
	// JobTypeStructureContent turns raw CV text into structured sections.
	JobTypeStructureContent JobType = "structure_content"
	// JobTypeBuildRubric derives a weighted scoring rubric from a job description.
	JobTypeBuildRubric JobType = "build_rubric"
	// JobTypeScoreSections scores CV sections against a rubric.
	JobTypeScoreSections JobType = "score_sections"

	// JobStatusQueued indicates a job is waiting for a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates a worker is executing the job.
	JobStatusRunning JobStatus = "running"
	// JobStatusSucceeded indicates the job completed and has output.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusFailed indicates the job completed with an error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCanceled indicates the job was canceled before it completed.
	JobStatusCanceled JobStatus = "canceled"
)

var (
	// ErrJobCanceled is returned when a canceled job is asked to start running.
	ErrJobCanceled = errors.New("job is canceled")
	// ErrInvalidTransition is returned when a transition is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// UnmarshalText implements encoding.TextUnmarshaler, so JSON decoding of a job
// request normalizes the type and rejects unknown ones.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is one of the known job types.
func (t JobType) Valid() bool {
	return t == JobTypeStructureContent || t == JobTypeBuildRubric || t == JobTypeScoreSections
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusRunning || s == JobStatusSucceeded ||
		s == JobStatusFailed || s == JobStatusCanceled
}

// IsTerminal reports whether no further transitions are expected from this status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Job is one schedulable unit of asynchronous work.
//
// Status changes go through the Mark* methods so the output/error invariants hold
// after every transition. Input and Output are opaque to the engine.
type Job struct {
	ID           string          `json:"id"                      db:"id"`
	Type         JobType         `json:"type"                    db:"type"`
	Status       JobStatus       `json:"status"                  db:"status"`
	Priority     int             `json:"priority"                db:"priority"`
	Input        json.RawMessage `json:"input"                   db:"input"`
	Output       json.RawMessage `json:"output,omitempty"        db:"output"`
	ErrorCode    *string         `json:"error_code,omitempty"    db:"error_code"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	VisibleAt    time.Time       `json:"visible_at"              db:"visible_at"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"    db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"  db:"completed_at"`
	UpdatedAt    time.Time       `json:"updated_at"              db:"updated_at"`
}

// NewJob builds a queued job from a validated request.
func NewJob(id string, req *CreateJobRequest, now time.Time) *Job {
	visibleAt := now
	if req.RunAt != nil && req.RunAt.After(now) {
		visibleAt = *req.RunAt
	}
	return &Job{
		ID:        id,
		Type:      req.Type,
		Status:    JobStatusQueued,
		Priority:  req.Priority,
		Input:     req.Input,
		VisibleAt: visibleAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether the job has reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// MarkRunning moves the job to Running. A canceled job cannot be started.
func (j *Job) MarkRunning(now time.Time) error {
	if j.Status == JobStatusCanceled {
		return fmt.Errorf("mark running %s: %w", j.ID, ErrJobCanceled)
	}
	started := now
	j.Status = JobStatusRunning
	j.StartedAt = &started
	j.CompletedAt = nil
	j.Output = nil
	j.ErrorCode = nil
	j.ErrorMessage = nil
	j.UpdatedAt = now
	return nil
}

// MarkSucceeded records the handler output. Only a running job can succeed.
func (j *Job) MarkSucceeded(output json.RawMessage, now time.Time) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("mark succeeded %s from %s: %w", j.ID, j.Status, ErrInvalidTransition)
	}
	if len(output) == 0 || string(output) == "null" {
		output = json.RawMessage(`{}`)
	}
	completed := now
	j.Status = JobStatusSucceeded
	j.Output = output
	j.ErrorCode = nil
	j.ErrorMessage = nil
	j.CompletedAt = &completed
	j.UpdatedAt = now
	return nil
}

// MarkFailed records a failure. It is allowed from any status so that jobs
// which could not even be dispatched can still be terminated.
func (j *Job) MarkFailed(code, message *string, now time.Time) {
	if code == nil && message == nil {
		c := string(apperrors.ErrCodeUnhandled)
		code = &c
	}
	completed := now
	j.Status = JobStatusFailed
	j.Output = nil
	j.ErrorCode = code
	j.ErrorMessage = message
	j.CompletedAt = &completed
	j.UpdatedAt = now
}

// MarkCanceled cancels a job that has not reached a terminal status.
func (j *Job) MarkCanceled(now time.Time) {
	if j.IsTerminal() {
		return
	}
	completed := now
	j.Status = JobStatusCanceled
	j.CompletedAt = &completed
	j.UpdatedAt = now
}

// CheckInvariants verifies the relationship between status, output and error fields.
func (j *Job) CheckInvariants() error {
	hasOutput := len(j.Output) > 0
	hasError := j.ErrorCode != nil || j.ErrorMessage != nil

	switch {
	case (j.Status == JobStatusSucceeded) != hasOutput:
		return fmt.Errorf("job %s: status %s with output=%t", j.ID, j.Status, hasOutput)
	case (j.Status == JobStatusFailed) != hasError:
		return fmt.Errorf("job %s: status %s with error=%t", j.ID, j.Status, hasError)
	case j.Status == JobStatusQueued && j.StartedAt != nil:
		return fmt.Errorf("job %s: queued job has started_at", j.ID)
	case j.Status == JobStatusRunning && j.StartedAt == nil:
		return fmt.Errorf("job %s: running job without started_at", j.ID)
	case j.Status == JobStatusSucceeded && j.StartedAt == nil:
		return fmt.Errorf("job %s: succeeded job without started_at", j.ID)
	}
	return nil
}

// CreateJobRequest represents a request to create a new job.
type CreateJobRequest struct {
	Type     JobType         `json:"type"`
	Input    json.RawMessage `json:"input"`
	Priority int             `json:"priority,omitempty"`
	// RunAt delays visibility of the job until the given instant.
	RunAt *time.Time `json:"run_at,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return apperrors.ValidationField("type", "invalid job type")
	}
	if len(r.Input) == 0 {
		return apperrors.ValidationField("input", "input is required")
	}
	if !json.Valid(r.Input) {
		return apperrors.ValidationField("input", "input must be valid JSON")
	}
	if r.Priority < -1000 || r.Priority > 1000 {
		return apperrors.ValidationField("priority", "priority must be between -1000 and 1000")
	}
	return nil
}

// JobStats counts jobs per status.
type JobStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
}
