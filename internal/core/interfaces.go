package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cvforge/cv-engine/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Services and handlers depend on these interfaces; internal/data provides the implementations.

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrDocumentNotFound is returned when a CV section document or rubric does not exist.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrJobStatusChanged is returned by JobRepository.Update when the stored status no
	// longer matches the status the caller read. Another writer won the race.
	ErrJobStatusChanged = errors.New("job status changed concurrently")
)

// JobRepository persists job rows. The queue holds only tickets; this is the source of truth.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// Update overwrites the mutable lifecycle columns of an existing job, but only
	// while its stored status is still from. Otherwise it returns ErrJobStatusChanged.
	Update(ctx context.Context, job *model.Job, from model.JobStatus) error
	Stats(ctx context.Context) (*model.JobStats, error)
}

// DeleteOldJobsParams groups parameters for ReaperRepository.DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// FailStaleJobsParams groups parameters for ReaperRepository.FailStaleRunningJobs.
type FailStaleJobsParams struct {
	MaxAge    time.Duration
	BatchSize int
	ErrorCode string
	Message   string
}

// ReaperRepository provides the batch operations used by the reaper sweep.
type ReaperRepository interface {
	// FailStaleRunningJobs marks up to BatchSize jobs that have been running longer than MaxAge as failed.
	FailStaleRunningJobs(ctx context.Context, params FailStaleJobsParams) (int64, error)
	// DeleteOldJobs removes up to BatchSize jobs in a terminal status completed more than MaxAge ago.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}

// SectionScoreRepository stores memoised section scores keyed by (cv_id, section_type).
type SectionScoreRepository interface {
	// Get returns the stored row, or nil and no error when nothing is cached for the key.
	Get(ctx context.Context, key model.SectionScoreKey) (*model.SectionScoreResult, error)
	// Upsert inserts the row or overwrites the existing row with the same key.
	Upsert(ctx context.Context, row *model.SectionScoreResult) error
}

// CVSectionRepository stores the structured sections of a CV.
type CVSectionRepository interface {
	GetCVSections(ctx context.Context, cvID string) (*model.CVSections, error)
	SaveCVSections(ctx context.Context, cv *model.CVSections) error
}

// RubricRepository stores rubrics derived from job descriptions.
type RubricRepository interface {
	GetRubric(ctx context.Context, id string) (*model.Rubric, error)
	SaveRubric(ctx context.Context, rubric *model.Rubric) error
}

// AIEvaluator is the AI provider: a prompt plus a JSON schema in, a JSON document out.
type AIEvaluator interface {
	Evaluate(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error)
}
