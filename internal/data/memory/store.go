// Package memory provides in-memory implementations of the repository ports.
// Safe for concurrent access. Used for development (STORE_BACKEND=memory) and tests.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/domain/model"
)

// ErrJobExists is returned by Create when the job id is already taken.
var ErrJobExists = errors.New("job already exists")

// Compile-time conformance to the ports.
var (
	_ core.JobRepository    = (*JobStore)(nil)
	_ core.ReaperRepository = (*JobStore)(nil)
)

// Options configures the memory stores.
type Options struct {
	// Now overrides the clock used for cache expiry, reaper cutoffs and row timestamps.
	Now func() time.Time
}

func (o Options) clock() func() time.Time {
	if o.Now == nil {
		return time.Now
	}
	return o.Now
}

// JobStore keeps jobs in a map.
// Jobs are copied on the way in and out so callers never share memory with the store.
type JobStore struct {
	now func() time.Time

	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// NewJobStore returns an empty JobStore.
func NewJobStore(opts Options) *JobStore {
	return &JobStore{
		now:  opts.clock(),
		jobs: make(map[string]*model.Job),
	}
}

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, ErrJobExists)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetByID returns a copy of the job.
func (s *JobStore) GetByID(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("get job %s: %w", id, core.ErrJobNotFound)
	}
	return cloneJob(j), nil
}

// Update replaces the stored job if its status is still from.
func (s *JobStore) Update(_ context.Context, job *model.Job, from model.JobStatus) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("update job %s: %w", job.ID, core.ErrJobNotFound)
	}
	if stored.Status != from {
		return fmt.Errorf("update job %s: stored %s, expected %s: %w", job.ID, stored.Status, from, core.ErrJobStatusChanged)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Stats counts jobs per status.
func (s *JobStore) Stats(_ context.Context) (*model.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats model.JobStats
	for _, j := range s.jobs {
		switch j.Status {
		case model.JobStatusQueued:
			stats.Queued++
		case model.JobStatusRunning:
			stats.Running++
		case model.JobStatusSucceeded:
			stats.Succeeded++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusCanceled:
			stats.Canceled++
		}
	}
	return &stats, nil
}

// FailStaleRunningJobs marks the oldest running jobs started before now-MaxAge as failed.
func (s *JobStore) FailStaleRunningJobs(_ context.Context, params core.FailStaleJobsParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	now := s.now()
	cutoff := now.Add(-params.MaxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*model.Job
	for _, j := range s.jobs {
		if j.Status == model.JobStatusRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	sort.Slice(stale, func(a, b int) bool { return stale[a].StartedAt.Before(*stale[b].StartedAt) })
	if len(stale) > params.BatchSize {
		stale = stale[:params.BatchSize]
	}

	for _, j := range stale {
		code, msg := params.ErrorCode, params.Message
		j.MarkFailed(&code, &msg, now)
	}
	return int64(len(stale)), nil
}

// DeleteOldJobs deletes the oldest jobs in the given terminal status completed before now-MaxAge.
func (s *JobStore) DeleteOldJobs(_ context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.IsTerminal() {
		return 0, fmt.Errorf("invalid job status: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	cutoff := s.now().Add(-params.MaxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	var old []*model.Job
	for _, j := range s.jobs {
		if j.Status != params.Status {
			continue
		}
		completed := j.UpdatedAt
		if j.CompletedAt != nil {
			completed = *j.CompletedAt
		}
		if completed.Before(cutoff) {
			old = append(old, j)
		}
	}
	sort.Slice(old, func(a, b int) bool { return old[a].UpdatedAt.Before(old[b].UpdatedAt) })
	if len(old) > params.BatchSize {
		old = old[:params.BatchSize]
	}
	for _, j := range old {
		delete(s.jobs, j.ID)
	}
	return int64(len(old)), nil
}

func cloneJob(j *model.Job) *model.Job {
	cp := *j
	cp.Input = bytes.Clone(j.Input)
	cp.Output = cloneRaw(j.Output)
	cp.ErrorCode = cloneString(j.ErrorCode)
	cp.ErrorMessage = cloneString(j.ErrorMessage)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	return &cp
}

func cloneScore(r *model.SectionScoreResult) *model.SectionScoreResult {
	cp := *r
	cp.Score.Criteria = append([]model.CriterionScore(nil), r.Score.Criteria...)
	return &cp
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
