package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cvforge/cv-engine/internal/core"
	domainjob "github.com/cvforge/cv-engine/internal/domain/job"
	"github.com/cvforge/cv-engine/internal/domain/model"
	"github.com/cvforge/cv-engine/internal/observability/metrics"
	"github.com/cvforge/cv-engine/internal/observability/statsd"
)

// maxCancelAttempts bounds Cancel's reload-and-retry loop when it races the worker.
const maxCancelAttempts = 3

// TicketQueue accepts tickets for the worker. *job.Queue implements it.
type TicketQueue interface {
	Enqueue(t domainjob.Ticket) domainjob.Ticket
	Len() int
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository // Required: job repository
	Queue           TicketQueue        // Required: queue the worker dequeues from
	DefaultPriority int                // Optional: priority for requests that leave it at zero
	Logger          *slog.Logger       // Optional: structured logger
	Metrics         statsd.Sink        // Optional: metrics sink (StatsD-compatible)
	Now             func() time.Time   // Optional: clock override for tests
	NewID           func() string      // Optional: id generator override for tests
}

// JobService is the job API: create, look up and cancel jobs.
//
// Creating a job inserts the row first and then enqueues its ticket, so a
// ticket never refers to a job that does not exist yet.
type JobService struct {
	repo            core.JobRepository
	queue           TicketQueue
	defaultPriority int
	logger          *slog.Logger
	metrics         statsd.Sink
	now             func() time.Time
	newID           func() string
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("TicketQueue is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &JobService{
		repo:            opts.Repo,
		queue:           opts.Queue,
		defaultPriority: opts.DefaultPriority,
		logger:          logger.With("component", "job_service"),
		metrics:         opts.Metrics,
		now:             now,
		newID:           newID,
	}, nil
}

// Create validates req, persists a queued job and enqueues its ticket.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	in := *req
	if in.Priority == 0 {
		in.Priority = s.defaultPriority
	}

	now := s.now().UTC()
	job := model.NewJob(s.newID(), &in, now)
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.queue.Enqueue(domainjob.Ticket{
		JobID:     job.ID,
		Priority:  job.Priority,
		VisibleAt: job.VisibleAt,
	})

	s.logger.InfoContext(ctx, "job created",
		"job_id", job.ID,
		"type", job.Type,
		"priority", job.Priority,
		"visible_at", job.VisibleAt,
	)
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: metrics.TransitionCreated,
		Result:     metrics.ResultSuccess,
	})
	metrics.EmitQueueDepth(s.metrics, s.queue.Len())

	return job, nil
}

// Get returns the job with the given id.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, errors.New("job id is required")
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Cancel marks a job canceled. Jobs that already reached a terminal status are
// returned unchanged. A running handler is not interrupted; its result is
// discarded when it finishes. When the worker moves the job between our read
// and our write, the job is reloaded and the cancel retried.
func (s *JobService) Cancel(ctx context.Context, id string) (*model.Job, error) {
	for attempt := 1; ; attempt++ {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.IsTerminal() {
			return job, nil
		}

		previous := job.Status
		job.MarkCanceled(s.now().UTC())
		err = s.repo.Update(ctx, job, previous)
		if errors.Is(err, core.ErrJobStatusChanged) && attempt < maxCancelAttempts {
			s.logger.DebugContext(ctx, "job changed during cancel; retrying", "job_id", id, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cancel job %s: %w", id, err)
		}

		s.logger.InfoContext(ctx, "job canceled", "job_id", job.ID, "type", job.Type, "previous_status", previous)
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			JobType:    string(job.Type),
			Transition: metrics.TransitionCanceled,
			Result:     metrics.ResultSuccess,
		})
		return job, nil
	}
}

// Stats returns job counts per status.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}
