// Package jobrunner executes queued jobs: the worker loop that dequeues tickets and
// dispatches them to handlers, and the handlers for each job type.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cvforge/cv-engine/internal/core"
	domainjob "github.com/cvforge/cv-engine/internal/domain/job"
	"github.com/cvforge/cv-engine/internal/domain/model"
	apperrors "github.com/cvforge/cv-engine/internal/errors"
	"github.com/cvforge/cv-engine/internal/observability/metrics"
	"github.com/cvforge/cv-engine/internal/observability/statsd"
)

// Dequeuer is the consumer side of the ticket queue. *job.Queue implements it.
type Dequeuer interface {
	Dequeue(ctx context.Context) (domainjob.Ticket, error)
	Len() int
}

// WorkerOptions configures the worker.
type WorkerOptions struct {
	Queue  Dequeuer           // Required
	Jobs   core.JobRepository // Required
	Router *domainjob.Router  // Required
	Logger *slog.Logger
	// Metrics receives job lifecycle metrics; nil disables them.
	Metrics statsd.Sink
	Clock   domainjob.Clock

	// Concurrency is the number of loops pulling from Queue; defaults to 1.
	Concurrency int
	// HandlerTimeout bounds each handler invocation; zero means no bound.
	HandlerTimeout time.Duration
}

// Worker pulls tickets from the queue and runs the matching handler.
type Worker struct {
	queue          Dequeuer
	jobs           core.JobRepository
	router         *domainjob.Router
	logger         *slog.Logger
	metrics        statsd.Sink
	now            func() time.Time
	workers        int
	handlerTimeout time.Duration
}

// NewWorker validates options and constructs a Worker.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("job repository is required")
	}
	if opts.Router == nil {
		return nil, errors.New("router is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if opts.Clock != nil {
		now = opts.Clock.Now
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	timeout := opts.HandlerTimeout
	if timeout < 0 {
		timeout = 0
	}

	return &Worker{
		queue:          opts.Queue,
		jobs:           opts.Jobs,
		router:         opts.Router,
		logger:         logger.With("component", "job_worker"),
		metrics:        opts.Metrics,
		now:            now,
		workers:        workers,
		handlerTimeout: timeout,
	}, nil
}

// Run starts the worker loops and blocks until ctx is cancelled. It returns nil
// on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "starting job worker",
		"workers", w.workers,
		"handler_timeout", w.handlerTimeout,
		"types", w.router.Types(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range w.workers {
		g.Go(func() error {
			return w.loop(gctx, i)
		})
	}

	err := g.Wait()
	w.logger.InfoContext(ctx, "job worker stopped", "reason", ctx.Err())
	return err
}

func (w *Worker) loop(ctx context.Context, id int) error {
	for {
		if err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d: %w", id, err)
		}
	}
}

// ProcessNext runs one iteration: it blocks for the next visible ticket and
// drives its job to a terminal status. It only returns an error when dequeue is
// aborted by ctx; job-level failures are persisted on the job instead.
func (w *Worker) ProcessNext(ctx context.Context) error {
	ticket, err := w.queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	metrics.EmitQueueDepth(w.metrics, w.queue.Len())
	w.process(ctx, ticket)
	return nil
}

func (w *Worker) process(ctx context.Context, ticket domainjob.Ticket) {
	job, err := w.jobs.GetByID(ctx, ticket.JobID)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			w.logger.DebugContext(ctx, "skipping ticket for missing job", "job_id", ticket.JobID)
		} else {
			w.logger.ErrorContext(ctx, "load job failed", "job_id", ticket.JobID, "error", err)
		}
		w.emit("", metrics.TransitionSkipped, metrics.ResultNoop, 0, err, "")
		return
	}

	// A duplicate ticket or a cancel that raced the dequeue.
	if job.Status != model.JobStatusQueued {
		w.logger.DebugContext(ctx, "skipping job that is not queued", "job_id", job.ID, "status", job.Status)
		w.emit(string(job.Type), metrics.TransitionSkipped, metrics.ResultNoop, 0, nil, "")
		return
	}

	handler, err := w.router.Resolve(job.Type)
	if err != nil {
		w.logger.ErrorContext(ctx, "no handler for job", "job_id", job.ID, "type", job.Type, "error", err)
		w.persistFailure(ctx, job, model.JobStatusQueued, domainjob.Failed(apperrors.ErrCodeHandlerNotFound, err.Error()), 0)
		return
	}

	if err := job.MarkRunning(w.now().UTC()); err != nil {
		w.logger.WarnContext(ctx, "cannot start job", "job_id", job.ID, "error", err)
		return
	}
	if err := w.jobs.Update(ctx, job, model.JobStatusQueued); err != nil {
		if errors.Is(err, core.ErrJobStatusChanged) {
			// Canceled between load and start; the handler never runs.
			w.logger.InfoContext(ctx, "job changed before start; skipping", "job_id", job.ID)
			w.emit(string(job.Type), metrics.TransitionSkipped, metrics.ResultNoop, 0, nil, "")
			return
		}
		w.logger.ErrorContext(ctx, "persist running job failed", "job_id", job.ID, "error", err)
		w.emit(string(job.Type), metrics.TransitionStarted, metrics.ResultError, 0, err, "")
		return
	}
	w.logger.InfoContext(ctx, "job started", "job_id", job.ID, "type", job.Type, "priority", job.Priority)
	w.emit(string(job.Type), metrics.TransitionStarted, metrics.ResultSuccess, 0, nil, "")

	start := time.Now()
	result := w.invoke(ctx, handler, job)
	elapsed := time.Since(start)

	if !result.Succeeded && ctx.Err() != nil {
		// Shutdown interrupted the handler. The job stays running for the reaper.
		w.logger.WarnContext(ctx, "worker stopped during handler; job left running",
			"job_id", job.ID,
			"type", job.Type,
			"error_code", result.ErrorCode,
		)
		return
	}

	w.finish(ctx, job, result, elapsed)
}

// invoke runs the handler with the configured timeout and converts panics into
// job.unhandled failures.
func (w *Worker) invoke(ctx context.Context, h domainjob.Handler, job *model.Job) (res domainjob.Result) {
	hctx := ctx
	if w.handlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, w.handlerTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			w.logger.ErrorContext(ctx, "job handler panicked",
				"job_id", job.ID,
				"type", job.Type,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			res = domainjob.Failed(apperrors.ErrCodeUnhandled, fmt.Sprintf("handler panic: %v", rec))
		}
	}()

	return h.Handle(hctx, job)
}

// finish applies the handler result to the reloaded job. A job that left Running
// while its handler ran (canceled, or failed by the reaper) keeps that status and
// the result is dropped.
func (w *Worker) finish(ctx context.Context, job *model.Job, result domainjob.Result, elapsed time.Duration) {
	// The handler finished; record the outcome even if shutdown began meanwhile.
	pctx := context.WithoutCancel(ctx)

	current, err := w.jobs.GetByID(pctx, job.ID)
	switch {
	case err != nil:
		w.logger.ErrorContext(ctx, "reload job failed", "job_id", job.ID, "error", err)
		return
	case current.Status != model.JobStatusRunning:
		w.dropResult(ctx, current, elapsed)
		return
	}

	if !result.Succeeded {
		w.persistFailure(pctx, current, model.JobStatusRunning, result, elapsed)
		return
	}

	if err := current.MarkSucceeded(result.Output, w.now().UTC()); err != nil {
		w.logger.ErrorContext(ctx, "mark succeeded failed", "job_id", job.ID, "error", err)
		return
	}
	if err := w.jobs.Update(pctx, current, model.JobStatusRunning); err != nil {
		if errors.Is(err, core.ErrJobStatusChanged) {
			w.dropResult(ctx, current, elapsed)
			return
		}
		w.logger.ErrorContext(ctx, "persist succeeded job failed", "job_id", job.ID, "error", err)
		w.emit(string(job.Type), metrics.TransitionSucceeded, metrics.ResultError, elapsed, err, "")
		return
	}
	w.logger.InfoContext(ctx, "job succeeded", "job_id", job.ID, "type", job.Type, "duration", elapsed)
	w.emit(string(job.Type), metrics.TransitionSucceeded, metrics.ResultSuccess, elapsed, nil, "")
}

// dropResult discards a handler result for a job another writer moved out of Running.
func (w *Worker) dropResult(ctx context.Context, job *model.Job, elapsed time.Duration) {
	w.logger.InfoContext(ctx, "job changed while its handler ran; dropping result", "job_id", job.ID)
	w.emit(string(job.Type), metrics.TransitionSkipped, metrics.ResultNoop, elapsed, nil, "")
}

func (w *Worker) persistFailure(
	ctx context.Context,
	job *model.Job,
	from model.JobStatus,
	result domainjob.Result,
	elapsed time.Duration,
) {
	job.MarkFailed(optionalString(result.ErrorCode), optionalString(result.ErrorMessage), w.now().UTC())

	code := ""
	if job.ErrorCode != nil {
		code = *job.ErrorCode
	}
	if err := w.jobs.Update(ctx, job, from); err != nil {
		if errors.Is(err, core.ErrJobStatusChanged) {
			w.dropResult(ctx, job, elapsed)
			return
		}
		w.logger.ErrorContext(ctx, "persist failed job failed", "job_id", job.ID, "error", err, "error_code", code)
		w.emit(string(job.Type), metrics.TransitionFailed, metrics.ResultError, elapsed, err, code)
		return
	}
	w.logger.WarnContext(ctx, "job failed",
		"job_id", job.ID,
		"type", job.Type,
		"error_code", code,
		"error", result.ErrorMessage,
	)
	w.emit(string(job.Type), metrics.TransitionFailed, metrics.ResultSuccess, elapsed, nil, code)
}

func (w *Worker) emit(jobType, transition, result string, d time.Duration, err error, code string) {
	metrics.EmitJobLifecycle(w.metrics, metrics.JobMetric{
		JobType:    jobType,
		Transition: transition,
		Result:     result,
		ErrorCode:  code,
		Duration:   d,
		Err:        err,
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
