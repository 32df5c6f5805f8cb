package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/data/pgxutil"
	"github.com/cvforge/cv-engine/internal/domain/model"
	apperrors "github.com/cvforge/cv-engine/internal/errors"
)

// RepoConfig holds configuration options for the Postgres repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job rows.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// Compile-time conformance to the ports.
var (
	_ core.JobRepository    = (*JobRepo)(nil)
	_ core.ReaperRepository = (*JobRepo)(nil)
)

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id,
  type,
  status,
  priority,
  input,
  output,
  error_code,
  error_message,
  visible_at,
  created_at,
  started_at,
  completed_at,
  updated_at
`

// Create inserts a new job row. The id is assigned by the caller.
func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		job.ID,
		job.Type,
		job.Status,
		job.Priority,
		nullableJSON(job.Input),
		nullableJSON(job.Output),
		job.ErrorCode,
		job.ErrorMessage,
		job.VisibleAt.UTC(),
		job.CreatedAt.UTC(),
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", apperrors.MapDBError(err))
	}
	return nil
}

// GetByID returns the job with the given id or core.ErrJobNotFound.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, core.ErrJobNotFound
	}

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("query job: %w", err)
		}
		job, err = pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.Job])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, apperrors.MapDBError(err))
	}
	return job, nil
}

// Update overwrites the lifecycle columns of an existing job while its status is still from.
func (r *JobRepo) Update(ctx context.Context, job *model.Job, from model.JobStatus) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    priority = $3,
		    output = $4,
		    error_code = $5,
		    error_message = $6,
		    visible_at = $7,
		    started_at = $8,
		    completed_at = $9,
		    updated_at = $10
		WHERE id = $1 AND status = $11
	`,
		job.ID,
		job.Status,
		job.Priority,
		nullableJSON(job.Output),
		job.ErrorCode,
		job.ErrorMessage,
		job.VisibleAt.UTC(),
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt.UTC(),
		from,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check job %s: %w", job.ID, apperrors.MapDBError(err))
	}
	if !exists {
		return core.ErrJobNotFound
	}
	return fmt.Errorf("update job %s from %s: %w", job.ID, from, core.ErrJobStatusChanged)
}

// Stats counts jobs per status.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query job stats: %w", apperrors.MapDBError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.WarnContext(ctx, "close job stats rows", "error", cerr)
		}
	}()

	var stats model.JobStats
	for rows.Next() {
		var (
			status model.JobStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		switch status {
		case model.JobStatusQueued:
			stats.Queued = count
		case model.JobStatusRunning:
			stats.Running = count
		case model.JobStatusSucceeded:
			stats.Succeeded = count
		case model.JobStatusFailed:
			stats.Failed = count
		case model.JobStatusCanceled:
			stats.Canceled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job stats: %w", err)
	}
	return &stats, nil
}

// nullableJSON maps an empty document to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
