package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2000 is reserved for cv-engine reaper operations.
const (
	advisoryLockReaperMajor     = 2000
	advisoryLockReaperFailStale = 1 // minor key for FailStaleRunningJobs
	advisoryLockReaperDelete    = 2 // minor key for DeleteOldJobs
)

// FailStaleRunningJobs marks running jobs started more than MaxAge ago as failed.
// Processes up to BatchSize jobs per call to prevent long locks and I/O spikes.
// Uses advisory locks to prevent concurrent reaper instances from conflicting.
// Returns the number of jobs marked as failed.
func (r *JobRepo) FailStaleRunningJobs(ctx context.Context, params core.FailStaleJobsParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, ErrBatchSizeRequired
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := tryReaperLock(ctx, tx, advisoryLockReaperFailStale)
			if err != nil || !locked {
				return err
			}

			currentTime := r.timeProvider.Now()
			cutoffTime := currentTime.Add(-params.MaxAge)

			res, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = 'failed',
					output = NULL,
					error_code = $1,
					error_message = $2,
					completed_at = $3,
					updated_at = $3
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status = 'running'
					  AND started_at < $4
					ORDER BY started_at
					LIMIT $5
					FOR UPDATE SKIP LOCKED
				)
			`, params.ErrorCode, params.Message, currentTime.UTC(), cutoffTime.UTC(), params.BatchSize)
			if err != nil {
				return fmt.Errorf("fail stale running jobs: %w", err)
			}

			rowsAffected, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldJobs deletes jobs with the given terminal status completed more than MaxAge ago.
// Processes up to BatchSize jobs per call to prevent long locks and I/O spikes.
// Uses advisory locks to prevent concurrent reaper instances from conflicting.
// Returns the number of jobs deleted.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.IsTerminal() {
		return 0, fmt.Errorf("invalid job status: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, ErrBatchSizeRequired
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := tryReaperLock(ctx, tx, advisoryLockReaperDelete)
			if err != nil || !locked {
				return err
			}

			cutoffTime := r.timeProvider.Now().Add(-params.MaxAge)

			res, err := tx.ExecContext(ctx, `
				DELETE FROM jobs
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status = $1
					  AND (completed_at < $2 OR (completed_at IS NULL AND updated_at < $2))
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $3
				)
			`, params.Status, cutoffTime.UTC(), params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete old jobs: %w", err)
			}

			rowsAffected, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// tryReaperLock takes the transaction-scoped advisory lock for one reaper operation.
// It reports false when another instance holds it.
func tryReaperLock(ctx context.Context, tx *sql.Tx, minor int) (bool, error) {
	var locked bool
	if err := tx.QueryRowContext(ctx,
		"SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor,
	).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}
