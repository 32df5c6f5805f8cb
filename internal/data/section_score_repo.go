package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/domain/model"
	apperrors "github.com/cvforge/cv-engine/internal/errors"
)

var _ core.SectionScoreRepository = (*SectionScoreRepo)(nil)

// SectionScoreRepo stores memoised section scores in the section_scores table.
type SectionScoreRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSectionScoreRepo creates a SectionScoreRepo.
func NewSectionScoreRepo(db *sql.DB, cfg RepoConfig) *SectionScoreRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &SectionScoreRepo{DB: db, timeProvider: tp}
}

// Get returns the cached row for key, or nil when there is none.
func (r *SectionScoreRepo) Get(ctx context.Context, key model.SectionScoreKey) (*model.SectionScoreResult, error) {
	var (
		row   model.SectionScoreResult
		score []byte
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT cv_id, section_type, jd_hash, content_hash, score, created_at, updated_at
		FROM section_scores
		WHERE cv_id = $1 AND section_type = $2
	`, key.CVID, key.Section).Scan(
		&row.CVID,
		&row.Section,
		&row.JDHash,
		&row.ContentHash,
		&score,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get section score %s: %w", key, apperrors.MapDBError(err))
	}
	if err := json.Unmarshal(score, &row.Score); err != nil {
		return nil, fmt.Errorf("decode section score %s: %w", key, err)
	}
	return &row, nil
}

// Upsert inserts row or replaces the hashes and score of the existing row.
// created_at of an existing row is kept.
func (r *SectionScoreRepo) Upsert(ctx context.Context, row *model.SectionScoreResult) error {
	if row == nil || row.CVID == "" || !row.Section.Valid() {
		return ErrSectionKeyRequired
	}
	score, err := json.Marshal(row.Score)
	if err != nil {
		return fmt.Errorf("encode section score %s: %w", row.Key(), err)
	}

	now := r.timeProvider.Now().UTC()
	err = r.DB.QueryRowContext(ctx, `
		INSERT INTO section_scores (cv_id, section_type, jd_hash, content_hash, score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (cv_id, section_type) DO UPDATE
		SET jd_hash = EXCLUDED.jd_hash,
		    content_hash = EXCLUDED.content_hash,
		    score = EXCLUDED.score,
		    updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`, row.CVID, row.Section, row.JDHash, row.ContentHash, score, now).Scan(&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert section score %s: %w", row.Key(), apperrors.MapDBError(err))
	}
	return nil
}
