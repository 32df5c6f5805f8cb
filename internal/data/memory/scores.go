package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/domain/model"
)

var _ core.SectionScoreRepository = (*SectionScoreStore)(nil)

// SectionScoreStore keeps section score rows keyed by (cv_id, section_type).
type SectionScoreStore struct {
	now func() time.Time

	mu   sync.RWMutex
	rows map[model.SectionScoreKey]*model.SectionScoreResult
}

// NewSectionScoreStore returns an empty SectionScoreStore.
func NewSectionScoreStore(opts Options) *SectionScoreStore {
	return &SectionScoreStore{
		now:  opts.clock(),
		rows: make(map[model.SectionScoreKey]*model.SectionScoreResult),
	}
}

// Get returns the cached row for key, or nil when absent.
func (s *SectionScoreStore) Get(_ context.Context, key model.SectionScoreKey) (*model.SectionScoreResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[key]
	if !ok {
		return nil, nil //nolint:nilnil // a miss is not an error
	}
	return cloneScore(row), nil
}

// Upsert inserts the row or overwrites the existing row, keeping its CreatedAt.
func (s *SectionScoreStore) Upsert(_ context.Context, row *model.SectionScoreResult) error {
	if row == nil || row.CVID == "" || !row.Section.Valid() {
		return errors.New("cv id and a valid section type are required")
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneScore(row)
	stored.UpdatedAt = now
	if existing, ok := s.rows[row.Key()]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.rows[row.Key()] = stored

	row.CreatedAt = stored.CreatedAt
	row.UpdatedAt = stored.UpdatedAt
	return nil
}

// Len returns the number of stored rows.
func (s *SectionScoreStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
