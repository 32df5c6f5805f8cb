// Package core defines the ports of the cv-engine and the small services that sit
// directly on top of them.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cvforge/cv-engine/internal/domain/model"
)

// CacheRepository defines the interface for key/value caching operations.
// The core defines the interface and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// DocumentStore keeps CV section documents and rubrics as JSON values in a CacheRepository.
// It implements CVSectionRepository and RubricRepository.
type DocumentStore struct {
	cache CacheRepository
	ttl   time.Duration
	now   func() time.Time
}

// DocumentStoreConfig holds configuration for the document store.
type DocumentStoreConfig struct {
	// TTL bounds how long documents are kept. Zero keeps them forever.
	TTL time.Duration `json:"ttl"`
}

// DocumentStoreOptions bundles dependencies for NewDocumentStore.
type DocumentStoreOptions struct {
	Cache  CacheRepository
	Config DocumentStoreConfig
	Now    func() time.Time
}

// DefaultDocumentStoreConfig returns a DocumentStoreConfig with sensible defaults.
func DefaultDocumentStoreConfig() DocumentStoreConfig {
	return DocumentStoreConfig{TTL: 30 * 24 * time.Hour}
}

// NewDocumentStore creates a new DocumentStore.
func NewDocumentStore(opts DocumentStoreOptions) *DocumentStore {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &DocumentStore{
		cache: opts.Cache,
		ttl:   opts.Config.TTL,
		now:   now,
	}
}

// GetCVSections loads the structured sections of a CV.
func (s *DocumentStore) GetCVSections(ctx context.Context, cvID string) (*model.CVSections, error) {
	if cvID == "" {
		return nil, errors.New("cv id is required")
	}
	var cv model.CVSections
	if err := s.load(ctx, cvSectionsKey(cvID), &cv); err != nil {
		return nil, fmt.Errorf("cv %s: %w", cvID, err)
	}
	return &cv, nil
}

// SaveCVSections stores the structured sections of a CV, replacing any previous version.
func (s *DocumentStore) SaveCVSections(ctx context.Context, cv *model.CVSections) error {
	if cv == nil || cv.CVID == "" {
		return errors.New("cv id is required")
	}
	cv.UpdatedAt = s.now().UTC()
	return s.store(ctx, cvSectionsKey(cv.CVID), cv)
}

// GetRubric loads a rubric by id.
func (s *DocumentStore) GetRubric(ctx context.Context, id string) (*model.Rubric, error) {
	if id == "" {
		return nil, errors.New("rubric id is required")
	}
	var rubric model.Rubric
	if err := s.load(ctx, rubricKey(id), &rubric); err != nil {
		return nil, fmt.Errorf("rubric %s: %w", id, err)
	}
	return &rubric, nil
}

// SaveRubric stores a rubric, replacing any previous version with the same id.
func (s *DocumentStore) SaveRubric(ctx context.Context, rubric *model.Rubric) error {
	if rubric == nil || rubric.ID == "" {
		return errors.New("rubric id is required")
	}
	if rubric.CreatedAt.IsZero() {
		rubric.CreatedAt = s.now().UTC()
	}
	return s.store(ctx, rubricKey(rubric.ID), rubric)
}

func (s *DocumentStore) load(ctx context.Context, key string, dst any) error {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrDocumentNotFound
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *DocumentStore) store(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.cache.Set(ctx, key, raw, s.ttl)
}

func cvSectionsKey(cvID string) string { return "cv:sections:" + cvID }

func rubricKey(id string) string { return "rubric:" + id }

var (
	_ CVSectionRepository = (*DocumentStore)(nil)
	_ RubricRepository    = (*DocumentStore)(nil)
)
