package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/domain/model"
	"github.com/cvforge/cv-engine/internal/mocks"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(cache core.CacheRepository, ttl time.Duration) *core.DocumentStore {
	return core.NewDocumentStore(core.DocumentStoreOptions{
		Cache:  cache,
		Config: core.DocumentStoreConfig{TTL: ttl},
		Now:    func() time.Time { return fixedNow },
	})
}

func TestDocumentStore_SaveCVSections(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	store := newStore(cache, time.Hour)

	cv := &model.CVSections{
		CVID:     "cv-1",
		Sections: map[model.SectionType]json.RawMessage{model.SectionSkills: json.RawMessage(`{"items":["go"]}`)},
	}

	cache.EXPECT().
		Set(gomock.Any(), "cv:sections:cv-1", gomock.Any(), time.Hour).
		DoAndReturn(func(_ context.Context, _ string, value []byte, _ time.Duration) error {
			var stored model.CVSections
			require.NoError(t, json.Unmarshal(value, &stored))
			assert.Equal(t, "cv-1", stored.CVID)
			assert.True(t, fixedNow.Equal(stored.UpdatedAt))
			return nil
		})

	require.NoError(t, store.SaveCVSections(context.Background(), cv))
	assert.True(t, fixedNow.Equal(cv.UpdatedAt))
}

func TestDocumentStore_GetCVSections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cvID    string
		setup   func(*mocks.MockCacheRepository)
		wantErr error
		check   func(*testing.T, *model.CVSections)
	}{
		{
			name:  "empty id",
			cvID:  "",
			setup: func(*mocks.MockCacheRepository) {},
		},
		{
			name: "missing document",
			cvID: "cv-1",
			setup: func(cache *mocks.MockCacheRepository) {
				cache.EXPECT().Get(gomock.Any(), "cv:sections:cv-1").Return(nil, nil)
			},
			wantErr: core.ErrDocumentNotFound,
		},
		{
			name: "cache error",
			cvID: "cv-1",
			setup: func(cache *mocks.MockCacheRepository) {
				cache.EXPECT().Get(gomock.Any(), "cv:sections:cv-1").Return(nil, errors.New("redis down"))
			},
		},
		{
			name: "corrupt document",
			cvID: "cv-1",
			setup: func(cache *mocks.MockCacheRepository) {
				cache.EXPECT().Get(gomock.Any(), "cv:sections:cv-1").Return([]byte("{"), nil)
			},
		},
		{
			name: "found",
			cvID: "cv-1",
			setup: func(cache *mocks.MockCacheRepository) {
				cache.EXPECT().
					Get(gomock.Any(), "cv:sections:cv-1").
					Return([]byte(`{"cv_id":"cv-1","sections":{"experience":{"years":5}}}`), nil)
			},
			check: func(t *testing.T, cv *model.CVSections) {
				assert.JSONEq(t, `{"years":5}`, string(cv.Sections[model.SectionExperience]))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			cache := mocks.NewMockCacheRepository(ctrl)
			tt.setup(cache)

			cv, err := newStore(cache, 0).GetCVSections(context.Background(), tt.cvID)
			if tt.check == nil {
				require.Error(t, err)
				if tt.wantErr != nil {
					require.ErrorIs(t, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			tt.check(t, cv)
		})
	}
}

func TestDocumentStore_SaveRubric(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	store := newStore(cache, 0)

	created := fixedNow.Add(-time.Hour)
	gomock.InOrder(
		cache.EXPECT().Set(gomock.Any(), "rubric:r-new", gomock.Any(), time.Duration(0)).Return(nil),
		cache.EXPECT().Set(gomock.Any(), "rubric:r-old", gomock.Any(), time.Duration(0)).Return(nil),
	)

	fresh := &model.Rubric{ID: "r-new"}
	require.NoError(t, store.SaveRubric(context.Background(), fresh))
	assert.True(t, fixedNow.Equal(fresh.CreatedAt))

	existing := &model.Rubric{ID: "r-old", CreatedAt: created}
	require.NoError(t, store.SaveRubric(context.Background(), existing))
	assert.True(t, created.Equal(existing.CreatedAt), "created_at is kept when already set")

	require.Error(t, store.SaveRubric(context.Background(), &model.Rubric{}))
	require.Error(t, store.SaveRubric(context.Background(), nil))
}

func TestDocumentStore_GetRubricNotFound(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	cache.EXPECT().Get(gomock.Any(), "rubric:missing").Return(nil, nil)

	_, err := newStore(cache, 0).GetRubric(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrDocumentNotFound)
}
