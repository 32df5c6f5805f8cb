package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/domain/model"
	"github.com/cvforge/cv-engine/internal/testutil"
)

func TestRedisCacheRepo_Set_Get_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)

	repo := NewRedisCacheRepo(RedisCacheOptions{Client: client, KeyPrefix: "test:"})
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		value := []byte("test value")
		ttl := 5 * time.Minute

		require.NoError(t, repo.Set(ctx, "key:1", value, ttl))

		result, err := repo.Get(ctx, "key:1")
		require.NoError(t, err)
		assert.Equal(t, value, result)

		// The raw key carries the prefix and the TTL.
		actualTTL := client.TTL(ctx, "test:key:1").Val()
		assert.True(t, actualTTL > 0 && actualTTL <= ttl)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "key:forever", []byte("v"), 0))
		assert.Equal(t, time.Duration(-1), client.TTL(ctx, "test:key:forever").Val())
	})

	t.Run("get non-existent key", func(t *testing.T) {
		result, err := repo.Get(ctx, "non:existent:key")
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("delete existing key", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "key:2", []byte("to be deleted"), time.Minute))

		deleted, err := repo.Delete(ctx, "key:2")
		require.NoError(t, err)
		assert.True(t, deleted)

		exists, err := repo.Exists(ctx, "key:2")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("delete non-existent key", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, "non:existent:key")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("empty key", func(t *testing.T) {
		require.Error(t, repo.Set(ctx, "", []byte("v"), 0))
		_, err := repo.Get(ctx, "")
		require.Error(t, err)
	})

	t.Run("health", func(t *testing.T) {
		require.NoError(t, repo.Health(ctx))
	})
}

func TestRedisCacheRepo_BacksDocumentStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)

	store := core.NewDocumentStore(core.DocumentStoreOptions{
		Cache:  NewRedisCacheRepo(RedisCacheOptions{Client: client, KeyPrefix: "test:"}),
		Config: core.DefaultDocumentStoreConfig(),
	})
	ctx := context.Background()

	rubric := &model.Rubric{
		ID: "rubric-redis",
		Sections: map[model.SectionType]model.SectionRubric{
			model.SectionSkills: {
				Section:  model.SectionSkills,
				Criteria: []model.Criterion{{Key: "go", Weight: 1}},
			},
		},
	}
	require.NoError(t, store.SaveRubric(ctx, rubric))

	got, err := store.GetRubric(ctx, "rubric-redis")
	require.NoError(t, err)
	sr, ok := got.Section(model.SectionSkills)
	require.True(t, ok)
	assert.Equal(t, "go", sr.Criteria[0].Key)

	_, err = store.GetRubric(ctx, "missing")
	require.ErrorIs(t, err, core.ErrDocumentNotFound)
}
