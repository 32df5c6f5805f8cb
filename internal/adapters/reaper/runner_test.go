package reaper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/cv-engine/config"
	"github.com/cvforge/cv-engine/internal/data/memory"
	"github.com/cvforge/cv-engine/internal/domain/model"
)

func TestNewRunner_RequiresRepo(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
}

func TestRunner_FailsStaleJobs(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewJobStore(memory.Options{Now: func() time.Time { return now }})
	ctx := context.Background()

	job := model.NewJob("stale", &model.CreateJobRequest{
		Type:  model.JobTypeBuildRubric,
		Input: json.RawMessage(`{}`),
	}, now.Add(-3*time.Hour))
	require.NoError(t, job.MarkRunning(now.Add(-2*time.Hour)))
	require.NoError(t, store.Create(ctx, job))

	runner, err := NewRunner(RunnerOptions{
		Repo: store,
		Config: config.ReaperConfig{
			Interval:        100 * time.Millisecond,
			RunningMaxAge:   time.Hour,
			CompletedMaxAge: 24 * time.Hour,
			BatchSize:       10,
		},
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Run(runCtx) }()

	require.Eventually(t, func() bool {
		got, err := store.GetByID(ctx, "stale")
		return err == nil && got.Status == model.JobStatusFailed
	}, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	got, err := store.GetByID(ctx, "stale")
	require.NoError(t, err)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, "job.stale", *got.ErrorCode)
}
