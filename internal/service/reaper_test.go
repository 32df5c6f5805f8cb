package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cvforge/cv-engine/config"
	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/domain/model"
	"github.com/cvforge/cv-engine/internal/mocks"
	"github.com/cvforge/cv-engine/internal/observability/statsd"
)

// mockReaperRepo is a simple mock implementation for testing.
type mockReaperRepo struct {
	mu sync.Mutex

	failStaleCalled int
	failStaleCount  int64
	failStaleError  error
	failStaleParams core.FailStaleJobsParams

	deleteCalls  map[model.JobStatus]int
	deleteCount  int64
	deleteError  error
	deleteParams []core.DeleteOldJobsParams
}

func (m *mockReaperRepo) FailStaleRunningJobs(_ context.Context, params core.FailStaleJobsParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failStaleCalled++
	m.failStaleParams = params
	if m.failStaleError != nil {
		return 0, m.failStaleError
	}
	// Return count on first call, then 0 to simulate batch exhaustion
	if m.failStaleCalled == 1 {
		return m.failStaleCount, nil
	}
	return 0, nil
}

func (m *mockReaperRepo) DeleteOldJobs(_ context.Context, params core.DeleteOldJobsParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteCalls == nil {
		m.deleteCalls = make(map[model.JobStatus]int)
	}
	m.deleteCalls[params.Status]++
	m.deleteParams = append(m.deleteParams, params)
	if m.deleteError != nil {
		return 0, m.deleteError
	}
	if m.deleteCalls[params.Status] == 1 {
		return m.deleteCount, nil
	}
	return 0, nil
}

func (m *mockReaperRepo) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failStaleCalled
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:        5 * time.Minute,
		RunningMaxAge:   time.Hour,
		CompletedMaxAge: 7 * 24 * time.Hour,
		BatchSize:       1000,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Config: testReaperConfig(),
			Logger: slog.Default(),
		})

		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "ReaperRepository is required")
	})
}

func TestReaperService_RunOnce(t *testing.T) {
	t.Run("runs all cleanup operations successfully", func(t *testing.T) {
		repo := &mockReaperRepo{failStaleCount: 5, deleteCount: 10}
		rec := &statsd.Recorder{}
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig(), Metrics: rec})
		require.NoError(t, err)

		require.NoError(t, svc.RunOnce(context.Background()))

		// Each operation is called twice: once returning count, once returning 0
		assert.Equal(t, 2, repo.failStaleCalled)
		assert.Equal(t, 2, repo.deleteCalls[model.JobStatusSucceeded])
		assert.Equal(t, 2, repo.deleteCalls[model.JobStatusFailed])
		assert.Equal(t, 2, repo.deleteCalls[model.JobStatusCanceled])
		assert.Zero(t, repo.deleteCalls[model.JobStatusQueued])
		assert.Zero(t, repo.deleteCalls[model.JobStatusRunning])

		assert.Equal(t, "job.stale", repo.failStaleParams.ErrorCode)
		assert.Equal(t, time.Hour, repo.failStaleParams.MaxAge)
		for _, p := range repo.deleteParams {
			assert.Equal(t, 7*24*time.Hour, p.MaxAge)
			assert.Equal(t, 1000, p.BatchSize)
		}

		assert.EqualValues(t, 1, rec.Sum("reaper.cleanup", map[string]string{"result": "success"}))
		assert.EqualValues(t, 35, rec.Sum("reaper.jobs_processed", nil))
	})

	t.Run("continues on partial errors", func(t *testing.T) {
		repo := &mockReaperRepo{failStaleError: errors.New("fail error"), deleteCount: 10}
		rec := &statsd.Recorder{}
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig(), Metrics: rec})
		require.NoError(t, err)

		err = svc.RunOnce(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "fail stale running jobs")
		assert.Equal(t, 1, repo.failStaleCalled)
		assert.Equal(t, 2, repo.deleteCalls[model.JobStatusSucceeded])
		assert.EqualValues(t, 1, rec.Sum("reaper.cleanup", map[string]string{"result": "error"}))
	})

	t.Run("context cancellation is reported as canceled", func(t *testing.T) {
		repo := &mockReaperRepo{failStaleError: context.Canceled, deleteError: context.Canceled}
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig()})
		require.NoError(t, err)

		err = svc.RunOnce(context.Background())
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestReaperService_RunOnceWithGeneratedMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)

	gomock.InOrder(
		repo.EXPECT().FailStaleRunningJobs(gomock.Any(), gomock.Any()).Return(int64(2), nil),
		repo.EXPECT().FailStaleRunningJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil),
	)
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).Times(3)

	svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig()})
	require.NoError(t, err)
	require.NoError(t, svc.RunOnce(context.Background()))
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		repo := &mockReaperRepo{}
		cfg := testReaperConfig()
		cfg.Interval = 100 * time.Millisecond
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		time.Sleep(150 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not stop after context cancellation")
		}

		assert.GreaterOrEqual(t, repo.calls(), 1)
	})

	t.Run("continues running despite cleanup errors", func(t *testing.T) {
		repo := &mockReaperRepo{failStaleError: errors.New("test error")}
		cfg := testReaperConfig()
		cfg.Interval = 50 * time.Millisecond
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		err = svc.Run(ctx)

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.GreaterOrEqual(t, repo.calls(), 2)
	})
}
