package bootstrap

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cvforge/cv-engine/config"
	"github.com/cvforge/cv-engine/internal/domain/model"
	"github.com/cvforge/cv-engine/internal/mocks"
	"github.com/cvforge/cv-engine/internal/testutil"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "worker only",
			modes: []config.ServiceMode{config.ServiceModeWorker},
			want:  1,
		},
		{
			name:  "worker and reaper",
			modes: []config.ServiceMode{config.ServiceModeWorker, config.ServiceModeReaper},
			want:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
			if got := errorChannelBufferSize(enabled); got != tt.want+1 {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want+1)
			}
		})
	}
}

func testConfig(services string) *config.AppConfig {
	cfg := &config.AppConfig{
		Services: services,
		Worker:   config.WorkerConfig{Concurrency: 2, ShutdownTimeout: 5 * time.Second},
		Reaper:   config.ReaperConfig{Interval: time.Hour, RunningMaxAge: time.Hour, CompletedMaxAge: time.Hour, BatchSize: 10},
	}
	cfg.Sanitize()
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))

	cfg := testConfig("worker")
	require.ErrorContains(t, ValidateServiceConfig(cfg), "AI_ENDPOINT")

	cfg.AI.Endpoint = "http://ai.local/evaluate"
	require.NoError(t, ValidateServiceConfig(cfg))

	require.NoError(t, ValidateServiceConfig(testConfig("reaper")))

	cfg = testConfig("worker")
	cfg.Services = "worker,http"
	require.Error(t, ValidateServiceConfig(cfg))
}

func TestGetEnabledServices(t *testing.T) {
	assert.Equal(t, []string{"worker", "reaper"}, GetEnabledServices(testConfig("reaper, worker")))
	assert.Empty(t, GetEnabledServices(nil))

	cfg := testConfig("worker")
	cfg.Services = "bogus"
	assert.Empty(t, GetEnabledServices(cfg))
}

func TestNewServices_MemoryModeWithoutAI(t *testing.T) {
	services, err := NewServices(&ServiceDeps{Config: testConfig("reaper"), Logger: quietLogger()})
	require.NoError(t, err)

	assert.NotNil(t, services.Jobs)
	assert.NotNil(t, services.Documents)
	assert.NotNil(t, services.Reaper)
	assert.Nil(t, services.Worker)
	assert.Nil(t, services.Scorer)
	assert.Nil(t, services.Observability.sink())
	require.NoError(t, services.Observability.Close())

	_, err = NewServices(&ServiceDeps{})
	require.Error(t, err)
}

func TestRunServicesWithShutdown_WorkerWithoutAI(t *testing.T) {
	cfg := testConfig("worker")
	services, err := NewServices(&ServiceDeps{Config: cfg, Logger: quietLogger()})
	require.NoError(t, err)

	err = RunServicesWithShutdown(context.Background(), &ServiceOrchestrationConfig{
		Config:   cfg,
		Services: services,
		Logger:   quietLogger(),
	})
	require.ErrorIs(t, err, errAIUnavailable)
}

func TestRunServicesWithShutdown_ProcessesJobsUntilCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	ai := mocks.NewMockAIEvaluator(ctrl)
	ai.EXPECT().
		Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(json.RawMessage(`{"sections":{"skills":{"criteria":[{"key":"go","weight":2},{"key":"sql","weight":2}]}}}`), nil).
		Times(1)

	cfg := testConfig("worker,reaper")
	services, err := NewServices(&ServiceDeps{Config: cfg, Logger: quietLogger(), AI: ai})
	require.NoError(t, err)
	require.NotNil(t, services.Worker)
	require.NotNil(t, services.Scorer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunServicesWithShutdown(ctx, &ServiceOrchestrationConfig{
			Config:   cfg,
			Services: services,
			Logger:   quietLogger(),
		})
	}()

	job, err := services.Jobs.Create(ctx, testutil.BuildRubricRequest("Senior Go engineer"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := services.Jobs.Get(context.Background(), job.ID)
		return err == nil && got.Status == model.JobStatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	got, err := services.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	var out struct {
		RubricID string `json:"rubric_id"`
	}
	require.NoError(t, json.Unmarshal(got.Output, &out))

	rubric, err := services.Documents.GetRubric(context.Background(), out.RubricID)
	require.NoError(t, err)
	skills, ok := rubric.Section(model.SectionSkills)
	require.True(t, ok)
	require.Len(t, skills.Criteria, 2)
	assert.InDelta(t, 0.5, skills.Criteria[0].Weight, 1e-9)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("services did not stop after cancellation")
	}
}

func TestGracefulStop_SharedDeadline(t *testing.T) {
	never := make(chan struct{})
	finished := make(chan struct{})
	close(finished)

	start := time.Now()
	gracefulStop(shutdownConfig{
		logger:  quietLogger(),
		timeout: 20 * time.Millisecond,
		backgrounds: []backgroundServiceHandle{
			{name: "stuck", done: never},
			{name: "also stuck", done: never},
			{name: "finished", done: finished},
		},
	})
	assert.Less(t, time.Since(start), time.Second)
}
