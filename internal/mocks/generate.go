// Package mocks provides mock implementations for testing the cv-engine.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the ports in internal/core.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockAI := mocks.NewMockAIEvaluator(ctrl)
//	mockAI.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).Return(json.RawMessage(`{}`), nil)
package mocks

// Generate mock for AIEvaluator interface from internal/core package.
// This creates MockAIEvaluator with methods for all AIEvaluator interface methods:
// Evaluate
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ai_evaluator_mock.go github.com/cvforge/cv-engine/internal/core AIEvaluator

// Generate mock for SectionScoreRepository interface from internal/core package.
// This creates MockSectionScoreRepository with methods for all SectionScoreRepository interface methods:
// Get, Upsert
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=section_score_repository_mock.go github.com/cvforge/cv-engine/internal/core SectionScoreRepository

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// Create, GetByID, Update, Stats
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/cvforge/cv-engine/internal/core JobRepository

// Generate mock for ReaperRepository interface from internal/core package.
// This creates MockReaperRepository with methods for all ReaperRepository interface methods:
// FailStaleRunningJobs, DeleteOldJobs
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/cvforge/cv-engine/internal/core ReaperRepository

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods for all CacheRepository interface methods:
// Set, Get, Delete, Exists, Health
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/cvforge/cv-engine/internal/core CacheRepository
