// Package devseed loads CV sections, rubrics and jobs from a JSON file so a
// memory-mode process has something to work on during development.
package devseed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/domain/model"
)

// JobCreator is the part of the job API the seeder uses.
type JobCreator interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
}

// File is the seed file layout.
type File struct {
	CVSections []model.CVSections       `json:"cv_sections"`
	Rubrics    []model.Rubric           `json:"rubrics"`
	Jobs       []model.CreateJobRequest `json:"jobs"`
}

// Services bundles the dependencies needed for development seeding.
type Services struct {
	Jobs       JobCreator
	CVSections core.CVSectionRepository
	Rubrics    core.RubricRepository
}

// Load reads and decodes a seed file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return &f, nil
}

// Run stores the seed documents and then submits the seed jobs, in that order,
// so score jobs find the sections and rubrics they reference.
// Individual failures are logged and counted; Run reports them together.
func Run(ctx context.Context, svcs Services, seed *File, logger *slog.Logger) error {
	if seed == nil {
		return errors.New("seed file is required")
	}
	if svcs.Jobs == nil || svcs.CVSections == nil || svcs.Rubrics == nil {
		return errors.New("seed services are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "devseed")

	failures := 0
	for i := range seed.CVSections {
		cv := &seed.CVSections[i]
		if err := svcs.CVSections.SaveCVSections(ctx, cv); err != nil {
			logger.ErrorContext(ctx, "failed to seed cv sections", "cv_id", cv.CVID, "error", err)
			failures++
			continue
		}
		logger.InfoContext(ctx, "seeded cv sections", "cv_id", cv.CVID, "sections", len(cv.Sections))
	}

	for i := range seed.Rubrics {
		rubric := &seed.Rubrics[i]
		if err := svcs.Rubrics.SaveRubric(ctx, rubric); err != nil {
			logger.ErrorContext(ctx, "failed to seed rubric", "rubric_id", rubric.ID, "error", err)
			failures++
			continue
		}
		logger.InfoContext(ctx, "seeded rubric", "rubric_id", rubric.ID, "sections", len(rubric.Sections))
	}

	for i := range seed.Jobs {
		req := &seed.Jobs[i]
		job, err := svcs.Jobs.Create(ctx, req)
		if err != nil {
			logger.ErrorContext(ctx, "failed to seed job", "type", req.Type, "error", err)
			failures++
			continue
		}
		logger.InfoContext(ctx, "seeded job", "job_id", job.ID, "type", job.Type)
	}

	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}
