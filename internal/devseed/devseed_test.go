package devseed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/data/memory"
	domainjob "github.com/cvforge/cv-engine/internal/domain/job"
	"github.com/cvforge/cv-engine/internal/domain/model"
	"github.com/cvforge/cv-engine/internal/service"
)

const seedJSON = `{
  "cv_sections": [
    {"cv_id": "cv-dev", "sections": {"Skills": {"items": ["go"]}}}
  ],
  "rubrics": [
    {"id": "rubric-dev", "sections": {"skills": {"section": "skills", "criteria": [{"key": "go", "weight": 1}]}}}
  ],
  "jobs": [
    {"type": "score_sections", "input": {"cv_id": "cv-dev", "rubric_id": "rubric-dev"}, "priority": 5},
    {"type": "build_rubric", "input": {"job_description": "Go engineer"}}
  ]
}`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_SeedsDocumentsAndJobs(t *testing.T) {
	ctx := context.Background()
	queue := domainjob.NewQueue(domainjob.QueueOptions{})
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:  memory.NewJobStore(memory.Options{}),
		Queue: queue,
	})
	require.NoError(t, err)
	docs := core.NewDocumentStore(core.DocumentStoreOptions{Cache: memory.NewCache(memory.Options{})})

	seed, err := Load(writeSeed(t, seedJSON))
	require.NoError(t, err)

	require.NoError(t, Run(ctx, Services{Jobs: jobs, CVSections: docs, Rubrics: docs}, seed, nil))

	cv, err := docs.GetCVSections(ctx, "cv-dev")
	require.NoError(t, err)
	assert.Contains(t, cv.Sections, model.SectionSkills)

	rubric, err := docs.GetRubric(ctx, "rubric-dev")
	require.NoError(t, err)
	_, ok := rubric.Section(model.SectionSkills)
	assert.True(t, ok)

	assert.Equal(t, 2, queue.Len())
	stats, err := jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
}

func TestRun_CountsFailures(t *testing.T) {
	ctx := context.Background()
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:  memory.NewJobStore(memory.Options{}),
		Queue: domainjob.NewQueue(domainjob.QueueOptions{}),
	})
	require.NoError(t, err)
	docs := core.NewDocumentStore(core.DocumentStoreOptions{Cache: memory.NewCache(memory.Options{})})

	seed := &File{Jobs: []model.CreateJobRequest{
		{Type: model.JobTypeBuildRubric},
		{Type: model.JobTypeBuildRubric, Input: []byte(`{"job_description":"x"}`)},
	}}

	err = Run(ctx, Services{Jobs: jobs, CVSections: docs, Rubrics: docs}, seed, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 seed errors")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Load(writeSeed(t, `{"jobs": [{"type": "browser"}]}`))
	require.Error(t, err)
}

func TestRun_RequiresServices(t *testing.T) {
	require.Error(t, Run(context.Background(), Services{}, &File{}, nil))
	require.Error(t, Run(context.Background(), Services{}, nil, nil))
}
