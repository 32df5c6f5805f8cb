// Package testutil provides test database, Redis and fixture helpers for the cv-engine.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/cvforge/cv-engine/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Type:  model.JobTypeScoreSections,
			Input: json.RawMessage(`{"cv_id":"cv-1","rubric_id":"rubric-1"}`),
		},
	}
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(priority int) *JobRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithInputString sets the job input from a string.
func (b *JobRequestBuilder) WithInputString(input string) *JobRequestBuilder {
	b.req.Input = json.RawMessage(input)
	return b
}

// WithRunAt delays the job until runAt.
func (b *JobRequestBuilder) WithRunAt(runAt time.Time) *JobRequestBuilder {
	b.req.RunAt = &runAt
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// NewQueuedJob builds a queued job from the builder's request.
func (b *JobRequestBuilder) NewQueuedJob(id string, now time.Time) *model.Job {
	return model.NewJob(id, b.req, now)
}

// StructureContentRequest creates a structure_content job request.
func StructureContentRequest(cvID, rawText string) *model.CreateJobRequest {
	input, _ := json.Marshal(map[string]string{"cv_id": cvID, "raw_text": rawText})
	return NewJobRequest().WithType(model.JobTypeStructureContent).WithInputString(string(input)).Build()
}

// BuildRubricRequest creates a build_rubric job request.
func BuildRubricRequest(jobDescription string) *model.CreateJobRequest {
	input, _ := json.Marshal(map[string]string{"job_description": jobDescription})
	return NewJobRequest().WithType(model.JobTypeBuildRubric).WithInputString(string(input)).Build()
}
