// Package metrics emits the engine's standard StatsD metrics.
package metrics

import (
	"time"

	obserrors "github.com/cvforge/cv-engine/internal/observability/errors"
	"github.com/cvforge/cv-engine/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultHit     = "hit"
	ResultMiss    = "miss"
)

// Job lifecycle transitions.
const (
	TransitionCreated   = "created"
	TransitionStarted   = "started"
	TransitionSucceeded = "succeeded"
	TransitionFailed    = "failed"
	TransitionCanceled  = "canceled"
	TransitionSkipped   = "skipped"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	// ErrorCode is the job error code for failed transitions.
	ErrorCode string
	Duration  time.Duration
	Err       error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.ErrorCode != "" {
		tags["error_code"] = in.ErrorCode
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// CacheMetric describes one section score cache lookup.
type CacheMetric struct {
	Section string
	Hit     bool
	// Duration is the time spent producing the score, including the AI call on a miss.
	Duration time.Duration
}

// EmitScoringCache emits the scoring.cache counter and scoring.duration timing.
func EmitScoringCache(sink statsd.Sink, in CacheMetric) {
	if sink == nil {
		return
	}
	result := ResultMiss
	if in.Hit {
		result = ResultHit
	}
	tags := map[string]string{
		"section": in.Section,
		"result":  result,
	}
	sink.Count("scoring.cache", 1, tags)
	if in.Duration > 0 {
		sink.Timing("scoring.duration", in.Duration, CloneTags(tags))
	}
}

// EmitQueueDepth records the number of tickets waiting in the in-memory queue.
func EmitQueueDepth(sink statsd.Sink, depth int) {
	if sink == nil {
		return
	}
	sink.Gauge("job.queue_depth", float64(depth), nil)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
