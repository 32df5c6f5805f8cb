package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/domain/model"
	"github.com/cvforge/cv-engine/internal/domain/scoring"
	apperrors "github.com/cvforge/cv-engine/internal/errors"
	"github.com/cvforge/cv-engine/internal/observability/metrics"
	"github.com/cvforge/cv-engine/internal/observability/statsd"
)

// SectionScorerOptions groups dependencies for SectionScorer.
type SectionScorerOptions struct {
	Repo    core.SectionScoreRepository // Required: section score cache
	AI      core.AIEvaluator            // Required: AI provider
	Logger  *slog.Logger                // Optional: structured logger
	Metrics statsd.Sink                 // Optional: metrics sink (StatsD-compatible)
}

// SectionScorer scores one CV section against its rubric, reusing the stored
// score while neither the rubric nor the section content has changed.
type SectionScorer struct {
	repo    core.SectionScoreRepository
	ai      core.AIEvaluator
	logger  *slog.Logger
	metrics statsd.Sink
	flight  singleflight.Group
}

// SectionScoreRequest identifies the section to score and carries its inputs.
type SectionScoreRequest struct {
	CVID    string
	Section model.SectionType
	Rubric  model.SectionRubric
	Content json.RawMessage
}

// SectionScoreOutcome is the score plus whether it came from the cache.
type SectionScoreOutcome struct {
	Score    model.SectionScore
	CacheHit bool
}

// NewSectionScorer constructs a new SectionScorer.
func NewSectionScorer(opts SectionScorerOptions) (*SectionScorer, error) {
	if opts.Repo == nil {
		return nil, errors.New("SectionScoreRepository is required")
	}
	if opts.AI == nil {
		return nil, errors.New("AIEvaluator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SectionScorer{
		repo:    opts.Repo,
		ai:      opts.AI,
		logger:  logger.With("component", "section_scorer"),
		metrics: opts.Metrics,
	}, nil
}

// Score returns the section score for req.
//
// The stored row for (cv_id, section) is reused when its jd_hash and content_hash
// both equal the hashes of the current rubric and content. Otherwise the AI is
// called and the row is overwritten. Concurrent misses for identical inputs share
// one AI call.
func (s *SectionScorer) Score(ctx context.Context, req SectionScoreRequest) (SectionScoreOutcome, error) {
	if err := validateScoreRequest(req); err != nil {
		return SectionScoreOutcome{}, err
	}
	start := time.Now()

	jdHash, err := scoring.Hash(req.Rubric)
	if err != nil {
		return SectionScoreOutcome{}, apperrors.Wrap(err, apperrors.ErrCodeCache, "hash rubric")
	}
	contentHash, err := scoring.HashJSON(req.Content)
	if err != nil {
		return SectionScoreOutcome{}, apperrors.Wrap(err, apperrors.ErrCodeCache, "hash section content")
	}

	key := model.SectionScoreKey{CVID: req.CVID, Section: req.Section}
	existing, err := s.repo.Get(ctx, key)
	if err != nil {
		return SectionScoreOutcome{}, apperrors.Wrapf(err, apperrors.ErrCodeCache, "load cached score %s", key)
	}
	if existing.Matches(jdHash, contentHash) {
		s.logger.DebugContext(ctx, "section score cache hit", "cv_id", req.CVID, "section", req.Section)
		metrics.EmitScoringCache(s.metrics, metrics.CacheMetric{
			Section:  string(req.Section),
			Hit:      true,
			Duration: time.Since(start),
		})
		return SectionScoreOutcome{Score: existing.Score, CacheHit: true}, nil
	}

	if err := ctx.Err(); err != nil {
		return SectionScoreOutcome{}, err
	}

	// The shared call outlives any single caller: it runs detached from ctx, and
	// each caller stops waiting on its own cancellation.
	flightKey := key.String() + ":" + jdHash + ":" + contentHash
	flight := s.flight.DoChan(flightKey, func() (any, error) {
		return s.evaluate(context.WithoutCancel(ctx), req, jdHash, contentHash)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return SectionScoreOutcome{}, ctx.Err()
	case res = <-flight:
	}
	if res.Err != nil {
		return SectionScoreOutcome{}, res.Err
	}
	score, ok := res.Val.(model.SectionScore)
	if !ok {
		return SectionScoreOutcome{}, apperrors.Newf(apperrors.ErrCodeInternal, "unexpected score type %T", res.Val)
	}
	shared := res.Shared

	s.logger.DebugContext(ctx, "section score cache miss",
		"cv_id", req.CVID,
		"section", req.Section,
		"shared", shared,
		"total", score.TotalScore0to5,
	)
	metrics.EmitScoringCache(s.metrics, metrics.CacheMetric{
		Section:  string(req.Section),
		Duration: time.Since(start),
	})
	return SectionScoreOutcome{Score: cloneSectionScore(score)}, nil
}

func (s *SectionScorer) evaluate(
	ctx context.Context,
	req SectionScoreRequest,
	jdHash, contentHash string,
) (model.SectionScore, error) {
	prompt := BuildSectionScorePrompt(req.Section, req.Rubric, req.Content)
	raw, err := s.ai.Evaluate(ctx, prompt, SectionScoreSchema())
	if err != nil {
		return model.SectionScore{}, err
	}

	score, err := ParseSectionScore(req.Section, req.Rubric, raw)
	if err != nil {
		return model.SectionScore{}, err
	}

	row := &model.SectionScoreResult{
		CVID:        req.CVID,
		Section:     req.Section,
		JDHash:      jdHash,
		ContentHash: contentHash,
		Score:       score,
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return model.SectionScore{}, apperrors.Wrapf(err, apperrors.ErrCodeCache, "store score %s", row.Key())
	}
	return score, nil
}

type aiSectionScore struct {
	Criteria []struct {
		Key       string   `json:"key"`
		Score     *float64 `json:"score"`
		Rationale string   `json:"rationale"`
	} `json:"criteria"`
}

// ParseSectionScore maps an AI response onto the rubric's criteria. Every rubric
// criterion must be scored; scores are rounded and clamped to 0..5 and weights
// are taken from the rubric, not the response.
func ParseSectionScore(
	section model.SectionType,
	rubric model.SectionRubric,
	raw json.RawMessage,
) (model.SectionScore, error) {
	var resp aiSectionScore
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.SectionScore{}, apperrors.Wrap(err, apperrors.ErrCodeAIResponse, "decode section score")
	}

	byKey := make(map[string]int, len(resp.Criteria))
	for i, c := range resp.Criteria {
		byKey[c.Key] = i
	}

	criteria := make([]model.CriterionScore, 0, len(rubric.Criteria))
	for _, rc := range rubric.Criteria {
		i, ok := byKey[rc.Key]
		if !ok || resp.Criteria[i].Score == nil {
			return model.SectionScore{}, apperrors.Newf(apperrors.ErrCodeAIResponse,
				"section %s: criterion %q was not scored", section, rc.Key)
		}
		got := resp.Criteria[i]
		criteria = append(criteria, model.CriterionScore{
			Key:        rc.Key,
			Score0to5:  clampScore(*got.Score),
			Weight0to1: rc.Weight,
			Rationale:  got.Rationale,
		})
	}
	return model.NewSectionScore(section, criteria), nil
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(5, v))))
}

func validateScoreRequest(req SectionScoreRequest) error {
	if req.CVID == "" {
		return apperrors.ValidationField("cv_id", "cv id is required")
	}
	if !req.Section.Valid() {
		return apperrors.ValidationField("section", fmt.Sprintf("invalid section %q", req.Section))
	}
	if len(req.Rubric.Criteria) == 0 {
		return apperrors.Newf(apperrors.ErrCodeMissingRubric, "no rubric criteria for section %s", req.Section)
	}
	if len(req.Content) == 0 {
		return apperrors.Newf(apperrors.ErrCodeMissingSection, "no content for section %s", req.Section)
	}
	return nil
}

// cloneSectionScore copies the criteria slice, which singleflight shares between callers.
func cloneSectionScore(s model.SectionScore) model.SectionScore {
	s.Criteria = append([]model.CriterionScore(nil), s.Criteria...)
	return s
}
