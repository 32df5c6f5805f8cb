package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cvforge/cv-engine/internal/core"
	domainjob "github.com/cvforge/cv-engine/internal/domain/job"
	"github.com/cvforge/cv-engine/internal/domain/model"
	apperrors "github.com/cvforge/cv-engine/internal/errors"
	"github.com/cvforge/cv-engine/internal/service"
)

// HandlersOptions groups the dependencies shared by the built-in handlers.
type HandlersOptions struct {
	AI         core.AIEvaluator         // Required
	CVSections core.CVSectionRepository // Required
	Rubrics    core.RubricRepository    // Required
	Scorer     *service.SectionScorer   // Required
	Logger     *slog.Logger

	// MaxParallelSections caps concurrent section scoring per job; defaults to one per section type.
	MaxParallelSections int
	Now                 func() time.Time
	NewID               func() string
}

// NewHandlers builds the StructureContent, BuildRubric and ScoreSections handlers.
func NewHandlers(opts HandlersOptions) ([]domainjob.Handler, error) {
	switch {
	case opts.AI == nil:
		return nil, errors.New("AI evaluator is required")
	case opts.CVSections == nil:
		return nil, errors.New("CV section repository is required")
	case opts.Rubrics == nil:
		return nil, errors.New("rubric repository is required")
	case opts.Scorer == nil:
		return nil, errors.New("section scorer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	parallel := opts.MaxParallelSections
	if parallel <= 0 {
		parallel = len(model.AllSectionTypes())
	}

	return []domainjob.Handler{
		&StructureContentHandler{
			ai:     opts.AI,
			docs:   opts.CVSections,
			logger: logger.With("component", "structure_content_handler"),
		},
		&BuildRubricHandler{
			ai:      opts.AI,
			rubrics: opts.Rubrics,
			logger:  logger.With("component", "build_rubric_handler"),
			now:     now,
			newID:   newID,
		},
		&ScoreSectionsHandler{
			docs:     opts.CVSections,
			rubrics:  opts.Rubrics,
			scorer:   opts.Scorer,
			parallel: parallel,
			logger:   logger.With("component", "score_sections_handler"),
		},
	}, nil
}

func decodeInput(job *model.Job, dst any) error {
	if err := json.Unmarshal(job.Input, dst); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeInvalidInput, "decode %s input", job.Type)
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// StructureContent
// ───────────────────────────────────────────────────────────────────────────

// StructureContentInput is the input of a structure_content job.
type StructureContentInput struct {
	CVID    string `json:"cv_id"`
	RawText string `json:"raw_text"`
}

// StructureContentOutput is the output of a structure_content job.
type StructureContentOutput struct {
	CVID     string              `json:"cv_id"`
	Sections []model.SectionType `json:"sections"`
}

// StructureContentHandler turns raw CV text into sections and stores them.
type StructureContentHandler struct {
	ai     core.AIEvaluator
	docs   core.CVSectionRepository
	logger *slog.Logger
}

// Type implements job.Handler.
func (h *StructureContentHandler) Type() model.JobType { return model.JobTypeStructureContent }

// Handle implements job.Handler.
func (h *StructureContentHandler) Handle(ctx context.Context, job *model.Job) domainjob.Result {
	var in StructureContentInput
	if err := decodeInput(job, &in); err != nil {
		return domainjob.FailedFromError(err)
	}
	if in.CVID == "" || strings.TrimSpace(in.RawText) == "" {
		return domainjob.Failed(apperrors.ErrCodeInvalidInput, "cv_id and raw_text are required")
	}
	if err := ctx.Err(); err != nil {
		return domainjob.FailedFromError(err)
	}

	raw, err := h.ai.Evaluate(ctx, service.BuildStructurePrompt(in.RawText), service.StructureSchema())
	if err != nil {
		return domainjob.FailedFromError(err)
	}

	var resp struct {
		Sections map[string]json.RawMessage `json:"sections"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domainjob.FailedFromError(apperrors.Wrap(err, apperrors.ErrCodeAIResponse, "decode structured sections"))
	}

	cv := &model.CVSections{CVID: in.CVID, Sections: make(map[model.SectionType]json.RawMessage)}
	for name, content := range resp.Sections {
		var section model.SectionType
		if err := section.UnmarshalText([]byte(name)); err != nil {
			h.logger.DebugContext(ctx, "ignoring unknown section", "job_id", job.ID, "section", name)
			continue
		}
		if len(content) == 0 || string(content) == "null" {
			continue
		}
		cv.Sections[section] = content
	}
	if len(cv.Sections) == 0 {
		return domainjob.Failed(apperrors.ErrCodeAIResponse, "no recognised sections in AI response")
	}

	if err := h.docs.SaveCVSections(ctx, cv); err != nil {
		return domainjob.FailedFromError(fmt.Errorf("save cv sections: %w", err))
	}

	out := StructureContentOutput{CVID: in.CVID}
	for _, st := range model.AllSectionTypes() {
		if _, ok := cv.Sections[st]; ok {
			out.Sections = append(out.Sections, st)
		}
	}
	return domainjob.SucceededJSON(out)
}

// ───────────────────────────────────────────────────────────────────────────
// BuildRubric
// ───────────────────────────────────────────────────────────────────────────

// BuildRubricInput is the input of a build_rubric job.
type BuildRubricInput struct {
	// RubricID is optional; a new id is assigned when empty.
	RubricID         string `json:"rubric_id,omitempty"`
	JobDescriptionID string `json:"job_description_id,omitempty"`
	JobDescription   string `json:"job_description"`
}

// BuildRubricOutput is the output of a build_rubric job.
type BuildRubricOutput struct {
	RubricID string              `json:"rubric_id"`
	Sections []model.SectionType `json:"sections"`
}

// BuildRubricHandler derives a weighted rubric from a job description and stores it.
type BuildRubricHandler struct {
	ai      core.AIEvaluator
	rubrics core.RubricRepository
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// Type implements job.Handler.
func (h *BuildRubricHandler) Type() model.JobType { return model.JobTypeBuildRubric }

// Handle implements job.Handler.
func (h *BuildRubricHandler) Handle(ctx context.Context, job *model.Job) domainjob.Result {
	var in BuildRubricInput
	if err := decodeInput(job, &in); err != nil {
		return domainjob.FailedFromError(err)
	}
	if strings.TrimSpace(in.JobDescription) == "" {
		return domainjob.Failed(apperrors.ErrCodeInvalidInput, "job_description is required")
	}
	if err := ctx.Err(); err != nil {
		return domainjob.FailedFromError(err)
	}

	raw, err := h.ai.Evaluate(ctx, service.BuildRubricPrompt(in.JobDescription), service.RubricSchema())
	if err != nil {
		return domainjob.FailedFromError(err)
	}

	sections, err := parseRubricSections(raw)
	if err != nil {
		return domainjob.FailedFromError(err)
	}

	id := in.RubricID
	if id == "" {
		id = h.newID()
	}
	rubric := &model.Rubric{
		ID:               id,
		JobDescriptionID: in.JobDescriptionID,
		Sections:         sections,
		CreatedAt:        h.now().UTC(),
	}
	if err := h.rubrics.SaveRubric(ctx, rubric); err != nil {
		return domainjob.FailedFromError(fmt.Errorf("save rubric: %w", err))
	}

	out := BuildRubricOutput{RubricID: id}
	for _, st := range model.AllSectionTypes() {
		if _, ok := sections[st]; ok {
			out.Sections = append(out.Sections, st)
		}
	}
	h.logger.InfoContext(ctx, "rubric built", "job_id", job.ID, "rubric_id", id, "sections", len(out.Sections))
	return domainjob.SucceededJSON(out)
}

// parseRubricSections decodes the AI rubric and normalises each section's
// weights to sum to 1. Criteria without a key and unknown sections are dropped.
func parseRubricSections(raw json.RawMessage) (map[model.SectionType]model.SectionRubric, error) {
	var resp struct {
		Sections map[string]struct {
			Criteria []model.Criterion `json:"criteria"`
		} `json:"sections"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeAIResponse, "decode rubric")
	}

	sections := make(map[model.SectionType]model.SectionRubric)
	for name, sr := range resp.Sections {
		var st model.SectionType
		if err := st.UnmarshalText([]byte(name)); err != nil {
			continue
		}
		criteria := make([]model.Criterion, 0, len(sr.Criteria))
		seen := make(map[string]bool, len(sr.Criteria))
		for _, c := range sr.Criteria {
			c.Key = strings.TrimSpace(c.Key)
			if c.Key == "" || seen[c.Key] {
				continue
			}
			seen[c.Key] = true
			if c.Weight < 0 {
				c.Weight = 0
			}
			criteria = append(criteria, c)
		}
		if len(criteria) == 0 {
			continue
		}
		normalizeWeights(criteria)
		sections[st] = model.SectionRubric{Section: st, Criteria: criteria}
	}

	if len(sections) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeAIResponse, "rubric has no usable sections")
	}
	return sections, nil
}

func normalizeWeights(criteria []model.Criterion) {
	var sum float64
	for _, c := range criteria {
		sum += c.Weight
	}
	for i := range criteria {
		if sum == 0 {
			criteria[i].Weight = 1 / float64(len(criteria))
			continue
		}
		criteria[i].Weight /= sum
	}
}

// ───────────────────────────────────────────────────────────────────────────
// ScoreSections
// ───────────────────────────────────────────────────────────────────────────

// ScoreSectionsInput is the input of a score_sections job. The rubric is either
// referenced by id or given inline. Without sections, every section present in
// both the CV and the rubric is scored.
type ScoreSectionsInput struct {
	CVID     string              `json:"cv_id"`
	RubricID string              `json:"rubric_id,omitempty"`
	Rubric   *model.Rubric       `json:"rubric,omitempty"`
	Sections []model.SectionType `json:"sections,omitempty"`
}

// ScoreSectionsOutput is the output of a score_sections job.
type ScoreSectionsOutput struct {
	CVID      string               `json:"cv_id"`
	RubricID  string               `json:"rubric_id,omitempty"`
	Scores    []model.SectionScore `json:"scores"`
	CacheHits int                  `json:"cache_hits"`
}

// ScoreSectionsHandler scores CV sections concurrently through the section score cache.
type ScoreSectionsHandler struct {
	docs     core.CVSectionRepository
	rubrics  core.RubricRepository
	scorer   *service.SectionScorer
	parallel int
	logger   *slog.Logger
}

// Type implements job.Handler.
func (h *ScoreSectionsHandler) Type() model.JobType { return model.JobTypeScoreSections }

// Handle implements job.Handler.
func (h *ScoreSectionsHandler) Handle(ctx context.Context, job *model.Job) domainjob.Result {
	var in ScoreSectionsInput
	if err := decodeInput(job, &in); err != nil {
		return domainjob.FailedFromError(err)
	}
	if in.CVID == "" {
		return domainjob.Failed(apperrors.ErrCodeInvalidInput, "cv_id is required")
	}
	if in.RubricID == "" && in.Rubric == nil {
		return domainjob.Failed(apperrors.ErrCodeInvalidInput, "rubric_id or rubric is required")
	}

	rubric, err := h.loadRubric(ctx, in)
	if err != nil {
		return domainjob.FailedFromError(err)
	}
	cv, err := h.docs.GetCVSections(ctx, in.CVID)
	if err != nil {
		if errors.Is(err, core.ErrDocumentNotFound) {
			return domainjob.Failed(apperrors.ErrCodeMissingSection, fmt.Sprintf("cv %s has no structured sections", in.CVID))
		}
		return domainjob.FailedFromError(fmt.Errorf("load cv sections: %w", err))
	}

	sections, err := selectSections(in.Sections, cv, rubric)
	if err != nil {
		return domainjob.FailedFromError(err)
	}

	scores := make([]model.SectionScore, len(sections))
	var hits atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.parallel)
	for i, st := range sections {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sr, _ := rubric.Section(st)
			outcome, err := h.scorer.Score(gctx, service.SectionScoreRequest{
				CVID:    in.CVID,
				Section: st,
				Rubric:  sr,
				Content: cv.Sections[st],
			})
			if err != nil {
				return fmt.Errorf("score section %s: %w", st, err)
			}
			scores[i] = outcome.Score
			if outcome.CacheHit {
				hits.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domainjob.FailedFromError(err)
	}

	h.logger.InfoContext(ctx, "sections scored",
		"job_id", job.ID,
		"cv_id", in.CVID,
		"sections", len(scores),
		"cache_hits", hits.Load(),
	)
	return domainjob.SucceededJSON(ScoreSectionsOutput{
		CVID:      in.CVID,
		RubricID:  rubric.ID,
		Scores:    scores,
		CacheHits: int(hits.Load()),
	})
}

func (h *ScoreSectionsHandler) loadRubric(ctx context.Context, in ScoreSectionsInput) (*model.Rubric, error) {
	if in.Rubric != nil {
		return in.Rubric, nil
	}
	rubric, err := h.rubrics.GetRubric(ctx, in.RubricID)
	if err != nil {
		if errors.Is(err, core.ErrDocumentNotFound) {
			return nil, apperrors.Newf(apperrors.ErrCodeMissingRubric, "rubric %s not found", in.RubricID)
		}
		return nil, fmt.Errorf("load rubric: %w", err)
	}
	return rubric, nil
}

// selectSections resolves the sections to score in canonical order. Requested
// sections must exist in both the CV and the rubric.
func selectSections(requested []model.SectionType, cv *model.CVSections, rubric *model.Rubric) ([]model.SectionType, error) {
	if len(requested) == 0 {
		var out []model.SectionType
		for _, st := range model.AllSectionTypes() {
			_, inCV := cv.Sections[st]
			_, inRubric := rubric.Section(st)
			if inCV && inRubric {
				out = append(out, st)
			}
		}
		if len(out) == 0 {
			return nil, apperrors.New(apperrors.ErrCodeMissingSection, "cv and rubric share no sections")
		}
		return out, nil
	}

	want := make(map[model.SectionType]bool, len(requested))
	for _, st := range requested {
		want[st] = true
	}
	out := make([]model.SectionType, 0, len(want))
	for _, st := range model.AllSectionTypes() {
		if !want[st] {
			continue
		}
		if _, ok := rubric.Section(st); !ok {
			return nil, apperrors.Newf(apperrors.ErrCodeMissingRubric, "rubric has no criteria for section %s", st)
		}
		if _, ok := cv.Sections[st]; !ok {
			return nil, apperrors.Newf(apperrors.ErrCodeMissingSection, "cv has no %s section", st)
		}
		out = append(out, st)
	}
	return out, nil
}
