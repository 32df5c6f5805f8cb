package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SectionType identifies one semantically distinct block of a CV.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type SectionType string

const (
	SectionContact        SectionType = "contact"
	SectionSummary        SectionType = "summary"
	SectionSkills         SectionType = "skills"
	SectionExperience     SectionType = "experience"
	SectionProjects       SectionType = "projects"
	SectionEducation      SectionType = "education"
	SectionCertifications SectionType = "certifications"
)

// AllSectionTypes returns every section type in display order.
func AllSectionTypes() []SectionType {
	return []SectionType{
		SectionContact,
		SectionSummary,
		SectionSkills,
		SectionExperience,
		SectionProjects,
		SectionEducation,
		SectionCertifications,
	}
}

// Valid returns true if the SectionType is known.
func (s SectionType) Valid() bool {
	for _, t := range AllSectionTypes() {
		if s == t {
			return true
		}
	}
	return false
}

// UnmarshalText accepts section names case-insensitively ("Skills", "skills").
func (s *SectionType) UnmarshalText(text []byte) error {
	v := SectionType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid SectionType: %q", string(text))
	}
	*s = v
	return nil
}

// CVSections holds the structured content of a CV keyed by section.
// Section content is an arbitrary JSON document produced by the structuring step.
type CVSections struct {
	CVID      string                          `json:"cv_id"`
	Sections  map[SectionType]json.RawMessage `json:"sections"`
	UpdatedAt time.Time                       `json:"updated_at"`
}

// Criterion is one weighted rubric item used to evaluate a section.
type Criterion struct {
	Key         string  `json:"key"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	// Levels describes what a score of 0..5 means for this criterion, indexed by score.
	Levels []string `json:"levels,omitempty"`
}

// SectionRubric is the weighted criteria set for one section. Weights are expected
// to sum to 1; the rubric producer is responsible for that.
type SectionRubric struct {
	Section  SectionType `json:"section"`
	Criteria []Criterion `json:"criteria"`
}

// Rubric is the set of section rubrics derived from one job description.
type Rubric struct {
	ID               string                        `json:"id"`
	JobDescriptionID string                        `json:"job_description_id,omitempty"`
	Sections         map[SectionType]SectionRubric `json:"sections"`
	CreatedAt        time.Time                     `json:"created_at"`
}

// Section returns the rubric for the given section, if any.
func (r *Rubric) Section(section SectionType) (SectionRubric, bool) {
	if r == nil {
		return SectionRubric{}, false
	}
	sr, ok := r.Sections[section]
	return sr, ok
}

// CriterionScore is the evaluated score of one criterion.
type CriterionScore struct {
	Key        string  `json:"key"`
	Score0to5  int     `json:"score_0_to_5"`
	Weight0to1 float64 `json:"weight_0_to_1"`
	Rationale  string  `json:"rationale,omitempty"`
}

// SectionScore is the value object stored in the cache and returned in job output.
type SectionScore struct {
	Section        SectionType      `json:"section"`
	Criteria       []CriterionScore `json:"criteria"`
	TotalScore0to5 float64          `json:"total_score_0_to_5"`
}

// NewSectionScore builds a SectionScore and derives its weighted total.
func NewSectionScore(section SectionType, criteria []CriterionScore) SectionScore {
	s := SectionScore{Section: section, Criteria: criteria}
	s.TotalScore0to5 = s.WeightedTotal()
	return s
}

// WeightedTotal returns the sum of score*weight over the section's criteria.
func (s SectionScore) WeightedTotal() float64 {
	var total float64
	for _, c := range s.Criteria {
		total += float64(c.Score0to5) * c.Weight0to1
	}
	return total
}

// SectionScoreKey is the primary key of a cached section score.
type SectionScoreKey struct {
	CVID    string      `json:"cv_id"`
	Section SectionType `json:"section_type"`
}

// String renders the key for logs and cache keys.
func (k SectionScoreKey) String() string {
	return k.CVID + ":" + string(k.Section)
}

// SectionScoreResult is the memoised score of one CV section against one rubric.
// A row is fresh only while both hashes match the current rubric and content.
type SectionScoreResult struct {
	CVID        string       `json:"cv_id"        db:"cv_id"`
	Section     SectionType  `json:"section_type" db:"section_type"`
	JDHash      string       `json:"jd_hash"      db:"jd_hash"`
	ContentHash string       `json:"content_hash" db:"content_hash"`
	Score       SectionScore `json:"score"        db:"score"`
	CreatedAt   time.Time    `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"   db:"updated_at"`
}

// Key returns the primary key of the row.
func (r *SectionScoreResult) Key() SectionScoreKey {
	return SectionScoreKey{CVID: r.CVID, Section: r.Section}
}

// Matches reports whether the row was computed from the given rubric and content hashes.
func (r *SectionScoreResult) Matches(jdHash, contentHash string) bool {
	return r != nil && r.JDHash == jdHash && r.ContentHash == contentHash
}
