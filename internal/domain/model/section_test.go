package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectionType_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    SectionType
		wantErr bool
	}{
		{in: "skills", want: SectionSkills},
		{in: "Experience", want: SectionExperience},
		{in: " CERTIFICATIONS ", want: SectionCertifications},
		{in: "hobbies", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got SectionType
			err := got.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSectionType_JSONMapKeys(t *testing.T) {
	var cv CVSections
	err := json.Unmarshal([]byte(`{"cv_id":"cv-1","sections":{"Skills":["go"],"summary":"hi"}}`), &cv)
	require.NoError(t, err)

	assert.Len(t, cv.Sections, 2)
	assert.JSONEq(t, `["go"]`, string(cv.Sections[SectionSkills]))
	assert.JSONEq(t, `"hi"`, string(cv.Sections[SectionSummary]))
}

func TestSectionScore_WeightedTotal(t *testing.T) {
	score := NewSectionScore(SectionSkills, []CriterionScore{
		{Key: "depth", Score0to5: 4, Weight0to1: 0.5},
		{Key: "breadth", Score0to5: 2, Weight0to1: 0.25},
		{Key: "relevance", Score0to5: 5, Weight0to1: 0.25},
	})

	assert.InDelta(t, 3.75, score.TotalScore0to5, 1e-9)
	assert.InDelta(t, score.TotalScore0to5, score.WeightedTotal(), 1e-9)
	assert.Zero(t, NewSectionScore(SectionSkills, nil).TotalScore0to5)
}

func TestSectionScoreResult_Matches(t *testing.T) {
	row := &SectionScoreResult{CVID: "cv-1", Section: SectionSkills, JDHash: "jd", ContentHash: "c"}

	assert.True(t, row.Matches("jd", "c"))
	assert.False(t, row.Matches("jd2", "c"))
	assert.False(t, row.Matches("jd", "c2"))

	var missing *SectionScoreResult
	assert.False(t, missing.Matches("jd", "c"))

	assert.Equal(t, "cv-1:skills", row.Key().String())
}

func TestRubric_Section(t *testing.T) {
	r := &Rubric{Sections: map[SectionType]SectionRubric{
		SectionSkills: {Section: SectionSkills, Criteria: []Criterion{{Key: "depth", Weight: 1}}},
	}}

	got, ok := r.Section(SectionSkills)
	require.True(t, ok)
	assert.Len(t, got.Criteria, 1)

	_, ok = r.Section(SectionEducation)
	assert.False(t, ok)

	var nilRubric *Rubric
	_, ok = nilRubric.Section(SectionSkills)
	assert.False(t, ok)
}
