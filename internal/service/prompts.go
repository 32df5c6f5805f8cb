package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cvforge/cv-engine/internal/domain/model"
)

// Response schemas sent with each prompt. Providers that support structured
// output constrain their answer to them; the parsers below do not rely on that.
var (
	structureSchema = json.RawMessage(`{
  "type": "object",
  "required": ["sections"],
  "properties": {
    "sections": {
      "type": "object",
      "description": "Keys are section names: contact, summary, skills, experience, projects, education, certifications.",
      "additionalProperties": {}
    }
  }
}`)

	rubricSchema = json.RawMessage(`{
  "type": "object",
  "required": ["sections"],
  "properties": {
    "sections": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["criteria"],
        "properties": {
          "criteria": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["key", "description", "weight"],
              "properties": {
                "key": {"type": "string"},
                "description": {"type": "string"},
                "weight": {"type": "number", "minimum": 0},
                "levels": {"type": "array", "items": {"type": "string"}, "maxItems": 6}
              }
            }
          }
        }
      }
    }
  }
}`)

	sectionScoreSchema = json.RawMessage(`{
  "type": "object",
  "required": ["criteria"],
  "properties": {
    "criteria": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["key", "score"],
        "properties": {
          "key": {"type": "string"},
          "score": {"type": "integer", "minimum": 0, "maximum": 5},
          "rationale": {"type": "string"}
        }
      }
    }
  }
}`)
)

// StructureSchema returns the response schema for CV structuring.
func StructureSchema() json.RawMessage { return structureSchema }

// RubricSchema returns the response schema for rubric generation.
func RubricSchema() json.RawMessage { return rubricSchema }

// SectionScoreSchema returns the response schema for section scoring.
func SectionScoreSchema() json.RawMessage { return sectionScoreSchema }

// BuildStructurePrompt asks the provider to split raw CV text into sections.
func BuildStructurePrompt(rawText string) string {
	var b strings.Builder
	b.WriteString("Split the following CV into structured sections.\n")
	b.WriteString("Use only these section names: ")
	b.WriteString(sectionNames())
	b.WriteString(".\nOmit sections that are not present. Keep the candidate's wording; do not invent facts.\n")
	b.WriteString("Respond with JSON matching the provided schema.\n\n")
	b.WriteString("CV:\n")
	b.WriteString(strings.TrimSpace(rawText))
	b.WriteString("\n")
	return b.String()
}

// BuildRubricPrompt asks the provider for weighted criteria per section.
func BuildRubricPrompt(jobDescription string) string {
	var b strings.Builder
	b.WriteString("Derive a scoring rubric for CVs from the job description below.\n")
	b.WriteString("For each relevant section (")
	b.WriteString(sectionNames())
	b.WriteString(") list the criteria a strong candidate meets.\n")
	b.WriteString("Give every criterion a short snake_case key, a description and a relative weight. ")
	b.WriteString("Optionally describe what scores 0 to 5 mean in levels.\n")
	b.WriteString("Respond with JSON matching the provided schema.\n\n")
	b.WriteString("Job description:\n")
	b.WriteString(strings.TrimSpace(jobDescription))
	b.WriteString("\n")
	return b.String()
}

// BuildSectionScorePrompt asks the provider to score one section against its rubric.
func BuildSectionScorePrompt(section model.SectionType, rubric model.SectionRubric, content json.RawMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score the %s section of a CV against each criterion below.\n", section)
	b.WriteString("Use integer scores from 0 (absent) to 5 (exceptional) and give a one sentence rationale.\n")
	b.WriteString("Return exactly one entry per criterion key.\n\n")
	b.WriteString("Criteria:\n")
	for _, c := range rubric.Criteria {
		fmt.Fprintf(&b, "- %s: %s\n", c.Key, c.Description)
		for score, level := range c.Levels {
			fmt.Fprintf(&b, "    %d = %s\n", score, level)
		}
	}
	b.WriteString("\nSection content (JSON):\n")
	b.Write(content)
	b.WriteString("\n")
	return b.String()
}

func sectionNames() string {
	types := model.AllSectionTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
