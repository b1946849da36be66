// Package analysis drives the two-tier paper analysis state machine: a fast
// at-a-glance pass generated on first request, and a deep per-section pass
// computed only when explicitly asked for. Results are cached under versioned
// keys; identical content with identical prompt/model versions never pays for
// a second model call.
package analysis

import (
	"time"

	"github.com/paperlens/paperlens/internal/paper"
)

// FastAnalysis is the at-a-glance summary generated from a short prefix of
// the paper. All fields are plain prose aimed at a skimming reader.
type FastAnalysis struct {
	Title        string   `json:"title"`
	Authors      []string `json:"authors"`
	Affiliations []string `json:"affiliations"`

	Abstract string   `json:"abstract"`
	Keywords []string `json:"keywords"`

	Introduction     string   `json:"introduction"`
	RelatedWork      string   `json:"related_work"`
	ProblemStatement string   `json:"problem_statement"`
	Methodology      string   `json:"methodology"`
	Results          string   `json:"results"`
	Discussion       string   `json:"discussion"`
	Limitations      []string `json:"limitations"`
	FutureWork       []string `json:"future_work"`
	Conclusion       string   `json:"conclusion"`
}

// DeepAnalysis is the comprehensive per-section analysis generated from a
// larger text prefix on explicit request.
type DeepAnalysis struct {
	Introduction         string `json:"introduction"`
	RelatedWork          string `json:"related_work"`
	ProblemStatement     string `json:"problem_statement"`
	Methodology          string `json:"methodology"`
	Results              string `json:"results"`
	Discussion           string `json:"discussion"`
	Limitations          string `json:"limitations"`
	ConclusionFutureWork string `json:"conclusion_future_work"`
}

// Record is a paper's analysis as returned to callers. Deep is nil until
// computed; computing it never touches the fast fields.
type Record struct {
	Paper         paper.Metadata `json:"paper"`
	Fast          FastAnalysis   `json:"fast"`
	Deep          *DeepAnalysis  `json:"deep,omitempty"`
	GeneratedAt   time.Time      `json:"generated_at"`
	SchemaVersion string         `json:"schema_version"`
	ModelTag      string         `json:"model_tag"`
}

const unavailable = "Unable to extract from document"

// fallbackFast is returned when extraction or generation is beyond saving.
// Narrative fields are explicitly marked unavailable rather than left blank
// so clients can render something honest.
func fallbackFast() FastAnalysis {
	return FastAnalysis{
		Title:            "Unable to extract title",
		Authors:          []string{"Unknown"},
		Affiliations:     []string{"Unknown"},
		Abstract:         unavailable,
		Keywords:         []string{},
		Introduction:     unavailable,
		RelatedWork:      unavailable,
		ProblemStatement: unavailable,
		Methodology:      unavailable,
		Results:          unavailable,
		Discussion:       unavailable,
		Limitations:      []string{unavailable},
		FutureWork:       []string{unavailable},
		Conclusion:       unavailable,
	}
}

const deepUnavailable = "The analysis could not be generated due to technical issues. Please try again."

func fallbackDeep() DeepAnalysis {
	return DeepAnalysis{
		Introduction:         deepUnavailable,
		RelatedWork:          deepUnavailable,
		ProblemStatement:     deepUnavailable,
		Methodology:          deepUnavailable,
		Results:              deepUnavailable,
		Discussion:           deepUnavailable,
		Limitations:          deepUnavailable,
		ConclusionFutureWork: deepUnavailable,
	}
}
