package funnel

import (
	"time"

	"github.com/google/uuid"
)

// Funnel is one questionnaire definition in the catalog. Catalog funnels
// resolve their step/question layout from a manifest document at read time;
// legacy funnels carry a fixed relational step/question schema and are
// referenced by ID from assessments.
type Funnel struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Slug      string    `db:"slug" json:"slug"`
	Title     string    `db:"title" json:"title"`
	Legacy    bool      `db:"legacy" json:"legacy"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Manifest is the ordered step/question layout of a funnel. Catalog funnels
// store it as an externally authored JSON document; for legacy funnels an
// equivalent Manifest is assembled from the relational schema so both
// sourcing modes expose one shape.
type Manifest struct {
	Slug    string `json:"slug"`
	Version int    `json:"version"`
	Steps   []Step `json:"steps"`
}

// Step is one screen of questions presented in order.
type Step struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Question is a single prompt within a step.
type Question struct {
	ID       string `json:"id"`
	Key      string `json:"key"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// RequiredCount returns the number of required questions across all steps.
func (m *Manifest) RequiredCount() int {
	n := 0
	for _, s := range m.Steps {
		for _, q := range s.Questions {
			if q.Required {
				n++
			}
		}
	}
	return n
}

// QuestionKeys returns question id -> key for every question in the
// manifest, in no particular order.
func (m *Manifest) QuestionKeys() map[string]string {
	keys := make(map[string]string)
	for _, s := range m.Steps {
		for _, q := range s.Questions {
			keys[q.ID] = q.Key
		}
	}
	return keys
}
