package patientstate

import (
	"time"

	"github.com/google/uuid"
)

// ActivityCap bounds the activity log. Older entries are dropped, not
// archived; the Assessment table remains the source of truth.
const ActivityCap = 10

// Activity is one entry in the newest-first activity log.
type Activity struct {
	Type         string    `json:"type"`
	AssessmentID uuid.UUID `json:"assessmentId"`
	FunnelSlug   string    `json:"funnelSlug"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// ActivityLog is a fixed-capacity, newest-first log of patient activity.
type ActivityLog []Activity

// Prepend inserts a at the head and truncates to ActivityCap entries.
func (l ActivityLog) Prepend(a Activity) ActivityLog {
	out := make(ActivityLog, 0, min(len(l)+1, ActivityCap))
	out = append(out, a)
	for _, e := range l {
		if len(out) == ActivityCap {
			break
		}
		out = append(out, e)
	}
	return out
}

// AssessmentSummary is the last-assessment snapshot shown on dashboards.
// It is overwritten wholesale on each completion, never merged field by
// field.
type AssessmentSummary struct {
	LastAssessmentID uuid.UUID  `json:"lastAssessmentId"`
	Status           string     `json:"status"`
	Progress         float64    `json:"progress"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// Document is the denormalized per-patient state aggregate. results, dialog,
// and metrics belong to other pipelines; writers here must carry them
// through untouched.
type Document struct {
	Activity   ActivityLog            `json:"activity"`
	Assessment *AssessmentSummary     `json:"assessment,omitempty"`
	Results    map[string]interface{} `json:"results"`
	Dialog     map[string]interface{} `json:"dialog"`
	Metrics    map[string]interface{} `json:"metrics"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// NewDocument returns a document with every top-level section at its empty
// default, ready for a first merge.
func NewDocument() *Document {
	return &Document{
		Activity: ActivityLog{},
		Results:  map[string]interface{}{},
		Dialog:   map[string]interface{}{},
		Metrics:  map[string]interface{}{},
	}
}

// State is a stored document plus its version counter.
type State struct {
	PatientID uuid.UUID `json:"patient_id"`
	Version   int       `json:"patient_state_version"`
	Document  *Document `json:"document"`
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
