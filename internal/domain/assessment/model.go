// Package assessment implements the assessment lifecycle and its completion
// pipeline: answer capture, required-question validation, the one-shot
// completed transition, and the fire-and-forget stages that hang off it.
package assessment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Assessment statuses. An assessment is created in_progress and makes a
// single one-way transition to completed.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Assessment is one patient's run through a funnel. It is the source of
// truth for completion; patient-state documents and workup routing are
// derived views.
type Assessment struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patientId"`
	FunnelSlug        string     `db:"funnel_slug" json:"funnelSlug"`
	LegacyFunnelID    *uuid.UUID `db:"legacy_funnel_id" json:"legacyFunnelId,omitempty"`
	Status            string     `db:"status" json:"status"`
	WorkupStatus      *string    `db:"workup_status" json:"workupStatus,omitempty"`
	MissingDataFields []string   `db:"missing_data_fields" json:"missingDataFields,omitempty"`
	StartedAt         time.Time  `db:"started_at" json:"startedAt"`
	CompletedAt       *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updatedAt"`
}

// FunnelRef identifies which sourcing mode an assessment's funnel uses.
// Exactly two implementations exist: CatalogRef and LegacyRef. Deriving the
// union once, instead of re-checking the nullable legacy id at each use
// site, keeps the strategy choice in one place.
type FunnelRef interface {
	funnelRef()
	Slug() string
}

// CatalogRef points at a catalog funnel whose layout comes from a manifest
// document.
type CatalogRef struct {
	FunnelSlug string
}

func (CatalogRef) funnelRef()     {}
func (r CatalogRef) Slug() string { return r.FunnelSlug }

// LegacyRef points at a legacy funnel whose layout lives in the relational
// step/question schema.
type LegacyRef struct {
	FunnelSlug string
	FunnelID   uuid.UUID
}

func (LegacyRef) funnelRef()     {}
func (r LegacyRef) Slug() string { return r.FunnelSlug }

// FunnelRef derives the tagged funnel reference from the persisted fields:
// a set legacy funnel id means legacy sourcing, a null one means catalog.
func (a *Assessment) FunnelRef() FunnelRef {
	if a.LegacyFunnelID != nil {
		return LegacyRef{FunnelSlug: a.FunnelSlug, FunnelID: *a.LegacyFunnelID}
	}
	return CatalogRef{FunnelSlug: a.FunnelSlug}
}

// Answer is one captured response, unique per (assessment, question).
// Re-answering replaces the value.
type Answer struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	AssessmentID uuid.UUID       `db:"assessment_id" json:"assessmentId"`
	QuestionID   string          `db:"question_id" json:"questionId"`
	QuestionKey  string          `db:"question_key" json:"questionKey"`
	Value        json.RawMessage `db:"value" json:"value"`
	AnsweredAt   time.Time       `db:"answered_at" json:"answeredAt"`
}

// CompletionResult is what the completion pipeline hands back on success.
type CompletionResult struct {
	AssessmentID     uuid.UUID
	Status           string
	Message          string
	AlreadyCompleted bool
}
