package patientstate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Service merges pipeline events into the per-patient state aggregate.
type Service struct {
	states  Repository
	nowFunc func() time.Time
}

func NewService(states Repository) *Service {
	return &Service{states: states, nowFunc: time.Now}
}

// RecordAssessmentCompleted merges an assessment_completed activity entry
// and a fresh assessment summary into the patient's document. A missing
// document is initialized, not an error. The read-modify-write is a single
// document replace; callers treat any failure as best-effort.
func (s *Service) RecordAssessmentCompleted(ctx context.Context, patientID, assessmentID uuid.UUID, slug string, completedAt time.Time) error {
	doc, err := s.load(ctx, patientID)
	if err != nil {
		return err
	}

	doc.Activity = doc.Activity.Prepend(Activity{
		Type:         "assessment_completed",
		AssessmentID: assessmentID,
		FunnelSlug:   slug,
		OccurredAt:   completedAt,
	})
	doc.Assessment = &AssessmentSummary{
		LastAssessmentID: assessmentID,
		Status:           "completed",
		Progress:         1.0,
		CompletedAt:      &completedAt,
	}
	doc.UpdatedAt = s.nowFunc()

	return s.states.Put(ctx, patientID, doc)
}

// Get returns the patient's state document, initializing an empty one for
// patients that have no activity yet.
func (s *Service) Get(ctx context.Context, patientID uuid.UUID) (*State, error) {
	st, err := s.states.Get(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return &State{PatientID: patientID, Version: 0, Document: NewDocument()}, nil
	}
	return st, err
}

func (s *Service) load(ctx context.Context, patientID uuid.UUID) (*Document, error) {
	st, err := s.states.Get(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, err
	}
	doc := st.Document
	// Older documents may predate a section; normalize so merges never
	// null out a sibling section.
	if doc.Activity == nil {
		doc.Activity = ActivityLog{}
	}
	if doc.Results == nil {
		doc.Results = map[string]interface{}{}
	}
	if doc.Dialog == nil {
		doc.Dialog = map[string]interface{}{}
	}
	if doc.Metrics == nil {
		doc.Metrics = map[string]interface{}{}
	}
	return doc, nil
}
