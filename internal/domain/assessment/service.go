package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/assessly/assessly/internal/domain/funnel"
	"github.com/assessly/assessly/internal/platform/telemetry"
)

// FunnelCatalog resolves funnel definitions and layouts. Satisfied by
// funnel.Service.
type FunnelCatalog interface {
	GetBySlug(ctx context.Context, slug string) (*funnel.Funnel, error)
	Manifest(ctx context.Context, slug string) (*funnel.Manifest, error)
}

// StateRecorder merges completion events into the patient-state aggregate.
// Satisfied by patientstate.Service.
type StateRecorder interface {
	RecordAssessmentCompleted(ctx context.Context, patientID, assessmentID uuid.UUID, slug string, completedAt time.Time) error
}

// WorkupScheduler starts a detached workup determination. Satisfied by
// workup.Service.
type WorkupScheduler interface {
	Schedule(assessmentID uuid.UUID, funnelSlug string)
}

// TelemetrySink receives pipeline events and the completion-duration KPI.
// Satisfied by telemetry.Provider.
type TelemetrySink interface {
	Emit(ev telemetry.Event)
	ObserveCompletionDuration(funnelSlug string, d time.Duration)
}

// Service runs the assessment lifecycle, including the completion pipeline.
type Service struct {
	repo      Repository
	funnels   FunnelCatalog
	validator Validator
	states    StateRecorder
	workups   WorkupScheduler
	sink      TelemetrySink
	logger    zerolog.Logger
	nowFunc   func() time.Time
}

func NewService(repo Repository, funnels FunnelCatalog, validator Validator,
	states StateRecorder, workups WorkupScheduler, sink TelemetrySink,
	logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		funnels:   funnels,
		validator: validator,
		states:    states,
		workups:   workups,
		sink:      sink,
		logger:    logger.With().Str("component", "assessment").Logger(),
		nowFunc:   time.Now,
	}
}

// Start opens a new in-progress assessment for the patient on the funnel.
func (s *Service) Start(ctx context.Context, patientID uuid.UUID, slug string) (*Assessment, error) {
	f, err := s.funnels.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, funnel.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !f.Active {
		return nil, ErrNotFound
	}

	a := &Assessment{
		PatientID:  patientID,
		FunnelSlug: slug,
		Status:     StatusInProgress,
		StartedAt:  s.nowFunc(),
	}
	if f.Legacy {
		id := f.ID
		a.LegacyFunnelID = &id
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get loads an assessment the patient owns.
func (s *Service) Get(ctx context.Context, patientID, assessmentID uuid.UUID) (*Assessment, error) {
	a, err := s.repo.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if a.PatientID != patientID {
		return nil, ErrForbidden
	}
	return a, nil
}

// List returns the patient's assessments, newest first.
func (s *Service) List(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// UpsertAnswer records or replaces one answer on an in-progress assessment.
// The question must exist in the funnel's layout.
func (s *Service) UpsertAnswer(ctx context.Context, patientID, assessmentID uuid.UUID, questionID string, value json.RawMessage) (*Answer, error) {
	a, err := s.Get(ctx, patientID, assessmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusInProgress {
		return nil, ErrNotInProgress
	}

	m, err := s.funnels.Manifest(ctx, a.FunnelSlug)
	if err != nil {
		return nil, fmt.Errorf("resolve layout for %q: %w", a.FunnelSlug, err)
	}
	key, ok := m.QuestionKeys()[questionID]
	if !ok {
		return nil, ErrUnknownQuestion
	}

	ans := &Answer{
		AssessmentID: assessmentID,
		QuestionID:   questionID,
		QuestionKey:  key,
		Value:        value,
		AnsweredAt:   s.nowFunc(),
	}
	if err := s.repo.UpsertAnswer(ctx, ans); err != nil {
		return nil, err
	}
	return ans, nil
}

// Complete runs the completion pipeline for one assessment. The completed
// status write is the only guarantee made to the caller; the four stages
// that follow it are best-effort and run after the outcome is already
// decided.
func (s *Service) Complete(ctx context.Context, patientID uuid.UUID, slug string, assessmentID uuid.UUID) (*CompletionResult, error) {
	a, err := s.repo.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	// Addressed under the wrong funnel means the resource does not exist
	// at this path.
	if a.FunnelSlug != slug {
		return nil, ErrNotFound
	}
	if a.PatientID != patientID {
		return nil, ErrForbidden
	}

	// Domain-level idempotence: an already-completed assessment is a safe
	// success regardless of idempotency keys. Validation and side effects
	// never re-run.
	if a.Status == StatusCompleted {
		return &CompletionResult{
			AssessmentID:     a.ID,
			Status:           StatusCompleted,
			Message:          "Assessment already completed",
			AlreadyCompleted: true,
		}, nil
	}
	if a.Status != StatusInProgress {
		return nil, ErrNotInProgress
	}

	ref := a.FunnelRef()

	answers, err := s.repo.AnswersFor(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	result, err := s.validator.Validate(ctx, ref, answeredSet(answers))
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		return nil, &ValidationError{MissingQuestions: result.MissingQuestions}
	}

	completedAt := s.nowFunc()
	won, err := s.repo.MarkCompleted(ctx, assessmentID, completedAt)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the conditional update. Re-read: a concurrent completion is
		// the already-completed success, anything else is a state error.
		cur, err := s.repo.GetByID(ctx, assessmentID)
		if err != nil {
			return nil, err
		}
		if cur.Status == StatusCompleted {
			return &CompletionResult{
				AssessmentID:     cur.ID,
				Status:           StatusCompleted,
				Message:          "Assessment already completed",
				AlreadyCompleted: true,
			}, nil
		}
		return nil, ErrNotInProgress
	}

	s.runPostCompletion(ctx, a, completedAt)

	return &CompletionResult{AssessmentID: a.ID, Status: StatusCompleted}, nil
}

// runPostCompletion executes the four fire-and-forget stages in order. Each
// stage is independently recovered so a failure in one never prevents the
// next, and none of them can alter the already-decided response.
func (s *Service) runPostCompletion(ctx context.Context, a *Assessment, completedAt time.Time) {
	s.stage("telemetry", a.ID, func() error {
		s.sink.Emit(telemetry.Event{
			Name:       "assessment_completed",
			FunnelSlug: a.FunnelSlug,
			Subject:    a.PatientID.String(),
			Attributes: map[string]string{"assessment_id": a.ID.String()},
			OccurredAt: completedAt,
		})
		return nil
	})

	s.stage("kpi_duration", a.ID, func() error {
		// A zero or negative duration means a missing or skewed start
		// timestamp; omit it rather than report it.
		d := completedAt.Sub(a.StartedAt)
		if d > 0 {
			s.sink.ObserveCompletionDuration(a.FunnelSlug, d)
		}
		return nil
	})

	s.stage("patient_state", a.ID, func() error {
		return s.states.RecordAssessmentCompleted(ctx, a.PatientID, a.ID, a.FunnelSlug, completedAt)
	})

	s.stage("workup_schedule", a.ID, func() error {
		s.workups.Schedule(a.ID, a.FunnelSlug)
		return nil
	})
}

func (s *Service) stage(name string, assessmentID uuid.UUID, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("stage", name).
				Str("assessment_id", assessmentID.String()).
				Msg("post-completion stage panicked")
		}
	}()
	if err := fn(); err != nil {
		s.logger.Error().Err(err).
			Str("stage", name).
			Str("assessment_id", assessmentID.String()).
			Msg("post-completion stage failed")
	}
}

// EvidencePackFor assembles the answers of an assessment keyed by question
// key, the shape the workup evaluator consumes.
func (s *Service) EvidencePackFor(ctx context.Context, assessmentID uuid.UUID) (map[string]json.RawMessage, error) {
	answers, err := s.repo.AnswersFor(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	pack := make(map[string]json.RawMessage, len(answers))
	for _, ans := range answers {
		if ans.QuestionKey == "" {
			continue
		}
		pack[ans.QuestionKey] = ans.Value
	}
	return pack, nil
}

// SetWorkupStatus persists a workup verdict onto the assessment row.
func (s *Service) SetWorkupStatus(ctx context.Context, assessmentID uuid.UUID, status string, missingDataFields []string) error {
	return s.repo.SetWorkupStatus(ctx, assessmentID, status, missingDataFields)
}
