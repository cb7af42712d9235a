package workup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EvidenceSource assembles the evidence pack for an assessment. Implemented
// by an adapter over the assessment store so the packages stay decoupled.
type EvidenceSource interface {
	EvidencePack(ctx context.Context, assessmentID uuid.UUID) (EvidencePack, error)
}

// StatusWriter persists the verdict onto the assessment record.
type StatusWriter interface {
	WriteWorkupStatus(ctx context.Context, assessmentID uuid.UUID, status string, missingDataFields []string) error
}

// Service runs workup determinations.
type Service struct {
	source   EvidenceSource
	writer   StatusWriter
	registry *Registry
	logger   zerolog.Logger
	timeout  time.Duration
}

// NewService wires a workup service. A nil registry gets the defaults.
func NewService(source EvidenceSource, writer StatusWriter, registry *Registry, logger zerolog.Logger) *Service {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Service{
		source:   source,
		writer:   writer,
		registry: registry,
		logger:   logger.With().Str("component", "workup").Logger(),
		timeout:  30 * time.Second,
	}
}

// Run performs one determination synchronously: assemble evidence, evaluate
// against the funnel's ruleset, persist the resulting status.
func (s *Service) Run(ctx context.Context, assessmentID uuid.UUID, funnelSlug string) (Verdict, error) {
	pack, err := s.source.EvidencePack(ctx, assessmentID)
	if err != nil {
		return Verdict{}, err
	}
	rs := s.registry.Resolve(funnelSlug)
	verdict := rs.Evaluate(pack)

	status := StatusNeedsMoreData
	if verdict.IsSufficient {
		status = StatusReadyForReview
	}
	if err := s.writer.WriteWorkupStatus(ctx, assessmentID, status, verdict.MissingDataFields); err != nil {
		return Verdict{}, err
	}

	s.logger.Info().
		Str("assessment_id", assessmentID.String()).
		Str("funnel_slug", funnelSlug).
		Str("ruleset", rs.ID).
		Str("workup_status", status).
		Int("missing_fields", len(verdict.MissingDataFields)).
		Msg("workup determination complete")
	return verdict, nil
}

// Schedule runs a determination on a detached goroutine with its own
// deadline, independent of the request that triggered it. Failures are
// logged and swallowed.
func (s *Service) Schedule(assessmentID uuid.UUID, funnelSlug string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Interface("panic", r).
					Str("assessment_id", assessmentID.String()).
					Msg("workup run panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Run(ctx, assessmentID, funnelSlug); err != nil {
			s.logger.Error().Err(err).
				Str("assessment_id", assessmentID.String()).
				Str("funnel_slug", funnelSlug).
				Msg("workup run failed")
		}
	}()
}
