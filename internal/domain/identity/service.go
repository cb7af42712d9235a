package identity

import (
	"context"
	"fmt"
)

type Service struct {
	profiles ProfileRepository
}

func NewService(profiles ProfileRepository) *Service {
	return &Service{profiles: profiles}
}

// ResolveBySubject maps an authenticated subject to its patient profile.
// Callers treat ErrNotFound as a hard failure: no pipeline runs without a
// resolved profile.
func (s *Service) ResolveBySubject(ctx context.Context, subject string) (*PatientProfile, error) {
	if subject == "" {
		return nil, ErrNotFound
	}
	return s.profiles.GetBySubject(ctx, subject)
}

// Register creates a profile for a subject that does not yet have one.
func (s *Service) Register(ctx context.Context, p *PatientProfile) error {
	if p.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if p.GivenName == "" && p.FamilyName == "" {
		return fmt.Errorf("a name is required")
	}
	if existing, err := s.profiles.GetBySubject(ctx, p.Subject); err == nil && existing != nil {
		return fmt.Errorf("profile already exists for subject")
	}
	return s.profiles.Create(ctx, p)
}
