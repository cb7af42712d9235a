package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no profile exists for a lookup.
var ErrNotFound = errors.New("identity: profile not found")

type ProfileRepository interface {
	Create(ctx context.Context, p *PatientProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientProfile, error)
	GetBySubject(ctx context.Context, subject string) (*PatientProfile, error)
}
