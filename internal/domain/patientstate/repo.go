package patientstate

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no state document exists for a patient yet.
var ErrNotFound = errors.New("patientstate: no document for patient")

// Repository reads and replaces whole state documents. Put is a full
// document replace (version bumped per write), so a failed write can never
// leave a half-merged document visible. Concurrent writers still race
// last-write-wins; accepted for a UI convenience aggregate.
type Repository interface {
	Get(ctx context.Context, patientID uuid.UUID) (*State, error)
	Put(ctx context.Context, patientID uuid.UUID, doc *Document) error
}
