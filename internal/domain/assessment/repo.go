package assessment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists assessments and their answers.
type Repository interface {
	Create(ctx context.Context, a *Assessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error)

	// MarkCompleted performs the conditional completed transition: the row
	// is updated only if its status is still in_progress. Returns false
	// when the condition did not hold (some other request won the
	// transition, or the assessment was never in progress).
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error)

	// UpsertAnswer inserts an answer or replaces the value of an existing
	// one for the same (assessment, question).
	UpsertAnswer(ctx context.Context, ans *Answer) error
	AnswersFor(ctx context.Context, assessmentID uuid.UUID) ([]*Answer, error)

	// SetWorkupStatus writes the workup verdict onto the assessment row.
	SetWorkupStatus(ctx context.Context, id uuid.UUID, status string, missingDataFields []string) error
}
