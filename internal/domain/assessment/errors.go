package assessment

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the assessment does not exist, or does
	// not belong to the funnel slug it was addressed under.
	ErrNotFound = errors.New("assessment: not found")

	// ErrForbidden is returned when the caller's patient profile does not
	// own the assessment.
	ErrForbidden = errors.New("assessment: not owned by caller")

	// ErrNotInProgress is returned when the completed transition loses the
	// conditional update, or the assessment is otherwise not in a
	// completable state.
	ErrNotInProgress = errors.New("assessment: not in progress")

	// ErrDuplicateInProgress is returned when the patient already has an
	// in-progress assessment for the funnel.
	ErrDuplicateInProgress = errors.New("assessment: in-progress assessment already exists for funnel")

	// ErrUnknownQuestion is returned when an answer addresses a question id
	// that the funnel's layout does not contain.
	ErrUnknownQuestion = errors.New("assessment: question not in funnel")
)

// ValidationError carries the full set of unanswered required questions.
// Every missing question is enumerated, never just the first.
type ValidationError struct {
	MissingQuestions []MissingQuestion
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("assessment: %d required question(s) unanswered", len(e.MissingQuestions))
}
