package identity

import (
	"time"

	"github.com/google/uuid"
)

// PatientProfile links an authenticated subject to a patient record. Every
// assessment is owned by a profile; ownership checks in the completion
// pipeline compare against this id, never against the raw auth subject.
type PatientProfile struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Subject    string     `db:"subject" json:"subject"`
	GivenName  string     `db:"given_name" json:"given_name"`
	FamilyName string     `db:"family_name" json:"family_name"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
