package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepoPG{pool: pool}
}

const profileCols = `id, subject, given_name, family_name, birth_date, created_at, updated_at`

func (r *profileRepoPG) scan(row pgx.Row) (*PatientProfile, error) {
	var p PatientProfile
	err := row.Scan(&p.ID, &p.Subject, &p.GivenName, &p.FamilyName,
		&p.BirthDate, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *profileRepoPG) Create(ctx context.Context, p *PatientProfile) error {
	p.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient_profile (id, subject, given_name, family_name, birth_date)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.Subject, p.GivenName, p.FamilyName, p.BirthDate)
	return err
}

func (r *profileRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientProfile, error) {
	return r.scan(r.pool.QueryRow(ctx,
		`SELECT `+profileCols+` FROM patient_profile WHERE id = $1`, id))
}

func (r *profileRepoPG) GetBySubject(ctx context.Context, subject string) (*PatientProfile, error) {
	return r.scan(r.pool.QueryRow(ctx,
		`SELECT `+profileCols+` FROM patient_profile WHERE subject = $1`, subject))
}
