package assessment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed assessment repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const assessmentCols = `id, patient_id, funnel_slug, legacy_funnel_id, status,
	workup_status, missing_data_fields, started_at, completed_at, created_at, updated_at`

func scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	err := row.Scan(&a.ID, &a.PatientID, &a.FunnelSlug, &a.LegacyFunnelID, &a.Status,
		&a.WorkupStatus, &a.MissingDataFields, &a.StartedAt, &a.CompletedAt,
		&a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Assessment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assessment (id, patient_id, funnel_slug, legacy_funnel_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.PatientID, a.FunnelSlug, a.LegacyFunnelID, a.Status, a.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: the partial unique index on one in_progress assessment
		// per (patient, funnel).
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateInProgress
		}
		return err
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	a, err := scanAssessment(r.pool.QueryRow(ctx, `
		SELECT `+assessmentCols+` FROM assessment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM assessment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+assessmentCols+`
		FROM assessment
		WHERE patient_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *repoPG) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE assessment
		SET status = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, StatusCompleted, completedAt, StatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) UpsertAnswer(ctx context.Context, ans *Answer) error {
	if ans.ID == uuid.Nil {
		ans.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assessment_answer (id, assessment_id, question_id, question_key, value, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (assessment_id, question_id)
		DO UPDATE SET question_key = EXCLUDED.question_key,
			value = EXCLUDED.value,
			answered_at = EXCLUDED.answered_at`,
		ans.ID, ans.AssessmentID, ans.QuestionID, ans.QuestionKey, ans.Value, ans.AnsweredAt)
	return err
}

func (r *repoPG) AnswersFor(ctx context.Context, assessmentID uuid.UUID) ([]*Answer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, assessment_id, question_id, question_key, value, answered_at
		FROM assessment_answer
		WHERE assessment_id = $1
		ORDER BY answered_at ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Answer
	for rows.Next() {
		var ans Answer
		if err := rows.Scan(&ans.ID, &ans.AssessmentID, &ans.QuestionID, &ans.QuestionKey,
			&ans.Value, &ans.AnsweredAt); err != nil {
			return nil, err
		}
		out = append(out, &ans)
	}
	return out, rows.Err()
}

func (r *repoPG) SetWorkupStatus(ctx context.Context, id uuid.UUID, status string, missingDataFields []string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE assessment
		SET workup_status = $2, missing_data_fields = $3, updated_at = NOW()
		WHERE id = $1`,
		id, status, missingDataFields)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
