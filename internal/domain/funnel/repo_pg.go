package funnel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const funnelCols = `id, slug, title, legacy, active, created_at`

func (r *repoPG) scan(row pgx.Row) (*Funnel, error) {
	var f Funnel
	err := row.Scan(&f.ID, &f.Slug, &f.Title, &f.Legacy, &f.Active, &f.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return &f, err
}

// GetBySlug resolves inactive funnels too; callers that require an active
// funnel (starting an assessment) enforce that themselves, and existing
// assessments keep resolving their layout after a funnel is retired.
func (r *repoPG) GetBySlug(ctx context.Context, slug string) (*Funnel, error) {
	return r.scan(r.pool.QueryRow(ctx,
		`SELECT `+funnelCols+` FROM funnel WHERE slug = $1`, slug))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Funnel, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM funnel WHERE active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+funnelCols+` FROM funnel WHERE active ORDER BY slug LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Funnel
	for rows.Next() {
		f, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, nil
}

// manifestLoaderPG loads catalog manifests from the funnel_manifest table.
// The newest version for a slug wins; the stored document is schema-checked
// on every load so a bad authoring push surfaces as a load error rather than
// an empty questionnaire.
type manifestLoaderPG struct{ pool *pgxpool.Pool }

func NewManifestLoaderPG(pool *pgxpool.Pool) ManifestLoader {
	return &manifestLoaderPG{pool: pool}
}

const manifestQuery = `
	SELECT document FROM funnel_manifest
	WHERE funnel_slug = $1 ORDER BY version DESC LIMIT 1`

func (l *manifestLoaderPG) Load(ctx context.Context, slug string) (*Manifest, error) {
	var doc []byte
	err := l.pool.QueryRow(ctx, manifestQuery, slug).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", slug, err)
	}
	if err := ValidateManifestDocument(doc); err != nil {
		return nil, fmt.Errorf("manifest %q: %w", slug, err)
	}
	var m Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %q: %w", slug, err)
	}
	return &m, nil
}

// legacyRepoPG reads the relational step/question schema of legacy funnels.
type legacyRepoPG struct{ pool *pgxpool.Pool }

func NewLegacyRepoPG(pool *pgxpool.Pool) LegacyRepository {
	return &legacyRepoPG{pool: pool}
}

func (r *legacyRepoPG) Steps(ctx context.Context, funnelID uuid.UUID) ([]Step, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.title, q.id, q.question_key, q.label, q.question_type, q.required
		FROM funnel_step s
		JOIN funnel_question q ON q.step_id = s.id
		WHERE s.funnel_id = $1
		ORDER BY s.order_index, q.order_index`, funnelID)
	if err != nil {
		return nil, fmt.Errorf("load legacy steps: %w", err)
	}
	defer rows.Close()

	var (
		steps   []Step
		current *Step
	)
	for rows.Next() {
		var (
			stepID, stepTitle string
			q                 Question
		)
		if err := rows.Scan(&stepID, &stepTitle, &q.ID, &q.Key, &q.Label, &q.Type, &q.Required); err != nil {
			return nil, err
		}
		if current == nil || current.ID != stepID {
			steps = append(steps, Step{ID: stepID, Title: stepTitle})
			current = &steps[len(steps)-1]
		}
		current.Questions = append(current.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrNotFound
	}
	return steps, nil
}
