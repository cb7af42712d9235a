package patientstate

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

func (r *repoPG) Get(ctx context.Context, patientID uuid.UUID) (*State, error) {
	var (
		raw     []byte
		version int
	)
	err := r.pool.QueryRow(ctx, `
		SELECT document, patient_state_version FROM patient_state WHERE patient_id = $1`,
		patientID).Scan(&raw, &version)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load patient state: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode patient state: %w", err)
	}
	return &State{PatientID: patientID, Version: version, Document: &doc}, nil
}

func (r *repoPG) Put(ctx context.Context, patientID uuid.UUID, doc *Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode patient state: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO patient_state (patient_id, document, patient_state_version)
		VALUES ($1, $2, 1)
		ON CONFLICT (patient_id) DO UPDATE
		SET document = EXCLUDED.document,
			patient_state_version = patient_state.patient_state_version + 1`,
		patientID, raw)
	if err != nil {
		return fmt.Errorf("store patient state: %w", err)
	}
	return nil
}
