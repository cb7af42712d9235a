package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists idempotency records in PostgreSQL. The unique constraint
// on (endpoint, idem_key) makes the initial insert a distributed mutex: the
// request whose INSERT lands owns the reservation, every other request sees
// the row and either replays the completed record or backs off.
type PGStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPGStore builds a store whose reservations expire after ttl; a
// non-positive ttl falls back to DefaultTTL. The ttl bounds how long an
// abandoned reservation can block retries of the same key.
func NewPGStore(pool *pgxpool.Pool, ttl time.Duration) *PGStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PGStore{pool: pool, ttl: ttl}
}

func (s *PGStore) Reserve(ctx context.Context, endpoint, key string) (*Record, error) {
	ttlDeadline := time.Now().Add(s.ttl)
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_key (endpoint, idem_key, completed, created_at, expires_at)
		VALUES ($1, $2, false, NOW(), $3)
		ON CONFLICT (endpoint, idem_key) DO NOTHING`,
		endpoint, key, ttlDeadline)
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	var (
		rec       Record
		completed bool
		headers   []byte
	)
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(body_hash, ''), COALESCE(status_code, 0), headers, body, completed, created_at, expires_at
		FROM idempotency_key WHERE endpoint = $1 AND idem_key = $2`,
		endpoint, key).Scan(&rec.BodyHash, &rec.StatusCode, &headers, &rec.Body,
		&completed, &rec.CreatedAt, &rec.ExpiresAt)
	if err == pgx.ErrNoRows {
		// The winner released between our insert and read; claim it now.
		return s.Reserve(ctx, endpoint, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}

	if time.Now().After(rec.ExpiresAt) {
		_, _ = s.pool.Exec(ctx,
			`DELETE FROM idempotency_key WHERE endpoint = $1 AND idem_key = $2 AND expires_at < NOW()`,
			endpoint, key)
		return s.Reserve(ctx, endpoint, key)
	}
	if !completed {
		return nil, ErrInFlight
	}

	rec.Endpoint = endpoint
	rec.Key = key
	rec.Header = make(http.Header)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &rec.Header); err != nil {
			return nil, fmt.Errorf("decode idempotency headers: %w", err)
		}
	}
	return &rec, nil
}

func (s *PGStore) Complete(ctx context.Context, endpoint, key string, rec *Record) error {
	headers, err := json.Marshal(rec.Header)
	if err != nil {
		return fmt.Errorf("encode idempotency headers: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE idempotency_key
		SET body_hash = $3, status_code = $4, headers = $5, body = $6,
			completed = true, expires_at = $7
		WHERE endpoint = $1 AND idem_key = $2`,
		endpoint, key, rec.BodyHash, rec.StatusCode, headers, rec.Body, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

func (s *PGStore) Release(ctx context.Context, endpoint, key string) {
	_, _ = s.pool.Exec(ctx,
		`DELETE FROM idempotency_key WHERE endpoint = $1 AND idem_key = $2 AND NOT completed`,
		endpoint, key)
}
