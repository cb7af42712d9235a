// Package idempotency deduplicates retried write requests. A caller that
// supplies an Idempotency-Key header gets the first response for that key
// replayed verbatim on every retry instead of re-running the handler's side
// effects. Records are scoped by (endpoint path, key), and reservation of a
// key doubles as a mutex: of two concurrent requests sharing a key, exactly
// one executes the handler while the other waits for its cached result.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/assessly/assessly/pkg/respond"
)

// DefaultTTL is how long cached responses are retained. 24 hours covers
// client retry windows for transient network failures.
const DefaultTTL = 24 * time.Hour

// ErrInFlight is returned by Store.Reserve when another request currently
// holds the reservation for the same (endpoint, key).
var ErrInFlight = errors.New("idempotency: key reservation held by another request")

// Record is a cached response for one (endpoint, key) pair.
type Record struct {
	Endpoint   string      `json:"endpoint"`
	Key        string      `json:"key"`
	BodyHash   string      `json:"body_hash"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// Store persists idempotency records. Implementations must be safe for
// concurrent use and must make Reserve atomic: at most one caller may hold
// a reservation for a given (endpoint, key) at a time.
type Store interface {
	// Reserve attempts to claim (endpoint, key). It returns the completed
	// record if one exists, (nil, nil) when the caller now holds a fresh
	// reservation, or ErrInFlight when a concurrent holder owns the key.
	Reserve(ctx context.Context, endpoint, key string) (*Record, error)
	// Complete stores the response for a held reservation.
	Complete(ctx context.Context, endpoint, key string, rec *Record) error
	// Release abandons a held reservation without storing a response, so a
	// later retry can execute the handler again.
	Release(ctx context.Context, endpoint, key string)
}

// Config controls the middleware.
type Config struct {
	// Header names the request header carrying the key. Defaults to
	// "Idempotency-Key".
	Header string
	// TTL bounds how long records are retained. Defaults to DefaultTTL.
	TTL time.Duration
	// CheckPayloadConflict rejects a replay whose body differs from the
	// original request with the same key, instead of silently returning the
	// old response. Leave false for endpoints that take no body.
	CheckPayloadConflict bool
	// WaitInterval and WaitTimeout govern how long a losing concurrent
	// request polls for the winner's cached result.
	WaitInterval time.Duration
	WaitTimeout  time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.Header == "" {
		cfg.Header = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = 50 * time.Millisecond
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
}

// ReplayedHeader is set to "true" on responses served from the cache.
const ReplayedHeader = "Idempotency-Replayed"

// Middleware returns the guard. Requests without a key pass straight
// through; handlers behind the guard must provide their own domain-level
// idempotence for that traffic.
func Middleware(store Store, cfg Config, logger zerolog.Logger) echo.MiddlewareFunc {
	cfg.applyDefaults()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			method := c.Request().Method
			if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
				return next(c)
			}

			key := c.Request().Header.Get(cfg.Header)
			if key == "" {
				return next(c)
			}
			endpoint := c.Request().URL.Path

			var bodyHash string
			if cfg.CheckPayloadConflict {
				body, err := io.ReadAll(c.Request().Body)
				if err != nil {
					return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
						"failed to read request body", nil)
				}
				c.Request().Body = io.NopCloser(bytes.NewReader(body))
				sum := sha256.Sum256(body)
				bodyHash = hex.EncodeToString(sum[:])
			}

			rec, err := reserveWithWait(c.Request().Context(), store, endpoint, key, cfg)
			if err != nil {
				logger.Warn().Err(err).Str("endpoint", endpoint).Msg("idempotency reservation timed out")
				return respond.Error(c, http.StatusConflict, respond.CodeIdempotencyConflict,
					"a request with this idempotency key is still in flight", nil)
			}
			if rec != nil {
				if cfg.CheckPayloadConflict && rec.BodyHash != bodyHash {
					return respond.Error(c, http.StatusConflict, respond.CodeIdempotencyConflict,
						"idempotency key was already used with a different payload", nil)
				}
				return replay(c, rec)
			}

			// Fresh reservation: execute the handler, capturing its response.
			origWriter := c.Response().Writer
			recorder := newRecorder(origWriter)
			c.Response().Writer = recorder

			if err := next(c); err != nil {
				c.Response().Writer = origWriter
				store.Release(c.Request().Context(), endpoint, key)
				return err
			}
			c.Response().Writer = origWriter

			now := time.Now()
			stored := &Record{
				Endpoint:   endpoint,
				Key:        key,
				BodyHash:   bodyHash,
				StatusCode: recorder.statusCode,
				Header:     recorder.headers.Clone(),
				Body:       recorder.body.Bytes(),
				CreatedAt:  now,
				ExpiresAt:  now.Add(cfg.TTL),
			}
			if err := store.Complete(c.Request().Context(), endpoint, key, stored); err != nil {
				// The response is still valid; losing the cache only costs a
				// duplicate execution on retry.
				logger.Error().Err(err).Str("endpoint", endpoint).Msg("failed to persist idempotency record")
				store.Release(c.Request().Context(), endpoint, key)
			}

			return flush(origWriter, stored.StatusCode, stored.Header, stored.Body)
		}
	}
}

// reserveWithWait polls Reserve until it yields a reservation or a cached
// record, giving up after cfg.WaitTimeout.
func reserveWithWait(ctx context.Context, store Store, endpoint, key string, cfg Config) (*Record, error) {
	deadline := time.Now().Add(cfg.WaitTimeout)
	for {
		rec, err := store.Reserve(ctx, endpoint, key)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrInFlight) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.WaitInterval):
		}
	}
}

func replay(c echo.Context, rec *Record) error {
	h := c.Response().Header()
	for k, vals := range rec.Header {
		for _, v := range vals {
			h.Set(k, v)
		}
	}
	h.Set(ReplayedHeader, "true")
	c.Response().WriteHeader(rec.StatusCode)
	_, err := c.Response().Write(rec.Body)
	return err
}

func flush(w http.ResponseWriter, status int, header http.Header, body []byte) error {
	for k, vals := range header {
		for _, v := range vals {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(status)
	_, err := w.Write(body)
	return err
}

// responseRecorder buffers the status, headers, and body written by the
// downstream handler so the guard can persist them before flushing.
type responseRecorder struct {
	http.ResponseWriter
	body       *bytes.Buffer
	headers    http.Header
	statusCode int
	wroteHead  bool
}

func newRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		headers:        make(http.Header),
		statusCode:     http.StatusOK,
	}
}

func (r *responseRecorder) Header() http.Header { return r.headers }

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.wroteHead = true
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHead {
		r.wroteHead = true
	}
	return r.body.Write(b)
}
