package idempotency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func countingHandler(calls *int32) echo.HandlerFunc {
	return func(c echo.Context) error {
		n := atomic.AddInt32(calls, 1)
		return c.JSON(http.StatusOK, map[string]interface{}{"call": n})
	}
}

func doRequest(t *testing.T, h echo.HandlerFunc, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestMiddleware_ReplaysFirstResponse(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	var calls int32
	h := Middleware(store, Config{}, zerolog.Nop())(countingHandler(&calls))

	first := doRequest(t, h, http.MethodPost, "/complete", "key-1", "")
	second := doRequest(t, h, http.MethodPost, "/complete", "key-1", "")

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("unexpected status codes %d / %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replay body differs: %q vs %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get(ReplayedHeader) != "true" {
		t.Error("replayed response must carry the Idempotency-Replayed header")
	}
	if first.Header().Get(ReplayedHeader) != "" {
		t.Error("first response must not be marked replayed")
	}
}

func TestMiddleware_NoKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	var calls int32
	h := Middleware(store, Config{}, zerolog.Nop())(countingHandler(&calls))

	doRequest(t, h, http.MethodPost, "/complete", "", "")
	doRequest(t, h, http.MethodPost, "/complete", "", "")

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("keyless requests must each execute, got %d calls", calls)
	}
}

func TestMiddleware_ReadMethodsBypass(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	var calls int32
	h := Middleware(store, Config{}, zerolog.Nop())(countingHandler(&calls))

	doRequest(t, h, http.MethodGet, "/assessments", "key-1", "")
	doRequest(t, h, http.MethodGet, "/assessments", "key-1", "")

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("GET requests must bypass the guard, got %d calls", calls)
	}
}

func TestMiddleware_KeysAreEndpointScoped(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	var calls int32
	h := Middleware(store, Config{}, zerolog.Nop())(countingHandler(&calls))

	doRequest(t, h, http.MethodPost, "/a/complete", "shared", "")
	doRequest(t, h, http.MethodPost, "/b/complete", "shared", "")

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("same key on different endpoints must not collide, got %d calls", calls)
	}
}

func TestMiddleware_PayloadConflict(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	var calls int32
	h := Middleware(store, Config{CheckPayloadConflict: true}, zerolog.Nop())(countingHandler(&calls))

	doRequest(t, h, http.MethodPost, "/complete", "key-1", `{"a":1}`)
	rec := doRequest(t, h, http.MethodPost, "/complete", "key-1", `{"a":2}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var envelope struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Success || envelope.Error.Code != "IDEMPOTENCY_CONFLICT" {
		t.Errorf("expected IDEMPOTENCY_CONFLICT envelope, got %+v", envelope)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("conflicting payload must not re-run the handler, got %d calls", calls)
	}
}

func TestMiddleware_HandlerErrorReleasesReservation(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	var calls int32
	failing := func(c echo.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return echo.NewHTTPError(http.StatusInternalServerError, "transient")
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
	h := Middleware(store, Config{}, zerolog.Nop())(failing)

	first := doRequest(t, h, http.MethodPost, "/complete", "key-1", "")
	second := doRequest(t, h, http.MethodPost, "/complete", "key-1", "")

	if first.Code != http.StatusInternalServerError {
		t.Fatalf("expected first attempt to fail, got %d", first.Code)
	}
	if second.Code != http.StatusOK {
		t.Fatalf("retry after handler error must execute, got %d", second.Code)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 handler executions, got %d", calls)
	}
}

func TestMiddleware_WaitsForInFlightWinner(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	// Winner holds the reservation; it completes shortly after the loser
	// starts polling.
	if _, err := store.Reserve(ctx, "/complete", "key-1"); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}
	go func() {
		time.Sleep(60 * time.Millisecond)
		now := time.Now()
		_ = store.Complete(ctx, "/complete", "key-1", &Record{
			Endpoint:   "/complete",
			Key:        "key-1",
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       []byte(`{"success":true}`),
			CreatedAt:  now,
			ExpiresAt:  now.Add(time.Hour),
		})
	}()

	var calls int32
	h := Middleware(store, Config{WaitInterval: 10 * time.Millisecond, WaitTimeout: 2 * time.Second},
		zerolog.Nop())(countingHandler(&calls))
	rec := doRequest(t, h, http.MethodPost, "/complete", "key-1", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected replayed 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"success":true}` {
		t.Errorf("expected winner's body, got %q", rec.Body.String())
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("loser must not execute the handler")
	}
}

func TestMiddleware_InFlightTimeout(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	if _, err := store.Reserve(context.Background(), "/complete", "key-1"); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	var calls int32
	h := Middleware(store, Config{WaitInterval: 10 * time.Millisecond, WaitTimeout: 50 * time.Millisecond},
		zerolog.Nop())(countingHandler(&calls))
	rec := doRequest(t, h, http.MethodPost, "/complete", "key-1", "")

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when the winner never finishes, got %d", rec.Code)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("handler must not run while the key is held")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	now := time.Now()
	store.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	rec := &Record{
		Endpoint:   "/complete",
		Key:        "key-1",
		StatusCode: http.StatusOK,
		Body:       []byte("cached"),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Minute),
	}
	if err := store.Complete(ctx, "/complete", "key-1", rec); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := store.Reserve(ctx, "/complete", "key-1")
	if err != nil || got == nil {
		t.Fatalf("expected cached record before expiry, got %v, %v", got, err)
	}

	store.nowFunc = func() time.Time { return now.Add(2 * time.Minute) }
	got, err = store.Reserve(ctx, "/complete", "key-1")
	if err != nil {
		t.Fatalf("reserve after expiry: %v", err)
	}
	if got != nil {
		t.Error("expired record must not be replayed; caller should get a fresh reservation")
	}
}

func TestMemoryStore_ReserveIsExclusive(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	rec, err := store.Reserve(ctx, "/complete", "key-1")
	if err != nil || rec != nil {
		t.Fatalf("first reserve should grant a fresh reservation, got %v, %v", rec, err)
	}
	if _, err := store.Reserve(ctx, "/complete", "key-1"); err != ErrInFlight {
		t.Fatalf("expected ErrInFlight for held key, got %v", err)
	}

	store.Release(ctx, "/complete", "key-1")
	if rec, err := store.Reserve(ctx, "/complete", "key-1"); err != nil || rec != nil {
		t.Fatalf("release must free the key, got %v, %v", rec, err)
	}
}
