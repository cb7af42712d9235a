package assessment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/assessly/assessly/internal/domain/identity"
	"github.com/assessly/assessly/internal/platform/auth"
)

// stubProfiles maps a single auth subject to the fixture patient.
type stubProfiles struct {
	subject string
	id      uuid.UUID
}

func (s *stubProfiles) Create(ctx context.Context, p *identity.PatientProfile) error { return nil }

func (s *stubProfiles) GetByID(ctx context.Context, id uuid.UUID) (*identity.PatientProfile, error) {
	return nil, identity.ErrNotFound
}

func (s *stubProfiles) GetBySubject(ctx context.Context, subject string) (*identity.PatientProfile, error) {
	if subject != s.subject {
		return nil, identity.ErrNotFound
	}
	return &identity.PatientProfile{ID: s.id, Subject: subject}, nil
}

func listRequest(f *fixture, target string) (*Handler, echo.Context, *httptest.ResponseRecorder) {
	h := NewHandler(f.svc, identity.NewService(&stubProfiles{subject: "dev-user", id: f.patientID}))
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, "dev-user"))
	rec := httptest.NewRecorder()
	return h, e.NewContext(req, rec), rec
}

type listEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Items   []json.RawMessage `json:"items"`
		Total   int               `json:"total"`
		Limit   int               `json:"limit"`
		Offset  int               `json:"offset"`
		HasMore bool              `json:"has_more"`
	} `json:"data"`
}

func TestList_PaginatedEnvelope(t *testing.T) {
	f := newFixture()
	f.seedInProgress("cardio-age", time.Now().Add(-time.Hour))
	f.seedInProgress("sleep-quality", time.Now().Add(-time.Minute))

	h, c, rec := listRequest(f, "/assessments?limit=1&offset=0")
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body listEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !body.Success {
		t.Error("expected success envelope")
	}
	if body.Data.Total != 2 {
		t.Errorf("expected total 2, got %d", body.Data.Total)
	}
	if body.Data.Limit != 1 || body.Data.Offset != 0 {
		t.Errorf("expected requested limit/offset echoed back, got %d/%d",
			body.Data.Limit, body.Data.Offset)
	}
	if !body.Data.HasMore {
		t.Error("expected has_more with one of two results returned")
	}
	if len(body.Data.Items) == 0 {
		t.Error("expected items in the page")
	}
}

func TestList_DefaultsPagination(t *testing.T) {
	f := newFixture()
	f.seedInProgress("cardio-age", time.Now().Add(-time.Hour))

	h, c, rec := listRequest(f, "/assessments")
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body listEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Data.Limit != 20 {
		t.Errorf("expected default limit 20, got %d", body.Data.Limit)
	}
	if body.Data.HasMore {
		t.Error("single result within the default page must not report has_more")
	}
}
