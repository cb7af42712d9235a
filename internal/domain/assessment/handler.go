package assessment

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/assessly/assessly/internal/domain/funnel"
	"github.com/assessly/assessly/internal/domain/identity"
	"github.com/assessly/assessly/internal/platform/auth"
	"github.com/assessly/assessly/pkg/pagination"
	"github.com/assessly/assessly/pkg/respond"
)

var validate = validator.New()

// Handler exposes the assessment HTTP surface. The completion route is the
// one the idempotency guard wraps; route registration takes the guard as a
// middleware so wiring stays in main.
type Handler struct {
	svc      *Service
	profiles *identity.Service
}

func NewHandler(svc *Service, profiles *identity.Service) *Handler {
	return &Handler{svc: svc, profiles: profiles}
}

// RegisterRoutes mounts the assessment routes on an authenticated group.
// idemGuard is applied to the completion route only.
func (h *Handler) RegisterRoutes(api *echo.Group, idemGuard echo.MiddlewareFunc) {
	api.POST("/funnels/:slug/assessments", h.Start)
	api.GET("/assessments", h.List)
	api.GET("/assessments/:assessmentId", h.Get)
	api.PUT("/assessments/:assessmentId/answers/:questionId", h.UpsertAnswer)
	api.POST("/funnels/:slug/assessments/:assessmentId/complete", h.Complete, idemGuard)
}

// caller resolves the authenticated subject to a patient profile. The
// profile is a hard dependency of every assessment route.
func (h *Handler) caller(c echo.Context) (uuid.UUID, error) {
	subject := auth.UserIDFromContext(c.Request().Context())
	if subject == "" {
		return uuid.Nil, respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized,
			"authentication required", nil)
	}
	p, err := h.profiles.ResolveBySubject(c.Request().Context(), subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return uuid.Nil, respond.Error(c, http.StatusNotFound, respond.CodeNotFound,
				"no patient profile for caller", nil)
		}
		return uuid.Nil, respond.Error(c, http.StatusInternalServerError, respond.CodeInternalError,
			"failed to resolve caller", nil)
	}
	return p.ID, nil
}

func (h *Handler) Start(c echo.Context) error {
	patientID, err := h.caller(c)
	if err != nil {
		return err
	}
	slug := c.Param("slug")
	if slug == "" {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			"funnel slug is required", nil)
	}

	a, err := h.svc.Start(c.Request().Context(), patientID, slug)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return respond.Error(c, http.StatusNotFound, respond.CodeNotFound,
				"funnel not found", nil)
		case errors.Is(err, ErrDuplicateInProgress):
			return respond.Error(c, http.StatusConflict, respond.CodeConflict,
				"an in-progress assessment already exists for this funnel", nil)
		}
		return respond.Error(c, http.StatusInternalServerError, respond.CodeInternalError,
			"failed to start assessment", nil)
	}
	return respond.Created(c, a)
}

func (h *Handler) List(c echo.Context) error {
	patientID, err := h.caller(c)
	if err != nil {
		return err
	}
	params := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), patientID, params.Limit, params.Offset)
	if err != nil {
		return respond.Error(c, http.StatusInternalServerError, respond.CodeInternalError,
			"failed to list assessments", nil)
	}
	return respond.OK(c, pagination.NewResponse(items, total, params.Limit, params.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	patientID, err := h.caller(c)
	if err != nil {
		return err
	}
	assessmentID, err := uuid.Parse(c.Param("assessmentId"))
	if err != nil {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			"assessment id must be a UUID", nil)
	}

	a, err := h.svc.Get(c.Request().Context(), patientID, assessmentID)
	if err != nil {
		return h.domainError(c, err, "failed to load assessment")
	}
	return respond.OK(c, a)
}

// answerRequest is the answer upsert payload.
type answerRequest struct {
	Value json.RawMessage `json:"value" validate:"required"`
}

func (h *Handler) UpsertAnswer(c echo.Context) error {
	patientID, err := h.caller(c)
	if err != nil {
		return err
	}
	assessmentID, err := uuid.Parse(c.Param("assessmentId"))
	if err != nil {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			"assessment id must be a UUID", nil)
	}
	questionID := c.Param("questionId")
	if questionID == "" {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			"question id is required", nil)
	}

	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			"request body must be JSON", nil)
	}
	if err := validate.Struct(&req); err != nil {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			"value is required", nil)
	}

	ans, err := h.svc.UpsertAnswer(c.Request().Context(), patientID, assessmentID, questionID, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownQuestion):
			return respond.Error(c, http.StatusNotFound, respond.CodeNotFound,
				"question not found in funnel", nil)
		case errors.Is(err, ErrNotInProgress):
			return respond.Error(c, http.StatusConflict, respond.CodeConflict,
				"assessment is not in progress", nil)
		case errors.Is(err, funnel.ErrNotFound):
			return respond.Error(c, http.StatusNotFound, respond.CodeNotFound,
				"funnel layout not found", nil)
		}
		return h.domainError(c, err, "failed to record answer")
	}
	return respond.OK(c, ans)
}

// completionResponse is the data payload of a successful completion.
type completionResponse struct {
	AssessmentID uuid.UUID `json:"assessmentId"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
}

func (h *Handler) Complete(c echo.Context) error {
	patientID, err := h.caller(c)
	if err != nil {
		return err
	}
	slug := c.Param("slug")
	if slug == "" {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			"funnel slug is required", nil)
	}
	assessmentID, err := uuid.Parse(c.Param("assessmentId"))
	if err != nil {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			"assessment id must be a UUID", nil)
	}

	result, err := h.svc.Complete(c.Request().Context(), patientID, slug, assessmentID)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			return respond.Error(c, http.StatusUnprocessableEntity, respond.CodeValidationFailed,
				"required questions are unanswered",
				map[string]interface{}{"missingQuestions": verr.MissingQuestions})
		case errors.Is(err, ErrNotInProgress):
			return respond.Error(c, http.StatusConflict, respond.CodeConflict,
				"assessment is not in a completable state", nil)
		}
		return h.domainError(c, err, "failed to complete assessment")
	}

	return respond.OK(c, completionResponse{
		AssessmentID: result.AssessmentID,
		Status:       result.Status,
		Message:      result.Message,
	})
}

// domainError maps the shared lookup failures; anything unmapped is an
// internal error.
func (h *Handler) domainError(c echo.Context, err error, fallback string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return respond.Error(c, http.StatusNotFound, respond.CodeNotFound,
			"assessment not found", nil)
	case errors.Is(err, ErrForbidden):
		return respond.Error(c, http.StatusForbidden, respond.CodeForbidden,
			"assessment is not owned by caller", nil)
	}
	return respond.Error(c, http.StatusInternalServerError, respond.CodeInternalError,
		fallback, nil)
}
