package identity

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/assessly/assessly/internal/platform/auth"
	"github.com/assessly/assessly/pkg/respond"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me/profile", h.GetProfile)
	api.POST("/me/profile", h.CreateProfile)
}

func (h *Handler) GetProfile(c echo.Context) error {
	subject := auth.UserIDFromContext(c.Request().Context())
	if subject == "" {
		return respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized,
			"authentication required", nil)
	}
	p, err := h.svc.ResolveBySubject(c.Request().Context(), subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return respond.Error(c, http.StatusNotFound, respond.CodeNotFound,
				"no patient profile for caller", nil)
		}
		return respond.Error(c, http.StatusInternalServerError, respond.CodeInternalError,
			"failed to load profile", nil)
	}
	return respond.OK(c, p)
}

func (h *Handler) CreateProfile(c echo.Context) error {
	subject := auth.UserIDFromContext(c.Request().Context())
	if subject == "" {
		return respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized,
			"authentication required", nil)
	}
	var p PatientProfile
	if err := c.Bind(&p); err != nil {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			err.Error(), nil)
	}
	p.Subject = subject
	if err := h.svc.Register(c.Request().Context(), &p); err != nil {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			err.Error(), nil)
	}
	return respond.Created(c, p)
}
