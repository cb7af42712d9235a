package patientstate

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/assessly/assessly/internal/domain/identity"
	"github.com/assessly/assessly/internal/platform/auth"
	"github.com/assessly/assessly/pkg/respond"
)

type Handler struct {
	svc      *Service
	profiles *identity.Service
}

func NewHandler(svc *Service, profiles *identity.Service) *Handler {
	return &Handler{svc: svc, profiles: profiles}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me/state", h.GetState)
}

func (h *Handler) GetState(c echo.Context) error {
	subject := auth.UserIDFromContext(c.Request().Context())
	if subject == "" {
		return respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized,
			"authentication required", nil)
	}
	profile, err := h.profiles.ResolveBySubject(c.Request().Context(), subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return respond.Error(c, http.StatusNotFound, respond.CodeNotFound,
				"no patient profile for caller", nil)
		}
		return respond.Error(c, http.StatusInternalServerError, respond.CodeInternalError,
			"failed to resolve profile", nil)
	}
	st, err := h.svc.Get(c.Request().Context(), profile.ID)
	if err != nil {
		return respond.Error(c, http.StatusInternalServerError, respond.CodeInternalError,
			"failed to load patient state", nil)
	}
	return respond.OK(c, st)
}
