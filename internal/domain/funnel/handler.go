package funnel

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/assessly/assessly/pkg/pagination"
	"github.com/assessly/assessly/pkg/respond"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/funnels", h.ListFunnels)
	api.GET("/funnels/:slug/manifest", h.GetManifest)
}

func (h *Handler) ListFunnels(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return respond.Error(c, http.StatusInternalServerError, respond.CodeInternalError,
			"failed to list funnels", nil)
	}
	return respond.OK(c, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetManifest(c echo.Context) error {
	slug := c.Param("slug")
	if slug == "" {
		return respond.Error(c, http.StatusBadRequest, respond.CodeMissingParameters,
			"funnel slug is required", nil)
	}
	m, err := h.svc.Manifest(c.Request().Context(), slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return respond.Error(c, http.StatusNotFound, respond.CodeNotFound,
				"funnel manifest not found", nil)
		}
		return respond.Error(c, http.StatusInternalServerError, respond.CodeInternalError,
			"failed to load funnel manifest", nil)
	}
	return respond.OK(c, m)
}
