package dashboard

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/docslot/docslot/internal/platform/auth"
	"github.com/docslot/docslot/pkg/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dashboard", h.Summary, auth.RequireRole(auth.RoleAdmin))
	api.GET("/doctors/:id/dashboard", h.DoctorSummary, auth.RequireRole(auth.RoleDoctor))
}

func (h *Handler) Summary(c echo.Context) error {
	caller, err := auth.Caller(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Summary(c.Request().Context(), caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) DoctorSummary(c echo.Context) error {
	caller, err := auth.Caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Invalid("invalid id")
	}
	out, err := h.svc.DoctorSummary(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
