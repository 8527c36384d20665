package booking

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/docslot/docslot/internal/platform/auth"
	"github.com/docslot/docslot/pkg/apperr"
	"github.com/docslot/docslot/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(public *echo.Group, api *echo.Group) {
	public.GET("/doctors/:id/slots", h.DoctorSlots)

	api.POST("/appointments", h.Book, auth.RequireRole(auth.RolePatient))
	api.GET("/appointments", h.List)
	api.GET("/appointments/:id", h.Get)
	api.POST("/appointments/:id/cancel", h.Cancel)
	api.POST("/appointments/:id/complete", h.Complete, auth.RequireRole(auth.RoleDoctor))
	api.POST("/appointments/:id/paid", h.MarkPaid, auth.RequireRole(auth.RoleAdmin))
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("invalid id")
	}
	return id, nil
}

func (h *Handler) Book(c echo.Context) error {
	caller, err := auth.Caller(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid("malformed request body")
	}
	a, err := h.svc.Book(c.Request().Context(), caller, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) List(c echo.Context) error {
	caller, err := auth.Caller(c)
	if err != nil {
		return err
	}
	var f ListFilter
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Invalid("invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Invalid("invalid doctor_id")
		}
		f.DoctorID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), caller, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	return h.byID(c, h.svc.Get)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.byID(c, h.svc.Cancel)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.byID(c, h.svc.Complete)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	return h.byID(c, h.svc.MarkPaid)
}

type appointmentOp func(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error)

func (h *Handler) byID(c echo.Context, op appointmentOp) error {
	caller, err := auth.Caller(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := op(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DoctorSlots(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	slots, err := h.svc.DoctorSlots(c.Request().Context(), id, c.QueryParam("from"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id":    id,
		"slots_booked": slots,
	})
}
