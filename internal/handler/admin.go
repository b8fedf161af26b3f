package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/tour-booking/internal/model"
)

// Administration is the operator side of the ledger.
type Administration interface {
	ListTourReservations(ctx context.Context, tourID, date string) ([]model.Reservation, error)
	SetReservationStatus(ctx context.Context, id, status string) (*model.Reservation, error)
}

// AdminHandler serves /v1/admin; RequireRole("ADMIN") guards the group.
type AdminHandler struct {
	Admin Administration
}

func NewAdminHandler(a Administration) *AdminHandler {
	if a == nil {
		panic("nil administration passed to NewAdminHandler")
	}
	return &AdminHandler{Admin: a}
}

// ListTourReservations handles GET /v1/admin/tours/:id/reservations?date=.
func (h *AdminHandler) ListTourReservations(c echo.Context) error {
	rows, err := h.Admin.ListTourReservations(c.Request().Context(), c.Param("id"), c.QueryParam("date"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"tour_id":      c.Param("id"),
		"date":         c.QueryParam("date"),
		"reservations": newReservationViews(rows, true),
	})
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneofci=COMPLETED CANCELLED"`
}

// SetReservationStatus handles PATCH /v1/admin/reservations/:id with a body
// of {"status": "COMPLETED"|"CANCELLED"}.
func (h *AdminHandler) SetReservationStatus(c echo.Context) error {
	var req statusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}
	res, err := h.Admin.SetReservationStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newReservationView(res, true))
}
