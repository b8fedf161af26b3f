package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/service"
)

// Booking is what an authenticated customer can do.
type Booking interface {
	InitiateCheckout(ctx context.Context, customerID string, sels []service.Selection) (*service.CheckoutResult, error)
	ListMyReservations(ctx context.Context, customerID string) ([]model.Reservation, error)
	GetReservation(ctx context.Context, customerID, id string) (*model.Reservation, error)
	CancelReservation(ctx context.Context, customerID, id string) (*model.Reservation, error)
}

// CustomerHandler groups the endpoints that act on behalf of the token
// subject.  JWTAuth and RequireRole run before every method.
type CustomerHandler struct {
	Booking Booking
}

// NewCustomerHandler panics on a nil booking service.
func NewCustomerHandler(b Booking) *CustomerHandler {
	if b == nil {
		panic("nil booking service passed to NewCustomerHandler")
	}
	return &CustomerHandler{Booking: b}
}

type selectionRequest struct {
	TourID         string `json:"tour_id" validate:"required"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot       string `json:"time_slot" validate:"required"`
	Quantity       int    `json:"quantity" validate:"required,min=1"`
	UnitPriceCents *int64 `json:"unit_price_cents" validate:"omitempty,min=0"`
}

type checkoutRequest struct {
	Selections []selectionRequest `json:"selections" validate:"required,min=1,max=20,dive"`
}

// Checkout handles POST /v1/checkout.  Every selection is held atomically
// against its slot capacity; either all of them end up attached to one
// payment session (201) or none of them stays held.
func (h *CustomerHandler) Checkout(c echo.Context) error {
	uid := customerID(c)
	if uid == "" {
		return unauthorized(c)
	}
	var req checkoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}
	sels := make([]service.Selection, len(req.Selections))
	for i, s := range req.Selections {
		sels[i] = service.Selection{
			TourID:         strings.TrimSpace(s.TourID),
			Date:           strings.TrimSpace(s.Date),
			TimeSlot:       s.TimeSlot,
			Quantity:       s.Quantity,
			UnitPriceCents: s.UnitPriceCents,
		}
	}
	res, err := h.Booking.InitiateCheckout(c.Request().Context(), uid, sels)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// ListReservations handles GET /v1/my-reservations.
func (h *CustomerHandler) ListReservations(c echo.Context) error {
	uid := customerID(c)
	if uid == "" {
		return unauthorized(c)
	}
	rows, err := h.Booking.ListMyReservations(c.Request().Context(), uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": newReservationViews(rows, false)})
}

// GetReservation handles GET /v1/reservations/:id.  Reservations of other
// customers answer 404.
func (h *CustomerHandler) GetReservation(c echo.Context) error {
	uid := customerID(c)
	if uid == "" {
		return unauthorized(c)
	}
	res, err := h.Booking.GetReservation(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newReservationView(res, false))
}

// CancelReservation handles DELETE /v1/reservations/:id.  The capacity
// becomes available again immediately.
func (h *CustomerHandler) CancelReservation(c echo.Context) error {
	uid := customerID(c)
	if uid == "" {
		return unauthorized(c)
	}
	res, err := h.Booking.CancelReservation(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newReservationView(res, false))
}
