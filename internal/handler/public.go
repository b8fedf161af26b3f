package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/service"
)

// Catalog is the read side used by guests.
type Catalog interface {
	GetTour(ctx context.Context, id string) (*model.Tour, error)
	Availability(ctx context.Context, tourID, date string) (*service.AvailabilityReport, error)
}

// PublicHandler serves unauthenticated tour browsing.
type PublicHandler struct {
	Catalog Catalog
}

// NewPublicHandler panics on a nil catalog.
func NewPublicHandler(catalog Catalog) *PublicHandler {
	if catalog == nil {
		panic("nil catalog passed to NewPublicHandler")
	}
	return &PublicHandler{Catalog: catalog}
}

// GetTour handles GET /v1/tours/:id and returns the tour with its slot
// catalog, inactive slots included.
func (h *PublicHandler) GetTour(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tour id", "code": CodeInvalidInput})
	}
	tour, err := h.Catalog.GetTour(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newTourView(tour))
}

// GetAvailability handles GET /v1/tours/:id/availability?date=YYYY-MM-DD.
// The response is computed from the ledger on every call.
func (h *PublicHandler) GetAvailability(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tour id", "code": CodeInvalidInput})
	}
	report, err := h.Catalog.Availability(c.Request().Context(), id, c.QueryParam("date"))
	if err != nil {
		return respondError(c, err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, report)
}
