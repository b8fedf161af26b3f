package handler

import (
	"time"

	"github.com/iliyamo/tour-booking/internal/model"
)

type slotView struct {
	ID          string `json:"id"`
	Position    int    `json:"position"`
	Label       string `json:"label"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	MaxCapacity int    `json:"max_capacity"`
	IsActive    bool   `json:"is_active"`
}

type tourView struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	PriceCents           int64      `json:"price_cents"`
	DiscountedPriceCents *int64     `json:"discounted_price_cents,omitempty"`
	UnitPriceCents       int64      `json:"unit_price_cents"`
	OperatingDays        []string   `json:"operating_days"`
	AdvanceBookingDays   int        `json:"advance_booking_days"`
	Slots                []slotView `json:"slots"`
}

func newTourView(t *model.Tour) tourView {
	v := tourView{
		ID:                   t.ID,
		Title:                t.Title,
		PriceCents:           t.PriceCents,
		DiscountedPriceCents: t.DiscountedPriceCents,
		UnitPriceCents:       t.UnitPriceCents(),
		OperatingDays:        make([]string, 0, len(t.OperatingDays)),
		AdvanceBookingDays:   t.AdvanceBookingDays,
		Slots:                make([]slotView, 0, len(t.Slots)),
	}
	for _, d := range t.OperatingDays {
		v.OperatingDays = append(v.OperatingDays, d.String())
	}
	for _, s := range t.Slots {
		v.Slots = append(v.Slots, slotView{
			ID:          s.ID,
			Position:    s.Position,
			Label:       s.Label(),
			StartTime:   s.StartTime,
			EndTime:     s.EndTime,
			MaxCapacity: s.MaxCapacity,
			IsActive:    s.IsActive,
		})
	}
	return v
}

// reservationView is the JSON shape of a reservation.  CustomerID is only
// filled for administrators.
type reservationView struct {
	ID                string    `json:"id"`
	CustomerID        string    `json:"customer_id,omitempty"`
	TourID            string    `json:"tour_id"`
	SlotID            string    `json:"slot_id"`
	SlotIndex         int       `json:"slot_index"`
	Date              string    `json:"date"`
	PartySize         int       `json:"party_size"`
	TotalPriceCents   int64     `json:"total_price_cents"`
	Status            string    `json:"status"`
	PaymentSessionRef *string   `json:"payment_session_ref,omitempty"`
	PaymentIntentRef  *string   `json:"payment_intent_ref,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newReservationView(r *model.Reservation, withCustomer bool) reservationView {
	v := reservationView{
		ID:                r.ID,
		TourID:            r.TourID,
		SlotID:            r.SlotID,
		SlotIndex:         r.SlotIndex,
		Date:              r.BookingDate.Format(model.DateLayout),
		PartySize:         r.PartySize,
		TotalPriceCents:   r.TotalPriceCents,
		Status:            r.Status.String(),
		PaymentSessionRef: r.PaymentSessionRef,
		PaymentIntentRef:  r.PaymentIntentRef,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if withCustomer {
		v.CustomerID = r.CustomerID
	}
	return v
}

func newReservationViews(rows []model.Reservation, withCustomer bool) []reservationView {
	out := make([]reservationView, 0, len(rows))
	for i := range rows {
		out = append(out, newReservationView(&rows[i], withCustomer))
	}
	return out
}
