// Package queue defines message payloads exchanged over the message broker
// and the publisher/consumer pair that moves them.
package queue

// Queue names.  Each event type gets its own durable queue.
const (
	BookingConfirmedQueue = "booking.confirmed"
	BookingReleasedQueue  = "booking.released"
)

// BookingConfirmedEvent is published when a payment confirms a reservation.
// It contains enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
	ReservationID   string `json:"reservation_id"`
	CustomerID      string `json:"customer_id"`
	TourID          string `json:"tour_id"`
	SlotID          string `json:"slot_id"`
	SlotIndex       int    `json:"slot_index"`
	BookingDate     string `json:"booking_date"`
	PartySize       int    `json:"party_size"`
	TotalPriceCents int64  `json:"total_price_cents"`
	PaymentSession  string `json:"payment_session"`
	PaymentIntent   string `json:"payment_intent"`
	ConfirmedAt     string `json:"confirmed_at"`
}

// BookingReleasedEvent is published when held capacity goes back to the
// slot: hold expiry, checkout compensation, provider-side session expiry,
// late payment or a cancellation.
type BookingReleasedEvent struct {
	ReservationID string `json:"reservation_id"`
	CustomerID    string `json:"customer_id"`
	TourID        string `json:"tour_id"`
	SlotID        string `json:"slot_id"`
	BookingDate   string `json:"booking_date"`
	PartySize     int    `json:"party_size"`
	Reason        string `json:"reason"`
	ReleasedAt    string `json:"released_at"`
}

// Release reasons.
const (
	ReasonHoldExpired    = "hold_expired"
	ReasonCompensation   = "checkout_rollback"
	ReasonSessionExpired = "session_expired"
	ReasonLatePayment    = "late_payment"
	ReasonCancelled      = "cancelled"
)
