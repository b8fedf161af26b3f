package model

import "time"

// ReservationStatus is the lifecycle state of a ledger entry.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "PENDING"
	StatusConfirmed ReservationStatus = "CONFIRMED"
	StatusCancelled ReservationStatus = "CANCELLED"
	StatusCompleted ReservationStatus = "COMPLETED"
)

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// HoldsCapacity reports whether a row in this state counts against the slot.
// Pending rows additionally need to be inside the hold window.
func (s ReservationStatus) HoldsCapacity() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s ReservationStatus) String() string {
	return string(s)
}

// ParseReservationStatus returns the status for a raw value and whether it is known.
func ParseReservationStatus(raw string) (ReservationStatus, bool) {
	switch s := ReservationStatus(raw); s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return s, true
	}
	return "", false
}

var transitions = map[ReservationStatus][]ReservationStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether from -> to is allowed.  Transitions are
// monotonic; terminal states have no successors.
func CanTransitionTo(from, to ReservationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reservation is one party's claim on one slot on one date.
//
// Fields:
//
//	ID                – reservations.id (UUID).
//	CustomerID        – owning customer (token subject).
//	TourID            – tour reference.
//	SlotID            – stable slot reference.
//	SlotIndex         – slot position at booking time, display only.
//	BookingDate       – calendar date (UTC midnight).
//	PartySize         – capacity units consumed.
//	TotalPriceCents   – unit price × party size.
//	Status            – lifecycle state.
//	PaymentSessionRef – external checkout session, set after checkout.
//	PaymentIntentRef  – external payment transaction, set on confirmation.
type Reservation struct {
	ID                string
	CustomerID        string
	TourID            string
	SlotID            string
	SlotIndex         int
	BookingDate       time.Time
	PartySize         int
	TotalPriceCents   int64
	Status            ReservationStatus
	PaymentSessionRef *string
	PaymentIntentRef  *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HoldExpired reports whether a pending reservation was created at or before
// cutoff, i.e. its hold window has lapsed.
func (r *Reservation) HoldExpired(cutoff time.Time) bool {
	return r.Status == StatusPending && !r.CreatedAt.After(cutoff)
}

// DateLayout is the wire and storage format for booking dates.
const DateLayout = "2006-01-02"
