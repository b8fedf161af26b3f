package service

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/tour-booking/internal/model"
)

// AvailabilityPolicy decides how a slot's booked count maps to its status.
type AvailabilityPolicy string

const (
	// PolicyBinary marks a slot FULLY_BOOKED as soon as anyone holds it.
	PolicyBinary AvailabilityPolicy = "binary"
	// PolicyRemaining keeps a slot OPEN while capacity remains.
	PolicyRemaining AvailabilityPolicy = "remaining"
)

// ParseAvailabilityPolicy maps a config value to a policy, defaulting to binary.
func ParseAvailabilityPolicy(raw string) AvailabilityPolicy {
	if AvailabilityPolicy(strings.ToLower(strings.TrimSpace(raw))) == PolicyRemaining {
		return PolicyRemaining
	}
	return PolicyBinary
}

// SlotStatus is the display state of a slot.
type SlotStatus string

const (
	SlotOpen        SlotStatus = "OPEN"
	SlotFullyBooked SlotStatus = "FULLY_BOOKED"
)

// SlotAvailability is the availability snapshot of one active slot.
type SlotAvailability struct {
	SlotID      string     `json:"slot_id"`
	Index       int        `json:"index"`
	Label       string     `json:"label"`
	MaxCapacity int        `json:"max_capacity"`
	Booked      int        `json:"booked"`
	Remaining   int        `json:"remaining"`
	Status      SlotStatus `json:"status"`
}

// AvailabilityReport is returned by BookingService.Availability.
type AvailabilityReport struct {
	TourID       string             `json:"tour_id"`
	Date         string             `json:"date"`
	OperatingDay bool               `json:"operating_day"`
	Bookable     bool               `json:"bookable"`
	Policy       AvailabilityPolicy `json:"policy"`
	Slots        []SlotAvailability `json:"slots"`
}

// ComputeAvailability derives the per-slot snapshot from the rows that
// currently hold capacity.  live must already exclude expired pending rows;
// cancelled and completed rows are ignored.  Inactive slots are omitted.
func ComputeAvailability(tour *model.Tour, live []model.Reservation, policy AvailabilityPolicy) []SlotAvailability {
	booked := make(map[string]int, len(tour.Slots))
	for _, r := range live {
		if r.Status.HoldsCapacity() {
			booked[r.SlotID] += r.PartySize
		}
	}
	out := make([]SlotAvailability, 0, len(tour.Slots))
	for _, s := range tour.Slots {
		if !s.IsActive {
			continue
		}
		used := booked[s.ID]
		remaining := s.MaxCapacity - used
		if remaining < 0 {
			remaining = 0
		}
		status := SlotOpen
		switch policy {
		case PolicyRemaining:
			if remaining == 0 {
				status = SlotFullyBooked
			}
		default:
			if used > 0 {
				status = SlotFullyBooked
			}
		}
		out = append(out, SlotAvailability{
			SlotID:      s.ID,
			Index:       s.Position,
			Label:       s.Label(),
			MaxCapacity: s.MaxCapacity,
			Booked:      used,
			Remaining:   remaining,
			Status:      status,
		})
	}
	return out
}

// Availability reads the ledger fresh and reports every active slot of the
// tour on date.
func (s *BookingService) Availability(ctx context.Context, tourID, date string) (*AvailabilityReport, error) {
	if strings.TrimSpace(tourID) == "" {
		return nil, invalidInput("tour id is required")
	}
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	tour, err := s.tours.GetByID(ctx, tourID)
	if err != nil {
		return nil, classify(err)
	}
	now := s.now()
	live, err := s.ledger.ListLive(ctx, tour.ID, day, s.holdCutoff(now))
	if err != nil {
		return nil, err
	}
	operating := tour.OperatesOn(day)
	return &AvailabilityReport{
		TourID:       tour.ID,
		Date:         day.Format(model.DateLayout),
		OperatingDay: operating,
		Bookable:     operating && !day.Before(tour.EarliestBookableDate(s.today(now))),
		Policy:       s.opts.Policy,
		Slots:        ComputeAvailability(tour, live, s.opts.Policy),
	}, nil
}

// parseDate parses a YYYY-MM-DD calendar date into UTC midnight.
func parseDate(raw string) (time.Time, error) {
	d, err := time.ParseInLocation(model.DateLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, invalidInput("date %q must be YYYY-MM-DD", raw)
	}
	return d, nil
}
