package model

import (
	"strings"
	"time"
)

// Tour is the slot catalog owner.  Tours are maintained by administrators
// outside this service; the booking engine only reads them.
//
// Fields:
//
//	ID                   – opaque tour identifier (UUID).
//	Title                – display name.
//	PriceCents           – list price per party member.
//	DiscountedPriceCents – optional discounted price; used when non-zero.
//	OperatingDays        – weekdays on which the tour runs (empty = every day).
//	AdvanceBookingDays   – minimum lead time between today and the booking date.
//	Slots                – ordered slot catalog.
type Tour struct {
	ID                   string
	Title                string
	PriceCents           int64
	DiscountedPriceCents *int64
	OperatingDays        []time.Weekday
	AdvanceBookingDays   int
	Slots                []TimeSlot
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TimeSlot is one bookable window of a tour.  ID is stable across catalog
// edits; Position is the display order at read time.
type TimeSlot struct {
	ID          string
	TourID      string
	Position    int
	StartTime   string // "HH:MM"
	EndTime     string // "HH:MM"
	MaxCapacity int
	IsActive    bool
}

// Label renders the slot the way customers select it, e.g. "09:00 - 11:00".
func (s TimeSlot) Label() string {
	return s.StartTime + " - " + s.EndTime
}

// UnitPriceCents returns the price charged per party member.
func (t *Tour) UnitPriceCents() int64 {
	if t.DiscountedPriceCents != nil && *t.DiscountedPriceCents > 0 {
		return *t.DiscountedPriceCents
	}
	return t.PriceCents
}

// FindSlotByLabel resolves a requested time-range label against the catalog.
// Whitespace is ignored so "09:00-11:00" matches "09:00 - 11:00".
func (t *Tour) FindSlotByLabel(label string) (TimeSlot, bool) {
	want := compactLabel(label)
	if want == "" {
		return TimeSlot{}, false
	}
	for _, s := range t.Slots {
		if compactLabel(s.Label()) == want {
			return s, true
		}
	}
	return TimeSlot{}, false
}

// OperatesOn reports whether the tour runs on the weekday of date.
func (t *Tour) OperatesOn(date time.Time) bool {
	if len(t.OperatingDays) == 0 {
		return true
	}
	wd := date.Weekday()
	for _, d := range t.OperatingDays {
		if d == wd {
			return true
		}
	}
	return false
}

// EarliestBookableDate is today plus the advance booking lead time.  Both
// arguments are interpreted as calendar dates.
func (t *Tour) EarliestBookableDate(today time.Time) time.Time {
	y, m, d := today.Date()
	return time.Date(y, m, d+t.AdvanceBookingDays, 0, 0, 0, 0, time.UTC)
}

func compactLabel(s string) string {
	return strings.Join(strings.Fields(s), "")
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseOperatingDays parses the stored comma list ("mon,wed,fri").  Full
// weekday names are accepted too.  Unknown tokens are ignored.
func ParseOperatingDays(s string) []time.Weekday {
	var days []time.Weekday
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if len(p) >= 3 {
			if wd, ok := weekdayNames[p[:3]]; ok {
				days = append(days, wd)
			}
		}
	}
	return days
}
