// Package repository contains data access logic for the booking engine.
// This file reads the tour slot catalog.  Tours and slots are written by the
// catalog administration tooling; the booking engine never mutates them.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/tour-booking/internal/model"
)

// TourRepo manages read access to tours and their slots.
type TourRepo struct {
	db *sql.DB
}

// NewTourRepo constructs a TourRepo with the given DB handle.
func NewTourRepo(db *sql.DB) *TourRepo {
	return &TourRepo{db: db}
}

// GetByID loads a tour together with its ordered slot catalog.  It returns
// ErrTourNotFound if there is no matching row.
func (r *TourRepo) GetByID(ctx context.Context, id string) (*model.Tour, error) {
	const q = `SELECT id, title, price_cents, discounted_price_cents, operating_days, advance_booking_days, created_at, updated_at
               FROM tours WHERE id = ?`
	var (
		t          model.Tour
		discounted sql.NullInt64
		days       string
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.Title, &t.PriceCents, &discounted, &days, &t.AdvanceBookingDays, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTourNotFound
		}
		return nil, err
	}
	if discounted.Valid {
		v := discounted.Int64
		t.DiscountedPriceCents = &v
	}
	t.OperatingDays = model.ParseOperatingDays(days)

	slots, err := r.listSlots(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.Slots = slots
	return &t, nil
}

// listSlots returns the slots of a tour ordered by position.  Position is
// re-numbered from zero so the index shown to customers is dense even when
// the stored positions have gaps after catalog edits.
func (r *TourRepo) listSlots(ctx context.Context, tourID string) ([]model.TimeSlot, error) {
	const q = `SELECT id, tour_id, position, start_time, end_time, max_capacity, is_active
               FROM tour_slots WHERE tour_id = ? ORDER BY position ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, tourID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	slots := make([]model.TimeSlot, 0)
	for rows.Next() {
		var s model.TimeSlot
		if err := rows.Scan(&s.ID, &s.TourID, &s.Position, &s.StartTime, &s.EndTime, &s.MaxCapacity, &s.IsActive); err != nil {
			return nil, err
		}
		s.Position = len(slots)
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}
