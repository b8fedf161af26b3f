package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTourRepo_GetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTourRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM tours WHERE id = \?`).WithArgs("tour-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "price_cents", "discounted_price_cents", "operating_days", "advance_booking_days", "created_at", "updated_at"}).
			AddRow("tour-1", "City Walk", 1500, 1200, "mon,wed", 2, testNow, testNow))
	mock.ExpectQuery(`SELECT .+ FROM tour_slots WHERE tour_id = \? ORDER BY position`).WithArgs("tour-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tour_id", "position", "start_time", "end_time", "max_capacity", "is_active"}).
			AddRow("slot-a", "tour-1", 3, "09:00", "11:00", 10, true).
			AddRow("slot-b", "tour-1", 7, "13:00", "15:00", 4, false))

	tour, err := repo.GetByID(context.Background(), "tour-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), tour.UnitPriceCents())
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, tour.OperatingDays)
	require.Len(t, tour.Slots, 2)
	assert.Equal(t, 0, tour.Slots[0].Position)
	assert.Equal(t, 1, tour.Slots[1].Position)
	assert.False(t, tour.Slots[1].IsActive)
}

func TestTourRepo_GetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTourRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM tours WHERE id = \?`).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTourNotFound)
}
