package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/tour-booking/internal/model"
)

// ReservationRepo is the reservation ledger.  Rows are never deleted; they
// move through the status lifecycle instead.  All timestamps are UTC.
//
// A pending row holds capacity only while it is younger than the hold
// window.  Callers pass the cutoff (now - window) explicitly so every query
// evaluates expiry against the same clock.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, customer_id, tour_id, slot_id, slot_index, booking_date, party_size,
       total_price_cents, status, payment_session_ref, payment_intent_ref, created_at, updated_at`

// liveFilter selects rows that currently hold capacity.  The single
// placeholder is the hold cutoff.
const liveFilter = `(status = 'CONFIRMED' OR (status = 'PENDING' AND created_at > ?))`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (model.Reservation, error) {
	var (
		res     model.Reservation
		status  string
		session sql.NullString
		intent  sql.NullString
	)
	err := s.Scan(
		&res.ID, &res.CustomerID, &res.TourID, &res.SlotID, &res.SlotIndex, &res.BookingDate, &res.PartySize,
		&res.TotalPriceCents, &status, &session, &intent, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return res, err
	}
	res.Status = model.ReservationStatus(status)
	if session.Valid {
		v := session.String
		res.PaymentSessionRef = &v
	}
	if intent.Valid {
		v := intent.String
		res.PaymentIntentRef = &v
	}
	return res, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryReservations(ctx context.Context, q queryer, query string, args ...any) ([]model.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// inClause returns "?,?,?" for n values and the values as []any.
func inClause(ids []string) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return strings.Join(ph, ","), args
}

// ReserveParams describes one pending hold to place.
type ReserveParams struct {
	CustomerID     string
	TourID         string
	SlotID         string
	SlotIndex      int
	BookingDate    time.Time
	PartySize      int
	UnitPriceCents int64
	Now            time.Time
	HoldCutoff     time.Time
}

// Reserve atomically checks capacity and inserts a PENDING row.  The slot's
// catalog row is locked with SELECT ... FOR UPDATE for the duration of the
// transaction, so concurrent reserves on the same slot serialize on the
// database and the capacity sum can't go stale between check and insert.
//
// Errors: ErrSlotNotFound, ErrSlotInactive, *CapacityError, ErrBusy (deadlock
// or lock wait timeout), or a driver error.
func (r *ReservationRepo) Reserve(ctx context.Context, p ReserveParams) (*model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var (
		maxCapacity int
		active      bool
	)
	const lockQ = `SELECT max_capacity, is_active FROM tour_slots WHERE id = ? AND tour_id = ? FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lockQ, p.SlotID, p.TourID).Scan(&maxCapacity, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, mapDriverError(err)
	}
	if !active {
		return nil, ErrSlotInactive
	}

	date := p.BookingDate.Format(model.DateLayout)
	var used int
	const sumQ = `SELECT COALESCE(SUM(party_size), 0) FROM reservations
                  WHERE tour_id = ? AND booking_date = ? AND slot_id = ? AND ` + liveFilter
	if err := tx.QueryRowContext(ctx, sumQ, p.TourID, date, p.SlotID, p.HoldCutoff).Scan(&used); err != nil {
		return nil, mapDriverError(err)
	}
	if used+p.PartySize > maxCapacity {
		return nil, &CapacityError{MaxCapacity: maxCapacity, Committed: used, Requested: p.PartySize}
	}

	now := p.Now.UTC()
	res := &model.Reservation{
		ID:              uuid.NewString(),
		CustomerID:      p.CustomerID,
		TourID:          p.TourID,
		SlotID:          p.SlotID,
		SlotIndex:       p.SlotIndex,
		BookingDate:     p.BookingDate,
		PartySize:       p.PartySize,
		TotalPriceCents: p.UnitPriceCents * int64(p.PartySize),
		Status:          model.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	const ins = `INSERT INTO reservations
                 (id, customer_id, tour_id, slot_id, slot_index, booking_date, party_size, total_price_cents, status, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, ins,
		res.ID, res.CustomerID, res.TourID, res.SlotID, res.SlotIndex, date, res.PartySize,
		res.TotalPriceCents, string(res.Status), now, now,
	); err != nil {
		return nil, mapDriverError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapDriverError(err)
	}
	committed = true
	return res, nil
}

// AttachSession tags pending rows with the external checkout session.
func (r *ReservationRepo) AttachSession(ctx context.Context, ids []string, sessionRef string) error {
	if len(ids) == 0 {
		return nil
	}
	ph, args := inClause(ids)
	q := `UPDATE reservations SET payment_session_ref = ? WHERE status = 'PENDING' AND id IN (` + ph + `)`
	_, err := r.db.ExecContext(ctx, q, append([]any{sessionRef}, args...)...)
	return err
}

// CancelPending moves the given rows from PENDING to CANCELLED and returns
// how many changed.  Rows in any other state are left alone, which makes the
// call safe to repeat.
func (r *ReservationRepo) CancelPending(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph, args := inClause(ids)
	q := `UPDATE reservations SET status = 'CANCELLED' WHERE status = 'PENDING' AND id IN (` + ph + `)`
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ConfirmOutcome classifies the rows of a confirmed payment session.
type ConfirmOutcome struct {
	Confirmed        []model.Reservation // PENDING -> CONFIRMED by this call
	AlreadyConfirmed []model.Reservation // no-op, delivered before
	Late             []model.Reservation // hold lapsed before payment; cancelled
	Skipped          []model.Reservation // CANCELLED or COMPLETED, untouched
	Missing          []string            // ids not found for the session
}

// ConfirmSession finalizes the rows of a paid checkout session.  When ids is
// empty every row tagged with the session is considered.  Rows are locked
// for the classification so a concurrent sweep can't interleave.
func (r *ReservationRepo) ConfirmSession(ctx context.Context, sessionRef, intentRef string, ids []string, cutoff time.Time) (*ConfirmOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE payment_session_ref = ?`
	args := []any{sessionRef}
	if len(ids) > 0 {
		ph, idArgs := inClause(ids)
		q += ` AND id IN (` + ph + `)`
		args = append(args, idArgs...)
	}
	q += ` ORDER BY created_at ASC, id ASC FOR UPDATE`
	rows, err := queryReservations(ctx, tx, q, args...)
	if err != nil {
		return nil, mapDriverError(err)
	}

	out := &ConfirmOutcome{}
	found := make(map[string]bool, len(rows))
	var confirmIDs, lateIDs []string
	for _, res := range rows {
		found[res.ID] = true
		switch {
		case res.Status == model.StatusConfirmed:
			out.AlreadyConfirmed = append(out.AlreadyConfirmed, res)
		case res.Status.IsTerminal():
			out.Skipped = append(out.Skipped, res)
		case res.HoldExpired(cutoff):
			lateIDs = append(lateIDs, res.ID)
			res.Status = model.StatusCancelled
			out.Late = append(out.Late, res)
		default:
			confirmIDs = append(confirmIDs, res.ID)
			res.Status = model.StatusConfirmed
			ref := intentRef
			res.PaymentIntentRef = &ref
			out.Confirmed = append(out.Confirmed, res)
		}
	}
	for _, id := range ids {
		if !found[id] {
			out.Missing = append(out.Missing, id)
		}
	}

	if len(confirmIDs) > 0 {
		ph, idArgs := inClause(confirmIDs)
		upd := `UPDATE reservations SET status = 'CONFIRMED', payment_intent_ref = ? WHERE status = 'PENDING' AND id IN (` + ph + `)`
		if _, err := tx.ExecContext(ctx, upd, append([]any{intentRef}, idArgs...)...); err != nil {
			return nil, mapDriverError(err)
		}
	}
	if len(lateIDs) > 0 {
		ph, idArgs := inClause(lateIDs)
		upd := `UPDATE reservations SET status = 'CANCELLED' WHERE status = 'PENDING' AND id IN (` + ph + `)`
		if _, err := tx.ExecContext(ctx, upd, idArgs...); err != nil {
			return nil, mapDriverError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, mapDriverError(err)
	}
	committed = true
	return out, nil
}

// ReleaseSession cancels every still-pending row of a session and returns
// the rows that were released.
func (r *ReservationRepo) ReleaseSession(ctx context.Context, sessionRef string) ([]model.Reservation, error) {
	const sel = `SELECT ` + reservationColumns + ` FROM reservations
                 WHERE payment_session_ref = ? AND status = 'PENDING' FOR UPDATE`
	return r.cancelSelected(ctx, sel, sessionRef)
}

// ExpirePending cancels up to limit PENDING rows created at or before the
// cutoff and returns them.  The sweep calls it repeatedly until it returns
// fewer than limit rows.
func (r *ReservationRepo) ExpirePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Reservation, error) {
	const sel = `SELECT ` + reservationColumns + ` FROM reservations
                 WHERE status = 'PENDING' AND created_at <= ?
                 ORDER BY created_at ASC LIMIT ? FOR UPDATE`
	return r.cancelSelected(ctx, sel, cutoff, limit)
}

// cancelSelected locks the rows returned by sel and moves them to CANCELLED
// in one transaction.
func (r *ReservationRepo) cancelSelected(ctx context.Context, sel string, args ...any) ([]model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	rows, err := queryReservations(ctx, tx, sel, args...)
	if err != nil {
		return nil, mapDriverError(err)
	}
	if len(rows) == 0 {
		return rows, nil
	}
	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
		rows[i].Status = model.StatusCancelled
	}
	ph, idArgs := inClause(ids)
	upd := `UPDATE reservations SET status = 'CANCELLED' WHERE status = 'PENDING' AND id IN (` + ph + `)`
	if _, err := tx.ExecContext(ctx, upd, idArgs...); err != nil {
		return nil, mapDriverError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapDriverError(err)
	}
	committed = true
	return rows, nil
}

// ListLive returns the rows currently holding capacity on a tour and date:
// CONFIRMED rows and PENDING rows created after the cutoff.
func (r *ReservationRepo) ListLive(ctx context.Context, tourID string, date time.Time, cutoff time.Time) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations
          WHERE tour_id = ? AND booking_date = ? AND ` + liveFilter + `
          ORDER BY created_at ASC`
	return queryReservations(ctx, r.db, q, tourID, date.Format(model.DateLayout), cutoff)
}

// ListByTourDate returns every row of a tour on a date regardless of status,
// newest first.  Used by administrators.
func (r *ReservationRepo) ListByTourDate(ctx context.Context, tourID string, date time.Time) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations
          WHERE tour_id = ? AND booking_date = ?
          ORDER BY created_at DESC`
	return queryReservations(ctx, r.db, q, tourID, date.Format(model.DateLayout))
}

// ListByCustomer returns all reservations of a customer, newest first.
func (r *ReservationRepo) ListByCustomer(ctx context.Context, customerID string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations
          WHERE customer_id = ?
          ORDER BY created_at DESC`
	return queryReservations(ctx, r.db, q, customerID)
}

// GetByID returns a single reservation or ErrReservationNotFound.
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &res, nil
}

// Transition moves a reservation to a new status under a row lock.  When
// customerID is non-empty the row must belong to that customer, otherwise
// ErrForbidden is returned.  Disallowed moves return ErrIllegalTransition.
func (r *ReservationRepo) Transition(ctx context.Context, id string, to model.ReservationStatus, customerID string) (*model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? FOR UPDATE`
	res, err := scanReservation(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, mapDriverError(err)
	}
	if customerID != "" && res.CustomerID != customerID {
		return nil, ErrForbidden
	}
	if !model.CanTransitionTo(res.Status, to) {
		return nil, ErrIllegalTransition
	}
	const upd = `UPDATE reservations SET status = ? WHERE id = ? AND status = ?`
	if _, err := tx.ExecContext(ctx, upd, string(to), id, string(res.Status)); err != nil {
		return nil, mapDriverError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapDriverError(err)
	}
	committed = true
	res.Status = to
	return &res, nil
}
