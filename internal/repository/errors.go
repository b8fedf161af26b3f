// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// booking service and handlers to distinguish between different failure
// scenarios without inspecting driver errors.
package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller attempts an operation
// on a reservation they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrTourNotFound indicates that a tour was not located in the DB.
var ErrTourNotFound = errors.New("tour not found")

// ErrSlotNotFound indicates that a slot does not exist for the tour.
var ErrSlotNotFound = errors.New("time slot not found")

// ErrSlotInactive is returned when a reservation targets a disabled slot.
var ErrSlotInactive = errors.New("time slot is not active")

// ErrReservationNotFound indicates that no reservation matched.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrCapacityExceeded is matched by *CapacityError via errors.Is.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrIllegalTransition is returned for a status change the lifecycle forbids.
var ErrIllegalTransition = errors.New("illegal reservation status transition")

// ErrBusy signals lock contention on a slot.  The operation can be retried.
var ErrBusy = errors.New("slot is busy, try again")

// CapacityError carries the numbers behind a rejected reserve.
type CapacityError struct {
	MaxCapacity int
	Committed   int
	Requested   int
}

// Remaining is the number of units still free on the slot.
func (e *CapacityError) Remaining() int {
	if r := e.MaxCapacity - e.Committed; r > 0 {
		return r
	}
	return 0
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: requested %d, only %d remaining", e.Requested, e.Remaining())
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacityExceeded }

// MySQL error numbers that indicate contention rather than a broken query.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// mapDriverError converts lock wait timeouts and deadlocks into ErrBusy and
// leaves everything else untouched.
func mapDriverError(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == mysqlLockWaitTimeout || me.Number == mysqlDeadlock) {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}
