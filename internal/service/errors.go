package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/tour-booking/internal/repository"
)

// Error kinds returned by BookingService.  Handlers match them with
// errors.Is / errors.As; every returned error wraps at most one kind plus
// ErrPartialBatchFailure for multi-selection checkouts.
var (
	ErrNotFound                  = errors.New("not found")
	ErrInvalidInput              = errors.New("invalid input")
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrPartialBatchFailure       = errors.New("checkout failed after earlier selections were reserved")
	ErrPaymentUnavailable        = errors.New("payment provider unavailable")

	// ErrSlotNotFound is returned wrapped in ErrNotFound.
	ErrSlotNotFound      = repository.ErrSlotNotFound
	ErrSlotInactive      = repository.ErrSlotInactive
	ErrCapacityExceeded  = repository.ErrCapacityExceeded
	ErrBusy              = repository.ErrBusy
	ErrIllegalTransition = repository.ErrIllegalTransition
	ErrForbidden         = repository.ErrForbidden
)

// CapacityError carries the remaining units of a full slot.
type CapacityError = repository.CapacityError

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// classify folds the repository's not-found sentinels into ErrNotFound while
// keeping the original error reachable.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrTourNotFound),
		errors.Is(err, repository.ErrSlotNotFound),
		errors.Is(err, repository.ErrReservationNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// SelectionError names the checkout selection that failed.
type SelectionError struct {
	Index    int
	TourID   string
	Date     string
	TimeSlot string
	// Partial is set when earlier selections had been reserved (and were
	// rolled back) before this one failed.
	Partial bool
	Err     error
}

func (e *SelectionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "selection %d (tour %s, %s, %s): %v", e.Index, e.TourID, e.Date, e.TimeSlot, e.Err)
	if e.Partial {
		b.WriteString(" (earlier selections released)")
	}
	return b.String()
}

func (e *SelectionError) Unwrap() []error {
	if e.Partial {
		return []error{e.Err, ErrPartialBatchFailure}
	}
	return []error{e.Err}
}
