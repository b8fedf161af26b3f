package service

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
)

// ListMyReservations returns the customer's reservations, newest first.
func (s *BookingService) ListMyReservations(ctx context.Context, customerID string) ([]model.Reservation, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, invalidInput("customer id is required")
	}
	return s.ledger.ListByCustomer(ctx, customerID)
}

// GetReservation returns one reservation of the customer.  Reservations of
// other customers are reported as not found.
func (s *BookingService) GetReservation(ctx context.Context, customerID, id string) (*model.Reservation, error) {
	res, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	if res.CustomerID != customerID {
		return nil, classify(repository.ErrReservationNotFound)
	}
	return res, nil
}

// CancelReservation cancels a PENDING or CONFIRMED reservation of the
// customer whose booking date has not passed.
func (s *BookingService) CancelReservation(ctx context.Context, customerID, id string) (*model.Reservation, error) {
	cur, err := s.GetReservation(ctx, customerID, id)
	if err != nil {
		return nil, err
	}
	if cur.BookingDate.Before(s.today(s.now())) {
		return nil, invalidInput("reservation date %s has passed", cur.BookingDate.Format(model.DateLayout))
	}
	res, err := s.ledger.Transition(ctx, id, model.StatusCancelled, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrForbidden) {
			return nil, classify(repository.ErrReservationNotFound)
		}
		return nil, classify(err)
	}
	log.WithFields(log.Fields{"reservation_id": id, "customer_id": customerID}).Info("reservation cancelled by customer")
	s.publishReleased(ctx, []model.Reservation{*res}, queue.ReasonCancelled)
	return res, nil
}

// ListTourReservations returns every reservation of a tour on a date,
// whatever its status.
func (s *BookingService) ListTourReservations(ctx context.Context, tourID, date string) ([]model.Reservation, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	if _, err := s.tours.GetByID(ctx, tourID); err != nil {
		return nil, classify(err)
	}
	return s.ledger.ListByTourDate(ctx, tourID, day)
}

// SetReservationStatus lets an administrator complete or cancel a
// reservation.  Other targets are rejected as invalid input; moves the
// lifecycle forbids return ErrIllegalTransition.
func (s *BookingService) SetReservationStatus(ctx context.Context, id, status string) (*model.Reservation, error) {
	to, ok := model.ParseReservationStatus(strings.ToUpper(strings.TrimSpace(status)))
	if !ok || (to != model.StatusCompleted && to != model.StatusCancelled) {
		return nil, invalidInput("status must be COMPLETED or CANCELLED")
	}
	res, err := s.ledger.Transition(ctx, id, to, "")
	if err != nil {
		return nil, classify(err)
	}
	log.WithFields(log.Fields{"reservation_id": id, "status": to}).Info("reservation status changed by admin")
	if to == model.StatusCancelled {
		s.publishReleased(ctx, []model.Reservation{*res}, queue.ReasonCancelled)
	}
	return res, nil
}
