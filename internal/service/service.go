// Package service implements the booking engine: availability, checkout
// holds, payment reconciliation and hold expiry on top of the reservation
// ledger.  The ledger is the only shared state; nothing is cached between
// calls.
package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/lock"
	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/payment"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
)

// TourStore reads the slot catalog.
type TourStore interface {
	GetByID(ctx context.Context, id string) (*model.Tour, error)
}

// ReservationStore is the reservation ledger.  *repository.ReservationRepo
// implements it.
type ReservationStore interface {
	Reserve(ctx context.Context, p repository.ReserveParams) (*model.Reservation, error)
	AttachSession(ctx context.Context, ids []string, sessionRef string) error
	CancelPending(ctx context.Context, ids []string) (int64, error)
	ConfirmSession(ctx context.Context, sessionRef, intentRef string, ids []string, cutoff time.Time) (*repository.ConfirmOutcome, error)
	ReleaseSession(ctx context.Context, sessionRef string) ([]model.Reservation, error)
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Reservation, error)
	ListLive(ctx context.Context, tourID string, date time.Time, cutoff time.Time) ([]model.Reservation, error)
	ListByTourDate(ctx context.Context, tourID string, date time.Time) ([]model.Reservation, error)
	ListByCustomer(ctx context.Context, customerID string) ([]model.Reservation, error)
	GetByID(ctx context.Context, id string) (*model.Reservation, error)
	Transition(ctx context.Context, id string, to model.ReservationStatus, customerID string) (*model.Reservation, error)
}

// EventPublisher receives booking lifecycle events.  *queue.Publisher
// implements it.  Publish failures are logged, never propagated.
type EventPublisher interface {
	PublishConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
	PublishReleased(ctx context.Context, ev queue.BookingReleasedEvent) error
}

type noopPublisher struct{}

func (noopPublisher) PublishConfirmed(context.Context, queue.BookingConfirmedEvent) error { return nil }
func (noopPublisher) PublishReleased(context.Context, queue.BookingReleasedEvent) error   { return nil }

// Deps are the collaborators of BookingService.  Locker and Events may be
// nil; a no-op implementation is used instead.
type Deps struct {
	Tours    TourStore
	Ledger   ReservationStore
	Locker   lock.Locker
	Payments payment.Provider
	Verifier *payment.Verifier
	Events   EventPublisher
}

// Options tune the engine.  Zero values take the defaults below.
type Options struct {
	HoldWindow      time.Duration // 30m
	CheckoutTimeout time.Duration // 15s
	PaymentTimeout  time.Duration // 10s
	ReserveRetries  int           // extra attempts after ErrBusy
	RetryBackoff    time.Duration // 50ms, multiplied by the attempt number
	SweepBatch      int           // 200
	Policy          AvailabilityPolicy
	Location        *time.Location // calendar used for "today"
	Currency        string
	SuccessURL      string
	CancelURL       string
}

func (o *Options) withDefaults() {
	if o.HoldWindow <= 0 {
		o.HoldWindow = 30 * time.Minute
	}
	if o.CheckoutTimeout <= 0 {
		o.CheckoutTimeout = 15 * time.Second
	}
	if o.PaymentTimeout <= 0 {
		o.PaymentTimeout = 10 * time.Second
	}
	if o.ReserveRetries < 0 {
		o.ReserveRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = 200
	}
	if o.Policy == "" {
		o.Policy = PolicyBinary
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Currency == "" {
		o.Currency = "usd"
	}
}

// BookingService is the booking engine.  It is safe for concurrent use.
type BookingService struct {
	tours    TourStore
	ledger   ReservationStore
	locker   lock.Locker
	payments payment.Provider
	verifier *payment.Verifier
	events   EventPublisher
	opts     Options
	now      func() time.Time
}

// NewBookingService wires the engine.
func NewBookingService(d Deps, opts Options) *BookingService {
	opts.withDefaults()
	s := &BookingService{
		tours:    d.Tours,
		ledger:   d.Ledger,
		locker:   d.Locker,
		payments: d.Payments,
		verifier: d.Verifier,
		events:   d.Events,
		opts:     opts,
		now:      time.Now,
	}
	if s.locker == nil {
		s.locker = lock.NoopLocker{}
	}
	if s.events == nil {
		s.events = noopPublisher{}
	}
	return s
}

// HoldWindow returns the configured pending-hold lifetime.
func (s *BookingService) HoldWindow() time.Duration { return s.opts.HoldWindow }

// GetTour returns the slot catalog of a tour.
func (s *BookingService) GetTour(ctx context.Context, id string) (*model.Tour, error) {
	t, err := s.tours.GetByID(ctx, id)
	return t, classify(err)
}

func (s *BookingService) holdCutoff(now time.Time) time.Time {
	return now.Add(-s.opts.HoldWindow)
}

// today is the current calendar date in the booking time zone, as UTC midnight.
func (s *BookingService) today(now time.Time) time.Time {
	y, m, d := now.In(s.opts.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *BookingService) publishConfirmed(ctx context.Context, rows []model.Reservation) {
	at := s.now().UTC().Format(time.RFC3339)
	for _, r := range rows {
		ev := queue.BookingConfirmedEvent{
			ReservationID:   r.ID,
			CustomerID:      r.CustomerID,
			TourID:          r.TourID,
			SlotID:          r.SlotID,
			SlotIndex:       r.SlotIndex,
			BookingDate:     r.BookingDate.Format(model.DateLayout),
			PartySize:       r.PartySize,
			TotalPriceCents: r.TotalPriceCents,
			PaymentSession:  deref(r.PaymentSessionRef),
			PaymentIntent:   deref(r.PaymentIntentRef),
			ConfirmedAt:     at,
		}
		if err := s.events.PublishConfirmed(ctx, ev); err != nil {
			log.WithError(err).WithField("reservation_id", r.ID).Warn("publish booking.confirmed failed")
		}
	}
}

func (s *BookingService) publishReleased(ctx context.Context, rows []model.Reservation, reason string) {
	at := s.now().UTC().Format(time.RFC3339)
	for _, r := range rows {
		ev := queue.BookingReleasedEvent{
			ReservationID: r.ID,
			CustomerID:    r.CustomerID,
			TourID:        r.TourID,
			SlotID:        r.SlotID,
			BookingDate:   r.BookingDate.Format(model.DateLayout),
			PartySize:     r.PartySize,
			Reason:        reason,
			ReleasedAt:    at,
		}
		if err := s.events.PublishReleased(ctx, ev); err != nil {
			log.WithError(err).WithField("reservation_id", r.ID).Warn("publish booking.released failed")
		}
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
