package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/lock"
	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/payment"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
)

// compensationTimeout bounds the rollback of a failed checkout.  It runs on
// a context detached from the request.
const compensationTimeout = 5 * time.Second

// Selection is one cart line: a party of Quantity on a tour, date and slot.
// UnitPriceCents is the price the client displayed; when set it must match
// the catalog.
type Selection struct {
	TourID         string
	Date           string
	TimeSlot       string
	Quantity       int
	UnitPriceCents *int64
}

// CheckoutResult is returned once every selection is held and the payment
// session exists.
type CheckoutResult struct {
	SessionID      string    `json:"session_id"`
	CheckoutURL    string    `json:"checkout_url"`
	ReservationIDs []string  `json:"reservation_ids"`
	TotalCents     int64     `json:"total_cents"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// held is a reservation created by this checkout plus what is needed to
// price it on the payment page.
type held struct {
	res   *model.Reservation
	tour  *model.Tour
	label string
	unit  int64
}

// InitiateCheckout places a PENDING hold for every selection, in order, then
// opens a payment session covering all of them.
//
// A failing selection cancels the holds already placed by this call and
// returns a *SelectionError.  A failing payment session cancels every hold
// and returns ErrPaymentUnavailable.  On success the holds carry the session
// reference so the payment webhook can find them.
func (s *BookingService) InitiateCheckout(ctx context.Context, customerID string, sels []Selection) (*CheckoutResult, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, invalidInput("customer id is required")
	}
	if len(sels) == 0 {
		return nil, invalidInput("at least one selection is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.CheckoutTimeout)
	defer cancel()

	logger := log.WithFields(log.Fields{"customer_id": customerID, "selections": len(sels)})
	tours := make(map[string]*model.Tour)
	var holds []held

	for i, sel := range sels {
		h, err := s.holdSelection(ctx, customerID, sel, tours)
		if err != nil {
			s.compensate(ctx, holds, queue.ReasonCompensation)
			logger.WithError(err).WithField("selection_index", i).Info("checkout rejected")
			return nil, &SelectionError{
				Index:    i,
				TourID:   sel.TourID,
				Date:     sel.Date,
				TimeSlot: sel.TimeSlot,
				Partial:  len(holds) > 0,
				Err:      err,
			}
		}
		holds = append(holds, h)
	}

	// The first hold lapses first; the session must not outlive it.
	expiresAt := holds[0].res.CreatedAt.Add(s.opts.HoldWindow).UTC()
	ids := make([]string, len(holds))
	items := make([]payment.LineItem, len(holds))
	var total int64
	for i, h := range holds {
		ids[i] = h.res.ID
		total += h.res.TotalPriceCents
		items[i] = payment.LineItem{
			Name:           h.tour.Title,
			Description:    h.res.BookingDate.Format(model.DateLayout) + " " + h.label,
			UnitAmountCent: h.unit,
			Quantity:       h.res.PartySize,
			Currency:       s.opts.Currency,
		}
	}

	pctx, pcancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
	session, err := s.payments.CreateCheckoutSession(pctx, payment.SessionRequest{
		LineItems:  items,
		SuccessURL: s.opts.SuccessURL,
		CancelURL:  s.opts.CancelURL,
		ExpiresAt:  expiresAt.Unix(),
		Metadata: map[string]string{
			"reservation_ids": payment.JoinReservationIDs(ids),
			"customer_id":     customerID,
		},
	})
	pcancel()
	if err != nil {
		s.compensate(ctx, holds, queue.ReasonCompensation)
		logger.WithError(err).Warn("payment session creation failed; holds released")
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	if err := s.ledger.AttachSession(ctx, ids, session.ID); err != nil {
		s.compensate(ctx, holds, queue.ReasonCompensation)
		logger.WithError(err).WithField("session_id", session.ID).Error("attach payment session failed; holds released")
		return nil, fmt.Errorf("attach payment session: %w", err)
	}

	logger.WithFields(log.Fields{"session_id": session.ID, "total_cents": total}).Info("checkout initiated")
	return &CheckoutResult{
		SessionID:      session.ID,
		CheckoutURL:    session.URL,
		ReservationIDs: ids,
		TotalCents:     total,
		ExpiresAt:      expiresAt,
	}, nil
}

// holdSelection validates one selection against the catalog and reserves it.
func (s *BookingService) holdSelection(ctx context.Context, customerID string, sel Selection, tours map[string]*model.Tour) (held, error) {
	if sel.Quantity < 1 {
		return held{}, invalidInput("quantity must be at least 1")
	}
	if strings.TrimSpace(sel.TourID) == "" {
		return held{}, invalidInput("tour id is required")
	}
	if strings.TrimSpace(sel.TimeSlot) == "" {
		return held{}, invalidInput("time slot is required")
	}
	day, err := parseDate(sel.Date)
	if err != nil {
		return held{}, err
	}

	tour, ok := tours[sel.TourID]
	if !ok {
		tour, err = s.tours.GetByID(ctx, sel.TourID)
		if err != nil {
			return held{}, classify(err)
		}
		tours[sel.TourID] = tour
	}
	if !tour.OperatesOn(day) {
		return held{}, invalidInput("tour does not operate on %s", day.Weekday())
	}
	if earliest := tour.EarliestBookableDate(s.today(s.now())); day.Before(earliest) {
		return held{}, invalidInput("earliest bookable date is %s", earliest.Format(model.DateLayout))
	}

	slot, ok := tour.FindSlotByLabel(sel.TimeSlot)
	if !ok {
		return held{}, classify(repository.ErrSlotNotFound)
	}
	if !slot.IsActive {
		return held{}, ErrSlotInactive
	}
	unit := tour.UnitPriceCents()
	if sel.UnitPriceCents != nil && *sel.UnitPriceCents != unit {
		return held{}, invalidInput("unit price %d does not match current price %d", *sel.UnitPriceCents, unit)
	}

	p := repository.ReserveParams{
		CustomerID:     customerID,
		TourID:         tour.ID,
		SlotID:         slot.ID,
		SlotIndex:      slot.Position,
		BookingDate:    day,
		PartySize:      sel.Quantity,
		UnitPriceCents: unit,
	}
	res, err := s.reserveWithRetry(ctx, p)
	if err != nil {
		return held{}, classify(err)
	}
	return held{res: res, tour: tour, label: slot.Label(), unit: unit}, nil
}

// reserveWithRetry retries ErrBusy with linear backoff.
func (s *BookingService) reserveWithRetry(ctx context.Context, p repository.ReserveParams) (*model.Reservation, error) {
	for attempt := 0; ; attempt++ {
		res, err := s.reserveOnce(ctx, p)
		if err == nil || !errors.Is(err, ErrBusy) || attempt >= s.opts.ReserveRetries {
			return res, err
		}
		log.WithFields(log.Fields{"slot_id": p.SlotID, "attempt": attempt + 1}).Debug("slot busy, retrying")
		t := time.NewTimer(time.Duration(attempt+1) * s.opts.RetryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
		case <-t.C:
		}
	}
}

// reserveOnce takes the slot lock and runs the ledger's atomic reserve.
func (s *BookingService) reserveOnce(ctx context.Context, p repository.ReserveParams) (*model.Reservation, error) {
	key := lock.SlotKey(p.TourID, p.BookingDate.Format(model.DateLayout), p.SlotID)
	release, err := s.locker.Acquire(ctx, key)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	case err != nil:
		// The row lock in the ledger still guards capacity.
		log.WithError(err).WithField("key", key).Warn("slot lock unavailable, relying on ledger row lock")
		release = func() {}
	}
	defer release()

	now := s.now()
	p.Now = now
	p.HoldCutoff = s.holdCutoff(now)
	return s.ledger.Reserve(ctx, p)
}

// compensate cancels holds placed by a checkout that could not finish.
func (s *BookingService) compensate(ctx context.Context, holds []held, reason string) {
	if len(holds) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	ids := make([]string, len(holds))
	rows := make([]model.Reservation, len(holds))
	for i, h := range holds {
		ids[i] = h.res.ID
		rows[i] = *h.res
	}
	n, err := s.ledger.CancelPending(cctx, ids)
	if err != nil {
		// The sweeper cancels these once the hold window passes.
		log.WithError(err).WithField("reservation_ids", ids).Error("checkout compensation failed")
		return
	}
	log.WithFields(log.Fields{"reservation_ids": ids, "cancelled": n}).Info("checkout holds released")
	s.publishReleased(cctx, rows, reason)
}
