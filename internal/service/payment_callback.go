package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/payment"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
)

// ConfirmOutcome classifies the rows touched by a payment confirmation.
type ConfirmOutcome = repository.ConfirmOutcome

// OnPaymentSucceeded confirms the pending holds of a paid session.  It is
// idempotent: rows already confirmed are reported and left alone.  Holds
// whose window lapsed before the payment arrived are cancelled and reported
// as Late; capacity is not re-checked for them.  An empty reservationIDs
// confirms every row tagged with the session.
func (s *BookingService) OnPaymentSucceeded(ctx context.Context, sessionRef, paymentIntentRef string, reservationIDs []string) (*ConfirmOutcome, error) {
	if strings.TrimSpace(sessionRef) == "" {
		return nil, invalidInput("session reference is required")
	}
	out, err := s.ledger.ConfirmSession(ctx, sessionRef, paymentIntentRef, reservationIDs, s.holdCutoff(s.now()))
	if err != nil {
		return nil, err
	}

	logger := log.WithField("session_id", sessionRef)
	logger.WithFields(log.Fields{
		"confirmed":         len(out.Confirmed),
		"already_confirmed": len(out.AlreadyConfirmed),
		"late":              len(out.Late),
		"skipped":           len(out.Skipped),
	}).Info("payment succeeded")
	if len(out.Late) > 0 {
		logger.WithField("reservation_ids", reservationIDsOf(out.Late)).Warn("payment arrived after hold expired; reservations cancelled")
	}
	if len(out.Missing) > 0 {
		logger.WithField("reservation_ids", out.Missing).Warn("payment references unknown reservations")
	}

	s.publishConfirmed(ctx, out.Confirmed)
	s.publishReleased(ctx, out.Late, queue.ReasonLatePayment)
	return out, nil
}

// OnPaymentExpired releases the still-pending holds of a session the
// provider gave up on.
func (s *BookingService) OnPaymentExpired(ctx context.Context, sessionRef string) ([]model.Reservation, error) {
	if strings.TrimSpace(sessionRef) == "" {
		return nil, invalidInput("session reference is required")
	}
	rows, err := s.ledger.ReleaseSession(ctx, sessionRef)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"session_id": sessionRef, "released": len(rows)}).Info("payment session expired")
	s.publishReleased(ctx, rows, queue.ReasonSessionExpired)
	return rows, nil
}

// HandlePaymentWebhook authenticates a provider delivery and dispatches it.
// Verification failures return ErrPaymentVerificationFailed and leave the
// ledger untouched; an authentic body that fails to decode returns a plain
// error so the delivery is retried.  Unknown event types are accepted and ignored.
func (s *BookingService) HandlePaymentWebhook(ctx context.Context, signature string, body []byte) error {
	if s.verifier == nil {
		return fmt.Errorf("%w: webhook verifier not configured", ErrPaymentVerificationFailed)
	}
	ev, err := s.verifier.ParseEvent(signature, body)
	if errors.Is(err, payment.ErrMalformedEvent) {
		// signature held; a 5xx makes the provider redeliver
		log.WithError(err).Error("payment webhook could not be decoded")
		return fmt.Errorf("payment webhook: %w", err)
	}
	if err != nil {
		log.WithError(err).Warn("payment webhook rejected")
		return fmt.Errorf("%w: %v", ErrPaymentVerificationFailed, err)
	}
	logger := log.WithFields(log.Fields{"event_id": ev.ID, "event_type": ev.Type})

	switch ev.Type {
	case payment.EventCheckoutCompleted:
		_, err = s.OnPaymentSucceeded(ctx, ev.Data.SessionID, ev.Data.PaymentIntentID, ev.Data.Metadata.ReservationIDs)
	case payment.EventCheckoutExpired:
		_, err = s.OnPaymentExpired(ctx, ev.Data.SessionID)
	default:
		logger.Debug("ignoring payment event")
		return nil
	}
	if err != nil && !errors.Is(err, ErrInvalidInput) {
		logger.WithError(err).Error("payment event processing failed")
	}
	return err
}

func reservationIDsOf(rows []model.Reservation) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}
