package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/queue"
)

// ExpireHolds cancels every PENDING reservation older than the hold window
// and returns how many were released.  Reads already ignore such rows; this
// makes the ledger reflect it.
func (s *BookingService) ExpireHolds(ctx context.Context) (int, error) {
	cutoff := s.holdCutoff(s.now())
	total := 0
	for {
		rows, err := s.ledger.ExpirePending(ctx, cutoff, s.opts.SweepBatch)
		if err != nil {
			return total, err
		}
		total += len(rows)
		s.publishReleased(ctx, rows, queue.ReasonHoldExpired)
		if len(rows) < s.opts.SweepBatch {
			return total, nil
		}
	}
}

// ExpirySweeper runs ExpireHolds on a fixed interval.
type ExpirySweeper struct {
	svc      *BookingService
	interval time.Duration
}

// NewExpirySweeper returns a sweeper; a non-positive interval means one minute.
func NewExpirySweeper(svc *BookingService, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{svc: svc, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *ExpirySweeper) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		n, err := w.svc.ExpireHolds(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.WithError(err).Error("hold expiry sweep failed")
		case n > 0:
			log.WithField("released", n).Info("expired holds released")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
