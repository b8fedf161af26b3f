package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/payment"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
)

// memLedger is an in-memory ReservationStore.  A single mutex plays the
// role of the slot row lock, so Reserve is atomic like the SQL version.
type memLedger struct {
	mu       sync.Mutex
	tours    map[string]*model.Tour
	rows     []*model.Reservation
	seq      int
	failNext []error // returned by Reserve, one per call, before touching state
	onHold   func()  // runs after each successful Reserve
}

func newMemLedger(tours ...*model.Tour) *memLedger {
	l := &memLedger{tours: make(map[string]*model.Tour)}
	for _, t := range tours {
		l.tours[t.ID] = t
	}
	return l
}

func (l *memLedger) GetTour(_ context.Context, id string) (*model.Tour, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tours[id]
	if !ok {
		return nil, repository.ErrTourNotFound
	}
	cp := *t
	return &cp, nil
}

// tourStore adapts memLedger to TourStore.
type tourStore struct{ l *memLedger }

func (ts tourStore) GetByID(ctx context.Context, id string) (*model.Tour, error) {
	return ts.l.GetTour(ctx, id)
}

func counts(r *model.Reservation, cutoff time.Time) bool {
	return r.Status.HoldsCapacity() && !r.HoldExpired(cutoff)
}

func (l *memLedger) Reserve(_ context.Context, p repository.ReserveParams) (*model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.failNext) > 0 {
		err := l.failNext[0]
		l.failNext = l.failNext[1:]
		if err != nil {
			return nil, err
		}
	}
	t, ok := l.tours[p.TourID]
	if !ok {
		return nil, repository.ErrSlotNotFound
	}
	var slot *model.TimeSlot
	for i := range t.Slots {
		if t.Slots[i].ID == p.SlotID {
			slot = &t.Slots[i]
		}
	}
	if slot == nil {
		return nil, repository.ErrSlotNotFound
	}
	if !slot.IsActive {
		return nil, repository.ErrSlotInactive
	}
	used := 0
	for _, r := range l.rows {
		if r.TourID == p.TourID && r.SlotID == p.SlotID && r.BookingDate.Equal(p.BookingDate) && counts(r, p.HoldCutoff) {
			used += r.PartySize
		}
	}
	if used+p.PartySize > slot.MaxCapacity {
		return nil, &repository.CapacityError{MaxCapacity: slot.MaxCapacity, Committed: used, Requested: p.PartySize}
	}
	l.seq++
	res := &model.Reservation{
		ID:              fmt.Sprintf("res-%d", l.seq),
		CustomerID:      p.CustomerID,
		TourID:          p.TourID,
		SlotID:          p.SlotID,
		SlotIndex:       p.SlotIndex,
		BookingDate:     p.BookingDate,
		PartySize:       p.PartySize,
		TotalPriceCents: p.UnitPriceCents * int64(p.PartySize),
		Status:          model.StatusPending,
		CreatedAt:       p.Now,
		UpdatedAt:       p.Now,
	}
	l.rows = append(l.rows, res)
	if l.onHold != nil {
		l.onHold()
	}
	cp := *res
	return &cp, nil
}

func (l *memLedger) find(id string) *model.Reservation {
	for _, r := range l.rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (l *memLedger) AttachSession(_ context.Context, ids []string, sessionRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		if r := l.find(id); r != nil && r.Status == model.StatusPending {
			ref := sessionRef
			r.PaymentSessionRef = &ref
		}
	}
	return nil
}

func (l *memLedger) CancelPending(_ context.Context, ids []string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, id := range ids {
		if r := l.find(id); r != nil && r.Status == model.StatusPending {
			r.Status = model.StatusCancelled
			n++
		}
	}
	return n, nil
}

func (l *memLedger) ConfirmSession(_ context.Context, sessionRef, intentRef string, ids []string, cutoff time.Time) (*repository.ConfirmOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := &repository.ConfirmOutcome{}
	found := make(map[string]bool)
	for _, r := range l.rows {
		if r.PaymentSessionRef == nil || *r.PaymentSessionRef != sessionRef {
			continue
		}
		if len(ids) > 0 && !want[r.ID] {
			continue
		}
		found[r.ID] = true
		switch {
		case r.Status == model.StatusConfirmed:
			out.AlreadyConfirmed = append(out.AlreadyConfirmed, *r)
		case r.Status.IsTerminal():
			out.Skipped = append(out.Skipped, *r)
		case r.HoldExpired(cutoff):
			r.Status = model.StatusCancelled
			out.Late = append(out.Late, *r)
		default:
			ref := intentRef
			r.Status = model.StatusConfirmed
			r.PaymentIntentRef = &ref
			out.Confirmed = append(out.Confirmed, *r)
		}
	}
	for _, id := range ids {
		if !found[id] {
			out.Missing = append(out.Missing, id)
		}
	}
	return out, nil
}

func (l *memLedger) ReleaseSession(_ context.Context, sessionRef string) ([]model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Reservation
	for _, r := range l.rows {
		if r.PaymentSessionRef != nil && *r.PaymentSessionRef == sessionRef && r.Status == model.StatusPending {
			r.Status = model.StatusCancelled
			out = append(out, *r)
		}
	}
	return out, nil
}

func (l *memLedger) ExpirePending(_ context.Context, cutoff time.Time, limit int) ([]model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Reservation
	for _, r := range l.rows {
		if len(out) == limit {
			break
		}
		if r.HoldExpired(cutoff) {
			r.Status = model.StatusCancelled
			out = append(out, *r)
		}
	}
	return out, nil
}

func (l *memLedger) ListLive(_ context.Context, tourID string, date time.Time, cutoff time.Time) ([]model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Reservation
	for _, r := range l.rows {
		if r.TourID == tourID && r.BookingDate.Equal(date) && counts(r, cutoff) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (l *memLedger) ListByTourDate(_ context.Context, tourID string, date time.Time) ([]model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Reservation, 0)
	for _, r := range l.rows {
		if r.TourID == tourID && r.BookingDate.Equal(date) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (l *memLedger) ListByCustomer(_ context.Context, customerID string) ([]model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Reservation, 0)
	for _, r := range l.rows {
		if r.CustomerID == customerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (l *memLedger) GetByID(_ context.Context, id string) (*model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.find(id)
	if r == nil {
		return nil, repository.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (l *memLedger) Transition(_ context.Context, id string, to model.ReservationStatus, customerID string) (*model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.find(id)
	if r == nil {
		return nil, repository.ErrReservationNotFound
	}
	if customerID != "" && r.CustomerID != customerID {
		return nil, repository.ErrForbidden
	}
	if !model.CanTransitionTo(r.Status, to) {
		return nil, repository.ErrIllegalTransition
	}
	r.Status = to
	cp := *r
	return &cp, nil
}

func (l *memLedger) status(id string) model.ReservationStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.find(id); r != nil {
		return r.Status
	}
	return ""
}

func (l *memLedger) snapshot() []model.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Reservation, len(l.rows))
	for i, r := range l.rows {
		out[i] = *r
	}
	return out
}

// fakeProvider records session requests.
type fakeProvider struct {
	mu    sync.Mutex
	err   error
	calls int
	last  payment.SessionRequest
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	id := fmt.Sprintf("cs_%d", p.calls)
	return &payment.Session{ID: id, URL: "https://pay.example/" + id}, nil
}

// recPublisher records published events.
type recPublisher struct {
	mu        sync.Mutex
	confirmed []queue.BookingConfirmedEvent
	released  []queue.BookingReleasedEvent
}

func (p *recPublisher) PublishConfirmed(_ context.Context, ev queue.BookingConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, ev)
	return nil
}

func (p *recPublisher) PublishReleased(_ context.Context, ev queue.BookingReleasedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, ev)
	return errors.New("broker down") // failures must not affect callers
}

func (p *recPublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.confirmed), len(p.released)
}

func (p *recPublisher) releasedReasons() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.released))
	for i, ev := range p.released {
		out[i] = ev.Reason
	}
	return out
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

const (
	webhookSecret = "whsec_test"
	bookingDate   = "2025-06-01"
)

func int64p(v int64) *int64 { return &v }

// cityWalk has slot 0 (capacity 10), slot 1 (capacity 4) and an inactive slot 2.
func cityWalk() *model.Tour {
	return &model.Tour{
		ID:         "tour-1",
		Title:      "City Walk",
		PriceCents: 1500,
		Slots: []model.TimeSlot{
			{ID: "slot-a", TourID: "tour-1", Position: 0, StartTime: "09:00", EndTime: "11:00", MaxCapacity: 10, IsActive: true},
			{ID: "slot-b", TourID: "tour-1", Position: 1, StartTime: "13:00", EndTime: "15:00", MaxCapacity: 4, IsActive: true},
			{ID: "slot-c", TourID: "tour-1", Position: 2, StartTime: "17:00", EndTime: "19:00", MaxCapacity: 6, IsActive: false},
		},
	}
}

type harness struct {
	svc    *BookingService
	ledger *memLedger
	pay    *fakeProvider
	events *recPublisher
	clock  *clock
}

func newHarness(t *testing.T, opts Options, tours ...*model.Tour) *harness {
	t.Helper()
	if len(tours) == 0 {
		tours = []*model.Tour{cityWalk()}
	}
	h := &harness{
		ledger: newMemLedger(tours...),
		pay:    &fakeProvider{},
		events: &recPublisher{},
		clock:  &clock{t: time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)},
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	h.svc = NewBookingService(Deps{
		Tours:    tourStore{h.ledger},
		Ledger:   h.ledger,
		Payments: h.pay,
		Verifier: payment.NewVerifier(webhookSecret, 0),
		Events:   h.events,
	}, opts)
	h.svc.now = h.clock.Now
	return h
}

func sel(slot string, qty int) Selection {
	return Selection{TourID: "tour-1", Date: bookingDate, TimeSlot: slot, Quantity: qty}
}
