package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>" on every webhook delivery.
const SignatureHeader = "Payment-Signature"

// DefaultTolerance bounds how old a signed timestamp may be.
const DefaultTolerance = 5 * time.Minute

// Event types the booking engine reacts to.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrBadSignature     = errors.New("webhook signature mismatch")
	ErrStaleSignature   = errors.New("webhook timestamp outside tolerance")

	// ErrMalformedEvent is a correctly signed body that could not be decoded.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// Event is the webhook payload.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData holds the session the event refers to.
type EventData struct {
	SessionID       string        `json:"session_id"`
	PaymentIntentID string        `json:"payment_intent_id"`
	Metadata        EventMetadata `json:"metadata"`
}

// EventMetadata is the metadata the engine attached when creating the session.
// Session metadata is a flat string map, so reservation_ids arrives as a
// comma-joined string; a JSON array is accepted as well.
type EventMetadata struct {
	ReservationIDs []string `json:"reservation_ids"`
	CustomerID     string   `json:"customer_id"`
}

func (m *EventMetadata) UnmarshalJSON(data []byte) error {
	var raw struct {
		ReservationIDs json.RawMessage `json:"reservation_ids"`
		CustomerID     string          `json:"customer_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.CustomerID = raw.CustomerID
	m.ReservationIDs = nil

	ids := strings.TrimSpace(string(raw.ReservationIDs))
	if ids == "" || ids == "null" {
		return nil
	}
	var list []string
	if strings.HasPrefix(ids, "[") {
		if err := json.Unmarshal(raw.ReservationIDs, &list); err != nil {
			return fmt.Errorf("reservation_ids: %w", err)
		}
	} else {
		var joined string
		if err := json.Unmarshal(raw.ReservationIDs, &joined); err != nil {
			return fmt.Errorf("reservation_ids: %w", err)
		}
		list = strings.Split(joined, ",")
	}
	for _, id := range list {
		if id = strings.TrimSpace(id); id != "" {
			m.ReservationIDs = append(m.ReservationIDs, id)
		}
	}
	return nil
}

// JoinReservationIDs is the metadata encoding EventMetadata decodes.
func JoinReservationIDs(ids []string) string {
	return strings.Join(ids, ",")
}

// Verifier authenticates webhook bodies against the shared secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a verifier for secret.  A zero tolerance uses DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Sign produces a header value for body at time ts.  The provider does the
// same on its side; tests use it to build deliveries.
func Sign(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + computeMAC([]byte(secret), t, body)
}

func computeMAC(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against body.  Any v1 entry may match, so the
// provider can roll secrets by sending two signatures.
func (v *Verifier) Verify(header string, body []byte) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}
	if len(v.secret) == 0 {
		return errors.New("webhook secret not configured")
	}
	var (
		ts   string
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrMissingSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age > v.tolerance || age < -v.tolerance {
		return ErrStaleSignature
	}
	want := computeMAC(v.secret, ts, body)
	for _, s := range sigs {
		if hmac.Equal([]byte(s), []byte(want)) {
			return nil
		}
	}
	return ErrBadSignature
}

// ParseEvent verifies and decodes a webhook delivery.  Decode failures on an
// authentic body wrap ErrMalformedEvent rather than a signature error.
func (v *Verifier) ParseEvent(header string, body []byte) (*Event, error) {
	if err := v.Verify(header, body); err != nil {
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &ev, nil
}
