// Package payment talks to the external payment provider: it creates hosted
// checkout sessions and authenticates the provider's webhook deliveries.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// LineItem is one priced row on the hosted checkout page.
type LineItem struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	UnitAmountCent int64  `json:"unit_amount"`
	Quantity       int    `json:"quantity"`
	Currency       string `json:"currency"`
}

// SessionRequest is what the booking engine sends when a checkout starts.
// Metadata round-trips through the provider and comes back on the webhook.
type SessionRequest struct {
	LineItems  []LineItem        `json:"line_items"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	ExpiresAt  int64             `json:"expires_at"`
	Metadata   map[string]string `json:"metadata"`
}

// Session is the provider's answer.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Provider creates checkout sessions.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// ErrProviderUnavailable wraps transport failures, 5xx answers and an open
// circuit breaker.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// Client is the HTTP implementation of Provider.  Calls go through a circuit
// breaker so a failing provider is not hammered by every checkout.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Session]
}

// NewClient builds a provider client.  timeout bounds each HTTP call.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// Client-side rejections (4xx) say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrProviderUnavailable)
		},
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*Session](st),
	}
}

// CreateCheckoutSession posts the session request to the provider.
func (c *Client) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	s, err := c.breaker.Execute(func() (*Session, error) {
		return c.createSession(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return s, err
}

func (c *Client) createSession(ctx context.Context, req SessionRequest) (*Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("payment provider rejected session: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.ID == "" {
		return nil, errors.New("payment provider returned a session without id")
	}
	return &s, nil
}
