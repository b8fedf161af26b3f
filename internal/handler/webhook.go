package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/payment"
	"github.com/iliyamo/tour-booking/internal/service"
)

// PaymentEvents consumes verified payment provider callbacks.
type PaymentEvents interface {
	HandlePaymentWebhook(ctx context.Context, signature string, body []byte) error
}

// WebhookHandler receives payment provider callbacks.  It is not behind
// JWTAuth; the signature header authenticates the sender.
type WebhookHandler struct {
	Events PaymentEvents
}

func NewWebhookHandler(ev PaymentEvents) *WebhookHandler {
	if ev == nil {
		panic("nil payment events passed to NewWebhookHandler")
	}
	return &WebhookHandler{Events: ev}
}

// PaymentWebhook handles POST /v1/payments/webhook.  The raw body is needed
// for signature verification, so it is read before any decoding.  A 400
// tells the provider not to retry; a 5xx makes it redeliver.
func (h *WebhookHandler) PaymentWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodyBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body", "code": CodeInvalidInput})
	}
	sig := c.Request().Header.Get(payment.SignatureHeader)

	if err := h.Events.HandlePaymentWebhook(c.Request().Context(), sig, body); err != nil {
		if errors.Is(err, service.ErrPaymentVerificationFailed) {
			log.WithError(err).WithField("remote_ip", c.RealIP()).Warn("payment webhook rejected")
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
