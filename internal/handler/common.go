package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/middleware"
	"github.com/iliyamo/tour-booking/internal/service"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeSlotInactive       = "SLOT_INACTIVE"
	CodeCapacityExceeded   = "CAPACITY_EXCEEDED"
	CodeIllegalTransition  = "ILLEGAL_TRANSITION"
	CodeBusy               = "BUSY"
	CodeForbidden          = "FORBIDDEN"
	CodePaymentUnavailable = "PAYMENT_UNAVAILABLE"
	CodeVerificationFailed = "PAYMENT_VERIFICATION_FAILED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInternal           = "INTERNAL"
)

const (
	busyRetryAfterSeconds = "1"
	maxWebhookBodyBytes   = 1 << 20
)

// statusFor maps a service error to an HTTP status and error code.  The
// order matters: verification failures also count as bad input, and a
// selection error can carry any other kind.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrPaymentVerificationFailed):
		return http.StatusBadRequest, CodeVerificationFailed
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, service.ErrSlotInactive):
		return http.StatusConflict, CodeSlotInactive
	case errors.Is(err, service.ErrCapacityExceeded):
		return http.StatusConflict, CodeCapacityExceeded
	case errors.Is(err, service.ErrIllegalTransition):
		return http.StatusConflict, CodeIllegalTransition
	case errors.Is(err, service.ErrBusy):
		return http.StatusServiceUnavailable, CodeBusy
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, service.ErrPaymentUnavailable):
		return http.StatusBadGateway, CodePaymentUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// respondError writes the JSON error body for err.  Unclassified errors are
// logged and hidden behind a generic message.
func respondError(c echo.Context, err error) error {
	status, code := statusFor(err)
	body := echo.Map{"error": err.Error(), "code": code}

	var selErr *service.SelectionError
	if errors.As(err, &selErr) {
		body["selection_index"] = selErr.Index
		body["tour_id"] = selErr.TourID
		body["date"] = selErr.Date
		body["time_slot"] = selErr.TimeSlot
		if selErr.Partial {
			body["partial"] = true
		}
	}
	var capErr *service.CapacityError
	if errors.As(err, &capErr) {
		body["remaining"] = capErr.Remaining()
	}

	switch status {
	case http.StatusServiceUnavailable:
		c.Response().Header().Set("Retry-After", busyRetryAfterSeconds)
	case http.StatusInternalServerError:
		log.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
		}).Error("request failed")
		body["error"] = "internal error"
	}
	return c.JSON(status, body)
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "code": CodeUnauthorized})
}

// customerID returns the authenticated subject or "" when JWTAuth did not run.
func customerID(c echo.Context) string {
	return strings.TrimSpace(middleware.UserID(c))
}

// bindAndValidate decodes the request body into dst and runs the echo
// validator on it.  Both failures are reported as invalid input.
func bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", service.ErrInvalidInput)
	}
	if err := c.Validate(dst); err != nil {
		return err
	}
	return nil
}

// RequestValidator adapts go-playground/validator to echo.Validator.
// Field names in messages use the json tag.
type RequestValidator struct {
	v *validator.Validate
}

// NewValidator returns the validator installed on the echo instance.
func NewValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{v: v}
}

// Validate implements echo.Validator.
func (rv *RequestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, field+" failed "+fe.Tag()+"="+fe.Param())
		} else {
			msgs = append(msgs, field+" failed "+fe.Tag())
		}
	}
	return fmt.Errorf("%w: %s", service.ErrInvalidInput, strings.Join(msgs, "; "))
}
