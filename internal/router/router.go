package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/tour-booking/internal/config"
	"github.com/iliyamo/tour-booking/internal/handler"
	"github.com/iliyamo/tour-booking/internal/middleware"
)

// Handlers bundles everything RegisterRoutes mounts.
type Handlers struct {
	Health   echo.HandlerFunc
	Public   *handler.PublicHandler
	Customer *handler.CustomerHandler
	Admin    *handler.AdminHandler
	Webhook  *handler.WebhookHandler
}

// Settings carries the route-level middleware configuration.  A nil Redis
// client disables the rate limiter and the catalog cache.
type Settings struct {
	JWTSecret string
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Redis     *redis.Client
}

// RegisterRoutes mounts the public, customer, admin and webhook routes.
func RegisterRoutes(e *echo.Echo, h Handlers, s Settings) {
	e.GET("/healthz", h.Health)

	// Guests browse the catalog and availability.  Only the catalog is
	// cached; availability changes with every booking.
	e.GET("/v1/tours/:id", h.Public.GetTour, middleware.NewRedisCache(s.Cache, s.Redis))
	e.GET("/v1/tours/:id/availability", h.Public.GetAvailability)

	// The payment provider authenticates with the signature header.
	e.POST("/v1/payments/webhook", h.Webhook.PaymentWebhook)

	customer := e.Group(
		"/v1",
		middleware.JWTAuth(s.JWTSecret),
		middleware.RequireRole(middleware.RoleCustomer),
	)
	customer.POST("/checkout", h.Customer.Checkout, middleware.NewTokenBucket(s.RateLimit, s.Redis))
	customer.GET("/my-reservations", h.Customer.ListReservations)
	customer.GET("/reservations/:id", h.Customer.GetReservation)
	customer.DELETE("/reservations/:id", h.Customer.CancelReservation)

	admin := e.Group(
		"/v1/admin",
		middleware.JWTAuth(s.JWTSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	admin.GET("/tours/:id/reservations", h.Admin.ListTourReservations)
	admin.PATCH("/reservations/:id", h.Admin.SetReservationStatus)
}
