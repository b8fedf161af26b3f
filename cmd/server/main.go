package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/tour-booking/internal/config"
	"github.com/iliyamo/tour-booking/internal/database"
	"github.com/iliyamo/tour-booking/internal/handler"
	"github.com/iliyamo/tour-booking/internal/lock"
	"github.com/iliyamo/tour-booking/internal/middleware"
	"github.com/iliyamo/tour-booking/internal/payment"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
	"github.com/iliyamo/tour-booking/internal/router"
	"github.com/iliyamo/tour-booking/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	config.ConfigureLogging(cfg.Env, cfg.LogLevel)

	db, err := database.Open(database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := database.Migrate(db, cfg.DBName); err != nil {
			log.WithError(err).Fatal("database migration failed")
		}
	}

	// Redis backs the slot lock, the checkout rate limiter and the catalog
	// cache.  Without it the database row lock alone guards capacity.
	rdb := config.NewRedisClient()
	var locker lock.Locker = lock.NoopLocker{}
	if rdb != nil {
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	}

	deps := service.Deps{
		Tours:    repository.NewTourRepo(db),
		Ledger:   repository.NewReservationRepo(db),
		Locker:   locker,
		Payments: payment.NewClient(cfg.PaymentAPIBase, cfg.PaymentAPIKey, cfg.PaymentTimeout),
		Verifier: payment.NewVerifier(cfg.PaymentWebhookSecret, payment.DefaultTolerance),
	}
	if cfg.RabbitMQURL != "" {
		pub := queue.NewPublisher(cfg.RabbitMQURL)
		defer pub.Close()
		deps.Events = pub
	} else {
		log.Warn("RABBITMQ_URL not set; booking events are not published")
	}

	svc := service.NewBookingService(deps, service.Options{
		HoldWindow:      cfg.HoldWindow,
		CheckoutTimeout: cfg.CheckoutTimeout,
		PaymentTimeout:  cfg.PaymentTimeout,
		ReserveRetries:  cfg.ReserveRetries,
		Policy:          service.ParseAvailabilityPolicy(cfg.AvailabilityPolicy),
		Location:        cfg.Timezone,
		Currency:        cfg.Currency,
		SuccessURL:      cfg.PaymentSuccessURL,
		CancelURL:       cfg.PaymentCancelURL,
	})

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(echomw.Recover())

	router.RegisterRoutes(e, router.Handlers{
		Health:   handler.Health(db, rdb),
		Public:   handler.NewPublicHandler(svc),
		Customer: handler.NewCustomerHandler(svc),
		Admin:    handler.NewAdminHandler(svc),
		Webhook:  handler.NewWebhookHandler(svc),
	}, router.Settings{
		JWTSecret: cfg.JWTSecret,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Redis:     rdb,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	addr := ":" + cfg.Port
	g.Go(func() error {
		log.WithFields(log.Fields{"addr": addr, "env": cfg.Env, "hold_window": cfg.HoldWindow}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})
	g.Go(func() error {
		return service.NewExpirySweeper(svc, cfg.SweepInterval).Run(gctx)
	})
	if cfg.RabbitMQURL != "" {
		g.Go(func() error {
			return queue.NewConsumer(cfg.RabbitMQURL, cfg.BookingLogPath).Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
		return
	}
	log.Info("server stopped")
}
