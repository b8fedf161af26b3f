package config // package config loads application configuration from environment variables

import (
	"os"
	"time"
	_ "time/tzdata" // BOOKING_TIMEZONE must resolve in minimal containers

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Durations accept Go duration syntax ("30m").
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify bearer tokens
	LogLevel  string // logrus level name

	// Booking engine.
	Timezone           *time.Location // calendar used for "today" (lead time, past-date checks)
	HoldWindow         time.Duration  // lifetime of an unpaid PENDING hold
	SweepInterval      time.Duration  // period of the expiry sweep
	CheckoutTimeout    time.Duration  // overall bound on one checkout
	PaymentTimeout     time.Duration  // bound on the payment session call
	ReserveRetries     int            // retries of a Busy reserve
	LockWait           time.Duration  // max wait for the per-slot lock
	LockTTL            time.Duration  // per-slot lock expiry
	AvailabilityPolicy string         // "binary" or "remaining"

	// Payment provider.
	PaymentAPIBase       string
	PaymentAPIKey        string
	PaymentWebhookSecret string
	PaymentSuccessURL    string
	PaymentCancelURL     string
	Currency             string

	RabbitMQURL    string // empty disables event publishing and the consumer
	BookingLogPath string // file the event consumer appends to
	MigrateOnStart bool   // apply embedded migrations at startup
}

// LoadDotEnv loads a .env file into the process environment when present.
// Variables already set win over the file.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("could not read .env file")
	}
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),
		Port:      must("APP_PORT"),
		DBUser:    must("DB_USER"),
		DBPass:    os.Getenv("DB_PASS"), // empty allowed
		DBHost:    must("DB_HOST"),
		DBPort:    must("DB_PORT"),
		DBName:    must("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),
		LogLevel:  envStr("LOG_LEVEL", "info"),

		Timezone:           mustLocation("BOOKING_TIMEZONE", "UTC"),
		HoldWindow:         envDur("HOLD_WINDOW", 30*time.Minute),
		SweepInterval:      envDur("SWEEP_INTERVAL", time.Minute),
		CheckoutTimeout:    envDur("CHECKOUT_TIMEOUT", 15*time.Second),
		PaymentTimeout:     envDur("PAYMENT_TIMEOUT", 10*time.Second),
		ReserveRetries:     envInt("RESERVE_RETRIES", 3),
		LockWait:           envDur("LOCK_WAIT", 2*time.Second),
		LockTTL:            envDur("LOCK_TTL", 10*time.Second),
		AvailabilityPolicy: envStr("AVAILABILITY_POLICY", "binary"),

		PaymentAPIBase:       must("PAYMENT_API_BASE"),
		PaymentAPIKey:        must("PAYMENT_API_KEY"),
		PaymentWebhookSecret: must("PAYMENT_WEBHOOK_SECRET"),
		PaymentSuccessURL:    envStr("PAYMENT_SUCCESS_URL", "http://localhost:3000/checkout/success"),
		PaymentCancelURL:     envStr("PAYMENT_CANCEL_URL", "http://localhost:3000/checkout/cancel"),
		Currency:             envStr("CURRENCY", "usd"),

		RabbitMQURL:    os.Getenv("RABBITMQ_URL"),
		BookingLogPath: envStr("BOOKING_LOG_PATH", "logs/booking.log"),
		MigrateOnStart: envBool("MIGRATE_ON_START", true),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustLocation loads an IANA time zone; an unknown name is fatal.
func mustLocation(key, def string) *time.Location {
	name := envStr(key, def)
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Fatalf("invalid time zone for %s: %q", key, name)
	}
	return loc
}
