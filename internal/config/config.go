package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Card holds the card processor settings.
type Card struct {
	SecretKey        string
	WebhookSecret    string
	BaseURL          string
	Currency         string
	WebhookTolerance time.Duration
}

// MobileMoney holds the STK push provider settings.
type MobileMoney struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	BaseURL        string
	CallbackURL    string
}

// RateLimit bounds payment initiation per user.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Config is everything the api and worker binaries read from the environment.
type Config struct {
	Port        string
	RunLocal    bool
	LogLevel    string
	AutoMigrate bool

	DatabaseURL string
	JWTSecret   string

	IdempotencyTable string
	IdempotencyTTL   time.Duration

	NotificationsQueueURL string
	KafkaBrokers          []string
	KafkaTopic            string
	KafkaGroupID          string
	RedisAddr             string
	MetricsNamespace      string

	SMTPAddr string
	SMTPUser string
	SMTPPass string
	MailFrom string

	ProviderTimeout time.Duration
	Card            Card
	MobileMoney     MobileMoney
	RateLimit       RateLimit
}

// Load reads the process environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

// LoadWorker reads the subset the notification worker needs; no database or
// JWT secret is required there.
func LoadWorker() (Config, error) {
	return loadWith(os.LookupEnv, false)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	return loadWith(lookup, true)
}

func loadWith(lookup func(string) (string, bool), api bool) (Config, error) {
	getenv := func(k, def string) string {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	var errs []error
	duration := func(k string, def time.Duration) time.Duration {
		raw := getenv(k, "")
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", k, raw))
			return def
		}
		return d
	}
	number := func(k string, def float64) float64 {
		raw := getenv(k, "")
		if raw == "" {
			return def
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid number %q", k, raw))
			return def
		}
		return f
	}

	cfg := Config{
		Port:        getenv("PORT", "8080"),
		RunLocal:    getenv("RUN_LOCAL", "") == "true",
		LogLevel:    getenv("LOG_LEVEL", "info"),
		AutoMigrate: getenv("AUTO_MIGRATE", "") == "true",

		DatabaseURL: getenv("DATABASE_URL", ""),
		JWTSecret:   getenv("JWT_SECRET", ""),

		IdempotencyTable: getenv("IDEMPOTENCY_TABLE", ""),
		IdempotencyTTL:   duration("IDEMPOTENCY_TTL", 48*time.Hour),

		NotificationsQueueURL: getenv("NOTIFICATIONS_QUEUE_URL", ""),
		KafkaTopic:            getenv("KAFKA_TOPIC", "order-notifications"),
		KafkaGroupID:          getenv("KAFKA_GROUP_ID", "notification-worker"),
		RedisAddr:             getenv("REDIS_ADDR", ""),
		MetricsNamespace:      getenv("METRICS_NAMESPACE", "checkout"),

		SMTPAddr: getenv("SMTP_ADDR", ""),
		SMTPUser: getenv("SMTP_USER", ""),
		SMTPPass: getenv("SMTP_PASSWORD", ""),
		MailFrom: getenv("EMAIL_HOST_USER", "no-reply@example.com"),

		ProviderTimeout: duration("PROVIDER_TIMEOUT", 10*time.Second),
		Card: Card{
			SecretKey:        getenv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:    getenv("STRIPE_WEBHOOK_SECRET", ""),
			BaseURL:          getenv("STRIPE_BASE_URL", "https://api.stripe.com"),
			Currency:         strings.ToLower(getenv("CARD_CURRENCY", "usd")),
			WebhookTolerance: duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		MobileMoney: MobileMoney{
			ConsumerKey:    getenv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getenv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:      getenv("MPESA_SHORTCODE", ""),
			PassKey:        getenv("MPESA_PASSKEY", ""),
			BaseURL:        getenv("MPESA_BASE_URL", "https://api.safaricom.co.ke"),
			CallbackURL:    getenv("MPESA_CALLBACK_URL", ""),
		},
		RateLimit: RateLimit{
			RPS:   number("RATE_LIMIT_RPS", 1),
			Burst: int(number("RATE_LIMIT_BURST", 5)),
		},
	}

	if brokers := getenv("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if api {
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required"))
		}
		if cfg.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required"))
		}
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}
