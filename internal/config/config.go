package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Schedule
	Timezone         string
	Location         *time.Location
	CatalogPath      string
	ResendThreshold  time.Duration
	MaxResends       int
	OverrideCacheTTL time.Duration

	// Pending store
	StoreBackend  string
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Postgres overrides (optional)
	DatabaseURL string

	// Recipients is "channel:address[:name]" entries separated by commas.
	Recipients string

	// Twilio WhatsApp
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioWhatsAppFrom string

	// Facebook Messenger
	MessengerPageToken   string
	MessengerAppSecret   string
	MessengerVerifyToken string

	// AWS Services
	AWSRegion         string
	SESFromEmail      string
	SNSRegion         string
	SQSEventsQueueURL string

	// Web push
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	// APIToken guards the /v1 dashboard API. Unset rejects every request.
	APIToken string

	// Trigger
	CronSecret string
	LocalCron  string // robfig/cron spec, empty disables the in-process scheduler

	// Webhooks
	PublicBaseURL      string // external base URL Twilio signs requests against
	WebhookRatePerMin  int
	WebhookRateLimited bool
}

// Load reads an optional .env file, then configuration from environment
// variables with sensible defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		Timezone:         "America/New_York",
		CatalogPath:      "config/medications.yaml",
		ResendThreshold:  30 * time.Minute,
		MaxResends:       3,
		OverrideCacheTTL: 5 * time.Minute,

		RedisPort: 6379,

		AWSRegion: "us-east-1",

		WebhookRatePerMin:  60,
		WebhookRateLimited: true,
	}

	var err error
	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Schedule
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if path := os.Getenv("CATALOG_PATH"); path != "" {
		cfg.CatalogPath = path
	}

	minutes, err := intEnv("RESEND_THRESHOLD_MINUTES", int(cfg.ResendThreshold/time.Minute))
	if err != nil {
		return nil, err
	}
	if minutes <= 0 {
		return nil, fmt.Errorf("invalid RESEND_THRESHOLD_MINUTES: must be positive, got %d", minutes)
	}
	cfg.ResendThreshold = time.Duration(minutes) * time.Minute

	if cfg.MaxResends, err = intEnv("MAX_RESENDS", cfg.MaxResends); err != nil {
		return nil, err
	}
	if cfg.MaxResends < 0 {
		return nil, fmt.Errorf("invalid MAX_RESENDS: must not be negative, got %d", cfg.MaxResends)
	}

	seconds, err := intEnv("OVERRIDE_CACHE_TTL_SECONDS", int(cfg.OverrideCacheTTL/time.Second))
	if err != nil {
		return nil, err
	}
	cfg.OverrideCacheTTL = time.Duration(seconds) * time.Second

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	switch backend := os.Getenv("STORE_BACKEND"); backend {
	case "":
		cfg.StoreBackend = BackendMemory
		if cfg.RedisHost != "" {
			cfg.StoreBackend = BackendRedis
		}
	case BackendMemory, BackendRedis:
		cfg.StoreBackend = backend
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", backend, BackendMemory, BackendRedis)
	}
	if cfg.StoreBackend == BackendRedis && cfg.RedisHost == "" {
		cfg.RedisHost = "localhost"
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.Recipients = os.Getenv("RECIPIENTS")

	cfg.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.TwilioWhatsAppFrom = os.Getenv("TWILIO_WHATSAPP_FROM")

	cfg.MessengerPageToken = os.Getenv("MESSENGER_PAGE_TOKEN")
	cfg.MessengerAppSecret = os.Getenv("MESSENGER_APP_SECRET")
	cfg.MessengerVerifyToken = os.Getenv("MESSENGER_VERIFY_TOKEN")

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	cfg.SESFromEmail = os.Getenv("SES_FROM_EMAIL")

	// SNS config for SMS
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	cfg.SQSEventsQueueURL = os.Getenv("SQS_EVENTS_QUEUE_URL")

	cfg.VAPIDPublicKey = os.Getenv("VAPID_PUBLIC_KEY")
	cfg.VAPIDPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")
	cfg.VAPIDSubject = os.Getenv("VAPID_SUBJECT")

	cfg.APIToken = os.Getenv("API_TOKEN")
	cfg.CronSecret = os.Getenv("CRON_SECRET")
	cfg.LocalCron = os.Getenv("LOCAL_CRON")
	cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")

	if cfg.WebhookRatePerMin, err = intEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE", cfg.WebhookRatePerMin); err != nil {
		return nil, err
	}
	if cfg.WebhookRatePerMin <= 0 {
		cfg.WebhookRateLimited = false
	}

	return cfg, nil
}

// WebPushEnabled reports whether a VAPID key pair is configured.
func (c *Config) WebPushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
