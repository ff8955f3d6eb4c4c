package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL and
// TELEGRAM_BOT_TOKEN are required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Telegram Bot API
	TelegramToken   string
	TelegramAPIURL  string
	TelegramTimeout time.Duration

	// Transactional email provider
	EmailAPIURL  string
	EmailAPIKey  string
	EmailFrom    string
	EmailTimeout time.Duration

	// Drain workers
	DrainWorkers      int
	ClaimBatchSize    int
	VisibilityTimeout time.Duration
	MaxSendRetries    int
	RetryBackoff      []time.Duration

	// Rate limiting: maximum outbound messages per second across the fabric
	RateLimit int

	// Moderation watcher
	ModerationInterval    time.Duration
	ModerationURL         string
	ModerationTitleMarker string

	// Scheduled-broadcast poller
	SchedulerInterval time.Duration

	// Bot auth
	JWTSecret  string
	SessionTTL time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		TelegramToken:   botToken,
		TelegramAPIURL:  getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramTimeout: getDuration("TELEGRAM_TIMEOUT", 10*time.Second),

		EmailAPIURL:  getEnv("EMAIL_API_URL", ""),
		EmailAPIKey:  getEnv("EMAIL_API_KEY", ""),
		EmailFrom:    getEnv("EMAIL_FROM", "noreply@tabys.kz"),
		EmailTimeout: getDuration("EMAIL_TIMEOUT", 10*time.Second),

		DrainWorkers:      getInt("DRAIN_WORKERS", 4),
		ClaimBatchSize:    getInt("CLAIM_BATCH_SIZE", 10),
		VisibilityTimeout: getDuration("VISIBILITY_TIMEOUT", 60*time.Second),
		MaxSendRetries:    getInt("MAX_SEND_RETRIES", 5),

		RetryBackoff: []time.Duration{
			getDuration("RETRY_BACKOFF_1", 500*time.Millisecond),
			getDuration("RETRY_BACKOFF_2", 2*time.Second),
			getDuration("RETRY_BACKOFF_3", 8*time.Second),
		},

		RateLimit: getInt("RATE_LIMIT", 20),

		ModerationInterval:    getDuration("MODERATION_CHECK_INTERVAL", 5*time.Minute),
		ModerationURL:         getEnv("MODERATION_URL", "https://admin.tabys.kz/moderation"),
		ModerationTitleMarker: getEnv("MODERATION_TITLE_MARKER", "[Модерация]"),

		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", 30*time.Second),

		JWTSecret:  getEnv("JWT_SECRET", "change-me-in-production"),
		SessionTTL: getDuration("SESSION_TTL", 720*time.Hour),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
