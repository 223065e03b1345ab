package config

import (
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (idempotent ingest + rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Outbound transport selection: "smtp" (default) or "ses"
	Transport string

	// SMTP delivery config
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string // sender email address
	SMTPTo       string // recipient email address
	SMTPTimeout  time.Duration
	DeviceAlias  string // label identifying the forwarding device/source

	// Default filter rule (both empty = forward everything)
	FilterSenderContains string
	FilterBodyContains   string

	// Retry queue
	QueueMaxSize  int
	FlushInterval time.Duration

	// Ingest rate limit per source (0 disables)
	RateLimit       int
	RateLimitWindow time.Duration

	// Sent history
	HistoryRetention  time.Duration
	HistoryMaxRecords int

	// AWS (optional: SES transport, SQS inbound, SNS alerts)
	AWSRegion     string
	SESFromEmail  string
	SQSQueueURL   string
	AlertTopicARN string
	AlertWebhook  string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "smsrelay",
		DBPassword: "",
		DBName:     "smsrelay",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		Transport: "smtp",

		// SMTP defaults
		SMTPHost:    "localhost",
		SMTPPort:    587,
		SMTPTimeout: 30 * time.Second,
		DeviceAlias: "smsrelay",

		QueueMaxSize:  100,
		FlushInterval: 60 * time.Second,

		RateLimit:       120,
		RateLimitWindow: time.Minute,

		HistoryRetention:  30 * 24 * time.Hour,
		HistoryMaxRecords: 1000,

		AWSRegion: "us-east-1",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if transport := os.Getenv("TRANSPORT"); transport != "" {
		if transport != "smtp" && transport != "ses" {
			return nil, fmt.Errorf("invalid TRANSPORT: %q (must be smtp or ses)", transport)
		}
		cfg.Transport = transport
	}

	// SMTP config
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTPHost = host
	}

	if port := os.Getenv("SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		if p < 1 || p > 65535 {
			return nil, fmt.Errorf("SMTP_PORT out of range: %d", p)
		}
		cfg.SMTPPort = p
	}

	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.SMTPUsername = user
	}

	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		cfg.SMTPPassword = pass
	}

	if from := os.Getenv("SMTP_FROM"); from != "" {
		cfg.SMTPFrom = from
	}

	if to := os.Getenv("SMTP_TO"); to != "" {
		cfg.SMTPTo = to
	}

	if timeout := os.Getenv("SMTP_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_TIMEOUT: %w", err)
		}
		cfg.SMTPTimeout = d
	}

	if alias := os.Getenv("DEVICE_ALIAS"); alias != "" {
		cfg.DeviceAlias = alias
	}

	// Filter defaults (runtime-editable via the API)
	cfg.FilterSenderContains = os.Getenv("FILTER_SENDER_CONTAINS")
	cfg.FilterBodyContains = os.Getenv("FILTER_BODY_CONTAINS")

	if size := os.Getenv("QUEUE_MAX_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid QUEUE_MAX_SIZE: %q", size)
		}
		cfg.QueueMaxSize = n
	}

	if interval := os.Getenv("FLUSH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid FLUSH_INTERVAL: %w", err)
		}
		cfg.FlushInterval = d
	}

	if limit := os.Getenv("RATE_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT: %q", limit)
		}
		cfg.RateLimit = n
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
		}
		cfg.RateLimitWindow = d
	}

	if retention := os.Getenv("HISTORY_RETENTION"); retention != "" {
		d, err := time.ParseDuration(retention)
		if err != nil {
			return nil, fmt.Errorf("invalid HISTORY_RETENTION: %w", err)
		}
		cfg.HistoryRetention = d
	}

	if max := os.Getenv("HISTORY_MAX_RECORDS"); max != "" {
		n, err := strconv.Atoi(max)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid HISTORY_MAX_RECORDS: %q", max)
		}
		cfg.HistoryMaxRecords = n
	}

	// AWS config
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	if arn := os.Getenv("ALERT_TOPIC_ARN"); arn != "" {
		cfg.AlertTopicARN = arn
	}

	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		cfg.AlertWebhook = url
	}

	return cfg, nil
}

// ValidateDelivery checks that the SMTP delivery settings are complete enough
// to attempt a send: all fields present and both addresses RFC-parseable.
func (c *Config) ValidateDelivery() error {
	if c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required")
	}
	if c.SMTPUsername == "" || c.SMTPPassword == "" {
		return fmt.Errorf("SMTP_USERNAME and SMTP_PASSWORD are required")
	}
	if c.SMTPFrom == "" || c.SMTPTo == "" {
		return fmt.Errorf("SMTP_FROM and SMTP_TO are required")
	}
	if _, err := mail.ParseAddress(c.SMTPFrom); err != nil {
		return fmt.Errorf("invalid SMTP_FROM %q: %w", c.SMTPFrom, err)
	}
	if _, err := mail.ParseAddress(c.SMTPTo); err != nil {
		return fmt.Errorf("invalid SMTP_TO %q: %w", c.SMTPTo, err)
	}
	return nil
}
