package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Transport != "smtp" {
		t.Errorf("Transport = %q, want smtp", cfg.Transport)
	}
	if cfg.SMTPPort != 587 {
		t.Errorf("SMTPPort = %d, want 587", cfg.SMTPPort)
	}
	if cfg.SMTPTimeout != 30*time.Second {
		t.Errorf("SMTPTimeout = %s, want 30s", cfg.SMTPTimeout)
	}
	if cfg.QueueMaxSize != 100 {
		t.Errorf("QueueMaxSize = %d, want 100", cfg.QueueMaxSize)
	}
	if cfg.HistoryRetention != 30*24*time.Hour {
		t.Errorf("HistoryRetention = %s, want 720h", cfg.HistoryRetention)
	}
	if cfg.HistoryMaxRecords != 1000 {
		t.Errorf("HistoryMaxRecords = %d, want 1000", cfg.HistoryMaxRecords)
	}
	if cfg.RateLimit != 120 || cfg.RateLimitWindow != time.Minute {
		t.Errorf("rate limit defaults = %d/%s", cfg.RateLimit, cfg.RateLimitWindow)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TRANSPORT", "ses")
	t.Setenv("SMTP_HOST", "mail.example.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMTP_TIMEOUT", "10s")
	t.Setenv("DEVICE_ALIAS", "pixel-7")
	t.Setenv("QUEUE_MAX_SIZE", "50")
	t.Setenv("FILTER_BODY_CONTAINS", "code")
	t.Setenv("RATE_LIMIT", "0")
	t.Setenv("SES_FROM_EMAIL", "relay@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Transport != "ses" {
		t.Errorf("Transport = %q, want ses", cfg.Transport)
	}
	if cfg.SMTPHost != "mail.example.com" || cfg.SMTPPort != 465 {
		t.Errorf("SMTP = %s:%d", cfg.SMTPHost, cfg.SMTPPort)
	}
	if cfg.SMTPTimeout != 10*time.Second {
		t.Errorf("SMTPTimeout = %s, want 10s", cfg.SMTPTimeout)
	}
	if cfg.DeviceAlias != "pixel-7" {
		t.Errorf("DeviceAlias = %q", cfg.DeviceAlias)
	}
	if cfg.QueueMaxSize != 50 {
		t.Errorf("QueueMaxSize = %d, want 50", cfg.QueueMaxSize)
	}
	if cfg.FilterBodyContains != "code" {
		t.Errorf("FilterBodyContains = %q", cfg.FilterBodyContains)
	}
	if cfg.RateLimit != 0 {
		t.Errorf("RateLimit = %d, want 0 (disabled)", cfg.RateLimit)
	}
	if cfg.SESFromEmail != "relay@example.com" {
		t.Errorf("SESFromEmail = %q", cfg.SESFromEmail)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "not-a-number"},
		{"bad smtp port", "SMTP_PORT", "99999"},
		{"bad transport", "TRANSPORT", "carrier-pigeon"},
		{"bad queue size", "QUEUE_MAX_SIZE", "-5"},
		{"bad flush interval", "FLUSH_INTERVAL", "soon"},
		{"bad rate limit", "RATE_LIMIT", "-1"},
		{"bad history retention", "HISTORY_RETENTION", "a month"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestValidateDelivery(t *testing.T) {
	valid := func() *Config {
		return &Config{
			SMTPHost:     "mail.example.com",
			SMTPUsername: "relay",
			SMTPPassword: "secret",
			SMTPFrom:     "relay@example.com",
			SMTPTo:       "inbox@example.com",
		}
	}

	if err := valid().ValidateDelivery(); err != nil {
		t.Fatalf("complete settings should validate: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing host", func(c *Config) { c.SMTPHost = "" }, "SMTP_HOST"},
		{"missing credentials", func(c *Config) { c.SMTPPassword = "" }, "SMTP_PASSWORD"},
		{"missing addresses", func(c *Config) { c.SMTPTo = "" }, "SMTP_TO"},
		{"unparseable from", func(c *Config) { c.SMTPFrom = "not an address" }, "SMTP_FROM"},
		{"unparseable to", func(c *Config) { c.SMTPTo = "<<>>" }, "SMTP_TO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.ValidateDelivery()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %s", err, tt.wantErr)
			}
		})
	}
}
