package gateway

import (
	"strings"
	"time"

	"github.com/ManuelReschke/PlanPay/internal/pkg/env"
)

const (
	defaultBaseURL    = "https://sandbox.cashfree.com/pg"
	defaultAPIVersion = "2023-08-01"
)

// Config holds the payment gateway credentials and endpoints
type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	APIVersion    string
	ReturnURL     string
	NotifyURL     string
	WebhookSecret string
	Timeout       time.Duration
}

// LoadConfig loads gateway configuration from environment variables
func LoadConfig() Config {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")

	cfg := Config{
		BaseURL:       strings.TrimRight(strings.TrimSpace(env.GetEnv("GATEWAY_BASE_URL", defaultBaseURL)), "/"),
		ClientID:      strings.TrimSpace(env.GetEnv("GATEWAY_CLIENT_ID", "")),
		ClientSecret:  strings.TrimSpace(env.GetEnv("GATEWAY_CLIENT_SECRET", "")),
		APIVersion:    strings.TrimSpace(env.GetEnv("GATEWAY_API_VERSION", defaultAPIVersion)),
		ReturnURL:     strings.TrimSpace(env.GetEnv("GATEWAY_RETURN_URL", "")),
		NotifyURL:     strings.TrimSpace(env.GetEnv("GATEWAY_NOTIFY_URL", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("GATEWAY_WEBHOOK_SECRET", "")),
		Timeout:       env.GetEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
	}
	if cfg.ReturnURL == "" && base != "" {
		cfg.ReturnURL = base + "/billing/return?order_id={order_id}"
	}
	if cfg.NotifyURL == "" && base != "" {
		cfg.NotifyURL = base + "/api/v1/webhook"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg
}

// IsConfigured reports whether API credentials are present.
func (c Config) IsConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}
