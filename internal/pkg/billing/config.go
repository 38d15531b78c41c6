package billing

import (
	"time"

	"github.com/ManuelReschke/PlanPay/internal/pkg/env"
)

// Config holds billing behaviour settings
type Config struct {
	SurchargePercent    float64
	GatewayTimeout      time.Duration
	PendingSweepMinAge  time.Duration
	PendingMaxAge       time.Duration
	WebhookRetryMinAge  time.Duration
	WebhookMaxAttempts  int
	InvoiceMaxAttempts  int
	InvoiceClaimTimeout time.Duration
	SweepBatchSize      int
}

// DefaultConfig returns the settings used when no environment overrides exist.
func DefaultConfig() Config {
	return Config{
		SurchargePercent:    0,
		GatewayTimeout:      10 * time.Second,
		PendingSweepMinAge:  2 * time.Minute,
		PendingMaxAge:       7 * 24 * time.Hour,
		WebhookRetryMinAge:  time.Minute,
		WebhookMaxAttempts:  10,
		InvoiceMaxAttempts:  5,
		InvoiceClaimTimeout: 15 * time.Minute,
		SweepBatchSize:      100,
	}
}

// LoadConfig loads billing configuration from environment variables
func LoadConfig() Config {
	def := DefaultConfig()
	cfg := Config{
		SurchargePercent:    env.GetEnvFloat("BILLING_SURCHARGE_PERCENT", def.SurchargePercent),
		GatewayTimeout:      env.GetEnvDuration("GATEWAY_TIMEOUT", def.GatewayTimeout),
		PendingSweepMinAge:  env.GetEnvDuration("BILLING_PENDING_SWEEP_MIN_AGE", def.PendingSweepMinAge),
		PendingMaxAge:       env.GetEnvDuration("BILLING_PENDING_MAX_AGE", def.PendingMaxAge),
		WebhookRetryMinAge:  env.GetEnvDuration("BILLING_WEBHOOK_RETRY_MIN_AGE", def.WebhookRetryMinAge),
		WebhookMaxAttempts:  env.GetEnvInt("BILLING_WEBHOOK_MAX_ATTEMPTS", def.WebhookMaxAttempts),
		InvoiceMaxAttempts:  env.GetEnvInt("INVOICE_MAX_ATTEMPTS", def.InvoiceMaxAttempts),
		InvoiceClaimTimeout: env.GetEnvDuration("INVOICE_CLAIM_TIMEOUT", def.InvoiceClaimTimeout),
		SweepBatchSize:      env.GetEnvInt("BILLING_SWEEP_BATCH_SIZE", def.SweepBatchSize),
	}
	return cfg.withDefaults()
}

// withDefaults replaces negative surcharges and non-positive limits with
// the default settings.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SurchargePercent < 0 {
		c.SurchargePercent = 0
	}
	for _, d := range []struct{ v, def *time.Duration }{
		{&c.GatewayTimeout, &def.GatewayTimeout},
		{&c.PendingSweepMinAge, &def.PendingSweepMinAge},
		{&c.PendingMaxAge, &def.PendingMaxAge},
		{&c.WebhookRetryMinAge, &def.WebhookRetryMinAge},
		{&c.InvoiceClaimTimeout, &def.InvoiceClaimTimeout},
	} {
		if *d.v <= 0 {
			*d.v = *d.def
		}
	}
	for _, n := range []struct{ v, def *int }{
		{&c.WebhookMaxAttempts, &def.WebhookMaxAttempts},
		{&c.InvoiceMaxAttempts, &def.InvoiceMaxAttempts},
		{&c.SweepBatchSize, &def.SweepBatchSize},
	} {
		if *n.v <= 0 {
			*n.v = *n.def
		}
	}
	return c
}
