package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PlanPay/internal/pkg/env"
)

// Config holds invoice archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-west-001"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("INVOICE_ARCHIVE_PREFIX", "invoices"),
		Enabled:         env.GetEnvBool("INVOICE_ARCHIVE_ENABLED", false),
	}

	// Validate required fields if the archive is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the invoice archive is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the invoice archive is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the invoice archive is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if invoices should be archived
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// GetObjectKey generates a standardized object key for an invoice
func (c *Config) GetObjectKey(invoiceNumber string, issuedAt time.Time) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "invoices"
	}
	// Format: invoices/YYYY/MM/INV-xxx.html
	return fmt.Sprintf("%s/%04d/%02d/%s.html", prefix, issuedAt.Year(), int(issuedAt.Month()), invoiceNumber)
}
