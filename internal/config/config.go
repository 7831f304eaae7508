// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
)

// OutOfOrderPolicy controls what a status-only webhook notification does
// when no purchase row exists for its transaction id.
type OutOfOrderPolicy string

const (
	// OutOfOrderDrop silently ignores the notification (original behavior:
	// an update matching no rows changes nothing).
	OutOfOrderDrop OutOfOrderPolicy = "drop"
	// OutOfOrderUpsert creates the row directly in its terminal status.
	OutOfOrderUpsert OutOfOrderPolicy = "upsert"
)

// Config holds process configuration.
type Config struct {
	// HTTP
	Port           string
	AllowedOrigins []string

	// Store
	SupabaseURL        string
	SupabaseServiceKey string

	// Checkout
	WebhookSecret    string
	AdminAPIKey      string
	OutOfOrderPolicy OutOfOrderPolicy

	// Insights
	AdminEmail string

	// Optional product catalog override file.
	CatalogPath string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getenv("PORT", "8080"),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		AdminAPIKey:        os.Getenv("ADMIN_API_KEY"),
		AdminEmail:         strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))),
		CatalogPath:        os.Getenv("PRODUCT_CATALOG_PATH"),
	}

	cfg.AllowedOrigins = splitAndTrimCSV(getenv("ALLOWED_ORIGINS", "*"))

	policy := OutOfOrderPolicy(getenv("WEBHOOK_OUT_OF_ORDER_POLICY", string(OutOfOrderDrop)))
	switch policy {
	case OutOfOrderDrop, OutOfOrderUpsert:
		cfg.OutOfOrderPolicy = policy
	default:
		return nil, fmt.Errorf("invalid WEBHOOK_OUT_OF_ORDER_POLICY %q (want drop or upsert)", policy)
	}

	return cfg, nil
}

// StoreConfigured reports whether store credentials are present.
func (c *Config) StoreConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitAndTrimCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
