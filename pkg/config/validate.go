// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present for the selected
// identity and storage backends.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}

	switch c.Identity.Backend {
	case "postgres":
	case "rest":
		if strings.TrimSpace(c.Identity.BaseURL) == "" {
			missing = append(missing, "IDENTITY_BASE_URL")
		}
	default:
		return fmt.Errorf("unsupported IDENTITY_BACKEND %q (want postgres or rest)", c.Identity.Backend)
	}

	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.BasePath) == "" {
			missing = append(missing, "STORAGE_BASE_PATH")
		}
	case "gcs":
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			missing = append(missing, "STORAGE_BUCKET")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q (want local or gcs)", c.Storage.Backend)
	}

	if c.Email.Enabled && strings.TrimSpace(c.Email.SMTPHost) == "" {
		missing = append(missing, "SMTP_HOST")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Identity.MaxAttempts < 1 {
		return fmt.Errorf("IDENTITY_MAX_ATTEMPTS must be at least 1, got %d", c.Identity.MaxAttempts)
	}
	if c.Storage.UploadConcurrency < 1 {
		return fmt.Errorf("STORAGE_UPLOAD_CONCURRENCY must be at least 1, got %d", c.Storage.UploadConcurrency)
	}

	return nil
}
