package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the contract backend root, e.g. https://localhost:8443.
	BaseURL string
	// CredentialsFile is where the file-backed credential store lives.
	CredentialsFile string
	// RedisURL, when set, selects the Redis-backed credential store instead
	// of the file store.
	RedisURL string
	// RedisNamespace separates sessions of different users on a shared
	// Redis instance.
	RedisNamespace string
	// HTTPTimeout bounds every backend round trip.
	HTTPTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPTimeout: 15 * time.Second,
	}

	baseURL := os.Getenv("MISERY_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("MISERY_BASE_URL environment variable is required")
	}
	cfg.BaseURL = baseURL

	cfg.CredentialsFile = os.Getenv("MISERY_CREDENTIALS_FILE")
	if cfg.CredentialsFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory for credentials file: %w", err)
		}
		cfg.CredentialsFile = filepath.Join(home, ".misery", "credentials.json")
	}

	cfg.RedisURL = os.Getenv("MISERY_REDIS_URL")
	cfg.RedisNamespace = os.Getenv("MISERY_REDIS_NAMESPACE")
	if cfg.RedisNamespace == "" {
		cfg.RedisNamespace = "default"
	}

	if timeout := os.Getenv("MISERY_HTTP_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid MISERY_HTTP_TIMEOUT: %w", err)
		}
		cfg.HTTPTimeout = d
	}

	return cfg, nil
}
