package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// API Configuration
	API APIConfig

	// Session Configuration
	Session SessionConfig

	// Logging Configuration
	Logging LoggingConfig
}

// APIConfig holds task API configuration
type APIConfig struct {
	URL         string        // Base URL of the tasks/users API
	HTTPTimeout time.Duration // Timeout for regular API calls
}

// SessionConfig holds session-lifecycle configuration
type SessionConfig struct {
	TokenSkew      time.Duration // Forward-looking expiry buffer for access tokens
	Timeout        time.Duration // Inactivity window after which a persisted session is stale
	RefreshTimeout time.Duration // Bounded wait for the token renewal call
	Storage        string        // Snapshot backend: file, keyring, none
	CachePath      string        // Path of the local task cache database
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	apiURL := os.Getenv("TASKDECK_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	httpTimeout, err := durationEnv("TASKDECK_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	tokenSkew, err := durationEnv("TASKDECK_TOKEN_SKEW", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	sessionTimeout, err := durationEnv("TASKDECK_SESSION_TIMEOUT", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	refreshTimeout, err := durationEnv("TASKDECK_REFRESH_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	storage := os.Getenv("TASKDECK_SESSION_STORAGE")
	if storage == "" {
		storage = "file"
	}
	switch storage {
	case "file", "keyring", "none":
	default:
		return nil, fmt.Errorf("invalid TASKDECK_SESSION_STORAGE '%s', must be one of: file, keyring, none", storage)
	}

	cachePath := os.Getenv("TASKDECK_CACHE_PATH")
	if cachePath == "" {
		cachePath = defaultCachePath()
	}

	// Logging configuration - console suits interactive CLI use
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "warn"
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "console"
	}

	return &Config{
		API: APIConfig{
			URL:         apiURL,
			HTTPTimeout: httpTimeout,
		},
		Session: SessionConfig{
			TokenSkew:      tokenSkew,
			Timeout:        sessionTimeout,
			RefreshTimeout: refreshTimeout,
			Storage:        storage,
			CachePath:      cachePath,
		},
		Logging: LoggingConfig{
			Level:  logLevel,
			Format: logFormat,
		},
	}, nil
}

// durationEnv reads a duration from the environment, falling back to def when unset
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", key, raw, err)
	}
	return d, nil
}

// defaultCachePath returns the default location for the local task cache
func defaultCachePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "taskdeck.sqlite"
	}
	return filepath.Join(homeDir, ".config", "taskdeck", "cache.sqlite")
}
