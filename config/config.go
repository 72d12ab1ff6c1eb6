package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Defaults match a local development backend.
const (
	defaultAPIURL     = "http://localhost:3000/api/v1"
	defaultSocketURL  = "ws://localhost:3000/socket"
	defaultStaleAfter = 60 * time.Second
)

type Config struct {
	APIURL          string
	SocketURL       string
	StateDir        string
	CacheStaleAfter time.Duration
	LogLevel        string
}

func Load() (*Config, error) {
	// Load .env if present; env vars already set take precedence.
	_ = godotenv.Load()

	cfg := &Config{
		APIURL:          getenv("CHATLINK_API_URL", defaultAPIURL),
		SocketURL:       getenv("CHATLINK_SOCKET_URL", defaultSocketURL),
		StateDir:        os.Getenv("CHATLINK_STATE_DIR"),
		CacheStaleAfter: defaultStaleAfter,
		LogLevel:        getenv("CHATLINK_LOG_LEVEL", "info"),
	}

	if v := os.Getenv("CHATLINK_CACHE_STALE_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, err
		}
		cfg.CacheStaleAfter = d
	}

	if cfg.StateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		cfg.StateDir = filepath.Join(base, "chatlink")
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
