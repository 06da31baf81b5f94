package config

import (
	"fmt"
	"os"
	"time"
)

// Config carries process configuration read from the environment.
type Config struct {
	DatabaseURL   string
	ListenAddr    string
	JWTSecret     string
	IssuerToken   string
	OutboxPoll    time.Duration
	OutboxBatch   int
	OutboxMaxTrys int
}

// Load reads configuration from environment variables. DATABASE_URL and
// JWT_SECRET are required; everything else has a default.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		IssuerToken:   getEnv("ISSUER_TOKEN", "escrow-coordinator"),
		OutboxPoll:    2 * time.Second,
		OutboxBatch:   50,
		OutboxMaxTrys: 5,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}

	if raw := os.Getenv("OUTBOX_POLL_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse OUTBOX_POLL_INTERVAL: %w", err)
		}
		cfg.OutboxPoll = d
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
