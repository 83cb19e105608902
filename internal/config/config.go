// Package config loads process configuration from environment variables.
// Every knob has a default suitable for local development; production
// deployments override via env.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all settings for the matching/signaling server process.
type Config struct {
	ListenAddr     string        // HTTP/WebSocket listen address
	DatabaseURL    string        // Postgres DSN
	RedisAddr      string        // host:port
	NATSURL        string        // nats://host:port
	JWTSecret      string        // HMAC secret for socket auth tokens
	MaxConnections int           // hard cap on concurrent WebSocket connections
	ReadTimeout    time.Duration // per-frame read deadline
	WriteTimeout   time.Duration // per-frame write deadline
	PriceCacheTTL  time.Duration // Redis cache TTL for filter prices
}

// Load reads configuration from the environment. It fails only on a missing
// JWT secret; everything else falls back to a local-dev default.
func Load() (Config, error) {
	c := Config{
		ListenAddr:     envStr("LISTEN_ADDR", ":8080"),
		DatabaseURL:    envStr("DATABASE_URL", "postgres://localhost:5432/meetmingle?sslmode=disable"),
		RedisAddr:      envStr("REDIS_ADDR", "localhost:6379"),
		NATSURL:        envStr("NATS_URL", "nats://localhost:4222"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		MaxConnections: envInt("MAX_CONNECTIONS", 100000),
		ReadTimeout:    envDuration("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   envDuration("WRITE_TIMEOUT", 10*time.Second),
		PriceCacheTTL:  envDuration("PRICE_CACHE_TTL", 5*time.Minute),
	}

	if c.JWTSecret == "" {
		return Config{}, errors.New("config: JWT_SECRET is required")
	}
	return c, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
