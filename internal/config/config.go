// Package config loads the client configuration from environment
// variables.
package config

import (
	"encoding/hex"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Store backend selectors.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config describes one client handle's environment.
type Config struct {
	// BaseURL is the authentication service root, e.g.
	// "https://app.example.com/api/v1".
	BaseURL string `env:"AUTH_BASE_URL" envDefault:"http://localhost:8000/api/v1"`

	// HTTPTimeout bounds every service call, including the refresh
	// exchange.
	HTTPTimeout time.Duration `env:"AUTH_HTTP_TIMEOUT" envDefault:"30s"`

	// StoreBackend selects the origin store: memory, file, or redis.
	StoreBackend string `env:"AUTH_STORE" envDefault:"file"`

	// SessionFile is the encrypted session file path for the file backend.
	SessionFile string `env:"AUTH_SESSION_FILE" envDefault:".auth-session"`

	// SessionKeyHex is the hex-encoded 32-byte key sealing the session
	// file. Required for the file backend.
	SessionKeyHex string `env:"AUTH_SESSION_KEY"`

	// PollInterval is how often the file backend checks for writes made
	// by other processes.
	PollInterval time.Duration `env:"AUTH_POLL_INTERVAL" envDefault:"500ms"`

	// RedisURL configures the redis backend, e.g. "redis://localhost:6379/0".
	RedisURL string `env:"AUTH_REDIS_URL"`

	// RedisNamespace isolates origins sharing one Redis instance.
	RedisNamespace string `env:"AUTH_REDIS_NAMESPACE" envDefault:"default"`
}

// Load parses and validates the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "[config.Load] parsing environment")
	}

	switch cfg.StoreBackend {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		return nil, errors.Errorf("[config.Load] unknown store backend %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == StoreRedis && cfg.RedisURL == "" {
		return nil, errors.New("[config.Load] AUTH_REDIS_URL is required for the redis backend")
	}
	if cfg.StoreBackend == StoreFile {
		if _, err := cfg.SessionKey(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// SessionKey decodes the file-store encryption key.
func (c *Config) SessionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.SessionKeyHex)
	if err != nil {
		return nil, errors.Wrap(err, "[Config.SessionKey] AUTH_SESSION_KEY is not valid hex")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.Errorf("[Config.SessionKey] AUTH_SESSION_KEY must be %d bytes, got %d",
			chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}
