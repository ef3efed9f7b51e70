// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package config loads NestLink configuration with koanf v2, layering
// built-in defaults, an optional YAML config file, and environment variable
// overrides (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the NestLink server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	Directory DirectoryConfig `koanf:"directory"`
	Pairing   PairingConfig   `koanf:"pairing"`
	Location  LocationConfig  `koanf:"location"`
	Push      PushConfig      `koanf:"push"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// SecurityConfig configures handshake auth, CORS, and rate limiting.
type SecurityConfig struct {
	// JWTSecret verifies the session token presented at socket handshake.
	// Token issuance belongs to the external auth service.
	JWTSecret string `koanf:"jwt_secret"`

	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DirectoryConfig configures the badger-backed directory store.
type DirectoryConfig struct {
	Path string `koanf:"path"`

	// InMemory runs badger without disk persistence. Used by tests and
	// ephemeral deployments.
	InMemory bool `koanf:"in_memory"`

	// QueryTimeout bounds every directory call made from request handlers.
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// PairingConfig configures connection-code issuance.
type PairingConfig struct {
	CodeLength int           `koanf:"code_length"`
	CodeTTL    time.Duration `koanf:"code_ttl"`
}

// LocationConfig configures the location cache.
type LocationConfig struct {
	// RecencyThreshold is the age under which a cached fix is considered
	// recent rather than stale.
	RecencyThreshold time.Duration `koanf:"recency_threshold"`
}

// PushConfig configures the push provider client.
type PushConfig struct {
	Enabled bool `koanf:"enabled"`

	// URL is the push provider send endpoint.
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`

	// ChunkSize is the provider's per-request message limit.
	ChunkSize int `koanf:"chunk_size"`

	// RatePerSecond paces chunk sends. 0 disables pacing.
	RatePerSecond int `koanf:"rate_per_second"`

	// BreakerFailureThreshold is the consecutive-failure count that opens
	// the provider circuit breaker.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold"`

	// BreakerOpenTimeout is how long the breaker stays open before probing.
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// LoggingConfig configures the zerolog pipeline.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8087,
			Timeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Directory: DirectoryConfig{
			Path:         "/data/nestlink/directory",
			InMemory:     false,
			QueryTimeout: 5 * time.Second,
		},
		Pairing: PairingConfig{
			CodeLength: 6,
			CodeTTL:    5 * time.Minute,
		},
		Location: LocationConfig{
			RecencyThreshold: 2 * time.Minute,
		},
		Push: PushConfig{
			Enabled:                 true,
			URL:                     "https://exp.host/--/api/v2/push/send",
			Timeout:                 10 * time.Second,
			ChunkSize:               100,
			RatePerSecond:           0,
			BreakerFailureThreshold: 5,
			BreakerOpenTimeout:      30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks configuration invariants after loading.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.Pairing.CodeLength < 4 || c.Pairing.CodeLength > 12 {
		return fmt.Errorf("pairing.code_length must be between 4 and 12, got %d", c.Pairing.CodeLength)
	}
	if c.Pairing.CodeTTL <= 0 {
		return fmt.Errorf("pairing.code_ttl must be positive")
	}
	if c.Push.Enabled {
		if c.Push.URL == "" {
			return fmt.Errorf("push.url is required when push is enabled")
		}
		if c.Push.ChunkSize < 1 {
			return fmt.Errorf("push.chunk_size must be at least 1, got %d", c.Push.ChunkSize)
		}
	}
	if !c.Directory.InMemory && c.Directory.Path == "" {
		return fmt.Errorf("directory.path is required for persistent storage")
	}
	return nil
}
