// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

// Package config loads and validates configuration for the
// synchronization core via Koanf v2 with layered sources
// (highest priority wins):
//
//  1. Environment variables (PINION_ prefix)
//  2. Config file (config.yaml)
//  3. Built-in defaults
package config

import (
	"os"
	"time"
)

// Config is the root configuration for the daemon.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	Session     SessionConfig     `koanf:"session"`
	API         APIConfig         `koanf:"api"`
	Realtime    RealtimeConfig    `koanf:"realtime"`
	Profile     ProfileConfig     `koanf:"profile"`
	Transcript  TranscriptConfig  `koanf:"transcript"`
	Store       StoreConfig       `koanf:"store"`
	Diagnostics DiagnosticsConfig `koanf:"diagnostics"`
}

// LoggingConfig controls the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SessionConfig carries the dashboard session credentials. The session
// token is issued by the dashboard's auth layer; this core only consumes
// it (bearer header on HTTP calls, session scope for the profile store).
type SessionConfig struct {
	Token string `koanf:"token" validate:"required"`
}

// APIConfig configures the dashboard HTTP API client.
type APIConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// BreakerEnabled wraps the client in a circuit breaker.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// RealtimeConfig configures the bidirectional event channel.
type RealtimeConfig struct {
	URL string `koanf:"url" validate:"required,url"`

	// Environment selects the transport profile: auto, default or
	// restricted. "auto" detects a restricted environment (proxied
	// egress) at construction time.
	Environment string `koanf:"environment" validate:"omitempty,oneof=auto default restricted"`

	PingInterval time.Duration `koanf:"ping_interval" validate:"gt=0"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`

	// Reconnect backoff schedule.
	ReconnectInitial time.Duration `koanf:"reconnect_initial" validate:"gt=0"`
	ReconnectMax     time.Duration `koanf:"reconnect_max" validate:"gt=0"`
	ReconnectJitter  float64       `koanf:"reconnect_jitter" validate:"gte=0,lte=1"`

	// Outbound emit rate limit (acks can burst on replay).
	EmitRate  float64 `koanf:"emit_rate" validate:"gt=0"`
	EmitBurst int     `koanf:"emit_burst" validate:"gt=0"`
}

// ProfileConfig configures the profile cache.
type ProfileConfig struct {
	TTL           time.Duration `koanf:"ttl" validate:"gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	FetchTimeout  time.Duration `koanf:"fetch_timeout" validate:"gt=0"`
}

// TranscriptConfig configures transcript synchronization.
type TranscriptConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`

	// PatchGrace is how long an unconfirmed optimistic patch survives
	// contradicting poll results before the server value wins.
	PatchGrace time.Duration `koanf:"patch_grace" validate:"gt=0"`

	ActionTimeout time.Duration `koanf:"action_timeout" validate:"gt=0"`
}

// StoreConfig configures the session-scoped durable profile store.
type StoreConfig struct {
	// Backend is "file" (single JSON blob, session-scoped) or "badger"
	// (embedded KV with native TTL, for long-lived desktop deployments).
	Backend string `koanf:"backend" validate:"oneof=file badger"`
	Dir     string `koanf:"dir" validate:"required"`
}

// DiagnosticsConfig configures the loopback diagnostics HTTP endpoint.
type DiagnosticsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port" validate:"gte=0,lte=65535"`
}

// defaultConfig returns a Config with all defaults applied. These are
// overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Session: SessionConfig{
			Token: "",
		},
		API: APIConfig{
			BaseURL:        "",
			Timeout:        10 * time.Second,
			BreakerEnabled: true,
		},
		Realtime: RealtimeConfig{
			URL:              "",
			Environment:      "auto",
			PingInterval:     25 * time.Second,
			ReadTimeout:      60 * time.Second,
			ReconnectInitial: 1 * time.Second,
			ReconnectMax:     30 * time.Second,
			ReconnectJitter:  0.5,
			EmitRate:         50,
			EmitBurst:        100,
		},
		Profile: ProfileConfig{
			TTL:           30 * time.Minute,
			SweepInterval: 0, // 0 = same as TTL
			FetchTimeout:  10 * time.Second,
		},
		Transcript: TranscriptConfig{
			PollInterval:  5 * time.Second,
			PatchGrace:    10 * time.Second,
			ActionTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend: "file",
			Dir:     defaultStateDir(),
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9178,
		},
	}
}

// defaultStateDir resolves the per-user state directory for the session
// store, falling back to the system temp dir.
func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/pinion-syncd"
	}
	return os.TempDir() + "/pinion-syncd"
}
