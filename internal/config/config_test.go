// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// minimalEnv sets the required values that have no defaults. Tests using
// it must not run in parallel: t.Setenv mutates process state.
func minimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PINION_SESSION_TOKEN", "token-abc")
	t.Setenv("PINION_API_BASE_URL", "https://dashboard.example")
	t.Setenv("PINION_REALTIME_URL", "wss://dashboard.example/socket")
}

func TestLoadDefaults(t *testing.T) {
	minimalEnv(t)

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Profile.TTL != 30*time.Minute {
		t.Errorf("Profile.TTL = %v", cfg.Profile.TTL)
	}
	if cfg.Transcript.PollInterval != 5*time.Second {
		t.Errorf("Transcript.PollInterval = %v", cfg.Transcript.PollInterval)
	}
	if cfg.Transcript.PatchGrace != 10*time.Second {
		t.Errorf("Transcript.PatchGrace = %v", cfg.Transcript.PatchGrace)
	}
	if !cfg.API.BreakerEnabled {
		t.Error("API.BreakerEnabled default = false")
	}
	if cfg.Store.Backend != "file" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Diagnostics.Host != "127.0.0.1" || cfg.Diagnostics.Port != 9178 {
		t.Errorf("Diagnostics = %+v", cfg.Diagnostics)
	}

	// Derived: sweep interval follows the TTL when unset.
	if cfg.Profile.SweepInterval != cfg.Profile.TTL {
		t.Errorf("Profile.SweepInterval = %v, want %v", cfg.Profile.SweepInterval, cfg.Profile.TTL)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	minimalEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
logging:
  level: debug
  format: console
profile:
  ttl: 15m
transcript:
  poll_interval: 2s
  patch_grace: 8s
store:
  backend: badger
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Profile.TTL != 15*time.Minute {
		t.Errorf("Profile.TTL = %v", cfg.Profile.TTL)
	}
	if cfg.Transcript.PollInterval != 2*time.Second || cfg.Transcript.PatchGrace != 8*time.Second {
		t.Errorf("Transcript = %+v", cfg.Transcript)
	}
	if cfg.Store.Backend != "badger" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	minimalEnv(t)
	t.Setenv("PINION_TRANSCRIPT_POLL_INTERVAL", "3s")
	t.Setenv("PINION_LOGGING_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, env should win over file", cfg.Logging.Level)
	}
	if cfg.Transcript.PollInterval != 3*time.Second {
		t.Errorf("Transcript.PollInterval = %v", cfg.Transcript.PollInterval)
	}
}

func TestValidationMissingToken(t *testing.T) {
	t.Setenv("PINION_API_BASE_URL", "https://dashboard.example")
	t.Setenv("PINION_REALTIME_URL", "wss://dashboard.example/socket")

	_, err := LoadFrom("")
	if err == nil || !strings.Contains(err.Error(), "session.token") {
		t.Fatalf("LoadFrom error = %v, want session.token failure", err)
	}
}

func TestValidationPatchGraceCrossField(t *testing.T) {
	minimalEnv(t)
	t.Setenv("PINION_TRANSCRIPT_POLL_INTERVAL", "10s")
	t.Setenv("PINION_TRANSCRIPT_PATCH_GRACE", "5s")

	_, err := LoadFrom("")
	if err == nil || !strings.Contains(err.Error(), "patch_grace") {
		t.Fatalf("LoadFrom error = %v, want patch_grace failure", err)
	}
}

func TestValidationReconnectCrossField(t *testing.T) {
	minimalEnv(t)
	t.Setenv("PINION_REALTIME_RECONNECT_INITIAL", "30s")
	t.Setenv("PINION_REALTIME_RECONNECT_MAX", "5s")

	_, err := LoadFrom("")
	if err == nil || !strings.Contains(err.Error(), "reconnect_max") {
		t.Fatalf("LoadFrom error = %v, want reconnect_max failure", err)
	}
}

func TestValidationBadStoreBackend(t *testing.T) {
	minimalEnv(t)
	t.Setenv("PINION_STORE_BACKEND", "redis")

	if _, err := LoadFrom(""); err == nil {
		t.Fatal("LoadFrom accepted unknown store backend")
	}
}

func TestResolveTransportProfileExplicit(t *testing.T) {
	t.Parallel()

	def := RealtimeConfig{Environment: "default"}.ResolveTransportProfile()
	if def.Name != "default" || !def.EnableCompression || def.MaxAutoAttempts != 10 {
		t.Errorf("default profile = %+v", def)
	}
	if def.HandshakeTimeout != 10*time.Second {
		t.Errorf("default handshake = %v", def.HandshakeTimeout)
	}

	res := RealtimeConfig{Environment: "restricted"}.ResolveTransportProfile()
	if res.Name != "restricted" || res.EnableCompression {
		t.Errorf("restricted profile = %+v", res)
	}
	if res.MaxAutoAttempts != 0 {
		t.Errorf("restricted MaxAutoAttempts = %d, want 0 (unbounded)", res.MaxAutoAttempts)
	}
	if res.HandshakeTimeout != 30*time.Second {
		t.Errorf("restricted handshake = %v", res.HandshakeTimeout)
	}
}

func TestResolveTransportProfileAuto(t *testing.T) {
	for _, v := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		t.Setenv(v, "")
	}

	if got := (RealtimeConfig{Environment: "auto"}).ResolveTransportProfile(); got.Name != "default" {
		t.Errorf("auto without proxy resolved %q", got.Name)
	}

	t.Setenv("HTTPS_PROXY", "http://proxy.corp:8080")
	if got := (RealtimeConfig{Environment: "auto"}).ResolveTransportProfile(); got.Name != "restricted" {
		t.Errorf("auto behind proxy resolved %q", got.Name)
	}
}
