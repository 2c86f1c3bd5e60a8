// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/darking1222/pinion-syncd/internal/config"
	"github.com/darking1222/pinion-syncd/internal/realtime"
)

type stubReporter struct {
	status realtime.Status
}

func (s *stubReporter) Status() realtime.Status { return s.status }

type stubCache struct{ n int }

func (s *stubCache) Len() int { return s.n }

func newTestDiagnostics(conn StateReporter, cache CacheReporter) *httptest.Server {
	d := NewDiagnostics(config.DiagnosticsConfig{Host: "127.0.0.1", Port: 0}, conn, cache)
	return httptest.NewServer(d.router())
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestDiagnostics(nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestReadyzFollowsConnectionState(t *testing.T) {
	t.Parallel()

	reporter := &stubReporter{status: realtime.Status{State: "reconnecting", Attempt: 3}}
	srv := newTestDiagnostics(reporter, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("reconnecting readyz status = %d, want 503", resp.StatusCode)
	}

	reporter.status = realtime.Status{State: "connected", Room: "ticket-1"}
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("connected readyz status = %d, want 200", resp.StatusCode)
	}
}

func TestDebugState(t *testing.T) {
	t.Parallel()

	srv := newTestDiagnostics(
		&stubReporter{status: realtime.Status{State: "connected", Room: "ticket-9"}},
		&stubCache{n: 42},
	)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/state")
	if err != nil {
		t.Fatalf("GET /debug/state: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Uptime     string           `json:"uptime"`
		Connection *realtime.Status `json:"connection"`
		CacheSize  *int             `json:"profile_cache_size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Connection == nil || body.Connection.Room != "ticket-9" {
		t.Errorf("connection = %+v", body.Connection)
	}
	if body.CacheSize == nil || *body.CacheSize != 42 {
		t.Errorf("cache size = %v", body.CacheSize)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestDiagnostics(nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
