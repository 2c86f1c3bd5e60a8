// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

/*
diagnostics.go - Loopback Diagnostics Endpoint

A small HTTP server bound to loopback that exposes liveness, readiness,
Prometheus metrics and a JSON dump of the connection state. It exists
for operators poking at a misbehaving dashboard host, not for the
dashboard itself, so there is no auth and no CORS: the bind address is
the access control.
*/
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darking1222/pinion-syncd/internal/config"
	"github.com/darking1222/pinion-syncd/internal/logging"
	"github.com/darking1222/pinion-syncd/internal/realtime"

	"github.com/goccy/go-json"
)

// StateReporter exposes the live connection status for /debug/state.
type StateReporter interface {
	Status() realtime.Status
}

// CacheReporter exposes the profile cache size for /debug/state.
type CacheReporter interface {
	Len() int
}

// Diagnostics is the loopback diagnostics HTTP server. It implements
// suture.Service.
type Diagnostics struct {
	addr    string
	conn    StateReporter
	cache   CacheReporter
	started time.Time
}

// NewDiagnostics builds the server. conn and cache may be nil; the
// corresponding /debug/state fields are then omitted.
func NewDiagnostics(cfg config.DiagnosticsConfig, conn StateReporter, cache CacheReporter) *Diagnostics {
	return &Diagnostics{
		addr:    net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		conn:    conn,
		cache:   cache,
		started: time.Now(),
	}
}

// Serve implements suture.Service: it runs the HTTP server until the
// context is canceled, then shuts down gracefully.
func (d *Diagnostics) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.addr,
		Handler:           d.router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", d.addr).Msg("diagnostics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logging.
func (d *Diagnostics) String() string {
	return "diagnostics-server"
}

func (d *Diagnostics) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.handleHealth)
	r.Get("/readyz", d.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/state", d.handleState)

	return r
}

func (d *Diagnostics) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once the realtime channel is connected.
// Degraded-but-alive states (reconnecting) return 503 so a probe can
// tell "serving stale data" from "fully live".
func (d *Diagnostics) handleReady(w http.ResponseWriter, _ *http.Request) {
	if d.conn == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	st := d.conn.Status()
	if st.State != realtime.StateConnected.String() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"state":  st.State,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Diagnostics) handleState(w http.ResponseWriter, _ *http.Request) {
	type stateResponse struct {
		Uptime     string           `json:"uptime"`
		Connection *realtime.Status `json:"connection,omitempty"`
		CacheSize  *int             `json:"profile_cache_size,omitempty"`
	}

	resp := stateResponse{Uptime: time.Since(d.started).Truncate(time.Second).String()}
	if d.conn != nil {
		st := d.conn.Status()
		resp.Connection = &st
	}
	if d.cache != nil {
		n := d.cache.Len()
		resp.CacheSize = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("failed to encode diagnostics response")
	}
}
