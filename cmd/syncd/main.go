// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

// Package main is the entry point for the pinion-syncd daemon.
//
// Pinion Syncd is the client-resident synchronization core for the
// Pinion support-ticket dashboard. It keeps the dashboard's view of
// profiles, presence and ticket transcripts consistent against a bot
// backend that pushes events over a websocket channel and answers
// authoritative queries over HTTP.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: Load settings from config file and environment (Koanf v2)
//  2. Session: Derive the session identity from the dashboard bearer token
//  3. Profile store: Open the session-scoped persistence backend (file or Badger)
//  4. Notification bus: In-process pub/sub for profile/presence/settings updates
//  5. API client: Dashboard HTTP client, optionally wrapped in a circuit breaker
//  6. Profile cache: Coalescing TTL cache seeded from the store
//  7. Connection manager: Websocket channel with supervised reconnect
//  8. Supervisor tree: cache, messaging and diagnostics layers under suture
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (PINION_ prefix, e.g. PINION_API_BASE_URL)
//   - Config file (PINION_CONFIG_PATH, ./pinion.yaml, or the user config dir)
//   - Built-in defaults
//
// # Signal Handling
//
// The daemon shuts down gracefully on SIGINT and SIGTERM:
//   - Stops the poll and sweep loops
//   - Closes the websocket channel
//   - Persists the profile cache to the session-scoped store
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/darking1222/pinion-syncd/internal/api"
	"github.com/darking1222/pinion-syncd/internal/bus"
	"github.com/darking1222/pinion-syncd/internal/config"
	"github.com/darking1222/pinion-syncd/internal/logging"
	"github.com/darking1222/pinion-syncd/internal/profile"
	"github.com/darking1222/pinion-syncd/internal/realtime"
	"github.com/darking1222/pinion-syncd/internal/server"
	"github.com/darking1222/pinion-syncd/internal/session"
	"github.com/darking1222/pinion-syncd/internal/supervisor"
)

// Version information, injected at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" {
			fmt.Printf("pinion-syncd %s (%s)\n", version, commit)
			return
		}
	}

	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Str("version", version).Msg("Starting pinion-syncd")

	sess, err := session.FromToken(cfg.Session.Token)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid session token")
	}
	if !sess.Authenticated() {
		logging.Fatal().Str("session", sess.ID).Msg("Session token is expired")
	}
	logging.Info().
		Str("session", sess.ID).
		Str("user", sess.UserID).
		Msg("Session established")

	store, err := openStore(cfg, sess)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open profile store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing profile store")
		}
	}()

	notifications := bus.New()
	defer func() {
		if err := notifications.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing notification bus")
		}
	}()

	client := api.NewClient(cfg.API.BaseURL, sess, cfg.API.Timeout)
	var fetcher profile.Fetcher = client
	if cfg.API.BreakerEnabled {
		fetcher = api.NewBreakerClient(client)
		logging.Info().Msg("Dashboard API circuit breaker enabled")
	}

	cache, err := profile.New(fetcher, store, notifications, profile.Config{
		TTL:           cfg.Profile.TTL,
		SweepInterval: cfg.Profile.SweepInterval,
		FetchTimeout:  cfg.Profile.FetchTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize profile cache")
	}

	manager := realtime.NewManager(cfg.Realtime, sess.AuthHeader(), notifications)

	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
	tree.AddCacheService(cache)
	tree.AddMessagingService(manager)
	if cfg.Diagnostics.Enabled {
		tree.AddDiagnosticsService(server.NewDiagnostics(cfg.Diagnostics, manager, cache))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		return
	}
	logging.Info().Msg("Shutdown complete")
}

// openStore selects the persistence backend for the profile cache.
func openStore(cfg *config.Config, sess *session.Session) (profile.Store, error) {
	switch cfg.Store.Backend {
	case "badger":
		return profile.NewBadgerStore(cfg.Store.Dir, sess.ID, cfg.Profile.TTL)
	default:
		return profile.NewFileStore(cfg.Store.Dir, sess.ID)
	}
}
