// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

// Package metrics provides Prometheus instrumentation for the
// synchronization core:
//   - Profile cache efficiency (hits, misses, coalesced fetches)
//   - Realtime channel state and reconnect behavior
//   - Transcript poll loop and optimistic patch reconciliation
//   - Circuit breaker state for the dashboard API client
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Profile cache metrics

	ProfileCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_cache_hits_total",
			Help: "Total number of profile lookups served fresh from cache",
		},
	)

	ProfileCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_cache_misses_total",
			Help: "Total number of profile lookups that were missing or stale",
		},
	)

	ProfileCacheCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_cache_coalesced_total",
			Help: "Total number of lookups that piggybacked on an in-flight fetch",
		},
	)

	ProfileFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_fetches_total",
			Help: "Total number of profile fetches issued, by outcome",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	ProfileCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "profile_cache_entries",
			Help: "Current number of cached profiles",
		},
	)

	// Realtime channel metrics

	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connection_state",
			Help: "Current channel state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_reconnects_total",
			Help: "Total number of reconnect attempts",
		},
	)

	RoomJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_room_joins_total",
			Help: "Total number of join_ticket events emitted",
		},
	)

	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_inbound_events_total",
			Help: "Total number of inbound channel events, by normalized type",
		},
		[]string{"type"},
	)

	DroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_dropped_frames_total",
			Help: "Total number of inbound frames dropped as malformed",
		},
	)

	// Transcript sync metrics

	TranscriptPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcript_polls_total",
			Help: "Total number of transcript polls, by outcome",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	TranscriptPushMerges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcript_push_merges_total",
			Help: "Total number of pushed messages merged between polls",
		},
	)

	OptimisticPatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcript_optimistic_patches_total",
			Help: "Total number of optimistic patches, by resolution",
		},
		[]string{"resolution"}, // "confirmed", "expired", "reverted"
	)

	// Circuit breaker metrics (dashboard API client)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through the circuit breaker, by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)
)
