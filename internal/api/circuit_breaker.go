// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/darking1222/pinion-syncd/internal/logging"
	"github.com/darking1222/pinion-syncd/internal/metrics"
	"github.com/darking1222/pinion-syncd/internal/models"
)

// BreakerClient wraps Client with a circuit breaker so a misbehaving
// dashboard API cannot pile up blocked polls and profile fetches. The
// breaker uses real time for its interval and timeout calculations;
// tests exercise the wrapped client directly.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[any]
	name   string
}

// NewBreakerClient wraps the given client. Opens after a 60% failure
// rate over at least 10 requests; probes again after 30 seconds.
func NewBreakerClient(client *Client) *BreakerClient {
	const cbName = "dashboard-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{client: client, cb: cb, name: cbName}
}

// execute runs an API call through the breaker and records the outcome.
func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
	return result, err
}

// castResult type-casts a breaker result with error checking.
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("api: unexpected breaker result type %T", result)
	}
	return typed, nil
}

// FetchProfile retrieves a profile with circuit breaker protection.
func (b *BreakerClient) FetchProfile(ctx context.Context, id string) (models.CachedProfile, error) {
	return castResult[models.CachedProfile](b.execute(func() (any, error) {
		return b.client.FetchProfile(ctx, id)
	}))
}

// FetchTranscript retrieves a transcript with circuit breaker protection.
func (b *BreakerClient) FetchTranscript(ctx context.Context, ticketID string) (models.TicketTranscript, error) {
	return castResult[models.TicketTranscript](b.execute(func() (any, error) {
		return b.client.FetchTranscript(ctx, ticketID)
	}))
}

// PostAction submits an action with circuit breaker protection.
func (b *BreakerClient) PostAction(ctx context.Context, action models.TicketAction) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.client.PostAction(ctx, action)
	})
	return err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
