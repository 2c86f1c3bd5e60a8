// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

/*
cache.go - Coalescing Profile Cache

Dozens of unrelated dashboard surfaces ask for the same user profiles.
The cache answers every lookup synchronously (fresh entry or a
deterministic placeholder) and schedules at most one background fetch
per id, no matter how many callers ask while it is in flight. This is an
availability-over-consistency cache for cosmetic data: fetch failures
degrade to the placeholder and are never surfaced to callers.
*/
package profile

import (
	"context"
	"sync"
	"time"

	"github.com/darking1222/pinion-syncd/internal/bus"
	"github.com/darking1222/pinion-syncd/internal/logging"
	"github.com/darking1222/pinion-syncd/internal/metrics"
	"github.com/darking1222/pinion-syncd/internal/models"
)

// Fetcher retrieves one profile from the dashboard API.
type Fetcher interface {
	FetchProfile(ctx context.Context, id string) (models.CachedProfile, error)
}

// Config tunes the cache.
type Config struct {
	// TTL is the maximum age at which an entry is still fresh.
	TTL time.Duration

	// SweepInterval is the cadence of the expiry sweep. Defaults to TTL.
	SweepInterval time.Duration

	// FetchTimeout bounds a single background fetch.
	FetchTimeout time.Duration
}

// Cache is the process-wide profile cache. Constructed once at startup
// and closed only at shutdown; lookups after Close return placeholders
// without scheduling new fetches.
type Cache struct {
	fetcher Fetcher
	store   Store
	bus     *bus.Bus
	config  Config

	mu      sync.Mutex
	entries map[string]models.CachedProfile
	pending map[string]struct{}
	closed  bool
}

// New creates the cache, seeded from whatever the store last persisted.
// Seeded entries are not re-validated against the TTL here; staleness is
// evaluated lazily on first access.
func New(fetcher Fetcher, store Store, b *bus.Bus, config Config) (*Cache, error) {
	if config.SweepInterval <= 0 {
		config.SweepInterval = config.TTL
	}

	seeded, err := store.Load()
	if err != nil {
		return nil, err
	}
	metrics.ProfileCacheSize.Set(float64(len(seeded)))

	return &Cache{
		fetcher: fetcher,
		store:   store,
		bus:     b,
		config:  config,
		entries: seeded,
		pending: make(map[string]struct{}),
	}, nil
}

// Get returns the fresh cached profile for id, or a deterministic
// placeholder while a coalesced background refresh runs. It never
// blocks on the network and never returns an error.
func (c *Cache) Get(id string) models.CachedProfile {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return Placeholder(id)
	}

	entry, ok := c.entries[id]
	if ok && entry.FreshAt(time.Now(), c.config.TTL) {
		c.mu.Unlock()
		metrics.ProfileCacheHits.Inc()
		return entry
	}
	metrics.ProfileCacheMisses.Inc()

	// Stale entries are still the best immediate answer; a missing one
	// degrades to the placeholder.
	result := Placeholder(id)
	if ok {
		result = entry
	}

	c.scheduleFetchLocked(id)
	c.mu.Unlock()
	return result
}

// Prefetch warms the cache for ids that are missing or stale, e.g.
// ahead of a ticket-table render. Values are not returned; interested
// surfaces hear about completions on the notification bus.
func (c *Cache) Prefetch(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	now := time.Now()
	for _, id := range ids {
		if entry, ok := c.entries[id]; ok && entry.FreshAt(now, c.config.TTL) {
			continue
		}
		c.scheduleFetchLocked(id)
	}
}

// Invalidate removes an entry, forcing the next Get to refetch.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	_, ok := c.entries[id]
	delete(c.entries, id)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if ok {
		metrics.ProfileCacheSize.Set(float64(len(snapshot)))
		c.persist(snapshot)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// scheduleFetchLocked registers a pending fetch for id unless one is
// already in flight. Callers piggybacking on an existing fetch will
// observe its result via the cache and the bus; no second network call
// is ever issued for the same id.
func (c *Cache) scheduleFetchLocked(id string) {
	if _, inFlight := c.pending[id]; inFlight {
		metrics.ProfileCacheCoalesced.Inc()
		return
	}
	c.pending[id] = struct{}{}
	go c.refresh(id)
}

// refresh performs the single in-flight fetch for id and settles the
// pending entry regardless of outcome. Failures leave the cache
// untouched so the next access retries instead of caching an error.
func (c *Cache) refresh(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.FetchTimeout)
	defer cancel()

	fetched, err := c.fetcher.FetchProfile(ctx, id)

	c.mu.Lock()
	delete(c.pending, id)
	if err != nil || c.closed {
		c.mu.Unlock()
		if err != nil {
			metrics.ProfileFetches.WithLabelValues("failure").Inc()
			logging.Debug().Err(err).Str("user", id).Msg("profile fetch failed")
		}
		return
	}
	c.entries[id] = fetched
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	metrics.ProfileFetches.WithLabelValues("success").Inc()
	metrics.ProfileCacheSize.Set(float64(len(snapshot)))

	c.persist(snapshot)
	if c.bus != nil {
		if err := c.bus.PublishProfile(bus.ProfileUpdate{ID: id, Profile: fetched}); err != nil {
			logging.Warn().Err(err).Str("user", id).Msg("failed to broadcast profile update")
		}
	}
}

// persist writes a snapshot of the cache to the durable store.
func (c *Cache) persist(snapshot map[string]models.CachedProfile) {
	if err := c.store.Save(snapshot); err != nil {
		logging.Warn().Err(err).Msg("failed to persist profile cache")
	}
}

// snapshotLocked copies the entries map for use outside the lock.
func (c *Cache) snapshotLocked() map[string]models.CachedProfile {
	out := make(map[string]models.CachedProfile, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// sweep drops entries past the TTL to bound memory.
func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	removed := 0
	for id, entry := range c.entries {
		if !entry.FreshAt(now, c.config.TTL) {
			delete(c.entries, id)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.ProfileCacheSize.Set(float64(size))
	if removed > 0 {
		logging.Debug().Int("removed", removed).Msg("profile cache sweep")
	}
}

// Serve implements suture.Service: it runs the periodic expiry sweep
// until the context is canceled, then persists once more and marks the
// cache closed.
func (c *Cache) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (c *Cache) String() string {
	return "profile-cache"
}

// Close marks the cache closed and persists its final state. Safe to
// call more than once; Get/Prefetch afterwards are placeholder-only
// no-ops that never leak new pending fetches.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snapshot)
}
