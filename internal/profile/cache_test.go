// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package profile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darking1222/pinion-syncd/internal/bus"
	"github.com/darking1222/pinion-syncd/internal/models"
)

// fakeFetcher counts fetches and can block them until released.
type fakeFetcher struct {
	calls   atomic.Int64
	release chan struct{} // when non-nil, FetchProfile blocks until closed
	err     error

	mu       sync.Mutex
	profiles map[string]models.CachedProfile
}

func (f *fakeFetcher) FetchProfile(ctx context.Context, id string) (models.CachedProfile, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return models.CachedProfile{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.CachedProfile{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return models.CachedProfile{
		ID:        id,
		Username:  "user-" + id,
		FetchedAt: time.Now(),
	}, nil
}

// memStore is an in-memory Store for tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]models.CachedProfile
	saves   int
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]models.CachedProfile{}}
}

func (s *memStore) Load() (map[string]models.CachedProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.CachedProfile, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Save(entries map[string]models.CachedProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.saves++
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testConfig() Config {
	return Config{
		TTL:          30 * time.Minute,
		FetchTimeout: time.Second,
	}
}

func TestGetMissReturnsPlaceholderThenCaches(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	cache, err := New(fetcher, newMemStore(), nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	got := cache.Get("12345678")
	if !got.Placeholder {
		t.Fatalf("first Get returned %+v, want placeholder", got)
	}
	if got.Username != "unknown" || got.DisplayName != "User 5678" {
		t.Errorf("placeholder = %+v", got)
	}

	waitFor(t, func() bool {
		return !cache.Get("12345678").Placeholder
	}, "fetched profile never replaced the placeholder")

	if got := cache.Get("12345678"); got.Username != "user-12345678" {
		t.Errorf("cached profile = %+v", got)
	}
}

func TestConcurrentLookupsCoalesce(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{release: make(chan struct{})}
	cache, err := New(fetcher, newMemStore(), nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Get("abc")
		}()
	}
	wg.Wait()

	close(fetcher.release)
	waitFor(t, func() bool {
		return !cache.Get("abc").Placeholder
	}, "coalesced fetch never completed")

	if n := fetcher.calls.Load(); n != 1 {
		t.Errorf("fetcher called %d times for one id, want 1", n)
	}
}

func TestStaleEntryServedWhileRefreshing(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.entries["u1"] = models.CachedProfile{
		ID:        "u1",
		Username:  "old-name",
		FetchedAt: time.Now().Add(-time.Hour),
	}

	fetcher := &fakeFetcher{release: make(chan struct{})}
	cache, err := New(fetcher, store, nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	// While the refresh is blocked the stale value is the answer.
	got := cache.Get("u1")
	if got.Placeholder || got.Username != "old-name" {
		t.Fatalf("stale lookup = %+v, want old-name", got)
	}

	close(fetcher.release)
	waitFor(t, func() bool {
		return cache.Get("u1").Username == "user-u1"
	}, "refresh never replaced the stale entry")
}

func TestFetchFailureLeavesNoEntry(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("api down")}
	cache, err := New(fetcher, newMemStore(), nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	if got := cache.Get("u1"); !got.Placeholder {
		t.Fatalf("Get = %+v, want placeholder", got)
	}
	waitFor(t, func() bool {
		return fetcher.calls.Load() >= 1 && cache.Len() == 0
	}, "failed fetch left the cache dirty")

	// The next lookup retries instead of caching the failure.
	cache.Get("u1")
	waitFor(t, func() bool {
		return fetcher.calls.Load() >= 2
	}, "failed fetch was never retried")
	if cache.Len() != 0 {
		t.Errorf("cache holds %d entries after failures, want 0", cache.Len())
	}
}

func TestPrefetchSkipsFreshEntries(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.entries["fresh"] = models.CachedProfile{
		ID:        "fresh",
		Username:  "already-here",
		FetchedAt: time.Now(),
	}

	fetcher := &fakeFetcher{}
	cache, err := New(fetcher, store, nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	cache.Prefetch([]string{"fresh", "missing-1", "missing-2"})

	waitFor(t, func() bool {
		return cache.Len() == 3
	}, "prefetch never warmed the missing ids")
	if n := fetcher.calls.Load(); n != 2 {
		t.Errorf("fetcher called %d times, want 2 (fresh entry skipped)", n)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	cache, err := New(fetcher, newMemStore(), nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	cache.Get("u1")
	waitFor(t, func() bool { return cache.Len() == 1 }, "initial fetch never landed")

	cache.Invalidate("u1")
	if cache.Len() != 0 {
		t.Fatalf("Len = %d after Invalidate, want 0", cache.Len())
	}

	cache.Get("u1")
	waitFor(t, func() bool {
		return fetcher.calls.Load() == 2
	}, "invalidated id was not refetched")
}

func TestSuccessfulRefreshBroadcastsOnBus(t *testing.T) {
	t.Parallel()

	b := bus.New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := b.SubscribeProfiles(ctx)
	if err != nil {
		t.Fatalf("SubscribeProfiles: %v", err)
	}

	cache, err := New(&fakeFetcher{}, newMemStore(), b, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	cache.Get("u1")

	select {
	case update := <-updates:
		if update.ID != "u1" || update.Profile.Username != "user-u1" {
			t.Errorf("bus update = %+v", update)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no bus broadcast after successful refresh")
	}
}

func TestCloseStopsNewFetches(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	store := newMemStore()
	cache, err := New(fetcher, store, nil, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cache.Get("u1")
	waitFor(t, func() bool { return cache.Len() == 1 }, "initial fetch never landed")

	cache.Close()
	cache.Close() // idempotent

	if store.saveCount() == 0 {
		t.Error("Close did not persist the cache")
	}

	before := fetcher.calls.Load()
	if got := cache.Get("u2"); !got.Placeholder {
		t.Errorf("Get after Close = %+v, want placeholder", got)
	}
	cache.Prefetch([]string{"u3", "u4"})
	time.Sleep(20 * time.Millisecond)
	if n := fetcher.calls.Load(); n != before {
		t.Errorf("fetches after Close: %d, want %d", n, before)
	}
}

func TestServeSweepsExpiredEntries(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	store := newMemStore()
	cache, err := New(fetcher, store, nil, Config{
		TTL:           40 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
		FetchTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cache.Serve(ctx) }()

	cache.Get("u1")
	waitFor(t, func() bool { return cache.Len() == 1 }, "initial fetch never landed")

	// Past the TTL the sweep reclaims the entry without any lookup.
	waitFor(t, func() bool { return cache.Len() == 0 }, "sweep never dropped the expired entry")

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancellation")
	}

	if store.saveCount() == 0 {
		t.Error("Serve shutdown did not persist the cache")
	}
	if got := cache.Get("u2"); !got.Placeholder {
		t.Errorf("Get after Serve shutdown = %+v, want placeholder", got)
	}
}

func TestServeKeepsFreshEntries(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	cache, err := New(fetcher, newMemStore(), nil, Config{
		TTL:           time.Hour,
		SweepInterval: 10 * time.Millisecond,
		FetchTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cache.Serve(ctx) }()
	t.Cleanup(func() { cancel(); <-done })

	cache.Get("u1")
	waitFor(t, func() bool { return cache.Len() == 1 }, "initial fetch never landed")

	// Several sweep cycles pass; a fresh entry survives them all.
	time.Sleep(50 * time.Millisecond)
	if cache.Len() != 1 {
		t.Errorf("Len = %d after sweeps, want 1", cache.Len())
	}
}

func TestPlaceholderDeterministic(t *testing.T) {
	t.Parallel()

	a := Placeholder("9876543210")
	b := Placeholder("9876543210")
	if a != b {
		t.Errorf("same id produced different placeholders:\n%+v\n%+v", a, b)
	}
	if !a.Placeholder {
		t.Error("Placeholder flag not set")
	}
	if a.DisplayName != "User 3210" {
		t.Errorf("DisplayName = %q", a.DisplayName)
	}
	if a.AvatarURI == Placeholder("1111111111").AvatarURI {
		t.Error("distinct ids rendered identical avatars")
	}
}
