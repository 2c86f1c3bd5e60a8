// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

/*
store.go - Session-Scoped Profile Store

The cache persists its full contents after every successful refresh and
reads them back once at startup, so a dashboard reload does not refetch
every avatar. The store is scoped to one browsing session: constructing
a store for a new session id discards blobs left behind by old sessions.
*/
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/darking1222/pinion-syncd/internal/logging"
	"github.com/darking1222/pinion-syncd/internal/models"
)

// Store is the durable backing for the profile cache. Implementations
// must tolerate concurrent Save calls.
type Store interface {
	// Load reads the persisted cache contents. A store with no prior
	// state returns an empty map, not an error.
	Load() (map[string]models.CachedProfile, error)

	// Save replaces the persisted cache contents.
	Save(entries map[string]models.CachedProfile) error

	Close() error
}

// FileStore persists the cache as a single JSON blob keyed by session
// id. This is the default backend and mirrors the lifetime of one
// browsing session.
type FileStore struct {
	path string
}

const fileStorePrefix = "profiles-"

// NewFileStore creates a file store under dir for the given session id.
// Blobs from other sessions are removed: their session is over.
func NewFileStore(dir, sessionID string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("profile store: create dir: %w", err)
	}

	current := fileStorePrefix + sessionID + ".json"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("profile store: read dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, fileStorePrefix) && strings.HasSuffix(name, ".json") && name != current {
			if rmErr := os.Remove(filepath.Join(dir, name)); rmErr != nil {
				logging.Warn().Err(rmErr).Str("file", name).Msg("failed to remove stale session store")
			}
		}
	}

	return &FileStore{path: filepath.Join(dir, current)}, nil
}

// Load implements Store.
func (s *FileStore) Load() (map[string]models.CachedProfile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]models.CachedProfile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile store: read: %w", err)
	}

	out := map[string]models.CachedProfile{}
	if err := json.Unmarshal(data, &out); err != nil {
		// A corrupt blob is cosmetic data; start fresh rather than fail
		// startup.
		logging.Warn().Err(err).Str("path", s.path).Msg("discarding corrupt profile store")
		return map[string]models.CachedProfile{}, nil
	}
	return out, nil
}

// Save implements Store. The blob is written to a temp file and renamed
// so a crash mid-write never leaves a truncated store.
func (s *FileStore) Save(entries map[string]models.CachedProfile) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("profile store: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("profile store: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("profile store: rename: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
