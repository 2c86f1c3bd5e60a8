// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package profile

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/darking1222/pinion-syncd/internal/models"
)

// BadgerStore persists profiles in an embedded BadgerDB, one entry per
// id with a native TTL. Selected via store.backend=badger for long-lived
// desktop deployments where a session can outlast a process restart by
// days and a single-blob rewrite per refresh would churn too much.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	ttl    time.Duration
}

// NewBadgerStore opens (or creates) the store under dir. Entries are
// namespaced by session id, so other sessions' entries are invisible and
// age out via TTL rather than explicit cleanup.
func NewBadgerStore(dir, sessionID string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("profile store: open badger: %w", err)
	}
	return &BadgerStore{
		db:     db,
		prefix: []byte("profile/" + sessionID + "/"),
		ttl:    ttl,
	}, nil
}

// Load implements Store.
func (s *BadgerStore) Load() (map[string]models.CachedProfile, error) {
	out := map[string]models.CachedProfile{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(s.prefix):])
			if err := item.Value(func(v []byte) error {
				var p models.CachedProfile
				if err := json.Unmarshal(v, &p); err != nil {
					return nil // skip a corrupt entry, keep the rest
				}
				out[id] = p
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("profile store: load: %w", err)
	}
	return out, nil
}

// Save implements Store. Each entry is written with the cache TTL so
// Badger garbage-collects what the sweep would have dropped.
func (s *BadgerStore) Save(entries map[string]models.CachedProfile) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for id, p := range entries {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("profile store: marshal %s: %w", id, err)
		}
		entry := badger.NewEntry(append(append([]byte{}, s.prefix...), id...), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		if err := wb.SetEntry(entry); err != nil {
			return fmt.Errorf("profile store: write %s: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("profile store: flush: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
