// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package store persists hub state (members, regions, home) through
// restarts. State is small and mutates on every report, so it is kept
// as a single snapshot document in BadgerDB rather than row-per-entity.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/waypointhub/internal/member"
	"github.com/tomtom215/waypointhub/internal/metrics"
	"github.com/tomtom215/waypointhub/internal/presence"
	"github.com/tomtom215/waypointhub/internal/region"
)

const snapshotKey = "state/current"

// ErrNoSnapshot is returned by Load when no snapshot has been saved
// yet, such as on first startup.
var ErrNoSnapshot = errors.New("store: no snapshot")

// Snapshot is the full serialized hub state. Presence is nil unless an
// operator has edited the presence tuning at runtime; older snapshots
// without the field load fine.
type Snapshot struct {
	Members  []member.Member  `json:"members"`
	Regions  []region.Region  `json:"regions"`
	HomeTst  region.TstID     `json:"homeTst"`
	Presence *presence.Config `json:"presence,omitempty"`
	SavedAt  time.Time        `json:"savedAt"`
}

// Store is a BadgerDB-backed snapshot store.
type Store struct {
	db *badger.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store, used in tests and when no
// snapshot path is configured.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Save writes the snapshot, replacing any previous one.
func (s *Store) Save(snap *Snapshot) error {
	start := time.Now()
	snap.SavedAt = start

	data, err := json.Marshal(snap)
	if err != nil {
		metrics.SnapshotErrors.Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), data)
	})
	if err != nil {
		metrics.SnapshotErrors.Inc()
		return fmt.Errorf("write snapshot: %w", err)
	}

	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Load reads the latest snapshot. Unknown fields in stored data are
// ignored so snapshots survive schema additions in either direction.
func (s *Store) Load() (*Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoSnapshot
		}
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
