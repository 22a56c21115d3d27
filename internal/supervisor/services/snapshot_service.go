// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package services

import (
	"context"
	"time"

	"github.com/tomtom215/waypointhub/internal/logging"
	"github.com/tomtom215/waypointhub/internal/member"
	"github.com/tomtom215/waypointhub/internal/presence"
	"github.com/tomtom215/waypointhub/internal/region"
	"github.com/tomtom215/waypointhub/internal/store"
)

// StateExporter yields a consistent value copy of the hub state, taken
// under the exchange lock, plus the runtime presence override (nil when
// the configured values are untouched). Satisfied by *protocol.Engine.
type StateExporter interface {
	ExportState() ([]member.Member, []region.Region, region.TstID)
	PresenceOverride() *presence.Config
}

// SnapshotWriter persists a state document. Satisfied by *store.Store.
type SnapshotWriter interface {
	Save(snap *store.Snapshot) error
}

// SnapshotService periodically persists the hub's in-memory state so a
// restart resumes with the same members, regions, pending actions, and
// deferred deletions. A final snapshot is written on shutdown before
// the service returns.
type SnapshotService struct {
	state    StateExporter
	writer   SnapshotWriter
	interval time.Duration
	name     string
}

// NewSnapshotService creates a snapshot writer running every interval.
func NewSnapshotService(state StateExporter, writer SnapshotWriter, interval time.Duration) *SnapshotService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SnapshotService{
		state:    state,
		writer:   writer,
		interval: interval,
		name:     "snapshot-writer",
	}
}

// Serve implements suture.Service. Snapshot failures are logged and
// counted but do not crash the service; the next tick retries.
func (s *SnapshotService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.snapshot(); err != nil {
				logging.Error().Err(err).Msg("Final snapshot on shutdown failed")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.snapshot(); err != nil {
				logging.Warn().Err(err).Msg("Periodic snapshot failed")
			}
		}
	}
}

func (s *SnapshotService) snapshot() error {
	members, regions, homeTst := s.state.ExportState()
	return s.writer.Save(&store.Snapshot{
		Members:  members,
		Regions:  regions,
		HomeTst:  homeTst,
		Presence: s.state.PresenceOverride(),
	})
}

// String implements fmt.Stringer for logging.
func (s *SnapshotService) String() string {
	return s.name
}
