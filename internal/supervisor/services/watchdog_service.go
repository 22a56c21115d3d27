// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package services

import (
	"context"
	"time"

	"github.com/tomtom215/waypointhub/internal/logging"
)

// StaleMarker flags members whose last fix is too old. Satisfied by
// *protocol.Engine, which serializes the sweep with exchanges.
type StaleMarker interface {
	MarkStale(now time.Time, staleAfter time.Duration) []string
}

// WatchdogService periodically sweeps the member registry and queues a
// one-shot location request for every enabled member that has gone
// silent. The request rides out on the member's next exchange, so a
// device that never phones home again simply keeps its flag set.
type WatchdogService struct {
	members    StaleMarker
	interval   time.Duration
	staleAfter time.Duration
	name       string
}

// NewWatchdogService creates a watchdog sweeping every interval and
// flagging members whose fix is older than staleAfter.
func NewWatchdogService(members StaleMarker, interval, staleAfter time.Duration) *WatchdogService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &WatchdogService{
		members:    members,
		interval:   interval,
		staleAfter: staleAfter,
		name:       "staleness-watchdog",
	}
}

// Serve implements suture.Service. It runs the sweep loop until the
// context is canceled.
func (w *WatchdogService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			stale := w.members.MarkStale(now, w.staleAfter)
			if len(stale) > 0 {
				logging.Info().
					Strs("members", stale).
					Dur("stale_after", w.staleAfter).
					Msg("Requesting location from stale members")
			}
		}
	}
}

// String implements fmt.Stringer for logging.
func (w *WatchdogService) String() string {
	return w.name
}
