// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package protocol

import (
	"time"

	"github.com/tomtom215/waypointhub/internal/member"
	"github.com/tomtom215/waypointhub/internal/region"
)

// Admin and background access to hub state goes through the engine so
// that every read and mutation serializes with the exchange in flight.
// The registry and region store are one unit under e.mu; nothing
// outside this package touches live member pointers.

// Members returns value copies of all members, sorted by name.
func (e *Engine) Members() []member.Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.members.Export()
}

// SetMemberEnabled enables or disables service for a member.
func (e *Engine) SetMemberEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.members.SetEnabled(name, enabled)
}

// SetMemberPrivate toggles a member's privacy flag.
func (e *Engine) SetMemberPrivate(name string, private bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.members.SetPrivate(name, private)
}

// SetMemberPending queues pending actions for a member's next exchange.
func (e *Engine) SetMemberPending(name string, a member.PendingActions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.members.SetPending(name, a)
}

// SetMemberSubscriptions replaces a member's notification routing.
func (e *Engine) SetMemberSubscriptions(name string, subs member.Subscriptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.members.SetSubscriptions(name, subs)
}

// DeleteMember removes a member.
func (e *Engine) DeleteMember(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.members.Delete(name)
}

// MarkStale flags every enabled member without a recent fix for a
// one-shot location request. Run by the watchdog.
func (e *Engine) MarkStale(now time.Time, staleAfter time.Duration) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.members.MarkStale(now, staleAfter)
}

// Regions returns value copies of the shared region list (follow
// regions excluded) plus the home designation.
func (e *Engine) Regions() ([]region.Region, region.TstID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regions.List(true), e.regions.HomeTst()
}

// UpsertRegion creates or edits a region and queues the waypoint
// refresh every enabled member is then owed. The pair is atomic with
// respect to exchanges.
func (e *Engine) UpsertRegion(r region.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.regions.AddOrUpdate(r); err != nil {
		return err
	}
	e.members.SetPendingAll(member.ActionWaypoints)
	return nil
}

// DeleteRegion marks a region for deferred deletion and queues the
// refresh that will eventually allow its purge.
func (e *Engine) DeleteRegion(ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.regions.MarkForDeletion(ref); err != nil {
		return err
	}
	e.members.SetPendingAll(member.ActionWaypoints)
	return nil
}

// SetHomeRegion designates the presence anchor region.
func (e *Engine) SetHomeRegion(tst region.TstID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regions.SetHome(tst)
}

// ExportState yields a consistent copy of members, regions, and the
// home designation for snapshot persistence.
func (e *Engine) ExportState() ([]member.Member, []region.Region, region.TstID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regions, homeTst := e.regions.Export()
	return e.members.Export(), regions, homeTst
}
