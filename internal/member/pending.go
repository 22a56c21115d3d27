// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package member

import "strings"

// PendingActions is the set of outbound actions owed to a client,
// replacing ad hoc per-member booleans with one bitfield whose add and
// clear paths are centralized here. Each flag marks an at-most-once
// delivery: it is cleared when the corresponding command is included in
// a response, and only an operator re-sets it if that response is lost.
type PendingActions uint8

// Pending action flags.
const (
	// ActionWaypoints: push the current region list.
	ActionWaypoints PendingActions = 1 << iota

	// ActionLocationConfig: push the location-tuning configuration bundle.
	ActionLocationConfig

	// ActionDisplayConfig: push the display-tuning configuration bundle.
	ActionDisplayConfig

	// ActionGetRegions: ask the client to publish its waypoint list.
	ActionGetRegions

	// ActionHighAccuracy: ask the client for an immediate location
	// publish (set by the staleness watchdog or an operator).
	ActionHighAccuracy
)

// Set adds the given flags.
func (p *PendingActions) Set(a PendingActions) {
	*p |= a
}

// Clear removes the given flags.
func (p *PendingActions) Clear(a PendingActions) {
	*p &^= a
}

// Has reports whether all given flags are set.
func (p PendingActions) Has(a PendingActions) bool {
	return p&a == a
}

// Take reports whether the flags were set and clears them in the same
// step. Response assembly drains flags through Take so inclusion and
// clearing can never diverge.
func (p *PendingActions) Take(a PendingActions) bool {
	if !p.Has(a) {
		return false
	}
	p.Clear(a)
	return true
}

// String lists set flags for logging.
func (p PendingActions) String() string {
	if p == 0 {
		return "none"
	}
	names := []struct {
		flag PendingActions
		name string
	}{
		{ActionWaypoints, "waypoints"},
		{ActionLocationConfig, "locationConfig"},
		{ActionDisplayConfig, "displayConfig"},
		{ActionGetRegions, "getRegions"},
		{ActionHighAccuracy, "highAccuracy"},
	}
	var out []string
	for _, n := range names {
		if p.Has(n.flag) {
			out = append(out, n.name)
		}
	}
	return strings.Join(out, "|")
}
