// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package presence implements the home/away decision engine.
//
// Three geofencing signals feed the decision, combined as a union so a
// signal can only ever add presence:
//
//   - hub-computed: haversine distance from home within the home radius
//     (boundary is inclusive, distance <= radius)
//   - client-reported: the mobile's own region membership or an explicit
//     enter transition for the home region
//   - WiFi-assisted: association with a configured home SSID, valid only
//     within the keep radius so a stale SSID far from home cannot create
//     a false positive
//
// The WiFi signal additionally suppresses spurious leave transitions:
// GPS drift can fire a leave event while the device is physically still
// inside WiFi coverage.
package presence

import (
	"slices"

	"github.com/tomtom215/waypointhub/internal/geo"
	"github.com/tomtom215/waypointhub/internal/logging"
	"github.com/tomtom215/waypointhub/internal/member"
	"github.com/tomtom215/waypointhub/internal/models"
	"github.com/tomtom215/waypointhub/internal/region"
)

// Config holds presence tuning. Serialized into state snapshots when
// edited at runtime, hence the tags.
type Config struct {
	// HomeSSIDs lists WiFi network names treated as evidence of being
	// home. Empty disables the WiFi signal entirely.
	HomeSSIDs []string `json:"homeSsids"`

	// WifiKeepRadiusM bounds the WiFi signal: beyond this distance from
	// home an SSID match is ignored.
	WifiKeepRadiusM float64 `json:"wifiKeepRadiusM"`

	// HighAccuracyBandM is the width of the ring outside a region
	// boundary in which high-accuracy mode is requested.
	HighAccuracyBandM float64 `json:"highAccuracyBandM"`

	// MaxAccuracyM is the worst reported fix accuracy still considered
	// usable. Reports beyond it are pings with no usable fix.
	MaxAccuracyM float64 `json:"maxAccuracyM"`

	// RingAllRegions widens the dynamic-accuracy check from the home
	// region to every region.
	RingAllRegions bool `json:"ringAllRegions"`
}

// AccuracyChange is the dynamic-accuracy command to emit, if any.
type AccuracyChange int

// Accuracy decision outcomes. A command is emitted only when the
// escalation state flips; identical consecutive evaluations are silent.
const (
	AccuracyUnchanged AccuracyChange = iota
	AccuracyEscalate
	AccuracyDeescalate
)

// Input is the geofencing-relevant slice of an inbound report.
type Input struct {
	Lat       float64
	Lon       float64
	AccuracyM float64
	SSID      string

	// InRegions is the client-reported region membership (location
	// reports).
	InRegions []string

	// Event and EventRegion carry an explicit transition, when present.
	Event       string
	EventRegion string
}

// Decision is the presence evaluation result.
type Decision struct {
	// NoFix marks a report whose accuracy exceeded the usable
	// threshold. Position and presence must not be updated; piggy-backed
	// payload handling still proceeds.
	NoFix bool

	// Indeterminate marks a missing home region. Presence holds the
	// member's prior value rather than flipping on misconfiguration.
	Indeterminate bool

	IsHome             bool
	InRegions          []string
	DistanceFromHomeKm float64
	Accuracy           AccuracyChange

	// SuppressedLeave records that a leave transition was overridden by
	// the WiFi signal.
	SuppressedLeave bool
}

// Evaluate runs the presence decision for one report against the
// member's prior state and the current region list. It does not mutate
// the member; the protocol layer applies the decision.
func (c Config) Evaluate(in Input, m *member.Member, regions *region.Store) Decision {
	if c.MaxAccuracyM > 0 && in.AccuracyM > c.MaxAccuracyM {
		logging.Debug().
			Str("member", m.Name).
			Float64("accuracy_m", in.AccuracyM).
			Float64("max_m", c.MaxAccuracyM).
			Msg("Report accuracy beyond threshold, treating as ping with no usable fix")
		return Decision{NoFix: true, IsHome: m.IsHome}
	}

	home, haveHome := regions.Home()
	if !haveHome {
		logging.Warn().
			Str("member", m.Name).
			Msg("No home region configured, presence indeterminate")
		return Decision{
			Indeterminate: true,
			IsHome:        m.IsHome,
			InRegions:     c.reportedRegions(in),
			Accuracy:      c.accuracyDecision(in, m, regions),
		}
	}

	dist := geo.DistanceKm(in.Lat, in.Lon, home.Lat, home.Lon)

	hubHome := dist <= home.RadiusM/1000
	mobileHome := slices.Contains(in.InRegions, home.Description) ||
		(in.EventRegion == home.Description && in.Event == models.EventEnter)
	wifiHome := c.wifiHome(in.SSID, dist)

	suppressed := false
	if in.Event == models.EventLeave && in.EventRegion == home.Description && wifiHome {
		suppressed = true
		logging.Info().
			Str("member", m.Name).
			Str("ssid", in.SSID).
			Msg("Leave transition suppressed by home SSID association")
	}

	isHome := hubHome || mobileHome || wifiHome

	inRegions := c.reportedRegions(in)
	if isHome && !slices.Contains(inRegions, home.Description) {
		inRegions = append(inRegions, home.Description)
	}
	if !isHome && in.Event == models.EventLeave && in.EventRegion == home.Description {
		inRegions = removeRegion(inRegions, home.Description)
	}

	return Decision{
		IsHome:             isHome,
		InRegions:          inRegions,
		DistanceFromHomeKm: dist,
		Accuracy:           c.accuracyDecision(in, m, regions),
		SuppressedLeave:    suppressed,
	}
}

// reportedRegions assembles the client's own view of region membership.
func (c Config) reportedRegions(in Input) []string {
	out := make([]string, 0, len(in.InRegions)+1)
	for _, r := range in.InRegions {
		if region.IsFollowRegion(r) {
			continue
		}
		out = append(out, r)
	}
	if in.Event == models.EventEnter && in.EventRegion != "" &&
		!region.IsFollowRegion(in.EventRegion) && !slices.Contains(out, in.EventRegion) {
		out = append(out, in.EventRegion)
	}
	return out
}

func removeRegion(list []string, desc string) []string {
	out := list[:0]
	for _, r := range list {
		if r != desc {
			out = append(out, r)
		}
	}
	return out
}

// wifiHome evaluates the WiFi-assisted signal. It only ever adds
// presence, and only within the keep radius.
func (c Config) wifiHome(ssid string, distKm float64) bool {
	if ssid == "" || len(c.HomeSSIDs) == 0 {
		return false
	}
	if c.WifiKeepRadiusM <= 0 || distKm >= c.WifiKeepRadiusM/1000 {
		return false
	}
	return slices.Contains(c.HomeSSIDs, ssid)
}

// accuracyDecision implements the ring-band escalation: a member
// between a region boundary and boundary+band is in transition and
// should report with high accuracy. The decision compares desired state
// against the member's current escalation state and emits a change only
// on a flip.
func (c Config) accuracyDecision(in Input, m *member.Member, regions *region.Store) AccuracyChange {
	if c.HighAccuracyBandM <= 0 {
		return AccuracyUnchanged
	}

	closest, ok := c.closestRegion(in, regions)
	if !ok {
		return AccuracyUnchanged
	}

	distM := geo.DistanceKm(in.Lat, in.Lon, closest.Lat, closest.Lon) * 1000
	desired := distM > closest.RadiusM && distM < closest.RadiusM+c.HighAccuracyBandM

	switch {
	case desired && !m.DynamicAccuracyActive:
		return AccuracyEscalate
	case !desired && m.DynamicAccuracyActive:
		return AccuracyDeescalate
	default:
		return AccuracyUnchanged
	}
}

// closestRegion picks the candidate region nearest to the report
// position: the home region only, or all live regions when
// RingAllRegions is set.
func (c Config) closestRegion(in Input, regions *region.Store) (region.Region, bool) {
	if !c.RingAllRegions {
		return regions.Home()
	}

	var best region.Region
	bestDist := -1.0
	for _, r := range regions.List(true) {
		if r.MarkedForDeletion() {
			continue
		}
		d := geo.DistanceKm(in.Lat, in.Lon, r.Lat, r.Lon)
		if bestDist < 0 || d < bestDist {
			best, bestDist = r, d
		}
	}
	return best, bestDist >= 0
}
