// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package member tracks per-member mutable state: identity, last known
// position, pending outbound actions, visibility flags and notification
// subscriptions.
//
// The registry is the single ambient store for members, created at
// process start and passed explicitly into every component that needs
// it. Report processing mutates members under the protocol engine's
// exchange lock; background jobs (watchdog) go through registry methods
// that take the registry lock and only perform idempotent flag
// assignments, never read-modify-write of compound state.
package member

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ErrNotFound indicates a member lookup miss.
var ErrNotFound = errors.New("member not found")

// Subscriptions holds notification routing for region transitions:
// which regions a member watches and which peer members get notified.
type Subscriptions struct {
	EnterRegions []string `json:"enterRegions,omitempty"`
	EnterTargets []string `json:"enterTargets,omitempty"`
	LeaveRegions []string `json:"leaveRegions,omitempty"`
	LeaveTargets []string `json:"leaveTargets,omitempty"`
}

// Member is one tracked person/device.
type Member struct {
	// Identity
	Name       string `json:"name"`
	DeviceID   string `json:"deviceId"`
	AppVariant string `json:"appVariant,omitempty"`
	TID        string `json:"tid,omitempty"`

	// Last-known state
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	FixTime     time.Time `json:"fixTime"`
	AccuracyM   float64   `json:"accuracyM,omitempty"`
	Battery     int       `json:"battery,omitempty"`
	Connection  string    `json:"connection,omitempty"`
	SSID        string    `json:"ssid,omitempty"`
	VelocityKmh float64   `json:"velocityKmh,omitempty"`

	// Presence
	IsHome     bool     `json:"isHome"`
	InRegions  []string `json:"inRegions,omitempty"`
	DistanceKm float64  `json:"distanceKm"`

	// Visibility
	Enabled bool `json:"enabled"`
	Private bool `json:"private"`

	// Control state
	Pending               PendingActions `json:"pending"`
	DynamicAccuracyActive bool           `json:"dynamicAccuracyActive"`

	// Profile card published by the client
	CardName string `json:"cardName,omitempty"`
	CardFace string `json:"cardFace,omitempty"`

	// Opaque diagnostics from the last status report
	Status json.RawMessage `json:"status,omitempty"`

	Subscriptions Subscriptions `json:"subscriptions"`
}

// HasFix reports whether the member has ever produced a usable fix.
func (m *Member) HasFix() bool {
	return !m.FixTime.IsZero()
}

// DefaultTID derives the two-character tracker ID used in location
// echoes when the client has not published one.
func (m *Member) DefaultTID() string {
	if m.TID != "" {
		return m.TID
	}
	name := strings.ToLower(m.Name)
	if len(name) >= 2 {
		return name[:2]
	}
	return name
}

// Registry is the mutex-guarded member store.
type Registry struct {
	mu      sync.Mutex
	members map[string]*Member
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[string]*Member)}
}

// LookupOrCreate returns the member with the given name, lazily
// creating a disabled record on first contact from an unrecognized
// identity. New members exist for admin visibility but generate no
// presence or config side effects until explicitly enabled. The second
// return reports whether the member was created by this call.
func (r *Registry) LookupOrCreate(name, deviceID string) (*Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.members[name]; ok {
		if deviceID != "" {
			m.DeviceID = deviceID
		}
		return m, false
	}

	m := &Member{Name: name, DeviceID: deviceID}
	r.members[name] = m
	return m, true
}

// Get returns the member with the given name.
func (r *Registry) Get(name string) (*Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[name]
	return m, ok
}

// Delete removes a member and cascades: the deleted name is dropped
// from every other member's notification target lists.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.members, name)

	for _, m := range r.members {
		m.Subscriptions.EnterTargets = removeString(m.Subscriptions.EnterTargets, name)
		m.Subscriptions.LeaveTargets = removeString(m.Subscriptions.LeaveTargets, name)
	}
	return nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// SetEnabled enables or disables service for a member.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	return r.mutate(name, func(m *Member) { m.Enabled = enabled })
}

// SetPrivate toggles the privacy flag: a private member's position and
// region edits are withheld from peers while presence is still computed.
func (r *Registry) SetPrivate(name string, private bool) error {
	return r.mutate(name, func(m *Member) { m.Private = private })
}

// SetPending sets pending flags on one member.
func (r *Registry) SetPending(name string, a PendingActions) error {
	return r.mutate(name, func(m *Member) { m.Pending.Set(a) })
}

// SetSubscriptions replaces a member's notification subscriptions.
func (r *Registry) SetSubscriptions(name string, subs Subscriptions) error {
	return r.mutate(name, func(m *Member) { m.Subscriptions = subs })
}

func (r *Registry) mutate(name string, fn func(*Member)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	fn(m)
	return nil
}

// SetPendingAll sets pending flags on every enabled member. Used when a
// shared resource changes (region list edit, config change).
func (r *Registry) SetPendingAll(a PendingActions) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.members {
		if m.Enabled {
			m.Pending.Set(a)
		}
	}
}

// AllWaypointsAcknowledged reports whether every enabled member has
// received the current region list. This gates physical removal of
// regions marked for deletion.
func (r *Registry) AllWaypointsAcknowledged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.members {
		if m.Enabled && m.Pending.Has(ActionWaypoints) {
			return false
		}
	}
	return true
}

// MarkStale sets ActionHighAccuracy on every enabled member whose last
// fix is older than staleAfter. The assignment is idempotent so it may
// run concurrently with request handling.
func (r *Registry) MarkStale(now time.Time, staleAfter time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for _, m := range r.members {
		if !m.Enabled {
			continue
		}
		if !m.HasFix() || now.Sub(m.FixTime) > staleAfter {
			m.Pending.Set(ActionHighAccuracy)
			stale = append(stale, m.Name)
		}
	}
	sort.Strings(stale)
	return stale
}

// Members returns all members sorted by name. The pointers are live;
// callers outside the exchange lock must treat them as read-only.
func (r *Registry) Members() []*Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Export returns value copies of all members for snapshot persistence.
func (r *Registry) Export() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Restore replaces registry contents from a snapshot.
func (r *Registry) Restore(members []Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = make(map[string]*Member, len(members))
	for i := range members {
		m := members[i]
		r.members[m.Name] = &m
	}
}
