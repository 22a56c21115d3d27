// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package region holds the authoritative list of named circular
// geofence regions (waypoints) shared by all members.
//
// A region's creation timestamp is its true identity: it never changes
// once assigned, so a client can rename a region (new description, same
// tst) without creating a duplicate. Descriptions act only as a natural
// key for duplicate detection on create.
//
// Deletion is two-phase. Clients poll asynchronously and each must
// receive the deletion before the hub may forget it, so a deleted
// region first gets sentinel out-of-range coordinates and stays listed;
// it is physically removed only once every enabled member has
// acknowledged the updated list.
package region

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/tomtom215/waypointhub/internal/models"
)

// TstID is the stable identity of a region: the Unix timestamp assigned
// at creation, immutable thereafter.
type TstID int64

// DeleteSentinel is written to both coordinates of a region marked for
// deletion. It is deliberately outside the valid latitude [-90,90] and
// longitude [-180,180] domains.
const DeleteSentinel = 1000.0

var (
	// ErrDuplicateDescription indicates a create with a description
	// already used by a different region.
	ErrDuplicateDescription = errors.New("region description already in use")

	// ErrNotFound indicates a region lookup miss.
	ErrNotFound = errors.New("region not found")

	// ErrNoHome indicates no home region is configured.
	ErrNoHome = errors.New("no home region configured")
)

// Region is a named circular geofence.
type Region struct {
	Description string  `json:"desc"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	RadiusM     float64 `json:"rad"`
	Tst         TstID   `json:"tst"`
}

// MarkedForDeletion reports whether the region carries the deletion
// sentinel coordinates.
func (r Region) MarkedForDeletion() bool {
	return r.Lat < -90 || r.Lat > 90 || r.Lon < -180 || r.Lon > 180
}

// ToWaypoint converts a region to its wire form.
func (r Region) ToWaypoint() models.Waypoint {
	return models.Waypoint{
		Type: models.KindWaypoint,
		Desc: r.Description,
		Lat:  r.Lat,
		Lon:  r.Lon,
		Rad:  r.RadiusM,
		Tst:  int64(r.Tst),
	}
}

// FromWaypoint converts a wire waypoint to a region.
func FromWaypoint(wp models.Waypoint) Region {
	return Region{
		Description: wp.Desc,
		Lat:         wp.Lat,
		Lon:         wp.Lon,
		RadiusM:     wp.Rad,
		Tst:         TstID(wp.Tst),
	}
}

// Store is the authoritative, mutex-guarded region list.
type Store struct {
	mu      sync.Mutex
	regions []Region
	homeTst TstID
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// AddOrUpdate applies a waypoint edit or create.
//
// Lookup is by Tst: a match is an in-place edit of description,
// coordinates and radius. Without a Tst match, a create whose
// description collides with a different-identity region is rejected
// with ErrDuplicateDescription rather than silently merged. Echoed
// follow regions are dropped to prevent re-import loops.
func (s *Store) AddOrUpdate(r Region) error {
	if IsFollowRegion(r.Description) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.regions {
		if s.regions[i].Tst == r.Tst {
			s.regions[i].Description = r.Description
			s.regions[i].Lat = r.Lat
			s.regions[i].Lon = r.Lon
			s.regions[i].RadiusM = r.RadiusM
			return nil
		}
	}
	for i := range s.regions {
		if s.regions[i].Description == r.Description {
			return fmt.Errorf("%w: %q (tst %d)", ErrDuplicateDescription, r.Description, s.regions[i].Tst)
		}
	}

	s.regions = append(s.regions, r)
	return nil
}

// MarkForDeletion marks the region identified by ref (a tst value or a
// description) with sentinel coordinates. The region stays listed until
// every enabled member has acknowledged the updated list.
func (s *Store) MarkForDeletion(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findLocked(ref)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	s.regions[idx].Lat = DeleteSentinel
	s.regions[idx].Lon = DeleteSentinel
	return nil
}

// findLocked resolves ref as a tst first, then as a description.
// Returns -1 on miss. Caller holds s.mu.
func (s *Store) findLocked(ref string) int {
	if tst, err := strconv.ParseInt(ref, 10, 64); err == nil {
		for i := range s.regions {
			if s.regions[i].Tst == TstID(tst) {
				return i
			}
		}
	}
	for i := range s.regions {
		if s.regions[i].Description == ref {
			return i
		}
	}
	return -1
}

// Acknowledger reports whether every enabled member has received the
// current waypoint list. Implemented by the member registry.
type Acknowledger interface {
	AllWaypointsAcknowledged() bool
}

// PurgeMarkedIfAllAcknowledged physically removes sentinel-coordinate
// regions, but only once reg confirms all enabled members have picked
// up the list. Returns the number of regions removed.
func (s *Store) PurgeMarkedIfAllAcknowledged(reg Acknowledger) int {
	if !reg.AllWaypointsAcknowledged() {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.regions[:0]
	removed := 0
	for _, r := range s.regions {
		if r.MarkedForDeletion() {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.regions = kept
	return removed
}

// List returns a snapshot of the region list. With excludeFollow set,
// follow-tracking regions are filtered out; they are an implementation
// artifact and never shown to humans or other members.
func (s *Store) List(excludeFollow bool) []Region {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		if excludeFollow && IsFollowRegion(r.Description) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Get returns the region with the given identity.
func (s *Store) Get(tst TstID) (Region, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.regions {
		if r.Tst == tst {
			return r, true
		}
	}
	return Region{}, false
}

// SetHome designates the region with the given identity as the
// presence-decision anchor.
func (s *Store) SetHome(tst TstID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.regions {
		if r.Tst == tst {
			s.homeTst = tst
			return nil
		}
	}
	return fmt.Errorf("%w: tst %d", ErrNotFound, tst)
}

// Home returns the designated home region. The second return is false
// when no home is configured or the configured identity no longer
// resolves; callers must surface that condition, not default silently.
func (s *Store) Home() (Region, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.homeTst == 0 {
		return Region{}, false
	}
	for _, r := range s.regions {
		if r.Tst == s.homeTst && !r.MarkedForDeletion() {
			return r, true
		}
	}
	return Region{}, false
}

// HomeTst returns the configured home identity (0 when unset).
func (s *Store) HomeTst() TstID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homeTst
}

// Export returns the full region list plus home identity for snapshot
// persistence.
func (s *Store) Export() ([]Region, TstID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Region, len(s.regions))
	copy(out, s.regions)
	return out, s.homeTst
}

// Restore replaces store contents from a snapshot.
func (s *Store) Restore(regions []Region, homeTst TstID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.regions = make([]Region, len(regions))
	copy(s.regions, regions)
	s.homeTst = homeTst
}
