// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package region

import (
	"strconv"
	"strings"
	"time"
)

// FollowPrefix names the special tracking region. A region called
// "follow-<interval>" exists solely so transition-capable clients keep
// their background region callbacks armed; it is never geofenced
// against and never shown outside the hub.
const FollowPrefix = "follow-"

// IsFollowRegion reports whether a description names a follow region.
func IsFollowRegion(desc string) bool {
	return strings.HasPrefix(desc, FollowPrefix)
}

// FollowDescription builds the follow-region name for an interval in
// seconds.
func FollowDescription(intervalSecs int) string {
	return FollowPrefix + strconv.Itoa(intervalSecs)
}

// EnsureFollowRegion keeps exactly one follow region matching the
// current reporting interval. On an interval change the stale entry is
// removed outright (follow regions skip two-phase deletion: clients
// replace their whole list on the next waypoint push) and a fresh one
// is inserted at a neutral placeholder coordinate. Returns true when
// the list changed, in which case callers should flag a waypoint push
// to all members.
func (s *Store) EnsureFollowRegion(intervalSecs int) bool {
	want := FollowDescription(intervalSecs)

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	kept := s.regions[:0]
	found := false
	for _, r := range s.regions {
		if IsFollowRegion(r.Description) {
			if r.Description == want && !found {
				found = true
				kept = append(kept, r)
				continue
			}
			// stale or duplicate follow region
			changed = true
			continue
		}
		kept = append(kept, r)
	}
	s.regions = kept

	if !found {
		s.regions = append(s.regions, Region{
			Description: want,
			Lat:         0,
			Lon:         0,
			RadiusM:     0,
			Tst:         TstID(time.Now().Unix()),
		})
		changed = true
	}
	return changed
}
