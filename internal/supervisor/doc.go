// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package supervisor provides the suture-based supervision tree that
// keeps the hub's long-running components alive.
//
// Components are wrapped as suture.Service implementations (see the
// services subpackage) and attached to one of two child supervisors:
// the state layer for background maintenance loops and the api layer
// for the HTTP server. Failures restart the crashed service with
// exponential backoff without affecting the sibling layer.
package supervisor
