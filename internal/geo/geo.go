// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package geo provides great-circle distance calculation and unit
// conversion helpers. All stored values are metric; imperial conversion
// happens only at the display boundary so no rounding drift accumulates
// in stored state.
package geo

import (
	"fmt"
	"math"
)

// earthRadiusKm is the mean Earth radius used for haversine distances.
// Tests and downstream presence thresholds depend on this exact value.
const earthRadiusKm = 6372.8

const kmPerMile = 1.609344

// DistanceKm returns the great-circle distance in kilometres between two
// WGS84 coordinates using the haversine formula.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// radians converts degrees to radians.
func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// DisplayDistance formats a stored metric distance for presentation.
// With imperial set, kilometres are converted to miles. Rounding to one
// decimal place happens here and nowhere else.
func DisplayDistance(km float64, imperial bool) string {
	if imperial {
		return fmt.Sprintf("%.1f mi", km/kmPerMile)
	}
	return fmt.Sprintf("%.1f km", km)
}

// DisplaySpeed formats a stored km/h speed for presentation.
func DisplaySpeed(kmh float64, imperial bool) string {
	if imperial {
		return fmt.Sprintf("%.0f mph", kmh/kmPerMile)
	}
	return fmt.Sprintf("%.0f km/h", kmh)
}
