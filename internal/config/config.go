// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package config holds all application configuration, loaded via Koanf
// in three layers: built-in defaults, an optional YAML config file, and
// environment variable overrides.
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Presence   PresenceConfig   `koanf:"presence"`
	Follow     FollowConfig     `koanf:"follow"`
	Watchdog   WatchdogConfig   `koanf:"watchdog"`
	Snapshot   SnapshotConfig   `koanf:"snapshot"`
	Recorder   RecorderConfig   `koanf:"recorder"`
	Federation FederationConfig `koanf:"federation"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// PresenceConfig tunes the geofence decision engine.
type PresenceConfig struct {
	// HomeTst is the timestamp identity of the home region (0 = unset;
	// presence is indeterminate until an operator designates one).
	HomeTst int64 `koanf:"home_tst"`

	// HomeSSIDs lists WiFi networks treated as evidence of being home.
	HomeSSIDs []string `koanf:"home_ssids"`

	// WifiKeepRadiusM bounds the WiFi signal to a distance from home.
	WifiKeepRadiusM float64 `koanf:"wifi_keep_radius_m"`

	// HighAccuracyBandM is the ring width outside a region boundary in
	// which clients are switched to high-accuracy reporting.
	HighAccuracyBandM float64 `koanf:"high_accuracy_band_m"`

	// MaxAccuracyM is the worst usable reported fix accuracy; beyond it
	// a report is a ping with no usable fix.
	MaxAccuracyM float64 `koanf:"max_accuracy_m"`

	// RingAllRegions widens the dynamic-accuracy check from the home
	// region to all regions.
	RingAllRegions bool `koanf:"ring_all_regions"`

	// Imperial selects display units; storage stays metric.
	Imperial bool `koanf:"imperial"`

	// LocatorInterval / LocatorDisplacement are the location tuning
	// values pushed by an updateLocationConfig flag.
	LocatorInterval     int `koanf:"locator_interval"`
	LocatorDisplacement int `koanf:"locator_displacement"`

	// ExtendedData is the display tuning value pushed by an
	// updateDisplayConfig flag.
	ExtendedData bool `koanf:"extended_data"`
}

// FollowConfig controls the background-transition tracking region.
type FollowConfig struct {
	Enabled bool `koanf:"enabled"`

	// IntervalSeconds is the reporting interval encoded into the follow
	// region name. Changing it replaces the region.
	IntervalSeconds int `koanf:"interval_seconds"`
}

// WatchdogConfig controls the staleness watchdog.
type WatchdogConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Interval   time.Duration `koanf:"interval"`
	StaleAfter time.Duration `koanf:"stale_after"`
}

// SnapshotConfig controls state persistence.
type SnapshotConfig struct {
	// Path is the Badger directory holding the state document.
	Path string `koanf:"path"`

	// Interval is the periodic snapshot cadence.
	Interval time.Duration `koanf:"interval"`
}

// RecorderConfig points at a downstream recorder that receives every
// location/transition report fire-and-forget.
type RecorderConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`

	// MaxPerSecond caps the forward rate (0 = unlimited).
	MaxPerSecond float64 `koanf:"max_per_second"`
}

// FederationConfig points at a secondary hub that speaks the same
// webhook protocol; its response batch is merged into ours.
type FederationConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`

	// ServiceMember is the privileged pseudo-member name used for
	// hub-to-hub exchanges; it bypasses the enabled check.
	ServiceMember string `koanf:"service_member"`
}

// SecurityConfig holds admin surface authentication and rate limits.
type SecurityConfig struct {
	AdminUsername     string        `koanf:"admin_username"`
	AdminPasswordHash string        `koanf:"admin_password_hash"`
	JWTSecret         string        `koanf:"jwt_secret"`
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Presence.WifiKeepRadiusM < 0 {
		return fmt.Errorf("presence.wifi_keep_radius_m must not be negative")
	}
	if c.Presence.HighAccuracyBandM < 0 {
		return fmt.Errorf("presence.high_accuracy_band_m must not be negative")
	}
	if c.Presence.MaxAccuracyM < 0 {
		return fmt.Errorf("presence.max_accuracy_m must not be negative")
	}
	if c.Follow.Enabled && c.Follow.IntervalSeconds <= 0 {
		return fmt.Errorf("follow.interval_seconds must be positive when follow is enabled")
	}
	if c.Recorder.Enabled && c.Recorder.URL == "" {
		return fmt.Errorf("recorder.url is required when recorder is enabled")
	}
	if c.Federation.Enabled && c.Federation.URL == "" {
		return fmt.Errorf("federation.url is required when federation is enabled")
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path is required")
	}
	if c.Security.JWTSecret != "" && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	return nil
}
