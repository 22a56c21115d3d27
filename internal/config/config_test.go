// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ===================================================================================================
// Defaults and Layering Tests
// ===================================================================================================

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("WAYPOINTHUB_SNAPSHOT_PATH", filepath.Join(t.TempDir(), "state"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8083 {
		t.Errorf("Server.Port = %d, want 8083", cfg.Server.Port)
	}
	if cfg.Presence.HighAccuracyBandM != 300 {
		t.Errorf("HighAccuracyBandM = %v, want 300", cfg.Presence.HighAccuracyBandM)
	}
	if cfg.Follow.IntervalSeconds != 180 {
		t.Errorf("Follow.IntervalSeconds = %d, want 180", cfg.Follow.IntervalSeconds)
	}
	if cfg.Federation.ServiceMember != "_hub" {
		t.Errorf("ServiceMember = %q, want _hub", cfg.Federation.ServiceMember)
	}
	if cfg.Watchdog.StaleAfter != time.Hour {
		t.Errorf("StaleAfter = %v, want 1h", cfg.Watchdog.StaleAfter)
	}
}

func TestLoad_EnvOverridesAndSlices(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("WAYPOINTHUB_SNAPSHOT_PATH", filepath.Join(t.TempDir(), "state"))
	t.Setenv("WAYPOINTHUB_SERVER_PORT", "9090")
	t.Setenv("WAYPOINTHUB_PRESENCE_HOME_SSIDS", "homenet, attic-ap")
	t.Setenv("WAYPOINTHUB_PRESENCE_RING_ALL_REGIONS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Presence.HomeSSIDs) != 2 || cfg.Presence.HomeSSIDs[1] != "attic-ap" {
		t.Errorf("HomeSSIDs = %v", cfg.Presence.HomeSSIDs)
	}
	if !cfg.Presence.RingAllRegions {
		t.Error("RingAllRegions should be overridden to true")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 7070
presence:
  home_tst: 1600000000
  home_ssids:
    - homenet
snapshot:
  path: ` + filepath.Join(dir, "state") + `
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Presence.HomeTst != 1600000000 {
		t.Errorf("HomeTst = %d", cfg.Presence.HomeTst)
	}
	if len(cfg.Presence.HomeSSIDs) != 1 || cfg.Presence.HomeSSIDs[0] != "homenet" {
		t.Errorf("HomeSSIDs = %v", cfg.Presence.HomeSSIDs)
	}
}

// ===================================================================================================
// Validation Tests
// ===================================================================================================

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := defaultConfig()
		c.Snapshot.Path = "/tmp/state"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"negative keep radius", func(c *Config) { c.Presence.WifiKeepRadiusM = -1 }, true},
		{"negative band", func(c *Config) { c.Presence.HighAccuracyBandM = -1 }, true},
		{"follow without interval", func(c *Config) { c.Follow.IntervalSeconds = 0 }, true},
		{"recorder without url", func(c *Config) { c.Recorder.Enabled = true }, true},
		{"federation without url", func(c *Config) { c.Federation.Enabled = true }, true},
		{"empty snapshot path", func(c *Config) { c.Snapshot.Path = "" }, true},
		{"short jwt secret", func(c *Config) { c.Security.JWTSecret = "short" }, true},
		{"long jwt secret", func(c *Config) { c.Security.JWTSecret = "0123456789abcdef0123456789abcdef" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
