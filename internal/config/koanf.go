// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/waypointhub/config.yaml",
	"/etc/waypointhub/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces all environment overrides:
// WAYPOINTHUB_SERVER_PORT -> server.port
const envPrefix = "WAYPOINTHUB_"

// defaultConfig returns a Config with all defaults applied. These are
// overridden by the config file and then by environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8083,
			Timeout: 30 * time.Second,
		},
		Presence: PresenceConfig{
			HomeTst:             0,
			HomeSSIDs:           []string{},
			WifiKeepRadiusM:     500,
			HighAccuracyBandM:   300,
			MaxAccuracyM:        200,
			RingAllRegions:      false,
			Imperial:            false,
			LocatorInterval:     180,
			LocatorDisplacement: 50,
			ExtendedData:        true,
		},
		Follow: FollowConfig{
			Enabled:         true,
			IntervalSeconds: 180,
		},
		Watchdog: WatchdogConfig{
			Enabled:    true,
			Interval:   5 * time.Minute,
			StaleAfter: 1 * time.Hour,
		},
		Snapshot: SnapshotConfig{
			Path:     "/data/waypointhub",
			Interval: 5 * time.Minute,
		},
		Recorder: RecorderConfig{
			Enabled:      false,
			URL:          "",
			Timeout:      5 * time.Second,
			MaxPerSecond: 10,
		},
		Federation: FederationConfig{
			Enabled:       false,
			URL:           "",
			Timeout:       5 * time.Second,
			ServiceMember: "_hub",
		},
		Security: SecurityConfig{
			AdminUsername:   "admin",
			SessionTimeout:  24 * time.Hour,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file
// and environment overrides, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps WAYPOINTHUB_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore after the prefix becomes a path separator;
// the remainder stays underscored to match koanf struct tags.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// sliceConfigPaths are fields parsed as comma-separated lists when they
// arrive as env var strings.
var sliceConfigPaths = []string{
	"presence.home_ssids",
}

// processSliceFields converts comma-separated strings into slices for
// the known slice fields. YAML-sourced values are already slices and
// pass through.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
