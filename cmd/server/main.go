// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package main is the entry point for the Waypoint Hub server.
//
// Waypoint Hub is a self-hosted presence and region synchronization hub
// for OwnTracks mobile clients. Devices POST location and transition
// reports to the webhook endpoint; the hub tracks per-member state,
// decides home/away presence, keeps every device's region (waypoint)
// list in sync, and answers each report with the commands the device
// should execute next.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, config file, environment (Koanf v2)
//  2. Snapshot store: BadgerDB state document, restored on startup
//  3. Fanout: recorder and federation forwarders with circuit breakers
//  4. Protocol engine: the webhook exchange state machine
//  5. Authentication: JWT admin API (optional, enabled by JWT_SECRET)
//  6. Supervisor tree: watchdog, snapshot writer, and HTTP server
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (WAYPOINTHUB_ prefix)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, a final state snapshot is written,
// and the Badger store is closed.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/waypointhub/internal/api"
	"github.com/tomtom215/waypointhub/internal/auth"
	"github.com/tomtom215/waypointhub/internal/config"
	"github.com/tomtom215/waypointhub/internal/fanout"
	"github.com/tomtom215/waypointhub/internal/logging"
	"github.com/tomtom215/waypointhub/internal/member"
	"github.com/tomtom215/waypointhub/internal/presence"
	"github.com/tomtom215/waypointhub/internal/protocol"
	"github.com/tomtom215/waypointhub/internal/region"
	"github.com/tomtom215/waypointhub/internal/store"
	"github.com/tomtom215/waypointhub/internal/supervisor"
	"github.com/tomtom215/waypointhub/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().Msg("Starting Waypoint Hub")

	// Restore state from the last snapshot, if one exists.
	db, err := store.Open(cfg.Snapshot.Path)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Snapshot.Path).Msg("Failed to open snapshot store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing snapshot store")
		}
	}()

	members := member.NewRegistry()
	regions := region.NewStore()

	snap, err := db.Load()
	switch {
	case err == nil:
		members.Restore(snap.Members)
		regions.Restore(snap.Regions, snap.HomeTst)
		logging.Info().
			Int("members", len(snap.Members)).
			Int("regions", len(snap.Regions)).
			Time("saved_at", snap.SavedAt).
			Msg("State restored from snapshot")
	case errors.Is(err, store.ErrNoSnapshot):
		logging.Info().Msg("No snapshot found, starting with empty state")
	default:
		logging.Fatal().Err(err).Msg("Failed to load snapshot")
	}

	// Configured home designation wins over the snapshot's.
	if cfg.Presence.HomeTst != 0 {
		if err := regions.SetHome(region.TstID(cfg.Presence.HomeTst)); err != nil {
			logging.Warn().Err(err).Int64("tst", cfg.Presence.HomeTst).Msg("Configured home region not found")
		}
	}
	if regions.HomeTst() == 0 {
		logging.Warn().Msg("No home region designated, presence is indeterminate until one is set")
	}

	if cfg.Follow.Enabled {
		if regions.EnsureFollowRegion(cfg.Follow.IntervalSeconds) {
			logging.Info().Int("interval_s", cfg.Follow.IntervalSeconds).Msg("Follow region created")
		}
	}

	forwarder := fanout.NewManager(&cfg.Recorder, &cfg.Federation)
	if cfg.Recorder.Enabled {
		logging.Info().Str("url", cfg.Recorder.URL).Msg("Recorder forwarding enabled")
	}
	if cfg.Federation.Enabled {
		logging.Info().Str("url", cfg.Federation.URL).Msg("Federation peer enabled")
	}

	engine := protocol.New(members, regions, presence.Config{
		HomeSSIDs:         cfg.Presence.HomeSSIDs,
		WifiKeepRadiusM:   cfg.Presence.WifiKeepRadiusM,
		HighAccuracyBandM: cfg.Presence.HighAccuracyBandM,
		MaxAccuracyM:      cfg.Presence.MaxAccuracyM,
		RingAllRegions:    cfg.Presence.RingAllRegions,
	}, cfg, forwarder)

	// Operator edits to the presence tuning outlive restarts.
	if snap != nil && snap.Presence != nil {
		engine.SetPresenceConfig(*snap.Presence)
		logging.Info().Msg("Runtime presence tuning restored from snapshot")
	}

	// The admin API is optional: without a JWT secret the webhook still
	// works but admin routes answer 503.
	var jwtManager *auth.JWTManager
	if cfg.Security.JWTSecret != "" {
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
		logging.Info().Msg("JWT authentication enabled for admin API")
	} else {
		logging.Warn().Msg("No JWT secret configured, admin API is disabled")
	}

	handler := api.NewHandler(engine, jwtManager, cfg)
	router := api.NewRouter(handler, &cfg.Security)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Bridge zerolog to slog for sutureslog.
	slogLogger := slog.New(logging.NewSlogHandler())

	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if cfg.Watchdog.Enabled {
		tree.AddStateService(services.NewWatchdogService(engine, cfg.Watchdog.Interval, cfg.Watchdog.StaleAfter))
		logging.Info().
			Dur("interval", cfg.Watchdog.Interval).
			Dur("stale_after", cfg.Watchdog.StaleAfter).
			Msg("Staleness watchdog added to supervisor tree")
	}
	tree.AddStateService(services.NewSnapshotService(engine, db, cfg.Snapshot.Interval))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor channel closes.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Waypoint Hub stopped gracefully")
}
