// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/waypointhub/internal/config"
	"github.com/tomtom215/waypointhub/internal/middleware"
)

// NewRouter assembles the full route tree.
func NewRouter(h *Handler, sec *config.SecurityConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	limit := sec.RateLimitReqs
	window := sec.RateLimitWindow
	if limit <= 0 {
		limit = 300
	}
	if window <= 0 {
		window = time.Minute
	}

	// Webhook: mobile clients post reports here. Rate limited per IP;
	// the handler itself always answers 200 with a JSON array.
	r.With(httprate.LimitByIP(limit, window)).Post("/owntracks", h.Webhook)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	// Login gets its own strict limit against brute force.
	r.With(httprate.LimitByIP(10, 5*time.Minute)).Post("/api/v1/auth/login", h.Login)

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(httprate.LimitByIP(limit, window))
		if h.jwt != nil {
			r.Use(h.jwt.Authenticate)
		} else {
			r.Use(rejectAll)
		}

		r.Get("/members", h.ListMembers)
		r.Post("/members/{name}/enable", h.SetMemberEnabled)
		r.Post("/members/{name}/private", h.SetMemberPrivate)
		r.Post("/members/{name}/pending", h.SetMemberPending)
		r.Put("/members/{name}/subscriptions", h.SetMemberSubscriptions)
		r.Delete("/members/{name}", h.DeleteMember)

		r.Get("/regions", h.ListRegions)
		r.Post("/regions", h.UpsertRegion)
		r.Delete("/regions/{ref}", h.DeleteRegion)
		r.Put("/regions/home", h.SetHomeRegion)

		r.Get("/config/presence", h.GetPresenceConfig)
		r.Put("/config/presence", h.SetPresenceConfig)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// rejectAll guards admin routes when no credentials are configured.
func rejectAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusServiceUnavailable, "admin authentication not configured")
	})
}
