// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package metrics provides Prometheus instrumentation for the hub:
// webhook exchange throughput, presence decisions, downstream fanout
// and snapshot persistence.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Exchange metrics
	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waypointhub_exchange_duration_seconds",
			Help:    "Duration of webhook exchanges in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"report_type", "outcome"},
	)

	CommandsReturned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypointhub_commands_returned_total",
			Help: "Total commands included in response batches",
		},
		[]string{"action"},
	)

	// Presence metrics
	PresenceFlips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypointhub_presence_flips_total",
			Help: "Total home/away presence state changes",
		},
		[]string{"member", "to"},
	)

	AccuracyEscalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypointhub_accuracy_mode_changes_total",
			Help: "Total dynamic accuracy mode changes",
		},
		[]string{"direction"},
	)

	SuppressedLeaves = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waypointhub_suppressed_leave_total",
			Help: "Leave transitions suppressed by home SSID association",
		},
	)

	// Region metrics
	RegionCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waypointhub_regions",
			Help: "Current number of regions (including marked-for-deletion)",
		},
	)

	RegionsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waypointhub_regions_purged_total",
			Help: "Regions physically removed after all members acknowledged",
		},
	)

	// Fanout metrics
	FanoutRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypointhub_fanout_requests_total",
			Help: "Downstream forward attempts by target and result",
		},
		[]string{"target", "result"},
	)

	// HTTP metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waypointhub_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waypointhub_api_active_requests",
			Help: "Number of API requests currently in flight",
		},
	)

	// Snapshot metrics
	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waypointhub_snapshot_duration_seconds",
			Help:    "Duration of state snapshot writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waypointhub_snapshot_errors_total",
			Help: "Failed state snapshot writes",
		},
	)
)

// RecordAPIRequest records one HTTP request observation.
func RecordAPIRequest(method, path string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		ActiveRequests.Inc()
	} else {
		ActiveRequests.Dec()
	}
}

// RecordExchange records one webhook exchange observation.
func RecordExchange(reportType, outcome string, duration time.Duration) {
	ExchangeDuration.WithLabelValues(reportType, outcome).Observe(duration.Seconds())
}
