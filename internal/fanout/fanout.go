// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package fanout forwards inbound reports to downstream consumers: a
// recorder archive (fire-and-forget) and a federated hub (whose
// response commands are merged into the webhook reply). Both paths are
// protected by a circuit breaker so a dead downstream never stalls
// report processing.
package fanout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/waypointhub/internal/config"
	"github.com/tomtom215/waypointhub/internal/logging"
	"github.com/tomtom215/waypointhub/internal/metrics"
)

// ErrRateLimited is returned when the recorder rate limit is exhausted.
// Callers treat it as a drop, not a failure.
var ErrRateLimited = errors.New("fanout: rate limited")

// Target is one downstream HTTP consumer of forwarded reports.
type Target struct {
	name    string
	url     string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
}

func newTarget(name, url string, timeout time.Duration, maxPerSecond float64) *Target {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	t := &Target{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
	if maxPerSecond > 0 {
		burst := int(maxPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(maxPerSecond), burst)
	}

	t.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("target", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Fanout circuit breaker state transition")
		},
	})
	return t
}

// post sends the raw report body downstream and returns the response
// body, going through the rate limiter and circuit breaker.
func (t *Target) post(ctx context.Context, body []byte) ([]byte, error) {
	if t.limiter != nil && !t.limiter.Allow() {
		metrics.FanoutRequests.WithLabelValues(t.name, "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	resp, err := t.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("post %s: %w", t.name, err)
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return nil, fmt.Errorf("post %s: unexpected status %d", t.name, res.StatusCode)
		}
		return io.ReadAll(io.LimitReader(res.Body, 1<<20))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.FanoutRequests.WithLabelValues(t.name, "rejected").Inc()
		} else {
			metrics.FanoutRequests.WithLabelValues(t.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.FanoutRequests.WithLabelValues(t.name, "success").Inc()
	return resp, nil
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Manager owns the configured downstream targets.
type Manager struct {
	recorder   *Target
	federation *Target
}

// NewManager builds targets from recorder and federation configuration.
// Disabled targets are nil and every forward becomes a no-op.
func NewManager(rec *config.RecorderConfig, fed *config.FederationConfig) *Manager {
	m := &Manager{}
	if rec != nil && rec.Enabled && rec.URL != "" {
		m.recorder = newTarget("recorder", rec.URL, rec.Timeout, rec.MaxPerSecond)
	}
	if fed != nil && fed.Enabled && fed.URL != "" {
		m.federation = newTarget("federation", fed.URL, fed.Timeout, 0)
	}
	return m
}

// ForwardAsync copies the raw report to the recorder without blocking
// the caller. Failures are logged and never propagated.
func (m *Manager) ForwardAsync(body []byte) {
	if m == nil || m.recorder == nil {
		return
	}
	// The report is archived on a best-effort basis. Copy the body so
	// the caller can reuse its buffer.
	buf := make([]byte, len(body))
	copy(buf, body)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.recorder.client.Timeout)
		defer cancel()

		if _, err := m.recorder.post(ctx, buf); err != nil {
			if errors.Is(err, ErrRateLimited) {
				logging.Debug().Str("target", m.recorder.name).Msg("Recorder forward dropped by rate limit")
				return
			}
			logging.Warn().Err(err).Str("target", m.recorder.name).Msg("Recorder forward failed")
		}
	}()
}

// ForwardSync posts the raw report to the federated hub and returns the
// peer's raw response body (a JSON command array) for the caller to
// merge. A nil response with nil error means federation is disabled.
func (m *Manager) ForwardSync(ctx context.Context, body []byte) ([]byte, error) {
	if m == nil || m.federation == nil {
		return nil, nil
	}
	resp, err := m.federation.post(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("federation forward: %w", err)
	}
	return resp, nil
}
