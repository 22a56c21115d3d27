// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package fanout

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/waypointhub/internal/config"
)

// =============================================================================
// Disabled targets
// =============================================================================

func TestDisabledTargetsAreNoOps(t *testing.T) {
	m := NewManager(&config.RecorderConfig{Enabled: false}, &config.FederationConfig{Enabled: false})

	m.ForwardAsync([]byte(`{"_type":"location"}`))

	resp, err := m.ForwardSync(context.Background(), []byte(`{"_type":"location"}`))
	if err != nil {
		t.Fatalf("ForwardSync: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected nil response from disabled federation, got %q", resp)
	}
}

func TestNilManagerIsSafe(t *testing.T) {
	var m *Manager
	m.ForwardAsync([]byte(`x`))
	if _, err := m.ForwardSync(context.Background(), []byte(`x`)); err != nil {
		t.Fatalf("ForwardSync on nil manager: %v", err)
	}
}

// =============================================================================
// Recorder forwarding
// =============================================================================

func TestForwardAsyncDeliversBody(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewManager(&config.RecorderConfig{
		Enabled: true,
		URL:     srv.URL,
		Timeout: 5 * time.Second,
	}, nil)

	payload := []byte(`{"_type":"location","lat":45.0,"lon":9.0}`)
	m.ForwardAsync(payload)

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Errorf("recorder got %q, want %q", got, payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("recorder never received the report")
	}
}

func TestForwardAsyncRateLimit(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewManager(&config.RecorderConfig{
		Enabled:      true,
		URL:          srv.URL,
		Timeout:      5 * time.Second,
		MaxPerSecond: 2,
	}, nil)

	for i := 0; i < 10; i++ {
		m.ForwardAsync([]byte(`{"_type":"location"}`))
	}
	time.Sleep(500 * time.Millisecond)

	if got := hits.Load(); got > 2 {
		t.Errorf("rate limit allowed %d requests, want at most 2", got)
	}
}

// =============================================================================
// Federation forwarding
// =============================================================================

func TestForwardSyncReturnsResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"_type":"cmd","action":"reportLocation"}]`))
	}))
	defer srv.Close()

	m := NewManager(nil, &config.FederationConfig{
		Enabled: true,
		URL:     srv.URL,
		Timeout: 5 * time.Second,
	})

	resp, err := m.ForwardSync(context.Background(), []byte(`{"_type":"location"}`))
	if err != nil {
		t.Fatalf("ForwardSync: %v", err)
	}
	want := `[{"_type":"cmd","action":"reportLocation"}]`
	if string(resp) != want {
		t.Errorf("response = %q, want %q", resp, want)
	}
}

func TestForwardSyncErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewManager(nil, &config.FederationConfig{
		Enabled: true,
		URL:     srv.URL,
		Timeout: 5 * time.Second,
	})

	if _, err := m.ForwardSync(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

// =============================================================================
// Circuit breaker
// =============================================================================

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tgt := newTarget("test", srv.URL, 2*time.Second, 0)

	var lastErr error
	for i := 0; i < 20; i++ {
		_, lastErr = tgt.post(context.Background(), []byte(`{}`))
	}
	if lastErr == nil {
		t.Fatal("expected failures against a 500 server")
	}

	// After sustained failures the breaker rejects without dialing.
	if _, err := tgt.post(context.Background(), []byte(`{}`)); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open-circuit rejection, got %v", err)
	}
}
