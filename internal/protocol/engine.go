// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package protocol implements the webhook exchange: one inbound report
// is parsed, applied to member and region state, and answered with an
// ordered command batch, all as a single transaction.
//
// Each exchange moves through Received, Identified, Authorized, Applied
// and Responded. The whole Applied+Responded span runs under one
// exchange mutex so presence computation and region edits observe a
// consistent snapshot of shared state.
//
// The response batch ordering is a behavioural contract with real
// clients and is assembled in a fixed precedence:
//
//  1. peer positions and profile cards, on ping or manual reports
//  2. waypoint push as a clear-then-set pair
//  3. configuration bundle, flags cleared at-most-once
//  4. dynamic accuracy reconfiguration, only on a state flip
//  5. immediate location request, when owed
//  6. waypoint-list request, when owed
//  7. status request, appended last on heartbeats
package protocol

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/waypointhub/internal/config"
	"github.com/tomtom215/waypointhub/internal/logging"
	"github.com/tomtom215/waypointhub/internal/member"
	"github.com/tomtom215/waypointhub/internal/metrics"
	"github.com/tomtom215/waypointhub/internal/models"
	"github.com/tomtom215/waypointhub/internal/presence"
	"github.com/tomtom215/waypointhub/internal/region"
)

// ErrUnconfigured indicates a report without member-name and device-id
// correlation. The caller still answers HTTP 200 with an empty batch,
// but the condition is surfaced rather than silently dropped.
var ErrUnconfigured = errors.New("report missing member/device correlation")

// defaultPing is the heartbeat interval pushed in configuration
// bundles, in minutes.
const defaultPing = 15

// escalatedLocatorInterval is the reporting interval pushed while a
// member is inside a region's high-accuracy ring, in seconds.
const escalatedLocatorInterval = 30

// Forwarder fans reports out to downstream consumers. Implemented by
// fanout.Manager.
type Forwarder interface {
	// ForwardAsync archives the raw report fire-and-forget.
	ForwardAsync(body []byte)

	// ForwardSync posts the raw report to a federated hub and returns
	// its raw response batch, or nil when federation is disabled.
	ForwardSync(ctx context.Context, body []byte) ([]byte, error)
}

// Engine processes webhook exchanges against shared hub state.
type Engine struct {
	mu sync.Mutex

	members  *member.Registry
	regions  *region.Store
	presence presence.Config
	forward  Forwarder

	// serviceMember bypasses the enabled check for hub-to-hub traffic.
	serviceMember string

	locatorInterval     int
	locatorDisplacement int
	extendedData        bool

	// presenceOverridden tracks whether an operator replaced the
	// file-configured presence tuning at runtime, so snapshots only
	// carry deliberate overrides.
	presenceOverridden bool
}

// New wires an engine over the shared stores.
func New(members *member.Registry, regions *region.Store, pres presence.Config, cfg *config.Config, fwd Forwarder) *Engine {
	return &Engine{
		members:             members,
		regions:             regions,
		presence:            pres,
		forward:             fwd,
		serviceMember:       cfg.Federation.ServiceMember,
		locatorInterval:     cfg.Presence.LocatorInterval,
		locatorDisplacement: cfg.Presence.LocatorDisplacement,
		extendedData:        cfg.Presence.ExtendedData,
	}
}

// PresenceConfig returns the current presence tuning.
func (e *Engine) PresenceConfig() presence.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presence
}

// SetPresenceConfig replaces the presence tuning at runtime. Takes
// effect on the next exchange and is carried in snapshots from then on.
func (e *Engine) SetPresenceConfig(p presence.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.presence = p
	e.presenceOverridden = true
}

// PresenceOverride returns the runtime presence tuning, or nil when the
// engine still runs the file-configured values.
func (e *Engine) PresenceOverride() *presence.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.presenceOverridden {
		return nil
	}
	p := e.presence
	return &p
}

// HandleReport runs one full exchange and returns the ordered command
// batch. It never fails the exchange: malformed input, unknown members
// and disabled members all produce an empty (but valid) batch.
func (e *Engine) HandleReport(ctx context.Context, name, deviceID string, body []byte) []models.Command {
	start := time.Now()
	batch := []models.Command{}

	// Received
	if name == "" || deviceID == "" {
		logging.Ctx(ctx).Warn().Err(ErrUnconfigured).Msg("Rejecting report without correlation headers")
		metrics.RecordExchange("unknown", "unconfigured", time.Since(start))
		return batch
	}

	report, err := models.DecodeReport(body)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("member", name).Msg("Rejecting malformed report body")
		metrics.RecordExchange("unknown", "malformed", time.Since(start))
		return batch
	}
	kind := string(report.Kind())

	e.mu.Lock()

	// Identified
	m, created := e.members.LookupOrCreate(name, deviceID)
	if created {
		logging.Ctx(ctx).Warn().
			Str("member", name).
			Str("device", deviceID).
			Msg("Unknown member auto-registered disabled, awaiting admin approval")
	}

	// Authorized
	if !m.Enabled && name != e.serviceMember {
		e.mu.Unlock()
		logging.Ctx(ctx).Debug().Str("member", name).Msg("Report from disabled member not processed")
		metrics.RecordExchange(kind, "unauthorized", time.Since(start))
		return batch
	}

	// Applied
	outcome := e.apply(ctx, m, report)

	// Responded
	batch = e.respond(m, report, outcome)

	if e.members.AllWaypointsAcknowledged() {
		if purged := e.regions.PurgeMarkedIfAllAcknowledged(e.members); purged > 0 {
			metrics.RegionsPurged.Add(float64(purged))
			logging.Ctx(ctx).Info().Int("count", purged).Msg("Purged regions after all members acknowledged")
		}
	}
	regionCount := len(e.regions.List(false))
	e.mu.Unlock()

	metrics.RegionCount.Set(float64(regionCount))

	// Reports arriving from the federated hub itself are not forwarded
	// back to it.
	if name != e.serviceMember {
		batch = e.mergeFederation(ctx, report, body, batch)
	}

	for _, cmd := range batch {
		metrics.CommandsReturned.WithLabelValues(commandAction(cmd)).Inc()
	}
	metrics.RecordExchange(kind, "ok", time.Since(start))
	return batch
}

// applyOutcome carries Applied-phase results into response assembly.
type applyOutcome struct {
	accuracy presence.AccuracyChange
}

// apply dispatches one report by payload kind. Failures inside a kind
// handler are logged and absorbed; the exchange always responds.
func (e *Engine) apply(ctx context.Context, m *member.Member, report models.Report) applyOutcome {
	var out applyOutcome

	switch r := report.(type) {
	case *models.LocationReport:
		out.accuracy = e.applyLocation(ctx, m, r)

	case *models.TransitionReport:
		out.accuracy = e.applyTransition(ctx, m, r)

	case *models.WaypointReport:
		e.applyWaypoints(ctx, m, []models.Waypoint{r.Waypoint})

	case *models.WaypointsReport:
		e.applyWaypoints(ctx, m, r.Waypoints)

	case *models.CmdReport:
		e.applyCmd(ctx, m, r)

	case *models.StatusReport:
		if r.TID != "" {
			m.TID = r.TID
		}
		if r.Variant != "" {
			m.AppVariant = r.Variant
		}
		m.Status = r.Raw
		logging.Ctx(ctx).Debug().Str("member", m.Name).Msg("Stored status diagnostics")

	case *models.CardReport:
		m.CardName = r.Name
		m.CardFace = r.Face
		logging.Ctx(ctx).Debug().Str("member", m.Name).Str("card", r.Name).Msg("Stored profile card")
	}

	return out
}

func (e *Engine) applyLocation(ctx context.Context, m *member.Member, r *models.LocationReport) presence.AccuracyChange {
	d := e.presence.Evaluate(presence.Input{
		Lat:       r.Lat,
		Lon:       r.Lon,
		AccuracyM: r.Acc,
		SSID:      r.SSID,
		InRegions: r.InRegions,
	}, m, e.regions)

	if r.TID != "" {
		m.TID = r.TID
	}
	if r.Batt != 0 {
		m.Battery = r.Batt
	}
	if r.Conn != "" {
		m.Connection = r.Conn
	}

	if d.NoFix {
		logging.Ctx(ctx).Debug().
			Str("member", m.Name).
			Float64("acc_m", r.Acc).
			Msg("Location treated as ping with no usable fix")
		return e.applyAccuracy(m, d.Accuracy)
	}

	m.Lat = r.Lat
	m.Lon = r.Lon
	m.AccuracyM = r.Acc
	m.SSID = r.SSID
	m.VelocityKmh = r.Vel
	if r.Tst > 0 {
		m.FixTime = time.Unix(r.Tst, 0)
	} else {
		m.FixTime = time.Now()
	}

	e.applyPresence(ctx, m, d)
	e.forwardReport(r)
	return e.applyAccuracy(m, d.Accuracy)
}

func (e *Engine) applyTransition(ctx context.Context, m *member.Member, r *models.TransitionReport) presence.AccuracyChange {
	d := e.presence.Evaluate(presence.Input{
		Lat:         r.Lat,
		Lon:         r.Lon,
		AccuracyM:   r.Acc,
		Event:       r.Event,
		EventRegion: r.Desc,
		SSID:        m.SSID,
		InRegions:   m.InRegions,
	}, m, e.regions)

	if d.SuppressedLeave {
		metrics.SuppressedLeaves.Inc()
	}

	if !d.NoFix {
		m.Lat = r.Lat
		m.Lon = r.Lon
		m.AccuracyM = r.Acc
		if r.Tst > 0 {
			m.FixTime = time.Unix(r.Tst, 0)
		} else {
			m.FixTime = time.Now()
		}
		e.applyPresence(ctx, m, d)
	}

	logging.Ctx(ctx).Info().
		Str("member", m.Name).
		Str("event", r.Event).
		Str("region", r.Desc).
		Bool("suppressed", d.SuppressedLeave).
		Msg("Region transition")

	e.forwardReport(r)
	return e.applyAccuracy(m, d.Accuracy)
}

// applyPresence writes a presence decision onto the member record.
func (e *Engine) applyPresence(ctx context.Context, m *member.Member, d presence.Decision) {
	if d.Indeterminate {
		m.InRegions = d.InRegions
		return
	}
	if d.IsHome != m.IsHome {
		to := "away"
		if d.IsHome {
			to = "home"
		}
		metrics.PresenceFlips.WithLabelValues(m.Name, to).Inc()
		logging.Ctx(ctx).Info().
			Str("member", m.Name).
			Str("to", to).
			Float64("distance_km", d.DistanceFromHomeKm).
			Msg("Presence changed")
	}
	m.IsHome = d.IsHome
	m.InRegions = d.InRegions
	m.DistanceKm = d.DistanceFromHomeKm
}

// applyAccuracy flips the member's escalation state and reports the
// change for response assembly.
func (e *Engine) applyAccuracy(m *member.Member, c presence.AccuracyChange) presence.AccuracyChange {
	switch c {
	case presence.AccuracyEscalate:
		m.DynamicAccuracyActive = true
		metrics.AccuracyEscalations.WithLabelValues("escalate").Inc()
	case presence.AccuracyDeescalate:
		m.DynamicAccuracyActive = false
		metrics.AccuracyEscalations.WithLabelValues("deescalate").Inc()
	}
	return c
}

// applyWaypoints merges client-submitted region edits into the shared
// store. Private members' edits are never merged.
func (e *Engine) applyWaypoints(ctx context.Context, m *member.Member, wps []models.Waypoint) {
	if m.Private {
		logging.Ctx(ctx).Info().
			Str("member", m.Name).
			Int("count", len(wps)).
			Msg("Discarding region edits from private member")
		return
	}

	changed := false
	for _, wp := range wps {
		if err := e.regions.AddOrUpdate(region.FromWaypoint(wp)); err != nil {
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("member", m.Name).
				Str("desc", wp.Desc).
				Msg("Region edit rejected")
			continue
		}
		if !region.IsFollowRegion(wp.Desc) {
			changed = true
		}
	}
	if changed {
		// Every enabled member owes a refresh of the shared list.
		e.members.SetPendingAll(member.ActionWaypoints)
	}
}

func (e *Engine) applyCmd(ctx context.Context, m *member.Member, r *models.CmdReport) {
	switch r.Action {
	case models.ActionSetWaypoints:
		if r.Waypoints != nil {
			e.applyWaypoints(ctx, m, r.Waypoints.Waypoints)
		}
	case models.ActionWaypoints:
		// Client asks for the shared region list.
		m.Pending.Set(member.ActionWaypoints)
	default:
		// Acknowledged but not executed.
		logging.Ctx(ctx).Debug().
			Str("member", m.Name).
			Str("action", r.Action).
			Msg("Ignoring unsupported cmd action")
	}
}

// respond assembles the outbound batch in the documented precedence.
func (e *Engine) respond(m *member.Member, report models.Report, out applyOutcome) []models.Command {
	batch := []models.Command{}

	loc, isLocation := report.(*models.LocationReport)
	ping := isLocation && loc.Trigger == models.TriggerPing
	manual := isLocation && loc.Trigger == models.TriggerManual

	// 1. Peer positions and cards. Privacy isolates both directions: a
	// private requester gets none, and private members are never echoed.
	if (ping || manual) && !m.Private {
		for _, peer := range e.members.Members() {
			if peer.Name == m.Name || !peer.Enabled || peer.Private || !peer.HasFix() {
				continue
			}
			batch = append(batch, models.LocationEcho{
				Type: string(models.KindLocation),
				TID:  peer.DefaultTID(),
				Lat:  peer.Lat,
				Lon:  peer.Lon,
				Acc:  peer.AccuracyM,
				Tst:  peer.FixTime.Unix(),
			})
			if peer.CardName != "" {
				batch = append(batch, models.CardAttachment{
					Type: string(models.KindCard),
					TID:  peer.DefaultTID(),
					Name: peer.CardName,
					Face: peer.CardFace,
				})
			}
		}
	}

	// 2. Waypoint push: an explicit clear first, so clients without
	// update-in-place do not accumulate duplicate descriptions.
	if m.Pending.Take(member.ActionWaypoints) {
		excludeFollow := strings.EqualFold(m.AppVariant, "ios")
		var wps []models.Waypoint
		for _, r := range e.regions.List(excludeFollow) {
			wps = append(wps, r.ToWaypoint())
		}
		batch = append(batch,
			models.NewSetWaypointsCmd(nil),
			models.NewSetWaypointsCmd(wps),
		)
	}

	// 3. Configuration bundle, each flag drained at-most-once.
	locCfg := m.Pending.Take(member.ActionLocationConfig)
	dispCfg := m.Pending.Take(member.ActionDisplayConfig)
	if locCfg || dispCfg {
		cfg := models.Configuration{Ping: defaultPing, Mode: models.ModeHTTP}
		if locCfg {
			cfg.LocatorInterval = e.locatorInterval
			cfg.LocatorDisplacement = e.locatorDisplacement
		}
		if dispCfg {
			ext := e.extendedData
			cfg.ExtendedData = &ext
			cfg.TID = m.DefaultTID()
		}
		batch = append(batch, models.NewSetConfigurationCmd(cfg))
	} else if out.accuracy != presence.AccuracyUnchanged {
		// 4. Accuracy reconfiguration, only when no bundle was pushed
		// this cycle and only on a state flip.
		batch = append(batch, e.accuracyCmd(out.accuracy))
	}

	// 5. Immediate location request owed to stale members.
	if m.Pending.Take(member.ActionHighAccuracy) {
		batch = append(batch, models.NewReportLocationCmd())
	}

	// 6. Waypoint-list request.
	if m.Pending.Take(member.ActionGetRegions) {
		batch = append(batch, models.NewRequestWaypointsCmd())
	}

	// 7. Status request rides on heartbeats only, appended last.
	if ping {
		batch = append(batch, models.NewStatusCmd())
	}

	return batch
}

// accuracyCmd builds the reporting-mode reconfiguration for a flip.
func (e *Engine) accuracyCmd(c presence.AccuracyChange) models.Command {
	move := 2
	significant := 1
	if c == presence.AccuracyEscalate {
		return models.NewSetConfigurationCmd(models.Configuration{
			Monitoring:      &move,
			LocatorInterval: escalatedLocatorInterval,
			Ping:            defaultPing,
		})
	}
	return models.NewSetConfigurationCmd(models.Configuration{
		Monitoring:      &significant,
		LocatorInterval: e.locatorInterval,
		Ping:            defaultPing,
	})
}

// forwardReport archives location and transition reports downstream.
func (e *Engine) forwardReport(r models.Report) {
	if e.forward == nil {
		return
	}
	body, err := json.Marshal(r)
	if err != nil {
		logging.Warn().Err(err).Msg("Could not re-encode report for fanout")
		return
	}
	e.forward.ForwardAsync(body)
}

// mergeFederation appends the federated hub's response batch, if any.
// Federation failures never affect the primary response.
func (e *Engine) mergeFederation(ctx context.Context, report models.Report, body []byte, batch []models.Command) []models.Command {
	if e.forward == nil {
		return batch
	}
	switch report.(type) {
	case *models.LocationReport, *models.TransitionReport:
	default:
		return batch
	}

	resp, err := e.forward.ForwardSync(ctx, body)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Federated hub forward failed")
		return batch
	}
	if len(resp) == 0 {
		return batch
	}

	var peerCmds []json.RawMessage
	if err := json.Unmarshal(resp, &peerCmds); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Federated hub returned an unparseable batch")
		return batch
	}
	for _, raw := range peerCmds {
		batch = append(batch, models.RawCommand(raw))
	}
	return batch
}

// commandAction labels a command for metrics.
func commandAction(c models.Command) string {
	switch cmd := c.(type) {
	case models.SetConfigurationCmd:
		return cmd.Action
	case models.SetWaypointsCmd:
		return cmd.Action
	case models.SimpleCmd:
		return cmd.Action
	case models.LocationEcho:
		return "locationEcho"
	case models.CardAttachment:
		return "card"
	case models.RawCommand:
		return "federated"
	default:
		return "unknown"
	}
}
