// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package models defines the OwnTracks wire payloads exchanged with
// mobile clients: the inbound report types (discriminated by `_type`)
// and the outbound command batch returned in each HTTP response.
package models

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ReportKind is the `_type` discriminator of an inbound report.
type ReportKind string

// Known report kinds.
const (
	KindLocation   ReportKind = "location"
	KindTransition ReportKind = "transition"
	KindWaypoint   ReportKind = "waypoint"
	KindWaypoints  ReportKind = "waypoints"
	KindCmd        ReportKind = "cmd"
	KindStatus     ReportKind = "status"
	KindCard       ReportKind = "card"
)

// Trigger values carried in a location report's `t` field.
const (
	TriggerPing   = "p" // periodic heartbeat
	TriggerManual = "u" // user-initiated publish
	TriggerRegion = "c" // circular region event
	TriggerTimer  = "t" // timer-based move mode publish
)

// Transition event values.
const (
	EventEnter = "enter"
	EventLeave = "leave"
)

// ErrUnknownReportType indicates a `_type` value this hub does not handle.
var ErrUnknownReportType = errors.New("unknown report type")

// ErrMissingType indicates a body without a `_type` discriminator.
var ErrMissingType = errors.New("missing _type discriminator")

// Report is the tagged union over inbound payload kinds. Every concrete
// report type implements Kind(); protocol dispatch switches on the
// concrete type so a new kind is a compile-time-checked addition.
type Report interface {
	Kind() ReportKind
}

// LocationReport is a periodic or triggered position fix.
type LocationReport struct {
	Type      ReportKind `json:"_type"`
	Lat       float64    `json:"lat"`
	Lon       float64    `json:"lon"`
	Acc       float64    `json:"acc,omitempty"`
	Tst       int64      `json:"tst"`
	Batt      int        `json:"batt,omitempty"`
	Conn      string     `json:"conn,omitempty"`
	Vel       float64    `json:"vel,omitempty"`
	Trigger   string     `json:"t,omitempty"`
	TID       string     `json:"tid,omitempty"`
	SSID      string     `json:"SSID,omitempty"`
	BSSID     string     `json:"BSSID,omitempty"`
	InRegions []string   `json:"inregions,omitempty"`
}

// Kind implements Report.
func (*LocationReport) Kind() ReportKind { return KindLocation }

// TransitionReport is an explicit region enter/leave event.
type TransitionReport struct {
	Type  ReportKind `json:"_type"`
	Event string     `json:"event"`
	Desc  string     `json:"desc"`
	Lat   float64    `json:"lat"`
	Lon   float64    `json:"lon"`
	Acc   float64    `json:"acc,omitempty"`
	Tst   int64      `json:"tst"`
	WTst  int64      `json:"wtst,omitempty"`
	TID   string     `json:"tid,omitempty"`
}

// Kind implements Report.
func (*TransitionReport) Kind() ReportKind { return KindTransition }

// Waypoint is the wire form of a named circular region. Tst doubles as
// the stable identity: edits are matched by Tst, not description.
type Waypoint struct {
	Type ReportKind `json:"_type,omitempty"`
	Desc string     `json:"desc"`
	Lat  float64    `json:"lat"`
	Lon  float64    `json:"lon"`
	Rad  float64    `json:"rad"`
	Tst  int64      `json:"tst"`
}

// WaypointReport is a single shared waypoint pushed by a client.
type WaypointReport struct {
	Waypoint
}

// Kind implements Report.
func (*WaypointReport) Kind() ReportKind { return KindWaypoint }

// WaypointsReport is a full waypoint list pushed by a client.
type WaypointsReport struct {
	Type      ReportKind `json:"_type"`
	Waypoints []Waypoint `json:"waypoints"`
}

// Kind implements Report.
func (*WaypointsReport) Kind() ReportKind { return KindWaypoints }

// CmdReport is a client-originated command.
type CmdReport struct {
	Type      ReportKind       `json:"_type"`
	Action    string           `json:"action"`
	Waypoints *WaypointsReport `json:"waypoints,omitempty"`
}

// Kind implements Report.
func (*CmdReport) Kind() ReportKind { return KindCmd }

// StatusReport carries opaque device diagnostics. The payload is kept
// verbatim and passed through to the member record.
type StatusReport struct {
	Type ReportKind      `json:"_type"`
	TID  string          `json:"tid,omitempty"`
	Raw  json.RawMessage `json:"-"`

	// Variant is "ios" or "android", inferred from the platform block
	// the client nests its diagnostics under. Empty when neither is
	// present.
	Variant string `json:"-"`
}

// Kind implements Report.
func (*StatusReport) Kind() ReportKind { return KindStatus }

// CardReport is a profile card (display name plus optional base64 face
// thumbnail) published by a client.
type CardReport struct {
	Type ReportKind `json:"_type"`
	Name string     `json:"name"`
	Face string     `json:"face,omitempty"`
}

// Kind implements Report.
func (*CardReport) Kind() ReportKind { return KindCard }

// DecodeReport parses an inbound body into its concrete report type.
// The body must be a JSON object with a `_type` discriminator.
func DecodeReport(body []byte) (Report, error) {
	var env struct {
		Type ReportKind `json:"_type"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case KindLocation:
		var r LocationReport
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("parse location: %w", err)
		}
		return &r, nil
	case KindTransition:
		var r TransitionReport
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("parse transition: %w", err)
		}
		return &r, nil
	case KindWaypoint:
		var r WaypointReport
		if err := json.Unmarshal(body, &r.Waypoint); err != nil {
			return nil, fmt.Errorf("parse waypoint: %w", err)
		}
		return &r, nil
	case KindWaypoints:
		var r WaypointsReport
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("parse waypoints: %w", err)
		}
		return &r, nil
	case KindCmd:
		var r CmdReport
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("parse cmd: %w", err)
		}
		return &r, nil
	case KindStatus:
		r := StatusReport{Type: KindStatus, Raw: append([]byte(nil), body...)}
		var fields struct {
			TID     string          `json:"tid"`
			IOS     json.RawMessage `json:"iOS"`
			Android json.RawMessage `json:"android"`
		}
		if err := json.Unmarshal(body, &fields); err == nil {
			r.TID = fields.TID
			switch {
			case len(fields.IOS) > 0:
				r.Variant = "ios"
			case len(fields.Android) > 0:
				r.Variant = "android"
			}
		}
		return &r, nil
	case KindCard:
		var r CardReport
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("parse card: %w", err)
		}
		return &r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownReportType, env.Type)
	}
}
