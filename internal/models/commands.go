// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package models

import "github.com/goccy/go-json"

// Command is one element of the outbound batch returned to a client.
// The batch ordering is a behavioural contract (clients apply commands
// in sequence); protocol assembles it in a fixed documented precedence.
type Command interface {
	isCommand()
}

// Outbound `action` values.
const (
	ActionSetConfiguration = "setConfiguration"
	ActionSetWaypoints     = "setWaypoints"
	ActionReportLocation   = "reportLocation"
	ActionWaypoints        = "waypoints"
	ActionStatus           = "status"
)

// ModeHTTP is the OwnTracks connection mode for HTTP clients. The hub
// pins it in every configuration bundle so a device flipped to MQTT
// comes back on its next sync.
const ModeHTTP = 3

// Configuration is the bundle pushed by a setConfiguration command.
// Static protocol constants are always present; dynamic fields are
// included only when the corresponding pending flag was set.
type Configuration struct {
	Type string `json:"_type"`
	Mode int    `json:"mode,omitempty"`

	// Location tuning (updateLocationConfig)
	LocatorInterval     int  `json:"locatorInterval,omitempty"`
	LocatorDisplacement int  `json:"locatorDisplacement,omitempty"`
	Monitoring          *int `json:"monitoring,omitempty"`
	Ping                int  `json:"ping,omitempty"`

	// Display tuning (updateDisplayConfig)
	ExtendedData *bool  `json:"extendedData,omitempty"`
	Locked       *bool  `json:"locked,omitempty"`
	TID          string `json:"tid,omitempty"`
}

// SetConfigurationCmd pushes a configuration bundle to the client.
type SetConfigurationCmd struct {
	Type          string        `json:"_type"`
	Action        string        `json:"action"`
	Configuration Configuration `json:"configuration"`
}

func (SetConfigurationCmd) isCommand() {}

// NewSetConfigurationCmd wraps a Configuration in its command envelope.
func NewSetConfigurationCmd(cfg Configuration) SetConfigurationCmd {
	cfg.Type = "configuration"
	return SetConfigurationCmd{Type: string(KindCmd), Action: ActionSetConfiguration, Configuration: cfg}
}

// SetWaypointsCmd replaces the client's waypoint list.
type SetWaypointsCmd struct {
	Type      string          `json:"_type"`
	Action    string          `json:"action"`
	Waypoints WaypointsReport `json:"waypoints"`
}

func (SetWaypointsCmd) isCommand() {}

// NewSetWaypointsCmd builds a setWaypoints command carrying the given
// list. An empty (non-nil) list is a deliberate clear.
func NewSetWaypointsCmd(wps []Waypoint) SetWaypointsCmd {
	if wps == nil {
		wps = []Waypoint{}
	}
	for i := range wps {
		wps[i].Type = KindWaypoint
	}
	return SetWaypointsCmd{
		Type:      string(KindCmd),
		Action:    ActionSetWaypoints,
		Waypoints: WaypointsReport{Type: KindWaypoints, Waypoints: wps},
	}
}

// SimpleCmd is a bare command with no payload (reportLocation,
// waypoints request, status request).
type SimpleCmd struct {
	Type   string `json:"_type"`
	Action string `json:"action"`
}

func (SimpleCmd) isCommand() {}

// NewReportLocationCmd asks the client for an immediate location publish.
func NewReportLocationCmd() SimpleCmd {
	return SimpleCmd{Type: string(KindCmd), Action: ActionReportLocation}
}

// NewRequestWaypointsCmd asks the client to publish its waypoint list.
func NewRequestWaypointsCmd() SimpleCmd {
	return SimpleCmd{Type: string(KindCmd), Action: ActionWaypoints}
}

// NewStatusCmd asks the client to publish device diagnostics.
func NewStatusCmd() SimpleCmd {
	return SimpleCmd{Type: string(KindCmd), Action: ActionStatus}
}

// LocationEcho mirrors another member's position into a response batch.
type LocationEcho struct {
	Type  string  `json:"_type"`
	TID   string  `json:"tid"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Acc   float64 `json:"acc,omitempty"`
	Tst   int64   `json:"tst"`
	Topic string  `json:"topic,omitempty"`
}

func (LocationEcho) isCommand() {}

// CardAttachment mirrors a member's profile card into a response batch.
type CardAttachment struct {
	Type  string `json:"_type"`
	TID   string `json:"tid,omitempty"`
	Name  string `json:"name"`
	Face  string `json:"face,omitempty"`
	Topic string `json:"topic,omitempty"`
}

func (CardAttachment) isCommand() {}

// RawCommand is an opaque pre-encoded command, used to merge a
// federated hub's response batch into ours without re-interpreting it.
type RawCommand json.RawMessage

func (RawCommand) isCommand() {}

// MarshalJSON emits the wrapped bytes verbatim.
func (r RawCommand) MarshalJSON() ([]byte, error) {
	return json.RawMessage(r).MarshalJSON()
}
