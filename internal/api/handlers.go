// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package api exposes the hub's HTTP surface: the OwnTracks webhook,
// the admin API, health probes and Prometheus metrics.
package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/waypointhub/internal/auth"
	"github.com/tomtom215/waypointhub/internal/config"
	"github.com/tomtom215/waypointhub/internal/geo"
	"github.com/tomtom215/waypointhub/internal/logging"
	"github.com/tomtom215/waypointhub/internal/member"
	"github.com/tomtom215/waypointhub/internal/presence"
	"github.com/tomtom215/waypointhub/internal/protocol"
	"github.com/tomtom215/waypointhub/internal/region"
	"github.com/tomtom215/waypointhub/internal/validation"
)

// maxReportBody bounds webhook request bodies.
const maxReportBody = 1 << 20

// Handler carries the dependencies of all HTTP handlers. All state
// access goes through the engine so admin traffic serializes with
// exchanges.
type Handler struct {
	engine *protocol.Engine
	jwt    *auth.JWTManager
	cfg    *config.Config
}

// NewHandler wires a handler over the hub's components. jwt may be nil
// when no admin credentials are configured; admin routes then reject
// every request.
func NewHandler(engine *protocol.Engine, jwt *auth.JWTManager, cfg *config.Config) *Handler {
	return &Handler{engine: engine, jwt: jwt, cfg: cfg}
}

// stripBrackets removes the optional [..] wrapping OwnTracks proxies
// put around correlation header values.
func stripBrackets(s string) string {
	return strings.Trim(strings.TrimSpace(s), "[]")
}

// Webhook is the OwnTracks report endpoint. It always answers HTTP 200
// with a JSON array; clients treat anything else as a hard failure.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	name := stripBrackets(r.Header.Get("X-Limit-U"))
	device := stripBrackets(r.Header.Get("X-Limit-D"))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxReportBody))
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Failed reading webhook body")
		body = nil
	}

	batch := h.engine.HandleReport(r.Context(), name, device, body)
	writeJSON(w, http.StatusOK, batch)
}

// =============================================================================
// Auth
// =============================================================================

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login authenticates an operator and issues a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.jwt == nil {
		writeError(w, http.StatusServiceUnavailable, "admin authentication not configured")
		return
	}

	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.jwt.Login(req.Username, req.Password)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Str("username", req.Username).Msg("Failed admin login")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

// =============================================================================
// Health
// =============================================================================

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports readiness to take reports.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	members := h.engine.Members()
	regions, _ := h.engine.Regions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"members": len(members),
		"regions": len(regions),
	})
}

// =============================================================================
// Admin: members
// =============================================================================

// memberView is the admin representation of a member.
type memberView struct {
	Name          string               `json:"name"`
	DeviceID      string               `json:"deviceId"`
	TID           string               `json:"tid"`
	Enabled       bool                 `json:"enabled"`
	Private       bool                 `json:"private"`
	IsHome        bool                 `json:"isHome"`
	InRegions     []string             `json:"inRegions,omitempty"`
	DistanceKm    float64              `json:"distanceKm"`
	Distance      string               `json:"distance,omitempty"`
	Speed         string               `json:"speed,omitempty"`
	Lat           float64              `json:"lat"`
	Lon           float64              `json:"lon"`
	FixTime       *time.Time           `json:"fixTime,omitempty"`
	Battery       int                  `json:"battery,omitempty"`
	Pending       string               `json:"pending"`
	Subscriptions member.Subscriptions `json:"subscriptions"`
}

func toMemberView(m member.Member, imperial bool) memberView {
	v := memberView{
		Name:          m.Name,
		DeviceID:      m.DeviceID,
		TID:           m.DefaultTID(),
		Enabled:       m.Enabled,
		Private:       m.Private,
		IsHome:        m.IsHome,
		InRegions:     m.InRegions,
		DistanceKm:    m.DistanceKm,
		Lat:           m.Lat,
		Lon:           m.Lon,
		Battery:       m.Battery,
		Pending:       m.Pending.String(),
		Subscriptions: m.Subscriptions,
	}
	if m.HasFix() {
		t := m.FixTime
		v.FixTime = &t
		v.Distance = geo.DisplayDistance(m.DistanceKm, imperial)
		v.Speed = geo.DisplaySpeed(m.VelocityKmh, imperial)
	}
	return v
}

// ListMembers returns all members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members := h.engine.Members()
	out := make([]memberView, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberView(m, h.cfg.Presence.Imperial))
	}
	writeJSON(w, http.StatusOK, out)
}

type enableRequest struct {
	Enabled bool `json:"enabled"`
}

// SetMemberEnabled enables or disables service for a member.
func (h *Handler) SetMemberEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req enableRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.SetMemberEnabled(name, req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	logging.Ctx(r.Context()).Info().Str("member", name).Bool("enabled", req.Enabled).Msg("Member service toggled")
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

type privateRequest struct {
	Private bool `json:"private"`
}

// SetMemberPrivate toggles a member's privacy flag.
func (h *Handler) SetMemberPrivate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req privateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.SetMemberPrivate(name, req.Private); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"private": req.Private})
}

// pendingRequest names the actions to queue for delivery.
type pendingRequest struct {
	Waypoints      bool `json:"waypoints"`
	LocationConfig bool `json:"locationConfig"`
	DisplayConfig  bool `json:"displayConfig"`
	GetRegions     bool `json:"getRegions"`
	HighAccuracy   bool `json:"highAccuracy"`
}

func (p pendingRequest) actions() member.PendingActions {
	var a member.PendingActions
	if p.Waypoints {
		a.Set(member.ActionWaypoints)
	}
	if p.LocationConfig {
		a.Set(member.ActionLocationConfig)
	}
	if p.DisplayConfig {
		a.Set(member.ActionDisplayConfig)
	}
	if p.GetRegions {
		a.Set(member.ActionGetRegions)
	}
	if p.HighAccuracy {
		a.Set(member.ActionHighAccuracy)
	}
	return a
}

// SetMemberPending queues pending actions for one member's next
// exchange. An operator uses this to re-send a lost delivery.
func (h *Handler) SetMemberPending(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req pendingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.SetMemberPending(name, req.actions()); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pending": req.actions().String()})
}

// SetMemberSubscriptions replaces a member's notification routing.
func (h *Handler) SetMemberSubscriptions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var subs member.Subscriptions
	if err := decodeBody(r, &subs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.SetMemberSubscriptions(name, subs); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// DeleteMember removes a member and cascades target cleanup.
func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.engine.DeleteMember(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	logging.Ctx(r.Context()).Info().Str("member", name).Msg("Member deleted")
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Admin: regions
// =============================================================================

// regionView is the admin representation of a region.
type regionView struct {
	Description string  `json:"desc"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	RadiusM     float64 `json:"rad"`
	Tst         int64   `json:"tst"`
	Deleted     bool    `json:"deleted"`
	Home        bool    `json:"home"`
}

// ListRegions returns the shared region list, follow regions excluded.
func (h *Handler) ListRegions(w http.ResponseWriter, r *http.Request) {
	list, homeTst := h.engine.Regions()
	out := make([]regionView, 0, len(list))
	for _, reg := range list {
		out = append(out, regionView{
			Description: reg.Description,
			Lat:         reg.Lat,
			Lon:         reg.Lon,
			RadiusM:     reg.RadiusM,
			Tst:         int64(reg.Tst),
			Deleted:     reg.MarkedForDeletion(),
			Home:        reg.Tst == homeTst,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type regionRequest struct {
	Description string  `json:"desc" validate:"required"`
	Lat         float64 `json:"lat" validate:"latitude"`
	Lon         float64 `json:"lon" validate:"longitude"`
	RadiusM     float64 `json:"rad" validate:"required,min=1"`
	Tst         int64   `json:"tst"`
}

// UpsertRegion creates a region or edits one identified by tst. Every
// enabled member is owed a waypoint refresh afterwards.
func (h *Handler) UpsertRegion(w http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tst := req.Tst
	if tst == 0 {
		tst = time.Now().Unix()
	}
	reg := region.Region{
		Description: req.Description,
		Lat:         req.Lat,
		Lon:         req.Lon,
		RadiusM:     req.RadiusM,
		Tst:         region.TstID(tst),
	}
	if err := h.engine.UpsertRegion(reg); err != nil {
		if errors.Is(err, region.ErrDuplicateDescription) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logging.Ctx(r.Context()).Info().Str("desc", req.Description).Int64("tst", tst).Msg("Region upserted")
	writeJSON(w, http.StatusCreated, regionView{
		Description: reg.Description,
		Lat:         reg.Lat,
		Lon:         reg.Lon,
		RadiusM:     reg.RadiusM,
		Tst:         tst,
	})
}

// DeleteRegion marks a region (by tst or description) for deferred
// deletion and queues the refresh that will eventually allow its purge.
func (h *Handler) DeleteRegion(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if err := h.engine.DeleteRegion(ref); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	logging.Ctx(r.Context()).Info().Str("region", ref).Msg("Region marked for deletion")
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Admin: presence tuning
// =============================================================================

type presenceConfigRequest struct {
	HomeSSIDs         []string `json:"homeSsids"`
	WifiKeepRadiusM   float64  `json:"wifiKeepRadiusM" validate:"min=0"`
	HighAccuracyBandM float64  `json:"highAccuracyBandM" validate:"min=0"`
	MaxAccuracyM      float64  `json:"maxAccuracyM" validate:"min=0"`
	RingAllRegions    bool     `json:"ringAllRegions"`
}

// GetPresenceConfig returns the presence tuning currently in effect.
func (h *Handler) GetPresenceConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.PresenceConfig())
}

// SetPresenceConfig replaces the presence tuning at runtime. The change
// is carried in snapshots, so it survives restarts.
func (h *Handler) SetPresenceConfig(w http.ResponseWriter, r *http.Request) {
	var req presenceConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := presence.Config{
		HomeSSIDs:         req.HomeSSIDs,
		WifiKeepRadiusM:   req.WifiKeepRadiusM,
		HighAccuracyBandM: req.HighAccuracyBandM,
		MaxAccuracyM:      req.MaxAccuracyM,
		RingAllRegions:    req.RingAllRegions,
	}
	h.engine.SetPresenceConfig(cfg)
	logging.Ctx(r.Context()).Info().Msg("Presence tuning updated")
	writeJSON(w, http.StatusOK, cfg)
}

type homeRequest struct {
	Tst int64 `json:"tst" validate:"required"`
}

// SetHomeRegion designates the presence anchor region.
func (h *Handler) SetHomeRegion(w http.ResponseWriter, r *http.Request) {
	var req homeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.SetHomeRegion(region.TstID(req.Tst)); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	logging.Ctx(r.Context()).Info().Int64("tst", req.Tst).Msg("Home region designated")
	writeJSON(w, http.StatusOK, map[string]int64{"tst": req.Tst})
}
