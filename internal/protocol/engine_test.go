// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

package protocol

import (
	"context"
	"testing"

	"github.com/tomtom215/waypointhub/internal/config"
	"github.com/tomtom215/waypointhub/internal/member"
	"github.com/tomtom215/waypointhub/internal/models"
	"github.com/tomtom215/waypointhub/internal/presence"
	"github.com/tomtom215/waypointhub/internal/region"
)

const homeTst = region.TstID(1700000000)

func newTestEngine(t *testing.T) (*Engine, *member.Registry, *region.Store) {
	t.Helper()

	members := member.NewRegistry()
	regions := region.NewStore()
	if err := regions.AddOrUpdate(region.Region{
		Description: "Home", Lat: 45.0, Lon: -75.0, RadiusM: 100, Tst: homeTst,
	}); err != nil {
		t.Fatalf("seed home region: %v", err)
	}
	if err := regions.SetHome(homeTst); err != nil {
		t.Fatalf("set home: %v", err)
	}

	cfg := &config.Config{
		Presence: config.PresenceConfig{
			LocatorInterval:     180,
			LocatorDisplacement: 50,
			ExtendedData:        true,
		},
		Federation: config.FederationConfig{ServiceMember: "_hub"},
	}
	pres := presence.Config{
		HomeSSIDs:         []string{"homenet"},
		WifiKeepRadiusM:   500,
		HighAccuracyBandM: 300,
		MaxAccuracyM:      200,
	}
	return New(members, regions, pres, cfg, nil), members, regions
}

func enable(t *testing.T, members *member.Registry, name string) *member.Member {
	t.Helper()
	m, _ := members.LookupOrCreate(name, name+"-dev")
	if err := members.SetEnabled(name, true); err != nil {
		t.Fatalf("enable %s: %v", name, err)
	}
	return m
}

func handle(t *testing.T, e *Engine, name, body string) []models.Command {
	t.Helper()
	return e.HandleReport(context.Background(), name, name+"-dev", []byte(body))
}

// =============================================================================
// Received / Identified / Authorized
// =============================================================================

func TestMissingCorrelationYieldsEmptyBatch(t *testing.T) {
	e, _, _ := newTestEngine(t)

	batch := e.HandleReport(context.Background(), "", "", []byte(`{"_type":"location","lat":1,"lon":1}`))
	if len(batch) != 0 {
		t.Fatalf("expected empty batch, got %d commands", len(batch))
	}
}

func TestMalformedBodyYieldsEmptyBatch(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")

	for _, body := range []string{`not json`, `{}`, `{"_type":"sorcery"}`, `{"lat":1}`} {
		if batch := handle(t, e, "alice", body); len(batch) != 0 {
			t.Errorf("body %q: expected empty batch, got %d commands", body, len(batch))
		}
	}
}

func TestUnknownMemberAutoRegistersDisabled(t *testing.T) {
	e, members, _ := newTestEngine(t)

	batch := handle(t, e, "mallory", `{"_type":"location","lat":45.0,"lon":-75.0,"tst":1700000100}`)
	if len(batch) != 0 {
		t.Fatalf("disabled member got %d commands, want 0", len(batch))
	}

	m, ok := members.Get("mallory")
	if !ok {
		t.Fatal("member not auto-registered")
	}
	if m.Enabled {
		t.Error("auto-registered member must start disabled")
	}
	if m.HasFix() {
		t.Error("disabled member's report must not update state")
	}
}

func TestServiceMemberBypassesEnabledCheck(t *testing.T) {
	e, members, _ := newTestEngine(t)

	handle(t, e, "_hub", `{"_type":"location","lat":45.0,"lon":-75.0,"tst":1700000100}`)

	m, ok := members.Get("_hub")
	if !ok {
		t.Fatal("service member not registered")
	}
	if !m.HasFix() {
		t.Error("service member's report was not processed despite disabled state")
	}
}

// =============================================================================
// Presence end to end
// =============================================================================

func TestPresenceEndToEnd(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")

	// ~100m north of home, just outside the 100m radius.
	handle(t, e, "alice", `{"_type":"location","lat":45.0009,"lon":-75.0,"acc":10,"tst":1700000100}`)
	m, _ := members.Get("alice")
	if m.IsHome {
		t.Fatal("member at ~100.07m should be outside a 100m home radius")
	}
	if m.DistanceKm < 0.09 || m.DistanceKm > 0.11 {
		t.Errorf("distance = %f km, want ~0.1", m.DistanceKm)
	}

	// Exactly at home.
	handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000200}`)
	m, _ = members.Get("alice")
	if !m.IsHome {
		t.Fatal("member at home center should be home")
	}
	if !contains(m.InRegions, "Home") {
		t.Errorf("inRegions = %v, want to include Home", m.InRegions)
	}
}

func TestPoorAccuracyHoldsState(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")

	handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000100}`)

	// Accuracy beyond the 200m threshold: position and presence hold.
	handle(t, e, "alice", `{"_type":"location","lat":50.0,"lon":-70.0,"acc":5000,"tst":1700000200}`)
	m, _ := members.Get("alice")
	if !m.IsHome {
		t.Error("no-fix report must not flip presence")
	}
	if m.Lat != 45.0 || m.Lon != -75.0 {
		t.Errorf("no-fix report must not move the member, got (%f,%f)", m.Lat, m.Lon)
	}
}

func TestLeaveSuppressedByHomeSSID(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")

	// Establish home with the home SSID associated.
	handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"SSID":"homenet","tst":1700000100}`)

	// GPS drift fires a leave while still on home WiFi nearby.
	handle(t, e, "alice", `{"_type":"transition","event":"leave","desc":"Home","lat":45.0002,"lon":-75.0,"acc":10,"tst":1700000200}`)
	m, _ := members.Get("alice")
	if !m.IsHome {
		t.Error("leave transition should be suppressed while associated with a home SSID")
	}
}

// =============================================================================
// Region edits and deferred deletion
// =============================================================================

func TestWaypointMergeMarksAllMembersPending(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")
	enable(t, members, "bob")

	// The submitter's refresh is delivered in the same exchange as a
	// clear-then-set pair; everyone else keeps the pending flag until
	// their next check-in.
	batch := handle(t, e, "alice", `{"_type":"waypoint","desc":"Work","lat":45.2,"lon":-75.2,"rad":150,"tst":1700000500}`)

	var pushes []models.SetWaypointsCmd
	for _, c := range batch {
		if cmd, ok := c.(models.SetWaypointsCmd); ok {
			pushes = append(pushes, cmd)
		}
	}
	if len(pushes) != 2 {
		t.Fatalf("expected clear + set pair in submitter's batch, got %d setWaypoints commands", len(pushes))
	}
	if n := len(pushes[0].Waypoints.Waypoints); n != 0 {
		t.Errorf("first push must clear the list, carried %d waypoints", n)
	}
	descs := make(map[string]bool)
	for _, wp := range pushes[1].Waypoints.Waypoints {
		descs[wp.Desc] = true
	}
	if !descs["Home"] || !descs["Work"] {
		t.Errorf("second push missing regions, got %v", descs)
	}

	alice, _ := members.Get("alice")
	if alice.Pending.Has(member.ActionWaypoints) {
		t.Error("submitter's flag should be drained by the in-exchange push")
	}
	bob, _ := members.Get("bob")
	if !bob.Pending.Has(member.ActionWaypoints) {
		t.Error("bob should still owe a waypoint refresh after a shared edit")
	}
}

func TestPrivateMemberEditsNotMerged(t *testing.T) {
	e, members, regions := newTestEngine(t)
	enable(t, members, "alice")
	if err := members.SetPrivate("alice", true); err != nil {
		t.Fatalf("SetPrivate: %v", err)
	}

	handle(t, e, "alice", `{"_type":"waypoint","desc":"Secret","lat":45.3,"lon":-75.3,"rad":50,"tst":1700000600}`)

	if _, ok := regions.Get(1700000600); ok {
		t.Error("private member's waypoint must not be merged into the shared store")
	}
}

func TestDeferredDeletionPurgeGating(t *testing.T) {
	e, members, regions := newTestEngine(t)
	enable(t, members, "alice")
	enable(t, members, "bob")

	if err := regions.AddOrUpdate(region.Region{
		Description: "Work", Lat: 45.2, Lon: -75.2, RadiusM: 150, Tst: 1700000500,
	}); err != nil {
		t.Fatalf("seed region: %v", err)
	}
	if err := regions.MarkForDeletion("Work"); err != nil {
		t.Fatalf("MarkForDeletion: %v", err)
	}
	members.SetPendingAll(member.ActionWaypoints)

	// Alice checks in and drains her flag; bob still owes one, so the
	// purge pass after alice's exchange must keep the region.
	handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000700}`)
	if _, ok := regions.Get(1700000500); !ok {
		t.Fatal("region purged while a member still owes acknowledgement")
	}

	// Bob drains his flag; now the purge pass removes it.
	handle(t, e, "bob", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000800}`)
	if _, ok := regions.Get(1700000500); ok {
		t.Fatal("region not purged after all members acknowledged")
	}
}

// =============================================================================
// Response precedence
// =============================================================================

func TestPingResponsePrecedence(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")
	enable(t, members, "bob")

	// Give bob a fix and a card so step 1 yields echo + card.
	handle(t, e, "bob", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000100}`)
	handle(t, e, "bob", `{"_type":"card","name":"Bob","face":"ZmFjZQ=="}`)

	// Queue every pending action for alice.
	if err := members.SetPending("alice",
		member.ActionWaypoints|member.ActionLocationConfig|member.ActionGetRegions|member.ActionHighAccuracy); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	batch := handle(t, e, "alice", `{"_type":"location","t":"p","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000200}`)

	var kinds []string
	for _, cmd := range batch {
		switch c := cmd.(type) {
		case models.LocationEcho:
			kinds = append(kinds, "echo")
		case models.CardAttachment:
			kinds = append(kinds, "card")
		case models.SetWaypointsCmd:
			kinds = append(kinds, "setWaypoints")
		case models.SetConfigurationCmd:
			kinds = append(kinds, "setConfiguration")
		case models.SimpleCmd:
			kinds = append(kinds, c.Action)
		}
	}

	want := []string{
		"echo", "card", // 1. peers
		"setWaypoints", "setWaypoints", // 2. clear then set
		"setConfiguration",          // 3. config bundle
		models.ActionReportLocation, // 5. stale location request
		models.ActionWaypoints,      // 6. waypoint-list request
		models.ActionStatus,         // 7. status request last
	}
	if len(kinds) != len(want) {
		t.Fatalf("batch kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("batch[%d] = %s, want %s (full: %v)", i, kinds[i], want[i], kinds)
		}
	}
}

func TestClearThenSetWaypointPair(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")
	if err := members.SetPending("alice", member.ActionWaypoints); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	batch := handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000100}`)

	var pushes []models.SetWaypointsCmd
	for _, cmd := range batch {
		if c, ok := cmd.(models.SetWaypointsCmd); ok {
			pushes = append(pushes, c)
		}
	}
	if len(pushes) != 2 {
		t.Fatalf("got %d setWaypoints commands, want clear+set pair", len(pushes))
	}
	if len(pushes[0].Waypoints.Waypoints) != 0 {
		t.Error("first push must be an explicit clear")
	}
	if len(pushes[1].Waypoints.Waypoints) != 1 || pushes[1].Waypoints.Waypoints[0].Desc != "Home" {
		t.Errorf("second push = %+v, want the Home region", pushes[1].Waypoints.Waypoints)
	}
}

func TestAtMostOnceConfigDelivery(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")
	if err := members.SetPending("alice", member.ActionLocationConfig); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	first := handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000100}`)
	if countConfigs(first) != 1 {
		t.Fatalf("first exchange returned %d config bundles, want 1", countConfigs(first))
	}

	m, _ := members.Get("alice")
	if m.Pending.Has(member.ActionLocationConfig) {
		t.Error("pending flag must be cleared by inclusion")
	}

	second := handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000200}`)
	if countConfigs(second) != 0 {
		t.Errorf("second exchange returned %d config bundles, want 0", countConfigs(second))
	}
}

func TestConfigBundlePinsHTTPMode(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")
	if err := members.SetPending("alice", member.ActionLocationConfig); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	batch := handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000100}`)
	for _, c := range batch {
		if cmd, ok := c.(models.SetConfigurationCmd); ok {
			if cmd.Configuration.Mode != models.ModeHTTP {
				t.Errorf("mode = %d, want %d", cmd.Configuration.Mode, models.ModeHTTP)
			}
			return
		}
	}
	t.Fatal("no configuration bundle in batch")
}

func TestAccuracyFlipCommandOnce(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")

	// ~150m from home: inside the (100, 400) high-accuracy ring.
	ring := `{"_type":"location","lat":45.00135,"lon":-75.0,"acc":10,"tst":1700000100}`

	first := handle(t, e, "alice", ring)
	if countConfigs(first) != 1 {
		t.Fatalf("entering the ring returned %d config commands, want 1", countConfigs(first))
	}

	second := handle(t, e, "alice", ring)
	if countConfigs(second) != 0 {
		t.Errorf("unchanged ring position returned %d config commands, want 0", countConfigs(second))
	}

	// Back at center: de-escalate once.
	third := handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000300}`)
	if countConfigs(third) != 1 {
		t.Errorf("leaving the ring returned %d config commands, want 1", countConfigs(third))
	}
}

// =============================================================================
// Privacy isolation
// =============================================================================

func TestPrivateMemberIsolation(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")
	enable(t, members, "bob")
	enable(t, members, "carol")
	if err := members.SetPrivate("carol", true); err != nil {
		t.Fatalf("SetPrivate: %v", err)
	}

	handle(t, e, "bob", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000100}`)
	handle(t, e, "carol", `{"_type":"location","lat":45.1,"lon":-75.1,"acc":10,"tst":1700000100}`)

	// Alice's ping must echo bob but never carol.
	batch := handle(t, e, "alice", `{"_type":"location","t":"p","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000200}`)
	for _, cmd := range batch {
		if echo, ok := cmd.(models.LocationEcho); ok && echo.TID == "ca" {
			t.Error("private member's position was echoed to a peer")
		}
	}

	// Carol, being private, gets no echoes at all.
	batch = handle(t, e, "carol", `{"_type":"location","t":"p","lat":45.1,"lon":-75.1,"acc":10,"tst":1700000300}`)
	for _, cmd := range batch {
		if _, ok := cmd.(models.LocationEcho); ok {
			t.Error("private requester received peer positions")
		}
	}
}

// =============================================================================
// Cmd dispatch and status passthrough
// =============================================================================

func TestCmdWaypointsRequestsList(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")

	batch := handle(t, e, "alice", `{"_type":"cmd","action":"waypoints"}`)

	var pushes int
	for _, cmd := range batch {
		if _, ok := cmd.(models.SetWaypointsCmd); ok {
			pushes++
		}
	}
	if pushes != 2 {
		t.Errorf("cmd/waypoints returned %d setWaypoints commands, want clear+set pair", pushes)
	}
}

func TestCmdUnknownActionIsAcknowledgedNotExecuted(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")

	batch := handle(t, e, "alice", `{"_type":"cmd","action":"restart"}`)
	if len(batch) != 0 {
		t.Errorf("unsupported cmd action returned %d commands, want 0", len(batch))
	}
}

func TestStatusPassthrough(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")

	body := `{"_type":"status","tid":"al","iOS":{"version":"17.4"}}`
	handle(t, e, "alice", body)

	m, _ := members.Get("alice")
	if string(m.Status) != body {
		t.Errorf("status not stored verbatim: %s", m.Status)
	}
	if m.TID != "al" {
		t.Errorf("tid = %q, want al", m.TID)
	}
	if m.AppVariant != "ios" {
		t.Errorf("appVariant = %q, want ios", m.AppVariant)
	}
}

func TestFollowRegionOmittedFromIOSWaypointPush(t *testing.T) {
	e, members, regions := newTestEngine(t)
	enable(t, members, "alice")
	enable(t, members, "bob")
	regions.EnsureFollowRegion(180)

	// iOS renders follow regions as geofences and rings on every entry,
	// so its pushes skip them; android gets the full list.
	handle(t, e, "alice", `{"_type":"status","tid":"al","iOS":{"version":"17.4"}}`)
	handle(t, e, "bob", `{"_type":"status","tid":"bo","android":{"hib":0}}`)
	members.SetPendingAll(member.ActionWaypoints)

	follows := func(batch []models.Command) int {
		n := 0
		for _, c := range batch {
			cmd, ok := c.(models.SetWaypointsCmd)
			if !ok {
				continue
			}
			for _, wp := range cmd.Waypoints.Waypoints {
				if region.IsFollowRegion(wp.Desc) {
					n++
				}
			}
		}
		return n
	}

	loc := `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000900}`
	if n := follows(handle(t, e, "alice", loc)); n != 0 {
		t.Errorf("iOS push carried %d follow regions, want 0", n)
	}
	if n := follows(handle(t, e, "bob", loc)); n != 1 {
		t.Errorf("android push carried %d follow regions, want 1", n)
	}
}

// =============================================================================
// Federation merge
// =============================================================================

type stubForwarder struct {
	async [][]byte
	resp  []byte
	err   error
}

func (s *stubForwarder) ForwardAsync(body []byte) { s.async = append(s.async, body) }
func (s *stubForwarder) ForwardSync(ctx context.Context, body []byte) ([]byte, error) {
	return s.resp, s.err
}

func TestFederationBatchMerged(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")

	stub := &stubForwarder{resp: []byte(`[{"_type":"cmd","action":"reportLocation"}]`)}
	e.forward = stub

	batch := handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000100}`)

	var merged int
	for _, cmd := range batch {
		if _, ok := cmd.(models.RawCommand); ok {
			merged++
		}
	}
	if merged != 1 {
		t.Errorf("merged %d federated commands, want 1", merged)
	}
	if len(stub.async) == 0 {
		t.Error("location report was not forwarded to the recorder")
	}
}

func TestFederationFailureNeverBreaksExchange(t *testing.T) {
	e, members, _ := newTestEngine(t)
	enable(t, members, "alice")
	e.forward = &stubForwarder{err: context.DeadlineExceeded}

	batch := handle(t, e, "alice", `{"_type":"location","t":"p","lat":45.0,"lon":-75.0,"acc":10,"tst":1700000100}`)

	// The heartbeat still gets its status request.
	var status bool
	for _, cmd := range batch {
		if c, ok := cmd.(models.SimpleCmd); ok && c.Action == models.ActionStatus {
			status = true
		}
	}
	if !status {
		t.Error("federation failure suppressed the primary response")
	}
}

// =============================================================================
// Runtime presence tuning
// =============================================================================

func TestPresenceConfigOverride(t *testing.T) {
	e, members, _ := newTestEngine(t)

	if e.PresenceOverride() != nil {
		t.Fatal("fresh engine should report no presence override")
	}

	cfg := e.PresenceConfig()
	cfg.MaxAccuracyM = 50
	e.SetPresenceConfig(cfg)

	over := e.PresenceOverride()
	if over == nil || over.MaxAccuracyM != 50 {
		t.Fatalf("override not recorded: %+v", over)
	}

	// A fix with 100 m accuracy is now beyond the threshold: position
	// must hold instead of updating.
	enable(t, members, "alice")
	handle(t, e, "alice", `{"_type":"location","lat":45.0,"lon":-75.0,"acc":100,"tid":"al"}`)
	m, _ := members.Get("alice")
	if m.HasFix() {
		t.Error("fix beyond the tightened accuracy threshold was stored")
	}
}

// =============================================================================
// helpers
// =============================================================================

func countConfigs(batch []models.Command) int {
	n := 0
	for _, cmd := range batch {
		if _, ok := cmd.(models.SetConfigurationCmd); ok {
			n++
		}
	}
	return n
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
