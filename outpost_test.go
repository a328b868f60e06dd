package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"outpost/pkg/core"
	"outpost/pkg/game"
	"outpost/pkg/store"
	"outpost/pkg/types"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time { return c.t }

const testAdminToken = "test-admin"

// setupTestEnv wires the globals to an in-memory database and a controllable clock.
func setupTestEnv(t *testing.T) *stepClock {
	t.Helper()
	Log = zerolog.Nop()
	Config.CommandControl = true
	Config.AdminToken = testAdminToken
	Config.RateLimit = 1000
	Config.RateBurst = 1000

	var err error
	db, err = store.Open(store.DriverModernc, ":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := &stepClock{t: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)}
	hub = NewHub(zerolog.Nop())
	notifier = fanout{hub}
	engine = game.NewEngine(db, game.DefaultTables(),
		game.WithClock(clock),
		game.WithNotifier(notifier),
		game.WithLogger(zerolog.Nop()),
		game.WithRand(rand.New(rand.NewSource(7))),
		game.WithDigest(core.Hash),
	)
	return clock
}

// Helper to make JSON requests
func executeRequest(handler http.Handler, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}
	req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func register(t *testing.T, h http.Handler, name string) RegisterResponse {
	t.Helper()
	rr := executeRequest(h, "POST", "/api/register", "", RegisterRequest{Name: name})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Registration failed. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
	var out RegisterResponse
	json.Unmarshal(rr.Body.Bytes(), &out)
	return out
}

func reasonOf(rr *httptest.ResponseRecorder) string {
	var e ErrorResponse
	json.Unmarshal(rr.Body.Bytes(), &e)
	return e.Reason
}

func TestRegisterAndState(t *testing.T) {
	setupTestEnv(t)
	h := newRouter()

	reg := register(t, h, "Shepard")
	if reg.Token == "" || reg.PlayerID == 0 {
		t.Fatalf("Missing credentials: %+v", reg)
	}

	rr := executeRequest(h, "GET", "/api/state", reg.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("State failed. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
	var st game.PlayerState
	json.Unmarshal(rr.Body.Bytes(), &st)
	if st.Player.Resources != 1000 || st.Player.Buildings[game.BuildingBarracks] != 1 {
		t.Errorf("Wrong starting template: %+v", st.Player)
	}
	if st.RatePerHour != 50 || st.Capacity != 1000 {
		t.Errorf("Wrong derived values: rate %v capacity %v", st.RatePerHour, st.Capacity)
	}

	// The raw token is never stored
	if p, _ := db.GetPlayer(context.Background(), reg.PlayerID); p.TokenHash == reg.Token {
		t.Errorf("Token stored in clear")
	}
}

func TestRejectsBadCredentials(t *testing.T) {
	setupTestEnv(t)
	h := newRouter()

	if rr := executeRequest(h, "GET", "/api/state", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("Missing token accepted. Code: %d", rr.Code)
	}
	if rr := executeRequest(h, "GET", "/api/state", "not-a-token", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("Unknown token accepted. Code: %d", rr.Code)
	}
	if rr := executeRequest(h, "POST", "/api/register", "", RegisterRequest{Name: "   "}); rr.Code != http.StatusBadRequest {
		t.Errorf("Blank name accepted. Code: %d", rr.Code)
	}
	if rr := executeRequest(h, "GET", "/admin/verify", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("Admin route open without token. Code: %d", rr.Code)
	}
	reg := register(t, h, "Courier")
	if rr := executeRequest(h, "GET", "/api/state?token="+reg.Token, "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("Query token accepted outside the socket handshake. Code: %d", rr.Code)
	}
}

func TestUpgradeNeedsResources(t *testing.T) {
	clock := setupTestEnv(t)
	h := newRouter()
	reg := register(t, h, "Builder")

	rr := executeRequest(h, "POST", "/api/upgrade", reg.Token, UpgradeRequest{Building: game.BuildingCommandCenter})
	if rr.Code != http.StatusConflict || reasonOf(rr) != string(game.ReasonInsufficientResources) {
		t.Fatalf("Expected insufficient resources. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
	rr = executeRequest(h, "POST", "/api/upgrade", reg.Token, UpgradeRequest{Building: "shipyard"})
	if rr.Code != http.StatusConflict || reasonOf(rr) != string(game.ReasonUnknownBuilding) {
		t.Errorf("Unknown building not rejected. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}

	grant := executeRequest(h, "POST", "/admin/grant", "", GrantRequest{PlayerID: reg.PlayerID, Amount: 1500})
	if grant.Code != http.StatusUnauthorized {
		t.Errorf("Grant without admin token. Code: %d", grant.Code)
	}
	req := httptest.NewRequest("POST", "/admin/grant", strings.NewReader(fmt.Sprintf(`{"player_id":%d,"amount":1500}`, reg.PlayerID)))
	req.Header.Set("X-Admin-Token", testAdminToken)
	grant = httptest.NewRecorder()
	h.ServeHTTP(grant, req)
	if grant.Code != http.StatusOK {
		t.Fatalf("Grant failed. Code: %d, Body: %s", grant.Code, grant.Body.String())
	}

	rr = executeRequest(h, "POST", "/api/upgrade", reg.Token, UpgradeRequest{Building: game.BuildingCommandCenter})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Upgrade refused. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
	rr = executeRequest(h, "POST", "/api/upgrade", reg.Token, UpgradeRequest{Building: game.BuildingWarehouse})
	if reasonOf(rr) != string(game.ReasonBuilderBusy) {
		t.Errorf("Second upgrade while busy. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}

	clock.t = clock.t.Add(11 * time.Minute)
	rr = executeRequest(h, "GET", "/api/state", reg.Token, nil)
	var st game.PlayerState
	json.Unmarshal(rr.Body.Bytes(), &st)
	if st.Player.Buildings[game.BuildingCommandCenter] != 2 || st.Construction != nil {
		t.Errorf("Upgrade did not complete: %+v", st.Player.Buildings)
	}
}

func TestAttackFlow(t *testing.T) {
	clock := setupTestEnv(t)
	h := newRouter()
	raider := register(t, h, "Raider")
	farmer := register(t, h, "Farmer")

	rr := executeRequest(h, "POST", "/api/attack", raider.Token, AttackRequest{TargetID: farmer.PlayerID})
	if reasonOf(rr) != string(game.ReasonNoArmy) {
		t.Fatalf("Attack without army. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}

	rr = executeRequest(h, "POST", "/api/train", raider.Token, TrainRequest{Unit: game.UnitSoldier, Quantity: 4})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Training refused. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
	clock.t = clock.t.Add(10 * time.Minute)
	rr = executeRequest(h, "POST", "/api/army/move", raider.Token, MoveRequest{Unit: game.UnitSoldier, Quantity: 4, To: "active"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Move failed. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}

	rr = executeRequest(h, "GET", "/api/targets", raider.Token, nil)
	var targets []TargetView
	json.Unmarshal(rr.Body.Bytes(), &targets)
	if len(targets) != 1 || targets[0].ID != farmer.PlayerID {
		t.Fatalf("Target list wrong: %+v", targets)
	}

	rr = executeRequest(h, "POST", "/api/attack", raider.Token, AttackRequest{TargetID: farmer.PlayerID})
	if rr.Code != http.StatusOK {
		t.Fatalf("Attack failed. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
	var out game.AttackOutcome
	json.Unmarshal(rr.Body.Bytes(), &out)
	// 4 soldiers carry 20 from an undefended warehouse
	if !out.Result.Undefended || out.Result.Loot != 20 || out.Report == "" {
		t.Errorf("Unexpected outcome: %+v", out)
	}

	path := fmt.Sprintf("/api/reports/%d", out.ReportID)
	if rr := executeRequest(h, "GET", path, farmer.Token, nil); rr.Code != http.StatusOK {
		t.Errorf("Defender cannot read report. Code: %d", rr.Code)
	}
	if rr := executeRequest(h, "GET", path, raider.Token, nil); rr.Code != http.StatusNotFound {
		t.Errorf("Report leaked to attacker. Code: %d", rr.Code)
	}

	rr = executeRequest(h, "POST", "/api/attack", raider.Token, AttackRequest{TargetID: farmer.PlayerID})
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "600" {
		t.Errorf("Cooldown not enforced. Code: %d, Retry-After: %q", rr.Code, rr.Header().Get("Retry-After"))
	}
	rr = executeRequest(h, "POST", "/api/attack", raider.Token, AttackRequest{TargetID: raider.PlayerID})
	if reasonOf(rr) != string(game.ReasonSelfAttack) {
		t.Errorf("Self attack allowed. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
}

func TestBonusCooldownAndScanner(t *testing.T) {
	clock := setupTestEnv(t)
	h := newRouter()
	reg := register(t, h, "Lucky")

	if rr := executeRequest(h, "POST", "/api/bonus", reg.Token, nil); rr.Code != http.StatusOK {
		t.Fatalf("Claim failed. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
	rr := executeRequest(h, "POST", "/api/bonus", reg.Token, nil)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "86400" {
		t.Errorf("Second claim allowed. Code: %d, Retry-After: %q", rr.Code, rr.Header().Get("Retry-After"))
	}

	if n := scanBonusCooldowns(context.Background()); n != 0 {
		t.Errorf("Cooldown announced early: %d", n)
	}
	clock.t = clock.t.Add(25 * time.Hour)
	// nobody is connected, the cooldown is still marked
	if n := scanBonusCooldowns(context.Background()); n != 1 {
		t.Errorf("Expected one announcement, got %d", n)
	}
	if n := scanBonusCooldowns(context.Background()); n != 0 {
		t.Errorf("Cooldown announced twice: %d", n)
	}
}

func TestCommandControlGate(t *testing.T) {
	setupTestEnv(t)
	Config.CommandControl = false
	h := middlewareSecurity(newRouter())

	if rr := executeRequest(h, "GET", "/api/status", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Player API open in maintenance mode. Code: %d", rr.Code)
	}

	Config.CommandControl = true
	req := httptest.NewRequest("POST", "/api/register", strings.NewReader("name=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Form body accepted. Code: %d", rr.Code)
	}
}

func TestSnapshotAdmin(t *testing.T) {
	setupTestEnv(t)
	h := newRouter()
	register(t, h, "Archivist")

	admin := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("X-Admin-Token", testAdminToken)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}
	if rr := admin("POST", "/admin/snapshot"); rr.Code != http.StatusOK {
		t.Fatalf("Snapshot failed. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
	rr := admin("GET", "/admin/verify")
	var v VerifyResponse
	json.Unmarshal(rr.Body.Bytes(), &v)
	if !v.OK {
		t.Errorf("Fresh chain did not verify: %s", rr.Body.String())
	}
	if rr := admin("GET", "/admin/players/999"); rr.Code != http.StatusNotFound {
		t.Errorf("Unknown player inspect. Code: %d", rr.Code)
	}
}

func TestHubNotify(t *testing.T) {
	clock := setupTestEnv(t)
	srv := httptest.NewServer(newRouter())
	defer srv.Close()

	reg := register(t, srv.Config.Handler, "Listener")
	if err := hub.Notify(context.Background(), types.Event{Kind: types.EventBonusReady, PlayerID: reg.PlayerID}); err == nil {
		t.Fatalf("Notify without a socket should fail")
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + reg.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	waitAttached(t, reg.PlayerID)

	// a finished bonus cooldown reaches the open socket
	db.PutCooldown(context.Background(), &types.Cooldown{PlayerID: reg.PlayerID, Kind: types.CooldownBonus, FinishTime: clock.t})
	if n := scanBonusCooldowns(context.Background()); n != 1 {
		t.Fatalf("Expected one announcement, got %d", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("No event received: %v", err)
	}
	var ev types.Event
	json.Unmarshal(msg, &ev)
	if ev.Kind != types.EventBonusReady || ev.PlayerID != reg.PlayerID {
		t.Errorf("Wrong event: %+v", ev)
	}
}

func waitAttached(t *testing.T, player int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Connected(player) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Socket never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSocketRefusesForeignOrigin(t *testing.T) {
	setupTestEnv(t)
	srv := httptest.NewServer(newRouter())
	defer srv.Close()
	reg := register(t, srv.Config.Handler, "Sentry")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Authorization": {"Bearer " + reg.Token},
		"Origin":        {"http://elsewhere.example"},
	})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("Cross-origin socket should be refused, got %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + reg.Token}})
	if err != nil {
		t.Fatalf("Header-authenticated dial failed: %v", err)
	}
	conn.Close()
}

func TestBroadcastAdmin(t *testing.T) {
	setupTestEnv(t)
	srv := httptest.NewServer(newRouter())
	defer srv.Close()
	h := srv.Config.Handler

	online := register(t, h, "Online")
	register(t, h, "Offline")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + online.Token}})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	waitAttached(t, online.PlayerID)

	send := func(msg string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(BroadcastRequest{Message: msg})
		req := httptest.NewRequest("POST", "/admin/broadcast", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Admin-Token", testAdminToken)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("   "); rr.Code != http.StatusBadRequest {
		t.Errorf("Blank broadcast accepted. Code: %d", rr.Code)
	}
	rr := send("Server maintenance at noon")
	if rr.Code != http.StatusOK {
		t.Fatalf("Broadcast failed. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
	var res BroadcastResponse
	json.Unmarshal(rr.Body.Bytes(), &res)
	if res.Recipients != 2 || res.Delivered != 1 || res.Failed != 1 {
		t.Errorf("Unexpected tally: %+v", res)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("No broadcast received: %v", err)
	}
	var ev types.Event
	json.Unmarshal(msg, &ev)
	if ev.Kind != types.EventBroadcast || ev.Message != "Server maintenance at noon" {
		t.Errorf("Wrong event: %+v", ev)
	}
}
