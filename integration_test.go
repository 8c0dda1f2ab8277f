package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// ---------- helpers ----------

// startTestServer spins up an httptest.Server with an in-memory store
// and returns the server, its WebSocket URL, the hub and a cleanup func.
func startTestServer(t *testing.T) (*httptest.Server, string, *Hub, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)

	db, err := OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	rec := NewRecorder(db)
	hub := NewHub(db, rec)
	go hub.Run()

	mux := SetupRoutes(hub, tmpDir, "http://invite.test")
	srv := httptest.NewServer(mux)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	return srv, wsURL, hub, func() {
		srv.Close()
		hub.rooms.Shutdown()
		rec.Stop()
		db.Close()
	}
}

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	return conn
}

// readEnvelope reads one message from the WebSocket. Binary frames are
// msgpack-encoded snapshot pushes and come back as their JSON-equivalent
// envelope.
func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read WS: %v", err)
	}
	if msgType == websocket.BinaryMessage {
		var push statePush
		if err := msgpack.Unmarshal(raw, &push); err != nil {
			t.Fatalf("msgpack unmarshal: %v", err)
		}
		return Envelope{T: push.T, Data: push.State}
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

// readUntil reads messages until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) Envelope {
	t.Helper()
	for i := 0; i < 50; i++ {
		env := readEnvelope(t, conn)
		if env.T == msgType {
			return env
		}
	}
	t.Fatalf("no %s message within 50 reads", msgType)
	return Envelope{}
}

// sendMsg sends a typed message over the WebSocket.
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(Envelope{T: msgType, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// dataMap extracts the Data field as map[string]interface{}.
func dataMap(t *testing.T, env Envelope) map[string]interface{} {
	t.Helper()
	raw, _ := json.Marshal(env.Data)
	var m map[string]interface{}
	json.Unmarshal(raw, &m)
	return m
}

// joinRoom joins a room and returns (roomID, playerID).
func joinRoom(t *testing.T, conn *websocket.Conn, name string) (string, string) {
	t.Helper()
	sendMsg(t, conn, MsgJoinGame, JoinGameMsg{Name: name, Color: "#ff0000"})
	joined := readUntil(t, conn, MsgJoinedGame)
	d := dataMap(t, joined)
	roomID, _ := d["roomId"].(string)
	playerID, _ := d["playerId"].(string)
	if roomID == "" || playerID == "" {
		t.Fatalf("joinedGame missing ids: %v", d)
	}
	return roomID, playerID
}

// ---------- join flow ----------

func TestJoinGameFlow(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()

	sendMsg(t, c, MsgJoinGame, JoinGameMsg{Name: "Alice", Color: "#ff0000"})

	// Admission order: the join broadcast, the full snapshot, then the
	// personal confirmation
	joined := readEnvelope(t, c)
	if joined.T != MsgPlayerJoined {
		t.Fatalf("expected playerJoined first, got %s", joined.T)
	}
	player := dataMap(t, joined)["player"].(map[string]interface{})
	if player["name"] != "Alice" {
		t.Errorf("joined as %v, want Alice", player["name"])
	}

	snap := readEnvelope(t, c)
	if snap.T != MsgGameState {
		t.Fatalf("expected gameState snapshot, got %s", snap.T)
	}
	gs, ok := snap.Data.(GameSnapshot)
	if !ok {
		t.Fatalf("snapshot payload has type %T", snap.Data)
	}
	if gs.GameState != "lobby" || len(gs.Players) != 1 {
		t.Errorf("unexpected snapshot: state=%q players=%d", gs.GameState, len(gs.Players))
	}
	if len(gs.Players[0].Territory) != MinTerritory {
		t.Errorf("snapshot territory = %d, want %d", len(gs.Players[0].Territory), MinTerritory)
	}

	confirm := readEnvelope(t, c)
	if confirm.T != MsgJoinedGame {
		t.Fatalf("expected joinedGame, got %s", confirm.T)
	}
}

func TestJoinWithEmptyNameGetsGuest(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()

	sendMsg(t, c, MsgJoinGame, JoinGameMsg{})
	joined := readUntil(t, c, MsgPlayerJoined)
	player := dataMap(t, joined)["player"].(map[string]interface{})
	name, _ := player["name"].(string)
	if !strings.HasPrefix(name, "Guest_") {
		t.Errorf("empty name should become a guest name, got %q", name)
	}
}

func TestDoubleJoinRejected(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()

	joinRoom(t, c, "Alice")
	sendMsg(t, c, MsgJoinGame, JoinGameMsg{Name: "Alice2"})

	errEnv := readUntil(t, c, MsgError)
	if dataMap(t, errEnv)["msg"] == "" {
		t.Error("expected an error message payload")
	}
}

func TestSecondPlayerSharesRoom(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1 := dialWS(t, wsURL)
	defer c1.Close()
	room1, _ := joinRoom(t, c1, "Alice")

	c2 := dialWS(t, wsURL)
	defer c2.Close()
	room2, _ := joinRoom(t, c2, "Bob")

	if room1 != room2 {
		t.Errorf("players landed in different rooms: %s vs %s", room1, room2)
	}

	// The first player sees the second join
	joined := readUntil(t, c1, MsgPlayerJoined)
	if dataMap(t, joined)["totalPlayers"].(float64) != 2 {
		t.Error("expected totalPlayers=2 in the join broadcast")
	}
}

// ---------- match start over WS ----------

func TestMatchStartsAfterCountdown(t *testing.T) {
	prev := StartCountdown
	StartCountdown = 100 * time.Millisecond
	defer func() { StartCountdown = prev }()

	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1 := dialWS(t, wsURL)
	defer c1.Close()
	joinRoom(t, c1, "Alice")

	c2 := dialWS(t, wsURL)
	defer c2.Close()
	joinRoom(t, c2, "Bob")

	started := readUntil(t, c1, MsgGameStarted)
	d := dataMap(t, started)
	if d["duration"].(float64) != float64(MatchDuration.Milliseconds()) {
		t.Errorf("gameStarted duration = %v", d["duration"])
	}

	// State pushes follow while the match runs
	update := readUntil(t, c1, MsgGameStateUpdate)
	gs := update.Data.(GameSnapshot)
	if gs.GameState != "playing" {
		t.Errorf("update state = %q, want playing", gs.GameState)
	}
	if len(gs.Players) != 2 {
		t.Errorf("update should carry both players, got %d", len(gs.Players))
	}
}

// ---------- input and shooting over WS ----------

func TestInputBeforeJoinIgnored(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()

	// Must not crash the connection
	sendMsg(t, c, MsgPlayerInput, InputMsg{DX: 1})

	joinRoom(t, c, "Late")
}

func TestJSONInputReachesSimulation(t *testing.T) {
	_, wsURL, hub, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()
	roomID, playerID := joinRoom(t, c, "Alice")

	sendMsg(t, c, MsgPlayerInput, InputMsg{DX: 5, DY: -0.5, Boosting: true})

	room := hub.rooms.Get(roomID)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		room.mu.Lock()
		in := room.players[playerID].Input
		room.mu.Unlock()
		if in.Boosting {
			if in.DX != 1 { // clamped from 5
				t.Errorf("input dx = %f, want clamped 1", in.DX)
			}
			if in.DY != -0.5 {
				t.Errorf("input dy = %f, want -0.5", in.DY)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("input never reached the room")
}

func TestBinaryInputReachesSimulation(t *testing.T) {
	_, wsURL, hub, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()
	roomID, playerID := joinRoom(t, c, "Alice")

	// [marker, dx=127 (1.0), dy=0, flags: boost]
	if err := c.WriteMessage(websocket.BinaryMessage, []byte{0x01, 127, 0, 0x02}); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	room := hub.rooms.Get(roomID)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		room.mu.Lock()
		in := room.players[playerID].Input
		room.mu.Unlock()
		if in.Boosting && in.DX == 1 && in.DY == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("binary input never reached the room")
}

func TestShootOverWS(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()
	joinRoom(t, c, "Alice")

	sendMsg(t, c, MsgPlayerShoot, nil)

	created := readUntil(t, c, MsgProjectileCreated)
	d := dataMap(t, created)
	if d["id"] == "" || d["owner"] == "" {
		t.Errorf("projectileCreated payload incomplete: %v", d)
	}
}

// ---------- leave ----------

func TestLeaveFreesRoom(t *testing.T) {
	_, wsURL, hub, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()
	roomID, _ := joinRoom(t, c, "Alice")

	sendMsg(t, c, MsgLeave, nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.rooms.Get(roomID) == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("empty room should be torn down after leave")
}

func TestDisconnectRemovesPlayer(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c1 := dialWS(t, wsURL)
	defer c1.Close()
	joinRoom(t, c1, "Alice")

	c2 := dialWS(t, wsURL)
	joinRoom(t, c2, "Bob")
	c2.Close()

	left := readUntil(t, c1, MsgPlayerLeft)
	if dataMap(t, left)["totalPlayers"].(float64) != 1 {
		t.Error("expected totalPlayers=1 after the disconnect")
	}
}

// ---------- accounts over WS ----------

func TestRegisterLoginProfile(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()

	sendMsg(t, c, MsgRegister, RegisterMsg{Username: "alice", Password: "secret"})
	ok := readUntil(t, c, MsgAuthOK)
	d := dataMap(t, ok)
	token, _ := d["token"].(string)
	if token == "" || d["username"] != "alice" {
		t.Fatalf("authOk incomplete: %v", d)
	}

	sendMsg(t, c, MsgProfile, nil)
	profile := readUntil(t, c, MsgProfileData)
	pd := dataMap(t, profile)
	if pd["username"] != "alice" || pd["matches"].(float64) != 0 {
		t.Errorf("unexpected profile: %v", pd)
	}

	// A fresh connection resumes the session from the token
	c2 := dialWS(t, wsURL)
	defer c2.Close()
	sendMsg(t, c2, MsgAuth, AuthMsg{Token: token})
	resumed := readUntil(t, c2, MsgAuthOK)
	if dataMap(t, resumed)["username"] != "alice" {
		t.Error("token resume should restore the username")
	}

	// And a plain login works too
	c3 := dialWS(t, wsURL)
	defer c3.Close()
	sendMsg(t, c3, MsgLogin, LoginMsg{Username: "alice", Password: "secret"})
	readUntil(t, c3, MsgAuthOK)
}

func TestRegisterBadInput(t *testing.T) {
	_, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()

	sendMsg(t, c, MsgRegister, RegisterMsg{Username: "x", Password: "secret"})
	errEnv := readUntil(t, c, MsgError)
	if dataMap(t, errEnv)["msg"] == "" {
		t.Error("expected a validation error")
	}
}

// ---------- HTTP endpoints ----------

func TestQREndpoint(t *testing.T) {
	srv, wsURL, _, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	defer c.Close()
	roomID, _ := joinRoom(t, c, "Alice")

	resp, err := http.Get(srv.URL + "/qr?room=" + roomID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("GET /qr status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}

	bad, err := http.Get(srv.URL + "/qr?room=no-such-room")
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != 404 {
		t.Errorf("GET /qr for unknown room = %d, want 404", bad.StatusCode)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	srv, _, _, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/api/leaderboard?by=kills")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("GET /api/leaderboard status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestCacheControlHeader(t *testing.T) {
	srv, _, _, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected Cache-Control: no-cache, got %q", cc)
	}
}

// ---------- connection limits ----------

func TestPerIPConnectionLimit(t *testing.T) {
	_, wsURL, hub, cleanup := startTestServer(t)
	defer cleanup()

	conns := make([]*websocket.Conn, 0, maxConnsPerIP)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < maxConnsPerIP; i++ {
		conns = append(conns, dialWS(t, wsURL))
	}

	// Wait for the handlers to register all five connections
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && hub.TotalConns() < maxConnsPerIP {
		time.Sleep(5 * time.Millisecond)
	}

	if _, _, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Errorf("connection %d from one IP should be refused", maxConnsPerIP+1)
	}
}

// ---------- hub bookkeeping ----------

func TestHubTracksConnections(t *testing.T) {
	_, wsURL, hub, cleanup := startTestServer(t)
	defer cleanup()

	c := dialWS(t, wsURL)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && hub.TotalConns() != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.TotalConns() != 1 {
		t.Fatalf("TotalConns = %d, want 1", hub.TotalConns())
	}

	c.Close()
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && hub.TotalConns() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.TotalConns() != 0 {
		t.Errorf("TotalConns = %d after close, want 0", hub.TotalConns())
	}
}
