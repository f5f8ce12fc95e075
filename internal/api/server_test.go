package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/mini-roads/internal/engine"
	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/persistence"
	"github.com/talgya/mini-roads/internal/road"
	"github.com/talgya/mini-roads/internal/world"
)

const testKey = "secret"

func newTestServer(t *testing.T, debug DebugOptions) *Server {
	t.Helper()
	m := world.NewMap(6, 2, road.DefaultTileConfig())
	for x := 0; x < 5; x++ {
		if err := m.BuildRoad(grid.Coord{X: x, Y: 0}, grid.Coord{X: x + 1, Y: 0}); err != nil {
			t.Fatal(err)
		}
	}
	sim := engine.NewSimulation(m, engine.SimConfig{Seed: 1})
	if _, err := sim.Spawn(grid.Coord{X: 1, Y: 0}, grid.Coord{X: 2, Y: 0}); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(sim, engine.NewEngine(), nil)
	srv.AdminKey = testKey
	srv.Debug = debug
	return srv
}

func do(t *testing.T, h http.Handler, method, path, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, DebugOptions{})
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	status := decode[map[string]any](t, rec)
	if status["tiles"] != float64(6) || status["traffic_side"] != "left" {
		t.Errorf("status = %v", status)
	}
}

func TestTileDetail(t *testing.T) {
	tests := []struct {
		name  string
		debug DebugOptions
		setup func(s *Server)
		path  string
		code  int
		check func(t *testing.T, v tileView)
	}{
		{
			name: "plain",
			path: "/api/v1/tile/1/0",
			code: http.StatusOK,
			check: func(t *testing.T, v tileView) {
				if v.Connections != "EW" || v.Reservations != nil || v.MaskedRibi != "" {
					t.Errorf("view = %+v", v)
				}
				if len(v.Statistics) != road.DefaultStatMonths {
					t.Errorf("statistics months = %d", len(v.Statistics))
				}
			},
		},
		{
			name:  "debug",
			debug: DebugOptions{ShowMaskedRibi: true, ShowReservations: true},
			path:  "/api/v1/tile/1/0",
			code:  http.StatusOK,
			check: func(t *testing.T, v tileView) {
				if len(v.Reservations) != road.QuadrantCount || v.Reservations[road.QuadrantNW] != "v1.1" {
					t.Errorf("reservations = %v", v.Reservations)
				}
				if v.MaskedRibi != "" {
					t.Errorf("masked ribi on a twoway tile = %q", v.MaskedRibi)
				}
			},
		},
		{
			name:  "debug oneway",
			debug: DebugOptions{ShowMaskedRibi: true},
			setup: func(s *Server) {
				tile := s.Sim.Map.Get(grid.Coord{X: 2, Y: 0})
				tile.SetOvertakingMode(road.ModeOneway)
				tile.SetOnewayMask(grid.East)
			},
			path: "/api/v1/tile/2/0",
			code: http.StatusOK,
			check: func(t *testing.T, v tileView) {
				if v.MaskedRibi != "W" || !strings.Contains(v.Outline, "masked=W") {
					t.Errorf("masked ribi = %q, outline %q", v.MaskedRibi, v.Outline)
				}
			},
		},
		{name: "missing", path: "/api/v1/tile/4/1", code: http.StatusNotFound},
		{name: "bad coordinate", path: "/api/v1/tile/a/0", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.debug)
			if tt.setup != nil {
				tt.setup(srv)
			}
			rec := do(t, srv.Handler(), http.MethodGet, tt.path, "", "")
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if tt.check != nil {
				tt.check(t, decode[tileView](t, rec))
			}
		})
	}
}

func TestTilesList(t *testing.T) {
	srv := newTestServer(t, DebugOptions{})
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/tiles", "", "")
	body := decode[struct {
		Count int        `json:"count"`
		Tiles []tileView `json:"tiles"`
	}](t, rec)
	if body.Count != 6 || body.Tiles[0].X != 0 || body.Tiles[5].X != 5 {
		t.Errorf("tiles = %+v", body)
	}
}

func TestAdminAuth(t *testing.T) {
	srv := newTestServer(t, DebugOptions{})
	h := srv.Handler()
	body := `{"x":2,"y":0,"mode":"prohibited"}`

	if rec := do(t, h, http.MethodPost, "/api/v1/tile/policy", body, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/tile/policy", body, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: %d", rec.Code)
	}

	srv.AdminKey = ""
	if rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/tile/policy", body, testKey); rec.Code != http.StatusForbidden {
		t.Errorf("disabled admin: %d", rec.Code)
	}
}

func TestTilePolicyEdit(t *testing.T) {
	srv := newTestServer(t, DebugOptions{})
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/tile/policy",
		`{"x":1,"y":0,"mode":"oneway","oneway_mask":"E","prior":"east-west","avoid_city_road":true,"reason":"test"}`, testKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d: %s", rec.Code, rec.Body.String())
	}
	v := decode[tileView](t, rec)
	if v.Mode != "oneway" || v.OnewayMask != "E" || v.Prior != "east-west" || !v.AvoidCityRoad {
		t.Errorf("view = %+v", v)
	}

	var tile *road.Tile
	srv.Sim.View(func() { tile = srv.Sim.Map.Get(grid.Coord{X: 1, Y: 0}) })
	if tile.OvertakingMode() != road.ModeOneway || tile.Ribi() != grid.East {
		t.Errorf("tile not edited: %v %v", tile.OvertakingMode(), tile.Ribi())
	}
	if !tile.IsReserved() {
		t.Error("policy edit dropped an existing reservation")
	}
	events := srv.Sim.RecentEvents(5)
	if len(events) != 1 || !strings.Contains(events[0].Description, "test") {
		t.Errorf("events = %+v", events)
	}

	for _, bad := range []string{`{"x":1,"y":0,"mode":"sideways"}`, `{"x":1,"y":0,"oneway_mask":"Q"}`, `{"x":1,"y":0,"prior":"up"}`, `nope`} {
		if rec := do(t, h, http.MethodPost, "/api/v1/tile/policy", bad, testKey); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code %d", bad, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/tile/policy", `{"x":9,"y":9,"mode":"halt"}`, testKey); rec.Code != http.StatusNotFound {
		t.Errorf("missing tile: code %d", rec.Code)
	}
}

func TestSpeed(t *testing.T) {
	srv := newTestServer(t, DebugOptions{})
	h := srv.Handler()
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":4}`, testKey); rec.Code != http.StatusOK {
		t.Fatalf("code %d", rec.Code)
	}
	if srv.Eng.Speed() != 4 {
		t.Errorf("speed = %v", srv.Eng.Speed())
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":-1}`, testKey); rec.Code != http.StatusBadRequest {
		t.Errorf("negative speed: code %d", rec.Code)
	}
	got := decode[map[string]float64](t, do(t, h, http.MethodGet, "/api/v1/speed", "", ""))
	if got["speed"] != 4 {
		t.Errorf("GET speed = %v", got)
	}

	srv.Eng = nil
	if rec := do(t, h, http.MethodGet, "/api/v1/speed", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET without engine: code %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":2}`, testKey); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("POST without engine: code %d", rec.Code)
	}
}

func TestRotate(t *testing.T) {
	srv := newTestServer(t, DebugOptions{})
	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/rotate", "", testKey)
	got := decode[map[string]int](t, rec)
	if got["width"] != 2 || got["height"] != 6 {
		t.Errorf("rotated size = %v", got)
	}
}

func TestSnapshot(t *testing.T) {
	srv := newTestServer(t, DebugOptions{})
	if rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/snapshot", "", testKey); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no db: code %d", rec.Code)
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	srv.DB = db
	if rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/snapshot", "", testKey); rec.Code != http.StatusOK {
		t.Fatalf("snapshot: code %d", rec.Code)
	}
	if !db.HasWorldState() {
		t.Error("snapshot wrote nothing")
	}
}

func TestCongestion(t *testing.T) {
	srv := newTestServer(t, DebugOptions{})
	srv.Sim.Router = engine.StraightRouter{}
	// The vehicle on (1,0) moves first and finds its way blocked.
	if _, err := srv.Sim.Spawn(grid.Coord{X: 2, Y: 0}, grid.Coord{X: 3, Y: 0}); err != nil {
		t.Fatal(err)
	}
	srv.Sim.TickStep(1)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/congestion?limit=3", "", "")
	body := decode[struct {
		Tick  uint64            `json:"tick"`
		Tiles []engine.TileLoad `json:"tiles"`
	}](t, rec)
	if len(body.Tiles) != 1 || body.Tiles[0].Pos != (grid.Coord{X: 2, Y: 0}) || body.Tiles[0].Waits != 1 {
		t.Errorf("congestion = %+v", body.Tiles)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests refused")
	}
	if rl.Allow("a") {
		t.Error("third request allowed")
	}
	if !rl.Allow("b") {
		t.Error("other client limited")
	}
	if got := rl.RetryAfter("a"); got != 61 {
		t.Errorf("retry after = %d", got)
	}
	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Error("window did not reset")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Errorf("remote = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := clientIP(req); got != "1.2.3.4" {
		t.Errorf("forwarded = %q", got)
	}
}

func TestReportFeed(t *testing.T) {
	srv := newTestServer(t, DebugOptions{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var hello feedMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "hello" {
		t.Fatalf("hello = %+v, %v", hello, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	srv.Publish(engine.Report{Month: 3})

	var msg feedMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "report" || msg.Report == nil || msg.Report.Month != 3 {
		t.Errorf("report = %+v", msg)
	}
}
