// Package api provides the HTTP API for observing the road network.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (road editing control plane).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/talgya/mini-roads/internal/engine"
	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/persistence"
	"github.com/talgya/mini-roads/internal/road"
	"github.com/talgya/mini-roads/internal/vehicle"
)

// DebugOptions control the extra information tile views carry.
type DebugOptions struct {
	ShowMaskedRibi   bool // Include the oneway-masked direction set
	ShowReservations bool // Include the quadrant reservation table
}

// Server serves the road network over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	Debug    DebugOptions

	hub *Hub
}

// NewServer creates a server for sim driven by eng.
func NewServer(sim *engine.Simulation, eng *engine.Engine, db *persistence.DB) *Server {
	return &Server{Sim: sim, Eng: eng, DB: db, hub: NewHub()}
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	if s.hub == nil {
		s.hub = NewHub()
	}
	adminLimiter := NewRateLimiter(60, time.Minute)
	wsLimiter := NewRateLimiter(20, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/tiles", s.handleTiles)
	mux.HandleFunc("GET /api/v1/tile/{x}/{y}", s.handleTileDetail)
	mux.HandleFunc("GET /api/v1/congestion", s.handleCongestion)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)
	mux.HandleFunc("GET /api/v1/ws", RateLimitMiddleware(wsLimiter, s.handleWS))

	// Admin endpoints (POST, require bearer token).
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return RateLimitMiddleware(adminLimiter, s.adminOnly(h))
	}
	mux.HandleFunc("POST /api/v1/speed", admin(s.handleSetSpeed))
	mux.HandleFunc("POST /api/v1/tile/policy", admin(s.handleTilePolicy))
	mux.HandleFunc("POST /api/v1/rotate", admin(s.handleRotate))
	mux.HandleFunc("POST /api/v1/snapshot", admin(s.handleSnapshot))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "",
		"show_masked_ribi", s.Debug.ShowMaskedRibi, "show_reservations", s.Debug.ShowReservations)

	handler := s.Handler()
	go func() {
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Publish pushes a monthly report to every websocket client.
func (s *Server) Publish(r engine.Report) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(feedMessage{Type: "report", Report: &r})
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == s.AdminKey
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no ROADSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// ── Views ─────────────────────────────────────────────────────────────

// tileView is the JSON form of a tile.
type tileView struct {
	X              int               `json:"x"`
	Y              int               `json:"y"`
	Connections    string            `json:"connections"`
	Mode           string            `json:"mode"`
	OnewayMask     string            `json:"oneway_mask"`
	Prior          string            `json:"prior"`
	PriorityAxis   string            `json:"priority_axis"`
	Intersection   bool              `json:"intersection"`
	AvoidCityRoad  bool              `json:"avoid_city_road"`
	CityCarNoEntry bool              `json:"city_car_no_entry"`
	MaskedRibi     string            `json:"masked_ribi,omitempty"`
	Reservations   []string          `json:"reservations,omitempty"`
	Statistics     []road.MonthStats `json:"statistics,omitempty"`
	Outline        string            `json:"outline"`
}

func (s *Server) viewTile(t *road.Tile, detail bool) tileView {
	v := tileView{
		X:              t.Pos().X,
		Y:              t.Pos().Y,
		Connections:    t.RibiUnmasked().String(),
		Mode:           t.OvertakingMode().String(),
		OnewayMask:     t.OnewayMask().String(),
		Prior:          t.PriorSetting().String(),
		PriorityAxis:   t.PriorityAxis().String(),
		Intersection:   t.IsIntersection(),
		AvoidCityRoad:  t.AvoidCityRoad(),
		CityCarNoEntry: t.CityCarNoEntry(),
		Outline:        t.Outline(s.Debug.ShowMaskedRibi, s.Debug.ShowReservations),
	}
	if s.Debug.ShowMaskedRibi && t.OvertakingMode() == road.ModeOneway {
		v.MaskedRibi = t.MaskedRibi().String()
	}
	if s.Debug.ShowReservations {
		res := t.Reservations()
		v.Reservations = lo.Map(res[:], func(h vehicle.Handle, _ int) string { return h.String() })
	}
	if detail {
		v.Statistics = t.Statistics().Values()
	}
	return v
}

// ── Handlers ──────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status map[string]any
	s.Sim.View(func() {
		status = map[string]any{
			"name":           "mini-roads",
			"tick":           s.Sim.LastTick,
			"month":          s.Sim.Month,
			"width":          s.Sim.Map.Width,
			"height":         s.Sim.Map.Height,
			"tiles":          s.Sim.Map.TileCount(),
			"intersections":  len(s.Sim.Map.Intersections()),
			"traffic_side":   s.Sim.Map.Config.Side.String(),
			"stats":          s.Sim.Stats,
			"reserved_tiles": s.Sim.Map.ReservedTiles(),
		}
	})
	if s.Eng != nil {
		status["sim_time"] = s.Eng.SimTime(status["tick"].(uint64))
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	writeJSON(w, status)
}

func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	var tiles []tileView
	s.Sim.View(func() {
		tiles = lo.Map(s.Sim.Map.Coords(), func(c grid.Coord, _ int) tileView {
			return s.viewTile(s.Sim.Map.Tiles[c], false)
		})
	})
	writeJSON(w, map[string]any{"count": len(tiles), "tiles": tiles})
}

func (s *Server) handleTileDetail(w http.ResponseWriter, r *http.Request) {
	c, ok := parseCoord(r.PathValue("x"), r.PathValue("y"))
	if !ok {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	var (
		view  tileView
		found bool
	)
	s.Sim.View(func() {
		if t := s.Sim.Map.Get(c); t != nil {
			view, found = s.viewTile(t, true), true
		}
	})
	if !found {
		http.Error(w, "no road tile at "+c.String(), http.StatusNotFound)
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleCongestion(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10, 1, 100)
	loads := s.Sim.Congestion(limit)
	if loads == nil {
		loads = []engine.TileLoad{}
	}
	writeJSON(w, map[string]any{
		"tick":  s.Sim.CurrentTick(),
		"tiles": loads,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 500)
	writeJSON(w, s.Sim.RecentEvents(limit))
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Speed < 0 || req.Speed > 1000 {
		http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
		return
	}
	s.Eng.SetSpeed(req.Speed)
	slog.Info("speed changed", "speed", req.Speed)
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// PolicyRequest edits one tile. Nil fields are left unchanged.
type PolicyRequest struct {
	X              int     `json:"x"`
	Y              int     `json:"y"`
	Mode           *string `json:"mode,omitempty"`
	OnewayMask     *string `json:"oneway_mask,omitempty"`
	Prior          *string `json:"prior,omitempty"`
	AvoidCityRoad  *bool   `json:"avoid_city_road,omitempty"`
	CityCarNoEntry *bool   `json:"city_car_no_entry,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// policyEdit is a validated PolicyRequest.
type policyEdit struct {
	mode  *road.OvertakingMode
	mask  *grid.Ribi
	prior *road.PriorSetting
}

func (req PolicyRequest) validate() (policyEdit, error) {
	var e policyEdit
	if req.Mode != nil {
		m, err := road.ParseOvertakingMode(*req.Mode)
		if err != nil {
			return e, err
		}
		e.mode = &m
	}
	if req.OnewayMask != nil {
		mask, ok := grid.ParseRibi(*req.OnewayMask)
		if !ok {
			return e, fmt.Errorf("invalid oneway mask %q", *req.OnewayMask)
		}
		e.mask = &mask
	}
	if req.Prior != nil {
		p, err := road.ParsePriorSetting(*req.Prior)
		if err != nil {
			return e, err
		}
		e.prior = &p
	}
	return e, nil
}

func (s *Server) handleTilePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	edit, err := req.validate()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c := grid.Coord{X: req.X, Y: req.Y}
	var (
		view  tileView
		found bool
	)
	// Edits apply between steps. Reservations already granted stay.
	s.Sim.Update(func() {
		t := s.Sim.Map.Get(c)
		if t == nil {
			return
		}
		found = true
		if edit.mode != nil {
			t.SetOvertakingMode(*edit.mode)
		}
		if edit.mask != nil {
			t.SetOnewayMask(*edit.mask)
		}
		if edit.prior != nil {
			t.SetPriorSetting(*edit.prior)
		}
		if req.AvoidCityRoad != nil {
			t.SetAvoidCityRoad(*req.AvoidCityRoad)
		}
		if req.CityCarNoEntry != nil {
			t.SetCityCarNoEntry(*req.CityCarNoEntry)
		}
		desc := fmt.Sprintf("tile %v set to %s, prior %s", c, t.OvertakingMode(), t.PriorSetting())
		if req.Reason != "" {
			desc += ": " + req.Reason
		}
		s.Sim.AddEvent("edit", desc)
		view = s.viewTile(t, true)
	})
	if !found {
		http.Error(w, "no road tile at "+c.String(), http.StatusNotFound)
		return
	}

	slog.Info("tile policy changed", "tile", c, "mode", view.Mode, "prior", view.Prior, "reason", req.Reason)
	writeJSON(w, view)
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	s.Sim.Rotate90()
	var width, height int
	s.Sim.View(func() { width, height = s.Sim.Map.Width, s.Sim.Map.Height })
	slog.Info("map rotated", "width", width, "height", height)
	writeJSON(w, map[string]int{"width": width, "height": height})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.DB.SaveWorldState(s.Sim); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"tick":    s.Sim.CurrentTick(),
		"message": "snapshot saved",
	})
}

// ── Helpers ───────────────────────────────────────────────────────────

func parseCoord(xs, ys string) (grid.Coord, bool) {
	x, errX := strconv.Atoi(xs)
	y, errY := strconv.Atoi(ys)
	if errX != nil || errY != nil {
		return grid.Coord{}, false
	}
	return grid.Coord{X: x, Y: y}, true
}

// queryInt reads an integer query parameter clamped to [low, high].
func queryInt(r *http.Request, key string, def, low, high int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return lo.Clamp(n, low, high)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
