// Simulation ties the road map and the vehicle registry together and moves
// vehicles each tick.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/road"
	"github.com/talgya/mini-roads/internal/vehicle"
	"github.com/talgya/mini-roads/internal/world"
)

// ErrNoRoom means a vehicle could not be placed because the road was taken.
var ErrNoRoom = errors.New("no room on the road")

// maxEvents bounds the event log kept between monthly trims.
const maxEvents = 1000

// SimConfig holds traffic parameters.
type SimConfig struct {
	Vehicles int   // Population kept topped up, one spawn per tick
	MaxWait  int   // Blocked steps before a vehicle gives up (0 = never)
	MinTrip  int   // Shortest trip in moves
	MaxTrip  int   // Longest trip in moves (0 = endless)
	MaxCargo int32 // Goods carried per vehicle, booked as goods traffic
	Overtake bool  // Try the passing lane when the default lane is blocked
	Seed     int64
}

// DefaultSimConfig returns the traffic defaults.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Vehicles: 60,
		MaxWait:  40,
		MinTrip:  10,
		MaxTrip:  80,
		MaxCargo: 20,
		Overtake: true,
		Seed:     1,
	}
}

// Event is a notable occurrence on the road network.
type Event struct {
	Seq         uint64 `json:"seq"` // 1-based, increasing for the life of the network
	Tick        uint64 `json:"tick"`
	Description string `json:"description"`
	Category    string `json:"category"` // "spawn", "abort", "trip", "edit"
}

// SimStats tracks aggregate traffic statistics since start.
type SimStats struct {
	Vehicles      int    `json:"vehicles"`
	Moves         uint64 `json:"moves"`
	Waits         uint64 `json:"waits"`
	Yields        uint64 `json:"yields"`
	Overtakes     uint64 `json:"overtakes"`
	Trips         uint64 `json:"trips"`
	Aborted       uint64 `json:"aborted"`
	Swept         uint64 `json:"swept"`
	ReservedTiles int    `json:"reserved_tiles"`
}

// TileLoad describes how congested one tile was this month.
type TileLoad struct {
	Pos          grid.Coord            `json:"pos"`
	Waits        int                   `json:"waits"`
	WaitsByAxis  [grid.AxisCount]int   `json:"waits_by_axis"` // north-south, east-west
	Traffic      [grid.AxisCount]int64 `json:"traffic"`       // weighted vehicle counts
	Mode         string                `json:"mode"`
	Prior        string                `json:"prior"`
	PriorityAxis string                `json:"priority_axis"`
	Intersection bool                  `json:"intersection"`
}

// Report is the monthly summary pushed to observers.
type Report struct {
	Month   int        `json:"month"`
	Tick    uint64     `json:"tick"`
	Stats   SimStats   `json:"stats"`
	Busiest []TileLoad `json:"busiest"`
}

// Simulation holds the road network and its traffic.
type Simulation struct {
	mu sync.RWMutex

	Map      *world.Map
	Vehicles *vehicle.Registry
	Router   Router
	Config   SimConfig
	Events   []Event
	EventSeq uint64 // Seq of the latest event
	LastTick uint64
	Month    int
	Stats    SimStats

	// OnReport is called after every month close, outside the lock.
	OnReport func(Report)

	rng   *rand.Rand
	waits map[grid.Coord]*[grid.AxisCount]int
}

// NewSimulation creates a Simulation over m with a seeded random router.
func NewSimulation(m *world.Map, cfg SimConfig) *Simulation {
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &Simulation{
		Map:      m,
		Vehicles: vehicle.NewRegistry(),
		Router:   &RandomRouter{Rand: rng},
		Config:   cfg,
		rng:      rng,
		waits:    make(map[grid.Coord]*[grid.AxisCount]int),
	}
}

// View runs fn with the simulation read-locked.
func (s *Simulation) View(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

// Update runs fn with the simulation locked, between steps.
func (s *Simulation) Update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastTick
}

// ── Vehicle lifetimes ─────────────────────────────────────────────────

// Spawn places a vehicle on pos heading to the adjacent tile next. The
// vehicle reserves its starting lane; ErrNoRoom means it was taken.
func (s *Simulation) Spawn(pos, next grid.Coord) (vehicle.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawn(pos, next)
}

// Despawn removes a vehicle and frees its reservations.
func (s *Simulation) Despawn(h vehicle.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Vehicles.Get(h)
	if !ok {
		return false
	}
	s.remove(v)
	return true
}

// Populate spawns vehicles at random until the configured population is
// reached or the road is too full. It returns how many were spawned.
func (s *Simulation) Populate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for s.Vehicles.Len() < s.Config.Vehicles {
		if err := s.spawnRandom(); err != nil {
			break
		}
		n++
	}
	s.Stats.Vehicles = s.Vehicles.Len()
	return n
}

func (s *Simulation) spawn(pos, next grid.Coord) (vehicle.Handle, error) {
	t, err := s.Map.Lookup(pos)
	if err != nil {
		return vehicle.Handle{}, fmt.Errorf("spawn: %w", err)
	}
	dir, ok := grid.DirectionBetween(pos, next)
	if !ok {
		return vehicle.Handle{}, fmt.Errorf("spawn at %v towards %v: %w", pos, next, road.ErrInvalidDirection)
	}
	v := &vehicle.Vehicle{
		Pos:        pos,
		Prev:       pos,
		Next:       next,
		Heading:    dir,
		TripLength: s.tripLength(),
		Cargo:      s.cargo(),
	}
	h := s.Vehicles.Add(v)
	ok, err = t.Reserve(h, false, pos, next)
	if err != nil || !ok {
		s.Vehicles.Remove(h)
		if err != nil {
			return vehicle.Handle{}, fmt.Errorf("spawn: %w", err)
		}
		return vehicle.Handle{}, fmt.Errorf("spawn at %v: %w", pos, ErrNoRoom)
	}
	slog.Debug("vehicle spawned", "vehicle", h, "tile", pos, "heading", dir)
	return h, nil
}

// spawnRandom tries a few random tiles and exits.
func (s *Simulation) spawnRandom() error {
	coords := s.Map.Coords()
	if len(coords) == 0 {
		return fmt.Errorf("spawn: %w", world.ErrNoTile)
	}
	for attempt := 0; attempt < 8; attempt++ {
		c := coords[s.rng.Intn(len(coords))]
		exits := Exits(s.Map, c)
		if len(exits) == 0 {
			continue
		}
		d := exits[s.rng.Intn(len(exits))]
		if _, err := s.spawn(c, c.Neighbor(d)); err == nil {
			return nil
		}
	}
	return ErrNoRoom
}

func (s *Simulation) tripLength() int {
	low, high := s.Config.MinTrip, s.Config.MaxTrip
	if high <= 0 {
		return 0
	}
	if low < 1 {
		low = 1
	}
	if high <= low {
		return low
	}
	return low + s.rng.Intn(high-low+1)
}

func (s *Simulation) cargo() int32 {
	if s.Config.MaxCargo <= 0 {
		return 0
	}
	return s.rng.Int31n(s.Config.MaxCargo + 1)
}

// remove frees every tile the vehicle may hold and unregisters it.
func (s *Simulation) remove(v *vehicle.Vehicle) {
	for _, c := range []grid.Coord{v.Pos, v.Next, v.Prev} {
		if t := s.Map.Get(c); t != nil {
			t.Unreserve(v.Handle)
		}
	}
	s.Vehicles.Remove(v.Handle)
}

func (s *Simulation) abort(v *vehicle.Vehicle, reason string) {
	s.Stats.Aborted++
	s.event("abort", fmt.Sprintf("%s gave up at %v: %s", v.Tag, v.Pos, reason))
	slog.Debug("vehicle aborted", "vehicle", v.Handle, "tile", v.Pos, "reason", reason)
	s.remove(v)
}

func (s *Simulation) event(category, desc string) {
	s.EventSeq++
	s.Events = append(s.Events, Event{Seq: s.EventSeq, Tick: s.LastTick, Description: desc, Category: category})
}

// AddEvent logs an event at the current tick. The caller holds the lock,
// as inside Update.
func (s *Simulation) AddEvent(category, desc string) {
	s.event(category, desc)
}

// ── Stepping ──────────────────────────────────────────────────────────

// TickStep runs every tick: every vehicle tries to move one tile.
func (s *Simulation) TickStep(tick uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastTick = tick

	vehicles := s.Vehicles.Vehicles()
	for _, v := range vehicles {
		if !v.HasOnward && v.Next != v.Pos {
			v.Onward = s.Router.Onward(s.Map, v)
			v.HasOnward = true
		}
	}

	contenders := s.contenders(vehicles)
	for _, v := range vehicles {
		if s.Vehicles.Alive(v.Handle) {
			s.advance(v, contenders)
		}
	}

	if s.Vehicles.Len() < s.Config.Vehicles {
		s.spawnRandom()
	}
	s.Stats.Vehicles = s.Vehicles.Len()
}

// contenders records, per intersection, which axes have vehicles trying to
// enter it this step.
func (s *Simulation) contenders(vehicles []*vehicle.Vehicle) map[grid.Coord][grid.AxisCount]bool {
	out := make(map[grid.Coord][grid.AxisCount]bool)
	for _, v := range vehicles {
		t := s.Map.Get(v.Next)
		if t == nil || !t.IsIntersection() {
			continue
		}
		dir, ok := grid.DirectionBetween(v.Pos, v.Next)
		if !ok {
			continue
		}
		c := out[v.Next]
		c[grid.AxisOf(dir)] = true
		out[v.Next] = c
	}
	return out
}

// advance moves v onto its next tile if the reservation there succeeds.
// The old tile is released only after the new one is held.
func (s *Simulation) advance(v *vehicle.Vehicle, contenders map[grid.Coord][grid.AxisCount]bool) {
	cur := s.Map.Get(v.Pos)
	next := s.Map.Get(v.Next)
	if cur == nil || next == nil {
		s.abort(v, "road removed")
		return
	}
	dir, ok := grid.DirectionBetween(v.Pos, v.Next)
	if !ok {
		s.abort(v, "lost")
		return
	}
	axis := grid.AxisOf(dir)

	// Right of way: the non-priority axis yields while the priority axis
	// has someone waiting to enter.
	if next.IsIntersection() {
		if prio := next.PriorityAxis(); axis != prio && contenders[v.Next][prio] {
			s.Stats.Yields++
			s.wait(v, axis)
			return
		}
	}

	overtaking, err := s.chooseLane(v, next)
	if err != nil {
		s.abort(v, err.Error())
		return
	}
	ok, err = next.Reserve(v.Handle, overtaking, v.Pos, v.Onward)
	if err != nil {
		s.abort(v, err.Error())
		return
	}
	if !ok {
		s.wait(v, axis)
		return
	}

	cur.Unreserve(v.Handle)
	v.Prev, v.Pos, v.Next = v.Pos, v.Next, v.Onward
	v.HasOnward = false
	v.Heading = dir
	v.Overtaking = overtaking
	v.Waited = 0
	v.Moves++

	next.BookDirection(1, road.CategoryVehicles, dir)
	if v.Cargo > 0 {
		next.BookDirection(int(v.Cargo), road.CategoryGoods, dir)
	}
	s.Stats.Moves++
	if overtaking {
		s.Stats.Overtakes++
	}

	if v.Next == v.Pos {
		s.Stats.Trips++
		s.remove(v)
	}
}

// chooseLane prefers the default lane and falls back to the passing lane
// when the default one is taken. Moving on, the tile has to allow
// overtaking, and loading_only tiles only let vehicles pass stopped ones.
// Ending the trip on the passing lane needs a halt tile.
func (s *Simulation) chooseLane(v *vehicle.Vehicle, next *road.Tile) (bool, error) {
	blockers, err := next.Blockers(v.Handle, false, v.Pos, v.Onward)
	if err != nil {
		return false, err
	}
	if len(blockers) == 0 || next.IsIntersection() {
		return false, nil
	}
	p := next.Policy()
	if v.Onward == v.Next {
		if !p.AllowsStopOnPassingLane() {
			return false, nil
		}
	} else {
		if !s.Config.Overtake || !p.AllowsOvertaking() {
			return false, nil
		}
		if p.OvertakeLoadingOnly() && !s.allStopped(blockers) {
			return false, nil
		}
	}
	passing, err := next.IsReservedByOthers(v.Handle, true, v.Pos, v.Onward)
	if err != nil {
		return false, err
	}
	return !passing, nil
}

// allStopped reports whether every vehicle in hs is standing still, held
// up on its last step or at the end of its trip.
func (s *Simulation) allStopped(hs []vehicle.Handle) bool {
	return lo.EveryBy(hs, func(h vehicle.Handle) bool {
		o, ok := s.Vehicles.Get(h)
		return ok && (o.Waited > 0 || o.Next == o.Pos)
	})
}

func (s *Simulation) wait(v *vehicle.Vehicle, axis grid.Axis) {
	v.Waited++
	s.Stats.Waits++
	w := s.waits[v.Next]
	if w == nil {
		w = new([grid.AxisCount]int)
		s.waits[v.Next] = w
	}
	w[axis]++
	if s.Config.MaxWait > 0 && v.Waited >= s.Config.MaxWait {
		s.abort(v, "waited too long")
	}
}

// ── Periodic work ─────────────────────────────────────────────────────

// TickDay runs every sim-day: daily summary.
func (s *Simulation) TickDay(tick uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats.ReservedTiles = s.Map.ReservedTiles()

	eventCounts := make(map[string]int)
	for _, e := range s.Events {
		eventCounts[e.Category]++
	}

	slog.Info("daily report",
		"tick", tick,
		"vehicles", s.Stats.Vehicles,
		"moves", humanize.Comma(int64(s.Stats.Moves)),
		"waits", humanize.Comma(int64(s.Stats.Waits)),
		"yields", humanize.Comma(int64(s.Stats.Yields)),
		"overtakes", humanize.Comma(int64(s.Stats.Overtakes)),
		"trips", humanize.Comma(int64(s.Stats.Trips)),
		"reserved_tiles", s.Stats.ReservedTiles,
		"events_abort", eventCounts["abort"],
	)
}

// TickMonth runs every sim-month: statistics roll forward, stale
// reservations are swept and the monthly report goes out.
func (s *Simulation) TickMonth(tick uint64) {
	report := s.closeMonth(tick)
	if s.OnReport != nil {
		s.OnReport(report)
	}
}

func (s *Simulation) closeMonth(tick uint64) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Congestion is reported for the month that just ended.
	busiest := s.congestion(5)

	s.Map.NewMonth()
	freed := s.Map.Sweep(s.Vehicles.Alive)
	s.Stats.Swept += uint64(freed)
	s.Stats.ReservedTiles = s.Map.ReservedTiles()
	s.Month++
	s.waits = make(map[grid.Coord]*[grid.AxisCount]int)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}

	slog.Info("monthly report",
		"tick", tick,
		"month", s.Month,
		"vehicles", s.Stats.Vehicles,
		"moves", humanize.Comma(int64(s.Stats.Moves)),
		"trips", humanize.Comma(int64(s.Stats.Trips)),
		"aborted", humanize.Comma(int64(s.Stats.Aborted)),
		"swept", freed,
		"congested_tiles", len(busiest),
	)

	return Report{Month: s.Month, Tick: tick, Stats: s.Stats, Busiest: busiest}
}

// Congestion returns up to limit tiles with the most waiting this month,
// busiest first. limit <= 0 means all.
func (s *Simulation) Congestion(limit int) []TileLoad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.congestion(limit)
}

func (s *Simulation) congestion(limit int) []TileLoad {
	var loads []TileLoad
	for c, w := range s.waits {
		t := s.Map.Get(c)
		if t == nil {
			continue
		}
		stats := t.Statistics()
		loads = append(loads, TileLoad{
			Pos:          c,
			Waits:        w[grid.AxisNorthSouth] + w[grid.AxisEastWest],
			WaitsByAxis:  *w,
			Traffic:      [grid.AxisCount]int64{stats.Weighted(grid.AxisNorthSouth), stats.Weighted(grid.AxisEastWest)},
			Mode:         t.OvertakingMode().String(),
			Prior:        t.PriorSetting().String(),
			PriorityAxis: t.PriorityAxis().String(),
			Intersection: t.IsIntersection(),
		})
	}
	sort.Slice(loads, func(i, j int) bool {
		if loads[i].Waits != loads[j].Waits {
			return loads[i].Waits > loads[j].Waits
		}
		a, b := loads[i].Pos, loads[j].Pos
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	if limit > 0 && len(loads) > limit {
		loads = loads[:limit]
	}
	return loads
}

// Rotate90 rotates the map clockwise together with every vehicle on it.
func (s *Simulation) Rotate90() {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.Map.Height
	s.Map.Rotate90()
	s.Vehicles.Each(func(v *vehicle.Vehicle) {
		v.Pos = v.Pos.Rotate90(h)
		v.Prev = v.Prev.Rotate90(h)
		v.Next = v.Next.Rotate90(h)
		v.Onward = v.Onward.Rotate90(h)
		v.Heading = v.Heading.Rotate90()
	})
	waits := make(map[grid.Coord]*[grid.AxisCount]int, len(s.waits))
	for c, w := range s.waits {
		w[0], w[1] = w[1], w[0]
		waits[c.Rotate90(h)] = w
	}
	s.waits = waits
	s.event("edit", "map rotated")
}

// RecentEvents returns up to n of the latest events, oldest first.
func (s *Simulation) RecentEvents(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && len(s.Events) > n {
		start = len(s.Events) - n
	}
	return append([]Event(nil), s.Events[start:]...)
}

// Snapshot returns a copy of the aggregate statistics.
func (s *Simulation) Snapshot() SimStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats
}
