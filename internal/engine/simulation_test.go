package engine

import (
	"reflect"
	"testing"

	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/road"
	"github.com/talgya/mini-roads/internal/vehicle"
	"github.com/talgya/mini-roads/internal/world"
)

func at(x, y int) grid.Coord { return grid.Coord{X: x, Y: y} }

// crossMap builds a 5x5 map with a four-way crossing at (2,2).
func crossMap(t *testing.T) *world.Map {
	t.Helper()
	m := world.NewMap(5, 5, road.DefaultTileConfig())
	for i := 0; i < 4; i++ {
		if err := m.BuildRoad(at(2, i), at(2, i+1)); err != nil {
			t.Fatal(err)
		}
		if err := m.BuildRoad(at(i, 2), at(i+1, 2)); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

// lineMap builds a single east-west road along y=0.
func lineMap(t *testing.T, length int) *world.Map {
	t.Helper()
	m := world.NewMap(length, 1, road.DefaultTileConfig())
	for x := 0; x < length-1; x++ {
		if err := m.BuildRoad(at(x, 0), at(x+1, 0)); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func testSim(m *world.Map) *Simulation {
	s := NewSimulation(m, SimConfig{Seed: 1})
	s.Router = StraightRouter{}
	return s
}

func mustSpawn(t *testing.T, s *Simulation, pos, next grid.Coord) *vehicle.Vehicle {
	t.Helper()
	h, err := s.Spawn(pos, next)
	if err != nil {
		t.Fatalf("spawn at %v: %v", pos, err)
	}
	v, _ := s.Vehicles.Get(h)
	return v
}

func TestRightOfWayFollowsPriorityAxis(t *testing.T) {
	m := crossMap(t)
	m.Get(at(2, 2)).SetPriorSetting(road.PriorNorthSouth)
	s := testSim(m)

	northbound := mustSpawn(t, s, at(2, 3), at(2, 2))
	eastbound := mustSpawn(t, s, at(1, 2), at(2, 2))

	s.TickStep(1)
	if northbound.Pos != at(2, 2) {
		t.Fatalf("priority vehicle at %v, want (2,2)", northbound.Pos)
	}
	if eastbound.Pos != at(1, 2) {
		t.Fatalf("yielding vehicle moved to %v", eastbound.Pos)
	}
	if s.Stats.Yields != 1 {
		t.Errorf("yields = %d, want 1", s.Stats.Yields)
	}

	s.TickStep(2)
	if eastbound.Pos != at(2, 2) {
		t.Errorf("eastbound at %v after the crossing cleared", eastbound.Pos)
	}
	if s.Vehicles.Alive(northbound.Handle) {
		t.Error("northbound vehicle should have stopped and finished its trip")
	}
	if s.Stats.Trips != 1 {
		t.Errorf("trips = %d", s.Stats.Trips)
	}
}

func TestRightOfWayManualEastWest(t *testing.T) {
	m := crossMap(t)
	m.Get(at(2, 2)).SetPriorSetting(road.PriorEastWest)
	s := testSim(m)

	northbound := mustSpawn(t, s, at(2, 3), at(2, 2))
	eastbound := mustSpawn(t, s, at(1, 2), at(2, 2))

	s.TickStep(1)
	if eastbound.Pos != at(2, 2) || northbound.Pos != at(2, 3) {
		t.Errorf("east-west priority ignored: eastbound %v northbound %v", eastbound.Pos, northbound.Pos)
	}
}

func TestFollowerWaitsForLeader(t *testing.T) {
	s := testSim(lineMap(t, 6))

	// The follower is registered first, so it moves before the leader.
	follower := mustSpawn(t, s, at(1, 0), at(2, 0))
	leader := mustSpawn(t, s, at(2, 0), at(3, 0))

	s.TickStep(1)
	if follower.Pos != at(1, 0) || follower.Waited != 1 {
		t.Errorf("follower at %v waited %d, want (1,0) and 1", follower.Pos, follower.Waited)
	}
	if leader.Pos != at(3, 0) {
		t.Errorf("leader at %v", leader.Pos)
	}
	if got := s.Map.Get(at(1, 0)).HeldBy(follower.Handle); got.Len() == 0 {
		t.Error("waiting follower lost its own tile")
	}

	loads := s.Congestion(1)
	if len(loads) != 1 || loads[0].Pos != at(2, 0) || loads[0].WaitsByAxis[grid.AxisEastWest] != 1 {
		t.Errorf("congestion = %+v", loads)
	}

	s.TickStep(2)
	if follower.Pos != at(2, 0) || follower.Waited != 0 {
		t.Errorf("follower at %v waited %d after the leader left", follower.Pos, follower.Waited)
	}
}

func TestFollowerOvertakes(t *testing.T) {
	s := testSim(lineMap(t, 6))
	s.Config.Overtake = true

	follower := mustSpawn(t, s, at(1, 0), at(2, 0))
	mustSpawn(t, s, at(2, 0), at(3, 0))

	s.TickStep(1)
	if follower.Pos != at(2, 0) || !follower.Overtaking {
		t.Fatalf("follower at %v overtaking=%v, want to pass on (2,0)", follower.Pos, follower.Overtaking)
	}
	if s.Stats.Overtakes != 1 {
		t.Errorf("overtakes = %d", s.Stats.Overtakes)
	}
}

func TestProhibitedTileBlocksOvertaking(t *testing.T) {
	m := lineMap(t, 6)
	m.Get(at(2, 0)).SetOvertakingMode(road.ModeProhibited)
	s := testSim(m)
	s.Config.Overtake = true

	follower := mustSpawn(t, s, at(1, 0), at(2, 0))
	mustSpawn(t, s, at(2, 0), at(3, 0))

	s.TickStep(1)
	if follower.Pos != at(1, 0) || s.Stats.Overtakes != 0 {
		t.Errorf("follower overtook on a prohibited tile: at %v", follower.Pos)
	}
}

func TestLoadingOnlyPassesStoppedVehicles(t *testing.T) {
	tests := []struct {
		name       string
		waited     int
		wantPos    grid.Coord
		overtaking bool
	}{
		{"leader driving on", 0, at(1, 0), false},
		{"leader held up", 1, at(2, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := lineMap(t, 6)
			m.Get(at(2, 0)).SetOvertakingMode(road.ModeLoadingOnly)
			s := testSim(m)
			s.Config.Overtake = true

			follower := mustSpawn(t, s, at(1, 0), at(2, 0))
			leader := mustSpawn(t, s, at(2, 0), at(3, 0))
			leader.Waited = tt.waited

			s.TickStep(1)
			if follower.Pos != tt.wantPos || follower.Overtaking != tt.overtaking {
				t.Errorf("follower at %v overtaking=%v, want %v overtaking=%v",
					follower.Pos, follower.Overtaking, tt.wantPos, tt.overtaking)
			}
		})
	}
}

func TestStopOnPassingLane(t *testing.T) {
	tests := []struct {
		name     string
		mode     road.OvertakingMode
		overtake bool
		stopped  bool
	}{
		{"halt tile", road.ModeHalt, false, true},
		{"twoway tile", road.ModeTwoway, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := lineMap(t, 6)
			m.Get(at(2, 0)).SetOvertakingMode(tt.mode)
			s := testSim(m)
			s.Config.Overtake = tt.overtake

			// The follower ends its trip on (2,0), where the leader still
			// holds the default lane.
			follower := mustSpawn(t, s, at(1, 0), at(2, 0))
			follower.Onward, follower.HasOnward = at(2, 0), true
			mustSpawn(t, s, at(2, 0), at(3, 0))

			s.TickStep(1)
			if tt.stopped {
				if s.Vehicles.Alive(follower.Handle) || s.Stats.Trips != 1 {
					t.Errorf("follower alive=%v trips=%d, want the trip ended",
						s.Vehicles.Alive(follower.Handle), s.Stats.Trips)
				}
				return
			}
			if follower.Pos != at(1, 0) || follower.Waited != 1 || s.Stats.Trips != 0 {
				t.Errorf("follower at %v waited %d trips=%d, want it queued on (1,0)",
					follower.Pos, follower.Waited, s.Stats.Trips)
			}
		})
	}
}

func TestMaxWaitAbortsAndFrees(t *testing.T) {
	s := testSim(lineMap(t, 6))
	s.Config.MaxWait = 1

	follower := mustSpawn(t, s, at(1, 0), at(2, 0))
	mustSpawn(t, s, at(2, 0), at(3, 0))

	s.TickStep(1)
	if s.Vehicles.Alive(follower.Handle) {
		t.Fatal("follower still alive after reaching MaxWait")
	}
	if s.Stats.Aborted != 1 {
		t.Errorf("aborted = %d", s.Stats.Aborted)
	}
	if s.Map.Get(at(1, 0)).IsReserved() {
		t.Error("aborted vehicle kept its reservation")
	}
	if len(s.RecentEvents(10)) != 1 {
		t.Errorf("events = %v", s.RecentEvents(10))
	}
}

func TestSpawnRejectsTakenLane(t *testing.T) {
	s := testSim(lineMap(t, 4))
	mustSpawn(t, s, at(1, 0), at(2, 0))
	if _, err := s.Spawn(at(1, 0), at(2, 0)); err == nil {
		t.Error("second vehicle spawned onto a held lane")
	}
	// The opposite lane is free.
	mustSpawn(t, s, at(1, 0), at(0, 0))
	if _, err := s.Spawn(at(1, 0), at(3, 0)); err == nil {
		t.Error("spawn towards a non-adjacent tile accepted")
	}
	if _, err := s.Spawn(at(0, 3), at(0, 2)); err == nil {
		t.Error("spawn off the road accepted")
	}
}

func TestDespawnFreesReservations(t *testing.T) {
	s := testSim(lineMap(t, 4))
	v := mustSpawn(t, s, at(1, 0), at(2, 0))
	if !s.Despawn(v.Handle) {
		t.Fatal("despawn failed")
	}
	if s.Despawn(v.Handle) {
		t.Error("stale handle despawned twice")
	}
	if s.Map.ReservedTiles() != 0 {
		t.Error("reservation left after despawn")
	}
}

func TestMonthSweepsStaleHolders(t *testing.T) {
	s := testSim(lineMap(t, 4))
	v := mustSpawn(t, s, at(1, 0), at(2, 0))
	// Drop the vehicle without releasing its tile.
	s.Vehicles.Remove(v.Handle)

	var got Report
	s.OnReport = func(r Report) { got = r }
	s.TickMonth(100)

	if s.Map.ReservedTiles() != 0 {
		t.Error("stale reservation survived the monthly sweep")
	}
	if got.Month != 1 || got.Stats.Swept != 2 {
		t.Errorf("report = %+v", got)
	}
}

func TestMonthRollsStatistics(t *testing.T) {
	s := testSim(lineMap(t, 6))
	v := mustSpawn(t, s, at(0, 0), at(1, 0))
	s.TickStep(1)
	if v.Pos != at(1, 0) {
		t.Fatalf("vehicle at %v", v.Pos)
	}
	tile := s.Map.Get(at(1, 0))
	if tile.Statistics().Get(0, road.CategoryVehicles, grid.AxisEastWest) != 1 {
		t.Fatal("move not booked")
	}
	s.TickMonth(2)
	if tile.Statistics().Get(1, road.CategoryVehicles, grid.AxisEastWest) != 1 ||
		tile.Statistics().Get(0, road.CategoryVehicles, grid.AxisEastWest) != 0 {
		t.Error("month did not roll")
	}
}

func TestRotateMovesVehicles(t *testing.T) {
	m := crossMap(t)
	s := testSim(m)
	v := mustSpawn(t, s, at(1, 2), at(2, 2))

	s.Rotate90()
	// (x,y) -> (height-1-y, x) with height 5.
	if v.Pos != at(2, 1) || v.Next != at(2, 2) || v.Heading != grid.South {
		t.Fatalf("rotated vehicle pos=%v next=%v heading=%v", v.Pos, v.Next, v.Heading)
	}
	if s.Map.Get(v.Pos).HeldBy(v.Handle).Len() == 0 {
		t.Error("reservation did not follow the rotation")
	}

	s.TickStep(1)
	if v.Pos != at(2, 2) {
		t.Errorf("vehicle could not continue after rotation: at %v", v.Pos)
	}
}

func TestSimulationDeterministic(t *testing.T) {
	run := func() (SimStats, []grid.Coord) {
		m := world.Generate(world.SmallTestConfig())
		cfg := DefaultSimConfig()
		cfg.Vehicles = 25
		cfg.Seed = 99
		s := NewSimulation(m, cfg)
		s.Populate()
		for tick := uint64(1); tick <= 400; tick++ {
			s.TickStep(tick)
		}
		var pos []grid.Coord
		s.Vehicles.Each(func(v *vehicle.Vehicle) { pos = append(pos, v.Pos) })
		return s.Snapshot(), pos
	}

	statsA, posA := run()
	statsB, posB := run()
	if statsA != statsB {
		t.Errorf("stats differ:\n%+v\n%+v", statsA, statsB)
	}
	if !reflect.DeepEqual(posA, posB) {
		t.Error("vehicle positions differ between identical runs")
	}
	if statsA.Moves == 0 {
		t.Error("nothing moved")
	}
}

func TestSimulationInvariants(t *testing.T) {
	m := world.Generate(world.SmallTestConfig())
	cfg := DefaultSimConfig()
	cfg.Vehicles = 40
	cfg.Seed = 7
	s := NewSimulation(m, cfg)
	s.Populate()

	for tick := uint64(1); tick <= 500; tick++ {
		s.TickStep(tick)

		for _, c := range m.Coords() {
			for q, h := range m.Tiles[c].Reservations() {
				if !h.IsZero() && !s.Vehicles.Alive(h) {
					t.Fatalf("tick %d: quadrant %d of %v held by dead %v", tick, q, c, h)
				}
			}
		}
		s.Vehicles.Each(func(v *vehicle.Vehicle) {
			if m.Get(v.Pos).HeldBy(v.Handle).Len() == 0 {
				t.Fatalf("tick %d: %v holds nothing on its tile %v", tick, v.Handle, v.Pos)
			}
		})
	}

	var booked uint64
	for _, tile := range m.Tiles {
		st := tile.Statistics()
		booked += uint64(st.Get(0, road.CategoryVehicles, grid.AxisNorthSouth))
		booked += uint64(st.Get(0, road.CategoryVehicles, grid.AxisEastWest))
	}
	if booked != s.Stats.Moves {
		t.Errorf("booked %d vehicle passes, made %d moves", booked, s.Stats.Moves)
	}
}


func TestEventSequence(t *testing.T) {
	s := testSim(lineMap(t, 4))
	s.EventSeq = 40 // restored from an earlier run
	s.Rotate90()
	s.TickStep(3)
	s.Update(func() { s.AddEvent("edit", "manual") })

	events := s.RecentEvents(0)
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Seq != 41 || events[1].Seq != 42 || events[1].Tick != 3 {
		t.Errorf("events = %+v", events)
	}
	if s.EventSeq != 42 {
		t.Errorf("EventSeq = %d", s.EventSeq)
	}
}
