package warden

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/talgya/mini-roads/internal/api"
	"github.com/talgya/mini-roads/internal/engine"
	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/road"
	"github.com/talgya/mini-roads/internal/world"
)

func load(x, y, waits int, ns, ew int, mode, axis string, intersection bool) TileLoad {
	l := TileLoad{
		Waits:        waits,
		WaitsByAxis:  [2]int{ns, ew},
		Mode:         mode,
		PriorityAxis: axis,
		Intersection: intersection,
	}
	l.Pos.X, l.Pos.Y = x, y
	return l
}

func TestDecide(t *testing.T) {
	rules := Rules{MinWaits: 10, Cooldown: 2, Ratio: 2}
	tests := []struct {
		name   string
		loads  []TileLoad
		memory []CycleRecord
		action string
		x      int
		value  string
	}{
		{
			name:   "flip to the waiting axis",
			loads:  []TileLoad{load(6, 6, 30, 28, 2, "twoway", "east-west", true)},
			action: "prior", x: 6, value: "north-south",
		},
		{
			name:   "queues too even",
			loads:  []TileLoad{load(6, 6, 30, 18, 12, "twoway", "north-south", true)},
			action: "none",
		},
		{
			name:   "below threshold",
			loads:  []TileLoad{load(6, 6, 9, 0, 9, "twoway", "north-south", true)},
			action: "none",
		},
		{
			name:   "relax prohibited road",
			loads:  []TileLoad{load(3, 0, 15, 0, 15, "prohibited", "north-south", false)},
			action: "overtaking", x: 3, value: "twoway",
		},
		{
			name:   "plain road left alone",
			loads:  []TileLoad{load(3, 0, 15, 0, 15, "twoway", "north-south", false)},
			action: "none",
		},
		{
			name: "cooldown moves to the next tile",
			loads: []TileLoad{
				load(6, 6, 40, 0, 40, "twoway", "north-south", true),
				load(3, 0, 15, 0, 15, "prohibited", "north-south", false),
			},
			memory: []CycleRecord{{Action: "prior", X: 6, Y: 6}, {Action: "none"}},
			action: "overtaking", x: 3, value: "twoway",
		},
		{
			name:   "cooldown expired",
			loads:  []TileLoad{load(6, 6, 40, 0, 40, "twoway", "north-south", true)},
			memory: []CycleRecord{{Action: "prior", X: 6, Y: 6}, {Action: "none"}, {Action: "none"}},
			action: "prior", x: 6, value: "east-west",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := &CycleMemory{Records: tt.memory}
			d := Decide(&Snapshot{Congestion: tt.loads}, mem, rules)
			if d.Action != tt.action {
				t.Fatalf("action = %q (%s), want %q", d.Action, d.Rationale, tt.action)
			}
			if tt.action == "none" {
				if d.Edit != nil {
					t.Errorf("none carries an edit: %+v", d.Edit)
				}
				return
			}
			if d.Edit.X != tt.x {
				t.Errorf("edit x = %d, want %d", d.Edit.X, tt.x)
			}
			var got string
			if d.Edit.Prior != nil {
				got = *d.Edit.Prior
			} else if d.Edit.Mode != nil {
				got = *d.Edit.Mode
			}
			if got != tt.value {
				t.Errorf("edit value = %q, want %q", got, tt.value)
			}
		})
	}
}

func TestTriage(t *testing.T) {
	snap := &Snapshot{Congestion: []TileLoad{
		load(0, 0, 50, 0, 50, "twoway", "north-south", false),
		load(1, 0, 5, 0, 5, "twoway", "north-south", false),
	}}
	snap.Status.Stats.Moves = 100
	snap.Status.Stats.Waits = 20
	h := Triage(snap, 10)
	if h.TotalWaits != 55 || h.JammedTiles != 1 || h.Level != "BUSY" {
		t.Errorf("health = %+v", h)
	}

	snap.Status.Stats.Trips = 4
	snap.Status.Stats.Aborted = 2
	if h := Triage(snap, 10); h.Level != "JAMMED" {
		t.Errorf("level = %q with half the trips aborted", h.Level)
	}
	if h := Triage(&Snapshot{}, 10); h.Level != "FLOWING" {
		t.Errorf("empty level = %q", h.Level)
	}
}

func TestMemoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	mem := LoadMemory(path)
	for i := 0; i < maxRecords+5; i++ {
		mem.Record(CycleRecord{Tick: uint64(i), Action: "none"})
	}
	mem.Record(CycleRecord{Tick: 99, Action: "prior", X: 2, Y: 3})
	mem.Save()

	got := LoadMemory(path)
	if len(got.Records) != maxRecords || got.Records[maxRecords-1].Tick != 99 {
		t.Fatalf("records = %d, last %+v", len(got.Records), got.Records[len(got.Records)-1])
	}
	if !got.RecentlyEdited(2, 3, 1) || got.RecentlyEdited(3, 2, 5) {
		t.Error("RecentlyEdited wrong")
	}
	if len(LoadMemory("").Records) != 0 {
		t.Error("in-process memory not empty")
	}
}

func TestActorRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	mode := "twoway"
	if _, err := NewActor(srv.URL, "bad").Act(&Edit{Mode: &mode}); err == nil {
		t.Error("rejected edit returned no error")
	}
}

func TestRunCycleAgainstAPI(t *testing.T) {
	m := world.NewMap(6, 1, road.DefaultTileConfig())
	for x := 0; x < 5; x++ {
		if err := m.BuildRoad(grid.Coord{X: x, Y: 0}, grid.Coord{X: x + 1, Y: 0}); err != nil {
			t.Fatal(err)
		}
	}
	narrow := grid.Coord{X: 2, Y: 0}
	m.Get(narrow).SetOvertakingMode(road.ModeProhibited)

	sim := engine.NewSimulation(m, engine.SimConfig{Seed: 1})
	sim.Router = engine.StraightRouter{}
	// The follower moves first and queues behind the leader.
	if _, err := sim.Spawn(grid.Coord{X: 1, Y: 0}, narrow); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Spawn(narrow, grid.Coord{X: 3, Y: 0}); err != nil {
		t.Fatal(err)
	}
	sim.TickStep(1)

	apiSrv := api.NewServer(sim, engine.NewEngine(), nil)
	apiSrv.AdminKey = "k"
	ts := httptest.NewServer(apiSrv.Handler())
	defer ts.Close()

	mem := LoadMemory("")
	rules := Rules{MinWaits: 1, Cooldown: 3, Ratio: 2}
	d, err := RunCycle(NewObserver(ts.URL), NewActor(ts.URL, "k"), mem, rules)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != "overtaking" {
		t.Fatalf("decision = %+v", d)
	}

	var mode road.OvertakingMode
	sim.View(func() { mode = m.Get(narrow).OvertakingMode() })
	if mode != road.ModeTwoway {
		t.Errorf("mode = %v after the cycle", mode)
	}
	if len(mem.Records) != 1 || !mem.RecentlyEdited(2, 0, 1) {
		t.Errorf("memory = %+v", mem.Records)
	}

	// The same tile is on cooldown for the next cycle.
	d, err = RunCycle(NewObserver(ts.URL), NewActor(ts.URL, "k"), mem, rules)
	if err != nil || d.Action != "none" {
		t.Errorf("second cycle = %+v, %v", d, err)
	}
}
