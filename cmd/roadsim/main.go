// Command roadsim runs the road network traffic simulation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/mini-roads/internal/api"
	"github.com/talgya/mini-roads/internal/config"
	"github.com/talgya/mini-roads/internal/engine"
	"github.com/talgya/mini-roads/internal/entropy"
	"github.com/talgya/mini-roads/internal/persistence"
	"github.com/talgya/mini-roads/internal/world"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("mini-roads: road network traffic simulation",
		"traffic_side", cfg.Gen.Tile.Side,
		"vehicles", cfg.Sim.Vehicles,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Load or Generate Road Network ─────────────────────────────────
	var (
		roadMap   *world.Map
		startTick uint64
		eventSeq  uint64
		month     int
	)

	if db.HasWorldState() {
		slog.Info("found saved road network, loading...")
		roadMap, err = db.LoadMap(cfg.Gen.Tile)
		if err != nil {
			slog.Error("failed to load road network", "error", err)
			os.Exit(1)
		}
		startTick, month, err = db.LastTick()
		if err != nil {
			slog.Error("failed to read last tick", "error", err)
			os.Exit(1)
		}
		eventSeq, err = db.EventSeq()
		if err != nil {
			slog.Error("failed to read event sequence", "error", err)
			os.Exit(1)
		}
		worldID, _ := db.GetMeta(persistence.MetaWorldID)
		slog.Info("road network restored",
			"world_id", worldID,
			"tiles", roadMap.TileCount(),
			"tick", startTick,
			"month", month,
		)
	} else {
		slog.Info("no saved state found, generating new road network...")
		if cfg.Gen.Seed == 0 {
			cfg.Gen.Seed = entropy.NewClient(cfg.RandomOrgKey).Seed(ctx)
		}
		roadMap = world.Generate(cfg.Gen)

		worldID := uuid.NewString()
		if err := db.SaveMeta(persistence.MetaSeed, strconv.FormatInt(cfg.Gen.Seed, 10)); err != nil {
			slog.Error("failed to save seed", "error", err)
		}
		if err := db.SaveMeta(persistence.MetaWorldID, worldID); err != nil {
			slog.Error("failed to save world id", "error", err)
		}
		for mode, n := range world.ModeCounts(roadMap) {
			slog.Info("overtaking mode", "mode", mode, "tiles", n)
		}
		slog.Info("road network generated",
			"world_id", worldID,
			"seed", cfg.Gen.Seed,
			"size", fmt.Sprintf("%dx%d", roadMap.Width, roadMap.Height),
			"tiles", humanize.Comma(int64(roadMap.TileCount())),
			"intersections", len(roadMap.Intersections()),
		)
	}

	// ── Simulation ────────────────────────────────────────────────────
	sim := engine.NewSimulation(roadMap, cfg.Sim)
	sim.LastTick = startTick
	sim.EventSeq = eventSeq
	sim.Month = month
	spawned := sim.Populate()
	slog.Info("traffic placed", "vehicles", spawned)

	// Save on fresh generation only (loaded networks are already saved).
	if startTick == 0 {
		if err := db.SaveWorldState(sim); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	}

	eng := engine.NewEngine()
	eng.Tick = startTick
	eng.Interval = cfg.Interval
	eng.TicksPerDay = uint64(cfg.TicksPerDay)
	eng.DaysPerMonth = uint64(cfg.DaysPerMonth)

	// Wire tick callbacks. Auto-save every SaveEvery sim-months.
	eng.OnTick = sim.TickStep
	eng.OnDay = sim.TickDay
	monthsSinceSave := 0
	eng.OnMonth = func(tick uint64) {
		sim.TickMonth(tick)
		monthsSinceSave++
		if cfg.SaveEvery > 0 && monthsSinceSave >= cfg.SaveEvery {
			monthsSinceSave = 0
			if err := db.SaveWorldState(sim); err != nil {
				slog.Error("monthly save failed", "error", err)
			}
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("ROADSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}

	apiServer := api.NewServer(sim, eng, db)
	apiServer.Port = cfg.Port
	apiServer.AdminKey = cfg.AdminKey
	apiServer.Debug = api.DebugOptions{
		ShowMaskedRibi:   cfg.ShowMaskedRibi,
		ShowReservations: cfg.ShowReservations,
	}
	sim.OnReport = apiServer.Publish
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	fmt.Printf("\nRoads are open: %d vehicles on %d tiles.\n", sim.Vehicles.Len(), roadMap.TileCount())
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Port)
	if startTick > 0 {
		fmt.Printf("Resuming from tick %d (%s)\n", startTick, eng.SimTime(startTick))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx)
	slog.Info("simulation stopped", "tick", eng.Tick)

	// Final save on shutdown.
	slog.Info("final save...")
	if err := db.SaveWorldState(sim); err != nil {
		slog.Error("final save failed", "error", err)
	}

	fmt.Println("Simulation stopped. Road network saved.")
}
