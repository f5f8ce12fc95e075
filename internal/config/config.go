// Package config reads runtime settings from ROADSIM_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/mini-roads/internal/engine"
	"github.com/talgya/mini-roads/internal/road"
	"github.com/talgya/mini-roads/internal/world"
)

// Config is the roadsim runtime configuration.
type Config struct {
	DBPath       string
	Port         int
	AdminKey     string // Empty disables the admin endpoints
	RandomOrgKey string // Empty uses crypto/rand for fresh seeds

	Gen world.GenConfig
	Sim engine.SimConfig

	Interval     time.Duration
	TicksPerDay  int
	DaysPerMonth int
	SaveEvery    int // Months between automatic saves

	ShowMaskedRibi   bool
	ShowReservations bool
	LogLevel         slog.Level
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		DBPath:       "data/roads.db",
		Port:         8080,
		Gen:          world.DefaultGenConfig(),
		Sim:          engine.DefaultSimConfig(),
		Interval:     200 * time.Millisecond,
		TicksPerDay:  engine.DefaultTicksPerDay,
		DaysPerMonth: engine.DefaultDaysPerMonth,
		SaveEvery:    1,
		LogLevel:     slog.LevelInfo,
	}
}

// Load reads the environment over Default. Malformed values are an error.
func Load() (Config, error) {
	cfg := Default()
	e := &env{}

	cfg.DBPath = e.str("ROADSIM_DB", cfg.DBPath)
	cfg.Port = e.integer("ROADSIM_PORT", cfg.Port)
	cfg.AdminKey = os.Getenv("ROADSIM_ADMIN_KEY")
	cfg.RandomOrgKey = os.Getenv("RANDOM_ORG_API_KEY")

	cfg.Gen.Seed = e.integer64("ROADSIM_SEED", cfg.Gen.Seed)
	cfg.Gen.Width = e.integer("ROADSIM_WIDTH", cfg.Gen.Width)
	cfg.Gen.Height = e.integer("ROADSIM_HEIGHT", cfg.Gen.Height)
	cfg.Gen.Spacing = e.integer("ROADSIM_SPACING", cfg.Gen.Spacing)
	cfg.Gen.Tile.Side = e.side("ROADSIM_TRAFFIC_SIDE", cfg.Gen.Tile.Side)
	cfg.Gen.Tile.StatMonths = e.integer("ROADSIM_STAT_MONTHS", cfg.Gen.Tile.StatMonths)

	cfg.Sim.Vehicles = e.integer("ROADSIM_VEHICLES", cfg.Sim.Vehicles)
	cfg.Sim.MaxWait = e.integer("ROADSIM_MAX_WAIT", cfg.Sim.MaxWait)
	cfg.Sim.Overtake = e.boolean("ROADSIM_OVERTAKE", cfg.Sim.Overtake)
	cfg.Sim.Seed = e.integer64("ROADSIM_TRAFFIC_SEED", cfg.Sim.Seed)

	cfg.Interval = e.duration("ROADSIM_INTERVAL", cfg.Interval)
	cfg.TicksPerDay = e.integer("ROADSIM_TICKS_PER_DAY", cfg.TicksPerDay)
	cfg.DaysPerMonth = e.integer("ROADSIM_DAYS_PER_MONTH", cfg.DaysPerMonth)
	cfg.SaveEvery = e.integer("ROADSIM_SAVE_EVERY", cfg.SaveEvery)

	cfg.ShowMaskedRibi = e.boolean("ROADSIM_SHOW_MASKED_RIBI", cfg.ShowMaskedRibi)
	cfg.ShowReservations = e.boolean("ROADSIM_SHOW_RESERVATIONS", cfg.ShowReservations)
	cfg.LogLevel = e.level("ROADSIM_LOG_LEVEL", cfg.LogLevel)

	if e.err != nil {
		return cfg, e.err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.Gen.Width < 2 || c.Gen.Height < 2:
		return fmt.Errorf("map size %dx%d too small", c.Gen.Width, c.Gen.Height)
	case c.Gen.Spacing < 2:
		return fmt.Errorf("street spacing %d must be at least 2", c.Gen.Spacing)
	case c.TicksPerDay < 1 || c.DaysPerMonth < 1:
		return fmt.Errorf("calendar %d ticks/day, %d days/month invalid", c.TicksPerDay, c.DaysPerMonth)
	case c.Sim.Vehicles < 0 || c.Sim.MaxWait < 0:
		return fmt.Errorf("vehicle count and max wait must not be negative")
	}
	return nil
}

// WardenConfig is the warden runtime configuration.
type WardenConfig struct {
	APIURL     string
	AdminKey   string
	Interval   time.Duration
	MinWaits   int    // Waits on a tile before the warden considers editing it
	Cooldown   int    // Cycles a tile is left alone after an edit
	MemoryPath string // Cycle memory file; empty keeps memory in process only
}

// LoadWarden reads the warden environment. The admin key is required.
func LoadWarden() (WardenConfig, error) {
	e := &env{}
	cfg := WardenConfig{
		APIURL:     strings.TrimRight(e.str("ROADSIM_API_URL", "http://localhost:8080"), "/"),
		AdminKey:   os.Getenv("ROADSIM_ADMIN_KEY"),
		Interval:   e.duration("WARDEN_INTERVAL", 5*time.Minute),
		MinWaits:   e.integer("WARDEN_MIN_WAITS", 20),
		Cooldown:   e.integer("WARDEN_COOLDOWN", 3),
		MemoryPath: e.str("WARDEN_MEMORY", "warden_memory.json"),
	}
	if e.err != nil {
		return cfg, e.err
	}
	if cfg.AdminKey == "" {
		return cfg, fmt.Errorf("ROADSIM_ADMIN_KEY is required")
	}
	return cfg, nil
}

// env collects the first parse error so Load can report it once.
type env struct {
	err error
}

func (e *env) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s=%q: %w", key, v, err)
	}
}

func (e *env) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) integer64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) side(key string, def road.TrafficSide) road.TrafficSide {
	switch v := strings.ToLower(os.Getenv(key)); v {
	case "":
		return def
	case "left":
		return road.LeftHand
	case "right":
		return road.RightHand
	default:
		e.fail(key, v, fmt.Errorf("want left or right"))
		return def
	}
}

func (e *env) level(key string, def slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		e.fail(key, v, err)
		return def
	}
	return l
}
