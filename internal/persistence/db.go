// Package persistence provides SQLite-based road network storage.
// Only the persisted tile fields are written; reservations are runtime state.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-roads/internal/engine"
	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/road"
	"github.com/talgya/mini-roads/internal/world"
)

// ErrNoState means the database holds no saved road network.
var ErrNoState = errors.New("no saved road network")

// Metadata keys.
const (
	MetaWidth    = "width"
	MetaHeight   = "height"
	MetaLastTick = "last_tick"
	MetaMonth    = "month"
	MetaSeed     = "seed"
	MetaWorldID  = "world_id"
	MetaEventSeq = "event_seq"
)

// DB wraps a SQLite connection for road network persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tiles (
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		connections INTEGER NOT NULL,
		overtaking_mode INTEGER NOT NULL,
		oneway_mask INTEGER NOT NULL,
		street_flags INTEGER NOT NULL,
		prior_direction INTEGER NOT NULL,
		statistics_json TEXT NOT NULL,
		PRIMARY KEY (x, y)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// tileRow is one row of the tiles table.
type tileRow struct {
	X              int    `db:"x"`
	Y              int    `db:"y"`
	Connections    int    `db:"connections"`
	OvertakingMode int    `db:"overtaking_mode"`
	OnewayMask     int    `db:"oneway_mask"`
	StreetFlags    int    `db:"street_flags"`
	PriorDirection int    `db:"prior_direction"`
	StatisticsJSON string `db:"statistics_json"`
}

// SaveTiles writes all tile states to the database (full replace).
func (db *DB) SaveTiles(states []road.State) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM tiles"); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO tiles
		(x, y, connections, overtaking_mode, oneway_mask, street_flags,
		 prior_direction, statistics_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range states {
		statsJSON, err := json.Marshal(s.Statistics)
		if err != nil {
			return fmt.Errorf("encode statistics %v: %w", s.Pos, err)
		}
		_, err = stmt.Exec(
			s.Pos.X, s.Pos.Y, int(s.Connections), int(s.Mode), int(s.OnewayMask),
			int(s.Flags), int(s.Prior), string(statsJSON),
		)
		if err != nil {
			return fmt.Errorf("insert tile %v: %w", s.Pos, err)
		}
	}

	return tx.Commit()
}

// LoadTiles reads every saved tile state in row-major order.
func (db *DB) LoadTiles() ([]road.State, error) {
	var rows []tileRow
	err := db.conn.Select(&rows, `SELECT x, y, connections, overtaking_mode, oneway_mask,
		street_flags, prior_direction, statistics_json FROM tiles ORDER BY y, x`)
	if err != nil {
		return nil, fmt.Errorf("select tiles: %w", err)
	}

	states := make([]road.State, 0, len(rows))
	for _, r := range rows {
		s := road.State{
			Pos:         grid.Coord{X: r.X, Y: r.Y},
			Connections: grid.Ribi(r.Connections),
			Mode:        road.OvertakingMode(r.OvertakingMode),
			OnewayMask:  grid.Ribi(r.OnewayMask),
			Flags:       road.StreetFlags(r.StreetFlags),
			Prior:       road.PriorSetting(r.PriorDirection),
		}
		if err := json.Unmarshal([]byte(r.StatisticsJSON), &s.Statistics); err != nil {
			return nil, fmt.Errorf("decode statistics %v: %w", s.Pos, err)
		}
		states = append(states, s)
	}
	return states, nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (tick, description, category) VALUES (?, ?, ?)",
			e.Tick, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT tick, description, category FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	return events, err
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// getMetaInt reads an integer metadata value, or def when it is missing.
func (db *DB) getMetaInt(key string, def int64) (int64, error) {
	v, err := db.GetMeta(key)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", key, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", key, err)
	}
	return n, nil
}

// HasWorldState reports whether a road network has been saved.
func (db *DB) HasWorldState() bool {
	_, err := db.GetMeta(MetaWidth)
	return err == nil
}

// LoadMap rebuilds the saved road network. Every tile comes back with an
// all-free reservation grid.
func (db *DB) LoadMap(cfg road.TileConfig) (*world.Map, error) {
	if !db.HasWorldState() {
		return nil, ErrNoState
	}
	width, err := db.getMetaInt(MetaWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := db.getMetaInt(MetaHeight, 0)
	if err != nil {
		return nil, err
	}

	states, err := db.LoadTiles()
	if err != nil {
		return nil, err
	}
	m := world.NewMap(int(width), int(height), cfg)
	for _, s := range states {
		t, err := road.TileFromState(s, cfg)
		if err != nil {
			return nil, fmt.Errorf("load tile: %w", err)
		}
		m.Set(t)
	}
	return m, nil
}

// LastTick returns the saved tick counter and month, zero when absent.
func (db *DB) LastTick() (tick uint64, month int, err error) {
	t, err := db.getMetaInt(MetaLastTick, 0)
	if err != nil {
		return 0, 0, err
	}
	mo, err := db.getMetaInt(MetaMonth, 0)
	if err != nil {
		return 0, 0, err
	}
	return uint64(t), int(mo), nil
}

// EventSeq returns the sequence number of the last persisted event, zero
// when none was saved.
func (db *DB) EventSeq() (uint64, error) {
	n, err := db.getMetaInt(MetaEventSeq, 0)
	return uint64(n), err
}

// SaveWorldState performs a full save of the road network. Events with a
// sequence number past the previous save are appended.
func (db *DB) SaveWorldState(sim *engine.Simulation) error {
	var (
		states        []road.State
		events        []engine.Event
		width, height int
		tick, seq     uint64
		month         int
	)
	prevSeq, err := db.EventSeq()
	if err != nil {
		return err
	}
	sim.View(func() {
		states = sim.Map.States()
		width, height = sim.Map.Width, sim.Map.Height
		tick, month, seq = sim.LastTick, sim.Month, sim.EventSeq
		for _, e := range sim.Events {
			if e.Seq > prevSeq {
				events = append(events, e)
			}
		}
	})

	slog.Info("saving road network", "tiles", len(states), "tick", tick)

	if err := db.SaveTiles(states); err != nil {
		return fmt.Errorf("save tiles: %w", err)
	}
	if err := db.SaveEvents(events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	meta := map[string]string{
		MetaWidth:    strconv.Itoa(width),
		MetaHeight:   strconv.Itoa(height),
		MetaLastTick: strconv.FormatUint(tick, 10),
		MetaMonth:    strconv.Itoa(month),
		MetaEventSeq: strconv.FormatUint(seq, 10),
	}
	for k, v := range meta {
		if err := db.SaveMeta(k, v); err != nil {
			return fmt.Errorf("save meta: %w", err)
		}
	}

	slog.Info("road network saved")
	return nil
}
