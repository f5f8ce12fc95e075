// Package road provides road tiles: per-tile quadrant reservations that keep
// vehicles from colliding or deadlocking at intersections, the overtaking
// policy that shapes those reservations, and the directional traffic
// statistics behind automatic right of way.
//
// All operations are synchronous and meant to be called from a single
// simulation step at a time; call order decides who wins a quadrant.
package road

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/vehicle"
)

// StreetFlags are tile attributes used by road construction. They play no
// part in reservations.
type StreetFlags uint8

const (
	AvoidCityRoad  StreetFlags = 0x01 // Never upgrade to a city road
	CityCarNoEntry StreetFlags = 0x02 // City cars may not enter
	UseGivenHeight StreetFlags = 0x04 // Construction only
)

// TileConfig holds tile construction parameters.
type TileConfig struct {
	Side       TrafficSide
	StatMonths int
}

// DefaultTileConfig returns left-hand traffic with a twelve month ring.
func DefaultTileConfig() TileConfig {
	return TileConfig{Side: LeftHand, StatMonths: DefaultStatMonths}
}

// Tile is one road tile of the network.
type Tile struct {
	pos         grid.Coord
	connections grid.Ribi // Physical connectivity of the way
	policy      Policy
	flags       StreetFlags
	prior       PriorSetting
	stats       Statistics
	quads       Grid
}

// NewTile creates a road tile with default policy and zeroed statistics.
func NewTile(pos grid.Coord, connections grid.Ribi, cfg TileConfig) *Tile {
	return &Tile{
		pos:         pos,
		connections: connections & grid.All,
		policy:      DefaultPolicy(),
		stats:       NewStatistics(cfg.StatMonths),
		quads:       NewGrid(pos, cfg.Side),
	}
}

// Pos returns the tile position.
func (t *Tile) Pos() grid.Coord { return t.pos }

// ── Reservations ──────────────────────────────────────────────────────

// Reserve tries to reserve the quadrants vehicle h crosses moving from prev
// through this tile to next. It is all-or-nothing and idempotent for the
// same holder. A false result is a denial the caller retries later.
func (t *Tile) Reserve(h vehicle.Handle, overtaking bool, prev, next grid.Coord) (bool, error) {
	ok, denial, err := t.quads.Reserve(t.policy, h, overtaking, prev, next)
	if err != nil {
		return false, fmt.Errorf("reserve %v on %v: %w", h, t.pos, err)
	}
	if !ok {
		slog.Debug("reservation denied", "tile", t.pos, "vehicle", h, "reason", denial, "overtaking", overtaking)
	}
	return ok, nil
}

// Explain is Reserve without the side effects or the logging: it reports
// why a request would currently be refused.
func (t *Tile) Explain(h vehicle.Handle, overtaking bool, prev, next grid.Coord) (Denial, error) {
	set, denial, err := t.quads.Plan(t.policy, overtaking, prev, next)
	if err != nil {
		return Admitted, err
	}
	if denial == Admitted && t.quads.HeldByOthers(h, set) {
		denial = DeniedOccupied
	}
	return denial, nil
}

// Unreserve releases every quadrant h holds on this tile.
func (t *Tile) Unreserve(h vehicle.Handle) bool {
	return t.quads.Unreserve(h)
}

// UnreserveAll frees the whole tile.
func (t *Tile) UnreserveAll() {
	t.quads.UnreserveAll()
}

// IsReservedByOthers reports whether another vehicle holds a quadrant the
// move would need. It never changes state.
func (t *Tile) IsReservedByOthers(h vehicle.Handle, overtaking bool, prev, next grid.Coord) (bool, error) {
	held, err := t.quads.IsReservedByOthers(t.policy, h, overtaking, prev, next)
	if err != nil {
		return false, fmt.Errorf("query %v on %v: %w", h, t.pos, err)
	}
	return held, nil
}

// Blockers returns the other vehicles holding quadrants the move would
// need. The policy's admissibility rules are not applied.
func (t *Tile) Blockers(h vehicle.Handle, overtaking bool, prev, next grid.Coord) ([]vehicle.Handle, error) {
	set, _, err := t.quads.Plan(t.policy, overtaking, prev, next)
	if err != nil {
		return nil, fmt.Errorf("query %v on %v: %w", h, t.pos, err)
	}
	return t.quads.Blockers(h, set), nil
}

// Reservations returns the current slot table.
func (t *Tile) Reservations() [QuadrantCount]vehicle.Handle {
	return t.quads.Snapshot()
}

// HeldBy returns the quadrants h holds here.
func (t *Tile) HeldBy(h vehicle.Handle) QuadrantSet {
	return t.quads.HeldBy(h)
}

// IsReserved reports whether any quadrant is held.
func (t *Tile) IsReserved() bool {
	return !t.quads.IsFree()
}

// Sweep frees quadrants held by vehicles that are no longer alive.
func (t *Tile) Sweep(alive func(vehicle.Handle) bool) int {
	return t.quads.Sweep(alive)
}

// ── Policy ────────────────────────────────────────────────────────────

// Policy returns the overtaking policy.
func (t *Tile) Policy() Policy { return t.policy }

// OvertakingMode returns the overtaking mode.
func (t *Tile) OvertakingMode() OvertakingMode { return t.policy.Mode }

// SetOvertakingMode changes the mode for later requests. Existing
// reservations are kept.
func (t *Tile) SetOvertakingMode(m OvertakingMode) { t.policy.Mode = m }

// OnewayMask returns the directions vehicles may travel in under oneway mode.
func (t *Tile) OnewayMask() grid.Ribi { return t.policy.OnewayMask }

// SetOnewayMask replaces the oneway mask.
func (t *Tile) SetOnewayMask(mask grid.Ribi) { t.policy.OnewayMask = mask & grid.All }

// UpdateOnewayMask forbids the directions in mask and allows those in
// allow. Road construction calls it at intersections, where allow keeps a
// crossing direction open while the road's own backward direction closes.
func (t *Tile) UpdateOnewayMask(mask, allow grid.Ribi) {
	t.policy.OnewayMask = (t.policy.OnewayMask&^mask | allow) & grid.All
}

// PriorSetting returns the manual right-of-way setting.
func (t *Tile) PriorSetting() PriorSetting { return t.prior }

// SetPriorSetting changes the manual right-of-way setting.
func (t *Tile) SetPriorSetting(s PriorSetting) { t.prior = s }

// PriorityAxis returns the axis with right of way at this tile.
func (t *Tile) PriorityAxis() grid.Axis {
	return t.stats.PriorityAxis(t.prior)
}

// StreetFlags returns the street flags.
func (t *Tile) StreetFlags() StreetFlags { return t.flags }

// SetStreetFlags replaces the street flags.
func (t *Tile) SetStreetFlags(f StreetFlags) { t.flags = f }

// AvoidCityRoad reports whether the road must not become a city road.
func (t *Tile) AvoidCityRoad() bool { return t.flags&AvoidCityRoad != 0 }

// SetAvoidCityRoad sets or clears AvoidCityRoad.
func (t *Tile) SetAvoidCityRoad(on bool) { t.setFlag(AvoidCityRoad, on) }

// CityCarNoEntry reports whether city cars are banned.
func (t *Tile) CityCarNoEntry() bool { return t.flags&CityCarNoEntry != 0 }

// SetCityCarNoEntry sets or clears CityCarNoEntry.
func (t *Tile) SetCityCarNoEntry(on bool) { t.setFlag(CityCarNoEntry, on) }

func (t *Tile) setFlag(f StreetFlags, on bool) {
	if on {
		t.flags |= f
	} else {
		t.flags &^= f
	}
}

// ── Connectivity ──────────────────────────────────────────────────────

// RibiUnmasked returns the physical connections.
func (t *Tile) RibiUnmasked() grid.Ribi { return t.connections }

// Ribi returns the directions that can be travelled in: the physical
// connections, restricted by the oneway mask in oneway mode.
func (t *Tile) Ribi() grid.Ribi {
	if t.policy.Mode == ModeOneway {
		return t.connections & t.policy.OnewayMask
	}
	return t.connections
}

// MaskedRibi returns the connections the oneway mask forbids. It is
// empty outside oneway mode.
func (t *Tile) MaskedRibi() grid.Ribi {
	if t.policy.Mode != ModeOneway {
		return grid.None
	}
	return t.connections &^ t.policy.OnewayMask
}

// CanEnter reports whether a vehicle heading dir may drive onto the tile:
// the tile must connect back towards where it comes from and offer some
// other way out.
func (t *Tile) CanEnter(dir grid.Ribi) bool {
	if !dir.IsSingle() || !t.connections.Has(dir.Backward()) {
		return false
	}
	return t.Ribi()&^dir.Backward() != grid.None
}

// CanLeave reports whether a vehicle may leave the tile heading dir,
// ignoring reservations.
func (t *Tile) CanLeave(dir grid.Ribi) bool {
	return dir.IsSingle() && t.Ribi().Has(dir)
}

// Connect adds physical connections.
func (t *Tile) Connect(dirs grid.Ribi) { t.connections |= dirs & grid.All }

// Disconnect removes physical connections.
func (t *Tile) Disconnect(dirs grid.Ribi) { t.connections &^= dirs }

// IsIntersection reports whether three or more ways meet here.
func (t *Tile) IsIntersection() bool {
	return t.connections.Count() >= 3
}

// ── Statistics ────────────────────────────────────────────────────────

// Book adds amount to this month's counter for category and axis.
func (t *Tile) Book(amount int, c Category, a grid.Axis) {
	t.stats.Book(amount, c, a)
}

// BookDirection books amount on the axes of dir.
func (t *Tile) BookDirection(amount int, c Category, dir grid.Ribi) {
	t.stats.BookDirection(amount, c, dir)
}

// NewMonth rolls the statistics forward.
func (t *Tile) NewMonth() {
	t.stats.AdvanceMonth()
}

// Statistics returns the tile statistics.
func (t *Tile) Statistics() *Statistics { return &t.stats }

// ── Rotation ──────────────────────────────────────────────────────────

// Rotate90 applies a clockwise map rotation to the tile. height is the map
// height before rotation.
func (t *Tile) Rotate90(height int) {
	t.pos = t.pos.Rotate90(height)
	t.connections = t.connections.Rotate90()
	t.policy.OnewayMask = t.policy.OnewayMask.Rotate90()
	t.stats.swapAxes()
	switch t.prior {
	case PriorNorthSouth:
		t.prior = PriorEastWest
	case PriorEastWest:
		t.prior = PriorNorthSouth
	}
	t.quads.rotate90(t.pos)
}

// ── Persistence ───────────────────────────────────────────────────────

// State is the persisted part of a tile. Reservations are not part of it.
type State struct {
	Pos         grid.Coord     `json:"pos"`
	Connections grid.Ribi      `json:"connections"`
	Mode        OvertakingMode `json:"overtaking_mode"`
	OnewayMask  grid.Ribi      `json:"oneway_mask"`
	Flags       StreetFlags    `json:"street_flags"`
	Prior       PriorSetting   `json:"prior_direction"`
	Statistics  []MonthStats   `json:"statistics"`
}

// State captures the persisted fields.
func (t *Tile) State() State {
	return State{
		Pos:         t.pos,
		Connections: t.connections,
		Mode:        t.policy.Mode,
		OnewayMask:  t.policy.OnewayMask,
		Flags:       t.flags,
		Prior:       t.prior,
		Statistics:  t.stats.Values(),
	}
}

// Restore loads persisted fields. All reservations are freed; vehicles
// re-acquire them as they resume moving.
func (t *Tile) Restore(s State) error {
	if !s.Mode.Valid() {
		return fmt.Errorf("tile %v: invalid overtaking mode %d", s.Pos, s.Mode)
	}
	if !s.Prior.Valid() {
		return fmt.Errorf("tile %v: invalid prior direction %d", s.Pos, s.Prior)
	}
	t.pos = s.Pos
	t.connections = s.Connections & grid.All
	t.policy = Policy{Mode: s.Mode, OnewayMask: s.OnewayMask & grid.All}
	t.flags = s.Flags
	t.prior = s.Prior
	t.stats.SetValues(s.Statistics)
	t.quads = NewGrid(s.Pos, t.quads.side)
	return nil
}

// TileFromState builds a tile from persisted state.
func TileFromState(s State, cfg TileConfig) (*Tile, error) {
	t := NewTile(s.Pos, s.Connections, cfg)
	if err := t.Restore(s); err != nil {
		return nil, err
	}
	return t, nil
}

// ── Debug display ─────────────────────────────────────────────────────

// Outline describes the tile for debug overlays. The masked ribi and the
// reservation table are only included when asked for.
func (t *Tile) Outline(showMaskedRibi, showReservations bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v %s ribi=%v", t.pos, t.policy.Mode, t.Ribi())
	if showMaskedRibi && t.policy.Mode == ModeOneway {
		fmt.Fprintf(&b, " masked=%v", t.MaskedRibi())
	}
	if showReservations {
		slots := t.quads.Snapshot()
		fmt.Fprintf(&b, " reserved=[%v %v %v %v]", slots[0], slots[1], slots[2], slots[3])
	}
	return b.String()
}
