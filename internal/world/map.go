// Package world provides the road network map: road tiles keyed by grid
// position, network generation, and whole-map operations such as rotation,
// the monthly statistics roll and stale reservation sweeps.
package world

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/road"
	"github.com/talgya/mini-roads/internal/vehicle"
)

// ErrNoTile means there is no road tile at a position.
var ErrNoTile = errors.New("no road tile")

// Map holds the road network.
type Map struct {
	Tiles  map[grid.Coord]*road.Tile `json:"-"` // All road tiles keyed by position
	Width  int                       `json:"width"`
	Height int                       `json:"height"`
	Config road.TileConfig           `json:"-"`
}

// NewMap creates an empty map.
func NewMap(width, height int, cfg road.TileConfig) *Map {
	return &Map{
		Tiles:  make(map[grid.Coord]*road.Tile),
		Width:  width,
		Height: height,
		Config: cfg,
	}
}

// Get returns the tile at c, or nil.
func (m *Map) Get(c grid.Coord) *road.Tile {
	return m.Tiles[c]
}

// Lookup returns the tile at c or ErrNoTile.
func (m *Map) Lookup(c grid.Coord) (*road.Tile, error) {
	t := m.Tiles[c]
	if t == nil {
		return nil, fmt.Errorf("%w at %v", ErrNoTile, c)
	}
	return t, nil
}

// Set places a tile at its own position.
func (m *Map) Set(t *road.Tile) {
	m.Tiles[t.Pos()] = t
}

// Remove deletes the tile at c, freeing its reservations and cutting the
// neighbours' connections towards it.
func (m *Map) Remove(c grid.Coord) bool {
	t := m.Tiles[c]
	if t == nil {
		return false
	}
	t.UnreserveAll()
	for _, n := range grid.NeighborDirections {
		if nt := m.Get(c.Neighbor(n.Dir)); nt != nil {
			nt.Disconnect(n.Dir.Backward())
		}
	}
	delete(m.Tiles, c)
	return true
}

// InBounds reports whether c lies on the map.
func (m *Map) InBounds(c grid.Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < m.Width && c.Y < m.Height
}

// BuildRoad connects two adjacent positions, creating tiles as needed.
func (m *Map) BuildRoad(a, b grid.Coord) error {
	dir, ok := grid.DirectionBetween(a, b)
	if !ok {
		return fmt.Errorf("build road %v-%v: not adjacent", a, b)
	}
	if !m.InBounds(a) || !m.InBounds(b) {
		return fmt.Errorf("build road %v-%v: out of bounds", a, b)
	}
	m.ensure(a).Connect(dir)
	m.ensure(b).Connect(dir.Backward())
	return nil
}

func (m *Map) ensure(c grid.Coord) *road.Tile {
	t := m.Tiles[c]
	if t == nil {
		t = road.NewTile(c, grid.None, m.Config)
		m.Tiles[c] = t
	}
	return t
}

// TileCount returns the number of road tiles.
func (m *Map) TileCount() int {
	return len(m.Tiles)
}

// Coords returns all tile positions in row-major order, for deterministic
// iteration.
func (m *Map) Coords() []grid.Coord {
	coords := lo.Keys(m.Tiles)
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Y != coords[j].Y {
			return coords[i].Y < coords[j].Y
		}
		return coords[i].X < coords[j].X
	})
	return coords
}

// Intersections returns the positions of tiles where three or more ways meet.
func (m *Map) Intersections() []grid.Coord {
	return lo.Filter(m.Coords(), func(c grid.Coord, _ int) bool {
		return m.Tiles[c].IsIntersection()
	})
}

// NewMonth rolls every tile's statistics forward.
func (m *Map) NewMonth() {
	for _, t := range m.Tiles {
		t.NewMonth()
	}
}

// Sweep frees reservations held by vehicles that are no longer alive.
func (m *Map) Sweep(alive func(vehicle.Handle) bool) int {
	freed := 0
	for _, c := range m.Coords() {
		freed += m.Tiles[c].Sweep(alive)
	}
	return freed
}

// ReservedTiles returns how many tiles have at least one reserved quadrant.
func (m *Map) ReservedTiles() int {
	return lo.CountBy(lo.Values(m.Tiles), func(t *road.Tile) bool {
		return t.IsReserved()
	})
}

// Rotate90 rotates the whole map clockwise. Width and height swap.
func (m *Map) Rotate90() {
	rotated := make(map[grid.Coord]*road.Tile, len(m.Tiles))
	for _, t := range m.Tiles {
		t.Rotate90(m.Height)
		rotated[t.Pos()] = t
	}
	m.Tiles = rotated
	m.Width, m.Height = m.Height, m.Width
}

// States returns the persisted state of every tile in row-major order.
func (m *Map) States() []road.State {
	return lo.Map(m.Coords(), func(c grid.Coord, _ int) road.State {
		return m.Tiles[c].State()
	})
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(%dx%d, tiles=%d)", m.Width, m.Height, m.TileCount())
}
