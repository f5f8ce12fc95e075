// Road network generation using layered simplex noise.
// Roads follow a Manhattan grid; noise decides which blocks are cut, which
// streets run one way and where overtaking is banned.
package world

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/road"
)

// GenConfig holds network generation parameters.
type GenConfig struct {
	Width, Height int
	Spacing       int     // Tiles between parallel streets
	Seed          int64   // Random seed (0 = random)
	GapLevel      float64 // Segment noise below this removes the segment (0.0–1.0)
	OnewayLevel   float64 // Street noise above this makes the street one way
	ProhibitLevel float64 // Tile noise above this bans overtaking
	Tile          road.TileConfig
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Width:         48,
		Height:        48,
		Spacing:       6,
		Seed:          0,
		GapLevel:      0.30,
		OnewayLevel:   0.68,
		ProhibitLevel: 0.70,
		Tile:          road.DefaultTileConfig(),
	}
}

// SmallTestConfig returns a tiny network for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Width:         13,
		Height:        13,
		Spacing:       4,
		Seed:          42,
		GapLevel:      0.25,
		OnewayLevel:   0.70,
		ProhibitLevel: 0.72,
		Tile:          road.DefaultTileConfig(),
	}
}

// Generate creates a road network. The same seed always gives the same map.
func Generate(cfg GenConfig) *Map {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	if cfg.Spacing < 2 {
		cfg.Spacing = 2
	}

	gapNoise := opensimplex.NewNormalized(seed)
	onewayNoise := opensimplex.NewNormalized(seed + 1)
	rulesNoise := opensimplex.NewNormalized(seed + 2)

	m := NewMap(cfg.Width, cfg.Height, cfg.Tile)

	lastX := (cfg.Width - 1) / cfg.Spacing * cfg.Spacing
	lastY := (cfg.Height - 1) / cfg.Spacing * cfg.Spacing

	// Horizontal streets, built block by block. Border streets always exist
	// so the network stays connected.
	for y := 0; y <= lastY; y += cfg.Spacing {
		for x0 := 0; x0 < lastX; x0 += cfg.Spacing {
			border := y == 0 || y == lastY
			if !border && octaveNoise(gapNoise, float64(x0), float64(y), 2, 0.15, 0.5) < cfg.GapLevel {
				continue
			}
			for x := x0; x < x0+cfg.Spacing; x++ {
				m.BuildRoad(grid.Coord{X: x, Y: y}, grid.Coord{X: x + 1, Y: y})
			}
		}
	}

	// Vertical streets.
	for x := 0; x <= lastX; x += cfg.Spacing {
		for y0 := 0; y0 < lastY; y0 += cfg.Spacing {
			border := x == 0 || x == lastX
			if !border && octaveNoise(gapNoise, float64(x)+0.5, float64(y0)+0.5, 2, 0.15, 0.5) < cfg.GapLevel {
				continue
			}
			for y := y0; y < y0+cfg.Spacing; y++ {
				m.BuildRoad(grid.Coord{X: x, Y: y}, grid.Coord{X: x, Y: y + 1})
			}
		}
	}

	// Interior streets may run one way, alternating direction per street.
	for i, y := 1, cfg.Spacing; y < lastY; i, y = i+1, y+cfg.Spacing {
		if octaveNoise(onewayNoise, 0, float64(y), 2, 0.2, 0.5) > cfg.OnewayLevel {
			dir := grid.East
			if i%2 == 1 {
				dir = grid.West
			}
			makeOneway(m, dir, func(c grid.Coord) bool { return c.Y == y })
		}
	}
	for i, x := 1, cfg.Spacing; x < lastX; i, x = i+1, x+cfg.Spacing {
		if octaveNoise(onewayNoise, float64(x), 0, 2, 0.2, 0.5) > cfg.OnewayLevel {
			dir := grid.North
			if i%2 == 1 {
				dir = grid.South
			}
			makeOneway(m, dir, func(c grid.Coord) bool { return c.X == x })
		}
	}

	// Straight stretches near noisy spots ban overtaking.
	for _, c := range m.Coords() {
		t := m.Tiles[c]
		if t.IsIntersection() || t.OvertakingMode() != road.ModeTwoway {
			continue
		}
		if octaveNoise(rulesNoise, float64(c.X), float64(c.Y), 3, 0.12, 0.5) > cfg.ProhibitLevel {
			t.SetOvertakingMode(road.ModeProhibited)
		}
	}

	return m
}

// makeOneway turns the straight tiles of one street into a oneway road
// heading dir. Intersections keep two-way traffic.
func makeOneway(m *Map, dir grid.Ribi, onStreet func(grid.Coord) bool) {
	for c, t := range m.Tiles {
		if !onStreet(c) || t.IsIntersection() || !t.RibiUnmasked().IsStraight() {
			continue
		}
		t.SetOvertakingMode(road.ModeOneway)
		t.UpdateOnewayMask(dir.Backward(), grid.None)
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// ModeCounts returns a summary of overtaking mode distribution.
func ModeCounts(m *Map) map[road.OvertakingMode]int {
	counts := make(map[road.OvertakingMode]int)
	for _, t := range m.Tiles {
		counts[t.OvertakingMode()]++
	}
	return counts
}
