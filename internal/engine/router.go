package engine

import (
	"math/rand"

	"github.com/samber/lo"

	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/vehicle"
	"github.com/talgya/mini-roads/internal/world"
)

// Router picks the tile a vehicle heads for after its next tile.
// Returning v.Next itself makes the vehicle stop there and end its trip.
type Router interface {
	Onward(m *world.Map, v *vehicle.Vehicle) grid.Coord
}

// Exits returns the directions a vehicle may leave c in, towards a tile that
// accepts it, in N, E, S, W order.
func Exits(m *world.Map, c grid.Coord) []grid.Ribi {
	t := m.Get(c)
	if t == nil {
		return nil
	}
	var out []grid.Ribi
	for _, n := range grid.NeighborDirections {
		if !t.CanLeave(n.Dir) {
			continue
		}
		if nt := m.Get(c.Neighbor(n.Dir)); nt != nil && nt.CanEnter(n.Dir) {
			out = append(out, n.Dir)
		}
	}
	return out
}

// RandomRouter wanders: it picks a random way on at every tile, turns around
// only at dead ends and stops once the trip length is used up.
type RandomRouter struct {
	Rand *rand.Rand
}

func (r *RandomRouter) Onward(m *world.Map, v *vehicle.Vehicle) grid.Coord {
	if v.TripLength > 0 && v.Moves+1 >= v.TripLength {
		return v.Next
	}
	heading, ok := grid.DirectionBetween(v.Pos, v.Next)
	if !ok {
		return v.Next
	}
	exits := Exits(m, v.Next)
	forward := lo.Filter(exits, func(d grid.Ribi, _ int) bool {
		return d != heading.Backward()
	})
	switch {
	case len(forward) > 0:
		return v.Next.Neighbor(forward[r.Rand.Intn(len(forward))])
	case len(exits) > 0:
		return v.Next.Neighbor(exits[0])
	default:
		return v.Next
	}
}

// StraightRouter keeps the current heading and stops where it cannot.
type StraightRouter struct{}

func (StraightRouter) Onward(m *world.Map, v *vehicle.Vehicle) grid.Coord {
	heading, ok := grid.DirectionBetween(v.Pos, v.Next)
	if !ok || !lo.Contains(Exits(m, v.Next), heading) {
		return v.Next
	}
	return v.Next.Neighbor(heading)
}
