package road

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/talgya/mini-roads/internal/grid"
	"github.com/talgya/mini-roads/internal/vehicle"
)

var (
	// ErrInvalidDirection means the from/to positions do not describe a move
	// through the tile. It is a caller bug and never retried.
	ErrInvalidDirection = errors.New("invalid direction")

	// ErrNoVehicle means a reservation was requested with the zero handle.
	ErrNoVehicle = errors.New("no vehicle")
)

// Quadrant is one of the four reservable sub-regions of a tile.
//
//	      N
//	  ---------
//	 |  0 | 1  |
//	W|----|----|E
//	 |  2 | 3  |
//	  ---------
//	      S
type Quadrant uint8

const (
	QuadrantNW Quadrant = 0
	QuadrantNE Quadrant = 1
	QuadrantSW Quadrant = 2
	QuadrantSE Quadrant = 3
)

// QuadrantCount is the number of quadrants per tile.
const QuadrantCount = 4

// QuadrantSet is a set of quadrants.
type QuadrantSet uint8

// SetOf builds a set from quadrants.
func SetOf(qs ...Quadrant) QuadrantSet {
	var s QuadrantSet
	for _, q := range qs {
		s |= 1 << q
	}
	return s
}

// Has reports whether q is in the set.
func (s QuadrantSet) Has(q Quadrant) bool {
	return s&(1<<q) != 0
}

// Len returns the number of quadrants in the set.
func (s QuadrantSet) Len() int {
	n := 0
	for q := Quadrant(0); q < QuadrantCount; q++ {
		if s.Has(q) {
			n++
		}
	}
	return n
}

func (s QuadrantSet) String() string {
	parts := make([]string, 0, QuadrantCount)
	for q := Quadrant(0); q < QuadrantCount; q++ {
		if s.Has(q) {
			parts = append(parts, fmt.Sprint(uint8(q)))
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// TrafficSide selects which side of the road the default lane is on.
type TrafficSide uint8

const (
	LeftHand  TrafficSide = iota // Default lane on the left of the heading
	RightHand                    // Default lane on the right of the heading
)

func (s TrafficSide) String() string {
	if s == RightHand {
		return "right"
	}
	return "left"
}

// laneQuadrants returns the entry and exit quadrant of the lane heading in
// dir, on the left or right side of the heading.
func laneQuadrants(dir grid.Ribi, left bool) [2]Quadrant {
	switch dir {
	case grid.North:
		if left {
			return [2]Quadrant{QuadrantSW, QuadrantNW}
		}
		return [2]Quadrant{QuadrantSE, QuadrantNE}
	case grid.South:
		if left {
			return [2]Quadrant{QuadrantNE, QuadrantSE}
		}
		return [2]Quadrant{QuadrantNW, QuadrantSW}
	case grid.East:
		if left {
			return [2]Quadrant{QuadrantNW, QuadrantNE}
		}
		return [2]Quadrant{QuadrantSW, QuadrantSE}
	default: // grid.West
		if left {
			return [2]Quadrant{QuadrantSE, QuadrantSW}
		}
		return [2]Quadrant{QuadrantNE, QuadrantNW}
	}
}

// Move describes a pass of one vehicle through a tile.
type Move struct {
	Entry grid.Ribi // Heading when entering the tile
	Exit  grid.Ribi // Heading when leaving the tile
}

// Travel returns the direction the vehicle goes in, used for oneway checks.
func (m Move) Travel() grid.Ribi {
	return m.Exit
}

// MoveThrough derives the move through pos for a vehicle coming from prev
// and heading to next. prev == pos means the vehicle starts on the tile,
// next == pos that it stops on it; both cannot hold at once.
func MoveThrough(pos, prev, next grid.Coord) (Move, error) {
	var m Move
	var okIn, okOut bool
	if prev != pos {
		if m.Entry, okIn = grid.DirectionBetween(prev, pos); !okIn {
			return Move{}, fmt.Errorf("%w: %v is not adjacent to %v", ErrInvalidDirection, prev, pos)
		}
	}
	if next != pos {
		if m.Exit, okOut = grid.DirectionBetween(pos, next); !okOut {
			return Move{}, fmt.Errorf("%w: %v is not adjacent to %v", ErrInvalidDirection, next, pos)
		}
	}
	switch {
	case !okIn && !okOut:
		return Move{}, fmt.Errorf("%w: no movement through %v", ErrInvalidDirection, pos)
	case !okIn:
		m.Entry = m.Exit
	case !okOut:
		m.Exit = m.Entry
	}
	return m, nil
}

// Quadrants returns the quadrants a move crosses on the given lane:
// two going straight, one for a near-side turn, three for a far-side turn
// and all four for a U-turn.
func (m Move) Quadrants(lane Lane, side TrafficSide) QuadrantSet {
	left := (side == LeftHand) != (lane == PassingLane)
	in := laneQuadrants(m.Entry, left)
	out := laneQuadrants(m.Exit, left)

	switch {
	case m.Entry == m.Exit:
		return SetOf(in[0], in[1])
	case m.Exit == m.Entry.Backward():
		return SetOf(in[0], in[1], out[0], out[1])
	case out[1] == in[0]:
		return SetOf(in[0])
	case in[1] == out[0]:
		return SetOf(in[0], in[1], out[1])
	default:
		return SetOf(in[0], in[1], out[0], out[1])
	}
}

// Grid is the four-slot ownership table of one tile. Each slot is free or
// held by exactly one vehicle handle. Reservation slots are runtime state
// and never persisted.
type Grid struct {
	pos   grid.Coord
	side  TrafficSide
	slots [QuadrantCount]vehicle.Handle
}

// NewGrid creates an all-free grid for the tile at pos.
func NewGrid(pos grid.Coord, side TrafficSide) Grid {
	return Grid{pos: pos, side: side}
}

// Plan computes the quadrants a request needs and whether the policy admits
// it, without looking at occupancy.
func (g *Grid) Plan(p Policy, overtaking bool, prev, next grid.Coord) (QuadrantSet, Denial, error) {
	m, err := MoveThrough(g.pos, prev, next)
	if err != nil {
		return 0, Admitted, err
	}
	set := m.Quadrants(p.Lane(overtaking), g.side)
	return set, p.Admit(m.Travel(), overtaking), nil
}

// Reserve grants every quadrant the move needs to h, or none of them.
// Quadrants h already holds count as granted. The Denial explains a false
// result; err is set only for malformed requests.
func (g *Grid) Reserve(p Policy, h vehicle.Handle, overtaking bool, prev, next grid.Coord) (bool, Denial, error) {
	if h.IsZero() {
		return false, Admitted, ErrNoVehicle
	}
	set, denial, err := g.Plan(p, overtaking, prev, next)
	if err != nil {
		return false, Admitted, err
	}
	if denial != Admitted {
		return false, denial, nil
	}
	if !g.Acquire(h, set) {
		return false, DeniedOccupied, nil
	}
	return true, Admitted, nil
}

// Acquire grants set to h atomically. It fails without side effects if any
// quadrant in set is held by another vehicle.
func (g *Grid) Acquire(h vehicle.Handle, set QuadrantSet) bool {
	if g.HeldByOthers(h, set) {
		return false
	}
	for q := Quadrant(0); q < QuadrantCount; q++ {
		if set.Has(q) {
			g.slots[q] = h
		}
	}
	return true
}

// HeldByOthers reports whether any quadrant in set is held by a vehicle other than h.
func (g *Grid) HeldByOthers(h vehicle.Handle, set QuadrantSet) bool {
	for q := Quadrant(0); q < QuadrantCount; q++ {
		if set.Has(q) && !g.slots[q].IsZero() && g.slots[q] != h {
			return true
		}
	}
	return false
}

// Blockers returns the vehicles other than h holding a quadrant in set,
// each once, in quadrant order.
func (g *Grid) Blockers(h vehicle.Handle, set QuadrantSet) []vehicle.Handle {
	var out []vehicle.Handle
	for q := Quadrant(0); q < QuadrantCount; q++ {
		if !set.Has(q) {
			continue
		}
		if o := g.Holder(q); !o.IsZero() && o != h && !lo.Contains(out, o) {
			out = append(out, o)
		}
	}
	return out
}

// IsReservedByOthers is the read-only feasibility check of Reserve: it
// reports whether a quadrant of the move is held by someone other than h.
// The policy's admissibility rules are not applied.
func (g *Grid) IsReservedByOthers(p Policy, h vehicle.Handle, overtaking bool, prev, next grid.Coord) (bool, error) {
	set, _, err := g.Plan(p, overtaking, prev, next)
	if err != nil {
		return false, err
	}
	return g.HeldByOthers(h, set), nil
}

// Unreserve releases every quadrant held by h. It reports whether anything
// was released.
func (g *Grid) Unreserve(h vehicle.Handle) bool {
	if h.IsZero() {
		return false
	}
	released := false
	for q := range g.slots {
		if g.slots[q] == h {
			g.slots[q] = vehicle.Handle{}
			released = true
		}
	}
	return released
}

// UnreserveAll frees every quadrant.
func (g *Grid) UnreserveAll() {
	g.slots = [QuadrantCount]vehicle.Handle{}
}

// Holder returns the handle holding q, or the zero handle.
func (g *Grid) Holder(q Quadrant) vehicle.Handle {
	return g.slots[q]
}

// HeldBy returns the quadrants h holds.
func (g *Grid) HeldBy(h vehicle.Handle) QuadrantSet {
	var s QuadrantSet
	if h.IsZero() {
		return s
	}
	for q := range g.slots {
		if g.slots[q] == h {
			s |= 1 << q
		}
	}
	return s
}

// Held returns the set of occupied quadrants.
func (g *Grid) Held() QuadrantSet {
	var s QuadrantSet
	for q := range g.slots {
		if !g.slots[q].IsZero() {
			s |= 1 << q
		}
	}
	return s
}

// IsFree reports whether no quadrant is held.
func (g *Grid) IsFree() bool {
	return g.Held() == 0
}

// Snapshot returns a copy of the slot table.
func (g *Grid) Snapshot() [QuadrantCount]vehicle.Handle {
	return g.slots
}

// Sweep frees slots whose holder is no longer alive and returns how many
// were freed. Holders that went away without unreserving otherwise block
// the tile indefinitely.
func (g *Grid) Sweep(alive func(vehicle.Handle) bool) int {
	freed := 0
	for q := range g.slots {
		if h := g.slots[q]; !h.IsZero() && !alive(h) {
			g.slots[q] = vehicle.Handle{}
			freed++
		}
	}
	return freed
}

// rotate90 moves every slot one quadrant clockwise and relocates the grid.
func (g *Grid) rotate90(pos grid.Coord) {
	old := g.slots
	g.slots[QuadrantNE] = old[QuadrantNW]
	g.slots[QuadrantSE] = old[QuadrantNE]
	g.slots[QuadrantSW] = old[QuadrantSE]
	g.slots[QuadrantNW] = old[QuadrantSW]
	g.pos = pos
}
