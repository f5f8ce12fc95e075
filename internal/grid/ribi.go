package grid

import "strings"

// Ribi is a set of directions a tile connects to or may be entered towards.
// Diagonals are the two-bit combinations of their neighbours.
type Ribi uint8

const (
	None  Ribi = 0x00
	North Ribi = 0x01
	East  Ribi = 0x02
	South Ribi = 0x04
	West  Ribi = 0x08

	NorthEast  = North | East
	SouthEast  = South | East
	SouthWest  = South | West
	NorthWest  = North | West
	NorthSouth = North | South
	EastWest   = East | West
	All        = North | East | South | West
)

// Has reports whether every direction in d is in r.
func (r Ribi) Has(d Ribi) bool {
	return d != None && r&d == d
}

// IsSingle reports whether exactly one direction is set.
func (r Ribi) IsSingle() bool {
	return r == North || r == East || r == South || r == West
}

// IsStraight reports whether r lies on a single axis (N, S, N|S, E, W, E|W).
func (r Ribi) IsStraight() bool {
	return r != None && (r&^NorthSouth == 0 || r&^EastWest == 0)
}

// Backward returns the opposite of every direction in r.
func (r Ribi) Backward() Ribi {
	return (r<<2 | r>>2) & All
}

// Rotate90 rotates every direction clockwise: N→E→S→W→N.
func (r Ribi) Rotate90() Ribi {
	r &= All
	return (r<<1 | r>>3) & All
}

// Count returns the number of directions set.
func (r Ribi) Count() int {
	n := 0
	for _, d := range [4]Ribi{North, East, South, West} {
		if r&d != 0 {
			n++
		}
	}
	return n
}

func (r Ribi) String() string {
	if r&All == None {
		return "-"
	}
	var b strings.Builder
	for _, d := range [4]struct {
		bit  Ribi
		name byte
	}{{North, 'N'}, {East, 'E'}, {South, 'S'}, {West, 'W'}} {
		if r&d.bit != 0 {
			b.WriteByte(d.name)
		}
	}
	return b.String()
}

// ParseRibi parses the String form ("NE", "S", "-") back into a Ribi.
func ParseRibi(s string) (Ribi, bool) {
	if s == "-" || s == "" {
		return None, true
	}
	var r Ribi
	for _, c := range strings.ToUpper(s) {
		switch c {
		case 'N':
			r |= North
		case 'E':
			r |= East
		case 'S':
			r |= South
		case 'W':
			r |= West
		default:
			return None, false
		}
	}
	return r, true
}

// Axis is a traffic axis used for directional statistics and right of way.
type Axis uint8

const (
	AxisNorthSouth Axis = 0
	AxisEastWest   Axis = 1
)

// AxisCount is the number of traffic axes.
const AxisCount = 2

// Other returns the perpendicular axis.
func (a Axis) Other() Axis {
	if a == AxisNorthSouth {
		return AxisEastWest
	}
	return AxisNorthSouth
}

func (a Axis) String() string {
	switch a {
	case AxisNorthSouth:
		return "north-south"
	case AxisEastWest:
		return "east-west"
	default:
		return "unknown"
	}
}

// Axes returns the axes touched by r. A turn touches both.
func (r Ribi) Axes() []Axis {
	var axes []Axis
	if r&NorthSouth != 0 {
		axes = append(axes, AxisNorthSouth)
	}
	if r&EastWest != 0 {
		axes = append(axes, AxisEastWest)
	}
	return axes
}

// AxisOf returns the axis of a single direction. Anything touching north or
// south counts as north-south.
func AxisOf(d Ribi) Axis {
	if d&NorthSouth == 0 && d&EastWest != 0 {
		return AxisEastWest
	}
	return AxisNorthSouth
}
