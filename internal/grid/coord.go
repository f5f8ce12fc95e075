// Package grid provides the square tile grid, direction bits and traffic axes.
// North is towards Y-1, east towards X+1.
package grid

import "fmt"

// Coord is a tile position on the road grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// NeighborDirections lists the four orthogonal step offsets, clockwise from north.
var NeighborDirections = [4]struct {
	Dir    Ribi
	DX, DY int
}{
	{North, 0, -1},
	{East, 1, 0},
	{South, 0, 1},
	{West, -1, 0},
}

// Neighbor returns the coordinate one step in the given single direction.
// Non-single directions return c unchanged.
func (c Coord) Neighbor(d Ribi) Coord {
	for _, n := range NeighborDirections {
		if n.Dir == d {
			return Coord{X: c.X + n.DX, Y: c.Y + n.DY}
		}
	}
	return c
}

// Neighbors returns the four adjacent coordinates, clockwise from north.
func (c Coord) Neighbors() [4]Coord {
	var result [4]Coord
	for i, n := range NeighborDirections {
		result[i] = Coord{X: c.X + n.DX, Y: c.Y + n.DY}
	}
	return result
}

// DirectionBetween returns the single direction of the step from -> to.
// ok is false when the coordinates are equal or not orthogonally adjacent.
func DirectionBetween(from, to Coord) (Ribi, bool) {
	dx := to.X - from.X
	dy := to.Y - from.Y
	for _, n := range NeighborDirections {
		if n.DX == dx && n.DY == dy {
			return n.Dir, true
		}
	}
	return None, false
}

// Rotate90 rotates the coordinate clockwise inside a map of the given height.
// A map of width W and height H becomes one of width H and height W.
func (c Coord) Rotate90(height int) Coord {
	return Coord{X: height - 1 - c.Y, Y: c.X}
}
