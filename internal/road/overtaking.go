package road

import (
	"fmt"
	"strings"

	"github.com/talgya/mini-roads/internal/grid"
)

// OvertakingMode is a road's overtaking rule. The ordinal is persisted.
type OvertakingMode uint8

const (
	ModeHalt        OvertakingMode = iota // Vehicles may stop on the passing lane
	ModeOneway                            // One-way road, entry restricted by the oneway mask
	ModeTwoway                            // Ordinary two-way road
	ModeLoadingOnly                       // Overtaking a loading vehicle only
	ModeProhibited                        // No overtaking at all
	ModeInverted                          // Vehicles drive on the passing lane only
)

var modeNames = [...]string{"halt", "oneway", "twoway", "loading_only", "prohibited", "inverted"}

// Valid reports whether m is a known mode.
func (m OvertakingMode) Valid() bool {
	return int(m) < len(modeNames)
}

func (m OvertakingMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
	return modeNames[m]
}

// ParseOvertakingMode parses a mode name as produced by String.
func ParseOvertakingMode(s string) (OvertakingMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if name == s {
			return OvertakingMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown overtaking mode %q", s)
}

// Lane is the side of the road a request occupies.
type Lane uint8

const (
	DefaultLane Lane = iota
	PassingLane
)

func (l Lane) String() string {
	if l == PassingLane {
		return "passing"
	}
	return "default"
}

// Denial is the reason a reservation request is refused.
type Denial uint8

const (
	Admitted           Denial = iota
	DeniedOvertaking          // Overtaking is prohibited on this tile
	DeniedOneway              // Travel direction is outside the oneway mask
	DeniedOccupied            // Another vehicle holds a needed quadrant
)

func (d Denial) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case DeniedOvertaking:
		return "overtaking prohibited"
	case DeniedOneway:
		return "oneway"
	case DeniedOccupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// Policy parameterizes how a tile interprets reservation requests.
// Changing it affects later requests only; existing grants stay put.
type Policy struct {
	Mode OvertakingMode `json:"mode"`

	// OnewayMask holds the directions vehicles may travel in. It is only
	// consulted in ModeOneway and kept otherwise.
	OnewayMask grid.Ribi `json:"oneway_mask"`
}

// DefaultPolicy is the policy of a freshly built road.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeTwoway, OnewayMask: grid.All}
}

// Admit decides whether a request travelling in dir is admissible before
// any quadrant is looked at.
func (p Policy) Admit(dir grid.Ribi, overtaking bool) Denial {
	if overtaking && p.Mode == ModeProhibited {
		return DeniedOvertaking
	}
	if p.Mode == ModeOneway && !p.OnewayMask.Has(dir) {
		return DeniedOneway
	}
	return Admitted
}

// Lane returns the lane a request occupies. Inverted roads swap the lanes.
func (p Policy) Lane(overtaking bool) Lane {
	passing := overtaking
	if p.Mode == ModeInverted {
		passing = !passing
	}
	if passing {
		return PassingLane
	}
	return DefaultLane
}

// AllowsOvertaking reports whether any overtaking request can be admitted.
func (p Policy) AllowsOvertaking() bool {
	return p.Mode != ModeProhibited
}

// AllowsStopOnPassingLane reports whether vehicles may halt on the passing lane.
func (p Policy) AllowsStopOnPassingLane() bool {
	return p.Mode == ModeHalt
}

// OvertakeLoadingOnly reports whether only loading vehicles may be overtaken.
// The movement side decides that; the tile only publishes the rule.
func (p Policy) OvertakeLoadingOnly() bool {
	return p.Mode == ModeLoadingOnly
}
