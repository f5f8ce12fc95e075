package warden

import (
	"fmt"
	"log/slog"
)

var axisNames = [2]string{"north-south", "east-west"}

// Rules bound what the warden may do in one cycle.
type Rules struct {
	MinWaits int     // Waits on a tile before it is considered
	Cooldown int     // Cycles a tile is left alone after an edit
	Ratio    float64 // Non-priority waits over priority waits needed to flip an intersection
}

// DefaultRules returns the rules used by cmd/warden.
func DefaultRules() Rules {
	return Rules{MinWaits: 20, Cooldown: 3, Ratio: 2}
}

// Decision is the warden's chosen action for a cycle.
type Decision struct {
	Action    string `json:"action"` // "none", "prior", "overtaking"
	Rationale string `json:"rationale"`
	Edit      *Edit  `json:"edit,omitempty"`
}

// Decide picks zero or one edit, working down the congestion list from the
// most waited tile. At most one tile changes per cycle.
func Decide(snap *Snapshot, mem *CycleMemory, rules Rules) *Decision {
	for _, l := range snap.Congestion {
		if l.Waits < rules.MinWaits {
			break
		}
		if mem != nil && mem.RecentlyEdited(l.Pos.X, l.Pos.Y, rules.Cooldown) {
			slog.Debug("warden skipping recent edit", "x", l.Pos.X, "y", l.Pos.Y)
			continue
		}
		if l.Intersection {
			if d := flipPrior(l, rules); d != nil {
				return d
			}
			continue
		}
		if l.Mode == "prohibited" {
			mode := "twoway"
			return &Decision{
				Action:    "overtaking",
				Rationale: fmt.Sprintf("%d waits behind a no-overtaking stretch at (%d,%d)", l.Waits, l.Pos.X, l.Pos.Y),
				Edit: &Edit{
					X: l.Pos.X, Y: l.Pos.Y,
					Mode:   &mode,
					Reason: "warden: allow overtaking on a congested road",
				},
			}
		}
	}
	return &Decision{Action: "none", Rationale: "no tile over the wait threshold needs a change"}
}

// flipPrior hands priority to the other axis when its queue dominates.
func flipPrior(l TileLoad, rules Rules) *Decision {
	cur := 0
	if l.PriorityAxis == axisNames[1] {
		cur = 1
	}
	other := 1 - cur
	waiting, favoured := l.WaitsByAxis[other], l.WaitsByAxis[cur]
	if waiting < rules.MinWaits || float64(waiting) < rules.Ratio*float64(favoured) {
		return nil
	}
	prior := axisNames[other]
	return &Decision{
		Action: "prior",
		Rationale: fmt.Sprintf("%s traffic at (%d,%d) waited %d times against %d for %s",
			prior, l.Pos.X, l.Pos.Y, waiting, favoured, axisNames[cur]),
		Edit: &Edit{
			X: l.Pos.X, Y: l.Pos.Y,
			Prior:  &prior,
			Reason: "warden: give priority to the longer queue",
		},
	}
}
