package warden

import (
	"fmt"
	"log/slog"
)

// RunCycle executes one observe, decide, act cycle and records it in mem.
func RunCycle(observer *Observer, actor *Actor, mem *CycleMemory, rules Rules) (*Decision, error) {
	slog.Info("warden cycle starting")

	snap, err := observer.Observe()
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}
	health := Triage(snap, rules.MinWaits)
	slog.Info("observation complete",
		"tick", snap.Status.Tick,
		"vehicles", snap.Status.Stats.Vehicles,
		"jammed_tiles", health.JammedTiles,
		"waits_per_move", fmt.Sprintf("%.2f", health.WaitsPerMove),
		"level", health.Level,
	)

	decision := Decide(snap, mem, rules)
	slog.Info("decision made", "action", decision.Action, "rationale", decision.Rationale)

	rec := CycleRecord{Tick: snap.Status.Tick, Action: decision.Action, Level: health.Level, Rationale: decision.Rationale}
	if decision.Edit == nil {
		mem.Record(rec)
		mem.Save()
		return decision, nil
	}

	result, err := actor.Act(decision.Edit)
	if err != nil {
		return decision, fmt.Errorf("act: %w", err)
	}
	rec.X, rec.Y = decision.Edit.X, decision.Edit.Y
	mem.Record(rec)
	mem.Save()

	slog.Info("edit applied",
		"x", result.X,
		"y", result.Y,
		"mode", result.Mode,
		"prior", result.Prior,
		"priority_axis", result.PriorityAxis,
	)
	return decision, nil
}
