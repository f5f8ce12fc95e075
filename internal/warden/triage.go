package warden

// Health holds derived diagnostic signals computed from a Snapshot.
// Runs before Decide. Deterministic and free.
type Health struct {
	TotalWaits     int     // waits on the listed tiles this month
	JammedTiles    int     // tiles at or over the wait threshold
	WaitsPerMove   float64 // since start
	AbortedPerTrip float64 // since start
	Level          string  // "JAMMED", "BUSY", "FLOWING"
}

// Triage computes a Health from the snapshot's data.
func Triage(snap *Snapshot, minWaits int) *Health {
	h := &Health{}
	for _, l := range snap.Congestion {
		h.TotalWaits += l.Waits
		if l.Waits >= minWaits {
			h.JammedTiles++
		}
	}

	st := snap.Status.Stats
	if st.Moves > 0 {
		h.WaitsPerMove = float64(st.Waits) / float64(st.Moves)
	}
	if st.Trips > 0 {
		h.AbortedPerTrip = float64(st.Aborted) / float64(st.Trips)
	}

	switch {
	case h.AbortedPerTrip > 0.25 || h.JammedTiles >= 3:
		h.Level = "JAMMED"
	case h.JammedTiles > 0 || h.WaitsPerMove > 0.5:
		h.Level = "BUSY"
	default:
		h.Level = "FLOWING"
	}
	return h
}
