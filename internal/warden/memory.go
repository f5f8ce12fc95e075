package warden

import (
	"encoding/json"
	"log/slog"
	"os"
)

const maxRecords = 20

// CycleRecord captures what happened in a single warden cycle.
type CycleRecord struct {
	Tick      uint64 `json:"tick"`
	Action    string `json:"action"`
	Level     string `json:"level"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Rationale string `json:"rationale,omitempty"`
}

// CycleMemory keeps recent cycle records so a tile is not flipped back and
// forth on consecutive cycles.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`

	path string
}

// LoadMemory reads the memory file at path. Returns empty memory if the
// file is missing or path is empty.
func LoadMemory(path string) *CycleMemory {
	mem := &CycleMemory{path: path}
	if path == "" {
		return mem
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mem
	}
	if err := json.Unmarshal(data, mem); err != nil {
		slog.Warn("warden memory corrupted, starting fresh", "error", err)
		return &CycleMemory{path: path}
	}
	return mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save() {
	if m.path == "" {
		return
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("failed to marshal warden memory", "error", err)
		return
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		slog.Error("failed to write warden memory", "error", err)
	}
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// RecentlyEdited reports whether one of the last cycles cycles edited the
// tile at (x, y).
func (m *CycleMemory) RecentlyEdited(x, y, cycles int) bool {
	start := max(len(m.Records)-cycles, 0)
	for _, r := range m.Records[start:] {
		if r.Action != "none" && r.X == x && r.Y == y {
			return true
		}
	}
	return false
}
