// Package warden implements the autonomous road steward.
// It observes congestion via the API, decides on policy edits by rule,
// and acts via the admin tile policy endpoint.
package warden

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Snapshot holds all data collected during an observation cycle.
type Snapshot struct {
	Status     NetworkStatus `json:"status"`
	Congestion []TileLoad    `json:"congestion"`
}

// NetworkStatus mirrors GET /api/v1/status.
type NetworkStatus struct {
	Name          string  `json:"name"`
	Tick          uint64  `json:"tick"`
	Month         int     `json:"month"`
	SimTime       string  `json:"sim_time"`
	Speed         float64 `json:"speed"`
	Running       bool    `json:"running"`
	Tiles         int     `json:"tiles"`
	Intersections int     `json:"intersections"`
	ReservedTiles int     `json:"reserved_tiles"`
	Stats         struct {
		Vehicles int    `json:"vehicles"`
		Moves    uint64 `json:"moves"`
		Waits    uint64 `json:"waits"`
		Yields   uint64 `json:"yields"`
		Trips    uint64 `json:"trips"`
		Aborted  uint64 `json:"aborted"`
	} `json:"stats"`
}

// TileLoad mirrors items from GET /api/v1/congestion.
type TileLoad struct {
	Pos struct {
		X int `json:"x"`
		Y int `json:"y"`
	} `json:"pos"`
	Waits        int      `json:"waits"`
	WaitsByAxis  [2]int   `json:"waits_by_axis"` // north-south, east-west
	Traffic      [2]int64 `json:"traffic"`
	Mode         string   `json:"mode"`
	Prior        string   `json:"prior"`
	PriorityAxis string   `json:"priority_axis"`
	Intersection bool     `json:"intersection"`
}

// Observer fetches network state from the API.
type Observer struct {
	BaseURL    string
	Limit      int // Congested tiles to fetch per cycle
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		Limit:   20,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches status and congestion and returns a Snapshot.
func (o *Observer) Observe() (*Snapshot, error) {
	snap := &Snapshot{}

	if err := o.fetchJSON("/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	var congestion struct {
		Tiles []TileLoad `json:"tiles"`
	}
	if err := o.fetchJSON(fmt.Sprintf("/api/v1/congestion?limit=%d", o.Limit), &congestion); err != nil {
		return nil, fmt.Errorf("fetch congestion: %w", err)
	}
	snap.Congestion = congestion.Tiles

	return snap, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(path string, target any) error {
	resp, err := o.HTTPClient.Get(o.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
