package warden

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Edit is the payload for POST /api/v1/tile/policy. Nil fields are left
// unchanged on the tile.
type Edit struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Mode   *string `json:"mode,omitempty"`
	Prior  *string `json:"prior,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// EditResult is the tile view returned by the policy endpoint.
type EditResult struct {
	X            int    `json:"x"`
	Y            int    `json:"y"`
	Mode         string `json:"mode"`
	Prior        string `json:"prior"`
	PriorityAxis string `json:"priority_axis"`
}

// Actor executes edits via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Act sends an edit to POST /api/v1/tile/policy.
func (a *Actor) Act(edit *Edit) (*EditResult, error) {
	body, err := json.Marshal(edit)
	if err != nil {
		return nil, fmt.Errorf("marshal edit: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.BaseURL+"/api/v1/tile/policy", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST tile policy: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edit failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var result EditResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
