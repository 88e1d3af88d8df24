// Package overseer implements the autonomous world steward. It watches
// the running world through the public API, asks the model whether an
// intervention is warranted, and acts through the admin endpoints. One
// gentle action per cycle at most; most cycles it does nothing.
package overseer

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Snapshot holds everything collected during one observation cycle.
type Snapshot struct {
	Status WorldStatus `json:"status"`
	Agents []AgentInfo `json:"agents"`
	Trades []TradeInfo `json:"trades"`
	Events []EventInfo `json:"events"`
	Goals  []string    `json:"goals"`
}

// WorldStatus mirrors GET /api/v1/status.
type WorldStatus struct {
	Name            string `json:"name"`
	Tick            uint64 `json:"tick"`
	Digest          string `json:"digest"`
	ActiveAgents    int    `json:"active_agents"`
	SuspendedAgents int    `json:"suspended_agents"`
}

// AgentInfo mirrors items from GET /api/v1/agents.
type AgentInfo struct {
	ID         uint64  `json:"id"`
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Goal       string  `json:"current_goal"`
	Wealth     uint64  `json:"wealth"`
	Reputation float64 `json:"reputation"`
	Suspended  bool    `json:"suspended"`
}

// TradeInfo mirrors items from GET /api/v1/trades.
type TradeInfo struct {
	ID           string  `json:"id"`
	Proposer     uint64  `json:"proposer"`
	Counterparty uint64  `json:"counterparty"`
	Status       string  `json:"status"`
	Fairness     float64 `json:"fairness"`
}

// EventInfo mirrors items from GET /api/v1/events.
type EventInfo struct {
	Tick    uint64 `json:"tick"`
	Kind    string `json:"kind"`
	Agent   uint64 `json:"agent"`
	Message string `json:"message"`
}

// Observer fetches world state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Observe fetches the status, agent, trade, event and goal endpoints.
func (o *Observer) Observe() (*Snapshot, error) {
	snap := &Snapshot{}

	if err := o.fetchJSON("/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON("/api/v1/agents", &snap.Agents); err != nil {
		return nil, fmt.Errorf("fetch agents: %w", err)
	}
	if err := o.fetchJSON("/api/v1/trades?limit=50", &snap.Trades); err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}
	if err := o.fetchJSON("/api/v1/events?limit=50", &snap.Events); err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	if err := o.fetchJSON("/api/v1/goals", &snap.Goals); err != nil {
		return nil, fmt.Errorf("fetch goals: %w", err)
	}

	return snap, nil
}

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
