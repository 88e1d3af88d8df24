// Package api provides the HTTP API for observing and steering the world.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ellory/everworld/internal/agents"
	"github.com/ellory/everworld/internal/memory"
	"github.com/ellory/everworld/internal/skills"
	"github.com/ellory/everworld/internal/world"
)

// Server serves the world state over HTTP.
type Server struct {
	Coord      *world.Coordinator
	Lifecycles map[world.AgentID]*agents.Lifecycle
	Registry   *skills.Registry
	Memories   *memory.Store
	Bridge     http.Handler // external game-client WebSocket, optional
	Port       int
	AdminKey   string // Bearer token for POST endpoints. Empty = POST disabled.

	hub streamHub
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	// Memory retrieval runs an embedding scan per request; keep it bounded.
	queryLimiter := NewRateLimiter(120, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only — anyone can check in on the world).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", RateLimitMiddleware(queryLimiter, s.handleAgentRoutes))
	mux.HandleFunc("/api/v1/trades", s.handleTrades)
	mux.HandleFunc("/api/v1/prices", s.handlePrices)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/resources", s.handleResources)
	mux.HandleFunc("/api/v1/goals", s.handleGoals)

	// Live tick stream (WebSocket).
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// External game client bridge.
	if s.Bridge != nil {
		mux.Handle("/api/v1/bridge", s.Bridge)
	}

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		handler := corsMiddleware(mux)
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request carries the admin token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires bearer token auth on POST requests. GET passes
// through for endpoints that answer both methods.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no EVERWORLD_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	active := 0
	suspended := 0
	for _, id := range s.Coord.AgentIDs() {
		if s.Coord.IsSuspended(id) {
			suspended++
		} else {
			active++
		}
	}
	writeJSON(w, map[string]any{
		"name":             "everworld",
		"tick":             s.Coord.Tick(),
		"digest":           s.Coord.Digest(),
		"active_agents":    active,
		"suspended_agents": suspended,
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	type agentSummary struct {
		ID         world.AgentID `json:"id"`
		Name       string        `json:"name"`
		State      string        `json:"state"`
		Goal       string        `json:"current_goal"`
		Wealth     uint64        `json:"wealth"`
		Reputation float32       `json:"reputation"`
		Suspended  bool          `json:"suspended"`
	}

	result := []agentSummary{}
	for _, id := range s.Coord.AgentIDs() {
		state, wealth, ok := s.Coord.Snapshot(id)
		if !ok {
			continue
		}
		summary := agentSummary{
			ID:         id,
			Name:       state.Name,
			Wealth:     wealth,
			Reputation: state.Reputation,
			Suspended:  s.Coord.IsSuspended(id),
		}
		if lc, ok := s.Lifecycles[id]; ok {
			summary.State = string(lc.Agent().State())
			summary.Goal = lc.Agent().Goal().Name
		}
		result = append(result, summary)
	}
	writeJSON(w, result)
}

// handleAgentRoutes serves /agent/:id plus its sub-resources
// (/memories, /skills) and the admin verbs (/suspend, /resume, /goal).
func (s *Server) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 5 || parts[4] == "" {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}
	id64, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	id := world.AgentID(id64)
	if _, _, ok := s.Coord.Snapshot(id); !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	if len(parts) >= 6 && parts[5] != "" {
		switch parts[5] {
		case "memories":
			s.handleAgentMemories(w, r, id)
		case "skills":
			s.handleAgentSkills(w, id)
		case "suspend":
			s.adminOnly(func(w http.ResponseWriter, r *http.Request) {
				s.handleSuspend(w, r, id, true)
			})(w, r)
		case "resume":
			s.adminOnly(func(w http.ResponseWriter, r *http.Request) {
				s.handleSuspend(w, r, id, false)
			})(w, r)
		case "goal":
			s.adminOnly(func(w http.ResponseWriter, r *http.Request) {
				s.handleSetGoal(w, r, id)
			})(w, r)
		default:
			http.Error(w, "unknown agent resource", http.StatusNotFound)
		}
		return
	}

	s.handleAgentDetail(w, id)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, id world.AgentID) {
	state, wealth, _ := s.Coord.Snapshot(id)

	result := map[string]any{
		"id":         state.ID,
		"name":       state.Name,
		"position":   state.Pos,
		"inventory":  state.Inventory,
		"vitals":     state.Vitals,
		"wealth":     wealth,
		"reputation": state.Reputation,
		"suspended":  s.Coord.IsSuspended(id),
	}
	if lc, ok := s.Lifecycles[id]; ok {
		a := lc.Agent()
		result["state"] = a.State()
		result["current_goal"] = a.Goal()
		result["relationships"] = a.Relationships()
	}
	result["skills"] = s.skillViews(id, false)

	writeJSON(w, result)
}

func (s *Server) handleAgentMemories(w http.ResponseWriter, r *http.Request, id world.AgentID) {
	limit := queryLimit(r, 20, 200)
	if q := r.URL.Query().Get("q"); q != "" {
		writeJSON(w, s.Memories.Query(uint64(id), q, limit, s.Coord.Tick()))
		return
	}
	writeJSON(w, s.Memories.Recent(uint64(id), limit))
}

func (s *Server) handleAgentSkills(w http.ResponseWriter, id world.AgentID) {
	writeJSON(w, s.skillViews(id, true))
}

func (s *Server) skillViews(id world.AgentID, withBody bool) []map[string]any {
	result := []map[string]any{}
	for _, sk := range s.Registry.List(id) {
		view := map[string]any{
			"name":         sk.Name(),
			"description":  sk.Description(),
			"success_rate": sk.SuccessRate(),
			"uses":         sk.Uses(),
			"builtin":      sk.Builtin(),
			"produces":     sk.Produces(),
		}
		if withBody {
			view["body"] = sk.Body()
		}
		result = append(result, view)
	}
	return result
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request, id world.AgentID, suspend bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if suspend {
		s.Coord.Suspend(id)
	} else {
		s.Coord.Resume(id)
	}
	slog.Info("agent suspension changed", "agent", id, "suspended", suspend)
	writeJSON(w, map[string]any{"id": id, "suspended": suspend})
}

func (s *Server) handleSetGoal(w http.ResponseWriter, r *http.Request, id world.AgentID) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Goal string `json:"goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	lc, ok := s.Lifecycles[id]
	if !ok {
		http.Error(w, "agent has no lifecycle", http.StatusNotFound)
		return
	}
	if !lc.Agent().SetGoal(req.Goal) {
		http.Error(w, fmt.Sprintf("unknown goal %q", req.Goal), http.StatusBadRequest)
		return
	}
	slog.Info("goal pinned", "agent", id, "goal", req.Goal)
	writeJSON(w, map[string]any{"id": id, "goal": req.Goal})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	type tradeView struct {
		ID           string         `json:"id"`
		Proposer     uint64         `json:"proposer"`
		Counterparty uint64         `json:"counterparty"`
		Offer        map[string]int `json:"offer"`
		Request      map[string]int `json:"request"`
		OfferCoins   uint64         `json:"offer_coins"`
		RequestCoins uint64         `json:"request_coins"`
		Status       string         `json:"status"`
		Fairness     float64        `json:"fairness"`
	}

	ledger := s.Coord.Ledger()
	result := []tradeView{}
	for _, t := range ledger.Trades(queryLimit(r, 50, 500)) {
		result = append(result, tradeView{
			ID:           t.ID,
			Proposer:     t.Proposer,
			Counterparty: t.Counterparty,
			Offer:        t.Offer,
			Request:      t.Request,
			OfferCoins:   t.OfferCoins,
			RequestCoins: t.RequestCoins,
			Status:       string(t.Status),
			Fairness:     ledger.Fairness(t),
		})
	}
	writeJSON(w, result)
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Coord.Ledger().Prices().All())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Coord.Events(queryLimit(r, 50, 500)))
}

func (s *Server) handleResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Coord.Resources())
}

func (s *Server) handleGoals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, agents.GoalNames())
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0.25 || req.Speed > 8 {
			http.Error(w, "speed must be between 0.25 and 8", http.StatusBadRequest)
			return
		}
		s.Coord.SetSpeed(req.Speed)
	}
	writeJSON(w, map[string]any{"speed": s.Coord.Speed(), "tick": s.Coord.Tick()})
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= max {
			limit = n
		}
	}
	return limit
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
