package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellory/everworld/internal/agents"
	"github.com/ellory/everworld/internal/brain"
	"github.com/ellory/everworld/internal/economy"
	"github.com/ellory/everworld/internal/memory"
	"github.com/ellory/everworld/internal/skills"
	"github.com/ellory/everworld/internal/world"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	state := world.Generate(3, 6)
	coord := world.NewCoordinator(world.Config{
		Interval:     time.Second,
		Deadline:     500 * time.Millisecond,
		ViewRadius:   6,
		TieBreak:     world.TieBreakRegistration,
		InitialCoins: 25,
	}, state, economy.NewLedger(10), log)
	require.NoError(t, coord.RegisterAgent(1, "Ash", world.HexCoord{}))
	require.NoError(t, coord.RegisterAgent(2, "Bram", world.HexCoord{Q: 1}))

	registry := skills.NewRegistry()
	registry.SeedAgent(1)
	registry.SeedAgent(2)
	memories := memory.NewStore(memory.NewHashEmbedder(32), 0, 50)
	synth := skills.NewSynthesizer(registry, nil, memories, 3, log)

	lifecycles := make(map[world.AgentID]*agents.Lifecycle)
	for id, name := range map[world.AgentID]string{1: "Ash", 2: "Bram"} {
		lifecycles[id] = agents.NewLifecycle(agents.NewAgent(id, name), nil, coord,
			brain.NewHeuristic(), synth, registry, memories, agents.LifecycleConfig{}, log)
	}

	return &Server{
		Coord:      coord,
		Lifecycles: lifecycles,
		Registry:   registry,
		Memories:   memories,
		AdminKey:   "testkey",
	}
}

func getJSON(t *testing.T, h http.HandlerFunc, path string, target any) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if target != nil {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), target))
	}
	return rr
}

func TestStatusCountsSuspension(t *testing.T) {
	s := newTestServer(t)
	s.Coord.Suspend(2)

	var status struct {
		Name            string `json:"name"`
		Tick            uint64 `json:"tick"`
		ActiveAgents    int    `json:"active_agents"`
		SuspendedAgents int    `json:"suspended_agents"`
	}
	rr := getJSON(t, s.handleStatus, "/api/v1/status", &status)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "everworld", status.Name)
	assert.Equal(t, 1, status.ActiveAgents)
	assert.Equal(t, 1, status.SuspendedAgents)
}

func TestAgentsListsAll(t *testing.T) {
	s := newTestServer(t)

	var list []struct {
		ID   uint64 `json:"id"`
		Name string `json:"name"`
		Goal string `json:"current_goal"`
	}
	getJSON(t, s.handleAgents, "/api/v1/agents", &list)
	require.Len(t, list, 2)
	assert.Equal(t, "Ash", list[0].Name)
	assert.Equal(t, "gather_food", list[0].Goal)
}

func TestAgentDetailAndErrors(t *testing.T) {
	s := newTestServer(t)

	var detail map[string]any
	rr := getJSON(t, s.handleAgentRoutes, "/api/v1/agent/1", &detail)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), detail["id"])
	assert.Equal(t, float64(25), detail["wealth"])
	assert.NotNil(t, detail["skills"])

	rr = getJSON(t, s.handleAgentRoutes, "/api/v1/agent/999", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = getJSON(t, s.handleAgentRoutes, "/api/v1/agent/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = getJSON(t, s.handleAgentRoutes, "/api/v1/agent/1/teleport", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAgentSkillsIncludeBody(t *testing.T) {
	s := newTestServer(t)

	var views []map[string]any
	getJSON(t, s.handleAgentRoutes, "/api/v1/agent/1/skills", &views)
	require.Len(t, views, 2)
	assert.Equal(t, "craft_tool", views[0]["name"])
	assert.NotNil(t, views[0]["body"])
}

func TestAgentMemoriesQuery(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Memories.Append(1, 1, "found an iron vein", 0.5)
	require.NoError(t, err)

	var hits []map[string]any
	getJSON(t, s.handleAgentRoutes, "/api/v1/agent/1/memories?q=iron+vein", &hits)
	require.Len(t, hits, 1)
	assert.Equal(t, "found an iron vein", hits[0]["content"])
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.handleAgentRoutes(rr, httptest.NewRequest(http.MethodPost, "/api/v1/agent/1/suspend", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, s.Coord.IsSuspended(1))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/1/suspend", nil)
	req.Header.Set("Authorization", "Bearer testkey")
	rr = httptest.NewRecorder()
	s.handleAgentRoutes(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, s.Coord.IsSuspended(1))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/agent/1/resume", nil)
	req.Header.Set("Authorization", "Bearer testkey")
	rr = httptest.NewRecorder()
	s.handleAgentRoutes(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, s.Coord.IsSuspended(1))
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	s := newTestServer(t)
	s.AdminKey = ""

	rr := httptest.NewRecorder()
	s.handleAgentRoutes(rr, httptest.NewRequest(http.MethodPost, "/api/v1/agent/1/suspend", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSetGoalValidatesName(t *testing.T) {
	s := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/1/goal", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer testkey")
		rr := httptest.NewRecorder()
		s.handleAgentRoutes(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, post(`{"goal":"mine_iron"}`).Code)
	assert.Equal(t, "mine_iron", s.Lifecycles[1].Agent().Goal().Name)
	assert.Equal(t, http.StatusBadRequest, post(`{"goal":"conquer"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`not json`).Code)
}

func TestSpeedEndpointValidatesRange(t *testing.T) {
	s := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/speed", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer testkey")
		rr := httptest.NewRecorder()
		s.adminOnly(s.handleSpeed)(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusBadRequest, post(`{"speed":100}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"speed":0.1}`).Code)

	rr := post(`{"speed":2}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Speed float64 `json:"speed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2.0, resp.Speed)
}

func TestGoalsEndpoint(t *testing.T) {
	s := newTestServer(t)

	var goals []string
	getJSON(t, s.handleGoals, "/api/v1/goals", &goals)
	assert.Equal(t, agents.GoalNames(), goals)
}

func TestQueryLimitBounds(t *testing.T) {
	mk := func(q string) *http.Request {
		return httptest.NewRequest(http.MethodGet, "/api/v1/trades"+q, nil)
	}
	assert.Equal(t, 50, queryLimit(mk(""), 50, 500))
	assert.Equal(t, 10, queryLimit(mk("?limit=10"), 50, 500))
	assert.Equal(t, 50, queryLimit(mk("?limit=0"), 50, 500))
	assert.Equal(t, 50, queryLimit(mk("?limit=9999"), 50, 500))
	assert.Equal(t, 50, queryLimit(mk("?limit=abc"), 50, 500))
}
