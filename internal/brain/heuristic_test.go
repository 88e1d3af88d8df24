package brain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellory/everworld/internal/world"
)

func basePlanContext() PlanContext {
	return PlanContext{
		View: world.View{
			Tick: 5,
			Self: world.AgentState{
				ID:        1,
				Name:      "Ash",
				Inventory: map[string]int{},
				Vitals:    world.Vitals{Health: 100, Energy: 80},
			},
			Wealth: 25,
		},
		GoalName: "stockpile_wood",
		WantItem: "wood",
	}
}

func TestHeuristicIsDeterministic(t *testing.T) {
	h := NewHeuristic()
	pc := basePlanContext()
	pc.View.Resources = []world.Resource{
		{ID: "R002", Kind: "wood", Pos: world.HexCoord{Q: 3}, Remaining: 5},
		{ID: "R007", Kind: "wood", Pos: world.HexCoord{Q: 1}, Remaining: 5},
	}

	first, err := h.Plan(context.Background(), pc)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := h.Plan(context.Background(), pc)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestHeuristicRestsWhenDrained(t *testing.T) {
	h := NewHeuristic()
	pc := basePlanContext()
	pc.View.Self.Vitals.Energy = 19

	planned, err := h.Plan(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, world.ActRest, planned.Intent.Kind)
}

func TestHeuristicGathersAdjacentNode(t *testing.T) {
	h := NewHeuristic()
	pc := basePlanContext()
	pc.View.Resources = []world.Resource{
		{ID: "R004", Kind: "wood", Pos: world.HexCoord{Q: 1}, Remaining: 5},
	}

	planned, err := h.Plan(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, world.ActGather, planned.Intent.Kind)
	assert.Equal(t, world.ResourceID("R004"), planned.Intent.Target)
}

func TestHeuristicWalksTowardDistantNode(t *testing.T) {
	h := NewHeuristic()
	pc := basePlanContext()
	pc.View.Resources = []world.Resource{
		{ID: "R004", Kind: "wood", Pos: world.HexCoord{Q: 3}, Remaining: 5},
	}

	planned, err := h.Plan(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, world.ActMove, planned.Intent.Kind)
	require.NotNil(t, planned.Intent.Dest)
	assert.Equal(t, world.HexCoord{Q: 1}, *planned.Intent.Dest)
}

func TestHeuristicPrefersSkillOverTravel(t *testing.T) {
	h := NewHeuristic()
	pc := basePlanContext()
	pc.WantItem = "tool"
	pc.Skills = []SkillInfo{
		{Name: "craft_tool", SuccessRate: 0.8, Produces: map[string]int{"tool": 1}},
	}
	pc.View.Resources = []world.Resource{
		{ID: "R004", Kind: "wood", Pos: world.HexCoord{Q: 1}, Remaining: 5},
	}

	planned, err := h.Plan(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, world.ActSkill, planned.Intent.Kind)
	assert.Equal(t, "craft_tool", planned.Intent.Skill)
}

func TestHeuristicReciprocatesAffordableTrade(t *testing.T) {
	h := NewHeuristic()
	pc := basePlanContext()
	pc.View.Self.Inventory["stone"] = 3
	pc.View.PendingTrades = []world.TradeSummary{
		{ID: "TR000009", Proposer: 2, Counterparty: 1, Request: map[string]int{"stone": 2}, OfferCoins: 4},
	}

	planned, err := h.Plan(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, world.ActAcceptTrade, planned.Intent.Kind)
	assert.Equal(t, "TR000009", planned.Intent.TradeID)
}

func TestHeuristicReportsGap(t *testing.T) {
	h := NewHeuristic()
	pc := basePlanContext()
	pc.WantItem = "potion"

	planned, err := h.Plan(context.Background(), pc)
	require.NoError(t, err)
	require.NotNil(t, planned.Gap)
	assert.Equal(t, world.AgentID(1), planned.Gap.Agent)
	assert.Equal(t, "potion", planned.Gap.Item)
}

func TestHeuristicReflectMarksAchievedGoal(t *testing.T) {
	h := NewHeuristic()
	rc := ReflectContext{
		View: world.View{Self: world.AgentState{Inventory: map[string]int{"wood": 1}}},
		Outcome: world.Outcome{
			Tick: 7,
			Code: world.OutcomeApplied,
		},
		GoalName: "stockpile_wood",
		WantItem: "wood",
	}

	r, err := h.Reflect(context.Background(), rc)
	require.NoError(t, err)
	assert.True(t, r.GoalAchieved)
	assert.InDelta(t, 0.8, float64(r.Importance), 1e-6)
	assert.NotEmpty(t, r.Note)
}

func TestHeuristicReflectRecordsConflictLoss(t *testing.T) {
	h := NewHeuristic()
	rc := ReflectContext{
		View: world.View{Self: world.AgentState{Inventory: map[string]int{}}},
		Outcome: world.Outcome{
			Tick:     7,
			Code:     world.OutcomeRejected,
			Reason:   "resource contested",
			Conflict: "R004",
		},
		GoalName: "stockpile_wood",
		WantItem: "wood",
	}

	r, err := h.Reflect(context.Background(), rc)
	require.NoError(t, err)
	assert.False(t, r.GoalAchieved)
	assert.Contains(t, r.Note, "R004")
	assert.InDelta(t, 0.6, float64(r.Importance), 1e-6)
}
