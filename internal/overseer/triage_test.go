package overseer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriageHealthyWorld(t *testing.T) {
	h := Triage(&Snapshot{
		Agents: []AgentInfo{
			{ID: 1, Reputation: 2.0},
			{ID: 2, Reputation: 1.0},
		},
		Trades: []TradeInfo{{Status: "settled"}, {Status: "settled"}},
	})

	assert.Equal(t, "HEALTHY", h.CrisisLevel)
	assert.InDelta(t, 1.5, h.AvgReputation, 1e-9)
	assert.InDelta(t, 1.0, h.MinReputation, 1e-9)
	assert.Zero(t, h.RejectedTradeShare)
}

func TestTriageDesyncIsCritical(t *testing.T) {
	h := Triage(&Snapshot{
		Agents: []AgentInfo{{ID: 1, Reputation: 5}},
		Events: []EventInfo{{Kind: "desync", Message: "digest mismatch"}},
	})
	assert.Equal(t, "CRITICAL", h.CrisisLevel)
	assert.Equal(t, 1, h.RecentDesyncs)
}

func TestTriageMajoritySuspendedIsCritical(t *testing.T) {
	h := Triage(&Snapshot{
		Agents: []AgentInfo{
			{ID: 1, Suspended: true},
			{ID: 2, Suspended: true},
			{ID: 3},
		},
	})
	assert.Equal(t, "CRITICAL", h.CrisisLevel)
	assert.InDelta(t, 2.0/3.0, h.SuspendedShare, 1e-9)
}

func TestTriageRenegesAreWarning(t *testing.T) {
	h := Triage(&Snapshot{
		Agents: []AgentInfo{{ID: 1, Reputation: 3}},
		Events: []EventInfo{
			{Kind: "trade_reneged"}, {Kind: "trade_reneged"}, {Kind: "trade_reneged"},
		},
	})
	assert.Equal(t, "WARNING", h.CrisisLevel)
}

func TestTriageRejectedTradesAreWarning(t *testing.T) {
	h := Triage(&Snapshot{
		Agents: []AgentInfo{{ID: 1, Reputation: 3}},
		Trades: []TradeInfo{
			{Status: "rejected"}, {Status: "expired"}, {Status: "rejected"}, {Status: "settled"},
		},
	})
	assert.Equal(t, "WARNING", h.CrisisLevel)
	assert.InDelta(t, 0.75, h.RejectedTradeShare, 1e-9)
}

func TestTriageNegativeReputationIsWatch(t *testing.T) {
	h := Triage(&Snapshot{
		Agents: []AgentInfo{{ID: 1, Reputation: -2}, {ID: 2, Reputation: 1}},
	})
	assert.Equal(t, "WATCH", h.CrisisLevel)
}

func TestGuardrails(t *testing.T) {
	snap := &Snapshot{
		Agents: []AgentInfo{
			{ID: 1, Suspended: false},
			{ID: 2, Suspended: true},
		},
		Goals: []string{"gather_food", "mine_iron"},
	}

	assert.NoError(t, enforceGuardrails(&Decision{Action: "none"}, snap))
	assert.NoError(t, enforceGuardrails(&Decision{Action: "suspend", Agent: 1}, snap))
	assert.NoError(t, enforceGuardrails(&Decision{Action: "resume", Agent: 2}, snap))
	assert.NoError(t, enforceGuardrails(&Decision{Action: "goal", Agent: 1, Goal: "mine_iron"}, snap))

	assert.Error(t, enforceGuardrails(&Decision{Action: "suspend", Agent: 9}, snap), "unknown agent")
	assert.Error(t, enforceGuardrails(&Decision{Action: "suspend", Agent: 2}, snap), "already suspended")
	assert.Error(t, enforceGuardrails(&Decision{Action: "resume", Agent: 1}, snap), "not suspended")
	assert.Error(t, enforceGuardrails(&Decision{Action: "goal", Agent: 1, Goal: "rule_everworld"}, snap), "unknown goal")
	assert.Error(t, enforceGuardrails(&Decision{Action: "smite", Agent: 1}, snap), "unknown action")
}

func TestCycleMemoryRing(t *testing.T) {
	mem := &CycleMemory{}
	for i := 0; i < maxRecords+5; i++ {
		mem.Record(CycleRecord{Tick: uint64(i), Action: "none", CrisisLevel: "HEALTHY"})
	}
	assert.Len(t, mem.Records, maxRecords)
	assert.Equal(t, uint64(5), mem.Records[0].Tick)

	out := mem.FormatForPrompt()
	assert.Contains(t, out, "## Recent Overseer Cycles")
	assert.NotContains(t, out, "Tick 17:", "only the most recent cycles are surfaced")
	assert.Contains(t, out, "Tick 24:")
}
