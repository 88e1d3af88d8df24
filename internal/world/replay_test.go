package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellory/everworld/internal/economy"
)

// replayWorld builds identically configured coordinators so a recorded
// run can be fed back through a fresh one.
func replayWorld(t *testing.T) *Coordinator {
	t.Helper()
	state := Generate(7, 6)
	ledger := economy.NewLedger(10)
	c := NewCoordinator(Config{TieBreak: TieBreakRegistration, InitialCoins: 25}, state, ledger, testLogger())
	require.NoError(t, c.RegisterAgent(1, "Ash", HexCoord{}))
	require.NoError(t, c.RegisterAgent(2, "Bram", HexCoord{Q: 2}))
	return c
}

func TestReplayReproducesRun(t *testing.T) {
	live := replayWorld(t)

	scripts := [][]Intention{
		{{Agent: 1, Kind: ActMove, Dest: &HexCoord{Q: 1}}, {Agent: 2, Kind: ActRest}},
		{{Agent: 1, Kind: ActProposeTrade, Counterparty: 2, OfferCoins: 5}},
		{{Agent: 2, Kind: ActAcceptTrade, TradeID: "TR000001"}},
		{}, // idle tick
		{{Agent: 2, Kind: ActMove, Dest: &HexCoord{Q: 2, R: 1}}},
	}

	var records []TickRecord
	for _, intents := range scripts {
		_, rec := live.StepOnce(intents)
		records = append(records, rec)
	}

	replayed := replayWorld(t)
	require.NoError(t, Replay(replayed, nil, records))

	assert.Equal(t, live.Digest(), replayed.Digest())
	assert.Equal(t, live.Tick(), replayed.Tick())
	for _, id := range live.AgentIDs() {
		want, wantCoins, _ := live.Snapshot(id)
		got, gotCoins, _ := replayed.Snapshot(id)
		assert.Equal(t, want, got, "agent %d state", id)
		assert.Equal(t, wantCoins, gotCoins, "agent %d coins", id)
	}
}

func TestReplayDetectsDivergence(t *testing.T) {
	live := replayWorld(t)

	_, rec1 := live.StepOnce([]Intention{{Agent: 1, Kind: ActMove, Dest: &HexCoord{Q: 1}}})
	_, rec2 := live.StepOnce([]Intention{{Agent: 2, Kind: ActRest}})

	// An edited log no longer reproduces the recorded digests.
	tampered := []TickRecord{rec1, rec2}
	tampered[0].Accepted = []Intention{{Agent: 1, Kind: ActMove, Dest: &HexCoord{R: 1}}}

	err := Replay(replayWorld(t), nil, tampered)
	assert.ErrorIs(t, err, ErrWorldDesync)
}

func TestReplayDetectsTickMisalignment(t *testing.T) {
	live := replayWorld(t)
	_, rec := live.StepOnce(nil)
	rec.Tick = 5

	err := Replay(replayWorld(t), nil, []TickRecord{rec})
	assert.ErrorIs(t, err, ErrWorldDesync)
}

func TestReplayAcrossVoidedTick(t *testing.T) {
	live := replayWorld(t)

	_, rec1 := live.StepOnce([]Intention{{Agent: 1, Kind: ActRest}})
	live.ReportDesync("bogus")
	// The voided tick commits with nothing accepted.
	_, rec2 := live.StepOnce([]Intention{{Agent: 1, Kind: ActMove, Dest: &HexCoord{Q: 1}}})
	require.Empty(t, rec2.Accepted)
	_, rec3 := live.StepOnce([]Intention{{Agent: 1, Kind: ActMove, Dest: &HexCoord{Q: 1}}})

	err := Replay(replayWorld(t), nil, []TickRecord{rec1, rec2, rec3})
	assert.NoError(t, err, "voided ticks replay as empty ticks")
}
