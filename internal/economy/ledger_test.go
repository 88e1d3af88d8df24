package economy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// invMap is a test stand-in for the world's inventory view.
type invMap map[uint64]map[string]int

func (m invMap) HasItems(agent uint64, items map[string]int) bool {
	for item, n := range items {
		if m[agent][item] < n {
			return false
		}
	}
	return true
}

func newTestLedger() *Ledger {
	l := NewLedger(10)
	l.Register(1, 20)
	l.Register(2, 20)
	return l
}

func TestProposeAcceptSettle(t *testing.T) {
	l := newTestLedger()
	inv := invMap{1: {"wood": 3}, 2: {"stone": 2}}

	tr, err := l.Propose(1, 1, 2, map[string]int{"wood": 2}, map[string]int{"stone": 1}, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "TR000001", tr.ID)
	assert.Equal(t, StatusProposed, tr.Status)
	assert.Equal(t, uint64(11), tr.ExpiresTick)

	_, err = l.Accept(tr.ID, 2, 2)
	require.NoError(t, err)

	settlements := l.SettleAccepted(2, inv)
	require.Len(t, settlements, 1)
	s := settlements[0]
	require.True(t, s.OK, "settlement should succeed: %s", s.Reason)
	assert.Equal(t, StatusSettled, s.Trade.Status)

	// Counterparty pays 3 coins for 2 wood against 1 stone.
	assert.Equal(t, uint64(23), l.Balance(1))
	assert.Equal(t, uint64(17), l.Balance(2))

	prop := s.Effects[1]
	assert.Equal(t, map[string]int{"wood": -2, "stone": 1}, prop.Items)
	assert.Equal(t, int64(3), prop.Coins)
	assert.Equal(t, float32(RepSettleBonus), prop.Reputation)

	cp := s.Effects[2]
	assert.Equal(t, map[string]int{"wood": 2, "stone": -1}, cp.Items)
	assert.Equal(t, int64(-3), cp.Coins)
	assert.Equal(t, float32(RepSettleBonus), cp.Reputation)
}

func TestSettleIsAllOrNothing(t *testing.T) {
	l := newTestLedger()

	tr, err := l.Propose(1, 1, 2, map[string]int{"wood": 2}, map[string]int{"stone": 1}, 0, 0)
	require.NoError(t, err)
	_, err = l.Accept(tr.ID, 2, 1)
	require.NoError(t, err)

	// Proposer spent the wood between acceptance and settlement.
	inv := invMap{1: {}, 2: {"stone": 2}}
	settlements := l.SettleAccepted(1, inv)
	require.Len(t, settlements, 1)
	s := settlements[0]

	assert.False(t, s.OK)
	assert.Equal(t, "proposer no longer holds offered goods", s.Reason)
	assert.Equal(t, StatusRejected, s.Trade.Status)
	assert.Empty(t, s.Effects)
	assert.Equal(t, uint64(20), l.Balance(1))
	assert.Equal(t, uint64(20), l.Balance(2))
}

func TestSettleChecksCoins(t *testing.T) {
	l := newTestLedger()
	inv := invMap{1: {"wood": 2}, 2: {}}

	tr, err := l.Propose(1, 1, 2, map[string]int{"wood": 2}, nil, 0, 25)
	require.NoError(t, err)
	_, err = l.Accept(tr.ID, 2, 1)
	require.NoError(t, err)

	settlements := l.SettleAccepted(1, inv)
	require.Len(t, settlements, 1)
	assert.False(t, settlements[0].OK)
	assert.Equal(t, "counterparty no longer holds requested coins", settlements[0].Reason)
}

func TestAcceptAfterWindowExpires(t *testing.T) {
	l := newTestLedger()

	tr, err := l.Propose(1, 1, 2, map[string]int{"wood": 1}, nil, 0, 1)
	require.NoError(t, err)

	_, err = l.Accept(tr.ID, 2, 12)
	require.ErrorIs(t, err, ErrExpired)

	got, ok := l.TradeByID(tr.ID)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Equal(t, uint64(20), l.Balance(1))
	assert.Equal(t, uint64(20), l.Balance(2))
	assert.Empty(t, l.SettleAccepted(12, invMap{}), "expired trade must never settle")
}

func TestAcceptValidation(t *testing.T) {
	l := newTestLedger()
	tr, err := l.Propose(1, 1, 2, map[string]int{"wood": 1}, nil, 0, 0)
	require.NoError(t, err)

	_, err = l.Accept("TR999999", 2, 2)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = l.Accept(tr.ID, 1, 2)
	assert.ErrorIs(t, err, ErrInvalid, "only the counterparty may accept")

	_, err = l.Accept(tr.ID, 2, 2)
	require.NoError(t, err)
	_, err = l.Accept(tr.ID, 2, 2)
	assert.ErrorIs(t, err, ErrInvalid, "double accept must fail")
}

func TestProposeValidation(t *testing.T) {
	l := newTestLedger()

	_, err := l.Propose(1, 1, 1, map[string]int{"wood": 1}, nil, 0, 0)
	assert.ErrorIs(t, err, ErrInvalid, "self-trade")

	_, err = l.Propose(1, 1, 2, nil, nil, 0, 0)
	assert.ErrorIs(t, err, ErrInvalid, "empty trade")
}

func TestProposeWithoutGoodsSettlesOnceAcquired(t *testing.T) {
	l := newTestLedger()

	// The proposer holds nothing yet; the promise is checked at
	// settlement, not at proposal.
	tr, err := l.Propose(1, 1, 2, map[string]int{"wood": 5}, nil, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusProposed, tr.Status)

	_, err = l.Accept(tr.ID, 2, 4)
	require.NoError(t, err)

	// By settlement the wood has been gathered.
	settlements := l.SettleAccepted(4, invMap{1: {"wood": 5}, 2: {}})
	require.Len(t, settlements, 1)
	require.True(t, settlements[0].OK, settlements[0].Reason)
	assert.Equal(t, uint64(30), l.Balance(1))
	assert.Equal(t, uint64(10), l.Balance(2))
}

func TestProposeBeyondMeansRejectsAtSettlement(t *testing.T) {
	l := newTestLedger()

	// Promising coins the proposer never obtains is allowed at
	// proposal and caught when the legs are held to account.
	tr, err := l.Propose(1, 1, 2, nil, map[string]int{"stone": 1}, 100, 0)
	require.NoError(t, err)
	_, err = l.Accept(tr.ID, 2, 2)
	require.NoError(t, err)

	settlements := l.SettleAccepted(2, invMap{2: {"stone": 1}})
	require.Len(t, settlements, 1)
	assert.False(t, settlements[0].OK)
	assert.Equal(t, "proposer no longer holds offered coins", settlements[0].Reason)
	assert.Equal(t, StatusRejected, settlements[0].Trade.Status)
}

func TestCancelAfterAcceptFlagsPenalty(t *testing.T) {
	l := newTestLedger()

	tr, err := l.Propose(1, 1, 2, map[string]int{"wood": 1}, nil, 0, 0)
	require.NoError(t, err)

	// Cancelling a mere proposal is free.
	got, penalty, err := l.Cancel(tr.ID, 1, 2)
	require.NoError(t, err)
	assert.False(t, penalty)
	assert.Equal(t, StatusRejected, got.Status)

	tr2, err := l.Propose(3, 1, 2, map[string]int{"wood": 1}, nil, 0, 0)
	require.NoError(t, err)
	_, err = l.Accept(tr2.ID, 2, 3)
	require.NoError(t, err)

	// Reneging on an accepted trade is not.
	_, penalty, err = l.Cancel(tr2.ID, 1, 4)
	require.NoError(t, err)
	assert.True(t, penalty)

	_, _, err = l.Cancel(tr2.ID, 1, 4)
	assert.ErrorIs(t, err, ErrInvalid, "cancel of a resolved trade")
}

func TestExpireStale(t *testing.T) {
	l := newTestLedger()

	old, err := l.Propose(1, 1, 2, map[string]int{"wood": 1}, nil, 0, 0)
	require.NoError(t, err)
	fresh, err := l.Propose(8, 2, 1, map[string]int{"stone": 1}, nil, 0, 0)
	require.NoError(t, err)

	expired := l.ExpireStale(12)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	got, _ := l.TradeByID(fresh.ID)
	assert.Equal(t, StatusProposed, got.Status)
}

func TestPendingFor(t *testing.T) {
	l := newTestLedger()

	tr, err := l.Propose(1, 1, 2, map[string]int{"wood": 1}, nil, 0, 0)
	require.NoError(t, err)
	_, err = l.Propose(1, 2, 1, map[string]int{"stone": 1}, nil, 0, 0)
	require.NoError(t, err)

	pending := l.PendingFor(2, 2)
	require.Len(t, pending, 1)
	assert.Equal(t, tr.ID, pending[0].ID)

	assert.Empty(t, l.PendingFor(2, 20), "window closed")
}

func TestRestoreKeepsIDSequence(t *testing.T) {
	l := newTestLedger()
	l.Restore(Trade{ID: "TR000005", Proposer: 1, Counterparty: 2, Status: StatusSettled})

	tr, err := l.Propose(1, 1, 2, map[string]int{"wood": 1}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "TR000006", tr.ID)
}

func TestPriceDriftStaysBounded(t *testing.T) {
	pb := NewPriceBook()
	base := pb.Value("wood")

	for i := 0; i < 200; i++ {
		pb.observe(map[string]int{"stone": 1}, map[string]int{"wood": 1})
	}
	assert.InDelta(t, base*2, pb.Value("wood"), 1e-9, "demand drift caps at 2x base")
	assert.InDelta(t, pb.Value("stone"), baseValues["stone"]*0.5, 1e-9, "supply drift floors at 0.5x base")
}

func TestFairness(t *testing.T) {
	l := newTestLedger()
	tr := Trade{
		Offer:        map[string]int{"wood": 2}, // value 2
		Request:      map[string]int{"food": 2}, // value 6
		OfferCoins:   0,
		RequestCoins: 0,
	}
	assert.InDelta(t, 3.0, l.Fairness(tr), 1e-9)
}
