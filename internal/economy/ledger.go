// Package economy holds coin balances and the trade book. The ledger is
// the single authority for currency; item movement is decided here at
// settlement but applied by the world, which owns inventories.
//
// The ledger is not goroutine safe. The world coordinator serializes
// all access under its tick lock.
package economy

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

var (
	// ErrExpired means the trade's acceptance window elapsed.
	ErrExpired = errors.New("trade expired")
	// ErrInvalid means the trade references missing goods, funds, an
	// unknown id, or the wrong counterparty.
	ErrInvalid = errors.New("trade invalid")
)

// TradeStatus is the lifecycle position of a trade.
type TradeStatus string

const (
	StatusProposed TradeStatus = "proposed"
	StatusAccepted TradeStatus = "accepted"
	StatusSettled  TradeStatus = "settled"
	StatusRejected TradeStatus = "rejected"
	StatusExpired  TradeStatus = "expired"
)

// Trade is one proposed exchange. Offer moves proposer to counterparty,
// Request moves the other way; both legs settle atomically or not at all.
type Trade struct {
	ID           string         `json:"id"`
	Proposer     uint64         `json:"proposer"`
	Counterparty uint64         `json:"counterparty"`
	Offer        map[string]int `json:"offer"`
	Request      map[string]int `json:"request"`
	OfferCoins   uint64         `json:"offer_coins"`
	RequestCoins uint64         `json:"request_coins"`
	Status       TradeStatus    `json:"status"`
	ProposedTick uint64         `json:"proposed_tick"`
	ExpiresTick  uint64         `json:"expires_tick"`
	ResolvedTick uint64         `json:"resolved_tick,omitempty"`
}

// Reputation deltas applied by the world on settlement and on a
// unilateral cancel after acceptance.
const (
	RepSettleBonus   = 1.0
	RepCancelPenalty = 2.0
)

// InventoryView lets the ledger check item availability at settlement
// without owning inventories.
type InventoryView interface {
	HasItems(agent uint64, items map[string]int) bool
}

// Effect is the per-agent result of one settlement: item deltas for the
// world to apply, the coin movement already applied here, and the
// reputation change.
type Effect struct {
	Items      map[string]int
	Coins      int64
	Reputation float32
}

// Settlement reports the atomic outcome of one accepted trade.
type Settlement struct {
	Trade   Trade
	OK      bool
	Reason  string
	Effects map[uint64]Effect
}

// Ledger is the trade book plus coin balances.
type Ledger struct {
	balances map[uint64]uint64
	trades   map[string]*Trade
	order    []string
	seq      uint64
	window   uint64
	prices   *PriceBook
}

// NewLedger creates a ledger whose trades expire window ticks after
// proposal.
func NewLedger(window uint64) *Ledger {
	return &Ledger{
		balances: make(map[uint64]uint64),
		trades:   make(map[string]*Trade),
		window:   window,
		prices:   NewPriceBook(),
	}
}

// Register opens an account with a starting grant. Re-registering is a
// no-op so resumed worlds keep their balances.
func (l *Ledger) Register(agent uint64, grant uint64) {
	if _, ok := l.balances[agent]; !ok {
		l.balances[agent] = grant
	}
}

// Balance returns an agent's coin balance.
func (l *Ledger) Balance(agent uint64) uint64 { return l.balances[agent] }

// SetBalance overwrites a balance. Used when restoring persisted state.
func (l *Ledger) SetBalance(agent uint64, coins uint64) { l.balances[agent] = coins }

// Restore reinserts a persisted trade, keeping id sequence ahead of it.
func (l *Ledger) Restore(t Trade) {
	cp := t
	l.trades[t.ID] = &cp
	l.order = append(l.order, t.ID)
	var n uint64
	if _, err := fmt.Sscanf(t.ID, "TR%06d", &n); err == nil && n > l.seq {
		l.seq = n
	}
}

// newTradeID is a plain counter. Trade ids enter the state digest, so
// they must be reproducible under replay.
func (l *Ledger) newTradeID() string {
	l.seq++
	return fmt.Sprintf("TR%06d", l.seq)
}

// Propose records a new trade. Neither goods nor coins are checked
// here: a proposer may promise items it intends to acquire within the
// window, and SettleAccepted holds both sides to their legs before
// anything moves.
func (l *Ledger) Propose(tick uint64, proposer, counterparty uint64, offer, request map[string]int, offerCoins, requestCoins uint64) (Trade, error) {
	switch {
	case proposer == counterparty:
		return Trade{}, fmt.Errorf("self-trade: %w", ErrInvalid)
	case len(offer) == 0 && offerCoins == 0 && len(request) == 0 && requestCoins == 0:
		return Trade{}, fmt.Errorf("empty trade: %w", ErrInvalid)
	}
	t := &Trade{
		ID:           l.newTradeID(),
		Proposer:     proposer,
		Counterparty: counterparty,
		Offer:        copyItems(offer),
		Request:      copyItems(request),
		OfferCoins:   offerCoins,
		RequestCoins: requestCoins,
		Status:       StatusProposed,
		ProposedTick: tick,
		ExpiresTick:  tick + l.window,
	}
	l.trades[t.ID] = t
	l.order = append(l.order, t.ID)
	return *t, nil
}

// Accept marks a proposed trade accepted by its counterparty.
// Settlement happens at the end of the same tick.
func (l *Ledger) Accept(id string, by uint64, tick uint64) (Trade, error) {
	t, ok := l.trades[id]
	if !ok {
		return Trade{}, fmt.Errorf("trade %s not found: %w", id, ErrInvalid)
	}
	if t.Counterparty != by {
		return Trade{}, fmt.Errorf("trade %s: agent %d is not the counterparty: %w", id, by, ErrInvalid)
	}
	if t.Status != StatusProposed {
		return Trade{}, fmt.Errorf("trade %s already %s: %w", id, t.Status, ErrInvalid)
	}
	if tick > t.ExpiresTick {
		t.Status = StatusExpired
		t.ResolvedTick = tick
		return *t, fmt.Errorf("trade %s window closed at tick %d: %w", id, t.ExpiresTick, ErrExpired)
	}
	t.Status = StatusAccepted
	return *t, nil
}

// Cancel withdraws a trade. Either party may cancel. Cancelling after
// acceptance is unilateral reneging and flags a reputation penalty.
func (l *Ledger) Cancel(id string, by uint64, tick uint64) (Trade, bool, error) {
	t, ok := l.trades[id]
	if !ok {
		return Trade{}, false, fmt.Errorf("trade %s not found: %w", id, ErrInvalid)
	}
	if t.Proposer != by && t.Counterparty != by {
		return Trade{}, false, fmt.Errorf("trade %s: agent %d is not a party: %w", id, by, ErrInvalid)
	}
	switch t.Status {
	case StatusProposed:
		t.Status = StatusRejected
		t.ResolvedTick = tick
		return *t, false, nil
	case StatusAccepted:
		t.Status = StatusRejected
		t.ResolvedTick = tick
		return *t, true, nil
	default:
		return Trade{}, false, fmt.Errorf("trade %s already %s: %w", id, t.Status, ErrInvalid)
	}
}

// ExpireStale flips proposed trades past their window to Expired. No
// balances or inventories move.
func (l *Ledger) ExpireStale(tick uint64) []Trade {
	var out []Trade
	for _, id := range l.order {
		t := l.trades[id]
		if t.Status == StatusProposed && tick > t.ExpiresTick {
			t.Status = StatusExpired
			t.ResolvedTick = tick
			out = append(out, *t)
		}
	}
	return out
}

// SettleAccepted settles every accepted trade, in proposal order, at
// the end of a tick. Each settlement is all-or-nothing: if either side
// no longer holds its leg, the trade is rejected and nothing moves.
// Coin movement is applied here; item deltas are returned for the world
// to apply inside the same tick-commit.
func (l *Ledger) SettleAccepted(tick uint64, inv InventoryView) []Settlement {
	var out []Settlement
	for _, id := range l.order {
		t := l.trades[id]
		if t.Status != StatusAccepted {
			continue
		}
		s := Settlement{Trade: *t, Effects: make(map[uint64]Effect)}
		switch {
		case !inv.HasItems(t.Proposer, t.Offer):
			s.Reason = "proposer no longer holds offered goods"
		case !inv.HasItems(t.Counterparty, t.Request):
			s.Reason = "counterparty no longer holds requested goods"
		case l.balances[t.Proposer] < t.OfferCoins:
			s.Reason = "proposer no longer holds offered coins"
		case l.balances[t.Counterparty] < t.RequestCoins:
			s.Reason = "counterparty no longer holds requested coins"
		}
		if s.Reason != "" {
			t.Status = StatusRejected
			t.ResolvedTick = tick
			s.Trade = *t
			out = append(out, s)
			continue
		}

		l.balances[t.Proposer] += t.RequestCoins - t.OfferCoins
		l.balances[t.Counterparty] += t.OfferCoins - t.RequestCoins
		t.Status = StatusSettled
		t.ResolvedTick = tick
		l.prices.observe(t.Offer, t.Request)

		s.OK = true
		s.Trade = *t
		s.Effects[t.Proposer] = Effect{
			Items:      diffItems(t.Request, t.Offer),
			Coins:      int64(t.RequestCoins) - int64(t.OfferCoins),
			Reputation: RepSettleBonus,
		}
		s.Effects[t.Counterparty] = Effect{
			Items:      diffItems(t.Offer, t.Request),
			Coins:      int64(t.OfferCoins) - int64(t.RequestCoins),
			Reputation: RepSettleBonus,
		}
		out = append(out, s)
	}
	return out
}

// PendingFor lists live proposals addressed to an agent.
func (l *Ledger) PendingFor(agent uint64, tick uint64) []Trade {
	var out []Trade
	for _, id := range l.order {
		t := l.trades[id]
		if t.Status == StatusProposed && t.Counterparty == agent && tick <= t.ExpiresTick {
			out = append(out, *t)
		}
	}
	return out
}

// TradeByID returns a copy of one trade.
func (l *Ledger) TradeByID(id string) (Trade, bool) {
	t, ok := l.trades[id]
	if !ok {
		return Trade{}, false
	}
	return *t, true
}

// Trades returns the most recent trades, newest last.
func (l *Ledger) Trades(limit int) []Trade {
	start := 0
	if limit > 0 && len(l.order) > limit {
		start = len(l.order) - limit
	}
	out := make([]Trade, 0, len(l.order)-start)
	for _, id := range l.order[start:] {
		out = append(out, *l.trades[id])
	}
	return out
}

// Prices exposes the drifting value table.
func (l *Ledger) Prices() *PriceBook { return l.prices }

// Fairness appraises both legs of a trade against current values.
// Above 1.0 favors the proposer.
func (l *Ledger) Fairness(t Trade) float64 {
	give := l.prices.Appraise(t.Offer, t.OfferCoins)
	get := l.prices.Appraise(t.Request, t.RequestCoins)
	if give == 0 {
		return 0
	}
	return get / give
}

// DigestInto writes balances and trade statuses in deterministic order.
func (l *Ledger) DigestInto(w io.Writer) {
	agents := make([]uint64, 0, len(l.balances))
	for a := range l.balances {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })
	for _, a := range agents {
		fmt.Fprintf(w, "coins:%d:%d\n", a, l.balances[a])
	}
	for _, id := range l.order {
		t := l.trades[id]
		fmt.Fprintf(w, "trade:%s:%d:%d:%s:%d\n", t.ID, t.Proposer, t.Counterparty, t.Status, t.ResolvedTick)
	}
}

func copyItems(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// diffItems returns gain minus loss as one signed item delta.
func diffItems(gain, loss map[string]int) map[string]int {
	out := make(map[string]int, len(gain)+len(loss))
	for k, v := range gain {
		out[k] += v
	}
	for k, v := range loss {
		out[k] -= v
	}
	for k, v := range out {
		if v == 0 {
			delete(out, k)
		}
	}
	return out
}
