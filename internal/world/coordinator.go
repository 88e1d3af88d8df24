package world

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ellory/everworld/internal/economy"
)

// Config tunes the coordinator's tick loop and conflict policy.
type Config struct {
	// Interval is the base wall-clock duration of one tick.
	Interval time.Duration
	// Deadline bounds intention collection within a tick. Agents that
	// miss it count as no-op for the tick.
	Deadline time.Duration
	// ViewRadius bounds agent perception in hexes.
	ViewRadius int
	// TieBreak picks the winner on contested resources.
	TieBreak TieBreak
	// InitialCoins is the ledger grant for newly registered agents.
	InitialCoins uint64
	// MaxEvents bounds the in-memory event ring.
	MaxEvents int
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.Deadline <= 0 || c.Deadline >= c.Interval {
		c.Deadline = c.Interval * 3 / 4
	}
	if c.ViewRadius <= 0 {
		c.ViewRadius = 6
	}
	if c.TieBreak == "" {
		c.TieBreak = TieBreakRegistration
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 512
	}
}

// Per-tick action costs and yields.
const (
	maxMovePerTick = 2
	moveEnergyCost = 1
	gatherCost     = 2
	restRecovery   = 15
)

var gatherYield = map[ResourceKind]int{
	ResourceWood:    3,
	ResourceStone:   3,
	ResourceIronOre: 2,
	ResourceFood:    3,
	ResourceHerb:    2,
	ResourceGem:     1,
}

type submission struct {
	in    Intention
	reply chan Outcome
}

// Coordinator is the single writer of world state. Agents submit one
// intention per tick and block on the outcome; the coordinator collects
// intentions until the tick deadline, resolves resource conflicts
// deterministically, and applies the survivors as one atomic commit.
type Coordinator struct {
	cfg    Config
	log    *slog.Logger
	ledger *economy.Ledger

	mu     sync.RWMutex
	state  *State
	skills SkillSource

	speed      float64
	events     []Event
	lastDigest string
	desynced   bool
	resyncFn   func(resources []Resource, digest string) error

	submitCh chan submission
	loggers  []TickLogger
	onTick   []func(TickRecord)
}

// NewCoordinator wraps an existing state and ledger. The state digest
// is seeded immediately so desync checks work before the first tick.
func NewCoordinator(cfg Config, state *State, ledger *economy.Ledger, logger *slog.Logger) *Coordinator {
	cfg.defaults()
	c := &Coordinator{
		cfg:      cfg,
		log:      logger,
		ledger:   ledger,
		state:    state,
		speed:    1,
		submitCh: make(chan submission, 256),
	}
	c.lastDigest = computeDigest(state, ledger)
	return c
}

// SetSkillSource wires the skill registry in. Skill intentions are
// rejected until a source is set.
func (c *Coordinator) SetSkillSource(src SkillSource) {
	c.mu.Lock()
	c.skills = src
	c.mu.Unlock()
}

// AddTickLogger appends a sink for the accepted-intention log.
func (c *Coordinator) AddTickLogger(l TickLogger) {
	c.mu.Lock()
	c.loggers = append(c.loggers, l)
	c.mu.Unlock()
}

// OnTick registers a callback invoked after every committed tick.
func (c *Coordinator) OnTick(fn func(TickRecord)) {
	c.mu.Lock()
	c.onTick = append(c.onTick, fn)
	c.mu.Unlock()
}

// SetResync installs the connector's resync hook, run after a reported
// desync before the next tick is allowed to commit. The hook receives
// its snapshot as arguments and must not call back into the
// coordinator: it runs under the tick lock.
func (c *Coordinator) SetResync(fn func(resources []Resource, digest string) error) {
	c.mu.Lock()
	c.resyncFn = fn
	c.mu.Unlock()
}

// RegisterAgent adds an agent to the world and opens its ledger
// account. Registration order fixes the conflict tie-break rank.
func (c *Coordinator) RegisterAgent(id AgentID, name string, pos HexCoord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.state.Register(id, name, pos); err != nil {
		return err
	}
	c.ledger.Register(uint64(id), c.cfg.InitialCoins)
	c.lastDigest = computeDigest(c.state, c.ledger)
	return nil
}

// Run drives the fixed-rate tick loop until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	timer := time.NewTimer(c.interval())
	defer timer.Stop()
	c.log.Info("coordinator started", "interval", c.interval(), "deadline", c.cfg.Deadline)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("coordinator stopped", "tick", c.Tick())
			return
		case <-timer.C:
			c.runTick(ctx)
			timer.Reset(c.interval())
		}
	}
}

// Submit delivers one intention and blocks until the tick that consumed
// it commits. A second submission from the same agent in one tick is
// rejected immediately.
func (c *Coordinator) Submit(ctx context.Context, in Intention) (Outcome, error) {
	sub := submission{in: in, reply: make(chan Outcome, 1)}
	select {
	case c.submitCh <- sub:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	select {
	case out := <-sub.reply:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// runTick collects intentions until the deadline, then commits.
func (c *Coordinator) runTick(ctx context.Context) {
	pending := make(map[AgentID]submission)
	deadline := time.NewTimer(c.cfg.Deadline)
	defer deadline.Stop()
	active := c.activeAgents()

collect:
	for {
		select {
		case sub := <-c.submitCh:
			if _, dup := pending[sub.in.Agent]; dup {
				sub.reply <- Outcome{
					Tick:   c.Tick() + 1,
					Agent:  sub.in.Agent,
					Code:   OutcomeRejected,
					Reason: "duplicate intention this tick",
				}
				continue
			}
			pending[sub.in.Agent] = sub
			if len(pending) >= active {
				break collect
			}
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	intents := make([]Intention, 0, len(pending))
	for _, sub := range pending {
		intents = append(intents, sub.in)
	}

	outs, rec := c.StepOnce(intents)
	for id, sub := range pending {
		sub.reply <- outs[id]
	}
	for _, fn := range c.tickHooks() {
		fn(rec)
	}
}

// StepOnce executes exactly one tick against the given intentions and
// returns per-agent outcomes plus the committed record. Run uses it
// under the hood; tests and the replay verifier call it directly.
func (c *Coordinator) StepOnce(intents []Intention) (map[AgentID]Outcome, TickRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step(intents)
}

func (c *Coordinator) step(intents []Intention) (map[AgentID]Outcome, TickRecord) {
	tick := c.state.tick + 1
	outs := make(map[AgentID]Outcome, len(intents))

	// A desynced tick rejects every intention and otherwise commits
	// like an empty tick, so the replay log stays contiguous.
	voided := c.desynced
	if voided {
		if c.resyncFn != nil {
			if err := c.resyncFn(c.state.SortedResources(), c.lastDigest); err != nil {
				c.log.Error("resync failed, staying desynced", "tick", tick, "error", err)
			} else {
				c.desynced = false
				c.log.Warn("resynced with connector", "tick", tick)
			}
		} else {
			c.desynced = false
		}
		c.pushEvent(Event{Tick: tick, Kind: "desync", Message: "tick voided pending resync"})
	}

	// Deterministic execution order: registration rank, then id.
	sort.Slice(intents, func(i, j int) bool {
		ri, rj := c.state.RegOrder(intents[i].Agent), c.state.RegOrder(intents[j].Agent)
		if ri != rj {
			return ri < rj
		}
		return intents[i].Agent < intents[j].Agent
	})

	for _, t := range c.ledger.ExpireStale(tick) {
		c.pushEvent(Event{Tick: tick, Kind: "trade_expired", Agent: AgentID(t.Proposer),
			Message: fmt.Sprintf("trade %s expired unanswered", t.ID)})
	}

	// A suspended agent is a no-op for the tick: its intentions never
	// enter conflict resolution, so it cannot contest a resource away
	// from an active agent.
	live := make([]Intention, 0, len(intents))
	for _, in := range intents {
		if c.state.Suspended(in.Agent) {
			outs[in.Agent] = Outcome{Tick: tick, Agent: in.Agent, Code: OutcomeNoEffect, Reason: "agent suspended"}
			continue
		}
		live = append(live, in)
	}

	losers := resolveConflicts(c.state, live, c.cfg.TieBreak)

	var accepted []Intention
	for _, in := range live {
		switch {
		case voided:
			outs[in.Agent] = Outcome{
				Tick: tick, Agent: in.Agent, Code: OutcomeRejected,
				Reason: ErrWorldDesync.Error(),
			}
		case losers[in.Agent] != "":
			outs[in.Agent] = Outcome{
				Tick: tick, Agent: in.Agent, Code: OutcomeRejected,
				Reason:   "resource contested",
				Conflict: losers[in.Agent],
			}
		default:
			out := c.applyIntent(tick, in)
			outs[in.Agent] = out
			if out.Code == OutcomeApplied {
				accepted = append(accepted, in)
			}
		}
	}

	for _, s := range c.ledger.SettleAccepted(tick, invView{c.state}) {
		if !s.OK {
			c.pushEvent(Event{Tick: tick, Kind: "trade_rejected", Agent: AgentID(s.Trade.Proposer),
				Message: fmt.Sprintf("trade %s failed settlement: %s", s.Trade.ID, s.Reason)})
			continue
		}
		// Effects is a map; apply in agent order so a settlement
		// touches the state identically on every run and replay.
		parties := make([]uint64, 0, len(s.Effects))
		for agent := range s.Effects {
			parties = append(parties, agent)
		}
		sort.Slice(parties, func(i, j int) bool { return parties[i] < parties[j] })
		for _, agent := range parties {
			eff := s.Effects[agent]
			c.state.applyDelta(AgentID(agent), Delta{Items: eff.Items, Reputation: eff.Reputation})
			if out, ok := outs[AgentID(agent)]; ok && out.TradeID == s.Trade.ID {
				out.Delta.Items = eff.Items
				out.Delta.Coins = eff.Coins
				out.Delta.Reputation += eff.Reputation
				outs[AgentID(agent)] = out
			}
		}
		c.pushEvent(Event{Tick: tick, Kind: "trade_settled", Agent: AgentID(s.Trade.Proposer),
			Message: fmt.Sprintf("trade %s settled between %d and %d", s.Trade.ID, s.Trade.Proposer, s.Trade.Counterparty)})
	}

	var commits []SkillCommit
	if c.skills != nil {
		commits = c.skills.DrainCommits()
	}

	c.state.tick = tick
	digest := computeDigest(c.state, c.ledger)
	c.lastDigest = digest

	rec := TickRecord{Tick: tick, Accepted: accepted, SkillCommits: commits, Digest: digest}
	for _, l := range c.loggers {
		if err := l.WriteTick(rec); err != nil {
			c.log.Error("tick log write failed", "tick", tick, "error", err)
		}
	}
	c.log.Debug("tick committed", "tick", tick, "intents", len(intents), "accepted", len(accepted), "digest", digest[:12])
	return outs, rec
}

func (c *Coordinator) applyIntent(tick uint64, in Intention) Outcome {
	out := Outcome{Tick: tick, Agent: in.Agent}
	self, ok := c.state.Agent(in.Agent)
	if !ok {
		out.Code = OutcomeRejected
		out.Reason = "unknown agent"
		return out
	}

	switch in.Kind {
	case ActNoop, "":
		out.Code = OutcomeNoEffect

	case ActMove:
		if in.Dest == nil || !in.Dest.InRadius(c.state.Radius) {
			out.Code = OutcomeRejected
			out.Reason = "destination out of bounds"
			return out
		}
		dist := Distance(self.Pos, *in.Dest)
		if dist > maxMovePerTick {
			out.Code = OutcomeRejected
			out.Reason = fmt.Sprintf("destination %d hexes away, max %d per tick", dist, maxMovePerTick)
			return out
		}
		cost := float32(dist * moveEnergyCost)
		if self.Vitals.Energy < cost {
			out.Code = OutcomeRejected
			out.Reason = "insufficient energy"
			return out
		}
		out.Code = OutcomeApplied
		out.Delta = Delta{Pos: in.Dest, Energy: -cost}
		c.state.applyDelta(in.Agent, out.Delta)

	case ActGather:
		res, ok := c.state.Resource(in.Target)
		if !ok {
			out.Code = OutcomeNoEffect
			out.Reason = "resource depleted"
			return out
		}
		if Distance(self.Pos, res.Pos) > 1 {
			out.Code = OutcomeRejected
			out.Reason = "resource out of reach"
			return out
		}
		if self.Vitals.Energy < gatherCost {
			out.Code = OutcomeRejected
			out.Reason = "insufficient energy"
			return out
		}
		take := c.state.drainResource(in.Target, gatherYield[res.Kind])
		out.Code = OutcomeApplied
		out.Delta = Delta{Items: map[string]int{string(res.Kind): take}, Energy: -gatherCost}
		c.state.applyDelta(in.Agent, out.Delta)

	case ActRest:
		out.Code = OutcomeApplied
		out.Delta = Delta{Energy: restRecovery}
		c.state.applyDelta(in.Agent, out.Delta)

	case ActSkill:
		if c.skills == nil {
			out.Code = OutcomeRejected
			out.Reason = "no skill source configured"
			return out
		}
		sk, ok := c.skills.Lookup(in.Agent, in.Skill)
		if !ok {
			out.Code = OutcomeRejected
			out.Reason = fmt.Sprintf("unknown skill %q", in.Skill)
			return out
		}
		// The contract is re-checked here regardless of what the
		// synthesizer validated at commit time.
		if err := sk.Check(self); err != nil {
			out.Code = OutcomeRejected
			out.Reason = fmt.Sprintf("precondition: %v", err)
			return out
		}
		delta, err := sk.Apply(self)
		if err != nil {
			out.Code = OutcomeNoEffect
			out.Reason = err.Error()
			return out
		}
		out.Code = OutcomeApplied
		out.Delta = delta
		c.state.applyDelta(in.Agent, delta)

	case ActProposeTrade:
		t, err := c.ledger.Propose(tick, uint64(in.Agent), uint64(in.Counterparty),
			in.Offer, in.Request, in.OfferCoins, in.RequestCoins)
		if err != nil {
			out.Code = OutcomeRejected
			out.Reason = err.Error()
			return out
		}
		out.Code = OutcomeApplied
		out.TradeID = t.ID
		c.pushEvent(Event{Tick: tick, Kind: "trade_proposed", Agent: in.Agent,
			Message: fmt.Sprintf("trade %s proposed to %d", t.ID, t.Counterparty)})

	case ActAcceptTrade:
		t, err := c.ledger.Accept(in.TradeID, uint64(in.Agent), tick)
		if err != nil {
			out.Code = OutcomeRejected
			out.Reason = err.Error()
			return out
		}
		out.Code = OutcomeApplied
		out.TradeID = t.ID

	case ActCancelTrade:
		t, penalty, err := c.ledger.Cancel(in.TradeID, uint64(in.Agent), tick)
		if err != nil {
			out.Code = OutcomeRejected
			out.Reason = err.Error()
			return out
		}
		out.Code = OutcomeApplied
		out.TradeID = t.ID
		if penalty {
			out.Delta = Delta{Reputation: -economy.RepCancelPenalty}
			c.state.applyDelta(in.Agent, out.Delta)
			c.pushEvent(Event{Tick: tick, Kind: "trade_reneged", Agent: in.Agent,
				Message: fmt.Sprintf("trade %s cancelled after acceptance", t.ID)})
		}

	default:
		out.Code = OutcomeRejected
		out.Reason = fmt.Sprintf("unknown action %q", in.Kind)
	}
	return out
}

// Observe returns the bounded view for one agent at the current tick.
func (c *Coordinator) Observe(id AgentID) (View, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wealth := c.ledger.Balance(uint64(id))
	trades := c.ledger.PendingFor(uint64(id), c.state.tick)
	summaries := make([]TradeSummary, 0, len(trades))
	for _, t := range trades {
		summaries = append(summaries, TradeSummary{
			ID: t.ID, Proposer: AgentID(t.Proposer), Counterparty: AgentID(t.Counterparty),
			Offer: t.Offer, Request: t.Request,
			OfferCoins: t.OfferCoins, RequestCoins: t.RequestCoins,
			ExpiresTick: t.ExpiresTick,
		})
	}
	v, ok := c.state.viewFor(id, c.cfg.ViewRadius, wealth, summaries)
	if !ok {
		return View{}, fmt.Errorf("observe: unknown agent %d", id)
	}
	return v, nil
}

// Suspend pauses an agent; its intentions become no-ops until Resume.
func (c *Coordinator) Suspend(id AgentID) {
	c.mu.Lock()
	c.state.SetSuspended(id, true)
	c.mu.Unlock()
	c.log.Info("agent suspended", "agent", id)
}

// Resume clears suspension.
func (c *Coordinator) Resume(id AgentID) {
	c.mu.Lock()
	c.state.SetSuspended(id, false)
	c.mu.Unlock()
	c.log.Info("agent resumed", "agent", id)
}

// ReportDesync is called by the connector when the external client's
// digest diverges from ours. The next tick is voided and resync runs.
func (c *Coordinator) ReportDesync(clientDigest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if clientDigest == c.lastDigest {
		return
	}
	c.desynced = true
	c.log.Warn("desync reported", "ours", c.lastDigest[:12], "theirs", truncDigest(clientDigest))
}

func truncDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// SetSpeed scales the tick rate, clamped to [0.25, 8].
func (c *Coordinator) SetSpeed(mult float64) {
	if mult < 0.25 {
		mult = 0.25
	}
	if mult > 8 {
		mult = 8
	}
	c.mu.Lock()
	c.speed = mult
	c.mu.Unlock()
	c.log.Info("speed changed", "multiplier", mult)
}

// Speed returns the current tick rate multiplier.
func (c *Coordinator) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

func (c *Coordinator) interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(float64(c.cfg.Interval) / c.speed)
}

// Tick returns the last committed tick.
func (c *Coordinator) Tick() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.tick
}

// Digest returns the digest of the last committed tick.
func (c *Coordinator) Digest() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastDigest
}

// Ledger exposes the economy for read-model consumers (status API).
// Callers must not mutate through it outside the coordinator.
func (c *Coordinator) Ledger() *economy.Ledger { return c.ledger }

// Snapshot copies an agent's authoritative state.
func (c *Coordinator) Snapshot(id AgentID) (AgentState, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.state.Agent(id)
	return a, c.ledger.Balance(uint64(id)), ok
}

// AgentIDs lists registered agents in registration order.
func (c *Coordinator) AgentIDs() []AgentID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.AgentIDs()
}

// IsSuspended reports suspension state for one agent.
func (c *Coordinator) IsSuspended(id AgentID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Suspended(id)
}

// Resources lists live resource nodes.
func (c *Coordinator) Resources() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.SortedResources()
}

// RecordEvent appends to the event ring.
func (c *Coordinator) RecordEvent(e Event) {
	c.mu.Lock()
	c.pushEvent(e)
	c.mu.Unlock()
}

// Events returns up to limit most recent events, oldest first.
func (c *Coordinator) Events(limit int) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := 0
	if limit > 0 && len(c.events) > limit {
		start = len(c.events) - limit
	}
	out := make([]Event, len(c.events)-start)
	copy(out, c.events[start:])
	return out
}

func (c *Coordinator) pushEvent(e Event) {
	c.events = append(c.events, e)
	if len(c.events) > c.cfg.MaxEvents {
		c.events = c.events[len(c.events)-c.cfg.MaxEvents:]
	}
}

func (c *Coordinator) activeAgents() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, id := range c.state.regOrder {
		if !c.state.suspended[id] {
			n++
		}
	}
	return n
}

func (c *Coordinator) tickHooks() []func(TickRecord) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]func(TickRecord), len(c.onTick))
	copy(out, c.onTick)
	return out
}

// invView adapts State to the ledger's settlement-time item check.
type invView struct{ s *State }

func (v invView) HasItems(agent uint64, items map[string]int) bool {
	return v.s.hasItems(AgentID(agent), items)
}
