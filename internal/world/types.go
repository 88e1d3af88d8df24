package world

import "encoding/json"

// AgentID identifies an agent for the lifetime of the world.
type AgentID uint64

// ResourceID identifies a gatherable resource node.
type ResourceID string

// ResourceKind is the kind of material a node yields.
type ResourceKind string

const (
	ResourceWood    ResourceKind = "wood"
	ResourceStone   ResourceKind = "stone"
	ResourceIronOre ResourceKind = "iron_ore"
	ResourceFood    ResourceKind = "food"
	ResourceHerb    ResourceKind = "herb"
	ResourceGem     ResourceKind = "gem"
)

// Resource is a node on the hex grid that agents gather from.
type Resource struct {
	ID        ResourceID   `json:"id"`
	Kind      ResourceKind `json:"kind"`
	Pos       HexCoord     `json:"pos"`
	Remaining int          `json:"remaining"`
}

// Vitals tracks an agent's physical condition. Both values are clamped
// to [0, 100] when deltas are applied.
type Vitals struct {
	Health float32 `json:"health"`
	Energy float32 `json:"energy"`
}

// AgentState is the coordinator's authoritative view of one agent.
// Inventory counts never go negative.
type AgentState struct {
	ID         AgentID        `json:"id"`
	Name       string         `json:"name"`
	Pos        HexCoord       `json:"pos"`
	Inventory  map[string]int `json:"inventory"`
	Vitals     Vitals         `json:"vitals"`
	Reputation float32        `json:"reputation"`
}

// Clone deep-copies the agent state so sandboxed dry-runs and snapshots
// never alias the coordinator's maps.
func (a AgentState) Clone() AgentState {
	out := a
	out.Inventory = make(map[string]int, len(a.Inventory))
	for k, v := range a.Inventory {
		out.Inventory[k] = v
	}
	return out
}

// ActionKind discriminates Intention payloads.
type ActionKind string

const (
	ActNoop         ActionKind = "noop"
	ActMove         ActionKind = "move"
	ActGather       ActionKind = "gather"
	ActSkill        ActionKind = "skill"
	ActRest         ActionKind = "rest"
	ActProposeTrade ActionKind = "propose_trade"
	ActAcceptTrade  ActionKind = "accept_trade"
	ActCancelTrade  ActionKind = "cancel_trade"
)

// Intention is one agent's intended action for one tick. Exactly one
// intention per agent per tick is accepted; later duplicates are rejected.
type Intention struct {
	Agent AgentID    `json:"agent"`
	Kind  ActionKind `json:"kind"`

	// Move
	Dest *HexCoord `json:"dest,omitempty"`

	// Gather
	Target ResourceID `json:"target,omitempty"`

	// Skill
	Skill string `json:"skill,omitempty"`

	// Trade
	TradeID      string         `json:"trade_id,omitempty"`
	Counterparty AgentID        `json:"counterparty,omitempty"`
	Offer        map[string]int `json:"offer,omitempty"`
	Request      map[string]int `json:"request,omitempty"`
	OfferCoins   uint64         `json:"offer_coins,omitempty"`
	RequestCoins uint64         `json:"request_coins,omitempty"`
}

// OutcomeCode classifies how the coordinator disposed of an intention.
type OutcomeCode string

const (
	OutcomeApplied  OutcomeCode = "applied"
	OutcomeNoEffect OutcomeCode = "no_effect"
	OutcomeRejected OutcomeCode = "rejected"
)

// Outcome is the per-tick result returned to the submitting agent.
// Conflict names the contested resource when a rejection was caused by
// the exclusivity rule; it is an outcome, not an error.
type Outcome struct {
	Tick     uint64      `json:"tick"`
	Agent    AgentID     `json:"agent"`
	Code     OutcomeCode `json:"code"`
	Reason   string      `json:"reason,omitempty"`
	Conflict ResourceID  `json:"conflict,omitempty"`
	Delta    Delta       `json:"delta"`
	TradeID  string      `json:"trade_id,omitempty"`
}

// Delta is the state change an accepted intention produced for its agent.
type Delta struct {
	Items      map[string]int `json:"items,omitempty"`
	Coins      int64          `json:"coins,omitempty"`
	Pos        *HexCoord      `json:"pos,omitempty"`
	Energy     float32        `json:"energy,omitempty"`
	Health     float32        `json:"health,omitempty"`
	Reputation float32        `json:"reputation,omitempty"`
}

// TradeSummary is the coordinator's read-model of a pending trade,
// surfaced in views so counterparties can decide to reciprocate.
type TradeSummary struct {
	ID           string         `json:"id"`
	Proposer     AgentID        `json:"proposer"`
	Counterparty AgentID        `json:"counterparty"`
	Offer        map[string]int `json:"offer"`
	Request      map[string]int `json:"request"`
	OfferCoins   uint64         `json:"offer_coins"`
	RequestCoins uint64         `json:"request_coins"`
	ExpiresTick  uint64         `json:"expires_tick"`
}

// NeighborView is what one agent perceives about another within radius.
type NeighborView struct {
	ID       AgentID  `json:"id"`
	Name     string   `json:"name"`
	Pos      HexCoord `json:"pos"`
	Distance int      `json:"distance"`
}

// View is the bounded, position-local perception handed to an agent
// at the start of its tick. It is a copy; mutating it has no effect.
type View struct {
	Tick          uint64         `json:"tick"`
	Self          AgentState     `json:"self"`
	Wealth        uint64         `json:"wealth"`
	Resources     []Resource     `json:"resources"`
	Neighbors     []NeighborView `json:"neighbors"`
	PendingTrades []TradeSummary `json:"pending_trades"`
}

// SkillContract is the executable surface of a committed skill. The
// coordinator re-checks the precondition at execution time; a passing
// Check does not guarantee Apply succeeds.
type SkillContract interface {
	Name() string
	Check(self AgentState) error
	Apply(self AgentState) (Delta, error)
}

// SkillSource resolves a skill name for an agent at execution time and
// reports commits made during the tick so they enter the replay log.
type SkillSource interface {
	Lookup(agent AgentID, name string) (SkillContract, bool)
	DrainCommits() []SkillCommit
}

// SkillCommit records a skill body committed during a tick. Bodies are
// data; replay reconstructs registries from them.
type SkillCommit struct {
	Agent AgentID         `json:"agent"`
	Name  string          `json:"name"`
	Body  json.RawMessage `json:"body"`
}

// TickRecord is one entry of the accepted-intention log. State after the
// tick is a pure function of prior state and this record, so replaying
// records reproduces Digest exactly.
type TickRecord struct {
	Tick         uint64        `json:"tick"`
	Accepted     []Intention   `json:"accepted"`
	SkillCommits []SkillCommit `json:"skill_commits,omitempty"`
	Digest       string        `json:"digest"`
}

// TickLogger receives one record per committed tick.
type TickLogger interface {
	WriteTick(rec TickRecord) error
}

// Event is a world happening surfaced on the status API.
type Event struct {
	Tick    uint64  `json:"tick"`
	Kind    string  `json:"kind"`
	Agent   AgentID `json:"agent,omitempty"`
	Message string  `json:"message"`
}
