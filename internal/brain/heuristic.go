package brain

import (
	"context"
	"fmt"

	"github.com/ellory/everworld/internal/skills"
	"github.com/ellory/everworld/internal/world"
)

// restThreshold is the energy floor below which the heuristic always
// rests.
const restThreshold = 20

// Heuristic is a deterministic rule-based brain. It backs agents when
// no API key is configured, serves as the per-tick fallback when the
// reasoning backend is down, and scripts the agents in tests. Given
// the same PlanContext it always returns the same Planned.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

// Plan implements Brain.
func (h *Heuristic) Plan(_ context.Context, pc PlanContext) (Planned, error) {
	self := pc.View.Self
	in := world.Intention{Agent: self.ID}

	if self.Vitals.Energy < restThreshold {
		in.Kind = world.ActRest
		return Planned{Intent: in}, nil
	}

	// Reciprocate a pending trade when the asked-for goods are on hand.
	for _, t := range pc.View.PendingTrades {
		if holdsAll(self.Inventory, t.Request) && pc.View.Wealth >= t.RequestCoins {
			in.Kind = world.ActAcceptTrade
			in.TradeID = t.ID
			return Planned{Intent: in}, nil
		}
	}

	want := pc.WantItem
	if want == "" || self.Inventory[want] > 0 {
		in.Kind = world.ActRest
		return Planned{Intent: in}, nil
	}

	// A known skill that makes the item wins over walking somewhere.
	for _, sk := range pc.Skills {
		if sk.Produces[want] > 0 {
			in.Kind = world.ActSkill
			in.Skill = sk.Name
			return Planned{Intent: in}, nil
		}
	}

	// Otherwise head for the nearest node of the right kind.
	if res, ok := nearestOfKind(pc.View, want); ok {
		if world.Distance(self.Pos, res.Pos) <= 1 {
			in.Kind = world.ActGather
			in.Target = res.ID
			return Planned{Intent: in}, nil
		}
		dest := stepToward(self.Pos, res.Pos)
		in.Kind = world.ActMove
		in.Dest = &dest
		return Planned{Intent: in}, nil
	}

	return Planned{Gap: &skills.Gap{
		Agent:   self.ID,
		Item:    want,
		Context: fmt.Sprintf("goal %q needs %s; no skill or visible node yields it", pc.GoalName, want),
	}}, nil
}

// Reflect implements Brain.
func (h *Heuristic) Reflect(_ context.Context, rc ReflectContext) (Reflection, error) {
	achieved := rc.WantItem != "" && rc.View.Self.Inventory[rc.WantItem] > 0
	r := Reflection{GoalAchieved: achieved}
	switch rc.Outcome.Code {
	case world.OutcomeApplied:
		r.Note = fmt.Sprintf("tick %d: my action landed while working toward %s", rc.Outcome.Tick, rc.GoalName)
		r.Importance = 0.4
	case world.OutcomeRejected:
		if rc.Outcome.Conflict != "" {
			r.Note = fmt.Sprintf("tick %d: lost %s to a faster claimant", rc.Outcome.Tick, rc.Outcome.Conflict)
			r.Importance = 0.6
		} else {
			r.Note = fmt.Sprintf("tick %d: action rejected: %s", rc.Outcome.Tick, rc.Outcome.Reason)
			r.Importance = 0.5
		}
	default:
		r.Note = fmt.Sprintf("tick %d: nothing came of it", rc.Outcome.Tick)
		r.Importance = 0.1
	}
	if achieved {
		r.Note += fmt.Sprintf("; I now hold %s", rc.WantItem)
		r.Importance = 0.8
	}
	return r, nil
}

func holdsAll(inv map[string]int, items map[string]int) bool {
	for item, n := range items {
		if inv[item] < n {
			return false
		}
	}
	return true
}

// nearestOfKind scans the view's sorted resources, so ties resolve by
// resource id and the choice is reproducible.
func nearestOfKind(v world.View, item string) (world.Resource, bool) {
	var best world.Resource
	bestDist := -1
	for _, r := range v.Resources {
		if string(r.Kind) != item || r.Remaining <= 0 {
			continue
		}
		d := world.Distance(v.Self.Pos, r.Pos)
		if bestDist < 0 || d < bestDist {
			best, bestDist = r, d
		}
	}
	return best, bestDist >= 0
}

// stepToward picks the neighbor closest to the target, breaking ties by
// direction index.
func stepToward(from, to world.HexCoord) world.HexCoord {
	best := from
	bestDist := world.Distance(from, to)
	for _, n := range from.Neighbors() {
		if d := world.Distance(n, to); d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}
