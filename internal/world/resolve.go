package world

import "sort"

// TieBreak selects the winner among agents contesting one resource in
// the same tick. Policies must be deterministic.
type TieBreak string

const (
	// TieBreakRegistration awards the earliest-registered contender,
	// falling back to lowest agent id for unregistered ones.
	TieBreakRegistration TieBreak = "registration"
	// TieBreakAgentID awards the lowest agent id outright.
	TieBreakAgentID TieBreak = "agent_id"
)

// contested groups the tick's intentions by the resource they touch.
// Intentions without a resource claim pass through uncontested.
func contested(intents []Intention) map[ResourceID][]Intention {
	groups := make(map[ResourceID][]Intention)
	for _, in := range intents {
		if in.Kind == ActGather && in.Target != "" {
			groups[in.Target] = append(groups[in.Target], in)
		}
	}
	return groups
}

// resolveConflicts returns, per contested resource, the losing agents.
// At most one agent may act on a resource per tick; everyone else gets
// a rejection citing that resource.
func resolveConflicts(s *State, intents []Intention, policy TieBreak) map[AgentID]ResourceID {
	losers := make(map[AgentID]ResourceID)
	for res, group := range contested(intents) {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i].Agent, group[j].Agent
			if policy == TieBreakRegistration {
				ra, rb := s.RegOrder(a), s.RegOrder(b)
				if ra != rb {
					return ra < rb
				}
			}
			return a < b
		})
		for _, in := range group[1:] {
			losers[in.Agent] = res
		}
	}
	return losers
}
