package world

import (
	"fmt"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// State is the authoritative world state. Only the coordinator writes
// to it; everything else sees copies taken at tick boundaries.
type State struct {
	Seed   int64
	Radius int

	tick      uint64
	resources map[ResourceID]*Resource
	agents    map[AgentID]*AgentState

	// regOrder is the registration order of agents, the default
	// tie-break authority for contested resources.
	regOrder  []AgentID
	suspended map[AgentID]bool
}

// noise bands map the sampled field onto resource kinds. Higher bands
// are rarer because the distribution concentrates around zero.
var noiseBands = []struct {
	min  float64
	kind ResourceKind
}{
	{0.62, ResourceGem},
	{0.48, ResourceIronOre},
	{0.34, ResourceStone},
	{0.20, ResourceWood},
	{0.08, ResourceFood},
	{0.02, ResourceHerb},
}

var resourceYields = map[ResourceKind]int{
	ResourceWood:    40,
	ResourceStone:   30,
	ResourceIronOre: 18,
	ResourceFood:    50,
	ResourceHerb:    24,
	ResourceGem:     6,
}

// Generate builds a world from a seed. The same seed and radius always
// produce the identical resource field.
func Generate(seed int64, radius int) *State {
	s := &State{
		Seed:      seed,
		Radius:    radius,
		resources: make(map[ResourceID]*Resource),
		agents:    make(map[AgentID]*AgentState),
		suspended: make(map[AgentID]bool),
	}
	noise := opensimplex.NewNormalized(seed)
	const scale = 0.17
	for q := -radius; q <= radius; q++ {
		for r := -radius; r <= radius; r++ {
			pos := HexCoord{Q: q, R: r}
			if !pos.InRadius(radius) {
				continue
			}
			v := noise.Eval2(float64(q)*scale, float64(r)*scale)
			// Fold [0,1] into distance from the midpoint so bands
			// pick out level sets of the field.
			field := v - 0.5
			if field < 0 {
				field = -field
			}
			for _, band := range noiseBands {
				if field >= band.min {
					id := ResourceID(fmt.Sprintf("%s_%d_%d", band.kind, q, r))
					s.resources[id] = &Resource{
						ID:        id,
						Kind:      band.kind,
						Pos:       pos,
						Remaining: resourceYields[band.kind],
					}
					break
				}
			}
		}
	}
	return s
}

// Tick returns the current tick counter.
func (s *State) Tick() uint64 { return s.tick }

// Register adds an agent to the world. Registration order is preserved
// and later drives conflict tie-breaks. Each agent gets freshly
// allocated state; nothing is shared between agents.
func (s *State) Register(id AgentID, name string, pos HexCoord) error {
	if _, ok := s.agents[id]; ok {
		return fmt.Errorf("agent %d already registered", id)
	}
	s.agents[id] = &AgentState{
		ID:        id,
		Name:      name,
		Pos:       pos,
		Inventory: make(map[string]int),
		Vitals:    Vitals{Health: 100, Energy: 100},
	}
	s.regOrder = append(s.regOrder, id)
	return nil
}

// RegOrder returns the registration rank of an agent, or a sentinel
// past the end for unknown agents.
func (s *State) RegOrder(id AgentID) int {
	for i, a := range s.regOrder {
		if a == id {
			return i
		}
	}
	return len(s.regOrder)
}

// Agent returns a copy of an agent's state.
func (s *State) Agent(id AgentID) (AgentState, bool) {
	a, ok := s.agents[id]
	if !ok {
		return AgentState{}, false
	}
	return a.Clone(), true
}

// AgentIDs returns all registered agents in registration order.
func (s *State) AgentIDs() []AgentID {
	out := make([]AgentID, len(s.regOrder))
	copy(out, s.regOrder)
	return out
}

// Resource returns a copy of a resource node.
func (s *State) Resource(id ResourceID) (Resource, bool) {
	r, ok := s.resources[id]
	if !ok {
		return Resource{}, false
	}
	return *r, true
}

// SortedResources returns all live resource nodes ordered by id.
// Deterministic iteration keeps digests and generated views stable.
func (s *State) SortedResources() []Resource {
	out := make([]Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetSuspended marks or clears suspension. Suspended agents count as
// no-op each tick until resumed.
func (s *State) SetSuspended(id AgentID, v bool) {
	if v {
		s.suspended[id] = true
	} else {
		delete(s.suspended, id)
	}
}

// Suspended reports whether the agent is suspended.
func (s *State) Suspended(id AgentID) bool { return s.suspended[id] }

// viewFor assembles the bounded perception for one agent.
func (s *State) viewFor(id AgentID, radius int, wealth uint64, trades []TradeSummary) (View, bool) {
	self, ok := s.agents[id]
	if !ok {
		return View{}, false
	}
	v := View{
		Tick:          s.tick,
		Self:          self.Clone(),
		Wealth:        wealth,
		PendingTrades: trades,
	}
	for _, r := range s.SortedResources() {
		if Distance(self.Pos, r.Pos) <= radius {
			v.Resources = append(v.Resources, r)
		}
	}
	for _, peer := range s.regOrder {
		if peer == id {
			continue
		}
		p := s.agents[peer]
		d := Distance(self.Pos, p.Pos)
		if d <= radius {
			v.Neighbors = append(v.Neighbors, NeighborView{
				ID: peer, Name: p.Name, Pos: p.Pos, Distance: d,
			})
		}
	}
	return v, true
}

// applyDelta writes an accepted delta onto an agent. Inventory floors
// at zero; vitals clamp to [0, 100].
func (s *State) applyDelta(id AgentID, d Delta) {
	a, ok := s.agents[id]
	if !ok {
		return
	}
	for item, n := range d.Items {
		next := a.Inventory[item] + n
		if next <= 0 {
			delete(a.Inventory, item)
		} else {
			a.Inventory[item] = next
		}
	}
	if d.Pos != nil {
		a.Pos = *d.Pos
	}
	a.Vitals.Energy = clamp01(a.Vitals.Energy + d.Energy)
	a.Vitals.Health = clamp01(a.Vitals.Health + d.Health)
	a.Reputation += d.Reputation
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// hasItems reports whether the agent holds at least the given counts.
func (s *State) hasItems(id AgentID, items map[string]int) bool {
	a, ok := s.agents[id]
	if !ok {
		return false
	}
	for item, n := range items {
		if a.Inventory[item] < n {
			return false
		}
	}
	return true
}

// drainResource removes up to want units from a node, deleting it when
// exhausted, and returns the amount actually taken.
func (s *State) drainResource(id ResourceID, want int) int {
	r, ok := s.resources[id]
	if !ok {
		return 0
	}
	take := want
	if take > r.Remaining {
		take = r.Remaining
	}
	r.Remaining -= take
	if r.Remaining <= 0 {
		delete(s.resources, id)
	}
	return take
}
