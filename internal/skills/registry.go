package skills

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ellory/everworld/internal/world"
)

// initialEstimate is the success rate assigned to a freshly
// synthesized skill before any execution has been observed.
const initialEstimate = 0.5

// seedBodies are the built-in skills every agent starts with. Seeds
// are part of initial world state, so they never enter the commit log.
var seedBodies = []Body{
	{
		Name:        "forage",
		Description: "Scrounge the immediate area for something edible.",
		MinEnergy:   5,
		Steps: []Step{
			{Op: OpSpendEnergy, Amount: 5},
			{Op: OpProduce, Item: "food", Count: 1},
		},
	},
	{
		Name:        "craft_tool",
		Description: "Shape wood and stone into a crude tool.",
		Requires:    map[string]int{"wood": 2, "stone": 1},
		MinEnergy:   10,
		Steps: []Step{
			{Op: OpConsume, Item: "wood", Count: 2},
			{Op: OpConsume, Item: "stone", Count: 1},
			{Op: OpSpendEnergy, Amount: 8},
			{Op: OpProduce, Item: "tool", Count: 1},
		},
	},
}

// Registry holds every agent's skill library. It implements both
// world.SkillSource (execution-time lookup plus commit draining) and
// world.ReplaySkills (log-driven restore).
type Registry struct {
	mu      sync.RWMutex
	byAgent map[world.AgentID]map[string]*Skill
	pending []world.SkillCommit
}

func NewRegistry() *Registry {
	return &Registry{byAgent: make(map[world.AgentID]map[string]*Skill)}
}

// SeedAgent installs the built-in skills for a new agent. Each agent
// gets its own freshly allocated Skill values; libraries are never
// shared between agents.
func (r *Registry) SeedAgent(agent world.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byAgent[agent] == nil {
		r.byAgent[agent] = make(map[string]*Skill)
	}
	for _, body := range seedBodies {
		r.byAgent[agent][body.Name] = newSkill(body, 0.8, true)
	}
}

// Commit adds a validated body to an agent's library and queues it for
// the tick log. Committing an identical body twice is a no-op; a name
// collision with a different body is rejected so an agent's library
// never holds two incompatible contracts under one name.
func (r *Registry) Commit(agent world.AgentID, body Body, raw json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib := r.byAgent[agent]
	if lib == nil {
		lib = make(map[string]*Skill)
		r.byAgent[agent] = lib
	}
	if existing, ok := lib[body.Name]; ok {
		if reflect.DeepEqual(existing.body, body) {
			return nil
		}
		return fmt.Errorf("skill %q already committed with a different contract", body.Name)
	}
	lib[body.Name] = newSkill(body, initialEstimate, false)
	r.pending = append(r.pending, world.SkillCommit{Agent: agent, Name: body.Name, Body: raw})
	return nil
}

// Restore implements world.ReplaySkills: re-ingest a logged commit
// without queueing it again.
func (r *Registry) Restore(commit world.SkillCommit) error {
	body, err := DecodeBody(commit.Body)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	lib := r.byAgent[commit.Agent]
	if lib == nil {
		lib = make(map[string]*Skill)
		r.byAgent[commit.Agent] = lib
	}
	lib[body.Name] = newSkill(body, initialEstimate, false)
	return nil
}

// RestoreStats reapplies persisted execution statistics to a skill
// that already exists in the agent's library. The tick-log replay
// rebuilds every library entry at its initial estimate; the saved
// success rate and use count are the part replay cannot reproduce.
func (r *Registry) RestoreStats(agent world.AgentID, name string, successRate float32, uses int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sk, ok := r.byAgent[agent][name]
	if !ok {
		return false
	}
	sk.successRate = successRate
	sk.uses = uses
	return true
}

// Lookup implements world.SkillSource.
func (r *Registry) Lookup(agent world.AgentID, name string) (world.SkillContract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sk, ok := r.byAgent[agent][name]
	if !ok {
		return nil, false
	}
	return sk, true
}

// DrainCommits implements world.SkillSource: commits queued since the
// last drain, in commit order.
func (r *Registry) DrainCommits() []world.SkillCommit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

// Observe records an execution result against a named skill.
func (r *Registry) Observe(agent world.AgentID, name string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sk, ok := r.byAgent[agent][name]; ok {
		sk.Observe(success)
	}
}

// FindProducing returns the agent's best skill whose net output
// includes the item, ranked by retrieval score.
func (r *Registry) FindProducing(agent world.AgentID, item string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Skill
	var bestScore float64
	for _, name := range sortedNames(r.byAgent[agent]) {
		sk := r.byAgent[agent][name]
		if n, ok := sk.Produces()[item]; !ok || n <= 0 {
			continue
		}
		if score := sk.retrievalScore(item); best == nil || score > bestScore {
			best, bestScore = sk, score
		}
	}
	return best, best != nil
}

// List returns an agent's skills ordered by name.
func (r *Registry) List(agent world.AgentID) []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := sortedNames(r.byAgent[agent])
	out := make([]*Skill, 0, len(names))
	for _, name := range names {
		out = append(out, r.byAgent[agent][name])
	}
	return out
}

func sortedNames(lib map[string]*Skill) []string {
	names := make([]string, 0, len(lib))
	for name := range lib {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
