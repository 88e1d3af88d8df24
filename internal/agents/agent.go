// Package agents runs the per-agent lifecycle: one goroutine per agent
// cycling Perceive -> Plan -> Act -> Reflect against the world
// coordinator. Agents never touch each other's state; every
// cross-agent effect flows through the coordinator.
package agents

import (
	"sync"

	"github.com/ellory/everworld/internal/world"
)

// LifecycleState is where an agent currently is in its cycle.
type LifecycleState string

const (
	StateIdle       LifecycleState = "idle"
	StatePlanning   LifecycleState = "planning"
	StateActing     LifecycleState = "acting"
	StateReflecting LifecycleState = "reflecting"
	StateSuspended  LifecycleState = "suspended"
)

// Affinity bands, derived from the scalar score.
const (
	BandAlly    = "ally"
	BandFriend  = "friend"
	BandNeutral = "neutral"
	BandRival   = "rival"
	BandEnemy   = "enemy"
)

// AffinityBand classifies a scalar affinity.
func AffinityBand(a float32) string {
	switch {
	case a >= 5:
		return BandAlly
	case a >= 2:
		return BandFriend
	case a <= -5:
		return BandEnemy
	case a <= -2:
		return BandRival
	default:
		return BandNeutral
	}
}

// Affinity deltas for economic interactions.
const (
	affinitySettled = 0.5
	affinityReneged = -1.5
)

// Agent is the lifecycle-owned half of an agent: goal, relationships,
// and cycle position. The physical half (position, inventory, vitals)
// lives in the world coordinator. Every Agent gets freshly allocated
// maps; nothing is shared between agents.
type Agent struct {
	ID   world.AgentID
	Name string

	mu          sync.Mutex
	state       LifecycleState
	goalIdx     int
	affinity    map[world.AgentID]float32
	lastOutcome *world.Outcome
}

// NewAgent builds an agent starting at the bottom of the curriculum.
func NewAgent(id world.AgentID, name string) *Agent {
	return &Agent{
		ID:       id,
		Name:     name,
		state:    StateIdle,
		affinity: make(map[world.AgentID]float32),
	}
}

// State returns the current lifecycle state.
func (a *Agent) State() LifecycleState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s LifecycleState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Goal returns the agent's current curriculum goal.
func (a *Agent) Goal() Goal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return curriculum[a.goalIdx]
}

func (a *Agent) advanceGoal() Goal {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.goalIdx = (a.goalIdx + 1) % len(curriculum)
	return curriculum[a.goalIdx]
}

// SetGoal forces a named curriculum goal, for owner interventions.
// Unknown names are ignored and reported false.
func (a *Agent) SetGoal(name string) bool {
	for i, g := range curriculum {
		if g.Name == name {
			a.mu.Lock()
			a.goalIdx = i
			a.mu.Unlock()
			return true
		}
	}
	return false
}

func (a *Agent) adjustAffinity(peer world.AgentID, delta float32) {
	a.mu.Lock()
	a.affinity[peer] += delta
	a.mu.Unlock()
}

// Relationships returns peer affinities with their bands.
func (a *Agent) Relationships() map[world.AgentID]Relationship {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[world.AgentID]Relationship, len(a.affinity))
	for peer, score := range a.affinity {
		out[peer] = Relationship{Affinity: score, Band: AffinityBand(score)}
	}
	return out
}

// Relationship is one edge of the social graph as seen by this agent.
type Relationship struct {
	Affinity float32 `json:"affinity"`
	Band     string  `json:"band"`
}

// LastOutcome returns the previous tick's result, if any.
func (a *Agent) LastOutcome() *world.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastOutcome
}

func (a *Agent) setLastOutcome(o world.Outcome) {
	a.mu.Lock()
	a.lastOutcome = &o
	a.mu.Unlock()
}
