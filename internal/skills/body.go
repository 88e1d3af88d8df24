// Package skills holds each agent's library of executable skills and
// the synthesizer that grows it. A skill body is data: a short program
// over a capability-scoped instruction set, interpreted against the
// acting agent's own state. Bodies can only consume what the agent
// holds and produce within fixed caps, so a committed skill can never
// touch another agent or mint unbounded resources.
package skills

import (
	"encoding/json"
	"fmt"

	"github.com/ellory/everworld/internal/world"
)

// Instruction ops. Anything else fails validation.
const (
	OpConsume       = "consume"
	OpProduce       = "produce"
	OpSpendEnergy   = "spend_energy"
	OpRecoverEnergy = "recover_energy"
)

// Per-body limits enforced at validation and again at run time.
const (
	maxSteps          = 8
	maxProducePerStep = 8
	maxNetProduce     = 12
	maxEnergyPerStep  = 30
)

// Step is one instruction of a skill body.
type Step struct {
	Op     string  `json:"op"`
	Item   string  `json:"item,omitempty"`
	Count  int     `json:"count,omitempty"`
	Amount float32 `json:"amount,omitempty"`
}

// Body is the declarative form of a skill. Requires and MinEnergy are
// the precondition contract; Steps are the effect.
type Body struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Requires    map[string]int `json:"requires,omitempty"`
	MinEnergy   float32        `json:"min_energy,omitempty"`
	Steps       []Step         `json:"steps"`
}

// DecodeBody parses and structurally validates a body. Schema
// validation happens before this; DecodeBody enforces the limits the
// schema cannot express.
func DecodeBody(raw json.RawMessage) (Body, error) {
	var b Body
	if err := json.Unmarshal(raw, &b); err != nil {
		return Body{}, fmt.Errorf("decode skill body: %w", err)
	}
	if err := b.validate(); err != nil {
		return Body{}, err
	}
	return b, nil
}

func (b Body) validate() error {
	if b.Name == "" {
		return fmt.Errorf("skill body missing name")
	}
	if len(b.Steps) == 0 {
		return fmt.Errorf("skill %q has no steps", b.Name)
	}
	if len(b.Steps) > maxSteps {
		return fmt.Errorf("skill %q has %d steps, max %d", b.Name, len(b.Steps), maxSteps)
	}
	for k, v := range b.Requires {
		if v <= 0 {
			return fmt.Errorf("skill %q requires non-positive count of %q", b.Name, k)
		}
	}
	net := 0
	for i, st := range b.Steps {
		switch st.Op {
		case OpConsume:
			if st.Item == "" || st.Count <= 0 {
				return fmt.Errorf("skill %q step %d: consume needs item and positive count", b.Name, i)
			}
			net -= st.Count
		case OpProduce:
			if st.Item == "" || st.Count <= 0 {
				return fmt.Errorf("skill %q step %d: produce needs item and positive count", b.Name, i)
			}
			if st.Count > maxProducePerStep {
				return fmt.Errorf("skill %q step %d: produces %d, max %d per step", b.Name, i, st.Count, maxProducePerStep)
			}
			net += st.Count
		case OpSpendEnergy, OpRecoverEnergy:
			if st.Amount <= 0 || st.Amount > maxEnergyPerStep {
				return fmt.Errorf("skill %q step %d: energy amount %.1f outside (0, %d]", b.Name, i, st.Amount, maxEnergyPerStep)
			}
		default:
			return fmt.Errorf("skill %q step %d: unknown op %q", b.Name, i, st.Op)
		}
	}
	if net > maxNetProduce {
		return fmt.Errorf("skill %q nets %d items, max %d", b.Name, net, maxNetProduce)
	}
	return nil
}

// Produces sums the body's item output, net of consumption.
func (b Body) Produces() map[string]int {
	out := make(map[string]int)
	for _, st := range b.Steps {
		switch st.Op {
		case OpProduce:
			out[st.Item] += st.Count
		case OpConsume:
			out[st.Item] -= st.Count
		}
	}
	for k, v := range out {
		if v <= 0 {
			delete(out, k)
		}
	}
	return out
}

// check is the precondition contract over the acting agent's state.
func (b Body) check(self world.AgentState) error {
	for item, n := range b.Requires {
		if self.Inventory[item] < n {
			return fmt.Errorf("need %d %s, have %d", n, item, self.Inventory[item])
		}
	}
	if self.Vitals.Energy < b.MinEnergy {
		return fmt.Errorf("need %.0f energy, have %.0f", b.MinEnergy, self.Vitals.Energy)
	}
	return nil
}

// run interprets the steps against a scratch copy of the agent and
// returns the net delta. A consume that outruns the scratch inventory
// aborts with no delta.
func (b Body) run(self world.AgentState) (world.Delta, error) {
	scratch := self.Clone()
	delta := world.Delta{Items: make(map[string]int)}
	for i, st := range b.Steps {
		switch st.Op {
		case OpConsume:
			if scratch.Inventory[st.Item] < st.Count {
				return world.Delta{}, fmt.Errorf("step %d: short %d %s", i, st.Count-scratch.Inventory[st.Item], st.Item)
			}
			scratch.Inventory[st.Item] -= st.Count
			delta.Items[st.Item] -= st.Count
		case OpProduce:
			scratch.Inventory[st.Item] += st.Count
			delta.Items[st.Item] += st.Count
		case OpSpendEnergy:
			if scratch.Vitals.Energy < st.Amount {
				return world.Delta{}, fmt.Errorf("step %d: energy exhausted", i)
			}
			scratch.Vitals.Energy -= st.Amount
			delta.Energy -= st.Amount
		case OpRecoverEnergy:
			scratch.Vitals.Energy += st.Amount
			delta.Energy += st.Amount
		}
	}
	for k, v := range delta.Items {
		if v == 0 {
			delete(delta.Items, k)
		}
	}
	return delta, nil
}
