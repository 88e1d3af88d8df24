// Package connector is the seam between the simulation and a world
// surface. The local connector runs against the in-process world
// state; the bridge carries the same protocol over a WebSocket to an
// external game client, including digest-based desync reporting.
package connector

import (
	"context"

	"github.com/ellory/everworld/internal/world"
)

// Connector is how agent-facing code reaches the world.
type Connector interface {
	// Observe returns the bounded view for one agent.
	Observe(agent world.AgentID) (world.View, error)
	// SubmitAction delivers one intention and blocks until the tick
	// that consumed it commits.
	SubmitAction(ctx context.Context, in world.Intention) (world.Outcome, error)
	// OnTick registers a callback for every committed tick.
	OnTick(fn func(world.TickRecord))
}

// Local serves the connector interface straight off the coordinator.
type Local struct {
	coord *world.Coordinator
}

func NewLocal(coord *world.Coordinator) *Local { return &Local{coord: coord} }

func (l *Local) Observe(agent world.AgentID) (world.View, error) {
	return l.coord.Observe(agent)
}

func (l *Local) SubmitAction(ctx context.Context, in world.Intention) (world.Outcome, error) {
	return l.coord.Submit(ctx, in)
}

func (l *Local) OnTick(fn func(world.TickRecord)) {
	l.coord.OnTick(fn)
}
