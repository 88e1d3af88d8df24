// Package brain is the reasoning layer behind agent decisions. The
// production implementation talks to the Anthropic Messages API; a
// deterministic heuristic brain serves as fallback and as the scripted
// backend in tests. Brains are stateless between calls; everything the
// decision needs arrives in the context structs.
package brain

import (
	"context"

	"github.com/ellory/everworld/internal/skills"
	"github.com/ellory/everworld/internal/world"
)

// SkillInfo is the planner's view of one library entry.
type SkillInfo struct {
	Name        string
	Description string
	SuccessRate float32
	Produces    map[string]int
}

// PlanContext is everything a brain sees when choosing the next
// intention for one tick.
type PlanContext struct {
	View        world.View
	GoalName    string
	WantItem    string
	Memories    []string
	Skills      []SkillInfo
	LastOutcome *world.Outcome
}

// Planned is a plan result: either a concrete intention, or a
// capability gap the agent must resolve through synthesis first.
type Planned struct {
	Intent world.Intention
	Gap    *skills.Gap
}

// ReflectContext carries the tick's result into reflection.
type ReflectContext struct {
	View     world.View
	Outcome  world.Outcome
	GoalName string
	WantItem string
}

// Reflection is what an agent writes down and concludes after a tick.
type Reflection struct {
	Note         string
	Importance   float32
	GoalAchieved bool
}

// Brain plans one intention per tick and reflects on its outcome.
// Implementations must be safe for concurrent use: every agent
// goroutine shares one brain.
type Brain interface {
	Plan(ctx context.Context, pc PlanContext) (Planned, error)
	Reflect(ctx context.Context, rc ReflectContext) (Reflection, error)
}
