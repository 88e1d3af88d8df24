package agents

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellory/everworld/internal/brain"
	"github.com/ellory/everworld/internal/memory"
	"github.com/ellory/everworld/internal/skills"
	"github.com/ellory/everworld/internal/world"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stallBrain never answers until its context is cancelled.
type stallBrain struct{}

func (stallBrain) Plan(ctx context.Context, _ brain.PlanContext) (brain.Planned, error) {
	<-ctx.Done()
	return brain.Planned{}, ctx.Err()
}

func (stallBrain) Reflect(ctx context.Context, _ brain.ReflectContext) (brain.Reflection, error) {
	<-ctx.Done()
	return brain.Reflection{}, ctx.Err()
}

// failBrain errors on every call without consuming the deadline.
type failBrain struct{ calls int }

func (b *failBrain) Plan(context.Context, brain.PlanContext) (brain.Planned, error) {
	b.calls++
	return brain.Planned{}, assert.AnError
}

func (b *failBrain) Reflect(context.Context, brain.ReflectContext) (brain.Reflection, error) {
	return brain.Reflection{}, assert.AnError
}

// gapBrain reports a capability gap for the goal item.
type gapBrain struct{}

func (gapBrain) Plan(_ context.Context, pc brain.PlanContext) (brain.Planned, error) {
	return brain.Planned{Gap: &skills.Gap{Agent: pc.View.Self.ID, Item: pc.WantItem}}, nil
}

func (gapBrain) Reflect(context.Context, brain.ReflectContext) (brain.Reflection, error) {
	return brain.Reflection{}, nil
}

func newTestLifecycle(t *testing.T, br brain.Brain, gen skills.Generator) *Lifecycle {
	t.Helper()
	registry := skills.NewRegistry()
	registry.SeedAgent(1)
	memories := memory.NewStore(memory.NewHashEmbedder(32), 0, 50)
	synth := skills.NewSynthesizer(registry, gen, memories, 3, testLogger())
	cfg := LifecycleConfig{
		PlanDeadline: 100 * time.Millisecond,
		MaxRetries:   2,
		BackoffBase:  5 * time.Millisecond,
	}
	return NewLifecycle(NewAgent(1, "Ash"), nil, nil, br, synth, registry, memories, cfg, testLogger())
}

func planView() world.View {
	return world.View{
		Tick: 3,
		Self: world.AgentState{
			ID:        1,
			Name:      "Ash",
			Inventory: map[string]int{},
			Vitals:    world.Vitals{Health: 100, Energy: 80},
		},
		Wealth: 25,
	}
}

func TestPlanDeadlineDegradesToNoop(t *testing.T) {
	l := newTestLifecycle(t, stallBrain{}, nil)

	start := time.Now()
	intent := l.plan(context.Background(), planView())

	assert.Equal(t, world.ActNoop, intent.Kind)
	assert.Equal(t, world.AgentID(1), intent.Agent)
	assert.Less(t, time.Since(start), time.Second, "a silent backend must not stall the loop")
}

func TestPlanBackendErrorFallsBackToHeuristic(t *testing.T) {
	br := &failBrain{}
	l := newTestLifecycle(t, br, nil)

	intent := l.plan(context.Background(), planView())

	assert.Equal(t, l.cfg.MaxRetries, br.calls)
	// For the opening goal the heuristic reaches for the built-in forage
	// skill, which yields food directly.
	assert.Equal(t, world.ActSkill, intent.Kind)
	assert.Equal(t, "forage", intent.Skill)
	assert.Equal(t, world.AgentID(1), intent.Agent)
}

func TestPlanUnresolvedGapCostsOnlyTheTick(t *testing.T) {
	// No generator configured, so the reported gap cannot be resolved.
	l := newTestLifecycle(t, gapBrain{}, nil)
	require.True(t, l.agent.SetGoal("brew_potion"))

	intent := l.plan(context.Background(), planView())
	assert.Equal(t, world.ActNoop, intent.Kind)
}

func TestPlanResolvedGapExecutesNewSkill(t *testing.T) {
	gen := staticGen(`{"name":"brew","description":"brew herbs into a potion","requires":{"herb":2},"min_energy":10,
		"steps":[{"op":"consume","item":"herb","count":2},{"op":"spend_energy","amount":8},{"op":"produce","item":"potion","count":1}]}`)
	l := newTestLifecycle(t, gapBrain{}, gen)
	require.True(t, l.agent.SetGoal("brew_potion"))

	intent := l.plan(context.Background(), planView())
	assert.Equal(t, world.ActSkill, intent.Kind)
	assert.Equal(t, "brew", intent.Skill)
}

// staticGen returns the same candidate on every call.
type staticGen string

func (g staticGen) GenerateSkill(context.Context, skills.Gap, string) (json.RawMessage, error) {
	return json.RawMessage(g), nil
}

func TestAffinityBands(t *testing.T) {
	assert.Equal(t, BandAlly, AffinityBand(5))
	assert.Equal(t, BandFriend, AffinityBand(2.5))
	assert.Equal(t, BandNeutral, AffinityBand(0))
	assert.Equal(t, BandNeutral, AffinityBand(-1.9))
	assert.Equal(t, BandRival, AffinityBand(-2))
	assert.Equal(t, BandEnemy, AffinityBand(-6))
}

func TestGoalCurriculumWraps(t *testing.T) {
	a := NewAgent(1, "Ash")
	assert.Equal(t, "gather_food", a.Goal().Name)

	for i := 0; i < len(GoalNames())-1; i++ {
		a.advanceGoal()
	}
	assert.Equal(t, "prospect_gems", a.Goal().Name)
	assert.Equal(t, "gather_food", a.advanceGoal().Name)
}

func TestSetGoalValidates(t *testing.T) {
	a := NewAgent(1, "Ash")
	assert.True(t, a.SetGoal("mine_iron"))
	assert.Equal(t, "mine_iron", a.Goal().Name)
	assert.False(t, a.SetGoal("conquer_the_world"))
	assert.Equal(t, "mine_iron", a.Goal().Name)
}

func TestRelationshipsReportBands(t *testing.T) {
	a := NewAgent(1, "Ash")
	a.adjustAffinity(2, affinitySettled)
	a.adjustAffinity(2, affinitySettled)
	a.adjustAffinity(2, affinitySettled)
	a.adjustAffinity(2, affinitySettled)
	a.adjustAffinity(3, affinityReneged)
	a.adjustAffinity(3, affinityReneged)

	rel := a.Relationships()
	assert.Equal(t, BandFriend, rel[2].Band)
	assert.Equal(t, BandRival, rel[3].Band)
}
