package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ellory/everworld/internal/brain"
	"github.com/ellory/everworld/internal/connector"
	"github.com/ellory/everworld/internal/economy"
	"github.com/ellory/everworld/internal/memory"
	"github.com/ellory/everworld/internal/skills"
	"github.com/ellory/everworld/internal/world"
)

// LifecycleConfig bounds the planning phase.
type LifecycleConfig struct {
	// PlanDeadline caps one whole planning phase, retries included.
	PlanDeadline time.Duration
	// MaxRetries bounds reasoning-backend attempts within the deadline.
	MaxRetries int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// MemoryTopK is how many memories feed each plan.
	MemoryTopK int
	// SuspendPoll is how often a suspended agent checks for resume.
	SuspendPoll time.Duration
}

func (c *LifecycleConfig) defaults() {
	if c.PlanDeadline <= 0 {
		c.PlanDeadline = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.MemoryTopK <= 0 {
		c.MemoryTopK = 5
	}
	if c.SuspendPoll <= 0 {
		c.SuspendPoll = 500 * time.Millisecond
	}
}

// Lifecycle drives one agent. Run owns the goroutine; everything the
// agent does goes through the coordinator, so the loop's pace is set
// by tick commits (Submit blocks until the consuming tick lands).
type Lifecycle struct {
	agent    *Agent
	conn     connector.Connector
	coord    *world.Coordinator
	brain    brain.Brain
	fallback brain.Brain
	synth    *skills.Synthesizer
	registry *skills.Registry
	memories *memory.Store
	cfg      LifecycleConfig
	log      *slog.Logger
}

func NewLifecycle(agent *Agent, conn connector.Connector, coord *world.Coordinator, br brain.Brain, synth *skills.Synthesizer,
	registry *skills.Registry, memories *memory.Store, cfg LifecycleConfig, log *slog.Logger) *Lifecycle {
	cfg.defaults()
	return &Lifecycle{
		agent:    agent,
		conn:     conn,
		coord:    coord,
		brain:    br,
		fallback: brain.NewHeuristic(),
		synth:    synth,
		registry: registry,
		memories: memories,
		cfg:      cfg,
		log:      log.With("agent", agent.ID, "name", agent.Name),
	}
}

// Agent exposes the lifecycle-owned agent for the status API.
func (l *Lifecycle) Agent() *Agent { return l.agent }

// Run cycles Perceive -> Plan -> Act -> Reflect until the context is
// cancelled. Backend failures degrade a single tick, never the loop.
func (l *Lifecycle) Run(ctx context.Context) {
	l.log.Info("lifecycle started")
	for ctx.Err() == nil {
		if l.coord.IsSuspended(l.agent.ID) {
			l.agent.setState(StateSuspended)
			select {
			case <-ctx.Done():
			case <-time.After(l.cfg.SuspendPoll):
			}
			continue
		}

		view, err := l.conn.Observe(l.agent.ID)
		if err != nil {
			l.log.Error("perceive failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(l.cfg.BackoffBase):
			}
			continue
		}

		l.agent.setState(StatePlanning)
		intent := l.plan(ctx, view)

		l.agent.setState(StateActing)
		out, err := l.conn.SubmitAction(ctx, intent)
		if err != nil {
			break
		}
		l.agent.setLastOutcome(out)

		l.agent.setState(StateReflecting)
		l.reflect(ctx, view, intent, out)
		l.agent.setState(StateIdle)
	}
	l.agent.setState(StateIdle)
	l.log.Info("lifecycle stopped")
}

// plan produces exactly one intention. A plan-phase timeout degrades
// to a no-op for the tick; backend errors degrade to the deterministic
// heuristic. Either way the coordinator always gets an intention.
func (l *Lifecycle) plan(ctx context.Context, view world.View) world.Intention {
	goal := l.agent.Goal()
	pc := brain.PlanContext{
		View:        view,
		GoalName:    goal.Name,
		WantItem:    goal.WantItem,
		Memories:    l.recall(view, goal),
		Skills:      l.skillInfos(),
		LastOutcome: l.agent.LastOutcome(),
	}

	planCtx, cancel := context.WithTimeout(ctx, l.cfg.PlanDeadline)
	defer cancel()

	planned, err := l.planWithRetry(planCtx, pc)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		// Fatal for this tick only: a silent agent must not hold the
		// world up past the tick deadline anyway.
		l.log.Warn("plan deadline exceeded, defaulting to noop")
		return world.Intention{Agent: l.agent.ID, Kind: world.ActNoop}
	default:
		l.log.Warn("reasoning backend failed, using heuristic", "error", err)
		planned, err = l.fallback.Plan(ctx, pc)
		if err != nil {
			return world.Intention{Agent: l.agent.ID, Kind: world.ActNoop}
		}
	}

	if planned.Gap != nil {
		return l.resolveGap(ctx, view, *planned.Gap)
	}
	planned.Intent.Agent = l.agent.ID
	return planned.Intent
}

func (l *Lifecycle) planWithRetry(ctx context.Context, pc brain.PlanContext) (brain.Planned, error) {
	var lastErr error
	backoff := l.cfg.BackoffBase
	for attempt := 0; attempt < l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return brain.Planned{}, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
		planned, err := l.brain.Plan(ctx, pc)
		if err == nil {
			return planned, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return brain.Planned{}, ctx.Err()
		}
	}
	return brain.Planned{}, fmt.Errorf("plan failed after %d attempts: %w", l.cfg.MaxRetries, lastErr)
}

// resolveGap runs synthesis and, on success, spends the tick executing
// the new skill. An unresolved gap costs the tick and nothing else.
func (l *Lifecycle) resolveGap(ctx context.Context, view world.View, gap skills.Gap) world.Intention {
	name, err := l.synth.Synthesize(ctx, gap, view.Tick)
	if err != nil {
		l.log.Warn("capability gap stands", "item", gap.Item, "error", err)
		l.remember(view.Tick, fmt.Sprintf("I could not work out how to make %s", gap.Item), 0.5)
		return world.Intention{Agent: l.agent.ID, Kind: world.ActNoop}
	}
	return world.Intention{Agent: l.agent.ID, Kind: world.ActSkill, Skill: name}
}

func (l *Lifecycle) reflect(ctx context.Context, view world.View, intent world.Intention, out world.Outcome) {
	if intent.Kind == world.ActSkill && intent.Skill != "" {
		l.registry.Observe(l.agent.ID, intent.Skill, out.Code == world.OutcomeApplied)
	}
	if out.TradeID != "" && out.Code == world.OutcomeApplied {
		l.updateAffinity(out)
	}

	goal := l.agent.Goal()
	rc := brain.ReflectContext{View: view, Outcome: out, GoalName: goal.Name, WantItem: goal.WantItem}

	reflectCtx, cancel := context.WithTimeout(ctx, l.cfg.PlanDeadline)
	defer cancel()
	r, err := l.brain.Reflect(reflectCtx, rc)
	if err != nil {
		r, _ = l.fallback.Reflect(ctx, rc)
	}
	if r.Note != "" {
		l.remember(out.Tick, r.Note, r.Importance)
	}
	if r.GoalAchieved {
		next := l.agent.advanceGoal()
		l.log.Info("goal achieved", "done", goal.Name, "next", next.Name)
		l.remember(out.Tick, fmt.Sprintf("I finished %s and turned to %s", goal.Name, next.Name), 0.7)
	}
}

func (l *Lifecycle) updateAffinity(out world.Outcome) {
	t, ok := l.coord.Ledger().TradeByID(out.TradeID)
	if !ok {
		return
	}
	peer := world.AgentID(t.Proposer)
	if peer == l.agent.ID {
		peer = world.AgentID(t.Counterparty)
	}
	switch {
	case t.Status == economy.StatusSettled:
		l.agent.adjustAffinity(peer, affinitySettled)
	case out.Delta.Reputation < 0:
		// We reneged; the grudge we model is our own embarrassment
		// toward the peer we burned.
		l.agent.adjustAffinity(peer, affinityReneged)
	}
}

func (l *Lifecycle) recall(view world.View, goal Goal) []string {
	query := fmt.Sprintf("%s %s", goal.Name, goal.WantItem)
	hits := l.memories.Query(uint64(l.agent.ID), query, l.cfg.MemoryTopK, view.Tick)
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Content)
	}
	return out
}

func (l *Lifecycle) remember(tick uint64, note string, importance float32) {
	if _, err := l.memories.Append(uint64(l.agent.ID), tick, note, importance); err != nil {
		l.log.Warn("memory write failed", "error", err)
	}
}

func (l *Lifecycle) skillInfos() []brain.SkillInfo {
	list := l.registry.List(l.agent.ID)
	out := make([]brain.SkillInfo, 0, len(list))
	for _, sk := range list {
		out = append(out, brain.SkillInfo{
			Name:        sk.Name(),
			Description: sk.Description(),
			SuccessRate: sk.SuccessRate(),
			Produces:    sk.Produces(),
		})
	}
	return out
}
