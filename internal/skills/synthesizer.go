package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ellory/everworld/internal/memory"
	"github.com/ellory/everworld/internal/world"
)

// Gap describes a capability an agent wants but does not have.
type Gap struct {
	Agent world.AgentID
	// Item is the good the agent cannot currently produce.
	Item string
	// Context is free text from the planner about why the gap matters.
	Context string
}

// Generator produces candidate skill bodies for a gap. The production
// implementation talks to the reasoning backend; tests script it.
type Generator interface {
	GenerateSkill(ctx context.Context, gap Gap, feedback string) (json.RawMessage, error)
}

// Synthesizer runs the novelty -> generate -> validate -> commit
// pipeline. One synthesis request is handled at a time per call;
// callers serialize per agent by construction (one lifecycle
// goroutine each).
type Synthesizer struct {
	reg      *Registry
	gen      Generator
	memories *memory.Store
	attempts int
	log      *slog.Logger
}

func NewSynthesizer(reg *Registry, gen Generator, memories *memory.Store, attempts int, log *slog.Logger) *Synthesizer {
	if attempts <= 0 {
		attempts = 3
	}
	return &Synthesizer{reg: reg, gen: gen, memories: memories, attempts: attempts, log: log}
}

// Synthesize resolves a gap and returns the name of a committed skill
// covering it. The novelty check makes the call idempotent: an
// equivalent existing skill short-circuits generation entirely, so
// repeated requests for the same gap never duplicate work.
func (s *Synthesizer) Synthesize(ctx context.Context, gap Gap, tick uint64) (string, error) {
	if sk, ok := s.reg.FindProducing(gap.Agent, gap.Item); ok {
		s.log.Debug("gap already covered", "agent", gap.Agent, "item", gap.Item, "skill", sk.Name())
		return sk.Name(), nil
	}
	if name, ok := s.recallCommitted(gap, tick); ok {
		if _, live := s.reg.Lookup(gap.Agent, name); live {
			return name, nil
		}
	}

	if s.gen == nil {
		return "", fmt.Errorf("no skill generator configured: %w", world.ErrCapabilityGapUnresolved)
	}

	feedback := ""
	for attempt := 1; attempt <= s.attempts; attempt++ {
		raw, err := s.gen.GenerateSkill(ctx, gap, feedback)
		if err != nil {
			s.log.Warn("skill generation failed", "agent", gap.Agent, "item", gap.Item, "attempt", attempt, "error", err)
			feedback = fmt.Sprintf("previous attempt errored: %v", err)
			continue
		}
		body, err := ValidateCandidate(raw)
		if err != nil {
			s.log.Warn("candidate rejected", "agent", gap.Agent, "item", gap.Item, "attempt", attempt, "error", err)
			feedback = fmt.Sprintf("previous candidate was rejected: %v", err)
			continue
		}
		if n := body.Produces()[gap.Item]; n <= 0 {
			feedback = fmt.Sprintf("previous candidate %q does not produce %q", body.Name, gap.Item)
			s.log.Warn("candidate misses gap", "agent", gap.Agent, "item", gap.Item, "attempt", attempt, "skill", body.Name)
			continue
		}
		if err := s.reg.Commit(gap.Agent, body, raw); err != nil {
			feedback = fmt.Sprintf("previous candidate name collided: %v", err)
			continue
		}
		s.noteCommitted(gap, body.Name, tick)
		s.log.Info("skill committed", "agent", gap.Agent, "item", gap.Item, "skill", body.Name, "attempt", attempt)
		return body.Name, nil
	}
	return "", fmt.Errorf("no valid skill for %q after %d attempts: %w",
		gap.Item, s.attempts, world.ErrCapabilityGapUnresolved)
}

// synthMarker is the memory convention for recorded commits, letting
// the novelty check survive registry rebuilds.
func synthMarker(item string) string { return "synthesized skill for " + item }

func (s *Synthesizer) noteCommitted(gap Gap, name string, tick uint64) {
	if s.memories == nil {
		return
	}
	content := fmt.Sprintf("%s: committed %s", synthMarker(gap.Item), name)
	if _, err := s.memories.Append(uint64(gap.Agent), tick, content, 0.7); err != nil {
		s.log.Warn("synthesis memory write failed", "agent", gap.Agent, "error", err)
	}
}

func (s *Synthesizer) recallCommitted(gap Gap, tick uint64) (string, bool) {
	if s.memories == nil {
		return "", false
	}
	marker := synthMarker(gap.Item)
	for _, hit := range s.memories.Query(uint64(gap.Agent), marker, 3, tick) {
		if rest, ok := strings.CutPrefix(hit.Content, marker+": committed "); ok {
			return rest, true
		}
	}
	return "", false
}
