package overseer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const systemPrompt = `You are the Overseer, an autonomous steward of Everworld, a persistent
simulated world where a handful of agents gather, craft and trade on a hex map.

Your role: observe world health and recommend zero or one gentle intervention
per cycle. You are a steward, not a god.

## Core Values (in priority order)

1. ANTI-STALL - If an agent is stuck (same goal for many cycles, repeated
   rejections, reputation collapsing), consider pinning it to an easier goal.

2. ANTI-ABUSE - An agent that repeatedly reneges on accepted trades poisons
   the economy. Suspending it for a while lets the others recover.

3. RESPECT FOR EMERGENCE - Use the lightest touch possible. A suspended agent
   should be resumed once the pressure it created is gone. When in doubt, do
   nothing.

## Available Actions

- "none"    - No intervention needed. This is the RIGHT choice most of the time.
- "suspend" - Freeze one agent. Its world state stays; it submits no actions.
- "resume"  - Unfreeze a suspended agent.
- "goal"    - Pin an agent to a named goal from the goal list you are given.

## Response Format

Respond with ONLY valid JSON, no markdown, no prose outside the JSON:
{"action":"none","rationale":"..."}
{"action":"suspend","agent":3,"rationale":"..."}
{"action":"resume","agent":3,"rationale":"..."}
{"action":"goal","agent":3,"goal":"gather_food","rationale":"..."}

## Important Rules

- "action" must be one of: "none", "suspend", "resume", "goal".
- Only reference agent ids and goal names present in the state you are given.
- Consider the recent cycle history: do not re-suspend an agent you just
  resumed, and do not flip goals every cycle.`

// Decision is the model's recommended action.
type Decision struct {
	Action    string `json:"action"`
	Agent     uint64 `json:"agent"`
	Goal      string `json:"goal"`
	Rationale string `json:"rationale"`
}

// Decide sends the snapshot to the model and returns a validated Decision.
func Decide(ctx context.Context, client *Client, snap *Snapshot, health *Health, mem *CycleMemory) (*Decision, error) {
	prompt := formatSnapshot(snap, health)
	if hist := mem.FormatForPrompt(); hist != "" {
		prompt += "\n" + hist
	}

	slog.Debug("overseer prompt", "length", len(prompt))

	resp, err := client.Complete(ctx, systemPrompt, prompt, 512)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var decision Decision
	if err := json.Unmarshal([]byte(resp), &decision); err != nil {
		return nil, fmt.Errorf("parse decision (raw: %s): %w", resp, err)
	}

	if err := enforceGuardrails(&decision, snap); err != nil {
		return nil, fmt.Errorf("guardrail violation: %w", err)
	}
	return &decision, nil
}

// enforceGuardrails rejects decisions referencing agents or goals the
// snapshot does not contain, and decisions that would be no-ops.
func enforceGuardrails(d *Decision, snap *Snapshot) error {
	if d.Action == "none" {
		return nil
	}

	var target *AgentInfo
	for i := range snap.Agents {
		if snap.Agents[i].ID == d.Agent {
			target = &snap.Agents[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("action %q names unknown agent %d", d.Action, d.Agent)
	}

	switch d.Action {
	case "suspend":
		if target.Suspended {
			return fmt.Errorf("agent %d is already suspended", d.Agent)
		}
	case "resume":
		if !target.Suspended {
			return fmt.Errorf("agent %d is not suspended", d.Agent)
		}
	case "goal":
		known := false
		for _, g := range snap.Goals {
			if g == d.Goal {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown goal %q", d.Goal)
		}
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
	return nil
}

// formatSnapshot builds a concise prompt from the snapshot and triage.
func formatSnapshot(snap *Snapshot, h *Health) string {
	var b strings.Builder

	s := snap.Status
	fmt.Fprintf(&b, "## World State (tick %d)\n", s.Tick)
	fmt.Fprintf(&b, "Agents: %d active, %d suspended\n", s.ActiveAgents, s.SuspendedAgents)
	fmt.Fprintf(&b, "Health: %s | avg reputation %.2f (min %.2f) | rejected trade share %.2f | reneges %d\n\n",
		h.CrisisLevel, h.AvgReputation, h.MinReputation, h.RejectedTradeShare, h.RecentReneges)

	fmt.Fprintf(&b, "## Agents\n")
	for _, a := range snap.Agents {
		fmt.Fprintf(&b, "- id %d %s: state=%s goal=%s wealth=%d rep=%.1f suspended=%t\n",
			a.ID, a.Name, a.State, a.Goal, a.Wealth, a.Reputation, a.Suspended)
	}
	b.WriteString("\n")

	if len(snap.Trades) > 0 {
		fmt.Fprintf(&b, "## Recent Trades\n")
		for i, t := range snap.Trades {
			if i >= 10 {
				fmt.Fprintf(&b, "(%d more not shown)\n", len(snap.Trades)-i)
				break
			}
			fmt.Fprintf(&b, "- %s: %d -> %d, %s, fairness %.2f\n",
				t.ID, t.Proposer, t.Counterparty, t.Status, t.Fairness)
		}
		b.WriteString("\n")
	}

	if len(snap.Events) > 0 {
		fmt.Fprintf(&b, "## Recent Events\n")
		for i, e := range snap.Events {
			if i >= 15 {
				break
			}
			fmt.Fprintf(&b, "- tick %d [%s] %s\n", e.Tick, e.Kind, e.Message)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Goals\n%s\n", strings.Join(snap.Goals, ", "))
	return b.String()
}
