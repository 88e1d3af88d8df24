package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ellory/everworld/internal/skills"
	"github.com/ellory/everworld/internal/world"
)

const planSystemPrompt = `You are the mind of one agent in a persistent simulated world.
Each tick you choose exactly one action. Respond with ONLY a JSON object, no prose.

Actions:
  {"action":"move","q":<int>,"r":<int>}            move up to 2 hexes
  {"action":"gather","target":"<resource id>"}     gather an adjacent resource
  {"action":"skill","skill":"<skill name>"}        run a known skill
  {"action":"rest"}                                recover energy
  {"action":"propose_trade","counterparty":<id>,"offer":{"item":n},"request":{"item":n},"offer_coins":n,"request_coins":n}
  {"action":"accept_trade","trade_id":"<id>"}
  {"action":"cancel_trade","trade_id":"<id>"}
  {"action":"noop"}

If your goal needs an item no known skill produces and no visible resource
yields, respond instead with:
  {"gap":{"item":"<item>","context":"<one sentence>"}}

Rules: only reference resources, trades and skills present in the state you
are given. Keep energy above 10 or rest.`

const reflectSystemPrompt = `You are the mind of one agent in a simulated world, reviewing what just
happened. Respond with ONLY a JSON object:
  {"note":"<one sentence, first person>","importance":<0..1>,"goal_achieved":<bool>}`

const synthSystemPrompt = `You design skills for an agent in a simulated world. A skill is a JSON
program over the agent's own inventory and energy. Respond with ONLY the JSON
skill body, no prose, matching:
  {"name":"<snake_case>","description":"...","requires":{"item":n},"min_energy":<0..100>,
   "steps":[{"op":"consume|produce|spend_energy|recover_energy","item":"...","count":n,"amount":x}]}
Limits: at most 8 steps, at most 8 produced per step, net production at most
12 items, energy amounts in (0,30]. The skill must produce the requested item.`

const defaultModel = "claude-haiku-4-5-20251001"

// AnthropicBrain plans, reflects and synthesizes through the Anthropic
// Messages API. Calls are capped per minute; the cap is shared across
// all agents so a crowded world cannot stampede the backend.
type AnthropicBrain struct {
	client *anthropic.Client
	model  anthropic.Model
	log    *slog.Logger

	mu        sync.Mutex
	callCount int
	resetAt   time.Time
	maxPerMin int
}

// NewAnthropicBrain returns nil if apiKey is empty, which callers
// treat as "reasoning backend disabled".
func NewAnthropicBrain(apiKey, model string, maxPerMin int, log *slog.Logger) *AnthropicBrain {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = defaultModel
	}
	if maxPerMin <= 0 {
		maxPerMin = 20
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicBrain{
		client:    &client,
		model:     anthropic.Model(model),
		log:       log,
		maxPerMin: maxPerMin,
	}
}

// ErrRateLimited reports the local per-minute cap, distinct from the
// backend being unreachable.
var errRateLimited = fmt.Errorf("local call cap reached: %w", world.ErrBackendUnavailable)

func (b *AnthropicBrain) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if now.After(b.resetAt) {
		b.callCount = 0
		b.resetAt = now.Add(time.Minute)
	}
	if b.callCount >= b.maxPerMin {
		return errRateLimited
	}
	b.callCount++
	return nil
}

func (b *AnthropicBrain) complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	if err := b.acquire(); err != nil {
		return "", err
	}
	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages api: %v: %w", err, world.ErrBackendUnavailable)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty completion: %w", world.ErrBackendUnavailable)
	}
	b.log.Debug("completion",
		"model", b.model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return sb.String(), nil
}

// stripFences removes a markdown code fence if the model wrapped its
// JSON in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

type planDecision struct {
	Action       string         `json:"action"`
	Q            int            `json:"q"`
	R            int            `json:"r"`
	Target       string         `json:"target"`
	Skill        string         `json:"skill"`
	TradeID      string         `json:"trade_id"`
	Counterparty uint64         `json:"counterparty"`
	Offer        map[string]int `json:"offer"`
	Request      map[string]int `json:"request"`
	OfferCoins   uint64         `json:"offer_coins"`
	RequestCoins uint64         `json:"request_coins"`
	Gap          *struct {
		Item    string `json:"item"`
		Context string `json:"context"`
	} `json:"gap"`
}

// Plan implements Brain.
func (b *AnthropicBrain) Plan(ctx context.Context, pc PlanContext) (Planned, error) {
	raw, err := b.complete(ctx, planSystemPrompt, renderPlanPrompt(pc), 512)
	if err != nil {
		return Planned{}, err
	}
	var d planDecision
	if err := json.Unmarshal([]byte(stripFences(raw)), &d); err != nil {
		return Planned{}, fmt.Errorf("plan response is not valid JSON: %w", err)
	}
	if d.Gap != nil {
		return Planned{Gap: &skills.Gap{
			Agent:   pc.View.Self.ID,
			Item:    d.Gap.Item,
			Context: d.Gap.Context,
		}}, nil
	}
	in := world.Intention{Agent: pc.View.Self.ID}
	switch d.Action {
	case "move":
		in.Kind = world.ActMove
		in.Dest = &world.HexCoord{Q: d.Q, R: d.R}
	case "gather":
		in.Kind = world.ActGather
		in.Target = world.ResourceID(d.Target)
	case "skill":
		in.Kind = world.ActSkill
		in.Skill = d.Skill
	case "rest":
		in.Kind = world.ActRest
	case "propose_trade":
		in.Kind = world.ActProposeTrade
		in.Counterparty = world.AgentID(d.Counterparty)
		in.Offer = d.Offer
		in.Request = d.Request
		in.OfferCoins = d.OfferCoins
		in.RequestCoins = d.RequestCoins
	case "accept_trade":
		in.Kind = world.ActAcceptTrade
		in.TradeID = d.TradeID
	case "cancel_trade":
		in.Kind = world.ActCancelTrade
		in.TradeID = d.TradeID
	case "noop", "":
		in.Kind = world.ActNoop
	default:
		return Planned{}, fmt.Errorf("plan response names unknown action %q", d.Action)
	}
	return Planned{Intent: in}, nil
}

// Reflect implements Brain.
func (b *AnthropicBrain) Reflect(ctx context.Context, rc ReflectContext) (Reflection, error) {
	prompt := fmt.Sprintf("Goal: %s (want %s)\nTick %d outcome: %s %s\nDelta: %s\nEnergy now %.0f.",
		rc.GoalName, rc.WantItem, rc.Outcome.Tick, rc.Outcome.Code, rc.Outcome.Reason,
		compactJSON(rc.Outcome.Delta), rc.View.Self.Vitals.Energy)
	raw, err := b.complete(ctx, reflectSystemPrompt, prompt, 256)
	if err != nil {
		return Reflection{}, err
	}
	var r struct {
		Note         string  `json:"note"`
		Importance   float32 `json:"importance"`
		GoalAchieved bool    `json:"goal_achieved"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &r); err != nil {
		return Reflection{}, fmt.Errorf("reflect response is not valid JSON: %w", err)
	}
	return Reflection{Note: r.Note, Importance: r.Importance, GoalAchieved: r.GoalAchieved}, nil
}

// GenerateSkill implements skills.Generator.
func (b *AnthropicBrain) GenerateSkill(ctx context.Context, gap skills.Gap, feedback string) (json.RawMessage, error) {
	prompt := fmt.Sprintf("Design a skill that produces %q.\nContext: %s", gap.Item, gap.Context)
	if feedback != "" {
		prompt += "\n" + feedback
	}
	raw, err := b.complete(ctx, synthSystemPrompt, prompt, 512)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(stripFences(raw)), nil
}

func renderPlanPrompt(pc PlanContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s (want item: %s)\n", pc.GoalName, pc.WantItem)
	fmt.Fprintf(&sb, "State: %s\n", compactJSON(pc.View))
	if len(pc.Skills) > 0 {
		sb.WriteString("Known skills:\n")
		for _, sk := range pc.Skills {
			fmt.Fprintf(&sb, "  %s (success %.2f): %s\n", sk.Name, sk.SuccessRate, sk.Description)
		}
	}
	if len(pc.Memories) > 0 {
		sb.WriteString("Relevant memories:\n")
		for _, m := range pc.Memories {
			fmt.Fprintf(&sb, "  - %s\n", m)
		}
	}
	if pc.LastOutcome != nil {
		fmt.Fprintf(&sb, "Last tick: %s %s\n", pc.LastOutcome.Code, pc.LastOutcome.Reason)
	}
	return sb.String()
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
