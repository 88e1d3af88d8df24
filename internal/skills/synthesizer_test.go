package skills

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellory/everworld/internal/memory"
	"github.com/ellory/everworld/internal/world"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedGen replays a fixed sequence of candidates and records the
// feedback it was handed on each call.
type scriptedGen struct {
	candidates []json.RawMessage
	errs       []error
	calls      int
	feedback   []string
}

func (g *scriptedGen) GenerateSkill(_ context.Context, _ Gap, feedback string) (json.RawMessage, error) {
	i := g.calls
	g.calls++
	g.feedback = append(g.feedback, feedback)
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.candidates) {
		return g.candidates[i], nil
	}
	return nil, errors.New("script exhausted")
}

var brewBody = json.RawMessage(`{"name":"brew","description":"brew herbs into a potion","requires":{"herb":2},"min_energy":10,
	"steps":[{"op":"consume","item":"herb","count":2},{"op":"spend_energy","amount":8},{"op":"produce","item":"potion","count":1}]}`)

func TestSynthesizeCommitsAfterRetries(t *testing.T) {
	reg := NewRegistry()
	reg.SeedAgent(1)
	gen := &scriptedGen{
		candidates: []json.RawMessage{
			json.RawMessage(`{"broken`),
			json.RawMessage(`{"name":"brew","description":"d","steps":[{"op":"produce","item":"bread","count":1}]}`),
			brewBody,
		},
	}
	syn := NewSynthesizer(reg, gen, nil, 3, discardLogger())

	name, err := syn.Synthesize(context.Background(), Gap{Agent: 1, Item: "potion"}, 10)
	require.NoError(t, err)
	assert.Equal(t, "brew", name)
	assert.Equal(t, 3, gen.calls)

	// Each retry carries forward what went wrong.
	assert.Empty(t, gen.feedback[0])
	assert.Contains(t, gen.feedback[1], "rejected")
	assert.Contains(t, gen.feedback[2], `does not produce "potion"`)

	commits := reg.DrainCommits()
	require.Len(t, commits, 1)
	assert.Equal(t, "brew", commits[0].Name)
}

func TestSynthesizeShortCircuitsOnCoveredGap(t *testing.T) {
	reg := NewRegistry()
	reg.SeedAgent(1)
	gen := &scriptedGen{}
	syn := NewSynthesizer(reg, gen, nil, 3, discardLogger())

	name, err := syn.Synthesize(context.Background(), Gap{Agent: 1, Item: "food"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "forage", name)
	assert.Zero(t, gen.calls, "covered gaps never reach the generator")
}

func TestSynthesizeIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	mem := memory.NewStore(memory.NewHashEmbedder(32), 0, 50)
	gen := &scriptedGen{candidates: []json.RawMessage{brewBody}}
	syn := NewSynthesizer(reg, gen, mem, 3, discardLogger())

	first, err := syn.Synthesize(context.Background(), Gap{Agent: 1, Item: "potion"}, 5)
	require.NoError(t, err)
	second, err := syn.Synthesize(context.Background(), Gap{Agent: 1, Item: "potion"}, 6)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, gen.calls)
}

func TestSynthesizeExhaustsAttempts(t *testing.T) {
	reg := NewRegistry()
	gen := &scriptedGen{errs: []error{
		errors.New("backend down"),
		errors.New("backend down"),
		errors.New("backend down"),
	}}
	syn := NewSynthesizer(reg, gen, nil, 3, discardLogger())

	_, err := syn.Synthesize(context.Background(), Gap{Agent: 1, Item: "potion"}, 1)
	assert.ErrorIs(t, err, world.ErrCapabilityGapUnresolved)
	assert.Equal(t, 3, gen.calls)
}

func TestSynthesizeWithoutGenerator(t *testing.T) {
	syn := NewSynthesizer(NewRegistry(), nil, nil, 3, discardLogger())

	_, err := syn.Synthesize(context.Background(), Gap{Agent: 1, Item: "potion"}, 1)
	assert.ErrorIs(t, err, world.ErrCapabilityGapUnresolved)
}
