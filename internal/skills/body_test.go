package skills

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellory/everworld/internal/world"
)

func mustBody(t *testing.T, raw string) Body {
	t.Helper()
	b, err := DecodeBody(json.RawMessage(raw))
	require.NoError(t, err)
	return b
}

func TestDecodeBodyEnforcesCaps(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no steps", `{"name":"x_skill","description":"d","steps":[]}`},
		{"too many steps", `{"name":"x_skill","description":"d","steps":[
			{"op":"produce","item":"a","count":1},{"op":"produce","item":"a","count":1},
			{"op":"produce","item":"a","count":1},{"op":"produce","item":"a","count":1},
			{"op":"produce","item":"a","count":1},{"op":"produce","item":"a","count":1},
			{"op":"produce","item":"a","count":1},{"op":"produce","item":"a","count":1},
			{"op":"produce","item":"a","count":1}]}`},
		{"per-step produce cap", `{"name":"x_skill","description":"d","steps":[{"op":"produce","item":"a","count":9}]}`},
		{"net produce cap", `{"name":"x_skill","description":"d","steps":[
			{"op":"produce","item":"a","count":8},{"op":"produce","item":"b","count":8}]}`},
		{"energy cap", `{"name":"x_skill","description":"d","steps":[{"op":"spend_energy","amount":31}]}`},
		{"unknown op", `{"name":"x_skill","description":"d","steps":[{"op":"teleport"}]}`},
		{"negative require", `{"name":"x_skill","description":"d","requires":{"wood":-1},"steps":[{"op":"produce","item":"a","count":1}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeBody(json.RawMessage(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestBodyProducesIsNet(t *testing.T) {
	b := mustBody(t, `{"name":"mill","description":"d","steps":[
		{"op":"consume","item":"wood","count":2},
		{"op":"produce","item":"plank","count":3},
		{"op":"produce","item":"wood","count":1}]}`)

	assert.Equal(t, map[string]int{"plank": 3}, b.Produces(),
		"net-negative and zero items are not products")
}

func TestBodyRunAccumulatesDelta(t *testing.T) {
	b := mustBody(t, `{"name":"smelt","description":"d","requires":{"iron_ore":2},"min_energy":20,"steps":[
		{"op":"consume","item":"iron_ore","count":2},
		{"op":"spend_energy","amount":15},
		{"op":"produce","item":"tool","count":1}]}`)

	self := world.AgentState{
		Inventory: map[string]int{"iron_ore": 2},
		Vitals:    world.Vitals{Energy: 50, Health: 100},
	}
	delta, err := b.run(self)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"iron_ore": -2, "tool": 1}, delta.Items)
	assert.Equal(t, float32(-15), delta.Energy)

	// run works on a scratch copy.
	assert.Equal(t, 2, self.Inventory["iron_ore"])
}

func TestBodyRunAbortsOnShortfall(t *testing.T) {
	b := mustBody(t, `{"name":"smelt","description":"d","steps":[
		{"op":"consume","item":"iron_ore","count":2},
		{"op":"produce","item":"tool","count":1}]}`)

	delta, err := b.run(world.AgentState{Inventory: map[string]int{"iron_ore": 1}})
	assert.Error(t, err)
	assert.Equal(t, world.Delta{}, delta, "a failing step leaves no partial delta")
}

func TestValidateCandidate(t *testing.T) {
	good := `{"name":"weave","description":"weave herbs into a potion","requires":{"herb":2},"min_energy":10,
		"steps":[{"op":"consume","item":"herb","count":2},{"op":"spend_energy","amount":8},{"op":"produce","item":"potion","count":1}]}`
	body, err := ValidateCandidate(json.RawMessage(good))
	require.NoError(t, err)
	assert.Equal(t, "weave", body.Name)

	_, err = ValidateCandidate(json.RawMessage(`not json`))
	assert.Error(t, err)

	_, err = ValidateCandidate(json.RawMessage(`{"name":"BadName","description":"d","steps":[{"op":"produce","item":"a","count":1}]}`))
	assert.Error(t, err, "schema rejects the name pattern")

	_, err = ValidateCandidate(json.RawMessage(`{"name":"weave","description":"d","extra":true,"steps":[{"op":"produce","item":"a","count":1}]}`))
	assert.Error(t, err, "schema rejects unknown properties")

	// Declared contract is insufficient: consumes more than it requires.
	insufficient := `{"name":"weave","description":"d","requires":{"herb":1},
		"steps":[{"op":"consume","item":"herb","count":2},{"op":"produce","item":"potion","count":1}]}`
	_, err = ValidateCandidate(json.RawMessage(insufficient))
	assert.Error(t, err, "dry-run catches contracts the body cannot satisfy")
}

func TestSkillObserveEMA(t *testing.T) {
	sk := newSkill(seedBodies[0], 0.5, false)
	sk.Observe(true)
	assert.InDelta(t, 0.65, float64(sk.SuccessRate()), 1e-4)
	sk.Observe(false)
	assert.InDelta(t, 0.455, float64(sk.SuccessRate()), 1e-4)
	assert.Equal(t, 2, sk.Uses())
}
