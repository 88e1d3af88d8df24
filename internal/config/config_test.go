package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellory/everworld/internal/world"
)

func TestTieBreakValuesMatchWorldPolicies(t *testing.T) {
	// The accepted strings convert directly to coordinator policies.
	assert.Equal(t, world.TieBreakRegistration, world.TieBreak(Default().World.TieBreak))
	for _, v := range []string{"registration", "agent_id"} {
		cfg := Default()
		cfg.World.TieBreak = v
		require.NoError(t, cfg.validate())
		switch world.TieBreak(v) {
		case world.TieBreakRegistration, world.TieBreakAgentID:
		default:
			t.Fatalf("tie_break %q does not map to a coordinator policy", v)
		}
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().World, cfg.World)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "everworld.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
world:
  seed: 42
  radius: 12
  tick_interval: 1s
  tick_deadline: 750ms
agents:
  count: 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.World.Seed)
	assert.Equal(t, 12, cfg.World.Radius)
	assert.Equal(t, time.Second, cfg.World.TickInterval)
	assert.Equal(t, 3, cfg.Agents.Count)
	// Untouched sections keep their defaults.
	assert.Equal(t, uint64(10), cfg.Trade.WindowTicks)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("EVERWORLD_SEED", "99")
	t.Setenv("EVERWORLD_PORT", "9090")
	t.Setenv("EVERWORLD_ADMIN_KEY", "sekrit")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(99), cfg.World.Seed)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "sekrit", cfg.API.AdminKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	write := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	_, err := Load(write(t, "world:\n  radius: 0\n"))
	assert.ErrorContains(t, err, "world.radius")

	_, err = Load(write(t, "world:\n  tick_interval: 1s\n  tick_deadline: 2s\n"))
	assert.ErrorContains(t, err, "tick_deadline")

	_, err = Load(write(t, "world:\n  tie_break: coin_flip\n"))
	assert.ErrorContains(t, err, "tie_break")

	_, err = Load(write(t, "agents:\n  count: -1\n"))
	assert.ErrorContains(t, err, "agents.count")

	_, err = Load(write(t, "trade:\n  window_ticks: 0\n"))
	assert.ErrorContains(t, err, "window_ticks")
}
