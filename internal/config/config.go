// Package config loads the server configuration: YAML file first,
// environment overrides second, defaults underneath.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full worldsim configuration.
type Config struct {
	World  WorldConfig  `yaml:"world"`
	Agents AgentsConfig `yaml:"agents"`
	Trade  TradeConfig  `yaml:"trade"`
	Brain  BrainConfig  `yaml:"brain"`
	Memory MemoryConfig `yaml:"memory"`
	API    APIConfig    `yaml:"api"`
	DB     DBConfig     `yaml:"db"`
}

type WorldConfig struct {
	Seed         int64         `yaml:"seed"`
	Radius       int           `yaml:"radius"`
	TickInterval time.Duration `yaml:"tick_interval"`
	TickDeadline time.Duration `yaml:"tick_deadline"`
	ViewRadius   int           `yaml:"view_radius"`
	TieBreak     string        `yaml:"tie_break"`
	TickLogPath  string        `yaml:"tick_log_path"`
	InitialCoins uint64        `yaml:"initial_coins"`
}

type AgentsConfig struct {
	Count        int           `yaml:"count"`
	PlanDeadline time.Duration `yaml:"plan_deadline"`
	MaxRetries   int           `yaml:"max_retries"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	MemoryTopK   int           `yaml:"memory_top_k"`
}

type TradeConfig struct {
	WindowTicks uint64 `yaml:"window_ticks"`
}

type BrainConfig struct {
	// APIKey comes from the environment only, never from the file.
	APIKey        string `yaml:"-"`
	Model         string `yaml:"model"`
	MaxPerMin     int    `yaml:"max_per_min"`
	SynthAttempts int    `yaml:"synth_attempts"`
}

type MemoryConfig struct {
	Dim           int     `yaml:"dim"`
	HalfLifeTicks float64 `yaml:"half_life_ticks"`
	PerAgentCap   int     `yaml:"per_agent_cap"`
}

type APIConfig struct {
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"-"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		World: WorldConfig{
			Seed:         1,
			Radius:       24,
			TickInterval: 2 * time.Second,
			TickDeadline: 1500 * time.Millisecond,
			ViewRadius:   6,
			TieBreak:     "registration",
			TickLogPath:  "ticks.jsonl.zst",
			InitialCoins: 25,
		},
		Agents: AgentsConfig{
			Count:        6,
			PlanDeadline: 5 * time.Second,
			MaxRetries:   3,
			BackoffBase:  200 * time.Millisecond,
			MemoryTopK:   5,
		},
		Trade:  TradeConfig{WindowTicks: 10},
		Brain:  BrainConfig{MaxPerMin: 20, SynthAttempts: 3},
		Memory: MemoryConfig{Dim: 64, HalfLifeTicks: 200, PerAgentCap: 512},
		API:    APIConfig{Port: 8080},
		DB:     DBConfig{Path: "everworld.db"},
	}
}

// Load reads the YAML file at path (optional: empty path or a missing
// file keeps defaults) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Brain.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if v := os.Getenv("EVERWORLD_ADMIN_KEY"); v != "" {
		c.API.AdminKey = v
	}
	if v := os.Getenv("EVERWORLD_DB"); v != "" {
		c.DB.Path = v
	}
	if v := os.Getenv("EVERWORLD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.API.Port = port
		}
	}
	if v := os.Getenv("EVERWORLD_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.World.Seed = seed
		}
	}
}

func (c *Config) validate() error {
	if c.World.Radius <= 0 {
		return fmt.Errorf("world.radius must be positive, got %d", c.World.Radius)
	}
	if c.World.TickDeadline >= c.World.TickInterval {
		return fmt.Errorf("world.tick_deadline %s must be below tick_interval %s",
			c.World.TickDeadline, c.World.TickInterval)
	}
	if c.Agents.Count <= 0 {
		return fmt.Errorf("agents.count must be positive, got %d", c.Agents.Count)
	}
	if c.Trade.WindowTicks == 0 {
		return fmt.Errorf("trade.window_ticks must be positive")
	}
	switch c.World.TieBreak {
	case "registration", "agent_id":
	default:
		return fmt.Errorf("world.tie_break must be registration or agent_id, got %q", c.World.TieBreak)
	}
	return nil
}
