// Command worldsim runs the Everworld simulation: a persistent hex
// world where a handful of agents perceive, plan, act and trade on a
// fixed tick cadence. World state survives restarts; the accepted
// intention log makes every run replayable.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ellory/everworld/internal/agents"
	"github.com/ellory/everworld/internal/api"
	"github.com/ellory/everworld/internal/brain"
	"github.com/ellory/everworld/internal/config"
	"github.com/ellory/everworld/internal/connector"
	"github.com/ellory/everworld/internal/economy"
	"github.com/ellory/everworld/internal/memory"
	"github.com/ellory/everworld/internal/persistence"
	"github.com/ellory/everworld/internal/skills"
	"github.com/ellory/everworld/internal/world"
)

// autosaveEvery is the tick period between full world saves.
const autosaveEvery = 50

func main() {
	configPath := flag.String("config", "everworld.yaml", "path to config file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	db, err := persistence.Open(cfg.DB.Path)
	if err != nil {
		slog.Error("open database failed", "path", cfg.DB.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DB.Path)

	embedder := memory.NewHashEmbedder(cfg.Memory.Dim)
	memories := memory.NewStore(embedder, cfg.Memory.PerAgentCap, cfg.Memory.HalfLifeTicks)

	// The map is always regenerated: it is deterministic from the seed,
	// and resource drain is reproduced by replaying the tick log.
	state := world.Generate(cfg.World.Seed, cfg.World.Radius)
	ledger := economy.NewLedger(cfg.Trade.WindowTicks)
	coord := world.NewCoordinator(world.Config{
		Interval:     cfg.World.TickInterval,
		Deadline:     cfg.World.TickDeadline,
		ViewRadius:   cfg.World.ViewRadius,
		TieBreak:     world.TieBreak(cfg.World.TieBreak),
		InitialCoins: cfg.World.InitialCoins,
	}, state, ledger, logger)

	registry := skills.NewRegistry()
	coord.SetSkillSource(registry)

	// Reasoning backend: the Messages API when a key is present, the
	// deterministic heuristic otherwise.
	var br brain.Brain
	var gen skills.Generator
	if ab := brain.NewAnthropicBrain(cfg.Brain.APIKey, cfg.Brain.Model, cfg.Brain.MaxPerMin, logger); ab != nil {
		br, gen = ab, ab
		slog.Info("reasoning backend enabled", "model", cfg.Brain.Model)
	} else {
		br = brain.NewHeuristic()
		slog.Warn("ANTHROPIC_API_KEY not set, running on the heuristic brain (no skill synthesis)")
	}
	synth := skills.NewSynthesizer(registry, gen, memories, cfg.Brain.SynthAttempts, logger)

	conn := connector.NewLocal(coord)
	spawner := agents.NewSpawner(cfg.World.Seed)
	lcCfg := agents.LifecycleConfig{
		PlanDeadline: cfg.Agents.PlanDeadline,
		MaxRetries:   cfg.Agents.MaxRetries,
		BackoffBase:  cfg.Agents.BackoffBase,
		MemoryTopK:   cfg.Agents.MemoryTopK,
	}

	var lifecycles []*agents.Lifecycle
	if resumed, err := resume(db, coord, registry, memories); err != nil {
		slog.Error("resume failed", "error", err)
		os.Exit(1)
	} else if resumed != nil {
		for _, ag := range resumed {
			lifecycles = append(lifecycles, spawner.Restore(ag, conn, coord, br, synth, registry, memories, lcCfg, logger))
		}
		slog.Info("world restored", "tick", coord.Tick(), "agents", len(lifecycles), "digest", coord.Digest())
	} else {
		lifecycles, err = spawner.SpawnAll(cfg.Agents.Count, conn, coord, br, synth, registry, memories, lcCfg, logger)
		if err != nil {
			slog.Error("spawn failed", "error", err)
			os.Exit(1)
		}
		if err := db.SaveWorldState(snapshotWorld(cfg.World.Seed, coord, registry, lifecycles)); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	}

	// New memories flow to the database from here on; restored ones
	// were loaded above and must not be re-appended.
	memories.SetBackend(db)

	ticklog, err := persistence.OpenTickLog(cfg.World.TickLogPath)
	if err != nil {
		slog.Error("open tick log failed", "error", err)
		os.Exit(1)
	}
	defer ticklog.Close()
	coord.AddTickLogger(db)
	coord.AddTickLogger(ticklog)

	byID := make(map[world.AgentID]*agents.Lifecycle, len(lifecycles))
	for _, lc := range lifecycles {
		byID[lc.Agent().ID] = lc
	}

	coord.OnTick(func(rec world.TickRecord) {
		if rec.Tick%autosaveEvery != 0 {
			return
		}
		if err := db.SaveWorldState(snapshotWorld(cfg.World.Seed, coord, registry, lifecycles)); err != nil {
			slog.Error("autosave failed", "tick", rec.Tick, "error", err)
		}
	})

	bridge := connector.NewBridge(coord, logger)
	apiServer := &api.Server{
		Coord:      coord,
		Lifecycles: byID,
		Registry:   registry,
		Memories:   memories,
		Bridge:     bridge,
		Port:       cfg.API.Port,
		AdminKey:   cfg.API.AdminKey,
	}
	if cfg.API.AdminKey == "" {
		slog.Warn("EVERWORLD_ADMIN_KEY not set, admin POST endpoints disabled")
	}
	apiServer.Start()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	for _, lc := range lifecycles {
		go lc.Run(ctx)
	}

	fmt.Printf("Everworld is alive: %d agents on a radius-%d map, seed %d.\n",
		len(lifecycles), cfg.World.Radius, cfg.World.Seed)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	if coord.Tick() > 0 {
		fmt.Printf("Resuming from tick %d\n", coord.Tick())
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	coord.Run(ctx)

	slog.Info("final save")
	if err := db.SaveWorldState(snapshotWorld(cfg.World.Seed, coord, registry, lifecycles)); err != nil {
		slog.Error("final save failed", "error", err)
	}
	fmt.Println("Simulation stopped. World state saved.")
}

// resume rebuilds the world from the database by re-registering the
// saved agents and replaying the accepted intention log. Returns nil
// with no error when the database holds no prior run.
func resume(db *persistence.DB, coord *world.Coordinator, registry *skills.Registry, memories *memory.Store) ([]*agents.Agent, error) {
	if _, err := db.GetMeta("last_tick"); err != nil {
		return nil, nil
	}

	rows, err := db.LoadAgents()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// Registration order is part of the digest; LoadAgents returns rows
	// ordered by id, matching the original spawn order.
	for _, row := range rows {
		if err := coord.RegisterAgent(row.State.ID, row.State.Name, row.State.Pos); err != nil {
			return nil, fmt.Errorf("re-register agent %d: %w", row.State.ID, err)
		}
		registry.SeedAgent(row.State.ID)
	}

	ticks, err := db.LoadTicks()
	if err != nil {
		return nil, err
	}
	if err := world.Replay(coord, registry, ticks); err != nil {
		return nil, fmt.Errorf("replay %d ticks: %w", len(ticks), err)
	}

	// Replay restores every committed skill body but not its history;
	// success rates and use counts come from the last save.
	skillRows, err := db.LoadSkills()
	if err != nil {
		return nil, err
	}
	for _, row := range skillRows {
		if !registry.RestoreStats(world.AgentID(row.Agent), row.Name, row.SuccessRate, row.Uses) {
			slog.Warn("saved skill missing from replayed library", "agent", row.Agent, "skill", row.Name)
		}
	}

	recs, err := db.LoadMemories()
	if err != nil {
		return nil, err
	}
	memories.Restore(recs)

	var out []*agents.Agent
	for _, row := range rows {
		ag := agents.NewAgent(row.State.ID, row.State.Name)
		if row.Goal != "" && !ag.SetGoal(row.Goal) {
			slog.Warn("saved goal no longer exists", "agent", row.State.ID, "goal", row.Goal)
		}
		if row.Suspended {
			coord.Suspend(row.State.ID)
		}
		out = append(out, ag)
	}
	return out, nil
}

// snapshotWorld assembles a full persistence snapshot from the live
// coordinator, registry and lifecycles.
func snapshotWorld(seed int64, coord *world.Coordinator, registry *skills.Registry, lifecycles []*agents.Lifecycle) persistence.Snapshot {
	goals := make(map[world.AgentID]string, len(lifecycles))
	rels := make(map[world.AgentID]json.RawMessage, len(lifecycles))
	for _, lc := range lifecycles {
		ag := lc.Agent()
		goals[ag.ID] = ag.Goal().Name
		if data, err := json.Marshal(ag.Relationships()); err == nil {
			rels[ag.ID] = data
		}
	}

	snap := persistence.Snapshot{
		Tick:   coord.Tick(),
		Seed:   seed,
		Trades: coord.Ledger().Trades(0),
		Events: coord.Events(0),
	}
	for _, id := range coord.AgentIDs() {
		state, wealth, ok := coord.Snapshot(id)
		if !ok {
			continue
		}
		snap.Agents = append(snap.Agents, persistence.AgentRow{
			State:         state,
			Wealth:        wealth,
			Goal:          goals[id],
			Suspended:     coord.IsSuspended(id),
			Relationships: rels[id],
		})
		for _, sk := range registry.List(id) {
			body, err := json.Marshal(sk.Body())
			if err != nil {
				continue
			}
			snap.Skills = append(snap.Skills, persistence.SkillRow{
				Agent:       uint64(id),
				Name:        sk.Name(),
				SuccessRate: sk.SuccessRate(),
				Uses:        sk.Uses(),
				Builtin:     sk.Builtin(),
				Body:        body,
			})
		}
	}
	return snap
}
