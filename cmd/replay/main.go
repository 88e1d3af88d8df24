// Command replay verifies a recorded run. It rebuilds the world from
// the seed, re-registers the saved agents, feeds the accepted intention
// log back through the coordinator and checks every per-tick digest.
// Any divergence means the run is not reproducible.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/ellory/everworld/internal/config"
	"github.com/ellory/everworld/internal/economy"
	"github.com/ellory/everworld/internal/persistence"
	"github.com/ellory/everworld/internal/skills"
	"github.com/ellory/everworld/internal/world"
)

func main() {
	configPath := flag.String("config", "everworld.yaml", "path to config file")
	logPath := flag.String("log", "", "zstd tick log to replay (default: ticks from the database)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config load failed", err)
	}

	db, err := persistence.Open(cfg.DB.Path)
	if err != nil {
		fatal("open database failed", err)
	}
	defer db.Close()

	seed := cfg.World.Seed
	if s, err := db.GetMeta("seed"); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			seed = v
		}
	}

	rows, err := db.LoadAgents()
	if err != nil {
		fatal("load agents failed", err)
	}
	if len(rows) == 0 {
		fatal("nothing to replay", errors.New("database holds no agents"))
	}

	var records []world.TickRecord
	if *logPath != "" {
		records, err = persistence.ReadTickLog(*logPath)
	} else {
		records, err = db.LoadTicks()
	}
	if err != nil {
		fatal("load tick records failed", err)
	}

	state := world.Generate(seed, cfg.World.Radius)
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
	for _, row := range rows {
		if err := coord.RegisterAgent(row.State.ID, row.State.Name, row.State.Pos); err != nil {
			fatal("re-register agent failed", err)
		}
		registry.SeedAgent(row.State.ID)
	}

	fmt.Printf("Replaying %d ticks (seed %d, %d agents)...\n", len(records), seed, len(rows))
	if err := world.Replay(coord, registry, records); err != nil {
		if errors.Is(err, world.ErrWorldDesync) {
			fmt.Fprintf(os.Stderr, "DIVERGED: %v\n", err)
			os.Exit(2)
		}
		fatal("replay failed", err)
	}

	fmt.Printf("OK: tick %d, digest %s\n", coord.Tick(), coord.Digest())
	for _, id := range coord.AgentIDs() {
		st, wealth, _ := coord.Snapshot(id)
		fmt.Printf("  agent %d %-20s pos (%d,%d) coins %d rep %.1f\n",
			id, st.Name, st.Pos.Q, st.Pos.R, wealth, st.Reputation)
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
