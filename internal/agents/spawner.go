package agents

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/ellory/everworld/internal/brain"
	"github.com/ellory/everworld/internal/connector"
	"github.com/ellory/everworld/internal/memory"
	"github.com/ellory/everworld/internal/skills"
	"github.com/ellory/everworld/internal/world"
)

// Spawner creates agents with procedural names and spreads them over a
// ring near the origin. Spawning is deterministic from the seed.
type Spawner struct {
	rng    *rand.Rand
	nextID world.AgentID
}

func NewSpawner(seed int64) *Spawner {
	return &Spawner{rng: rand.New(rand.NewSource(seed)), nextID: 1}
}

// SetNextID positions the id sequence, for resuming persisted worlds.
func (s *Spawner) SetNextID(id world.AgentID) { s.nextID = id }

// SpawnAll registers count agents with the coordinator, seeds their
// skill libraries, and returns their lifecycles ready to Run. Every
// agent gets its own freshly built Agent; no state is shared.
func (s *Spawner) SpawnAll(count int, conn connector.Connector, coord *world.Coordinator, br brain.Brain, synth *skills.Synthesizer,
	registry *skills.Registry, memories *memory.Store, cfg LifecycleConfig, log *slog.Logger) ([]*Lifecycle, error) {

	lifecycles := make([]*Lifecycle, 0, count)
	for i := 0; i < count; i++ {
		id := s.nextID
		s.nextID++
		name := s.generateName()
		pos := spawnPosition(i)
		if err := coord.RegisterAgent(id, name, pos); err != nil {
			return nil, fmt.Errorf("spawn %s: %w", name, err)
		}
		registry.SeedAgent(id)
		agent := NewAgent(id, name)
		lifecycles = append(lifecycles, NewLifecycle(agent, conn, coord, br, synth, registry, memories, cfg, log))
		log.Info("agent spawned", "agent", id, "name", name, "q", pos.Q, "r", pos.R)
	}
	return lifecycles, nil
}

// Restore rebuilds a lifecycle for a persisted agent without
// re-registering it with the coordinator.
func (s *Spawner) Restore(agent *Agent, conn connector.Connector, coord *world.Coordinator, br brain.Brain, synth *skills.Synthesizer,
	registry *skills.Registry, memories *memory.Store, cfg LifecycleConfig, log *slog.Logger) *Lifecycle {
	if agent.ID >= s.nextID {
		s.nextID = agent.ID + 1
	}
	return NewLifecycle(agent, conn, coord, br, synth, registry, memories, cfg, log)
}

// spawnPosition walks outward rings so agents start spread out but
// within sight of each other.
func spawnPosition(i int) world.HexCoord {
	if i == 0 {
		return world.HexCoord{}
	}
	ring := (i-1)/6 + 1
	dir := world.HexNeighborDirections[(i-1)%6]
	return world.HexCoord{Q: dir.Q * ring * 2, R: dir.R * ring * 2}
}

func (s *Spawner) generateName() string {
	first := firstNames[s.rng.Intn(len(firstNames))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

// Name pools for procedural generation.
var firstNames = []string{
	"Aldric", "Astrid", "Bram", "Brenna", "Cedric", "Calla", "Doran",
	"Daria", "Erik", "Elara", "Finn", "Freya", "Gareth", "Greta",
	"Halvard", "Helene", "Iris", "Jasper", "Juno", "Kael", "Kira",
	"Leif", "Lena", "Magnus", "Mira", "Nils", "Nessa", "Oswin",
	"Olwen", "Petra", "Quinn", "Runa", "Rowan", "Senna", "Theron",
	"Thea", "Ulric", "Una", "Vera", "Wren", "Willa", "Yorick", "Zara",
}

var lastNames = []string{
	"Voss", "Thornwood", "Blackwood", "Ashford", "Ironhand", "Dunmore",
	"Greenvale", "Stormcrow", "Frostborn", "Hearthstone", "Millward",
	"Copperfield", "Ravenmoor", "Silverdale", "Wolfsbane", "Stoneheart",
	"Deepwell", "Brightwater", "Oakenshield", "Redforge", "Windholm",
	"Marshwood", "Goldhaven", "Nightingale", "Riverstone", "Steelworth",
}
