package world

import "fmt"

// ReplaySkills is a skill source that can also re-ingest the bodies
// recorded in the tick log, so replay rebuilds each agent's registry
// exactly as it stood when the tick committed.
type ReplaySkills interface {
	SkillSource
	Restore(commit SkillCommit) error
}

// Replay applies an accepted-intention log to a freshly generated world
// and fails on the first digest divergence. The coordinator must wrap
// the same seed, radius, agent registrations, and config as the
// recorded run.
func Replay(c *Coordinator, skills ReplaySkills, records []TickRecord) error {
	if skills != nil {
		c.SetSkillSource(skills)
	}
	for _, rec := range records {
		for _, commit := range rec.SkillCommits {
			if skills == nil {
				return fmt.Errorf("tick %d: log carries skill commits but no skill source given", rec.Tick)
			}
			if err := skills.Restore(commit); err != nil {
				return fmt.Errorf("tick %d: restore skill %q for agent %d: %w",
					rec.Tick, commit.Name, commit.Agent, err)
			}
		}
		_, got := c.StepOnce(rec.Accepted)
		if got.Tick != rec.Tick {
			return fmt.Errorf("tick misalignment: log says %d, world at %d: %w",
				rec.Tick, got.Tick, ErrWorldDesync)
		}
		if got.Digest != rec.Digest {
			return fmt.Errorf("digest divergence at tick %d: logged %s, replayed %s: %w",
				rec.Tick, rec.Digest[:12], got.Digest[:12], ErrWorldDesync)
		}
	}
	return nil
}
