package skills

import (
	"math"

	"github.com/ellory/everworld/internal/world"
)

// emaAlpha weights the latest execution when updating the rolling
// success rate.
const emaAlpha = 0.3

// Skill is a committed, executable skill. It satisfies
// world.SkillContract; the coordinator re-checks the precondition at
// execution time whatever the synthesizer validated.
type Skill struct {
	body        Body
	successRate float32
	uses        int
	builtin     bool
}

func newSkill(body Body, initialRate float32, builtin bool) *Skill {
	return &Skill{body: body, successRate: initialRate, builtin: builtin}
}

func (s *Skill) Name() string        { return s.body.Name }
func (s *Skill) Body() Body          { return s.body }
func (s *Skill) Description() string { return s.body.Description }
func (s *Skill) Builtin() bool       { return s.builtin }

// SuccessRate is the exponential moving average of execution results.
func (s *Skill) SuccessRate() float32 { return s.successRate }

// Uses is how many executions have been observed.
func (s *Skill) Uses() int { return s.uses }

// Produces is the skill's net item output per execution.
func (s *Skill) Produces() map[string]int { return s.body.Produces() }

// Check implements world.SkillContract.
func (s *Skill) Check(self world.AgentState) error { return s.body.check(self) }

// Apply implements world.SkillContract. The delta is computed on a
// scratch copy; a failing step leaves the agent untouched.
func (s *Skill) Apply(self world.AgentState) (world.Delta, error) { return s.body.run(self) }

// Observe folds one execution result into the success rate.
func (s *Skill) Observe(success bool) {
	x := float32(0)
	if success {
		x = 1
	}
	s.successRate = emaAlpha*x + (1-emaAlpha)*s.successRate
	s.uses++
}

// retrievalScore ranks skills for goal-directed lookup: does it make
// the wanted item, does it usually work, has it been exercised.
func (s *Skill) retrievalScore(wantItem string) float64 {
	score := float64(s.successRate)
	if n, ok := s.Produces()[wantItem]; ok && n > 0 {
		score += 2
	}
	score += 0.1 * math.Log1p(float64(s.uses))
	return score
}
