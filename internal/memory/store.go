// Package memory is the agents' episodic store: append-only,
// agent-scoped records ranked at retrieval by semantic similarity
// discounted by age. Records never change after the write; forgetting
// happens by pruning the least valuable ones once an agent exceeds
// its cap.
package memory

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/viterin/vek/vek32"
)

// Record is one immutable observation.
type Record struct {
	ID        string    `json:"id"`
	Agent     uint64    `json:"agent"`
	Seq       uint64    `json:"seq"`
	Tick      uint64    `json:"tick"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	// Importance is the writer's estimate in [0, 1]; its effective
	// value decays with age and drives pruning order.
	Importance float32 `json:"importance"`
}

// Scored pairs a record with its retrieval score for one query.
type Scored struct {
	Record
	Score float32 `json:"score"`
}

// Backend is a persistence sink for appended records. Appends are
// forwarded after the in-memory write; a failing backend is logged by
// the caller and never blocks recall.
type Backend interface {
	AppendMemory(rec Record) error
}

// Store holds every agent's memory stream.
type Store struct {
	mu       sync.RWMutex
	byAgent  map[uint64][]Record
	lastSeq  map[uint64]uint64
	lastTick map[uint64]uint64

	embedder Embedder
	backend  Backend

	perAgentCap int
	halfLife    float64
}

// NewStore builds a store. halfLifeTicks controls recency decay:
// a record's weight halves every halfLifeTicks ticks of age.
func NewStore(embedder Embedder, perAgentCap int, halfLifeTicks float64) *Store {
	if perAgentCap <= 0 {
		perAgentCap = 512
	}
	if halfLifeTicks <= 0 {
		halfLifeTicks = 200
	}
	return &Store{
		byAgent:     make(map[uint64][]Record),
		lastSeq:     make(map[uint64]uint64),
		lastTick:    make(map[uint64]uint64),
		embedder:    embedder,
		perAgentCap: perAgentCap,
		halfLife:    halfLifeTicks,
	}
}

// SetBackend attaches a persistence sink for subsequent appends.
func (s *Store) SetBackend(b Backend) {
	s.mu.Lock()
	s.backend = b
	s.mu.Unlock()
}

// Append writes one observation. Sequence numbers are strictly
// monotonic per agent; a tick at or before the agent's last write is
// coerced forward so the stream's clock never runs backwards.
func (s *Store) Append(agent, tick uint64, content string, importance float32) (Record, error) {
	if content == "" {
		return Record{}, fmt.Errorf("append for agent %d: empty content", agent)
	}
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	s.mu.Lock()
	if last := s.lastTick[agent]; tick <= last && s.lastSeq[agent] > 0 {
		tick = last + 1
	}
	s.lastSeq[agent]++
	s.lastTick[agent] = tick
	rec := Record{
		ID:         uuid.NewString(),
		Agent:      agent,
		Seq:        s.lastSeq[agent],
		Tick:       tick,
		Content:    content,
		Embedding:  s.embedder.Embed(content),
		Importance: importance,
	}
	s.byAgent[agent] = append(s.byAgent[agent], rec)
	s.pruneLocked(agent, tick)
	backend := s.backend
	s.mu.Unlock()

	if backend != nil {
		if err := backend.AppendMemory(rec); err != nil {
			return rec, fmt.Errorf("persist memory %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// Restore reinserts persisted records, keeping per-agent clocks ahead
// of them. Used on resume; the backend is not re-notified. The backend
// keeps every append, so restored streams are re-pruned to the cap:
// a record forgotten in the prior run stays forgotten.
func (s *Store) Restore(recs []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.byAgent[rec.Agent] = append(s.byAgent[rec.Agent], rec)
		if rec.Seq > s.lastSeq[rec.Agent] {
			s.lastSeq[rec.Agent] = rec.Seq
		}
		if rec.Tick > s.lastTick[rec.Agent] {
			s.lastTick[rec.Agent] = rec.Tick
		}
	}
	for agent := range s.byAgent {
		sort.Slice(s.byAgent[agent], func(i, j int) bool {
			return s.byAgent[agent][i].Seq < s.byAgent[agent][j].Seq
		})
		s.pruneLocked(agent, s.lastTick[agent])
	}
}

// Query returns the agent's top-k records for a free-text query,
// ranked by cosine similarity times recency decay. Pruned records are
// gone and can never be returned.
func (s *Store) Query(agent uint64, query string, k int, now uint64) []Scored {
	return s.QueryEmbedding(agent, s.embedder.Embed(query), k, now)
}

// QueryEmbedding is Query with a precomputed vector.
func (s *Store) QueryEmbedding(agent uint64, qvec []float32, k int, now uint64) []Scored {
	if k <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.byAgent[agent]
	scored := make([]Scored, 0, len(recs))
	for _, rec := range recs {
		cos := vek32.CosineSimilarity(qvec, rec.Embedding)
		// Dissimilar records score zero, never negative: decay must
		// only ever push a score toward zero, not toward the top.
		if cos < 0 {
			cos = 0
		}
		score := cos * s.decay(now, rec.Tick)
		scored = append(scored, Scored{Record: rec, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Recent returns the agent's newest n records, oldest first.
func (s *Store) Recent(agent uint64, n int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byAgent[agent]
	start := 0
	if n > 0 && len(recs) > n {
		start = len(recs) - n
	}
	out := make([]Record, len(recs)-start)
	copy(out, recs[start:])
	return out
}

// Count returns how many records an agent currently holds.
func (s *Store) Count(agent uint64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAgent[agent])
}

// decay is exponential in tick age with the configured half-life.
// It is strictly non-increasing in age.
func (s *Store) decay(now, tick uint64) float32 {
	if now <= tick {
		return 1
	}
	age := float64(now - tick)
	return float32(math.Exp2(-age / s.halfLife))
}

// pruneLocked drops the lowest effective-importance records once the
// agent is over cap. Effective importance is importance times decay,
// so stale trivia goes first and fresh or important records survive.
func (s *Store) pruneLocked(agent, now uint64) {
	recs := s.byAgent[agent]
	if len(recs) <= s.perAgentCap {
		return
	}
	type ranked struct {
		idx int
		eff float32
	}
	order := make([]ranked, len(recs))
	for i, rec := range recs {
		order[i] = ranked{idx: i, eff: rec.Importance * s.decay(now, rec.Tick)}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].eff < order[j].eff })

	drop := make(map[int]bool, len(recs)-s.perAgentCap)
	for _, r := range order[:len(recs)-s.perAgentCap] {
		drop[r.idx] = true
	}
	kept := recs[:0]
	for i, rec := range recs {
		if !drop[i] {
			kept = append(kept, rec)
		}
	}
	s.byAgent[agent] = kept
}
