package world

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sort"
)

// Digester contributes extra authoritative state (the economy ledger)
// to the per-tick digest.
type Digester interface {
	DigestInto(w io.Writer)
}

// fp renders a float at fixed precision so digests never depend on
// formatting of accumulated float error.
func fp(v float32) int64 {
	return int64(math.Round(float64(v) * 1000))
}

// computeDigest hashes the complete observable world state. Two worlds
// with equal digests at tick N and equal accepted-intention sets are
// byte-identical at tick N+1.
func computeDigest(s *State, extra Digester) string {
	h := sha256.New()
	fmt.Fprintf(h, "tick:%d\n", s.tick)

	for _, r := range s.SortedResources() {
		fmt.Fprintf(h, "res:%s:%s:%d:%d:%d\n", r.ID, r.Kind, r.Pos.Q, r.Pos.R, r.Remaining)
	}

	for _, id := range s.regOrder {
		a := s.agents[id]
		fmt.Fprintf(h, "agent:%d:%s:%d:%d:%d:%d:%d\n",
			a.ID, a.Name, a.Pos.Q, a.Pos.R,
			fp(a.Vitals.Health), fp(a.Vitals.Energy), fp(a.Reputation))
		items := make([]string, 0, len(a.Inventory))
		for item := range a.Inventory {
			items = append(items, item)
		}
		sort.Strings(items)
		for _, item := range items {
			fmt.Fprintf(h, "item:%d:%s:%d\n", a.ID, item, a.Inventory[item])
		}
	}

	if extra != nil {
		extra.DigestInto(h)
	}
	return hex.EncodeToString(h.Sum(nil))
}
