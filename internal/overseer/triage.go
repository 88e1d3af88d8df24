package overseer

// Health holds derived diagnostic signals computed from a Snapshot.
// Runs before the model call, deterministic and free.
type Health struct {
	AvgReputation      float64
	MinReputation      float64
	RejectedTradeShare float64
	RecentReneges      int
	RecentDesyncs      int
	SuspendedShare     float64
	CrisisLevel        string // "CRITICAL", "WARNING", "WATCH", "HEALTHY"
}

// Triage computes world health from the snapshot.
func Triage(snap *Snapshot) *Health {
	h := &Health{}

	if n := len(snap.Agents); n > 0 {
		sum := 0.0
		h.MinReputation = snap.Agents[0].Reputation
		suspended := 0
		for _, a := range snap.Agents {
			sum += a.Reputation
			if a.Reputation < h.MinReputation {
				h.MinReputation = a.Reputation
			}
			if a.Suspended {
				suspended++
			}
		}
		h.AvgReputation = sum / float64(n)
		h.SuspendedShare = float64(suspended) / float64(n)
	}

	settled, rejected := 0, 0
	for _, t := range snap.Trades {
		switch t.Status {
		case "settled":
			settled++
		case "rejected", "expired":
			rejected++
		}
	}
	if settled+rejected > 0 {
		h.RejectedTradeShare = float64(rejected) / float64(settled+rejected)
	}

	for _, e := range snap.Events {
		switch e.Kind {
		case "trade_reneged":
			h.RecentReneges++
		case "desync":
			h.RecentDesyncs++
		}
	}

	h.CrisisLevel = "HEALTHY"
	switch {
	case h.RecentDesyncs > 0:
		h.CrisisLevel = "CRITICAL"
	case h.SuspendedShare > 0.5:
		h.CrisisLevel = "CRITICAL"
	case h.RecentReneges >= 3 || h.RejectedTradeShare > 0.6:
		h.CrisisLevel = "WARNING"
	case h.AvgReputation < 0:
		h.CrisisLevel = "WATCH"
	}

	return h
}
