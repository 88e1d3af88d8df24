package world

import (
	"errors"

	"github.com/ellory/everworld/internal/economy"
)

// Sentinel error kinds. Callers classify with errors.Is after unwrapping.
// Resource conflicts are reported as rejected Outcomes, not errors.
var (
	// ErrBackendUnavailable means the reasoning backend could not be
	// reached within its retry budget.
	ErrBackendUnavailable = errors.New("reasoning backend unavailable")

	// ErrCapabilityGapUnresolved means skill synthesis exhausted its
	// attempts without committing a valid skill.
	ErrCapabilityGapUnresolved = errors.New("capability gap unresolved")

	// ErrTradeExpired and ErrTradeInvalid re-export the ledger's
	// sentinels so callers can classify everything from one package.
	ErrTradeExpired = economy.ErrExpired
	ErrTradeInvalid = economy.ErrInvalid

	// ErrWorldDesync means the external connector reported state
	// divergence; connector-dependent acceptances for the tick are
	// invalidated until resync.
	ErrWorldDesync = errors.New("world state desynchronized")
)
