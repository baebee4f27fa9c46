package drawcalc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PrizeCalculator defines the prize calculation operations
type PrizeCalculator interface {
	// Calculate returns the awarded amount of every draw, in input order
	Calculate(
		ctx context.Context,
		user common.Address,
		winningNumbers []*big.Int,
		timestamps []uint64,
		prizePools []*big.Int,
		encodedPicks []byte,
	) ([]*big.Int, error)

	// CalculateDetailed returns the per-draw breakdown of a calculation
	CalculateDetailed(ctx context.Context, req *CalculationRequest) (*CalculationResult, error)
}

// BalanceSource returns a user's token balance at each of the given timestamps.
// Implementations must return exactly one balance per timestamp, in order.
type BalanceSource interface {
	BalancesAt(ctx context.Context, user common.Address, timestamps []uint64) ([]*big.Int, error)
}

// SettingsStore persists settings snapshots and emits the settings changed
// notification together with the write.
type SettingsStore interface {
	// Save persists the snapshot and publishes the change, both or neither
	Save(ctx context.Context, snapshot *SettingsSnapshot) error

	// Load returns the last persisted snapshot, or nil if none exists
	Load(ctx context.Context) (*SettingsSnapshot, error)
}

// SettingsListener is notified after a new snapshot has been installed
type SettingsListener func(snapshot *SettingsSnapshot)

// HashFunc is the collision-resistant hash used to derive user seeds and pick values
type HashFunc func(data ...[]byte) []byte

// Logger defines the interface for logging operations
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}
