package drawcalc

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CalculationRequest is one user's batch of draws to evaluate.
// WinningNumbers, Timestamps and PrizePools are aligned by index.
type CalculationRequest struct {
	User           common.Address `json:"user"`
	WinningNumbers []*big.Int     `json:"winning_numbers"`
	Timestamps     []uint64       `json:"timestamps"`
	PrizePools     []*big.Int     `json:"prize_pools"`
	EncodedPicks   []byte         `json:"encoded_picks"` // ABI-encoded uint64[][], one list per draw
}

// DrawPayout is the outcome of a single draw for the requesting user
type DrawPayout struct {
	Index          int         `json:"index"`            // Position in the request
	Timestamp      uint64      `json:"timestamp"`        // Draw timestamp
	Balance        *big.Int    `json:"balance"`          // Balance at the draw timestamp
	TotalUserPicks *big.Int    `json:"total_user_picks"` // balance / pick cost
	TierCounts     []uint64    `json:"tier_counts"`      // Winning picks per tier
	PrizeFraction  *big.Int    `json:"prize_fraction"`   // Summed fraction, base 1e18
	Awarded        *big.Int    `json:"awarded"`          // prizeFraction * prizePool / 1e18
	Matches        []PickMatch `json:"matches,omitempty"`
}

// WinningPicks returns the number of picks that landed in a prize tier
func (p *DrawPayout) WinningPicks() uint64 {
	var n uint64
	for _, c := range p.TierCounts {
		n += c
	}
	return n
}

// CalculationResult is the outcome of a whole batch
type CalculationResult struct {
	RequestID       string         `json:"request_id"`
	User            common.Address `json:"user"`
	SettingsVersion uint64         `json:"settings_version"` // Snapshot every draw was evaluated with
	Draws           []DrawPayout   `json:"draws"`
}

// Awarded returns the awarded amount of every draw, in request order
func (r *CalculationResult) Awarded() []*big.Int {
	awarded := make([]*big.Int, len(r.Draws))
	for i := range r.Draws {
		awarded[i] = new(big.Int).Set(r.Draws[i].Awarded)
	}
	return awarded
}

// TotalAwarded returns the sum over all draws
func (r *CalculationResult) TotalAwarded() *big.Int {
	total := new(big.Int)
	for i := range r.Draws {
		total.Add(total, r.Draws[i].Awarded)
	}
	return total
}
