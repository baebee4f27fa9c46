package drawcalc

import (
	"math/big"
	"sync"
	"time"
)

// DrawSettings configures how picks are matched against a winning number
// and how the prize pool is split between tiers
type DrawSettings struct {
	BitRangeSize     uint8    `json:"bit_range_size"`               // Width in bits of each comparison window
	MatchCardinality uint16   `json:"match_cardinality"`            // Number of comparison windows
	PickCost         *big.Int `json:"pick_cost"`                    // Balance units required for one pick
	Distributions    []uint64 `json:"distributions"`                // Tier weights, base 1e18, index 0 = grand prize
	MaxPicksPerUser  uint64   `json:"max_picks_per_user,omitempty"` // Max picks claimed per draw, 0 = unlimited
}

// Validate validates the draw settings. Structural checks run before the
// pick cost check, which runs before summing the distributions.
func (s *DrawSettings) Validate() error {
	if s == nil {
		return ErrInvalidParameters.WithDetails("nil draw settings")
	}
	if s.MatchCardinality == 0 || int(s.MatchCardinality) < len(s.Distributions) {
		return ErrMatchCardinalityTooSmall.WithDetailsf("match_cardinality=%d, distributions=%d",
			s.MatchCardinality, len(s.Distributions))
	}
	if s.BitRangeSize == 0 {
		return ErrBitRangeTooSmall
	}
	if int(s.BitRangeSize) > RandomNumberBits/int(s.MatchCardinality) {
		return ErrBitRangeTooLarge.WithDetailsf("bit_range_size=%d, match_cardinality=%d",
			s.BitRangeSize, s.MatchCardinality)
	}
	if s.PickCost == nil || s.PickCost.Sign() <= 0 {
		return ErrPickCostNotPositive
	}

	sum := new(big.Int)
	for _, d := range s.Distributions {
		sum.Add(sum, new(big.Int).SetUint64(d))
	}
	if sum.Cmp(fixedPointOne) > 0 {
		return ErrDistributionsExceedWhole.WithDetailsf("sum=%s", FormatFixedPoint(sum))
	}

	return nil
}

// Clone returns a deep copy of the settings
func (s *DrawSettings) Clone() *DrawSettings {
	if s == nil {
		return nil
	}

	c := *s
	if s.PickCost != nil {
		c.PickCost = new(big.Int).Set(s.PickCost)
	}
	if s.Distributions != nil {
		c.Distributions = make([]uint64, len(s.Distributions))
		copy(c.Distributions, s.Distributions)
	}
	return &c
}

// CalculateNumberOfUserPicks returns floor(balance / PickCost)
func CalculateNumberOfUserPicks(settings *DrawSettings, balance *big.Int) *big.Int {
	if settings == nil || settings.PickCost == nil || settings.PickCost.Sign() <= 0 ||
		balance == nil || balance.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(balance, settings.PickCost)
}

// SettingsSnapshot is one installed, immutable version of the draw settings.
// Replacing settings installs a new snapshot; snapshots are never modified.
type SettingsSnapshot struct {
	Version     uint64       `json:"version"`
	Settings    DrawSettings `json:"settings"`
	InstalledAt time.Time    `json:"installed_at"`

	derivedOnce sync.Once
	masks       []*big.Int
	fractions   []*big.Int
}

// NewSettingsSnapshot creates a snapshot holding a copy of settings
func NewSettingsSnapshot(version uint64, settings *DrawSettings, installedAt time.Time) *SettingsSnapshot {
	return &SettingsSnapshot{
		Version:     version,
		Settings:    *settings.Clone(),
		InstalledAt: installedAt.UTC(),
	}
}

// Clone returns a deep copy of the snapshot
func (s *SettingsSnapshot) Clone() *SettingsSnapshot {
	if s == nil {
		return nil
	}
	return NewSettingsSnapshot(s.Version, &s.Settings, s.InstalledAt)
}

// derive computes the bit masks and per-tier fractions once per snapshot
func (s *SettingsSnapshot) derive() {
	s.derivedOnce.Do(func() {
		s.masks = CreateBitMasks(s.Settings.BitRangeSize, s.Settings.MatchCardinality)
		s.fractions = make([]*big.Int, len(s.Settings.Distributions))
		for tier := range s.fractions {
			// tier is always in range here
			s.fractions[tier], _ = CalculatePrizeDistributionFraction(&s.Settings, tier)
		}
	})
}

// Masks returns the memoised bit masks. The result must not be modified.
func (s *SettingsSnapshot) Masks() []*big.Int {
	s.derive()
	return s.masks
}

// Fractions returns the memoised per-winner fraction of every tier.
// The result must not be modified.
func (s *SettingsSnapshot) Fractions() []*big.Int {
	s.derive()
	return s.fractions
}
