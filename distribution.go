package drawcalc

import "math/big"

// CalculatePrizeDistributionFraction returns the share of the prize pool,
// base 1e18, awarded to each single pick landing exactly in tier:
//
//	distributions[tier] / (2^bitRangeSize)^tier
//
// The division truncates, so deep tiers with wide windows lose precision and
// the remainder stays unclaimed.
func CalculatePrizeDistributionFraction(settings *DrawSettings, tier int) (*big.Int, error) {
	if settings == nil {
		return nil, ErrInvalidParameters.WithDetails("nil draw settings")
	}
	if tier < 0 || tier >= len(settings.Distributions) {
		return nil, ErrTierOutOfRange.WithDetailsf("tier=%d, distributions=%d", tier, len(settings.Distributions))
	}

	weight := new(big.Int).SetUint64(settings.Distributions[tier])
	return weight.Rsh(weight, uint(settings.BitRangeSize)*uint(tier)), nil
}

// prizeFraction sums fraction(tier) * count over all tiers with winners
func prizeFraction(fractions []*big.Int, tierCounts []uint64) *big.Int {
	total := new(big.Int)
	term := new(big.Int)
	for tier, count := range tierCounts {
		if count == 0 {
			continue
		}
		term.SetUint64(count)
		term.Mul(term, fractions[tier])
		total.Add(total, term)
	}
	return total
}
