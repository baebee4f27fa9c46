package drawcalc

import "math/big"

// CreateBitMasks returns matchCardinality non-overlapping windows of
// bitRangeSize bits each, least significant window first:
//
//	mask[i] = (2^bitRangeSize - 1) << (i * bitRangeSize)
//
// The caller guarantees bitRangeSize*matchCardinality <= 256.
func CreateBitMasks(bitRangeSize uint8, matchCardinality uint16) []*big.Int {
	window := new(big.Int).Lsh(big.NewInt(1), uint(bitRangeSize))
	window.Sub(window, big.NewInt(1))

	masks := make([]*big.Int, matchCardinality)
	for i := range masks {
		masks[i] = new(big.Int).Lsh(window, uint(i)*uint(bitRangeSize))
	}
	return masks
}
