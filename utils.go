package drawcalc

import (
	"math/big"
	"strings"
)

// ParseBigInt parses a decimal or 0x-prefixed hex integer
func ParseBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok {
		return nil, ErrInvalidParameters.WithDetailsf("invalid integer %q", s)
	}
	return v, nil
}

// parseBigInts parses every value with ParseBigInt
func parseBigInts(values []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(values))
	for i, s := range values {
		v, err := ParseBigInt(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// inUint256Range reports 0 <= x < 2^256
func inUint256Range(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(maxRandomNumber) <= 0
}

// ValidateWinningNumber validates a draw's winning random number
func ValidateWinningNumber(x *big.Int) error {
	if !inUint256Range(x) {
		return ErrInvalidParameters.WithDetails("winning number must be in [0, 2^256)")
	}
	return nil
}
