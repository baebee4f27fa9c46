package drawcalc

import (
	"math/big"
	"strings"

	"github.com/cockroachdb/apd"
)

// decimalContext is wide enough for any 256-bit value scaled by 1e18
var decimalContext = apd.BaseContext.WithPrecision(120)

// ParseFixedPoint parses a non-negative decimal string such as "0.6" into
// its base-1e18 integer. More than 18 fractional digits is an error.
func ParseFixedPoint(s string) (*big.Int, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, ErrInvalidParameters.WithDetailsf("invalid decimal %q", s).WithCause(err)
	}
	if d.Form != apd.Finite {
		return nil, ErrInvalidParameters.WithDetailsf("decimal %q is not finite", s)
	}
	if d.Sign() < 0 {
		return nil, ErrInvalidParameters.WithDetailsf("decimal %q is negative", s)
	}

	scaled := new(apd.Decimal)
	if _, err := decimalContext.Mul(scaled, d, apd.New(1, FixedPointDecimals)); err != nil {
		return nil, ErrInvalidParameters.WithDetailsf("scale decimal %q", s).WithCause(err)
	}

	integral := new(apd.Decimal)
	cond, err := decimalContext.Quantize(integral, scaled, 0)
	if err != nil {
		return nil, ErrInvalidParameters.WithDetailsf("quantize decimal %q", s).WithCause(err)
	}
	if cond.Inexact() {
		return nil, ErrInvalidParameters.WithDetailsf("decimal %q has more than %d fractional digits", s, FixedPointDecimals)
	}

	return new(big.Int).Set(&integral.Coeff), nil
}

// FormatFixedPoint renders a base-1e18 integer as a decimal string,
// e.g. 600000000000000000 -> "0.6"
func FormatFixedPoint(x *big.Int) string {
	if x == nil {
		return "0"
	}

	s := apd.NewWithBigInt(x, -FixedPointDecimals).Text('f')
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
