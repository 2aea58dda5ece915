package fpmath

import "math/big"

// WAD is the protocol-wide fixed point unit: 1_000_000 represents 100%.
// Every rate, ratio and normalised price in the system is expressed against
// this scale, and every division floors.
const WadDecimals = 6

var (
	// Wad is WAD as a big integer for callers composing larger expressions.
	Wad = big.NewInt(1_000_000)
	// BasisPoints is the denominator for values configured in bps.
	BasisPoints = big.NewInt(10_000)
)

// MulDiv computes a*b/den at full width with floor rounding. A nil input or a
// zero denominator yields zero; callers are expected to reject zero
// denominators before funds move.
func MulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, den)
}

// WadMul multiplies two WAD-scaled values, flooring the result.
func WadMul(a, b *big.Int) *big.Int {
	return MulDiv(a, b, Wad)
}

// WadDiv divides a by b at WAD scale, flooring the result.
func WadDiv(a, b *big.Int) *big.Int {
	return MulDiv(a, Wad, b)
}

// BpsToWad converts a basis-point value into the WAD scale.
func BpsToWad(bps uint64) *big.Int {
	return MulDiv(new(big.Int).SetUint64(bps), Wad, BasisPoints)
}

// Pow10 returns 10^n. Negative exponents yield 1.
func Pow10(n int) *big.Int {
	if n <= 0 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Rescale rebases v from one decimal precision to another, flooring when the
// precision shrinks. Oracle answers arrive at feed-native precision (8 for
// Chainlink feeds, quote-token precision for pool quotes) and must be moved to
// the 6-decimal system scale before they touch accounting.
func Rescale(v *big.Int, fromDecimals, toDecimals uint8) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	if fromDecimals == toDecimals {
		return new(big.Int).Set(v)
	}
	if toDecimals > fromDecimals {
		return new(big.Int).Mul(v, Pow10(int(toDecimals-fromDecimals)))
	}
	return new(big.Int).Quo(new(big.Int).Set(v), Pow10(int(fromDecimals-toDecimals)))
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a == nil {
		return clone(b)
	}
	if b == nil {
		return clone(a)
	}
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
