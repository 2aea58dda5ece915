package registry

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/nebula-labs-xyz/lendefi-core/native/fpmath"
)

// Tier classifies collateral assets by risk. The ordering matters: a cross
// position is priced off the highest-risk tier among its holdings, and the
// default jump-rate table is monotone in this ordering.
type Tier uint8

const (
	TierStable Tier = iota
	TierCrossA
	TierCrossB
	TierIsolated
)

// String renders the canonical tier name used in configuration manifests.
func (t Tier) String() string {
	switch t {
	case TierStable:
		return "STABLE"
	case TierCrossA:
		return "CROSS_A"
	case TierCrossB:
		return "CROSS_B"
	case TierIsolated:
		return "ISOLATED"
	default:
		return fmt.Sprintf("TIER(%d)", uint8(t))
	}
}

// ParseTier resolves a manifest tier name, accepting any casing.
func ParseTier(name string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "STABLE":
		return TierStable, nil
	case "CROSS_A":
		return TierCrossA, nil
	case "CROSS_B":
		return TierCrossB, nil
	case "ISOLATED":
		return TierIsolated, nil
	default:
		return TierStable, fmt.Errorf("registry: unknown tier %q", name)
	}
}

// Riskier reports whether t carries more risk than other.
func (t Tier) Riskier(other Tier) bool { return t > other }

// TierRates holds the per-tier interest premium and liquidation incentive,
// both WAD-scaled.
type TierRates struct {
	// JumpRate is the utilisation-scaled borrow premium for the tier.
	JumpRate *big.Int
	// LiquidationFee is the bonus paid to the liquidator on top of debt.
	LiquidationFee *big.Int
}

// Clone returns a deep copy of the tier rates.
func (r TierRates) Clone() TierRates {
	clone := TierRates{}
	if r.JumpRate != nil {
		clone.JumpRate = new(big.Int).Set(r.JumpRate)
	}
	if r.LiquidationFee != nil {
		clone.LiquidationFee = new(big.Int).Set(r.LiquidationFee)
	}
	return clone
}

var (
	// maxJumpRate caps tier premiums at 25% of WAD.
	maxJumpRate = big.NewInt(250_000)
	// maxLiquidationFee caps liquidator bonuses at 10% of WAD.
	maxLiquidationFee = big.NewInt(100_000)
)

func defaultTierRates() map[Tier]TierRates {
	wadPct := func(pct int64) *big.Int {
		return fpmath.MulDiv(big.NewInt(pct), fpmath.Wad, big.NewInt(100))
	}
	return map[Tier]TierRates{
		TierStable:   {JumpRate: wadPct(5), LiquidationFee: wadPct(1)},
		TierCrossA:   {JumpRate: wadPct(8), LiquidationFee: wadPct(2)},
		TierCrossB:   {JumpRate: wadPct(12), LiquidationFee: wadPct(3)},
		TierIsolated: {JumpRate: wadPct(15), LiquidationFee: wadPct(4)},
	}
}
