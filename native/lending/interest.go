package lending

import (
	"math/big"

	"github.com/nebula-labs-xyz/lendefi-core/native/fpmath"
)

const secondsPerYear = 31_536_000

// Utilization returns totalBorrow / totalSupplied as a WAD-scaled ratio.
// Zero supplied liquidity reports zero utilisation.
func Utilization(totalBorrow, totalSupplied *big.Int) *big.Int {
	if totalBorrow == nil || totalSupplied == nil || totalSupplied.Sign() <= 0 {
		return big.NewInt(0)
	}
	return fpmath.MulDiv(totalBorrow, fpmath.Wad, totalSupplied)
}

// SupplyRate returns the WAD-scaled annual yield accruing to liquidity
// providers: the realised surplus of vault assets (idle balance plus
// outstanding borrow) over supplied principal, net of the protocol profit
// target. The fee is only reserved once total assets already cover principal
// plus the fee itself. Zero utilisation yields zero.
func SupplyRate(shareSupply, totalBorrow, totalSupplied, idleLiquidity, profitTarget *big.Int) *big.Int {
	if totalBorrow == nil || totalBorrow.Sign() <= 0 {
		return big.NewInt(0)
	}
	if totalSupplied == nil || totalSupplied.Sign() <= 0 {
		return big.NewInt(0)
	}
	total := new(big.Int).Set(totalBorrow)
	if idleLiquidity != nil {
		total.Add(total, idleLiquidity)
	}

	fee := big.NewInt(0)
	if shareSupply != nil && profitTarget != nil {
		target := fpmath.WadMul(shareSupply, profitTarget)
		covered := new(big.Int).Add(totalSupplied, target)
		if total.Cmp(covered) >= 0 {
			fee = target
		}
	}
	accessible := new(big.Int).Sub(total, fee)
	if accessible.Cmp(totalSupplied) <= 0 {
		return big.NewInt(0)
	}
	rate := fpmath.MulDiv(accessible, fpmath.Wad, totalSupplied)
	return rate.Sub(rate, fpmath.Wad)
}

// BorrowRate returns the WAD-scaled annual borrow rate for a tier given the
// current utilisation: the base rate plus the supplier yield plus the tier's
// utilisation-weighted jump premium. At zero utilisation only the base rate
// applies.
func BorrowRate(utilization, supplyRate, baseRate, jumpRate *big.Int) *big.Int {
	rate := cloneOrZero(baseRate)
	if utilization == nil || utilization.Sign() <= 0 {
		return rate
	}
	rate.Add(rate, cloneOrZero(supplyRate))
	rate.Add(rate, fpmath.WadMul(cloneOrZero(jumpRate), utilization))
	return rate
}

// CalculateDebtWithInterest grows principal by simple interest at the given
// WAD-scaled annual rate over elapsed seconds. The result is floored, never
// below the principal.
func CalculateDebtWithInterest(principal, annualRateWad *big.Int, elapsedSeconds int64) *big.Int {
	debt := cloneOrZero(principal)
	if debt.Sign() <= 0 || annualRateWad == nil || annualRateWad.Sign() <= 0 || elapsedSeconds <= 0 {
		return debt
	}
	numerator := new(big.Int).Mul(debt, annualRateWad)
	numerator.Mul(numerator, big.NewInt(elapsedSeconds))
	denominator := new(big.Int).Mul(fpmath.Wad, big.NewInt(secondsPerYear))
	interest := numerator.Quo(numerator, denominator)
	return debt.Add(debt, interest)
}
