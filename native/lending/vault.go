package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/core/events"
	"github.com/nebula-labs-xyz/lendefi-core/native/fpmath"
)

// SupplyLiquidity deposits base tokens into the pool and mints shares at the
// current exchange rate. The first deposit, and any deposit while nothing is
// borrowed, mints one share per base unit.
func (e *Engine) SupplyLiquidity(supplier common.Address, amount *big.Int) (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.latch.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return nil, err
	}
	supply := e.shareSupply()
	util := Utilization(ps.TotalBorrow, ps.TotalSuppliedLiquidity)

	minted := new(big.Int).Set(amount)
	if supply.Sign() > 0 && util.Sign() > 0 {
		total := new(big.Int).Add(e.idleLiquidity(), ps.TotalBorrow)
		minted = fpmath.MulDiv(amount, supply, total)
	}
	// A deposit too small to mint a share would strand the tokens in
	// custody. Reject it before anything moves.
	if minted.Sign() == 0 {
		return nil, errInvalidAmount
	}

	if err := e.bank.TransferIn(e.baseToken, supplier, amount); err != nil {
		return nil, fmt.Errorf("liquidity transfer in: %w", err)
	}
	if err := e.shares.Mint(supplier, minted); err != nil {
		return nil, fmt.Errorf("share mint: %w", err)
	}
	ps.TotalSuppliedLiquidity.Add(ps.TotalSuppliedLiquidity, amount)
	if err := e.commitProtocolState(ps); err != nil {
		return nil, err
	}
	if err := e.state.PutSupplierStamp(supplier, e.timestamp()); err != nil {
		return nil, fmt.Errorf("persist supplier stamp: %w", err)
	}
	e.emit(events.LiquiditySupplied{Supplier: supplier, Amount: amount, Shares: minted})
	return minted, nil
}

// Exchange redeems shares for base tokens. When the pool's realised assets
// already cover supplied principal plus the profit target, the target is
// minted to the treasury before the redemption value is computed, diluting
// the redeemer in the protocol's favour.
func (e *Engine) Exchange(supplier common.Address, shareAmount *big.Int) (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.latch.Exit()

	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	supply := e.shareSupply()
	if supply.Sign() == 0 || e.shares.BalanceOf(supplier).Cmp(shareAmount) < 0 {
		return nil, errLowBalance
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return nil, err
	}
	baseAmount := fpmath.MulDiv(shareAmount, ps.TotalSuppliedLiquidity, supply)
	total := new(big.Int).Add(e.idleLiquidity(), ps.TotalBorrow)

	target := fpmath.WadMul(shareAmount, e.params.BaseProfitTarget)
	covered := new(big.Int).Add(ps.TotalSuppliedLiquidity, target)
	skim := target.Sign() > 0 && total.Cmp(covered) >= 0
	if skim {
		supply = new(big.Int).Add(supply, target)
	}
	value := fpmath.MulDiv(shareAmount, total, supply)
	// The redemption pays from idle liquidity only. Verify it is covered
	// before minting or burning anything, so a redemption too large for the
	// unborrowed pool rejects with every balance intact.
	if e.idleLiquidity().Cmp(value) < 0 {
		return nil, errInsufficientLiquidity
	}

	if skim {
		if err := e.shares.Mint(e.treasury, target); err != nil {
			return nil, fmt.Errorf("treasury skim mint: %w", err)
		}
	}
	if err := e.shares.Burn(supplier, shareAmount); err != nil {
		return nil, fmt.Errorf("share burn: %w", err)
	}
	if err := e.bank.TransferOut(e.baseToken, supplier, value); err != nil {
		return nil, fmt.Errorf("redeem transfer out: %w", err)
	}
	ps.TotalSuppliedLiquidity.Sub(ps.TotalSuppliedLiquidity, baseAmount)
	if profit := new(big.Int).Sub(value, baseAmount); profit.Sign() > 0 {
		ps.TotalAccruedSupplierInterest.Add(ps.TotalAccruedSupplierInterest, profit)
	}
	if err := e.commitProtocolState(ps); err != nil {
		return nil, err
	}
	e.emit(events.LiquidityExchanged{Supplier: supplier, Shares: shareAmount, Value: value})
	return value, nil
}

// supplierBaseValue converts the supplier's live share balance into base
// units at the current exchange rate. This is the canonical figure both
// reward eligibility checks use.
func (e *Engine) supplierBaseValue(supplier common.Address, ps *ProtocolState) *big.Int {
	supply := e.shareSupply()
	if supply.Sign() == 0 {
		return big.NewInt(0)
	}
	return fpmath.MulDiv(e.shares.BalanceOf(supplier), ps.TotalSuppliedLiquidity, supply)
}

func (e *Engine) rewardEligible(supplier common.Address, ps *ProtocolState, at int64) (bool, int64, error) {
	stamp, err := e.state.GetSupplierStamp(supplier)
	if err != nil {
		return false, 0, fmt.Errorf("load supplier stamp: %w", err)
	}
	if stamp == 0 {
		return false, 0, nil
	}
	elapsed := at - stamp
	if elapsed < e.params.RewardInterval {
		return false, elapsed, nil
	}
	if e.supplierBaseValue(supplier, ps).Cmp(e.params.RewardableSupply) < 0 {
		return false, elapsed, nil
	}
	return true, elapsed, nil
}

// IsRewardable reports whether the supplier currently qualifies for an
// ecosystem reward.
func (e *Engine) IsRewardable(supplier common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return false, err
	}
	eligible, _, err := e.rewardEligible(supplier, ps, e.timestamp())
	return eligible, err
}

// ClaimReward pays the supplier's accumulated ecosystem reward and restarts
// the accrual clock. An ineligible claim is a silent no-op so callers can
// fold it into withdrawal flows without branching.
func (e *Engine) ClaimReward(supplier common.Address) (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.latch.Exit()

	ps, err := e.loadProtocolState()
	if err != nil {
		return nil, err
	}
	now := e.timestamp()
	eligible, elapsed, err := e.rewardEligible(supplier, ps, now)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return big.NewInt(0), nil
	}
	reward := fpmath.MulDiv(e.params.TargetReward, big.NewInt(elapsed), big.NewInt(e.params.RewardInterval))
	if e.rewards != nil {
		if ceiling := e.rewards.MaxReward(); ceiling != nil {
			reward = fpmath.Min(reward, ceiling)
		}
		if err := e.rewards.Reward(supplier, reward); err != nil {
			return nil, fmt.Errorf("reward payout: %w", err)
		}
	}
	if err := e.state.PutSupplierStamp(supplier, now); err != nil {
		return nil, fmt.Errorf("persist supplier stamp: %w", err)
	}
	e.emit(events.RewardClaimed{Supplier: supplier, Amount: reward})
	return reward, nil
}
