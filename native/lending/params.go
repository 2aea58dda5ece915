package lending

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/core/events"
	nativecommon "github.com/nebula-labs-xyz/lendefi-core/native/common"
)

// Params groups the manager-controlled protocol parameters. Rates are
// WAD-scaled, the reward interval is in seconds, token amounts are in the
// collaborator token's base units.
type Params struct {
	// BaseProfitTarget is the protocol margin reserved from realised yield.
	BaseProfitTarget *big.Int
	// BaseBorrowRate is the minimum annual borrow rate at zero utilisation.
	BaseBorrowRate *big.Int
	// TargetReward is the supplier reward for one full reward interval.
	TargetReward *big.Int
	// RewardInterval is the minimum seconds between reward claims.
	RewardInterval int64
	// RewardableSupply is the minimum base-unit supply for eligibility.
	RewardableSupply *big.Int
	// LiquidatorThreshold is the governance-token balance required to
	// liquidate.
	LiquidatorThreshold *big.Int
	// FlashLoanFeeBps is the flash loan fee in basis points.
	FlashLoanFeeBps uint64
}

// Parameter floors and caps mirror what governance may configure.
const (
	minProfitTargetWad     = 2_500  // 0.25%
	minBorrowRateWad       = 10_000 // 1%
	minRewardIntervalSecs  = 90 * 24 * 60 * 60
	maxFlashLoanFeeBps     = 100
	defaultRewardInterval  = 180 * 24 * 60 * 60
	defaultFlashLoanFeeBps = 9
)

var (
	minRewardableSupply    = big.NewInt(20_000_000_000)            // 20,000 quote units
	minLiquidatorThreshold = mustBigInt("10000000000000000000")    // 10 gov tokens
	defaultTargetReward    = big.NewInt(2_000_000_000)             // 2,000 quote units
	defaultRewardable      = big.NewInt(100_000_000_000)           // 100,000 quote units
	defaultLiquidatorBar   = mustBigInt("20000000000000000000000") // 20,000 gov tokens
)

var (
	errProfitTargetFloor   = errors.New("position engine: profit target below 0.25%")
	errBorrowRateFloor     = errors.New("position engine: base borrow rate below 1%")
	errRewardIntervalFloor = errors.New("position engine: reward interval below 90 days")
	errRewardableFloor     = errors.New("position engine: rewardable supply below minimum")
	errLiquidatorFloor     = errors.New("position engine: liquidator threshold below minimum")
	errFlashLoanFeeCap     = errors.New("position engine: flash loan fee above 100 bps")
	errInvalidParam        = errors.New("position engine: parameter must be positive")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// DefaultParams returns the launch parameter set.
func DefaultParams() Params {
	return Params{
		BaseProfitTarget:    big.NewInt(10_000), // 1%
		BaseBorrowRate:      big.NewInt(60_000), // 6%
		TargetReward:        new(big.Int).Set(defaultTargetReward),
		RewardInterval:      defaultRewardInterval,
		RewardableSupply:    new(big.Int).Set(defaultRewardable),
		LiquidatorThreshold: new(big.Int).Set(defaultLiquidatorBar),
		FlashLoanFeeBps:     defaultFlashLoanFeeBps,
	}
}

// Clone returns a deep copy of the parameter set.
func (p Params) Clone() Params {
	clone := Params{
		RewardInterval:  p.RewardInterval,
		FlashLoanFeeBps: p.FlashLoanFeeBps,
	}
	clone.BaseProfitTarget = cloneOrZero(p.BaseProfitTarget)
	clone.BaseBorrowRate = cloneOrZero(p.BaseBorrowRate)
	clone.TargetReward = cloneOrZero(p.TargetReward)
	clone.RewardableSupply = cloneOrZero(p.RewardableSupply)
	clone.LiquidatorThreshold = cloneOrZero(p.LiquidatorThreshold)
	return clone
}

func (e *Engine) updateParam(caller common.Address, name, value string, apply func(*Params)) error {
	if e == nil {
		return errNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	apply(&e.params)
	e.emit(events.ParamUpdated{Param: name, Value: value})
	return nil
}

// UpdateBaseProfitTarget sets the protocol profit margin, floored at 0.25%.
func (e *Engine) UpdateBaseProfitTarget(caller common.Address, rate *big.Int) error {
	if rate == nil || rate.Cmp(big.NewInt(minProfitTargetWad)) < 0 {
		return errProfitTargetFloor
	}
	return e.updateParam(caller, "baseProfitTarget", rate.String(), func(p *Params) {
		p.BaseProfitTarget = new(big.Int).Set(rate)
	})
}

// UpdateBaseBorrowRate sets the minimum annual borrow rate, floored at 1%.
func (e *Engine) UpdateBaseBorrowRate(caller common.Address, rate *big.Int) error {
	if rate == nil || rate.Cmp(big.NewInt(minBorrowRateWad)) < 0 {
		return errBorrowRateFloor
	}
	return e.updateParam(caller, "baseBorrowRate", rate.String(), func(p *Params) {
		p.BaseBorrowRate = new(big.Int).Set(rate)
	})
}

// UpdateTargetReward sets the full-interval supplier reward.
func (e *Engine) UpdateTargetReward(caller common.Address, reward *big.Int) error {
	if reward == nil || reward.Sign() <= 0 {
		return errInvalidParam
	}
	return e.updateParam(caller, "targetReward", reward.String(), func(p *Params) {
		p.TargetReward = new(big.Int).Set(reward)
	})
}

// UpdateRewardInterval sets the reward cadence, floored at 90 days.
func (e *Engine) UpdateRewardInterval(caller common.Address, seconds int64) error {
	if seconds < minRewardIntervalSecs {
		return errRewardIntervalFloor
	}
	return e.updateParam(caller, "rewardInterval", big.NewInt(seconds).String(), func(p *Params) {
		p.RewardInterval = seconds
	})
}

// UpdateRewardableSupply sets the supply floor for reward eligibility.
func (e *Engine) UpdateRewardableSupply(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Cmp(minRewardableSupply) < 0 {
		return errRewardableFloor
	}
	return e.updateParam(caller, "rewardableSupply", amount.String(), func(p *Params) {
		p.RewardableSupply = new(big.Int).Set(amount)
	})
}

// UpdateLiquidatorThreshold sets the governance balance required to
// liquidate.
func (e *Engine) UpdateLiquidatorThreshold(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Cmp(minLiquidatorThreshold) < 0 {
		return errLiquidatorFloor
	}
	return e.updateParam(caller, "liquidatorThreshold", amount.String(), func(p *Params) {
		p.LiquidatorThreshold = new(big.Int).Set(amount)
	})
}

// UpdateFlashLoanFee sets the flash loan fee, capped at 100 bps.
func (e *Engine) UpdateFlashLoanFee(caller common.Address, bps uint64) error {
	if bps > maxFlashLoanFeeBps {
		return errFlashLoanFeeCap
	}
	return e.updateParam(caller, "flashLoanFee", big.NewInt(int64(bps)).String(), func(p *Params) {
		p.FlashLoanFeeBps = bps
	})
}
