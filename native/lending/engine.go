package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/core/events"
	nativecommon "github.com/nebula-labs-xyz/lendefi-core/native/common"
	"github.com/nebula-labs-xyz/lendefi-core/native/fpmath"
	"github.com/nebula-labs-xyz/lendefi-core/native/registry"
)

const moduleName = "lending"

var (
	errNilState              = errors.New("position engine: state not configured")
	errInvalidAmount         = errors.New("position engine: amount must be positive")
	errAssetNotSupported     = errors.New("position engine: asset not listed or inactive")
	errPositionNotFound      = errors.New("position engine: position does not exist")
	errPositionNotActive     = errors.New("position engine: position is not active")
	errAssetCapacityReached  = errors.New("position engine: asset at global supply capacity")
	errIsolatedTierAsset     = errors.New("position engine: isolated-tier asset requires an isolated position")
	errIsolatedAssetMismatch = errors.New("position engine: asset does not match the isolated collateral")
	errTooManyAssets         = errors.New("position engine: position holds the maximum number of assets")
	errLowBalance            = errors.New("position engine: insufficient collateral balance")
	errCreditLimitBreach     = errors.New("position engine: withdrawal would undercollateralise the debt")
	errInsufficientLiquidity = errors.New("position engine: insufficient protocol liquidity")
	errIsolationDebtCap      = errors.New("position engine: isolation debt cap exceeded")
	errCreditLimitExceeded   = errors.New("position engine: borrow exceeds credit limit")
	errNotLiquidatable       = errors.New("position engine: health factor above liquidation threshold")
	errNotEnoughGovTokens    = errors.New("position engine: governance balance below liquidator threshold")
)

// thresholdScale converts registry thresholds expressed in thousandths.
var thresholdScale = big.NewInt(1000)

// maxHealthFactor stands in for infinity when a position carries no debt.
var maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Engine is the protocol's central state machine. It owns the position
// lifecycle, debt accrual, the liquidity vault and flash loans, and mutates
// collaborator state only after every check on a staged copy has passed.
type Engine struct {
	state   EngineState
	assets  AssetSource
	prices  PriceSource
	bank    TokenBank
	shares  ShareToken
	gov     GovBalance
	rewards RewardSink

	params        Params
	baseToken     common.Address
	moduleAddress common.Address
	treasury      common.Address

	pauses  nativecommon.PauseView
	roles   nativecommon.RoleView
	emitter events.Emitter
	latch   nativecommon.CallLatch
	now     func() time.Time
}

// NewEngine constructs an engine bound to the protocol base token, the module
// custody account, and the treasury that receives the profit skim. Parameters
// start at their launch defaults.
func NewEngine(baseToken, moduleAddr, treasury common.Address) *Engine {
	return &Engine{
		params:        DefaultParams(),
		baseToken:     baseToken,
		moduleAddress: moduleAddr,
		treasury:      treasury,
		now:           time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetCollaborators wires the registry, oracle, bank, share token, governance
// balance and reward collaborators in one call.
func (e *Engine) SetCollaborators(assets AssetSource, prices PriceSource, bank TokenBank, shares ShareToken, gov GovBalance, rewards RewardSink) {
	if e == nil {
		return
	}
	e.assets = assets
	e.prices = prices
	e.bank = bank
	e.shares = shares
	e.gov = gov
	e.rewards = rewards
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetRoles(r nativecommon.RoleView) {
	if e == nil {
		return
	}
	e.roles = r
}

// SetEmitter wires the event sink. A nil emitter drops events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.emitter = emitter
}

// SetNow overrides the engine clock for deterministic tests.
func (e *Engine) SetNow(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// Params returns a copy of the live parameter set.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params.Clone()
}

// BaseToken returns the protocol quote token.
func (e *Engine) BaseToken() common.Address { return e.baseToken }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) timestamp() int64 {
	if e == nil || e.now == nil {
		return time.Now().Unix()
	}
	return e.now().Unix()
}

// checkReady guards the shared preconditions of every mutating entry point.
func (e *Engine) checkReady() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// enter acquires the re-entrancy latch after the readiness and pause checks
// pass. Callers must defer e.latch.Exit().
func (e *Engine) enter() error {
	if err := e.checkReady(); err != nil {
		return err
	}
	return e.latch.Enter()
}

func (e *Engine) loadPositions(owner common.Address) ([]*Position, error) {
	positions, err := e.state.GetPositions(owner)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	return positions, nil
}

// stagedPosition returns a deep copy of the identified position together with
// the full owner slice; mutations on the copy become visible only through
// commitPosition.
func (e *Engine) stagedPosition(owner common.Address, id uint64) ([]*Position, *Position, error) {
	positions, err := e.loadPositions(owner)
	if err != nil {
		return nil, nil, err
	}
	if id >= uint64(len(positions)) || positions[id] == nil {
		return nil, nil, errPositionNotFound
	}
	return positions, positions[id].Clone(), nil
}

func (e *Engine) commitPosition(owner common.Address, positions []*Position, position *Position) error {
	positions[position.ID] = position
	if err := e.state.PutPositions(owner, positions); err != nil {
		return fmt.Errorf("persist positions: %w", err)
	}
	return nil
}

func (e *Engine) loadProtocolState() (*ProtocolState, error) {
	state, err := e.state.GetProtocolState()
	if err != nil {
		return nil, fmt.Errorf("load protocol state: %w", err)
	}
	if state == nil {
		return &ProtocolState{
			TotalBorrow:                  big.NewInt(0),
			TotalSuppliedLiquidity:       big.NewInt(0),
			TotalAccruedBorrowerInterest: big.NewInt(0),
			TotalAccruedSupplierInterest: big.NewInt(0),
			TotalFlashLoanFees:           big.NewInt(0),
		}, nil
	}
	return state.Clone(), nil
}

func (e *Engine) commitProtocolState(state *ProtocolState) error {
	if err := e.state.PutProtocolState(state); err != nil {
		return fmt.Errorf("persist protocol state: %w", err)
	}
	return nil
}

func (e *Engine) idleLiquidity() *big.Int {
	if e.bank == nil {
		return big.NewInt(0)
	}
	return cloneOrZero(e.bank.BalanceOf(e.baseToken, e.moduleAddress))
}

func (e *Engine) shareSupply() *big.Int {
	if e.shares == nil {
		return big.NewInt(0)
	}
	return cloneOrZero(e.shares.TotalSupply())
}

// collateralValue prices the position's collateral at the system scale
// without threshold adjustment.
func (e *Engine) collateralValue(p *Position) (*big.Int, error) {
	return e.weightedCollateral(p, nil)
}

// creditLimit prices the collateral through each asset's borrow threshold.
func (e *Engine) creditLimit(p *Position) (*big.Int, error) {
	return e.weightedCollateral(p, func(info *registry.Asset) *big.Int {
		return new(big.Int).SetUint64(uint64(info.BorrowThreshold))
	})
}

// liquidationLevel prices the collateral through each asset's liquidation
// threshold.
func (e *Engine) liquidationLevel(p *Position) (*big.Int, error) {
	return e.weightedCollateral(p, func(info *registry.Asset) *big.Int {
		return new(big.Int).SetUint64(uint64(info.LiquidationThreshold))
	})
}

// weightedCollateral sums price(asset) x amount x threshold(asset)/1000 over
// the position's collateral, flooring once per asset. A nil threshold
// selector values collateral raw. Prices arrive at the 6-decimal system
// scale per whole asset; amounts are in asset base units.
func (e *Engine) weightedCollateral(p *Position, threshold func(*registry.Asset) *big.Int) (*big.Int, error) {
	total := big.NewInt(0)
	for _, entry := range p.Collateral {
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		info, err := e.assets.GetAssetInfo(entry.Asset)
		if err != nil {
			return nil, err
		}
		price, err := e.prices.GetAssetPrice(entry.Asset)
		if err != nil {
			return nil, err
		}
		value := new(big.Int).Mul(price, entry.Amount)
		if threshold != nil {
			value.Mul(value, threshold(info))
			value.Quo(value, thresholdScale)
		}
		value.Quo(value, fpmath.Pow10(int(info.Decimals)))
		total.Add(total, value)
	}
	return total, nil
}

// highestTier returns the riskiest tier among the position's held assets.
// That tier drives the position's borrow rate and liquidation fee; one risky
// asset taints the whole position.
func (e *Engine) highestTier(p *Position) (registry.Tier, error) {
	tier := registry.TierStable
	for _, entry := range p.Collateral {
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		info, err := e.assets.GetAssetInfo(entry.Asset)
		if err != nil {
			return tier, err
		}
		if info.Tier.Riskier(tier) {
			tier = info.Tier
		}
	}
	return tier, nil
}

// positionBorrowRate resolves the annual rate applying to the position given
// the current aggregates and its highest-risk collateral tier.
func (e *Engine) positionBorrowRate(p *Position, ps *ProtocolState) (*big.Int, error) {
	tier, err := e.highestTier(p)
	if err != nil {
		return nil, err
	}
	return e.tierBorrowRate(tier, ps), nil
}

func (e *Engine) tierBorrowRate(tier registry.Tier, ps *ProtocolState) *big.Int {
	util := Utilization(ps.TotalBorrow, ps.TotalSuppliedLiquidity)
	supplyRate := SupplyRate(e.shareSupply(), ps.TotalBorrow, ps.TotalSuppliedLiquidity, e.idleLiquidity(), e.params.BaseProfitTarget)
	var jump *big.Int
	if e.assets != nil {
		jump = e.assets.TierJumpRate(tier)
	}
	return BorrowRate(util, supplyRate, e.params.BaseBorrowRate, jump)
}

// debtWithInterest grows the position's booked debt to the evaluation time.
func (e *Engine) debtWithInterest(p *Position, ps *ProtocolState, at int64) (*big.Int, error) {
	if p.Debt == nil || p.Debt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	rate, err := e.positionBorrowRate(p, ps)
	if err != nil {
		return nil, err
	}
	return CalculateDebtWithInterest(p.Debt, rate, at-p.LastInterestAccrual), nil
}

// accrue folds interest earned since the last touch into the position's
// principal, stamps the touch time, and records the delta in the protocol
// borrower-interest total. Every debt-mutating operation calls it first.
func (e *Engine) accrue(p *Position, ps *ProtocolState, at int64) (*big.Int, error) {
	debt, err := e.debtWithInterest(p, ps, at)
	if err != nil {
		return nil, err
	}
	delta := new(big.Int).Sub(debt, cloneOrZero(p.Debt))
	if delta.Sign() > 0 {
		ps.TotalBorrow.Add(ps.TotalBorrow, delta)
		ps.TotalAccruedBorrowerInterest.Add(ps.TotalAccruedBorrowerInterest, delta)
	}
	p.Debt = debt
	p.LastInterestAccrual = at
	return delta, nil
}

// healthFactor is liquidation-weighted collateral value over debt, WAD
// scaled. A debt-free position reports the maximum representable value.
func (e *Engine) healthFactor(p *Position, ps *ProtocolState, at int64) (*big.Int, error) {
	debt, err := e.debtWithInterest(p, ps, at)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor), nil
	}
	level, err := e.liquidationLevel(p)
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(level, fpmath.Wad, debt), nil
}

// --- read surface ---

// GetPosition returns a copy of the identified position.
func (e *Engine) GetPosition(owner common.Address, id uint64) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, position, err := e.stagedPosition(owner, id)
	if err != nil {
		return nil, err
	}
	return position, nil
}

// PositionsCount returns how many positions the owner has ever created,
// terminal ones included.
func (e *Engine) PositionsCount(owner common.Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	positions, err := e.loadPositions(owner)
	if err != nil {
		return 0, err
	}
	return uint64(len(positions)), nil
}

// CalculateDebtWithInterest previews the position's debt grown to now.
func (e *Engine) CalculateDebtWithInterest(owner common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, position, err := e.stagedPosition(owner, id)
	if err != nil {
		return nil, err
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return nil, err
	}
	return e.debtWithInterest(position, ps, e.timestamp())
}

// CalculateCreditLimit previews the borrow-threshold-weighted collateral
// value of the position.
func (e *Engine) CalculateCreditLimit(owner common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, position, err := e.stagedPosition(owner, id)
	if err != nil {
		return nil, err
	}
	return e.creditLimit(position)
}

// CalculateCollateralValue previews the raw collateral value of the position.
func (e *Engine) CalculateCollateralValue(owner common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, position, err := e.stagedPosition(owner, id)
	if err != nil {
		return nil, err
	}
	return e.collateralValue(position)
}

// HealthFactor previews the position's health factor at the current time.
func (e *Engine) HealthFactor(owner common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, position, err := e.stagedPosition(owner, id)
	if err != nil {
		return nil, err
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return nil, err
	}
	return e.healthFactor(position, ps, e.timestamp())
}

// IsLiquidatable reports whether the position's health factor has fallen
// below one.
func (e *Engine) IsLiquidatable(owner common.Address, id uint64) (bool, error) {
	hf, err := e.HealthFactor(owner, id)
	if err != nil {
		return false, err
	}
	return hf.Cmp(fpmath.Wad) < 0, nil
}

// LiquidationFee previews the bonus a liquidator would pay on top of the
// position's debt, derived from its highest-risk collateral tier.
func (e *Engine) LiquidationFee(owner common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, position, err := e.stagedPosition(owner, id)
	if err != nil {
		return nil, err
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return nil, err
	}
	debt, err := e.debtWithInterest(position, ps, e.timestamp())
	if err != nil {
		return nil, err
	}
	tier, err := e.highestTier(position)
	if err != nil {
		return nil, err
	}
	return fpmath.WadMul(debt, e.assets.TierLiquidationFee(tier)), nil
}

// Utilization reports the protocol-wide borrow utilisation at WAD scale.
func (e *Engine) Utilization() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return nil, err
	}
	return Utilization(ps.TotalBorrow, ps.TotalSuppliedLiquidity), nil
}

// GetSupplyRate reports the current WAD-scaled supplier yield.
func (e *Engine) GetSupplyRate() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return nil, err
	}
	return SupplyRate(e.shareSupply(), ps.TotalBorrow, ps.TotalSuppliedLiquidity, e.idleLiquidity(), e.params.BaseProfitTarget), nil
}

// GetBorrowRate reports the current WAD-scaled borrow rate for a tier.
func (e *Engine) GetBorrowRate(tier registry.Tier) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return nil, err
	}
	return e.tierBorrowRate(tier, ps), nil
}

// ProtocolSnapshot is the aggregate view served by the ops endpoint.
type ProtocolSnapshot struct {
	TotalBorrow                  *big.Int `json:"totalBorrow"`
	TotalSuppliedLiquidity       *big.Int `json:"totalSuppliedLiquidity"`
	TotalAccruedBorrowerInterest *big.Int `json:"totalAccruedBorrowerInterest"`
	TotalAccruedSupplierInterest *big.Int `json:"totalAccruedSupplierInterest"`
	TotalFlashLoanFees           *big.Int `json:"totalFlashLoanFees"`
	IdleLiquidity                *big.Int `json:"idleLiquidity"`
	ShareSupply                  *big.Int `json:"shareSupply"`
	Utilization                  *big.Int `json:"utilization"`
	SupplyRate                   *big.Int `json:"supplyRate"`
	BaseBorrowRate               *big.Int `json:"baseBorrowRate"`
}

// Snapshot assembles the protocol-wide aggregates and live rates.
func (e *Engine) Snapshot() (*ProtocolSnapshot, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return nil, err
	}
	supply := e.shareSupply()
	idle := e.idleLiquidity()
	return &ProtocolSnapshot{
		TotalBorrow:                  ps.TotalBorrow,
		TotalSuppliedLiquidity:       ps.TotalSuppliedLiquidity,
		TotalAccruedBorrowerInterest: ps.TotalAccruedBorrowerInterest,
		TotalAccruedSupplierInterest: ps.TotalAccruedSupplierInterest,
		TotalFlashLoanFees:           ps.TotalFlashLoanFees,
		IdleLiquidity:                idle,
		ShareSupply:                  supply,
		Utilization:                  Utilization(ps.TotalBorrow, ps.TotalSuppliedLiquidity),
		SupplyRate:                   SupplyRate(supply, ps.TotalBorrow, ps.TotalSuppliedLiquidity, idle, e.params.BaseProfitTarget),
		BaseBorrowRate:               cloneOrZero(e.params.BaseBorrowRate),
	}, nil
}
