package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/core/events"
	"github.com/nebula-labs-xyz/lendefi-core/native/fpmath"
	"github.com/nebula-labs-xyz/lendefi-core/native/registry"
)

// CreatePosition opens a new position for the caller. An isolated position
// fixes its single collateral asset at creation; the asset only needs to be
// listed and active, the tier restrictions bind at supply time. The id is
// the index in the owner's slice and is never reused.
func (e *Engine) CreatePosition(owner, asset common.Address, isolated bool) (uint64, error) {
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.latch.Exit()

	if e.assets == nil || !e.assets.IsAssetValid(asset) {
		return 0, errAssetNotSupported
	}
	positions, err := e.loadPositions(owner)
	if err != nil {
		return 0, err
	}
	position := &Position{
		Owner:               owner,
		ID:                  uint64(len(positions)),
		Isolated:            isolated,
		Status:              StatusActive,
		Debt:                big.NewInt(0),
		LastInterestAccrual: e.timestamp(),
	}
	if isolated {
		position.IsolatedAsset = asset
		position.Collateral = []CollateralEntry{{Asset: asset, Amount: big.NewInt(0)}}
	}
	positions = append(positions, position)
	if err := e.state.PutPositions(owner, positions); err != nil {
		return 0, fmt.Errorf("persist positions: %w", err)
	}
	e.emit(events.PositionCreated{Owner: owner, PositionID: position.ID, Asset: asset, Isolated: isolated})
	return position.ID, nil
}

// SupplyCollateral locks collateral into an active position and pulls the
// tokens from the owner.
func (e *Engine) SupplyCollateral(owner, asset common.Address, amount *big.Int, positionID uint64) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.latch.Exit()
	return e.supplyCollateral(owner, asset, amount, positionID)
}

func (e *Engine) supplyCollateral(owner, asset common.Address, amount *big.Int, positionID uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	positions, position, err := e.stagedPosition(owner, positionID)
	if err != nil {
		return err
	}
	if position.Status != StatusActive {
		return errPositionNotActive
	}
	if err := e.validateDeposit(position, asset, amount, true); err != nil {
		return err
	}
	position.addCollateral(asset, amount)

	if err := e.bank.TransferIn(asset, owner, amount); err != nil {
		return fmt.Errorf("collateral transfer in: %w", err)
	}
	tvl := new(big.Int).Add(e.assets.AssetTVL(asset), amount)
	if err := e.assets.UpdateAssetTVL(asset, tvl); err != nil {
		return err
	}
	if err := e.commitPosition(owner, positions, position); err != nil {
		return err
	}
	e.emit(events.CollateralSupplied{Owner: owner, PositionID: positionID, Asset: asset, Amount: amount})
	return nil
}

// validateDeposit applies the listing, capacity, isolation and distinct-asset
// rules for collateral entering a position. The capacity check is skipped for
// interpositional moves where protocol TVL does not change.
func (e *Engine) validateDeposit(position *Position, asset common.Address, amount *big.Int, checkCapacity bool) error {
	if e.assets == nil || !e.assets.IsAssetValid(asset) {
		return errAssetNotSupported
	}
	if checkCapacity && e.assets.IsAssetAtCapacity(asset, amount) {
		return errAssetCapacityReached
	}
	info, err := e.assets.GetAssetInfo(asset)
	if err != nil {
		return err
	}
	if position.Isolated {
		if asset != position.IsolatedAsset {
			return errIsolatedAssetMismatch
		}
		return nil
	}
	if info.Tier == registry.TierIsolated {
		return errIsolatedTierAsset
	}
	if position.collateralIndex(asset) < 0 && len(position.Collateral) >= maxPositionAssets {
		return errTooManyAssets
	}
	return nil
}

// WithdrawCollateral releases collateral from an active position after
// verifying the remaining collateral still covers the outstanding debt.
func (e *Engine) WithdrawCollateral(owner, asset common.Address, amount *big.Int, positionID uint64) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.latch.Exit()
	return e.withdrawCollateral(owner, asset, amount, positionID)
}

func (e *Engine) withdrawCollateral(owner, asset common.Address, amount *big.Int, positionID uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	positions, position, err := e.stagedPosition(owner, positionID)
	if err != nil {
		return err
	}
	if position.Status != StatusActive {
		return errPositionNotActive
	}
	if position.Isolated && asset != position.IsolatedAsset {
		return errIsolatedAssetMismatch
	}
	if position.collateralAmount(asset).Cmp(amount) < 0 {
		return errLowBalance
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return err
	}
	if _, err := e.accrue(position, ps, e.timestamp()); err != nil {
		return err
	}
	position.subCollateral(asset, amount)
	limit, err := e.creditLimit(position)
	if err != nil {
		return err
	}
	if limit.Cmp(position.Debt) < 0 {
		return errCreditLimitBreach
	}

	if err := e.bank.TransferOut(asset, owner, amount); err != nil {
		return fmt.Errorf("collateral transfer out: %w", err)
	}
	tvl := new(big.Int).Sub(e.assets.AssetTVL(asset), amount)
	if err := e.assets.UpdateAssetTVL(asset, tvl); err != nil {
		return err
	}
	if err := e.commitProtocolState(ps); err != nil {
		return err
	}
	if err := e.commitPosition(owner, positions, position); err != nil {
		return err
	}
	e.emit(events.CollateralWithdrawn{Owner: owner, PositionID: positionID, Asset: asset, Amount: amount})
	return nil
}

// Borrow draws base-token debt against an active position. Interest accrued
// since the last touch is folded into principal first, then the liquidity,
// isolation-cap and credit-limit checks run against the grown debt.
func (e *Engine) Borrow(owner common.Address, positionID uint64, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.latch.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	positions, position, err := e.stagedPosition(owner, positionID)
	if err != nil {
		return err
	}
	if position.Status != StatusActive {
		return errPositionNotActive
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return err
	}
	accrued, err := e.accrue(position, ps, e.timestamp())
	if err != nil {
		return err
	}
	borrowAfter := new(big.Int).Add(ps.TotalBorrow, amount)
	if borrowAfter.Cmp(ps.TotalSuppliedLiquidity) > 0 {
		return errInsufficientLiquidity
	}
	newDebt := new(big.Int).Add(position.Debt, amount)
	if position.Isolated {
		info, err := e.assets.GetAssetInfo(position.IsolatedAsset)
		if err != nil {
			return err
		}
		if info.IsolationDebtCap != nil && newDebt.Cmp(info.IsolationDebtCap) > 0 {
			return errIsolationDebtCap
		}
	}
	limit, err := e.creditLimit(position)
	if err != nil {
		return err
	}
	if newDebt.Cmp(limit) > 0 {
		return errCreditLimitExceeded
	}

	position.Debt = newDebt
	ps.TotalBorrow = borrowAfter
	if err := e.bank.TransferOut(e.baseToken, owner, amount); err != nil {
		return fmt.Errorf("borrow transfer out: %w", err)
	}
	if err := e.commitProtocolState(ps); err != nil {
		return err
	}
	if err := e.commitPosition(owner, positions, position); err != nil {
		return err
	}
	e.emit(events.Borrowed{Owner: owner, PositionID: positionID, Amount: amount, DebtAfter: newDebt, AccruedInterest: accrued})
	return nil
}

// Repay collects up to the outstanding debt from the owner. Overpayment is
// capped at the debt with interest, never refunded as credit.
func (e *Engine) Repay(owner common.Address, positionID uint64, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.latch.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	positions, position, err := e.stagedPosition(owner, positionID)
	if err != nil {
		return err
	}
	if position.Status != StatusActive {
		return errPositionNotActive
	}
	// Nothing owed means nothing transfers; the call succeeds untouched.
	if position.Debt == nil || position.Debt.Sign() == 0 {
		return nil
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return err
	}
	if _, err := e.accrue(position, ps, e.timestamp()); err != nil {
		return err
	}
	paid := fpmath.Min(amount, position.Debt)

	if err := e.bank.TransferIn(e.baseToken, owner, paid); err != nil {
		return fmt.Errorf("repay transfer in: %w", err)
	}
	position.Debt = new(big.Int).Sub(position.Debt, paid)
	ps.TotalBorrow.Sub(ps.TotalBorrow, paid)
	if err := e.commitProtocolState(ps); err != nil {
		return err
	}
	if err := e.commitPosition(owner, positions, position); err != nil {
		return err
	}
	e.emit(events.Repaid{Owner: owner, PositionID: positionID, Requested: amount, Paid: paid, DebtAfter: position.Debt})
	return nil
}

// ExitPosition repays the full debt with interest, withdraws all collateral,
// and closes the position in one atomic sequence. The repay leg is skipped
// when the position carries no debt.
func (e *Engine) ExitPosition(owner common.Address, positionID uint64) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.latch.Exit()

	positions, position, err := e.stagedPosition(owner, positionID)
	if err != nil {
		return err
	}
	if position.Status != StatusActive {
		return errPositionNotActive
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return err
	}
	if _, err := e.accrue(position, ps, e.timestamp()); err != nil {
		return err
	}
	if err := e.verifyCustody(position); err != nil {
		return err
	}
	if position.Debt.Sign() > 0 {
		if err := e.bank.TransferIn(e.baseToken, owner, position.Debt); err != nil {
			return fmt.Errorf("exit repay transfer in: %w", err)
		}
		ps.TotalBorrow.Sub(ps.TotalBorrow, position.Debt)
		position.Debt = big.NewInt(0)
	}
	if err := e.releaseCollateral(position, owner); err != nil {
		return err
	}
	position.Status = StatusClosed
	if err := e.commitProtocolState(ps); err != nil {
		return err
	}
	if err := e.commitPosition(owner, positions, position); err != nil {
		return err
	}
	e.emit(events.PositionClosed{Owner: owner, PositionID: positionID})
	return nil
}

// verifyCustody checks that module custody actually holds every collateral
// balance the position records, so the sweep that follows an inbound payment
// cannot fail partway through on drifted bookkeeping.
func (e *Engine) verifyCustody(position *Position) error {
	for _, entry := range position.Collateral {
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		if e.bank.BalanceOf(entry.Asset, e.moduleAddress).Cmp(entry.Amount) < 0 {
			return errLowBalance
		}
	}
	return nil
}

// releaseCollateral sweeps every collateral holding of the position to the
// recipient and decrements the per-asset TVL accordingly.
func (e *Engine) releaseCollateral(position *Position, to common.Address) error {
	for _, entry := range position.Collateral {
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		if err := e.bank.TransferOut(entry.Asset, to, entry.Amount); err != nil {
			return fmt.Errorf("collateral release: %w", err)
		}
		tvl := new(big.Int).Sub(e.assets.AssetTVL(entry.Asset), entry.Amount)
		if err := e.assets.UpdateAssetTVL(entry.Asset, tvl); err != nil {
			return err
		}
	}
	position.Collateral = nil
	return nil
}

// Liquidate seizes an undercollateralised position. The liquidator must hold
// the governance-token threshold, pays the full debt with interest plus the
// tier liquidation fee, and receives every collateral holding. The seized
// position is terminal.
func (e *Engine) Liquidate(liquidator, owner common.Address, positionID uint64) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.latch.Exit()

	if e.gov == nil || e.gov.BalanceOf(liquidator).Cmp(e.params.LiquidatorThreshold) < 0 {
		return errNotEnoughGovTokens
	}
	positions, position, err := e.stagedPosition(owner, positionID)
	if err != nil {
		return err
	}
	if position.Status != StatusActive {
		return errPositionNotActive
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return err
	}
	now := e.timestamp()
	hf, err := e.healthFactor(position, ps, now)
	if err != nil {
		return err
	}
	if hf.Cmp(fpmath.Wad) >= 0 {
		return errNotLiquidatable
	}
	if _, err := e.accrue(position, ps, now); err != nil {
		return err
	}
	tier, err := e.highestTier(position)
	if err != nil {
		return err
	}
	fee := fpmath.WadMul(position.Debt, e.assets.TierLiquidationFee(tier))
	payment := new(big.Int).Add(position.Debt, fee)

	if err := e.verifyCustody(position); err != nil {
		return err
	}
	if err := e.bank.TransferIn(e.baseToken, liquidator, payment); err != nil {
		return fmt.Errorf("liquidation transfer in: %w", err)
	}
	ps.TotalBorrow.Sub(ps.TotalBorrow, position.Debt)
	debtPaid := position.Debt
	position.Debt = big.NewInt(0)
	position.Isolated = false
	position.IsolatedAsset = common.Address{}
	position.Status = StatusLiquidated
	if err := e.releaseCollateral(position, liquidator); err != nil {
		return err
	}
	if err := e.commitProtocolState(ps); err != nil {
		return err
	}
	if err := e.commitPosition(owner, positions, position); err != nil {
		return err
	}
	e.emit(events.Liquidated{Owner: owner, PositionID: positionID, Liquidator: liquidator, DebtPaid: debtPaid, Fee: fee})
	return nil
}

// InterpositionalTransfer moves collateral between two positions owned by
// the same account without tokens leaving custody. The source side passes
// the full withdrawal validation, the destination side the full deposit
// validation; protocol TVL is unchanged so the capacity check is skipped.
func (e *Engine) InterpositionalTransfer(owner common.Address, fromID, toID uint64, asset common.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.latch.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if fromID == toID {
		return errPositionNotFound
	}
	positions, err := e.loadPositions(owner)
	if err != nil {
		return err
	}
	if fromID >= uint64(len(positions)) || toID >= uint64(len(positions)) {
		return errPositionNotFound
	}
	from := positions[fromID].Clone()
	to := positions[toID].Clone()
	if from.Status != StatusActive || to.Status != StatusActive {
		return errPositionNotActive
	}
	if from.Isolated && asset != from.IsolatedAsset {
		return errIsolatedAssetMismatch
	}
	if from.collateralAmount(asset).Cmp(amount) < 0 {
		return errLowBalance
	}
	ps, err := e.loadProtocolState()
	if err != nil {
		return err
	}
	if _, err := e.accrue(from, ps, e.timestamp()); err != nil {
		return err
	}
	from.subCollateral(asset, amount)
	limit, err := e.creditLimit(from)
	if err != nil {
		return err
	}
	if limit.Cmp(from.Debt) < 0 {
		return errCreditLimitBreach
	}
	if err := e.validateDeposit(to, asset, amount, false); err != nil {
		return err
	}
	to.addCollateral(asset, amount)

	positions[fromID] = from
	positions[toID] = to
	if err := e.commitProtocolState(ps); err != nil {
		return err
	}
	if err := e.state.PutPositions(owner, positions); err != nil {
		return fmt.Errorf("persist positions: %w", err)
	}
	e.emit(events.CollateralTransferred{Owner: owner, FromID: fromID, ToID: toID, Asset: asset, Amount: amount})
	return nil
}
