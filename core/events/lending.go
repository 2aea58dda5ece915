package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypePositionCreated is emitted when a borrower opens a new position.
	TypePositionCreated = "lending.positionCreated"
	// TypeCollateralSupplied captures collateral entering a position.
	TypeCollateralSupplied = "lending.collateralSupplied"
	// TypeCollateralWithdrawn captures collateral leaving a position.
	TypeCollateralWithdrawn = "lending.collateralWithdrawn"
	// TypeBorrowed captures new debt drawn against a position.
	TypeBorrowed = "lending.borrowed"
	// TypeRepaid captures debt repayment, including the capped overpayment case.
	TypeRepaid = "lending.repaid"
	// TypePositionClosed is emitted when a position exits cleanly.
	TypePositionClosed = "lending.positionClosed"
	// TypeLiquidated is emitted when a position is seized by a liquidator.
	TypeLiquidated = "lending.liquidated"
	// TypeCollateralTransferred captures collateral moved between two
	// positions owned by the same account.
	TypeCollateralTransferred = "lending.collateralTransferred"
	// TypeLiquiditySupplied captures base liquidity entering the pool.
	TypeLiquiditySupplied = "lending.liquiditySupplied"
	// TypeLiquidityExchanged captures share redemption against the pool.
	TypeLiquidityExchanged = "lending.liquidityExchanged"
	// TypeRewardClaimed is emitted when a supplier collects an ecosystem reward.
	TypeRewardClaimed = "lending.rewardClaimed"
	// TypeFlashLoan captures a completed flash loan round trip.
	TypeFlashLoan = "lending.flashLoan"
	// TypeParamUpdated records a manager-level parameter change.
	TypeParamUpdated = "lending.paramUpdated"
)

// PositionCreated carries the identity of a freshly opened position.
type PositionCreated struct {
	Owner      common.Address
	PositionID uint64
	Asset      common.Address
	Isolated   bool
}

func (PositionCreated) EventType() string { return TypePositionCreated }

func (e PositionCreated) Attributes() map[string]string {
	return map[string]string{
		"owner":    e.Owner.Hex(),
		"position": strconv.FormatUint(e.PositionID, 10),
		"asset":    e.Asset.Hex(),
		"isolated": strconv.FormatBool(e.Isolated),
	}
}

// CollateralSupplied captures a collateral deposit.
type CollateralSupplied struct {
	Owner      common.Address
	PositionID uint64
	Asset      common.Address
	Amount     *big.Int
}

func (CollateralSupplied) EventType() string { return TypeCollateralSupplied }

func (e CollateralSupplied) Attributes() map[string]string {
	return map[string]string{
		"owner":    e.Owner.Hex(),
		"position": strconv.FormatUint(e.PositionID, 10),
		"asset":    e.Asset.Hex(),
		"amount":   formatAmount(e.Amount),
	}
}

// CollateralWithdrawn captures a collateral withdrawal.
type CollateralWithdrawn struct {
	Owner      common.Address
	PositionID uint64
	Asset      common.Address
	Amount     *big.Int
}

func (CollateralWithdrawn) EventType() string { return TypeCollateralWithdrawn }

func (e CollateralWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"owner":    e.Owner.Hex(),
		"position": strconv.FormatUint(e.PositionID, 10),
		"asset":    e.Asset.Hex(),
		"amount":   formatAmount(e.Amount),
	}
}

// Borrowed captures new debt and the accrued interest folded in beforehand.
type Borrowed struct {
	Owner           common.Address
	PositionID      uint64
	Amount          *big.Int
	DebtAfter       *big.Int
	AccruedInterest *big.Int
}

func (Borrowed) EventType() string { return TypeBorrowed }

func (e Borrowed) Attributes() map[string]string {
	return map[string]string{
		"owner":           e.Owner.Hex(),
		"position":        strconv.FormatUint(e.PositionID, 10),
		"amount":          formatAmount(e.Amount),
		"debtAfter":       formatAmount(e.DebtAfter),
		"accruedInterest": formatAmount(e.AccruedInterest),
	}
}

// Repaid captures the amount actually collected against outstanding debt.
type Repaid struct {
	Owner      common.Address
	PositionID uint64
	Requested  *big.Int
	Paid       *big.Int
	DebtAfter  *big.Int
}

func (Repaid) EventType() string { return TypeRepaid }

func (e Repaid) Attributes() map[string]string {
	return map[string]string{
		"owner":     e.Owner.Hex(),
		"position":  strconv.FormatUint(e.PositionID, 10),
		"requested": formatAmount(e.Requested),
		"paid":      formatAmount(e.Paid),
		"debtAfter": formatAmount(e.DebtAfter),
	}
}

// PositionClosed is emitted once a position reaches its CLOSED terminal state.
type PositionClosed struct {
	Owner      common.Address
	PositionID uint64
}

func (PositionClosed) EventType() string { return TypePositionClosed }

func (e PositionClosed) Attributes() map[string]string {
	return map[string]string{
		"owner":    e.Owner.Hex(),
		"position": strconv.FormatUint(e.PositionID, 10),
	}
}

// Liquidated captures the full seizure of an undercollateralised position.
type Liquidated struct {
	Owner      common.Address
	PositionID uint64
	Liquidator common.Address
	DebtPaid   *big.Int
	Fee        *big.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Attributes() map[string]string {
	return map[string]string{
		"owner":      e.Owner.Hex(),
		"position":   strconv.FormatUint(e.PositionID, 10),
		"liquidator": e.Liquidator.Hex(),
		"debtPaid":   formatAmount(e.DebtPaid),
		"fee":        formatAmount(e.Fee),
	}
}

// CollateralTransferred captures an interpositional collateral move.
type CollateralTransferred struct {
	Owner  common.Address
	FromID uint64
	ToID   uint64
	Asset  common.Address
	Amount *big.Int
}

func (CollateralTransferred) EventType() string { return TypeCollateralTransferred }

func (e CollateralTransferred) Attributes() map[string]string {
	return map[string]string{
		"owner":  e.Owner.Hex(),
		"from":   strconv.FormatUint(e.FromID, 10),
		"to":     strconv.FormatUint(e.ToID, 10),
		"asset":  e.Asset.Hex(),
		"amount": formatAmount(e.Amount),
	}
}

// LiquiditySupplied captures base liquidity deposited for shares.
type LiquiditySupplied struct {
	Supplier common.Address
	Amount   *big.Int
	Shares   *big.Int
}

func (LiquiditySupplied) EventType() string { return TypeLiquiditySupplied }

func (e LiquiditySupplied) Attributes() map[string]string {
	return map[string]string{
		"supplier": e.Supplier.Hex(),
		"amount":   formatAmount(e.Amount),
		"shares":   formatAmount(e.Shares),
	}
}

// LiquidityExchanged captures a share redemption and the value released.
type LiquidityExchanged struct {
	Supplier common.Address
	Shares   *big.Int
	Value    *big.Int
}

func (LiquidityExchanged) EventType() string { return TypeLiquidityExchanged }

func (e LiquidityExchanged) Attributes() map[string]string {
	return map[string]string{
		"supplier": e.Supplier.Hex(),
		"shares":   formatAmount(e.Shares),
		"value":    formatAmount(e.Value),
	}
}

// RewardClaimed captures a successful ecosystem reward payout.
type RewardClaimed struct {
	Supplier common.Address
	Amount   *big.Int
}

func (RewardClaimed) EventType() string { return TypeRewardClaimed }

func (e RewardClaimed) Attributes() map[string]string {
	return map[string]string{
		"supplier": e.Supplier.Hex(),
		"amount":   formatAmount(e.Amount),
	}
}

// FlashLoan captures a completed flash loan and the fee retained.
type FlashLoan struct {
	Initiator common.Address
	Receiver  common.Address
	Token     common.Address
	Amount    *big.Int
	Fee       *big.Int
}

func (FlashLoan) EventType() string { return TypeFlashLoan }

func (e FlashLoan) Attributes() map[string]string {
	return map[string]string{
		"initiator": e.Initiator.Hex(),
		"receiver":  e.Receiver.Hex(),
		"token":     e.Token.Hex(),
		"amount":    formatAmount(e.Amount),
		"fee":       formatAmount(e.Fee),
	}
}

// ParamUpdated records a manager parameter change for audit trails.
type ParamUpdated struct {
	Param string
	Value string
}

func (ParamUpdated) EventType() string { return TypeParamUpdated }

func (e ParamUpdated) Attributes() map[string]string {
	return map[string]string{"param": e.Param, "value": e.Value}
}
