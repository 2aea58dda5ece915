package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/native/registry"
)

// PositionStatus tracks the lifecycle of a borrower position. CLOSED and
// LIQUIDATED are terminal; no transition leads back to ACTIVE.
type PositionStatus uint8

const (
	StatusActive PositionStatus = iota
	StatusClosed
	StatusLiquidated
)

// String renders the status name used in events and the ops surface.
func (s PositionStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusClosed:
		return "CLOSED"
	case StatusLiquidated:
		return "LIQUIDATED"
	default:
		return "UNKNOWN"
	}
}

// maxPositionAssets bounds the distinct collateral types a position may hold.
const maxPositionAssets = 20

// CollateralEntry pairs a collateral asset with the amount locked in a
// position. Entries form an ordered-insertion set; with at most twenty
// entries a linear scan beats a hash set.
type CollateralEntry struct {
	Asset  common.Address
	Amount *big.Int
}

// Position is one borrower position. Positions are stored in append-only
// per-owner slices: the id equals the slice index and is never reused, even
// after the position reaches a terminal state.
type Position struct {
	// Owner is the account that created the position and the only account
	// allowed to operate it; the protocol itself can only liquidate.
	Owner common.Address
	// ID is the index of the position in the owner's slice.
	ID uint64
	// Isolated restricts the position to a single collateral asset fixed at
	// creation. Immutable while the position is active.
	Isolated bool
	// IsolatedAsset is the fixed collateral asset of an isolated position.
	IsolatedAsset common.Address
	// Status is the lifecycle state.
	Status PositionStatus
	// Collateral is the ordered set of collateral holdings.
	Collateral []CollateralEntry
	// Debt is principal plus previously capitalised interest, in quote
	// base units.
	Debt *big.Int
	// LastInterestAccrual is the unix timestamp of the last debt touch.
	LastInterestAccrual int64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		Owner:               p.Owner,
		ID:                  p.ID,
		Isolated:            p.Isolated,
		IsolatedAsset:       p.IsolatedAsset,
		Status:              p.Status,
		LastInterestAccrual: p.LastInterestAccrual,
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	} else {
		clone.Debt = big.NewInt(0)
	}
	if len(p.Collateral) > 0 {
		clone.Collateral = make([]CollateralEntry, len(p.Collateral))
		for i, entry := range p.Collateral {
			clone.Collateral[i] = CollateralEntry{Asset: entry.Asset}
			if entry.Amount != nil {
				clone.Collateral[i].Amount = new(big.Int).Set(entry.Amount)
			} else {
				clone.Collateral[i].Amount = big.NewInt(0)
			}
		}
	}
	return clone
}

func (p *Position) collateralIndex(asset common.Address) int {
	for i, entry := range p.Collateral {
		if entry.Asset == asset {
			return i
		}
	}
	return -1
}

func (p *Position) collateralAmount(asset common.Address) *big.Int {
	if i := p.collateralIndex(asset); i >= 0 && p.Collateral[i].Amount != nil {
		return new(big.Int).Set(p.Collateral[i].Amount)
	}
	return big.NewInt(0)
}

// addCollateral credits amount against the asset, inserting a new entry at
// the end of the set when the asset is not yet held.
func (p *Position) addCollateral(asset common.Address, amount *big.Int) {
	if i := p.collateralIndex(asset); i >= 0 {
		if p.Collateral[i].Amount == nil {
			p.Collateral[i].Amount = big.NewInt(0)
		}
		p.Collateral[i].Amount = new(big.Int).Add(p.Collateral[i].Amount, amount)
		return
	}
	p.Collateral = append(p.Collateral, CollateralEntry{Asset: asset, Amount: new(big.Int).Set(amount)})
}

// subCollateral debits amount; when a non-isolated holding reaches zero the
// entry leaves the set so the distinct-asset count stays accurate.
func (p *Position) subCollateral(asset common.Address, amount *big.Int) {
	i := p.collateralIndex(asset)
	if i < 0 {
		return
	}
	remaining := new(big.Int).Sub(p.Collateral[i].Amount, amount)
	if remaining.Sign() <= 0 && !p.Isolated {
		p.Collateral = append(p.Collateral[:i], p.Collateral[i+1:]...)
		return
	}
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	p.Collateral[i].Amount = remaining
}

// ProtocolState holds the protocol-wide aggregate counters. They are mutated
// exactly once per logical operation, in the same commit as the position
// update, so callers never observe the two out of sync.
type ProtocolState struct {
	TotalBorrow                  *big.Int
	TotalSuppliedLiquidity       *big.Int
	TotalAccruedBorrowerInterest *big.Int
	TotalAccruedSupplierInterest *big.Int
	TotalFlashLoanFees           *big.Int
}

// Clone returns a deep copy of the aggregates.
func (s *ProtocolState) Clone() *ProtocolState {
	if s == nil {
		return nil
	}
	clone := &ProtocolState{}
	clone.TotalBorrow = cloneOrZero(s.TotalBorrow)
	clone.TotalSuppliedLiquidity = cloneOrZero(s.TotalSuppliedLiquidity)
	clone.TotalAccruedBorrowerInterest = cloneOrZero(s.TotalAccruedBorrowerInterest)
	clone.TotalAccruedSupplierInterest = cloneOrZero(s.TotalAccruedSupplierInterest)
	clone.TotalFlashLoanFees = cloneOrZero(s.TotalFlashLoanFees)
	return clone
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// EngineState is the persistence surface the engine mutates. Implementations
// must return independent copies or tolerate in-place mutation of returned
// values being discarded; the engine always writes back explicitly.
type EngineState interface {
	GetPositions(owner common.Address) ([]*Position, error)
	PutPositions(owner common.Address, positions []*Position) error
	GetProtocolState() (*ProtocolState, error)
	PutProtocolState(state *ProtocolState) error
	GetSupplierStamp(supplier common.Address) (int64, error)
	PutSupplierStamp(supplier common.Address, ts int64) error
}

// AssetSource is the slice of the asset registry the engine consumes.
type AssetSource interface {
	IsAssetValid(asset common.Address) bool
	IsAssetAtCapacity(asset common.Address, additionalAmount *big.Int) bool
	GetAssetInfo(asset common.Address) (*registry.Asset, error)
	AssetTVL(asset common.Address) *big.Int
	UpdateAssetTVL(asset common.Address, newTVL *big.Int) error
	TierJumpRate(tier registry.Tier) *big.Int
	TierLiquidationFee(tier registry.Tier) *big.Int
}

// PriceSource resolves validated asset prices at the 6-decimal system scale.
// It fails closed on any data-quality problem.
type PriceSource interface {
	GetAssetPrice(asset common.Address) (*big.Int, error)
}

// TokenBank is the token-transfer collaborator. Both moves fail the whole
// operation on insufficient balance.
type TokenBank interface {
	TransferIn(token, from common.Address, amount *big.Int) error
	TransferOut(token, to common.Address, amount *big.Int) error
	BalanceOf(token, holder common.Address) *big.Int
}

// ShareToken is the yield-bearing share token collaborator. Its total supply
// is ground truth for the exchange-rate computation.
type ShareToken interface {
	Mint(to common.Address, amount *big.Int) error
	Burn(from common.Address, amount *big.Int) error
	TotalSupply() *big.Int
	BalanceOf(holder common.Address) *big.Int
}

// GovBalance exposes governance-token balances for liquidator eligibility.
type GovBalance interface {
	BalanceOf(holder common.Address) *big.Int
}

// RewardSink pays ecosystem rewards to eligible liquidity suppliers.
type RewardSink interface {
	MaxReward() *big.Int
	Reward(to common.Address, amount *big.Int) error
}

// FlashReceiver is the callback executed in the middle of a flash loan. The
// receiver must return the borrowed amount plus fee to the protocol before
// returning; the engine verifies the repayment with a direct balance check
// in addition to the boolean result.
type FlashReceiver interface {
	ExecuteOperation(token common.Address, amount, fee *big.Int, initiator common.Address, params []byte) (bool, error)
}
