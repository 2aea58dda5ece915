package registry

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "github.com/nebula-labs-xyz/lendefi-core/native/common"
)

var (
	errAssetNotListed        = errors.New("registry: asset not listed")
	errThresholdOrder        = errors.New("registry: borrow threshold must sit at least 10 below liquidation threshold")
	errLiquidationThreshold  = errors.New("registry: liquidation threshold exceeds 990")
	errAssetDecimals         = errors.New("registry: asset decimals must be within [1,18]")
	errOracleDecimals        = errors.New("registry: oracle decimals must be within [1,18]")
	errSupplyCap             = errors.New("registry: max supply threshold must be positive")
	errIsolationDebtCap      = errors.New("registry: isolated tier requires a positive isolation debt cap")
	errJumpRateCap           = errors.New("registry: tier jump rate exceeds 25%")
	errLiquidationFeeCap     = errors.New("registry: tier liquidation fee exceeds 10%")
	errNegativeTVL           = errors.New("registry: asset TVL cannot be negative")
	errZeroAddress           = errors.New("registry: asset address required")
	errMissingTierRates      = errors.New("registry: tier rates not configured")
	errNilTierRateComponents = errors.New("registry: tier rates require jump rate and liquidation fee")
)

// Thresholds are expressed in thousandths of collateral value: 800 lets 80%
// of an asset's value back new debt.
const (
	maxLiquidationThresholdMilli = 990
	minThresholdGapMilli         = 10
)

// Asset is the per-collateral configuration record. It is written by the
// manager role and read on every engine valuation.
type Asset struct {
	// Active gates all new exposure to the asset.
	Active bool
	// Decimals is the token's native precision, bounded to [1,18].
	Decimals uint8
	// OracleDecimals is the precision of the asset's primary feed answers.
	OracleDecimals uint8
	// BorrowThreshold is the fraction of value usable for borrowing, in
	// thousandths.
	BorrowThreshold uint64
	// LiquidationThreshold is the fraction of value counted before a
	// position becomes liquidatable, in thousandths.
	LiquidationThreshold uint64
	// MaxSupplyThreshold caps protocol-wide exposure to the asset.
	MaxSupplyThreshold *big.Int
	// IsolationDebtCap bounds debt against the asset when it backs an
	// isolated position. Required for the ISOLATED tier.
	IsolationDebtCap *big.Int
	// Tier assigns the asset's risk classification.
	Tier Tier
	// MinimumOracles overrides the aggregator's global minimum source count
	// for this asset when non-zero.
	MinimumOracles uint8
}

// Clone returns a deep copy of the asset configuration.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	clone := &Asset{
		Active:               a.Active,
		Decimals:             a.Decimals,
		OracleDecimals:       a.OracleDecimals,
		BorrowThreshold:      a.BorrowThreshold,
		LiquidationThreshold: a.LiquidationThreshold,
		Tier:                 a.Tier,
		MinimumOracles:       a.MinimumOracles,
	}
	if a.MaxSupplyThreshold != nil {
		clone.MaxSupplyThreshold = new(big.Int).Set(a.MaxSupplyThreshold)
	}
	if a.IsolationDebtCap != nil {
		clone.IsolationDebtCap = new(big.Int).Set(a.IsolationDebtCap)
	}
	return clone
}

func (a *Asset) validate() error {
	if a == nil {
		return errAssetNotListed
	}
	if a.Decimals < 1 || a.Decimals > 18 {
		return errAssetDecimals
	}
	if a.OracleDecimals < 1 || a.OracleDecimals > 18 {
		return errOracleDecimals
	}
	if a.LiquidationThreshold > maxLiquidationThresholdMilli {
		return errLiquidationThreshold
	}
	if a.BorrowThreshold+minThresholdGapMilli > a.LiquidationThreshold {
		return errThresholdOrder
	}
	if a.MaxSupplyThreshold == nil || a.MaxSupplyThreshold.Sign() <= 0 {
		return errSupplyCap
	}
	if a.Tier == TierIsolated {
		if a.IsolationDebtCap == nil || a.IsolationDebtCap.Sign() <= 0 {
			return errIsolationDebtCap
		}
	}
	return nil
}

// Registry is the in-memory asset configuration store. Listing order is
// preserved so downstream enumeration is deterministic.
type Registry struct {
	mu        sync.RWMutex
	assets    map[common.Address]*Asset
	listed    []common.Address
	tvl       map[common.Address]*big.Int
	tierRates map[Tier]TierRates
	roles     nativecommon.RoleView
}

// NewRegistry constructs an empty registry with the default tier rate table.
func NewRegistry() *Registry {
	return &Registry{
		assets:    make(map[common.Address]*Asset),
		tvl:       make(map[common.Address]*big.Int),
		tierRates: defaultTierRates(),
	}
}

// SetRoles wires the external access controller used to gate manager
// mutations.
func (r *Registry) SetRoles(roles nativecommon.RoleView) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.roles = roles
	r.mu.Unlock()
}

// ListAsset registers or updates an asset configuration. Re-registering an
// already listed asset replaces the config in place; listing order and the
// listed count are unchanged.
func (r *Registry) ListAsset(caller, asset common.Address, cfg *Asset) error {
	if r == nil {
		return errAssetNotListed
	}
	if asset == (common.Address{}) {
		return errZeroAddress
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := nativecommon.RequireRole(r.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	if _, exists := r.assets[asset]; !exists {
		r.listed = append(r.listed, asset)
		r.tvl[asset] = big.NewInt(0)
	}
	r.assets[asset] = cfg.Clone()
	return nil
}

// UpdateAssetConfig aliases ListAsset; the operation is an idempotent upsert.
func (r *Registry) UpdateAssetConfig(caller, asset common.Address, cfg *Asset) error {
	return r.ListAsset(caller, asset, cfg)
}

// GetAssetInfo returns a copy of the listed asset configuration.
func (r *Registry) GetAssetInfo(asset common.Address) (*Asset, error) {
	if r == nil {
		return nil, errAssetNotListed
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.assets[asset]
	if !ok {
		return nil, errAssetNotListed
	}
	return cfg.Clone(), nil
}

// IsAssetValid reports whether the asset is listed and active.
func (r *Registry) IsAssetValid(asset common.Address) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.assets[asset]
	return ok && cfg.Active
}

// IsAssetAtCapacity reports whether adding additionalAmount would push the
// asset past its global supply cap.
func (r *Registry) IsAssetAtCapacity(asset common.Address, additionalAmount *big.Int) bool {
	if r == nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.assets[asset]
	if !ok || cfg.MaxSupplyThreshold == nil {
		return true
	}
	current := r.tvl[asset]
	if current == nil {
		current = big.NewInt(0)
	}
	projected := new(big.Int).Set(current)
	if additionalAmount != nil {
		projected.Add(projected, additionalAmount)
	}
	return projected.Cmp(cfg.MaxSupplyThreshold) > 0
}

// AssetTVL returns the protocol-wide locked amount for the asset.
func (r *Registry) AssetTVL(asset common.Address) *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	current := r.tvl[asset]
	if current == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(current)
}

// UpdateAssetTVL overwrites the tracked TVL for the asset. The accounting
// engine calls this in the same commit as its position mutation.
func (r *Registry) UpdateAssetTVL(asset common.Address, newTVL *big.Int) error {
	if r == nil {
		return errAssetNotListed
	}
	if newTVL != nil && newTVL.Sign() < 0 {
		return errNegativeTVL
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[asset]; !ok {
		return errAssetNotListed
	}
	if newTVL == nil {
		newTVL = big.NewInt(0)
	}
	r.tvl[asset] = new(big.Int).Set(newTVL)
	return nil
}

// UpdateTierConfig replaces the rate table entry for a tier, enforcing the
// jump-rate and liquidation-fee caps.
func (r *Registry) UpdateTierConfig(caller common.Address, tier Tier, rates TierRates) error {
	if r == nil {
		return errMissingTierRates
	}
	if rates.JumpRate == nil || rates.LiquidationFee == nil {
		return errNilTierRateComponents
	}
	if rates.JumpRate.Cmp(maxJumpRate) > 0 {
		return errJumpRateCap
	}
	if rates.LiquidationFee.Cmp(maxLiquidationFee) > 0 {
		return errLiquidationFeeCap
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := nativecommon.RequireRole(r.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	r.tierRates[tier] = rates.Clone()
	return nil
}

// TierJumpRate returns the WAD-scaled borrow premium for the tier.
func (r *Registry) TierJumpRate(tier Tier) *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rates, ok := r.tierRates[tier]
	if !ok || rates.JumpRate == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(rates.JumpRate)
}

// TierLiquidationFee returns the WAD-scaled liquidator bonus for the tier.
func (r *Registry) TierLiquidationFee(tier Tier) *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rates, ok := r.tierRates[tier]
	if !ok || rates.LiquidationFee == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(rates.LiquidationFee)
}

// ListedAssets returns the asset addresses in listing order.
func (r *Registry) ListedAssets() []common.Address {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]common.Address{}, r.listed...)
}

// ListedAssetCount returns the number of listed assets.
func (r *Registry) ListedAssetCount() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listed)
}
