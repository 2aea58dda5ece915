package registry

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func validAsset() *Asset {
	return &Asset{
		Active:               true,
		Decimals:             18,
		OracleDecimals:       8,
		BorrowThreshold:      800,
		LiquidationThreshold: 850,
		MaxSupplyThreshold:   big.NewInt(1_000_000),
		Tier:                 TierCrossA,
	}
}

func TestListAssetIdempotent(t *testing.T) {
	reg := NewRegistry()
	manager := common.HexToAddress("0x01")
	asset := common.HexToAddress("0xaa")

	if err := reg.ListAsset(manager, asset, validAsset()); err != nil {
		t.Fatalf("list asset: %v", err)
	}
	if got := reg.ListedAssetCount(); got != 1 {
		t.Fatalf("unexpected listed count: %d", got)
	}

	updated := validAsset()
	updated.BorrowThreshold = 700
	if err := reg.UpdateAssetConfig(manager, asset, updated); err != nil {
		t.Fatalf("update asset: %v", err)
	}
	if got := reg.ListedAssetCount(); got != 1 {
		t.Fatalf("re-registration changed listed count: %d", got)
	}
	cfg, err := reg.GetAssetInfo(asset)
	if err != nil {
		t.Fatalf("get asset info: %v", err)
	}
	if cfg.BorrowThreshold != 700 {
		t.Fatalf("update not applied: %d", cfg.BorrowThreshold)
	}
}

func TestListAssetValidation(t *testing.T) {
	reg := NewRegistry()
	manager := common.HexToAddress("0x01")
	asset := common.HexToAddress("0xaa")

	cfg := validAsset()
	cfg.LiquidationThreshold = 995
	if err := reg.ListAsset(manager, asset, cfg); !errors.Is(err, errLiquidationThreshold) {
		t.Fatalf("expected liquidation threshold rejection, got %v", err)
	}

	cfg = validAsset()
	cfg.BorrowThreshold = 845
	if err := reg.ListAsset(manager, asset, cfg); !errors.Is(err, errThresholdOrder) {
		t.Fatalf("expected threshold order rejection, got %v", err)
	}

	cfg = validAsset()
	cfg.Decimals = 0
	if err := reg.ListAsset(manager, asset, cfg); !errors.Is(err, errAssetDecimals) {
		t.Fatalf("expected decimal rejection, got %v", err)
	}

	cfg = validAsset()
	cfg.MaxSupplyThreshold = big.NewInt(0)
	if err := reg.ListAsset(manager, asset, cfg); !errors.Is(err, errSupplyCap) {
		t.Fatalf("expected supply cap rejection, got %v", err)
	}

	cfg = validAsset()
	cfg.Tier = TierIsolated
	if err := reg.ListAsset(manager, asset, cfg); !errors.Is(err, errIsolationDebtCap) {
		t.Fatalf("expected isolation cap rejection, got %v", err)
	}
	cfg.IsolationDebtCap = big.NewInt(5_000_000_000)
	if err := reg.ListAsset(manager, asset, cfg); err != nil {
		t.Fatalf("isolated asset with cap rejected: %v", err)
	}
}

func TestIsAssetValidAndCapacity(t *testing.T) {
	reg := NewRegistry()
	manager := common.HexToAddress("0x01")
	asset := common.HexToAddress("0xaa")
	other := common.HexToAddress("0xbb")

	cfg := validAsset()
	cfg.MaxSupplyThreshold = big.NewInt(1_000)
	if err := reg.ListAsset(manager, asset, cfg); err != nil {
		t.Fatalf("list asset: %v", err)
	}

	if !reg.IsAssetValid(asset) {
		t.Fatalf("active asset reported invalid")
	}
	if reg.IsAssetValid(other) {
		t.Fatalf("unlisted asset reported valid")
	}

	if reg.IsAssetAtCapacity(asset, big.NewInt(1_000)) {
		t.Fatalf("amount exactly at cap must be accepted")
	}
	if !reg.IsAssetAtCapacity(asset, big.NewInt(1_001)) {
		t.Fatalf("amount above cap must be rejected")
	}

	if err := reg.UpdateAssetTVL(asset, big.NewInt(600)); err != nil {
		t.Fatalf("update tvl: %v", err)
	}
	if !reg.IsAssetAtCapacity(asset, big.NewInt(500)) {
		t.Fatalf("tvl plus amount above cap must be rejected")
	}
	if got := reg.AssetTVL(asset); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected tvl: %s", got)
	}

	inactive := validAsset()
	inactive.Active = false
	if err := reg.ListAsset(manager, other, inactive); err != nil {
		t.Fatalf("list inactive asset: %v", err)
	}
	if reg.IsAssetValid(other) {
		t.Fatalf("inactive asset reported valid")
	}
}

func TestTierRateTable(t *testing.T) {
	reg := NewRegistry()
	manager := common.HexToAddress("0x01")

	// Defaults must be monotone in tier risk.
	prev := big.NewInt(-1)
	for _, tier := range []Tier{TierStable, TierCrossA, TierCrossB, TierIsolated} {
		rate := reg.TierJumpRate(tier)
		if rate.Cmp(prev) <= 0 {
			t.Fatalf("jump rates not increasing at %s: %s", tier, rate)
		}
		prev = rate
	}

	if err := reg.UpdateTierConfig(manager, TierCrossB, TierRates{
		JumpRate:       big.NewInt(300_000),
		LiquidationFee: big.NewInt(20_000),
	}); !errors.Is(err, errJumpRateCap) {
		t.Fatalf("expected jump rate cap rejection, got %v", err)
	}
	if err := reg.UpdateTierConfig(manager, TierCrossB, TierRates{
		JumpRate:       big.NewInt(100_000),
		LiquidationFee: big.NewInt(200_000),
	}); !errors.Is(err, errLiquidationFeeCap) {
		t.Fatalf("expected liquidation fee cap rejection, got %v", err)
	}
	if err := reg.UpdateTierConfig(manager, TierCrossB, TierRates{
		JumpRate:       big.NewInt(100_000),
		LiquidationFee: big.NewInt(20_000),
	}); err != nil {
		t.Fatalf("update tier config: %v", err)
	}
	if got := reg.TierLiquidationFee(TierCrossB); got.Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("unexpected liquidation fee: %s", got)
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("cross_b")
	if err != nil {
		t.Fatalf("parse tier: %v", err)
	}
	if tier != TierCrossB {
		t.Fatalf("unexpected tier: %s", tier)
	}
	if _, err := ParseTier("junk"); err == nil {
		t.Fatalf("expected parse failure")
	}
}
