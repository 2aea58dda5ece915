package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/native/registry"
)

type stubAssets struct {
	assets map[common.Address]*registry.Asset
}

func (s stubAssets) GetAssetInfo(asset common.Address) (*registry.Asset, error) {
	if cfg, ok := s.assets[asset]; ok {
		return cfg.Clone(), nil
	}
	return nil, fmt.Errorf("asset %s not listed", asset.Hex())
}

type stubPool struct {
	token0 common.Address
	token1 common.Address
	ticks  []int64
	err    error
}

func (p stubPool) Token0() common.Address { return p.token0 }
func (p stubPool) Token1() common.Address { return p.token1 }

func (p stubPool) Observe([]uint32) ([]int64, error) {
	if p.err != nil {
		return nil, p.err
	}
	return append([]int64{}, p.ticks...), nil
}

var (
	testAsset = common.HexToAddress("0xa1")
	testQuote = common.HexToAddress("0xb2")
)

func newTestAggregator(assetDecimals, minOracles uint8) (*Aggregator, time.Time) {
	now := time.Unix(1_700_000_000, 0)
	agg := NewAggregator(stubAssets{assets: map[common.Address]*registry.Asset{
		testAsset: {
			Active:         true,
			Decimals:       assetDecimals,
			OracleDecimals: 8,
			MinimumOracles: minOracles,
		},
	}})
	agg.SetNow(func() time.Time { return now })
	return agg, now
}

func pushPrice(feed *StaticFeed, price int64, at time.Time) {
	feed.Push(big.NewInt(price), at)
}

func TestGetAssetPriceSingleChainlinkSource(t *testing.T) {
	agg, now := newTestAggregator(18, 1)
	feed := NewStaticFeed(8)
	pushPrice(feed, 2_500_00000000, now.Add(-time.Minute))
	if err := agg.SetChainlinkOracle(common.Address{}, testAsset, ChainlinkOracleConfig{Feed: feed, Active: true}); err != nil {
		t.Fatalf("set chainlink oracle: %v", err)
	}

	price, err := agg.GetAssetPrice(testAsset)
	if err != nil {
		t.Fatalf("get asset price: %v", err)
	}
	// 2500 at 8 decimals normalises to 2500 at the 6-decimal system scale.
	if price.Cmp(big.NewInt(2_500_000_000)) != 0 {
		t.Fatalf("unexpected price: %s", price)
	}
}

func TestGetAssetPriceBlendsTwoSources(t *testing.T) {
	agg, now := newTestAggregator(6, 2)
	feed := NewStaticFeed(8)
	pushPrice(feed, 1_04000000, now.Add(-time.Minute))
	if err := agg.SetChainlinkOracle(common.Address{}, testAsset, ChainlinkOracleConfig{Feed: feed, Active: true}); err != nil {
		t.Fatalf("set chainlink oracle: %v", err)
	}
	// A flat pool at tick zero prices the asset at exactly 1 quote unit.
	pool := stubPool{token0: testAsset, token1: testQuote, ticks: []int64{0, 0}}
	if err := agg.SetUniswapOracle(common.Address{}, testAsset, UniswapOracleConfig{
		Pool:          pool,
		QuoteToken:    testQuote,
		QuoteDecimals: 6,
		TwapPeriod:    30 * time.Minute,
		Active:        true,
	}); err != nil {
		t.Fatalf("set uniswap oracle: %v", err)
	}

	price, err := agg.GetAssetPrice(testAsset)
	if err != nil {
		t.Fatalf("get asset price: %v", err)
	}
	// Floor average of 1.040000 and 1.000000.
	if price.Cmp(big.NewInt(1_020_000)) != 0 {
		t.Fatalf("unexpected blended price: %s", price)
	}
}

func TestGetAssetPriceNoSources(t *testing.T) {
	agg, _ := newTestAggregator(18, 1)
	if _, err := agg.GetAssetPrice(testAsset); !errors.Is(err, ErrNotEnoughValidOracles) {
		t.Fatalf("expected not enough oracles, got %v", err)
	}
}

func TestChainlinkValidationLadder(t *testing.T) {
	agg, now := newTestAggregator(18, 1)

	set := func(feed *StaticFeed) {
		if err := agg.SetChainlinkOracle(common.Address{}, testAsset, ChainlinkOracleConfig{Feed: feed, Active: true}); err != nil {
			t.Fatalf("set chainlink oracle: %v", err)
		}
	}

	feed := NewStaticFeed(8)
	feed.Push(big.NewInt(0), now)
	set(feed)
	if _, err := agg.GetAssetPrice(testAsset); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}

	feed = NewStaticFeed(8)
	feed.PushRound(RoundData{RoundID: 5, Answer: big.NewInt(100_00000000), UpdatedAt: now, AnsweredInRound: 4})
	set(feed)
	if _, err := agg.GetAssetPrice(testAsset); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale round, got %v", err)
	}

	feed = NewStaticFeed(8)
	pushPrice(feed, 100_00000000, now.Add(-9*time.Hour))
	set(feed)
	if _, err := agg.GetAssetPrice(testAsset); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestChainlinkVolatilityToleratesFreshJump(t *testing.T) {
	agg, now := newTestAggregator(18, 1)

	// A 30% jump on a two-hour-old reading fails the volatility check.
	feed := NewStaticFeed(8)
	pushPrice(feed, 100_00000000, now.Add(-3*time.Hour))
	pushPrice(feed, 130_00000000, now.Add(-2*time.Hour))
	if err := agg.SetChainlinkOracle(common.Address{}, testAsset, ChainlinkOracleConfig{Feed: feed, Active: true}); err != nil {
		t.Fatalf("set chainlink oracle: %v", err)
	}
	if _, err := agg.GetAssetPrice(testAsset); !errors.Is(err, ErrInvalidPriceVolatility) {
		t.Fatalf("expected volatility rejection, got %v", err)
	}

	// The same jump on a reading younger than the volatility window passes.
	fresh := NewStaticFeed(8)
	pushPrice(fresh, 100_00000000, now.Add(-3*time.Hour))
	pushPrice(fresh, 130_00000000, now.Add(-10*time.Minute))
	if err := agg.SetChainlinkOracle(common.Address{}, testAsset, ChainlinkOracleConfig{Feed: fresh, Active: true}); err != nil {
		t.Fatalf("set chainlink oracle: %v", err)
	}
	price, err := agg.GetAssetPrice(testAsset)
	if err != nil {
		t.Fatalf("fresh jump should pass: %v", err)
	}
	if price.Cmp(big.NewInt(130_000_000)) != 0 {
		t.Fatalf("unexpected price: %s", price)
	}
}

func TestManualCircuitBreaker(t *testing.T) {
	agg, now := newTestAggregator(18, 1)
	feed := NewStaticFeed(8)
	pushPrice(feed, 100_00000000, now.Add(-time.Minute))
	if err := agg.SetChainlinkOracle(common.Address{}, testAsset, ChainlinkOracleConfig{Feed: feed, Active: true}); err != nil {
		t.Fatalf("set chainlink oracle: %v", err)
	}

	if err := agg.TriggerCircuitBreaker(common.Address{}, testAsset); err != nil {
		t.Fatalf("trigger breaker: %v", err)
	}
	if _, err := agg.GetAssetPrice(testAsset); !errors.Is(err, ErrCircuitBreakerActive) {
		t.Fatalf("expected breaker rejection, got %v", err)
	}
	// Trigger is idempotent.
	if err := agg.TriggerCircuitBreaker(common.Address{}, testAsset); err != nil {
		t.Fatalf("second trigger: %v", err)
	}

	if err := agg.ResetCircuitBreaker(common.Address{}, testAsset); err != nil {
		t.Fatalf("reset breaker: %v", err)
	}
	if _, err := agg.GetAssetPrice(testAsset); err != nil {
		t.Fatalf("price after reset: %v", err)
	}
}

func TestEvaluateCircuitBreakerTripsAndClearsOnDeviation(t *testing.T) {
	agg, now := newTestAggregator(6, 1)
	feed := NewStaticFeed(8)
	pushPrice(feed, 3_00000000, now.Add(-time.Minute))
	if err := agg.SetChainlinkOracle(common.Address{}, testAsset, ChainlinkOracleConfig{Feed: feed, Active: true}); err != nil {
		t.Fatalf("set chainlink oracle: %v", err)
	}
	pool := stubPool{token0: testAsset, token1: testQuote, ticks: []int64{0, 0}}
	if err := agg.SetUniswapOracle(common.Address{}, testAsset, UniswapOracleConfig{
		Pool:          pool,
		QuoteToken:    testQuote,
		QuoteDecimals: 6,
		TwapPeriod:    30 * time.Minute,
		Active:        true,
	}); err != nil {
		t.Fatalf("set uniswap oracle: %v", err)
	}

	// 3.00 vs 1.00 is a 200% deviation against the lower price.
	deviated, pct, err := agg.CheckPriceDeviation(testAsset)
	if err != nil {
		t.Fatalf("check deviation: %v", err)
	}
	if !deviated || pct != 200 {
		t.Fatalf("unexpected deviation result: %v %d", deviated, pct)
	}

	tripped, err := agg.EvaluateCircuitBreaker(testAsset)
	if err != nil {
		t.Fatalf("evaluate breaker: %v", err)
	}
	if !tripped || !agg.CircuitBroken(testAsset) {
		t.Fatalf("expected breaker to trip")
	}
	if _, err := agg.GetAssetPrice(testAsset); !errors.Is(err, ErrCircuitBreakerActive) {
		t.Fatalf("expected breaker rejection, got %v", err)
	}

	// Once the feed converges the automatic path clears the breaker.
	pushPrice(feed, 1_04000000, now.Add(-30*time.Second))
	tripped, err = agg.EvaluateCircuitBreaker(testAsset)
	if err != nil {
		t.Fatalf("re-evaluate breaker: %v", err)
	}
	if tripped || agg.CircuitBroken(testAsset) {
		t.Fatalf("expected breaker to clear")
	}
}

func TestThresholdBounds(t *testing.T) {
	agg, _ := newTestAggregator(18, 1)
	caller := common.Address{}

	if err := agg.UpdateFreshnessThreshold(caller, time.Minute); !errors.Is(err, errThresholdBounds) {
		t.Fatalf("expected freshness bound rejection, got %v", err)
	}
	if err := agg.UpdateFreshnessThreshold(caller, time.Hour); err != nil {
		t.Fatalf("freshness update: %v", err)
	}
	if err := agg.UpdateVolatilityWindow(caller, 5*time.Hour); !errors.Is(err, errThresholdBounds) {
		t.Fatalf("expected volatility window rejection, got %v", err)
	}
	if err := agg.UpdateVolatilityPercentage(caller, 40); !errors.Is(err, errThresholdBounds) {
		t.Fatalf("expected volatility pct rejection, got %v", err)
	}
	if err := agg.UpdateCircuitBreakerThreshold(caller, 10); !errors.Is(err, errThresholdBounds) {
		t.Fatalf("expected breaker threshold rejection, got %v", err)
	}
	if err := agg.UpdateMinimumOracles(caller, 0); !errors.Is(err, errMinimumOracles) {
		t.Fatalf("expected minimum oracle rejection, got %v", err)
	}
}

func TestMinimumOraclesEnforced(t *testing.T) {
	// The asset demands two validated sources but only one is configured.
	agg, now := newTestAggregator(18, 2)
	feed := NewStaticFeed(8)
	pushPrice(feed, 100_00000000, now.Add(-time.Minute))
	if err := agg.SetChainlinkOracle(common.Address{}, testAsset, ChainlinkOracleConfig{Feed: feed, Active: true}); err != nil {
		t.Fatalf("set chainlink oracle: %v", err)
	}
	if _, err := agg.GetAssetPrice(testAsset); !errors.Is(err, ErrNotEnoughValidOracles) {
		t.Fatalf("expected not enough oracles, got %v", err)
	}
}
