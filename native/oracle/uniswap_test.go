package oracle

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestSqrtRatioAtTickZero(t *testing.T) {
	ratio, err := sqrtRatioAtTick(0)
	if err != nil {
		t.Fatalf("tick zero: %v", err)
	}
	want := new(big.Int).Lsh(big.NewInt(1), 96)
	if ratio.ToBig().Cmp(want) != 0 {
		t.Fatalf("unexpected sqrt ratio at tick 0: %s", ratio.ToBig())
	}
}

func TestSqrtRatioAtTickBounds(t *testing.T) {
	if _, err := sqrtRatioAtTick(maxTick + 1); err == nil {
		t.Fatalf("expected rejection above max tick")
	}
	if _, err := sqrtRatioAtTick(-maxTick - 1); err == nil {
		t.Fatalf("expected rejection below min tick")
	}
	if _, err := sqrtRatioAtTick(maxTick); err != nil {
		t.Fatalf("max tick must be valid: %v", err)
	}
}

func TestSqrtRatioSymmetry(t *testing.T) {
	// ratio(t) * ratio(-t) should land within rounding of 2^192.
	pos, err := sqrtRatioAtTick(1000)
	if err != nil {
		t.Fatalf("positive tick: %v", err)
	}
	neg, err := sqrtRatioAtTick(-1000)
	if err != nil {
		t.Fatalf("negative tick: %v", err)
	}
	product := new(big.Int).Mul(pos.ToBig(), neg.ToBig())
	target := new(big.Int).Lsh(big.NewInt(1), 192)
	diff := new(big.Int).Sub(product, target)
	diff.Abs(diff)
	// Tolerance of one part in 2^160 absorbs the ladder's round-up bias.
	tolerance := new(big.Int).Lsh(big.NewInt(1), 160)
	if diff.Cmp(tolerance) > 0 {
		t.Fatalf("symmetry drift too large: %s", diff)
	}
}

func TestTimeWeightedAverageTickFloorsNegative(t *testing.T) {
	// Delta of -7 over a 2-second window floors to -4, mirroring pool
	// semantics for negative cumulative deltas.
	if got := timeWeightedAverageTick(7, 0, 2); got != -4 {
		t.Fatalf("unexpected negative average: %d", got)
	}
	if got := timeWeightedAverageTick(0, 7, 2); got != 3 {
		t.Fatalf("unexpected positive average: %d", got)
	}
	if got := timeWeightedAverageTick(0, -8, 2); got != -4 {
		t.Fatalf("exact negative division must not adjust: %d", got)
	}
}

func TestPoolPriceOrientation(t *testing.T) {
	// tick 6932 prices token0 very close to 2.0 in token1 terms
	// (1.0001^6932 ~= 2.0001).
	price0, err := poolPrice(6932, true, 6)
	if err != nil {
		t.Fatalf("token0 orientation: %v", err)
	}
	if price0.Cmp(big.NewInt(1_990_000)) < 0 || price0.Cmp(big.NewInt(2_010_000)) > 0 {
		t.Fatalf("token0 price out of range: %s", price0)
	}

	price1, err := poolPrice(6932, false, 6)
	if err != nil {
		t.Fatalf("token1 orientation: %v", err)
	}
	if price1.Cmp(big.NewInt(495_000)) < 0 || price1.Cmp(big.NewInt(505_000)) > 0 {
		t.Fatalf("token1 price out of range: %s", price1)
	}
}

func TestResolveUniswapRejectsMisconfiguredPool(t *testing.T) {
	agg, _ := newTestAggregator(6, 1)

	// Pool whose tokens do not include the priced asset.
	other := common.HexToAddress("0xcc")
	pool := stubPool{token0: other, token1: testQuote, ticks: []int64{0, 0}}
	_, err := agg.resolveUniswap(testAsset, 6, UniswapOracleConfig{
		Pool:          pool,
		QuoteToken:    testQuote,
		QuoteDecimals: 6,
		TwapPeriod:    time.Hour,
		Active:        true,
	})
	if err != ErrInvalidUniswapConfig {
		t.Fatalf("expected config rejection, got %v", err)
	}

	// Inactive config.
	_, err = agg.resolveUniswap(testAsset, 6, UniswapOracleConfig{
		Pool:          stubPool{token0: testAsset, token1: testQuote, ticks: []int64{0, 0}},
		QuoteToken:    testQuote,
		QuoteDecimals: 6,
		TwapPeriod:    time.Hour,
	})
	if err != ErrInvalidUniswapConfig {
		t.Fatalf("expected inactive rejection, got %v", err)
	}

	// Zero TWAP window.
	_, err = agg.resolveUniswap(testAsset, 6, UniswapOracleConfig{
		Pool:          stubPool{token0: testAsset, token1: testQuote, ticks: []int64{0, 0}},
		QuoteToken:    testQuote,
		QuoteDecimals: 6,
		Active:        true,
	})
	if err != ErrInvalidUniswapConfig {
		t.Fatalf("expected zero window rejection, got %v", err)
	}
}
