package oracle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/nebula-labs-xyz/lendefi-core/native/fpmath"
)

// maxTick bounds the pool tick domain; sqrtRatioAtTick is undefined outside.
const maxTick = 887272

var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// tickFactors are the Q128.128 multipliers for each bit of |tick| used by the
// sqrt-ratio ladder, matching the pool contract's fixed-point tables.
var tickFactors = [20]*uint256.Int{
	uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
	uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
	uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
	uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
	uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
	uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
	uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
	uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
	uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
	uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
	uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
	uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
	uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
	uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
	uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
	uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
	uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
	uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
	uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
	uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
}

var oneQ128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

// sqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96 value. Intermediate
// products of two sub-2^128 operands fit a 256-bit word, so the wrapping
// multiply is exact.
func sqrtRatioAtTick(tick int64) (*uint256.Int, error) {
	if tick < -maxTick || tick > maxTick {
		return nil, ErrInvalidTick
	}
	abs := tick
	if abs < 0 {
		abs = -abs
	}

	ratio := new(uint256.Int).Set(oneQ128)
	if abs&1 != 0 {
		ratio.Set(tickFactors[0])
	}
	for bit := 1; bit < len(tickFactors); bit++ {
		if abs&(1<<uint(bit)) != 0 {
			ratio.Mul(ratio, tickFactors[bit])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		max := new(uint256.Int).Not(uint256.NewInt(0))
		ratio.Div(max, ratio)
	}

	// Round the Q128.128 ratio up into Q64.96.
	remainder := new(uint256.Int).And(ratio, uint256.MustFromHex("0xffffffff"))
	sqrtPriceX96 := new(uint256.Int).Rsh(ratio, 32)
	if !remainder.IsZero() {
		sqrtPriceX96.AddUint64(sqrtPriceX96, 1)
	}
	return sqrtPriceX96, nil
}

// timeWeightedAverageTick reduces two cumulative tick observations over the
// window to a mean tick, flooring toward negative infinity as the pool does.
func timeWeightedAverageTick(older, newer int64, window uint32) int64 {
	delta := newer - older
	avg := delta / int64(window)
	if delta < 0 && delta%int64(window) != 0 {
		avg--
	}
	return avg
}

// poolPrice converts an averaged tick into the price of one whole asset unit
// denominated in quote-token base units, orienting by the asset's pool side.
func poolPrice(tick int64, assetIsToken0 bool, assetDecimals uint8) (*big.Int, error) {
	sqrtPriceX96, err := sqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}
	sqrt := sqrtPriceX96.ToBig()
	priceX192 := new(big.Int).Mul(sqrt, sqrt)
	if priceX192.Sign() == 0 {
		return nil, ErrInvalidPrice
	}
	unit := fpmath.Pow10(int(assetDecimals))
	var price *big.Int
	if assetIsToken0 {
		price = fpmath.MulDiv(priceX192, unit, q192)
	} else {
		price = fpmath.MulDiv(q192, unit, priceX192)
	}
	if price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}

func (a *Aggregator) resolveUniswap(asset common.Address, assetDecimals uint8, cfg UniswapOracleConfig) (*big.Int, error) {
	if cfg.Pool == nil || !cfg.Active || cfg.QuoteToken == (common.Address{}) {
		return nil, ErrInvalidUniswapConfig
	}
	window := uint32(cfg.TwapPeriod.Seconds())
	if window == 0 {
		return nil, ErrInvalidUniswapConfig
	}

	token0 := cfg.Pool.Token0()
	token1 := cfg.Pool.Token1()
	var assetIsToken0 bool
	switch {
	case asset == token0 && cfg.QuoteToken == token1:
		assetIsToken0 = true
	case asset == token1 && cfg.QuoteToken == token0:
		assetIsToken0 = false
	default:
		return nil, ErrInvalidUniswapConfig
	}

	cumulatives, err := cfg.Pool.Observe([]uint32{window, 0})
	if err != nil {
		return nil, fmt.Errorf("oracle: pool observe: %w", err)
	}
	if len(cumulatives) != 2 {
		return nil, ErrInvalidUniswapConfig
	}

	tick := timeWeightedAverageTick(cumulatives[0], cumulatives[1], window)
	price, err := poolPrice(tick, assetIsToken0, assetDecimals)
	if err != nil {
		return nil, err
	}
	return fpmath.Rescale(price, cfg.QuoteDecimals, fpmath.WadDecimals), nil
}
