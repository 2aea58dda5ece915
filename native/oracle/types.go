package oracle

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/native/registry"
)

// Price resolution fails closed: any validation error aborts the operation
// that needed the price. There is never a fallback to a cached answer.
var (
	// ErrCircuitBreakerActive signals that price reads for the asset are
	// halted until the breaker is reset.
	ErrCircuitBreakerActive = errors.New("oracle: circuit breaker active")
	// ErrNotEnoughValidOracles signals that fewer validated sources answered
	// than the asset's configured minimum.
	ErrNotEnoughValidOracles = errors.New("oracle: not enough valid oracles")
	// ErrInvalidPrice signals a non-positive feed answer.
	ErrInvalidPrice = errors.New("oracle: invalid price")
	// ErrStalePrice signals a feed whose answered round lags its latest
	// round, the signature of a stuck aggregator.
	ErrStalePrice = errors.New("oracle: stale price round")
	// ErrTimeout signals an answer older than the freshness threshold.
	ErrTimeout = errors.New("oracle: price timeout")
	// ErrInvalidPriceVolatility signals a large price jump on a reading old
	// enough that freshness no longer vouches for it.
	ErrInvalidPriceVolatility = errors.New("oracle: price volatility")
	// ErrInvalidUniswapConfig signals an unset or inactive pool binding.
	ErrInvalidUniswapConfig = errors.New("oracle: invalid uniswap config")
	// ErrInvalidTick signals an averaged tick outside the pool tick domain.
	ErrInvalidTick = errors.New("oracle: tick outside valid range")
)

// RoundData mirrors the answer shape of a Chainlink-style aggregator round.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	UpdatedAt       time.Time
	AnsweredInRound uint64
}

// ChainlinkFeed is the read surface the aggregator consumes from a
// Chainlink-style price feed.
type ChainlinkFeed interface {
	LatestRoundData() (RoundData, error)
	GetRoundData(roundID uint64) (RoundData, error)
	Decimals() uint8
}

// UniswapPool is the read surface the aggregator consumes from a Uniswap
// v3-style pool. Observe returns cumulative ticks for each requested
// lookback, newest-last ordering matching the pool contract.
type UniswapPool interface {
	Token0() common.Address
	Token1() common.Address
	Observe(secondsAgo []uint32) ([]int64, error)
}

// ChainlinkOracleConfig binds a Chainlink-style feed to an asset.
type ChainlinkOracleConfig struct {
	Feed   ChainlinkFeed
	Active bool
}

// UniswapOracleConfig binds a pool TWAP source to an asset. The quote token
// must be the pool's other side; QuoteDecimals is its native precision.
type UniswapOracleConfig struct {
	Pool          UniswapPool
	QuoteToken    common.Address
	QuoteDecimals uint8
	TwapPeriod    time.Duration
	Active        bool
}

// AssetInfoSource is the slice of the asset registry the aggregator needs:
// decimals for pool price orientation and the per-asset minimum source count.
type AssetInfoSource interface {
	GetAssetInfo(asset common.Address) (*registry.Asset, error)
}
