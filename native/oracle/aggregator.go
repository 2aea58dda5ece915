package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/core/events"
	"github.com/nebula-labs-xyz/lendefi-core/native/fpmath"
	nativecommon "github.com/nebula-labs-xyz/lendefi-core/native/common"
)

const moduleName = "oracle"

// Validation threshold defaults and bounds. Percentages are plain integers
// (20 means 20%), not WAD values.
const (
	defaultFreshnessThreshold = 8 * time.Hour
	minFreshnessThreshold     = 15 * time.Minute
	maxFreshnessThreshold     = 24 * time.Hour

	defaultVolatilityWindow = time.Hour
	minVolatilityWindow     = 5 * time.Minute
	maxVolatilityWindow     = 4 * time.Hour

	defaultVolatilityPct = 20
	minVolatilityPct     = 5
	maxVolatilityPct     = 30

	defaultBreakerPct = 50
	minBreakerPct     = 25
	maxBreakerPct     = 70
)

var (
	errThresholdBounds = errors.New("oracle: threshold outside allowed bounds")
	errMinimumOracles  = errors.New("oracle: minimum oracle count must be at least 1")
	errFeedRequired    = errors.New("oracle: feed required for active config")
)

// Aggregator resolves per-asset prices from up to two independent source
// types, validates every answer, and enforces the per-asset circuit breaker.
// All returned prices are normalised to the 6-decimal system scale.
type Aggregator struct {
	mu     sync.RWMutex
	assets AssetInfoSource

	chainlink     map[common.Address]ChainlinkOracleConfig
	uniswap       map[common.Address]UniswapOracleConfig
	circuitBroken map[common.Address]bool

	freshnessThreshold time.Duration
	volatilityWindow   time.Duration
	volatilityPct      uint64
	breakerPct         uint64
	minimumOracles     uint8

	roles   nativecommon.RoleView
	pauses  nativecommon.PauseView
	emitter events.Emitter
	now     func() time.Time
}

// NewAggregator constructs an aggregator with default validation thresholds.
func NewAggregator(assets AssetInfoSource) *Aggregator {
	return &Aggregator{
		assets:             assets,
		chainlink:          make(map[common.Address]ChainlinkOracleConfig),
		uniswap:            make(map[common.Address]UniswapOracleConfig),
		circuitBroken:      make(map[common.Address]bool),
		freshnessThreshold: defaultFreshnessThreshold,
		volatilityWindow:   defaultVolatilityWindow,
		volatilityPct:      defaultVolatilityPct,
		breakerPct:         defaultBreakerPct,
		minimumOracles:     1,
		emitter:            events.NoopEmitter{},
		now:                time.Now,
	}
}

// SetRoles wires the external access controller.
func (a *Aggregator) SetRoles(roles nativecommon.RoleView) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.roles = roles
	a.mu.Unlock()
}

// SetPauses wires the governance pause switches.
func (a *Aggregator) SetPauses(p nativecommon.PauseView) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.pauses = p
	a.mu.Unlock()
}

// SetEmitter wires the event sink. A nil emitter restores the noop sink.
func (a *Aggregator) SetEmitter(emitter events.Emitter) {
	if a == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	a.mu.Lock()
	a.emitter = emitter
	a.mu.Unlock()
}

// SetNow injects the clock used for freshness checks. Tests rely on this for
// determinism.
func (a *Aggregator) SetNow(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// SetChainlinkOracle binds a Chainlink-style feed to the asset.
func (a *Aggregator) SetChainlinkOracle(caller, asset common.Address, cfg ChainlinkOracleConfig) error {
	if a == nil {
		return errFeedRequired
	}
	if cfg.Active && cfg.Feed == nil {
		return errFeedRequired
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := nativecommon.RequireRole(a.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	a.chainlink[asset] = cfg
	return nil
}

// SetUniswapOracle binds a pool TWAP source to the asset.
func (a *Aggregator) SetUniswapOracle(caller, asset common.Address, cfg UniswapOracleConfig) error {
	if a == nil {
		return ErrInvalidUniswapConfig
	}
	if cfg.Active && (cfg.Pool == nil || cfg.QuoteToken == (common.Address{}) || cfg.TwapPeriod <= 0) {
		return ErrInvalidUniswapConfig
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := nativecommon.RequireRole(a.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	a.uniswap[asset] = cfg
	return nil
}

// UpdateFreshnessThreshold bounds feed age to [15m, 24h].
func (a *Aggregator) UpdateFreshnessThreshold(caller common.Address, d time.Duration) error {
	if d < minFreshnessThreshold || d > maxFreshnessThreshold {
		return errThresholdBounds
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := nativecommon.RequireRole(a.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	a.freshnessThreshold = d
	return nil
}

// UpdateVolatilityWindow bounds the volatility age window to [5m, 4h].
func (a *Aggregator) UpdateVolatilityWindow(caller common.Address, d time.Duration) error {
	if d < minVolatilityWindow || d > maxVolatilityWindow {
		return errThresholdBounds
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := nativecommon.RequireRole(a.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	a.volatilityWindow = d
	return nil
}

// UpdateVolatilityPercentage bounds the per-round jump tolerance to [5, 30].
func (a *Aggregator) UpdateVolatilityPercentage(caller common.Address, pct uint64) error {
	if pct < minVolatilityPct || pct > maxVolatilityPct {
		return errThresholdBounds
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := nativecommon.RequireRole(a.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	a.volatilityPct = pct
	return nil
}

// UpdateCircuitBreakerThreshold bounds the dual-source deviation trip point
// to [25, 70].
func (a *Aggregator) UpdateCircuitBreakerThreshold(caller common.Address, pct uint64) error {
	if pct < minBreakerPct || pct > maxBreakerPct {
		return errThresholdBounds
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := nativecommon.RequireRole(a.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	a.breakerPct = pct
	return nil
}

// UpdateMinimumOracles sets the global minimum validated source count.
func (a *Aggregator) UpdateMinimumOracles(caller common.Address, minimum uint8) error {
	if minimum < 1 {
		return errMinimumOracles
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := nativecommon.RequireRole(a.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	a.minimumOracles = minimum
	return nil
}

// CircuitBroken reports the breaker state for an asset.
func (a *Aggregator) CircuitBroken(asset common.Address) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.circuitBroken[asset]
}

// GetAssetPrice resolves the blended price for the asset in 6-decimal quote
// units. With two validated sources the result is their floor average.
func (a *Aggregator) GetAssetPrice(asset common.Address) (*big.Int, error) {
	if a == nil {
		return nil, ErrNotEnoughValidOracles
	}
	a.mu.RLock()
	if err := nativecommon.Guard(a.pauses, moduleName); err != nil {
		a.mu.RUnlock()
		return nil, err
	}
	if a.circuitBroken[asset] {
		a.mu.RUnlock()
		return nil, ErrCircuitBreakerActive
	}
	cl := a.chainlink[asset]
	uni := a.uniswap[asset]
	a.mu.RUnlock()

	return a.resolvePrice(asset, cl, uni)
}

func (a *Aggregator) resolvePrice(asset common.Address, cl ChainlinkOracleConfig, uni UniswapOracleConfig) (*big.Int, error) {
	minimum := int(a.effectiveMinimum(asset))

	prices := make([]*big.Int, 0, 2)
	var lastErr error
	active := 0
	if cl.Active {
		active++
		price, err := a.resolveChainlink(cl)
		if err != nil {
			lastErr = err
		} else {
			prices = append(prices, price)
		}
	}
	if uni.Active {
		active++
		info, err := a.assetInfo(asset)
		if err != nil {
			lastErr = err
		} else if price, err := a.resolveUniswap(asset, info.Decimals, uni); err != nil {
			lastErr = err
		} else {
			prices = append(prices, price)
		}
	}

	if active == 0 {
		return nil, ErrNotEnoughValidOracles
	}
	if len(prices) < active || len(prices) < minimum {
		// A configured source failing validation is a hard failure; the
		// system prefers unavailability over acting on bad data.
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrNotEnoughValidOracles
	}

	if len(prices) == 1 {
		return prices[0], nil
	}
	blended := new(big.Int).Add(prices[0], prices[1])
	return blended.Quo(blended, big.NewInt(2)), nil
}

// resolveChainlink runs the validation ladder over the feed's latest round in
// order: sign, round staleness, freshness, volatility.
func (a *Aggregator) resolveChainlink(cfg ChainlinkOracleConfig) (*big.Int, error) {
	if cfg.Feed == nil {
		return nil, ErrInvalidPrice
	}
	round, err := cfg.Feed.LatestRoundData()
	if err != nil {
		return nil, fmt.Errorf("oracle: latest round: %w", err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if round.AnsweredInRound < round.RoundID {
		return nil, ErrStalePrice
	}
	age := a.clock().Sub(round.UpdatedAt)
	if age > a.freshness() {
		return nil, ErrTimeout
	}
	if volatile, err := a.roundVolatile(cfg.Feed, round, age); err != nil {
		return nil, err
	} else if volatile {
		return nil, ErrInvalidPriceVolatility
	}
	return fpmath.Rescale(round.Answer, cfg.Feed.Decimals(), fpmath.WadDecimals), nil
}

// roundVolatile compares a round against its predecessor. A jump at or above
// the volatility percentage only fails when the reading has aged past the
// volatility window: freshness is treated as partial evidence of legitimacy.
func (a *Aggregator) roundVolatile(feed ChainlinkFeed, round RoundData, age time.Duration) (bool, error) {
	if round.RoundID == 0 {
		return false, nil
	}
	prev, err := feed.GetRoundData(round.RoundID - 1)
	if err != nil {
		// No usable history; nothing to compare against.
		return false, nil
	}
	if prev.Answer == nil || prev.Answer.Sign() <= 0 {
		return false, nil
	}
	pct := changePct(round.Answer, prev.Answer)
	if pct.Cmp(new(big.Int).SetUint64(a.volatilityPercentage())) >= 0 && age >= a.volatility() {
		return true, nil
	}
	return false, nil
}

// changePct computes |current-previous| / previous in whole percent, floored.
func changePct(current, previous *big.Int) *big.Int {
	diff := new(big.Int).Sub(current, previous)
	diff.Abs(diff)
	return fpmath.MulDiv(diff, big.NewInt(100), previous)
}

func (a *Aggregator) assetInfo(asset common.Address) (*registryAsset, error) {
	if a.assets == nil {
		return nil, ErrNotEnoughValidOracles
	}
	info, err := a.assets.GetAssetInfo(asset)
	if err != nil {
		return nil, err
	}
	return &registryAsset{Decimals: info.Decimals, MinimumOracles: info.MinimumOracles}, nil
}

// registryAsset is the narrow projection of the registry record the
// aggregator reads.
type registryAsset struct {
	Decimals       uint8
	MinimumOracles uint8
}

func (a *Aggregator) effectiveMinimum(asset common.Address) uint8 {
	a.mu.RLock()
	minimum := a.minimumOracles
	a.mu.RUnlock()
	if info, err := a.assetInfo(asset); err == nil && info.MinimumOracles > minimum {
		minimum = info.MinimumOracles
	}
	return minimum
}

func (a *Aggregator) clock() time.Time {
	a.mu.RLock()
	now := a.now
	a.mu.RUnlock()
	return now()
}

func (a *Aggregator) freshness() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.freshnessThreshold
}

func (a *Aggregator) volatility() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.volatilityWindow
}

func (a *Aggregator) volatilityPercentage() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.volatilityPct
}

func (a *Aggregator) breakerThreshold() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.breakerPct
}
