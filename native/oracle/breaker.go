package oracle

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/core/events"
	nativecommon "github.com/nebula-labs-xyz/lendefi-core/native/common"
)

// TriggerCircuitBreaker unconditionally halts price reads for the asset.
// Restricted to the circuit-breaker role; idempotent.
func (a *Aggregator) TriggerCircuitBreaker(caller, asset common.Address) error {
	if a == nil {
		return ErrCircuitBreakerActive
	}
	a.mu.Lock()
	if err := nativecommon.RequireRole(a.roles, nativecommon.RoleCircuitBreaker, caller); err != nil {
		a.mu.Unlock()
		return err
	}
	already := a.circuitBroken[asset]
	a.circuitBroken[asset] = true
	emitter := a.emitter
	a.mu.Unlock()
	if !already {
		emitter.Emit(events.CircuitBreakerTriggered{Asset: asset, Automatic: false})
	}
	return nil
}

// ResetCircuitBreaker unconditionally resumes price reads for the asset.
// Restricted to the circuit-breaker role; idempotent.
func (a *Aggregator) ResetCircuitBreaker(caller, asset common.Address) error {
	if a == nil {
		return ErrCircuitBreakerActive
	}
	a.mu.Lock()
	if err := nativecommon.RequireRole(a.roles, nativecommon.RoleCircuitBreaker, caller); err != nil {
		a.mu.Unlock()
		return err
	}
	wasBroken := a.circuitBroken[asset]
	delete(a.circuitBroken, asset)
	emitter := a.emitter
	a.mu.Unlock()
	if wasBroken {
		emitter.Emit(events.CircuitBreakerReset{Asset: asset, Automatic: false})
	}
	return nil
}

// CheckPriceDeviation reports whether the asset's two active sources disagree
// by at least the circuit-breaker threshold, along with the whole-percent
// deviation measured against the lower price.
func (a *Aggregator) CheckPriceDeviation(asset common.Address) (bool, uint64, error) {
	if a == nil {
		return false, 0, ErrNotEnoughValidOracles
	}
	a.mu.RLock()
	cl := a.chainlink[asset]
	uni := a.uniswap[asset]
	a.mu.RUnlock()

	if !cl.Active || !uni.Active {
		return false, 0, ErrNotEnoughValidOracles
	}

	clPrice, err := a.resolveChainlink(cl)
	if err != nil {
		return false, 0, err
	}
	info, err := a.assetInfo(asset)
	if err != nil {
		return false, 0, err
	}
	uniPrice, err := a.resolveUniswap(asset, info.Decimals, uni)
	if err != nil {
		return false, 0, err
	}

	// Deviation is measured against the lower of the two answers.
	lower := clPrice
	if uniPrice.Cmp(lower) < 0 {
		lower = uniPrice
	}
	if lower.Sign() == 0 {
		return true, 0, ErrInvalidPrice
	}
	diff := new(big.Int).Sub(clPrice, uniPrice)
	diff.Abs(diff)
	pct := new(big.Int).Quo(new(big.Int).Mul(diff, big.NewInt(100)), lower)
	deviation := pct.Uint64()
	return deviation >= a.breakerThreshold(), deviation, nil
}

// EvaluateCircuitBreaker runs the automatic breaker policy for the asset and
// reports the resulting breaker state. Callable by anyone: with two active
// sources it trips on deviation at or above the threshold and clears once
// conditions normalise; with a single Chainlink source it trips on the
// volatility check. Manual trigger/reset and this path are last-write-wins.
func (a *Aggregator) EvaluateCircuitBreaker(asset common.Address) (bool, error) {
	if a == nil {
		return false, ErrNotEnoughValidOracles
	}
	a.mu.RLock()
	cl := a.chainlink[asset]
	uni := a.uniswap[asset]
	a.mu.RUnlock()

	switch {
	case cl.Active && uni.Active:
		deviated, _, err := a.CheckPriceDeviation(asset)
		if err != nil {
			return a.CircuitBroken(asset), err
		}
		a.setBroken(asset, deviated)
		return deviated, nil
	case cl.Active:
		_, err := a.resolveChainlink(cl)
		if errors.Is(err, ErrInvalidPriceVolatility) {
			a.setBroken(asset, true)
			return true, nil
		}
		if err != nil {
			return a.CircuitBroken(asset), err
		}
		a.setBroken(asset, false)
		return false, nil
	default:
		return a.CircuitBroken(asset), ErrNotEnoughValidOracles
	}
}

func (a *Aggregator) setBroken(asset common.Address, broken bool) {
	a.mu.Lock()
	previous := a.circuitBroken[asset]
	if broken {
		a.circuitBroken[asset] = true
	} else {
		delete(a.circuitBroken, asset)
	}
	emitter := a.emitter
	a.mu.Unlock()
	if previous == broken {
		return
	}
	if broken {
		emitter.Emit(events.CircuitBreakerTriggered{Asset: asset, Automatic: true})
	} else {
		emitter.Emit(events.CircuitBreakerReset{Asset: asset, Automatic: true})
	}
}
