package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeCircuitBreakerTriggered is emitted when price reads for an asset
	// are halted, manually or by the automatic deviation check.
	TypeCircuitBreakerTriggered = "oracle.circuitBreakerTriggered"
	// TypeCircuitBreakerReset is emitted when price reads resume.
	TypeCircuitBreakerReset = "oracle.circuitBreakerReset"
)

// CircuitBreakerTriggered records the halt of price reads for an asset.
type CircuitBreakerTriggered struct {
	Asset     common.Address
	Automatic bool
}

func (CircuitBreakerTriggered) EventType() string { return TypeCircuitBreakerTriggered }

func (e CircuitBreakerTriggered) Attributes() map[string]string {
	return map[string]string{
		"asset":     e.Asset.Hex(),
		"automatic": strconv.FormatBool(e.Automatic),
	}
}

// CircuitBreakerReset records the resumption of price reads for an asset.
type CircuitBreakerReset struct {
	Asset     common.Address
	Automatic bool
}

func (CircuitBreakerReset) EventType() string { return TypeCircuitBreakerReset }

func (e CircuitBreakerReset) Attributes() map[string]string {
	return map[string]string{
		"asset":     e.Asset.Hex(),
		"automatic": strconv.FormatBool(e.Automatic),
	}
}
