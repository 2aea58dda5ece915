package main

import (
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/core/events"
	"github.com/nebula-labs-xyz/lendefi-core/native/bank"
	"github.com/nebula-labs-xyz/lendefi-core/observability"
)

// logEmitter forwards protocol events to the structured log and the engine
// operation counter. Attributes are logged as flat key/value pairs.
type logEmitter struct {
	logger *slog.Logger
}

func (e logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Engine().ObserveOperation(evt.EventType(), nil)
	attrs := evt.Attributes()
	args := make([]any, 0, 2+2*len(attrs))
	args = append(args, "event", evt.EventType())
	for k, v := range attrs {
		args = append(args, k, v)
	}
	e.logger.Info("protocol event", args...)
}

// treasurySink pays ecosystem rewards out of the treasury's base-token
// balance. The ceiling is whatever the treasury currently holds, so reward
// claims can never overdraw it.
type treasurySink struct {
	ledger   *bank.Ledger
	token    common.Address
	treasury common.Address
}

func (s *treasurySink) MaxReward() *big.Int {
	if s == nil || s.ledger == nil {
		return big.NewInt(0)
	}
	return s.ledger.BalanceOf(s.token, s.treasury)
}

func (s *treasurySink) Reward(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return s.ledger.Transfer(s.token, s.treasury, to, amount)
}

func bigFromInt64(v int64) *big.Int { return big.NewInt(v) }
