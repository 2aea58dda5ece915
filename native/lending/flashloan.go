package lending

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/core/events"
	"github.com/nebula-labs-xyz/lendefi-core/native/fpmath"
)

var (
	errUnsupportedFlashToken = errors.New("position engine: flash loans are base token only")
	errFlashLoanFailed       = errors.New("position engine: flash loan receiver rejected the operation")
	errFlashLoanRepayment    = errors.New("position engine: flash loan not repaid with fee")
)

// FlashLoan lends idle base-token liquidity for the duration of one callback.
// The tokens move to the recipient, the receiver runs, and the loan counts as
// repaid only when the receiver returned true and the module balance has
// grown by at least the fee; the receiver's word alone is not trusted. The
// re-entrancy latch is held across the callback, so a receiver calling back
// into any mutating entry point fails.
func (e *Engine) FlashLoan(initiator, recipient common.Address, receiver FlashReceiver, token common.Address, amount *big.Int, params []byte) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.latch.Exit()

	if token != e.baseToken {
		return errUnsupportedFlashToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if receiver == nil {
		return errFlashLoanFailed
	}
	start := e.idleLiquidity()
	if start.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}
	fee := fpmath.MulDiv(amount, new(big.Int).SetUint64(e.params.FlashLoanFeeBps), fpmath.BasisPoints)

	if err := e.bank.TransferOut(e.baseToken, recipient, amount); err != nil {
		return fmt.Errorf("flash loan transfer out: %w", err)
	}
	ok, err := receiver.ExecuteOperation(e.baseToken, amount, fee, initiator, params)
	if err != nil {
		return fmt.Errorf("flash loan callback: %w", err)
	}
	if !ok {
		return errFlashLoanFailed
	}
	required := new(big.Int).Add(start, fee)
	if e.idleLiquidity().Cmp(required) < 0 {
		return errFlashLoanRepayment
	}

	ps, err := e.loadProtocolState()
	if err != nil {
		return err
	}
	ps.TotalFlashLoanFees.Add(ps.TotalFlashLoanFees, fee)
	ps.TotalSuppliedLiquidity.Add(ps.TotalSuppliedLiquidity, fee)
	if err := e.commitProtocolState(ps); err != nil {
		return err
	}
	e.emit(events.FlashLoan{Initiator: initiator, Receiver: recipient, Token: token, Amount: amount, Fee: fee})
	return nil
}
