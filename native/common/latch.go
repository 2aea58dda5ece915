package common

import "errors"

// ErrReentrantCall is returned when a mutating entry point is invoked while
// another one is still in flight on the same engine.
var ErrReentrantCall = errors.New("reentrant call")

// CallLatch is the explicit re-entrancy flag wrapped around every mutating
// engine entry point. Execution is serialised per transaction, so a plain
// bool is sufficient; the latch exists to stop hostile collaborators (flash
// loan receivers in particular) from calling back into the engine mid-flight.
type CallLatch struct {
	entered bool
}

// Enter latches the guard, failing if a call is already in flight.
func (l *CallLatch) Enter() error {
	if l == nil {
		return nil
	}
	if l.entered {
		return ErrReentrantCall
	}
	l.entered = true
	return nil
}

// Exit releases the latch. Safe to call from a deferred statement.
func (l *CallLatch) Exit() {
	if l == nil {
		return
	}
	l.entered = false
}
