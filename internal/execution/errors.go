package execution

import (
	"errors"
	"fmt"
)

// Kind classifies a commit protocol failure by the phase that failed.
type Kind string

const (
	KindLedgerPrepareFailed     Kind = "LedgerPrepareFailed"
	KindExchangeExecutionFailed Kind = "ExchangeExecutionFailed"
	KindLedgerCommitFailed      Kind = "LedgerCommitFailed"
)

//nolint:gochecknoglobals // sentinel errors
var (
	ErrLedgerPrepareFailed     = errors.New(string(KindLedgerPrepareFailed))
	ErrExchangeExecutionFailed = errors.New(string(KindExchangeExecutionFailed))
	ErrLedgerCommitFailed      = errors.New(string(KindLedgerCommitFailed))
)

// Error is returned by LedgerAdapter.PlaceOrder.
type Error struct {
	Kind    Kind
	OrderID string // local order id, empty when prepare failed
	Err     error
}

func (e *Error) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: order %s: %v", e.Kind, e.OrderID, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

// Critical reports whether the ledger may now disagree with the exchange.
func (e *Error) Critical() bool {
	return e.Kind == KindLedgerCommitFailed
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindLedgerPrepareFailed:
		return ErrLedgerPrepareFailed
	case KindExchangeExecutionFailed:
		return ErrExchangeExecutionFailed
	default:
		return ErrLedgerCommitFailed
	}
}
