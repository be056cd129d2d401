package ledger

import "errors"

var (
	// ErrNotFound is returned when a bot, session, or order does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSide is returned for sides other than BUY or SELL.
	ErrInvalidSide = errors.New("invalid side")

	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidStatus is returned for unknown bot statuses.
	ErrInvalidStatus = errors.New("invalid status")
)

// ErrInvalidTransition is returned when a lifecycle request does not apply
// to the bot's current status.
var ErrInvalidTransition = errors.New("invalid status transition")
