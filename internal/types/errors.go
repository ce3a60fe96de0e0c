package types

import "errors"

// Sentinel errors for the execution engine.
var (
	// Validation errors
	ErrInvalidRequest   = errors.New("invalid execution request")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidPrice     = errors.New("invalid price value")
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrBelowMinNotional = errors.New("order notional below minimum")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Venue errors
	ErrUnsupported   = errors.New("operation not supported by venue")
	ErrNotConnected  = errors.New("venue not connected")
	ErrRateLimited   = errors.New("rate limited by venue")
	ErrOrderRejected = errors.New("order rejected by venue")

	// State errors
	ErrPositionNotFound = errors.New("position not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrPositionClosed   = errors.New("position is not open")
	ErrDuplicateOrder   = errors.New("duplicate client order id")
	ErrLockTimeout      = errors.New("position lock acquisition timed out")
)
