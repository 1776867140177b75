package engine

import "errors"

// Typed error taxonomy. Every operation returns one of these sentinels
// (wrapped with context); no mutating operation leaves partial state
// visible when it fails.
var (
	ErrInvalidParameters      = errors.New("invalid parameters")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidState           = errors.New("invalid state")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInsufficientStake      = errors.New("insufficient stake")
	ErrInsufficientTreasury   = errors.New("insufficient treasury")
	ErrOverFill               = errors.New("fill exceeds remaining quantity")
	ErrAlreadyCommitted       = errors.New("already committed")
	ErrHashMismatch           = errors.New("hash mismatch")
	ErrSettlementFailed       = errors.New("settlement failed")
	ErrNotFound               = errors.New("not found")
)

// ErrorCode returns a stable machine-readable code for API responses.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameters):
		return "INVALID_PARAMETERS"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrInsufficientCollateral):
		return "INSUFFICIENT_COLLATERAL"
	case errors.Is(err, ErrInsufficientStake):
		return "INSUFFICIENT_STAKE"
	case errors.Is(err, ErrInsufficientTreasury):
		return "INSUFFICIENT_TREASURY"
	case errors.Is(err, ErrOverFill):
		return "OVER_FILL"
	case errors.Is(err, ErrAlreadyCommitted):
		return "ALREADY_COMMITTED"
	case errors.Is(err, ErrHashMismatch):
		return "HASH_MISMATCH"
	case errors.Is(err, ErrSettlementFailed):
		return "SETTLEMENT_FAILED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}
