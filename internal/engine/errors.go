package engine

import (
	"errors"

	"SynthPool/internal/fees"
	"SynthPool/internal/pool"
	"SynthPool/internal/queue"
)

// Operation outcome errors. All are surfaced directly to the caller; none
// are retried internally. The one silent outcome is the circuit-breaker
// skip on exchange, which is not an error at all (ExchangeResult.Skipped).
var (
	ErrZeroAmount   = errors.New("engine: amount must be positive")
	ErrSameAsset    = errors.New("engine: source and destination assets are the same")
	ErrInvalidRate  = errors.New("engine: oracle rate is stale or zero")
	ErrUnknownAsset = errors.New("engine: unknown currency key")

	// ErrSlippageExceeded and ErrVolumeLimitExceeded apply to the atomic
	// path only.
	ErrSlippageExceeded    = errors.New("engine: received amount below minimum")
	ErrVolumeLimitExceeded = errors.New("engine: atomic volume cap exceeded for this block")
	ErrVolatileAsset       = errors.New("engine: volatile assets cannot be exchanged atomically")

	ErrInsufficientBalance = errors.New("engine: insufficient synth balance")

	ErrCannotSettleDuringWaitingPeriod = errors.New("engine: entries still inside the waiting period")
	ErrMinimumStakeTimeNotElapsed      = errors.New("engine: minimum stake time has not elapsed since last issue")
	ErrNoDebtToBurn                    = errors.New("engine: account has no debt to burn")

	// Re-exported from the packages that raise them, so callers can match
	// against one surface.
	ErrTooVolatile           = fees.ErrTooVolatile
	ErrMaxQueueLengthReached = queue.ErrMaxQueueLength
	ErrUnauthorized          = pool.ErrUnauthorized
)

// RejectReason maps an operation error to a metrics label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrSameAsset):
		return "same_asset"
	case errors.Is(err, ErrInvalidRate):
		return "invalid_rate"
	case errors.Is(err, ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, ErrTooVolatile):
		return "too_volatile"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, ErrVolumeLimitExceeded):
		return "volume_limit_exceeded"
	case errors.Is(err, ErrVolatileAsset):
		return "volatile_asset"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrMaxQueueLengthReached):
		return "max_queue_length"
	case errors.Is(err, ErrCannotSettleDuringWaitingPeriod):
		return "waiting_period"
	case errors.Is(err, ErrMinimumStakeTimeNotElapsed):
		return "minimum_stake_time"
	case errors.Is(err, ErrNoDebtToBurn):
		return "no_debt_to_burn"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}
