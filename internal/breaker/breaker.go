// Package breaker guards rate consumption against implausible price moves.
// A trip means "do not trust this observation for this call" — it never
// halts the system and never rewrites the trusted baseline.
package breaker

import (
	fpmath "SynthPool/internal/math"

	"SynthPool/internal/ledger"
)

// DefaultDeviationFactor is 3.0 in rate scale: an observation more than 3x
// above or below the last good rate trips the breaker.
const DefaultDeviationFactor = 3 * fpmath.RateUnit

// CircuitBreaker caches the last trusted rate per asset.
// Not thread-safe — only accessed from the serialized engine.
type CircuitBreaker struct {
	lastGood        map[ledger.CurrencyKey]int64
	deviationFactor int64 // rate scale, > 1.0
}

func New(deviationFactor int64) *CircuitBreaker {
	if deviationFactor <= fpmath.RateUnit {
		deviationFactor = DefaultDeviationFactor
	}
	return &CircuitBreaker{
		lastGood:        make(map[ledger.CurrencyKey]int64),
		deviationFactor: deviationFactor,
	}
}

// CheckAndTrip compares an observed rate against the last good rate.
// Returns true if the breaker trips. On a trip the last good rate is NOT
// updated; on acceptance it becomes the new baseline. A zero or negative
// observation always trips. The first ever observation for an asset is
// accepted as the baseline.
func (cb *CircuitBreaker) CheckAndTrip(key ledger.CurrencyKey, observed int64) bool {
	if observed <= 0 {
		return true
	}

	last, seen := cb.lastGood[key]
	if !seen || last == 0 {
		cb.lastGood[key] = observed
		return false
	}

	upper := fpmath.MulRate(last, cb.deviationFactor)
	lower := fpmath.DivRate(last, cb.deviationFactor)

	if observed > upper || observed < lower {
		return true
	}

	cb.lastGood[key] = observed
	return false
}

// LastGoodRate returns the trusted baseline for an asset, 0 if unseen.
func (cb *CircuitBreaker) LastGoodRate(key ledger.CurrencyKey) int64 {
	return cb.lastGood[key]
}

// ResetLastValue is the administrative override used to re-baseline after
// a legitimate large move.
func (cb *CircuitBreaker) ResetLastValue(key ledger.CurrencyKey, value int64) {
	cb.lastGood[key] = value
}

// SetDeviationFactor updates the trip threshold.
func (cb *CircuitBreaker) SetDeviationFactor(factor int64) {
	if factor > fpmath.RateUnit {
		cb.deviationFactor = factor
	}
}

// Snapshot returns a copy of all baselines for persistence.
func (cb *CircuitBreaker) Snapshot() map[ledger.CurrencyKey]int64 {
	out := make(map[ledger.CurrencyKey]int64, len(cb.lastGood))
	for k, v := range cb.lastGood {
		out[k] = v
	}
	return out
}

// Restore overwrites baselines from a snapshot.
func (cb *CircuitBreaker) Restore(baselines map[ledger.CurrencyKey]int64) {
	for k, v := range baselines {
		cb.lastGood[k] = v
	}
}
