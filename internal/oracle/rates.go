// Package oracle defines the price-feed surface the engine consumes.
// Rates are supplied by an external feed; this package caches observations
// and answers staleness-checked lookups. It never invents prices.
package oracle

import (
	"sync"
	"time"

	"SynthPool/internal/ledger"
)

// Round is one historical price observation for an asset.
type Round struct {
	Rate      int64 // rate scale
	RoundID   int64
	Timestamp int64 // epoch microseconds
}

// RateProvider answers current and historical rate queries.
type RateProvider interface {
	// CurrentRate returns the latest rate and whether it is stale or invalid.
	CurrentRate(key ledger.CurrencyKey) (rate int64, stale bool)

	// RateAndRound returns the latest observation.
	RateAndRound(key ledger.CurrencyKey) (Round, bool)

	// RoundsForPeriod returns the last n rounds, most recent first.
	RoundsForPeriod(key ledger.CurrencyKey, n int) []Round
}

// DebtRatioProvider supplies the system-wide debt ratio from its own feed.
type DebtRatioProvider interface {
	// DebtRatio returns the rate-scaled debt ratio and whether it is stale.
	DebtRatio() (ratio int64, stale bool)
}

// maxRounds bounds the per-asset history ring. Dynamic fee lookback is
// configured well below this.
const maxRounds = 64

// FeedCache is the in-memory implementation fed by the NATS price
// subscriber. Reads come from the serialized engine and writes from the
// ingestion goroutine, so access is guarded.
type FeedCache struct {
	mu          sync.RWMutex
	rounds      map[ledger.CurrencyKey][]Round // most recent first
	debtRatio   int64
	debtRatioTs int64
	stalePeriod time.Duration
	now         func() time.Time
}

func NewFeedCache(stalePeriod time.Duration, now func() time.Time) *FeedCache {
	if now == nil {
		now = time.Now
	}
	return &FeedCache{
		rounds:      make(map[ledger.CurrencyKey][]Round),
		stalePeriod: stalePeriod,
		now:         now,
	}
}

// UpdateRate records a new observation for an asset. Out-of-order rounds
// (roundId <= latest) are dropped; the return value reports whether the
// round was accepted.
func (fc *FeedCache) UpdateRate(key ledger.CurrencyKey, r Round) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	existing := fc.rounds[key]
	if len(existing) > 0 && r.RoundID <= existing[0].RoundID {
		return false
	}

	updated := make([]Round, 0, len(existing)+1)
	updated = append(updated, r)
	updated = append(updated, existing...)
	if len(updated) > maxRounds {
		updated = updated[:maxRounds]
	}
	fc.rounds[key] = updated
	return true
}

// SetStalePeriod replaces the staleness window. Called when the
// administrator updates engine settings.
func (fc *FeedCache) SetStalePeriod(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.stalePeriod = d
}

// UpdateDebtRatio records a new debt-ratio observation.
func (fc *FeedCache) UpdateDebtRatio(ratio int64, ts int64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.debtRatio = ratio
	fc.debtRatioTs = ts
}

func (fc *FeedCache) CurrentRate(key ledger.CurrencyKey) (int64, bool) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	rounds := fc.rounds[key]
	if len(rounds) == 0 {
		return 0, true
	}
	latest := rounds[0]
	if latest.Rate <= 0 || fc.isStale(latest.Timestamp) {
		return latest.Rate, true
	}
	return latest.Rate, false
}

func (fc *FeedCache) RateAndRound(key ledger.CurrencyKey) (Round, bool) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	rounds := fc.rounds[key]
	if len(rounds) == 0 {
		return Round{}, false
	}
	return rounds[0], true
}

func (fc *FeedCache) RoundsForPeriod(key ledger.CurrencyKey, n int) []Round {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	rounds := fc.rounds[key]
	if n > len(rounds) {
		n = len(rounds)
	}
	out := make([]Round, n)
	copy(out, rounds[:n])
	return out
}

func (fc *FeedCache) DebtRatio() (int64, bool) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	if fc.debtRatio <= 0 || fc.isStale(fc.debtRatioTs) {
		return fc.debtRatio, true
	}
	return fc.debtRatio, false
}

func (fc *FeedCache) isStale(tsMicro int64) bool {
	if fc.stalePeriod <= 0 {
		return false
	}
	age := fc.now().Sub(time.UnixMicro(tsMicro))
	return age > fc.stalePeriod
}
