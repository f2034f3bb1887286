package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"SynthPool/internal/event"
	"SynthPool/internal/ledger"
	fpmath "SynthPool/internal/math"
	"SynthPool/internal/oracle"
)

// ExchangeResult reports the outcome of an exchange. Skipped is the one
// silent outcome: the circuit breaker tripped, nothing was mutated, and
// the call still succeeded.
type ExchangeResult struct {
	Skipped            bool
	TrippedAsset       ledger.CurrencyKey
	DestAmountReceived int64
	Fee                int64
	FeeRate            int64
}

// exchangeKind selects the settlement discipline for an exchange.
type exchangeKind int

const (
	exchangeStandard exchangeKind = iota
	exchangeAtomic
)

// Exchange trades srcAmount of srcAsset into destAsset through the
// standard path: the received amount is provisional until the settlement
// entry recorded here is reconciled after the waiting period.
func (e *Engine) Exchange(account ledger.Address, src ledger.CurrencyKey, srcAmount int64, dest ledger.CurrencyKey) (ExchangeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exchangeLocked(account, src, srcAmount, dest, 0, exchangeStandard)
}

// AtomicExchange trades immediately at spot with no settlement entry,
// under a per-block volume cap and an optional slippage guard. Volatile
// assets are rejected.
func (e *Engine) AtomicExchange(account ledger.Address, src ledger.CurrencyKey, srcAmount int64, dest ledger.CurrencyKey, minDestAmount int64) (ExchangeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exchangeLocked(account, src, srcAmount, dest, minDestAmount, exchangeAtomic)
}

func (e *Engine) exchangeLocked(account ledger.Address, src ledger.CurrencyKey, srcAmount int64, dest ledger.CurrencyKey, minDestAmount int64, kind exchangeKind) (ExchangeResult, error) {
	op := "exchange"
	if kind == exchangeAtomic {
		op = "atomic_exchange"
	}
	start := time.Now()

	if src == dest {
		return ExchangeResult{}, e.reject(op, fmt.Errorf("%w: %s", ErrSameAsset, src))
	}
	if srcAmount <= 0 {
		return ExchangeResult{}, e.reject(op, ErrZeroAmount)
	}
	srcAsset, ok := e.assets.Get(src)
	if !ok {
		return ExchangeResult{}, e.reject(op, fmt.Errorf("%w: %s", ErrUnknownAsset, src))
	}
	destAsset, ok := e.assets.Get(dest)
	if !ok {
		return ExchangeResult{}, e.reject(op, fmt.Errorf("%w: %s", ErrUnknownAsset, dest))
	}
	if kind == exchangeAtomic && (srcAsset.Volatile || destAsset.Volatile) {
		return ExchangeResult{}, e.reject(op, fmt.Errorf("%w: %s/%s", ErrVolatileAsset, src, dest))
	}

	// Breaker first: a tripped feed must produce zero effect, before any
	// auto-settlement touches state. Stale observations force a trip
	// without moving the baseline.
	for _, leg := range []struct {
		key    ledger.CurrencyKey
		stable bool
	}{{src, srcAsset.BaseStable}, {dest, destAsset.BaseStable}} {
		if leg.stable {
			continue
		}
		observed, stale := e.rates.CurrentRate(leg.key)
		if stale {
			observed = 0
		}
		if e.breaker.CheckAndTrip(leg.key, observed) {
			if e.metrics != nil {
				e.metrics.BreakerTrips.WithLabelValues(string(leg.key)).Inc()
				e.metrics.OpsSkipped.WithLabelValues(string(leg.key)).Inc()
			}
			ts := e.now()
			opID := uuid.New()
			e.emit(&event.ExchangeSkipped{
				OperationID:  opID,
				Account:      account,
				SrcAsset:     src,
				DestAsset:    dest,
				TrippedAsset: leg.key,
				ObservedRate: observed,
				Timestamp:    ts,
			}, nil)
			e.log.Warn().
				Str("currency", string(leg.key)).
				Int64("observed_rate", observed).
				Msg("circuit breaker tripped, exchange skipped")
			return ExchangeResult{Skipped: true, TrippedAsset: leg.key}, nil
		}
	}

	// Matured entries on either side settle before the trade proceeds.
	if _, err := e.settleMaturedLocked(account, src); err != nil {
		return ExchangeResult{}, e.reject(op, err)
	}
	if _, err := e.settleMaturedLocked(account, dest); err != nil {
		return ExchangeResult{}, e.reject(op, err)
	}

	// Exchanging out of an asset with entries still in their waiting
	// period is not allowed; the rates backing the src balance are not
	// final yet.
	cutoff := e.now().Add(-e.settings.WaitingPeriod).UnixMicro()
	if e.queue.HasEntriesNewerThan(account, src, cutoff) {
		return ExchangeResult{}, e.reject(op, fmt.Errorf("%w: %s/%s", ErrCannotSettleDuringWaitingPeriod, account, src))
	}

	feeRate, err := e.feeModel.FeeRateForExchange(src, dest)
	if err != nil {
		return ExchangeResult{}, e.reject(op, err)
	}

	srcRound, err := e.roundFor(src, srcAsset.BaseStable)
	if err != nil {
		return ExchangeResult{}, e.reject(op, err)
	}
	destRound, err := e.roundFor(dest, destAsset.BaseStable)
	if err != nil {
		return ExchangeResult{}, e.reject(op, err)
	}

	gross := fpmath.ConvertAmount(srcAmount, srcRound.Rate, destRound.Rate)
	fee := fpmath.MulRate(gross, feeRate)
	destReceived := gross - fee
	if destReceived <= 0 {
		return ExchangeResult{}, e.reject(op, fmt.Errorf("%w: %d of %s converts to nothing in %s", ErrZeroAmount, srcAmount, src, dest))
	}

	if kind == exchangeAtomic && minDestAmount > 0 && destReceived < minDestAmount {
		return ExchangeResult{}, e.reject(op, fmt.Errorf("%w: received %d, minimum %d", ErrSlippageExceeded, destReceived, minDestAmount))
	}

	if have := e.tracker.SynthBalance(account, src); have < srcAmount {
		return ExchangeResult{}, e.reject(op, fmt.Errorf("%w: %s has %d %s, needs %d", ErrInsufficientBalance, account, have, src, srcAmount))
	}

	ts := e.now()

	if kind == exchangeAtomic {
		if err := e.chargeAtomicVolume(srcAmount, srcRound.Rate, ts); err != nil {
			return ExchangeResult{}, e.reject(op, err)
		}
	} else if e.queue.Len(account, dest) >= e.settings.MaxQueueEntries {
		return ExchangeResult{}, e.reject(op, fmt.Errorf("%w: %s/%s", ErrMaxQueueLengthReached, account, dest))
	}

	opID := uuid.New()
	batch := e.newBatch(opID, ts)
	e.addJournal(batch, ledger.Journal{
		DebitAccount:  ledger.IssuanceKey(src),
		CreditAccount: ledger.NewUserSynthKey(account, src),
		Currency:      src,
		Amount:        srcAmount,
		JournalType:   ledger.JournalTypeExchangeBurn,
	})
	e.addJournal(batch, ledger.Journal{
		DebitAccount:  ledger.NewUserSynthKey(account, dest),
		CreditAccount: ledger.IssuanceKey(dest),
		Currency:      dest,
		Amount:        destReceived,
		JournalType:   ledger.JournalTypeExchangeMint,
	})
	if feeBase := fpmath.ConvertAmount(fee, destRound.Rate, fpmath.RateUnit); feeBase > 0 {
		e.addJournal(batch, ledger.Journal{
			DebitAccount:  ledger.FeePoolKey(),
			CreditAccount: ledger.IssuanceKey(ledger.BaseCurrency),
			Currency:      ledger.BaseCurrency,
			Amount:        feeBase,
			JournalType:   ledger.JournalTypeExchangeFee,
		})
	}
	e.applyBatch(batch)

	if kind == exchangeStandard {
		// Cannot fail: length was checked above under the same lock.
		if err := e.queue.Append(queueEntry(account, src, srcAmount, dest, destReceived, feeRate, ts, srcRound, destRound)); err != nil {
			panic(fmt.Sprintf("FATAL: queue append after length check: %v", err))
		}
	}

	e.emit(&event.SynthExchanged{
		OperationID:        opID,
		Account:            account,
		SrcAsset:           src,
		SrcAmount:          srcAmount,
		DestAsset:          dest,
		DestAmountReceived: destReceived,
		Fee:                fee,
		FeeRate:            feeRate,
		SrcRoundID:         srcRound.RoundID,
		DestRoundID:        destRound.RoundID,
		Atomic:             kind == exchangeAtomic,
		Timestamp:          ts,
	}, batch)

	if e.metrics != nil {
		path := "standard"
		if kind == exchangeAtomic {
			path = "atomic"
		}
		e.metrics.ExchangeVolume.WithLabelValues(string(src), string(dest), path).Add(float64(srcAmount))
		e.metrics.ExchangeFeeRate.WithLabelValues(string(src), string(dest)).
			Observe(float64(feeRate) / float64(fpmath.RateUnit))
		e.metrics.QueueDepth.WithLabelValues(string(dest)).Set(float64(e.queue.Len(account, dest)))
	}
	e.applied(op, start)

	return ExchangeResult{
		DestAmountReceived: destReceived,
		Fee:                fee,
		FeeRate:            feeRate,
	}, nil
}

// roundFor returns the latest observation for an asset. The base stable
// asset is pinned at 1.0 with no round id.
func (e *Engine) roundFor(key ledger.CurrencyKey, baseStable bool) (oracle.Round, error) {
	if baseStable {
		return oracle.Round{Rate: fpmath.RateUnit}, nil
	}
	rate, stale := e.rates.CurrentRate(key)
	if stale || rate <= 0 {
		return oracle.Round{}, fmt.Errorf("%w: %s rate %d stale=%v", ErrInvalidRate, key, rate, stale)
	}
	round, ok := e.rates.RateAndRound(key)
	if !ok {
		return oracle.Round{}, fmt.Errorf("%w: no round for %s", ErrInvalidRate, key)
	}
	return round, nil
}

// chargeAtomicVolume enforces the rolling per-block USD volume cap.
func (e *Engine) chargeAtomicVolume(srcAmount, srcRate int64, ts time.Time) error {
	block := ts.UnixNano() / e.settings.BlockInterval.Nanoseconds()
	if block != e.atomicBlock {
		e.atomicBlock = block
		e.atomicVolume = 0
	}

	usdVolume := fpmath.MulRate(srcAmount, srcRate)
	if e.atomicVolume+usdVolume > e.settings.AtomicMaxVolumePerBlock {
		return fmt.Errorf("%w: block volume %d + %d exceeds %d", ErrVolumeLimitExceeded,
			e.atomicVolume, usdVolume, e.settings.AtomicMaxVolumePerBlock)
	}
	e.atomicVolume += usdVolume

	if e.metrics != nil {
		e.metrics.AtomicBlockVolume.Set(float64(e.atomicVolume))
	}
	return nil
}
