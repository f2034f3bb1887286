package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"SynthPool/internal/event"
	"SynthPool/internal/ledger"
	fpmath "SynthPool/internal/math"
	"SynthPool/internal/oracle"
	"SynthPool/internal/queue"
)

// SettleResult reports the outcome of draining one (account, asset)
// settlement queue.
type SettleResult struct {
	EntriesDrained int
	ReclaimAmount  int64
	RebateAmount   int64
}

// Settle reconciles the matured entries for (account, asset). With no
// pending entries it is a no-op; with pending entries that are all still
// inside their waiting period it fails loudly.
func (e *Engine) Settle(account ledger.Address, asset ledger.CurrencyKey) (SettleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.assets.Get(asset); !ok {
		return SettleResult{}, e.reject("settle", fmt.Errorf("%w: %s", ErrUnknownAsset, asset))
	}

	res, err := e.settleMaturedLocked(account, asset)
	if err != nil {
		return SettleResult{}, e.reject("settle", err)
	}
	if res.EntriesDrained == 0 && e.queue.Len(account, asset) > 0 {
		return SettleResult{}, e.reject("settle", fmt.Errorf("%w: %s/%s", ErrCannotSettleDuringWaitingPeriod, account, asset))
	}
	return res, nil
}

// SettleAll drains matured entries for every asset the account has
// pending entries on. Assets whose entries are all unmatured are left
// queued without error.
func (e *Engine) SettleAll(account ledger.Address) (map[ledger.CurrencyKey]SettleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[ledger.CurrencyKey]SettleResult)
	for _, asset := range e.queue.AssetsWithEntries(account) {
		res, err := e.settleMaturedLocked(account, asset)
		if err != nil {
			return out, e.reject("settle_all", err)
		}
		if res.EntriesDrained > 0 {
			out[asset] = res
		}
	}
	return out, nil
}

// settleMaturedLocked processes the matured FIFO prefix of one pairing.
// Each entry is reconciled independently: what the trade would deliver at
// current rates, under the fee rate recorded at trade time, against what
// it actually delivered. Excess delivered value is reclaimed (capped at
// the running available balance), shortfall is rebated. Nothing is
// mutated until every matured entry's rates have been resolved.
func (e *Engine) settleMaturedLocked(account ledger.Address, asset ledger.CurrencyKey) (SettleResult, error) {
	start := time.Now()
	entries := e.queue.Entries(account, asset)
	if len(entries) == 0 {
		return SettleResult{}, nil
	}

	cutoff := e.now().Add(-e.settings.WaitingPeriod).UnixMicro()
	matured := 0
	for _, entry := range entries {
		if entry.Timestamp > cutoff {
			break
		}
		matured++
	}
	if matured == 0 {
		return SettleResult{}, nil
	}

	destAsset, ok := e.assets.Get(asset)
	if !ok {
		return SettleResult{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	destRound, err := e.roundFor(asset, destAsset.BaseStable)
	if err != nil {
		return SettleResult{}, err
	}

	type verdict struct {
		reclaim int64
		rebate  int64
	}
	verdicts := make([]verdict, 0, matured)
	for _, entry := range entries[:matured] {
		srcAsset, ok := e.assets.Get(entry.SrcAsset)
		if !ok {
			return SettleResult{}, fmt.Errorf("%w: %s", ErrUnknownAsset, entry.SrcAsset)
		}
		srcRound, err := e.roundFor(entry.SrcAsset, srcAsset.BaseStable)
		if err != nil {
			return SettleResult{}, err
		}

		grossNow := fpmath.ConvertAmount(entry.SrcAmount, srcRound.Rate, destRound.Rate)
		destNow := grossNow - fpmath.MulRate(grossNow, entry.FeeRateAtTrade)
		delta := entry.DestAmountAtTrade - destNow
		if delta > 0 {
			verdicts = append(verdicts, verdict{reclaim: delta})
		} else {
			verdicts = append(verdicts, verdict{rebate: -delta})
		}
	}

	ts := e.now()
	opID := uuid.New()
	batch := e.newBatch(opID, ts)
	available := e.tracker.SynthBalance(account, asset)
	var totalReclaim, totalRebate int64

	for _, v := range verdicts {
		if v.reclaim > 0 {
			// Floor-capped at what the account still holds.
			reclaim := fpmath.MinInt64(v.reclaim, available)
			if reclaim > 0 {
				e.addJournal(batch, ledger.Journal{
					DebitAccount:  ledger.IssuanceKey(asset),
					CreditAccount: ledger.NewUserSynthKey(account, asset),
					Currency:      asset,
					Amount:        reclaim,
					JournalType:   ledger.JournalTypeSettleReclaim,
				})
				available -= reclaim
				totalReclaim += reclaim
			}
		}
		if v.rebate > 0 {
			e.addJournal(batch, ledger.Journal{
				DebitAccount:  ledger.NewUserSynthKey(account, asset),
				CreditAccount: ledger.IssuanceKey(asset),
				Currency:      asset,
				Amount:        v.rebate,
				JournalType:   ledger.JournalTypeSettleRebate,
			})
			available += v.rebate
			totalRebate += v.rebate
		}
	}

	e.applyBatch(batch)
	e.queue.RemoveOldest(account, asset, matured)

	e.emit(&event.EntriesSettled{
		OperationID:    opID,
		Account:        account,
		Asset:          asset,
		EntriesDrained: matured,
		ReclaimAmount:  totalReclaim,
		RebateAmount:   totalRebate,
		Timestamp:      ts,
	}, batch)

	if e.metrics != nil {
		e.metrics.EntriesSettled.WithLabelValues(string(asset)).Add(float64(matured))
		e.metrics.ReclaimTotal.WithLabelValues(string(asset)).Add(float64(totalReclaim))
		e.metrics.RebateTotal.WithLabelValues(string(asset)).Add(float64(totalRebate))
		e.metrics.QueueDepth.WithLabelValues(string(asset)).Set(float64(e.queue.Len(account, asset)))
	}
	e.applied("settle", start)

	return SettleResult{EntriesDrained: matured, ReclaimAmount: totalReclaim, RebateAmount: totalRebate}, nil
}

func queueEntry(account ledger.Address, src ledger.CurrencyKey, srcAmount int64, dest ledger.CurrencyKey, destReceived, feeRate int64, ts time.Time, srcRound, destRound oracle.Round) queue.ExchangeEntry {
	return queue.ExchangeEntry{
		Account:            account,
		SrcAsset:           src,
		SrcAmount:          srcAmount,
		DestAsset:          dest,
		DestAmountAtTrade:  destReceived,
		FeeRateAtTrade:     feeRate,
		Timestamp:          ts.UnixMicro(),
		SrcRateAtTrade:     srcRound.Rate,
		DestRateAtTrade:    destRound.Rate,
		SrcRoundIDAtTrade:  srcRound.RoundID,
		DestRoundIDAtTrade: destRound.RoundID,
	}
}
