// Package queue holds pending exchange entries awaiting price
// reconciliation. Each (account, destAsset) pairing owns a bounded FIFO;
// entries are immutable after creation and consumed exactly once by
// settlement.
package queue

import (
	"errors"
	"fmt"

	"SynthPool/internal/ledger"
)

// ErrMaxQueueLength is returned when an append would exceed the bound.
// Callers must settle before exchanging again.
var ErrMaxQueueLength = errors.New("queue: max queue length reached")

// DefaultMaxEntries bounds each (account, destAsset) queue.
const DefaultMaxEntries = 12

// ExchangeEntry records one exchange at the instant it happened, so
// settlement can later compare trade-time rates against current rates.
type ExchangeEntry struct {
	Account            ledger.Address     `json:"account"`
	SrcAsset           ledger.CurrencyKey `json:"src_asset"`
	SrcAmount          int64              `json:"src_amount"`
	DestAsset          ledger.CurrencyKey `json:"dest_asset"`
	DestAmountAtTrade  int64              `json:"dest_amount_at_trade"`
	FeeRateAtTrade     int64              `json:"fee_rate_at_trade"`
	Timestamp          int64              `json:"timestamp"` // epoch microseconds
	SrcRateAtTrade     int64              `json:"src_rate_at_trade"`
	DestRateAtTrade    int64              `json:"dest_rate_at_trade"`
	SrcRoundIDAtTrade  int64              `json:"src_round_id_at_trade"`
	DestRoundIDAtTrade int64              `json:"dest_round_id_at_trade"`
}

type pairKey struct {
	account ledger.Address
	asset   ledger.CurrencyKey
}

// SettlementQueue is the set of all pending entries.
// Not thread-safe — owned by the serialized engine.
type SettlementQueue struct {
	entries    map[pairKey][]ExchangeEntry
	maxEntries int
}

func NewSettlementQueue(maxEntries int) *SettlementQueue {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &SettlementQueue{
		entries:    make(map[pairKey][]ExchangeEntry),
		maxEntries: maxEntries,
	}
}

// SetMaxEntries changes the bound for future appends. Pairings already
// over the new bound keep their entries; they drain through settlement.
func (q *SettlementQueue) SetMaxEntries(n int) {
	if n > 0 {
		q.maxEntries = n
	}
}

// Append adds an entry to the back of its (account, destAsset) queue.
func (q *SettlementQueue) Append(e ExchangeEntry) error {
	key := pairKey{e.Account, e.DestAsset}
	if len(q.entries[key]) >= q.maxEntries {
		return fmt.Errorf("%w: %s/%s has %d entries", ErrMaxQueueLength,
			e.Account, e.DestAsset, q.maxEntries)
	}
	q.entries[key] = append(q.entries[key], e)
	return nil
}

// Entries returns the pending entries for a pairing, oldest first.
// The returned slice is a copy.
func (q *SettlementQueue) Entries(account ledger.Address, asset ledger.CurrencyKey) []ExchangeEntry {
	pending := q.entries[pairKey{account, asset}]
	out := make([]ExchangeEntry, len(pending))
	copy(out, pending)
	return out
}

// Len reports the number of pending entries for a pairing.
func (q *SettlementQueue) Len(account ledger.Address, asset ledger.CurrencyKey) int {
	return len(q.entries[pairKey{account, asset}])
}

// HasEntriesNewerThan reports whether the pairing holds any entry with a
// timestamp after the cutoff, i.e. entries still inside a waiting period
// that started at cutoff.
func (q *SettlementQueue) HasEntriesNewerThan(account ledger.Address, asset ledger.CurrencyKey, cutoff int64) bool {
	for _, e := range q.entries[pairKey{account, asset}] {
		if e.Timestamp > cutoff {
			return true
		}
	}
	return false
}

// RemoveOldest drops the first n entries of a pairing. Settlement calls
// this after processing entries oldest-first.
func (q *SettlementQueue) RemoveOldest(account ledger.Address, asset ledger.CurrencyKey, n int) {
	key := pairKey{account, asset}
	pending := q.entries[key]
	if n >= len(pending) {
		delete(q.entries, key)
		return
	}
	remaining := make([]ExchangeEntry, len(pending)-n)
	copy(remaining, pending[n:])
	q.entries[key] = remaining
}

// AssetsWithEntries returns the dest assets that hold pending entries for
// an account.
func (q *SettlementQueue) AssetsWithEntries(account ledger.Address) []ledger.CurrencyKey {
	var out []ledger.CurrencyKey
	for key := range q.entries {
		if key.account == account {
			out = append(out, key.asset)
		}
	}
	return out
}

// Snapshot returns every pending entry for persistence, grouped order
// preserved within each pairing.
func (q *SettlementQueue) Snapshot() []ExchangeEntry {
	var out []ExchangeEntry
	for _, pending := range q.entries {
		out = append(out, pending...)
	}
	return out
}

// Restore rebuilds the queue from snapshot entries. Entries must arrive
// in their original per-pairing order.
func (q *SettlementQueue) Restore(entries []ExchangeEntry) {
	q.entries = make(map[pairKey][]ExchangeEntry)
	for _, e := range entries {
		key := pairKey{e.Account, e.DestAsset}
		q.entries[key] = append(q.entries[key], e)
	}
}
