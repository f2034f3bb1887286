package engine

import (
	"encoding/hex"
	"fmt"
	"time"

	"SynthPool/internal/ledger"
	"SynthPool/internal/queue"
)

// State is a full engine snapshot, taken under the lock and restorable at
// boot. Balances are keyed by account path so the snapshot is stable
// across code changes to the key struct.
type State struct {
	Sequence         int64                          `json:"sequence"`
	PrevHash         string                         `json:"prev_hash"` // hex
	Balances         map[string]int64               `json:"balances"`
	DebtShares       map[ledger.Address]int64       `json:"debt_shares"`
	QueueEntries     []queue.ExchangeEntry          `json:"queue_entries"`
	BreakerBaselines map[ledger.CurrencyKey]int64   `json:"breaker_baselines"`
	LastIssue        map[ledger.Address]int64       `json:"last_issue"`
	AtomicBlock      int64                          `json:"atomic_block"`
	AtomicVolume     int64                          `json:"atomic_volume"`
	TakenAt          time.Time                      `json:"taken_at"`
}

// SnapshotState captures the engine's full mutable state.
func (e *Engine) SnapshotState() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	balances := make(map[string]int64)
	for key, bal := range e.tracker.Snapshot() {
		balances[key.AccountPath()] = bal
	}

	lastIssue := make(map[ledger.Address]int64, len(e.lastIssue))
	for k, v := range e.lastIssue {
		lastIssue[k] = v
	}

	return State{
		Sequence:         e.sequence,
		PrevHash:         hex.EncodeToString(e.prevHash[:]),
		Balances:         balances,
		DebtShares:       e.pool.Snapshot(),
		QueueEntries:     e.queue.Snapshot(),
		BreakerBaselines: e.breaker.Snapshot(),
		LastIssue:        lastIssue,
		AtomicBlock:      e.atomicBlock,
		AtomicVolume:     e.atomicVolume,
		TakenAt:          e.now(),
	}
}

// RestoreState rebuilds the engine from a snapshot. Called once at boot
// before any operation is accepted.
func (e *Engine) RestoreState(s State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := hex.DecodeString(s.PrevHash)
	if err != nil || (len(prev) != 32 && len(prev) != 0) {
		return fmt.Errorf("invalid prev_hash in snapshot: %q", s.PrevHash)
	}

	e.sequence = s.Sequence
	copy(e.prevHash[:], prev)

	for path, bal := range s.Balances {
		e.tracker.SetBalance(ledger.ParseAccountPath(path), bal)
	}
	e.pool.Restore(s.DebtShares)
	e.queue.Restore(s.QueueEntries)
	e.breaker.Restore(s.BreakerBaselines)

	e.lastIssue = make(map[ledger.Address]int64, len(s.LastIssue))
	for k, v := range s.LastIssue {
		e.lastIssue[k] = v
	}
	e.atomicBlock = s.AtomicBlock
	e.atomicVolume = s.AtomicVolume

	if err := e.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("snapshot fails global balance check: %w", err)
	}
	if err := e.pool.ValidateTotal(); err != nil {
		return fmt.Errorf("snapshot fails share total check: %w", err)
	}

	e.log.Info().
		Int64("sequence", e.sequence).
		Int("accounts", len(s.DebtShares)).
		Int("queue_entries", len(s.QueueEntries)).
		Msg("engine state restored from snapshot")
	return nil
}
