package ledger

import "fmt"

// BalanceTracker maintains in-memory synth balances.
// Not thread-safe — only accessed from the serialized engine.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SynthBalance returns a user's balance of one synth.
func (bt *BalanceTracker) SynthBalance(account Address, currency CurrencyKey) int64 {
	return bt.GetBalance(NewUserSynthKey(account, currency))
}

// FeePoolBalance returns the accumulated fee-pool balance in the base currency.
func (bt *BalanceTracker) FeePoolBalance() int64 {
	return bt.GetBalance(FeePoolKey())
}

// TotalIssued returns the outstanding supply of one synth. The issuance
// account goes negative as synths are minted, so the supply is its negation.
func (bt *BalanceTracker) TotalIssued(currency CurrencyKey) int64 {
	return -bt.GetBalance(IssuanceKey(currency))
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ValidateSufficient checks a user holds at least required of a synth.
func (bt *BalanceTracker) ValidateSufficient(account Address, currency CurrencyKey, required int64) error {
	balance := bt.SynthBalance(account, currency)
	if balance < required {
		return fmt.Errorf("insufficient %s balance: have=%d, need=%d", currency, balance, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per currency
// (should be 0 for the zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[CurrencyKey]int64 {
	totals := make(map[CurrencyKey]int64)

	for key, balance := range bt.balances {
		totals[key.Currency] += balance
	}

	return totals
}

// SetBalance overwrites a balance. Only used by snapshot restore.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
