package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies a batch is balanced and well-formed.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSynthNonNegative checks a user's synth balance >= 0.
func (v *InvariantValidator) ValidateSynthNonNegative(account Address, currency CurrencyKey) error {
	return v.tracker.ValidateNonNegative(NewUserSynthKey(account, currency))
}

// ValidateGlobalBalance verifies the ledger is zero-sum per currency.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for currency, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", currency, total)
		}
	}

	return nil
}
