package event

import (
	"time"

	"github.com/google/uuid"

	"SynthPool/internal/ledger"
)

// Issued records a debt issuance: base synths minted against new shares.
// Idempotency key: operation_id (UUID assigned at the API edge).
type Issued struct {
	OperationID  uuid.UUID      `json:"operation_id"`
	Account      ledger.Address `json:"account"`
	Amount       int64          `json:"amount"` // amount scale
	SharesMinted int64          `json:"shares_minted"`
	DebtRatio    int64          `json:"debt_ratio"` // rate scale
	Timestamp    time.Time      `json:"timestamp"`
}

func (e *Issued) IdempotencyKey() string { return e.OperationID.String() }
func (e *Issued) EventType() EventType   { return EventTypeIssued }
func (e *Issued) AccountContext() *string {
	a := string(e.Account)
	return &a
}

// Burned records a debt burn. AmountBurned may be less than
// AmountRequested when the burn was capped at the account's debt balance.
type Burned struct {
	OperationID     uuid.UUID      `json:"operation_id"`
	Account         ledger.Address `json:"account"`
	AmountRequested int64          `json:"amount_requested"`
	AmountBurned    int64          `json:"amount_burned"`
	SharesBurned    int64          `json:"shares_burned"`
	DebtRatio       int64          `json:"debt_ratio"`
	ToTarget        bool           `json:"to_target"`
	Timestamp       time.Time      `json:"timestamp"`
}

func (e *Burned) IdempotencyKey() string { return e.OperationID.String() }
func (e *Burned) EventType() EventType   { return EventTypeBurned }
func (e *Burned) AccountContext() *string {
	a := string(e.Account)
	return &a
}

// SynthExchanged records a completed exchange, standard or atomic.
type SynthExchanged struct {
	OperationID        uuid.UUID          `json:"operation_id"`
	Account            ledger.Address     `json:"account"`
	SrcAsset           ledger.CurrencyKey `json:"src_asset"`
	SrcAmount          int64              `json:"src_amount"`
	DestAsset          ledger.CurrencyKey `json:"dest_asset"`
	DestAmountReceived int64              `json:"dest_amount_received"`
	Fee                int64              `json:"fee"`      // dest units
	FeeRate            int64              `json:"fee_rate"` // rate scale
	SrcRoundID         int64              `json:"src_round_id"`
	DestRoundID        int64              `json:"dest_round_id"`
	Atomic             bool               `json:"atomic"`
	Timestamp          time.Time          `json:"timestamp"`
}

func (e *SynthExchanged) IdempotencyKey() string { return e.OperationID.String() }
func (e *SynthExchanged) EventType() EventType {
	if e.Atomic {
		return EventTypeAtomicSynthExchanged
	}
	return EventTypeSynthExchanged
}
func (e *SynthExchanged) AccountContext() *string {
	a := string(e.Account)
	return &a
}

// ExchangeSkipped records an exchange that returned success with zero
// effect because the circuit breaker tripped on one of its assets.
type ExchangeSkipped struct {
	OperationID  uuid.UUID          `json:"operation_id"`
	Account      ledger.Address     `json:"account"`
	SrcAsset     ledger.CurrencyKey `json:"src_asset"`
	DestAsset    ledger.CurrencyKey `json:"dest_asset"`
	TrippedAsset ledger.CurrencyKey `json:"tripped_asset"`
	ObservedRate int64              `json:"observed_rate"`
	Timestamp    time.Time          `json:"timestamp"`
}

func (e *ExchangeSkipped) IdempotencyKey() string { return e.OperationID.String() }
func (e *ExchangeSkipped) EventType() EventType   { return EventTypeExchangeSkipped }
func (e *ExchangeSkipped) AccountContext() *string {
	a := string(e.Account)
	return &a
}

// EntriesSettled records the outcome of draining matured settlement
// entries for one (account, asset) pairing.
type EntriesSettled struct {
	OperationID    uuid.UUID          `json:"operation_id"`
	Account        ledger.Address     `json:"account"`
	Asset          ledger.CurrencyKey `json:"asset"`
	EntriesDrained int                `json:"entries_drained"`
	ReclaimAmount  int64              `json:"reclaim_amount"`
	RebateAmount   int64              `json:"rebate_amount"`
	Timestamp      time.Time          `json:"timestamp"`
}

func (e *EntriesSettled) IdempotencyKey() string { return e.OperationID.String() }
func (e *EntriesSettled) EventType() EventType   { return EventTypeEntriesSettled }
func (e *EntriesSettled) AccountContext() *string {
	a := string(e.Account)
	return &a
}

// DebtMigrated records a privileged direct share adjustment.
type DebtMigrated struct {
	OperationID uuid.UUID      `json:"operation_id"`
	Migrator    ledger.Address `json:"migrator"`
	Account     ledger.Address `json:"account"`
	DeltaShares int64          `json:"delta_shares"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (e *DebtMigrated) IdempotencyKey() string { return e.OperationID.String() }
func (e *DebtMigrated) EventType() EventType   { return EventTypeDebtMigrated }
func (e *DebtMigrated) AccountContext() *string {
	a := string(e.Account)
	return &a
}

// FeeConfigUpdated records an administrative fee parameter change.
type FeeConfigUpdated struct {
	OperationID uuid.UUID          `json:"operation_id"`
	Currency    ledger.CurrencyKey `json:"currency"`
	Timestamp   time.Time          `json:"timestamp"`
}

func (e *FeeConfigUpdated) IdempotencyKey() string  { return e.OperationID.String() }
func (e *FeeConfigUpdated) EventType() EventType    { return EventTypeFeeConfigUpdated }
func (e *FeeConfigUpdated) AccountContext() *string { return nil }

// BreakerReset records an administrative re-baseline of the circuit
// breaker after a legitimate large move.
type BreakerReset struct {
	OperationID uuid.UUID          `json:"operation_id"`
	Currency    ledger.CurrencyKey `json:"currency"`
	NewBaseline int64              `json:"new_baseline"`
	Timestamp   time.Time          `json:"timestamp"`
}

func (e *BreakerReset) IdempotencyKey() string  { return e.OperationID.String() }
func (e *BreakerReset) EventType() EventType    { return EventTypeBreakerReset }
func (e *BreakerReset) AccountContext() *string { return nil }

// SettingsUpdated records an administrative change to the engine settings.
type SettingsUpdated struct {
	OperationID uuid.UUID `json:"operation_id"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *SettingsUpdated) IdempotencyKey() string  { return e.OperationID.String() }
func (e *SettingsUpdated) EventType() EventType    { return EventTypeSettingsUpdated }
func (e *SettingsUpdated) AccountContext() *string { return nil }
