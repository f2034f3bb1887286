package ledger

import (
	"fmt"
	"strings"
)

// Address identifies an account. Lowercase 0x-prefixed hex, 20 bytes.
type Address string

// ParseAddress validates and normalizes an address string.
func ParseAddress(s string) (Address, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return "", fmt.Errorf("invalid address %q: want 0x + 40 hex chars", s)
	}
	for _, c := range s[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("invalid address %q: non-hex character", s)
		}
	}
	return Address(s), nil
}

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeSynth AccountSubType = iota

	// System sub-types
	SubTypeSystemIssuance
	SubTypeSystemFeePool
	SubTypeSystemSettlement
)

// AccountKey is the in-memory key for balance tracking.
type AccountKey struct {
	Scope    AccountScope
	Entity   Address // empty for system accounts
	SubType  AccountSubType
	Currency CurrencyKey
}

// NewUserSynthKey creates a key for a user's balance of one synth.
func NewUserSynthKey(account Address, currency CurrencyKey) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		Entity:   account,
		SubType:  SubTypeSynth,
		Currency: currency,
	}
}

// NewSystemKey creates a key for a system account.
func NewSystemKey(subType AccountSubType, currency CurrencyKey) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		SubType:  subType,
		Currency: currency,
	}
}

// IssuanceKey is the zero-sum counterparty for every mint and burn of a synth.
func IssuanceKey(currency CurrencyKey) AccountKey {
	return NewSystemKey(SubTypeSystemIssuance, currency)
}

// FeePoolKey is the fee-collection sink. Fees are always remitted in the
// base currency.
func FeePoolKey() AccountKey {
	return NewSystemKey(SubTypeSystemFeePool, BaseCurrency)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Entity, k.subTypeName(), k.Currency)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), k.Currency)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeSynth:
		return "synth"
	case SubTypeSystemIssuance:
		return "issuance"
	case SubTypeSystemFeePool:
		return "fee_pool"
	case SubTypeSystemSettlement:
		return "settlement"
	default:
		return "unknown"
	}
}

// ParseAccountPath reverses AccountPath. Used when restoring snapshots.
func ParseAccountPath(path string) AccountKey {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && parts[0] == "user":
		return AccountKey{
			Scope:    AccountScopeUser,
			Entity:   Address(parts[1]),
			SubType:  subTypeFromName(parts[2]),
			Currency: CurrencyKey(parts[3]),
		}
	case len(parts) == 3 && parts[0] == "system":
		return AccountKey{
			Scope:    AccountScopeSystem,
			SubType:  subTypeFromName(parts[1]),
			Currency: CurrencyKey(parts[2]),
		}
	}
	return AccountKey{}
}

func subTypeFromName(name string) AccountSubType {
	switch name {
	case "synth":
		return SubTypeSynth
	case "issuance":
		return SubTypeSystemIssuance
	case "fee_pool":
		return SubTypeSystemFeePool
	case "settlement":
		return SubTypeSystemSettlement
	}
	return SubTypeSynth
}
