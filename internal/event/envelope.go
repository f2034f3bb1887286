package event

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeIssued
	EventTypeBurned
	EventTypeSynthExchanged
	EventTypeAtomicSynthExchanged
	EventTypeExchangeSkipped
	EventTypeEntriesSettled
	EventTypeDebtMigrated
	EventTypeFeeConfigUpdated
	EventTypeBreakerReset
	EventTypeSettingsUpdated
)

// Envelope wraps every operation in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key (operation UUID)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Account context (nullable for admin events)
	Account *string

	// Engine clock at apply time (NOT the HTTP arrival time)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 chained over the envelope, for log integrity
	StateHash [32]byte

	// Previous envelope's hash
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// AccountContext returns the acting account (nil for admin events)
	AccountContext() *string
}

// ChainHash computes the envelope's state hash from the previous hash and
// the envelope's identifying fields. The resulting chain makes any
// insertion, deletion or reordering in the log detectable.
func ChainHash(prev [32]byte, sequence int64, idempotencyKey string, eventType EventType, payload []byte) [32]byte {
	h := sha256.New()
	h.Write(prev[:])

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequence))
	h.Write(seq[:])

	var et [4]byte
	binary.BigEndian.PutUint32(et[:], uint32(eventType))
	h.Write(et[:])

	h.Write([]byte(idempotencyKey))
	h.Write(payload)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (et EventType) String() string {
	switch et {
	case EventTypeIssued:
		return "Issued"
	case EventTypeBurned:
		return "Burned"
	case EventTypeSynthExchanged:
		return "SynthExchanged"
	case EventTypeAtomicSynthExchanged:
		return "AtomicSynthExchanged"
	case EventTypeExchangeSkipped:
		return "ExchangeSkipped"
	case EventTypeEntriesSettled:
		return "EntriesSettled"
	case EventTypeDebtMigrated:
		return "DebtMigrated"
	case EventTypeFeeConfigUpdated:
		return "FeeConfigUpdated"
	case EventTypeBreakerReset:
		return "BreakerReset"
	case EventTypeSettingsUpdated:
		return "SettingsUpdated"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS subject suffix for the event type.
func (et EventType) Subject() string {
	return strings.ToLower(et.String())
}
