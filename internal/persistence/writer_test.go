package persistence

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"

	"SynthPool/internal/engine"
	"SynthPool/internal/event"
	"SynthPool/internal/ledger"
	"SynthPool/internal/testutil"
)

func sampleOutput(seq int64) engine.Output {
	account := "0x00000000000000000000000000000000000000aa"
	batchID := uuid.New()
	now := time.Unix(1_700_000_000, 0).UTC()

	var stateHash, prevHash [32]byte
	stateHash[0] = byte(seq)
	prevHash[0] = byte(seq - 1)

	return engine.Output{
		Envelope: &event.Envelope{
			Sequence:       seq,
			IdempotencyKey: uuid.New().String(),
			EventType:      event.EventTypeIssued,
			Account:        &account,
			Timestamp:      now,
			Payload:        []byte(`{"amount":"100"}`),
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Batch: &ledger.Batch{
			BatchID:   batchID,
			EventRef:  "ref",
			Sequence:  seq,
			Timestamp: now.UnixMicro(),
			Journals: []ledger.Journal{
				{
					JournalID:     uuid.New(),
					BatchID:       batchID,
					EventRef:      "ref",
					Sequence:      seq,
					DebitAccount:  ledger.NewUserSynthKey(ledger.Address(account), ledger.BaseCurrency),
					CreditAccount: ledger.IssuanceKey(ledger.BaseCurrency),
					Currency:      ledger.BaseCurrency,
					Amount:        100_000_000,
					JournalType:   ledger.JournalTypeIssue,
					Timestamp:     now.UnixMicro(),
				},
			},
		},
	}
}

// ============================================================
// Row mapping
// ============================================================

func TestRowsFromOutput(t *testing.T) {
	out := sampleOutput(7)

	ev, journals := RowsFromOutput(out)

	if ev.Sequence != 7 {
		t.Fatalf("sequence = %d, want 7", ev.Sequence)
	}
	if ev.EventType != "Issued" {
		t.Fatalf("event type = %s, want Issued", ev.EventType)
	}
	if ev.Account == nil || *ev.Account != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("account = %v", ev.Account)
	}
	if ev.StateHash != hex.EncodeToString(out.Envelope.StateHash[:]) {
		t.Fatalf("state hash not hex encoded")
	}

	if len(journals) != 1 {
		t.Fatalf("journals = %d, want 1", len(journals))
	}
	j := journals[0]
	if j.DebitAccount != "user:0x00000000000000000000000000000000000000aa:synth:rUSD" {
		t.Fatalf("debit account = %s", j.DebitAccount)
	}
	if j.CreditAccount != "system:issuance:rUSD" {
		t.Fatalf("credit account = %s", j.CreditAccount)
	}
	if j.Amount != 100_000_000 {
		t.Fatalf("amount = %d", j.Amount)
	}
}

func TestRowsFromOutputNoBatch(t *testing.T) {
	out := sampleOutput(1)
	out.Batch = nil

	_, journals := RowsFromOutput(out)
	if len(journals) != 0 {
		t.Fatalf("journals = %d, want 0", len(journals))
	}
}

// ============================================================
// Postgres round trip (integration)
// ============================================================

func TestWriteAndReadBack(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := NewEventLogWriter(db)
	ev1, j1 := RowsFromOutput(sampleOutput(1))
	ev2, j2 := RowsFromOutput(sampleOutput(2))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, tx, []EventRow{ev1, ev2}); err != nil {
		t.Fatalf("write events: %v", err)
	}
	if err := writer.WriteJournalBatch(ctx, tx, append(j1, j2...)); err != nil {
		t.Fatalf("write journals: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Conflicting re-insert is a no-op.
	tx2, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, tx2, []EventRow{ev1}); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	sm := NewSnapshotManager(db)
	seq, err := sm.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if seq != 2 {
		t.Fatalf("latest sequence = %d, want 2", seq)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_log.events`,
	).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("event count = %d, want 2", count)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	sm := NewSnapshotManager(db)

	empty, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected nil snapshot on cold start")
	}

	state := &engine.State{
		Sequence: 42,
		PrevHash: "00ff",
		Balances: map[string]int64{"system:fee_pool:rUSD": 5_000_000},
		TakenAt:  time.Unix(1_700_000_000, 0).UTC(),
	}
	if err := sm.SaveSnapshot(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.Sequence != 42 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.Balances["system:fee_pool:rUSD"] != 5_000_000 {
		t.Fatalf("balances not preserved: %+v", loaded.Balances)
	}
}
