package queue

import (
	"errors"
	"testing"

	"SynthPool/internal/ledger"
)

const (
	alice = ledger.Address("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = ledger.Address("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func entryAt(account ledger.Address, dest ledger.CurrencyKey, ts int64) ExchangeEntry {
	return ExchangeEntry{
		Account:           account,
		SrcAsset:          "rUSD",
		SrcAmount:         100_000_000,
		DestAsset:         dest,
		DestAmountAtTrade: 1_000_000,
		Timestamp:         ts,
	}
}

func TestAppendBoundedPerPairing(t *testing.T) {
	q := NewSettlementQueue(3)

	for i := int64(0); i < 3; i++ {
		if err := q.Append(entryAt(alice, "rBTC", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := q.Append(entryAt(alice, "rBTC", 3)); !errors.Is(err, ErrMaxQueueLength) {
		t.Fatalf("expected ErrMaxQueueLength, got %v", err)
	}

	// Other pairings are independent.
	if err := q.Append(entryAt(alice, "rETH", 0)); err != nil {
		t.Fatalf("other asset should be unaffected: %v", err)
	}
	if err := q.Append(entryAt(bob, "rBTC", 0)); err != nil {
		t.Fatalf("other account should be unaffected: %v", err)
	}
}

func TestEntriesOldestFirst(t *testing.T) {
	q := NewSettlementQueue(0) // default bound

	for i := int64(10); i <= 30; i += 10 {
		if err := q.Append(entryAt(alice, "rBTC", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries := q.Entries(alice, "rBTC")
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []int64{10, 20, 30} {
		if entries[i].Timestamp != want {
			t.Fatalf("entry %d: expected ts %d, got %d", i, want, entries[i].Timestamp)
		}
	}

	// Mutating the returned slice must not touch the queue.
	entries[0].Timestamp = 999
	if q.Entries(alice, "rBTC")[0].Timestamp != 10 {
		t.Fatal("Entries returned internal storage")
	}
}

func TestRemoveOldest(t *testing.T) {
	q := NewSettlementQueue(12)
	for i := int64(1); i <= 4; i++ {
		if err := q.Append(entryAt(alice, "rBTC", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	q.RemoveOldest(alice, "rBTC", 2)
	entries := q.Entries(alice, "rBTC")
	if len(entries) != 2 || entries[0].Timestamp != 3 {
		t.Fatalf("expected entries 3,4 to remain, got %+v", entries)
	}

	q.RemoveOldest(alice, "rBTC", 10)
	if q.Len(alice, "rBTC") != 0 {
		t.Fatal("expected queue drained")
	}
}

func TestHasEntriesNewerThan(t *testing.T) {
	q := NewSettlementQueue(12)
	if q.HasEntriesNewerThan(alice, "rBTC", 0) {
		t.Fatal("empty queue has no entries")
	}

	if err := q.Append(entryAt(alice, "rBTC", 100)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if !q.HasEntriesNewerThan(alice, "rBTC", 50) {
		t.Fatal("entry at ts=100 is newer than cutoff 50")
	}
	if q.HasEntriesNewerThan(alice, "rBTC", 100) {
		t.Fatal("entry at ts=100 is not newer than cutoff 100")
	}
}

func TestAssetsWithEntries(t *testing.T) {
	q := NewSettlementQueue(12)
	if err := q.Append(entryAt(alice, "rBTC", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := q.Append(entryAt(alice, "rETH", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := q.Append(entryAt(bob, "rEUR", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}

	assets := q.AssetsWithEntries(alice)
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets for alice, got %v", assets)
	}
	seen := map[ledger.CurrencyKey]bool{}
	for _, a := range assets {
		seen[a] = true
	}
	if !seen["rBTC"] || !seen["rETH"] {
		t.Fatalf("unexpected asset set: %v", assets)
	}
}

func TestSnapshotRestorePreservesOrder(t *testing.T) {
	q := NewSettlementQueue(12)
	for i := int64(1); i <= 3; i++ {
		if err := q.Append(entryAt(alice, "rBTC", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := q.Append(entryAt(bob, "rETH", 7)); err != nil {
		t.Fatalf("append: %v", err)
	}

	restored := NewSettlementQueue(12)
	restored.Restore(q.Snapshot())

	entries := restored.Entries(alice, "rBTC")
	if len(entries) != 3 {
		t.Fatalf("expected 3 restored entries, got %d", len(entries))
	}
	for i, want := range []int64{1, 2, 3} {
		if entries[i].Timestamp != want {
			t.Fatalf("restored entry %d out of order: ts %d", i, entries[i].Timestamp)
		}
	}
	if restored.Len(bob, "rETH") != 1 {
		t.Fatal("bob's entry lost in restore")
	}
}
