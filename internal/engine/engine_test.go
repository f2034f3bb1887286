package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"SynthPool/internal/ledger"
	"SynthPool/internal/oracle"
)

const (
	alice  = ledger.Address("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob    = ledger.Address("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	bridge = ledger.Address("0xcccccccccccccccccccccccccccccccccccccccc")
)

type manualClock struct {
	t time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type staticCollateral map[ledger.Address]int64

func (s staticCollateral) CollateralValue(account ledger.Address) (int64, error) {
	return s[account], nil
}

type testEnv struct {
	engine     *Engine
	feed       *oracle.FeedCache
	clock      *manualClock
	collateral staticCollateral
	roundID    int64
}

func newTestEnv(t *testing.T, mutate func(*Settings)) *testEnv {
	t.Helper()

	clock := newManualClock()
	settings := DefaultSettings()
	if mutate != nil {
		mutate(&settings)
	}

	feed := oracle.NewFeedCache(settings.RateStalePeriod, clock.Now)
	collateral := staticCollateral{}

	eng, err := New(Deps{
		Rates:      feed,
		DebtRatio:  feed,
		Collateral: collateral,
		Migrators:  []ledger.Address{bridge},
		Settings:   settings,
		Now:        clock.Now,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{engine: eng, feed: feed, clock: clock, collateral: collateral}
}

func (env *testEnv) setRate(key ledger.CurrencyKey, rate int64) {
	env.roundID++
	env.feed.UpdateRate(key, oracle.Round{
		Rate:      rate,
		RoundID:   env.roundID,
		Timestamp: env.clock.Now().UnixMicro(),
	})
}

func (env *testEnv) setDebtRatio(ratio int64) {
	env.feed.UpdateDebtRatio(ratio, env.clock.Now().UnixMicro())
}

// ============================================================================
// Issue
// ============================================================================

func TestIssueMintsSharesAtDebtRatio(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000) // 0.4

	res, err := env.engine.Issue(alice, 100_000_000)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// 100 / 0.4 = 250 shares.
	if res.SharesMinted != 250_000_000 {
		t.Fatalf("expected 250 shares, got %d", res.SharesMinted)
	}
	if got := env.engine.TotalDebtShares(); got != 250_000_000 {
		t.Fatalf("expected total shares 250, got %d", got)
	}
	if got := env.engine.SynthBalance(alice, ledger.BaseCurrency); got != 100_000_000 {
		t.Fatalf("expected 100 base synths minted, got %d", got)
	}
	if got := env.engine.TotalIssued(ledger.BaseCurrency); got != 100_000_000 {
		t.Fatalf("expected total issued 100, got %d", got)
	}
}

func TestIssueRejectsZeroAmount(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000)

	if _, err := env.engine.Issue(alice, 0); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestIssueRejectsStaleDebtRatio(t *testing.T) {
	env := newTestEnv(t, nil)

	// Never published.
	if _, err := env.engine.Issue(alice, 100_000_000); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate for missing ratio, got %v", err)
	}

	// Published but aged out.
	env.setDebtRatio(400_000_000)
	env.clock.Advance(2 * time.Hour)
	if _, err := env.engine.Issue(alice, 100_000_000); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate for stale ratio, got %v", err)
	}
}

func TestDebtBalanceTracksRatioChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000)

	// 300 issued at 0.4 mints 750 shares.
	if _, err := env.engine.Issue(alice, 300_000_000); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := env.engine.TotalDebtShares(); got != 750_000_000 {
		t.Fatalf("expected 750 shares, got %d", got)
	}

	// Ratio moves to 0.6: same shares now value at 450.
	env.setDebtRatio(600_000_000)
	debt, err := env.engine.DebtBalanceOf(alice)
	if err != nil {
		t.Fatalf("DebtBalanceOf: %v", err)
	}
	if debt != 450_000_000 {
		t.Fatalf("expected debt 450 at ratio 0.6, got %d", debt)
	}
}

// ============================================================================
// Burn
// ============================================================================

func TestBurnGatedByMinimumStakeTime(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000)

	if _, err := env.engine.Issue(alice, 100_000_000); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := env.engine.Burn(alice, 50_000_000); !errors.Is(err, ErrMinimumStakeTimeNotElapsed) {
		t.Fatalf("expected stake time gate, got %v", err)
	}

	env.clock.Advance(6 * time.Minute)
	res, err := env.engine.Burn(alice, 50_000_000)
	if err != nil {
		t.Fatalf("Burn after stake time: %v", err)
	}
	if res.AmountBurned != 50_000_000 || res.SharesBurned != 125_000_000 {
		t.Fatalf("unexpected burn result: %+v", res)
	}
}

func TestBurnCapsAtDebtBalance(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000)

	if _, err := env.engine.Issue(alice, 100_000_000); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	env.clock.Advance(6 * time.Minute)

	// Requesting far more than the debt burns exactly the debt and clears
	// every share.
	res, err := env.engine.Burn(alice, 1_000_000_000)
	if err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if res.AmountBurned != 100_000_000 {
		t.Fatalf("expected burn capped at 100, got %d", res.AmountBurned)
	}
	if got := env.engine.TotalDebtShares(); got != 0 {
		t.Fatalf("expected all shares burned, got %d", got)
	}
	if got := env.engine.SynthBalance(alice, ledger.BaseCurrency); got != 0 {
		t.Fatalf("expected zero base synths, got %d", got)
	}
}

func TestBurnWithoutDebt(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000)

	if _, err := env.engine.Burn(alice, 100_000_000); !errors.Is(err, ErrNoDebtToBurn) {
		t.Fatalf("expected ErrNoDebtToBurn, got %v", err)
	}
}

func TestBurnToTarget(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000)
	env.collateral[alice] = 1_000_000_000 // 1000 collateral, target debt 200

	if _, err := env.engine.Issue(alice, 300_000_000); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// No stake-time gate on the target path.
	res, err := env.engine.BurnToTarget(alice)
	if err != nil {
		t.Fatalf("BurnToTarget: %v", err)
	}
	if res.AmountBurned != 100_000_000 {
		t.Fatalf("expected 100 burned to reach target, got %d", res.AmountBurned)
	}

	debt, err := env.engine.DebtBalanceOf(alice)
	if err != nil {
		t.Fatalf("DebtBalanceOf: %v", err)
	}
	if debt != 200_000_000 {
		t.Fatalf("expected debt at target 200, got %d", debt)
	}

	// Already at target: no-op.
	res, err = env.engine.BurnToTarget(alice)
	if err != nil {
		t.Fatalf("BurnToTarget at target: %v", err)
	}
	if res.AmountBurned != 0 {
		t.Fatalf("expected no-op at target, burned %d", res.AmountBurned)
	}
}

// ============================================================================
// Collateral queries
// ============================================================================

func TestMaxIssuable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000)
	env.collateral[alice] = 1_000_000_000

	// 1000 * 0.2 = 200 issuable, no debt yet.
	max, err := env.engine.MaxIssuable(alice)
	if err != nil {
		t.Fatalf("MaxIssuable: %v", err)
	}
	if max != 200_000_000 {
		t.Fatalf("expected 200 issuable, got %d", max)
	}

	if _, err := env.engine.Issue(alice, 150_000_000); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	max, err = env.engine.MaxIssuable(alice)
	if err != nil {
		t.Fatalf("MaxIssuable: %v", err)
	}
	if max != 50_000_000 {
		t.Fatalf("expected 50 remaining, got %d", max)
	}

	// Debt above the cap floors at zero.
	if _, err := env.engine.Issue(alice, 100_000_000); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	max, err = env.engine.MaxIssuable(alice)
	if err != nil {
		t.Fatalf("MaxIssuable: %v", err)
	}
	if max != 0 {
		t.Fatalf("expected issuable floored at 0, got %d", max)
	}
}

func TestCollateralisationRatio(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000)
	env.collateral[alice] = 1_000_000_000

	if _, err := env.engine.Issue(alice, 100_000_000); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// 100 debt over 1000 collateral = 0.1.
	ratio, err := env.engine.CollateralisationRatio(alice)
	if err != nil {
		t.Fatalf("CollateralisationRatio: %v", err)
	}
	if ratio != 100_000_000 {
		t.Fatalf("expected c-ratio 0.1, got %d", ratio)
	}

	// No collateral reads as zero.
	ratio, err = env.engine.CollateralisationRatio(bob)
	if err != nil {
		t.Fatalf("CollateralisationRatio(bob): %v", err)
	}
	if ratio != 0 {
		t.Fatalf("expected 0 for no collateral, got %d", ratio)
	}
}

// ============================================================================
// Migration & admin
// ============================================================================

func TestMigrateDebtShares(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000)

	if err := env.engine.MigrateDebtShares(alice, bob, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-migrator, got %v", err)
	}

	if err := env.engine.MigrateDebtShares(bridge, bob, 500_000_000); err != nil {
		t.Fatalf("MigrateDebtShares: %v", err)
	}
	if got := env.engine.TotalDebtShares(); got != 500_000_000 {
		t.Fatalf("expected 500 migrated shares, got %d", got)
	}

	debt, err := env.engine.DebtBalanceOf(bob)
	if err != nil {
		t.Fatalf("DebtBalanceOf: %v", err)
	}
	if debt != 200_000_000 {
		t.Fatalf("expected migrated debt 200 at ratio 0.4, got %d", debt)
	}
}

func TestUpdateSettingsValidates(t *testing.T) {
	env := newTestEnv(t, nil)

	bad := DefaultSettings()
	bad.WaitingPeriod = 0
	if err := env.engine.UpdateSettings(bad); err == nil {
		t.Fatal("expected validation error")
	}

	good := DefaultSettings()
	good.MaxQueueEntries = 5
	if err := env.engine.UpdateSettings(good); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if got := env.engine.Settings().MaxQueueEntries; got != 5 {
		t.Fatalf("settings not applied: %d", got)
	}
}

// ============================================================================
// Snapshot / restore
// ============================================================================

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setDebtRatio(400_000_000)
	env.setRate("rBTC", 1_000_000_000)

	if _, err := env.engine.Issue(alice, 500_000_000); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := env.engine.Exchange(alice, ledger.BaseCurrency, 200_000_000, "rBTC"); err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	snap := env.engine.SnapshotState()

	restoredEnv := newTestEnv(t, nil)
	restoredEnv.setDebtRatio(400_000_000)
	if err := restoredEnv.engine.RestoreState(snap); err != nil {
		t.Fatalf("RestoreState: %v", err)
	}

	if got := restoredEnv.engine.TotalDebtShares(); got != env.engine.TotalDebtShares() {
		t.Fatalf("shares diverged after restore: %d", got)
	}
	if got := restoredEnv.engine.SynthBalance(alice, ledger.BaseCurrency); got != 300_000_000 {
		t.Fatalf("expected 300 base synths after restore, got %d", got)
	}
	if got := restoredEnv.engine.SynthBalance(alice, "rBTC"); got != env.engine.SynthBalance(alice, "rBTC") {
		t.Fatalf("rBTC balance diverged after restore: %d", got)
	}
	if got := len(restoredEnv.engine.QueueEntries(alice, "rBTC")); got != 1 {
		t.Fatalf("expected 1 restored queue entry, got %d", got)
	}
}
