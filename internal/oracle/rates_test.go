package oracle_test

import (
	"SynthPool/internal/oracle"
	"testing"
	"time"
)

func fixedClock(ts int64) func() time.Time {
	return func() time.Time { return time.UnixMicro(ts) }
}

func TestFeedCache_CurrentRate(t *testing.T) {
	const now = int64(10_000_000)
	fc := oracle.NewFeedCache(time.Minute, fixedClock(now))

	if _, stale := fc.CurrentRate("rBTC"); !stale {
		t.Error("missing rate should be stale")
	}

	fc.UpdateRate("rBTC", oracle.Round{Rate: 2_000_000_000, RoundID: 1, Timestamp: now})

	rate, stale := fc.CurrentRate("rBTC")
	if stale {
		t.Error("fresh rate should not be stale")
	}
	if rate != 2_000_000_000 {
		t.Errorf("got rate %d", rate)
	}
}

func TestFeedCache_StaleAfterPeriod(t *testing.T) {
	const observed = int64(10_000_000)
	clock := observed + 2*time.Minute.Microseconds()
	fc := oracle.NewFeedCache(time.Minute, fixedClock(clock))

	fc.UpdateRate("rBTC", oracle.Round{Rate: 2_000_000_000, RoundID: 1, Timestamp: observed})

	if _, stale := fc.CurrentRate("rBTC"); !stale {
		t.Error("rate older than stale period should be stale")
	}
}

func TestFeedCache_ZeroRateInvalid(t *testing.T) {
	const now = int64(10_000_000)
	fc := oracle.NewFeedCache(time.Minute, fixedClock(now))

	fc.UpdateRate("rBTC", oracle.Round{Rate: 0, RoundID: 1, Timestamp: now})

	if _, stale := fc.CurrentRate("rBTC"); !stale {
		t.Error("zero rate should be reported stale")
	}
}

func TestFeedCache_RoundsMostRecentFirst(t *testing.T) {
	const now = int64(10_000_000)
	fc := oracle.NewFeedCache(0, fixedClock(now))

	for i := int64(1); i <= 5; i++ {
		fc.UpdateRate("rETH", oracle.Round{Rate: i * 100, RoundID: i, Timestamp: now + i})
	}

	rounds := fc.RoundsForPeriod("rETH", 3)
	if len(rounds) != 3 {
		t.Fatalf("got %d rounds, want 3", len(rounds))
	}
	if rounds[0].RoundID != 5 || rounds[1].RoundID != 4 || rounds[2].RoundID != 3 {
		t.Errorf("rounds not most-recent-first: %+v", rounds)
	}
}

func TestFeedCache_DropsOutOfOrderRounds(t *testing.T) {
	const now = int64(10_000_000)
	fc := oracle.NewFeedCache(0, fixedClock(now))

	fc.UpdateRate("rETH", oracle.Round{Rate: 100, RoundID: 5, Timestamp: now})
	fc.UpdateRate("rETH", oracle.Round{Rate: 999, RoundID: 4, Timestamp: now})

	r, ok := fc.RateAndRound("rETH")
	if !ok || r.RoundID != 5 || r.Rate != 100 {
		t.Errorf("stale round replaced newer one: %+v", r)
	}
}

func TestFeedCache_DebtRatio(t *testing.T) {
	const now = int64(10_000_000)
	fc := oracle.NewFeedCache(time.Minute, fixedClock(now))

	if _, stale := fc.DebtRatio(); !stale {
		t.Error("unset debt ratio should be stale")
	}

	fc.UpdateDebtRatio(400_000_000, now) // 0.4

	ratio, stale := fc.DebtRatio()
	if stale || ratio != 400_000_000 {
		t.Errorf("got ratio=%d stale=%v", ratio, stale)
	}
}
