package breaker_test

import (
	"SynthPool/internal/breaker"
	fpmath "SynthPool/internal/math"
	"testing"
)

func TestCheckAndTrip_FirstObservationAccepted(t *testing.T) {
	cb := breaker.New(breaker.DefaultDeviationFactor)

	if cb.CheckAndTrip("rBTC", 2*fpmath.RateUnit) {
		t.Fatal("first observation should be accepted")
	}
	if cb.LastGoodRate("rBTC") != 2*fpmath.RateUnit {
		t.Error("baseline not recorded")
	}
}

func TestCheckAndTrip_WithinBounds(t *testing.T) {
	cb := breaker.New(breaker.DefaultDeviationFactor)
	cb.ResetLastValue("rBTC", 100*fpmath.RateUnit)

	// 2x up and 2x down stay within a 3x factor
	if cb.CheckAndTrip("rBTC", 200*fpmath.RateUnit) {
		t.Error("2x move should not trip")
	}
	if cb.CheckAndTrip("rBTC", 100*fpmath.RateUnit) {
		t.Error("return to prior rate should not trip")
	}
}

func TestCheckAndTrip_SpikesTrip(t *testing.T) {
	cb := breaker.New(breaker.DefaultDeviationFactor)
	cb.ResetLastValue("rBTC", 100*fpmath.RateUnit)

	if !cb.CheckAndTrip("rBTC", 1000*fpmath.RateUnit) {
		t.Error("10x spike should trip")
	}
	// Last good must be untouched by the trip
	if cb.LastGoodRate("rBTC") != 100*fpmath.RateUnit {
		t.Error("trip must not update last good rate")
	}

	if !cb.CheckAndTrip("rBTC", 10*fpmath.RateUnit) {
		t.Error("10x collapse should trip")
	}
}

func TestCheckAndTrip_ZeroRateAlwaysTrips(t *testing.T) {
	cb := breaker.New(breaker.DefaultDeviationFactor)

	if !cb.CheckAndTrip("rBTC", 0) {
		t.Error("zero rate should trip")
	}
	if !cb.CheckAndTrip("rBTC", -5) {
		t.Error("negative rate should trip")
	}
}

func TestCheckAndTrip_AcceptanceMovesBaseline(t *testing.T) {
	cb := breaker.New(breaker.DefaultDeviationFactor)
	cb.ResetLastValue("rETH", 100*fpmath.RateUnit)

	if cb.CheckAndTrip("rETH", 250*fpmath.RateUnit) {
		t.Fatal("2.5x should not trip")
	}
	// Baseline now 250; another 2.5x from there stays in bounds
	if cb.CheckAndTrip("rETH", 625*fpmath.RateUnit) {
		t.Error("sequential moves within factor should not trip")
	}
}

func TestResetLastValue_Rebaseline(t *testing.T) {
	cb := breaker.New(breaker.DefaultDeviationFactor)
	cb.ResetLastValue("rBTC", 100*fpmath.RateUnit)

	if !cb.CheckAndTrip("rBTC", 1000*fpmath.RateUnit) {
		t.Fatal("should trip before re-baseline")
	}

	cb.ResetLastValue("rBTC", 1000*fpmath.RateUnit)

	if cb.CheckAndTrip("rBTC", 1000*fpmath.RateUnit) {
		t.Error("should not trip after admin re-baseline")
	}
}

func TestSnapshotRestore(t *testing.T) {
	cb := breaker.New(breaker.DefaultDeviationFactor)
	cb.ResetLastValue("rBTC", 123)
	cb.ResetLastValue("rETH", 456)

	snap := cb.Snapshot()

	restored := breaker.New(breaker.DefaultDeviationFactor)
	restored.Restore(snap)

	if restored.LastGoodRate("rBTC") != 123 || restored.LastGoodRate("rETH") != 456 {
		t.Error("restore did not reproduce baselines")
	}
}
