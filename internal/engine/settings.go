package engine

import (
	"fmt"
	"time"

	fpmath "SynthPool/internal/math"
)

// Settings is the administrator-mutable configuration surface. A copy is
// held by the engine; updates go through UpdateSettings under the engine
// lock.
type Settings struct {
	// MinimumStakeTime gates burn-after-issue.
	MinimumStakeTime time.Duration

	// IssuanceRatio converts collateral value to issuable debt (rate scale).
	IssuanceRatio int64

	// WaitingPeriod before an exchange entry can settle.
	WaitingPeriod time.Duration

	// MaxQueueEntries bounds each (account, destAsset) settlement queue.
	MaxQueueEntries int

	// RateStalePeriod after which oracle data is rejected.
	RateStalePeriod time.Duration

	// AtomicMaxVolumePerBlock caps USD-equivalent atomic volume per block
	// (amount scale).
	AtomicMaxVolumePerBlock int64

	// BlockInterval is the bucket width for the atomic volume counter.
	BlockInterval time.Duration

	// PriceDeviationFactor for the circuit breaker (rate scale).
	PriceDeviationFactor int64
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		MinimumStakeTime:        5 * time.Minute,
		IssuanceRatio:           200_000_000, // 0.2
		WaitingPeriod:           360 * time.Second,
		MaxQueueEntries:         12,
		RateStalePeriod:         time.Hour,
		AtomicMaxVolumePerBlock: 200_000 * 1_000_000, // 200k USD-equivalent
		BlockInterval:           time.Second,
		PriceDeviationFactor:    3 * fpmath.RateUnit,
	}
}

// Validate checks settings are within sane ranges.
func (s *Settings) Validate() error {
	if s.MinimumStakeTime < 0 {
		return fmt.Errorf("minimum_stake_time must be >= 0, got %s", s.MinimumStakeTime)
	}
	if s.IssuanceRatio <= 0 || s.IssuanceRatio > fpmath.RateUnit {
		return fmt.Errorf("issuance_ratio must be in (0, 1], got %d", s.IssuanceRatio)
	}
	if s.WaitingPeriod <= 0 {
		return fmt.Errorf("waiting_period must be > 0, got %s", s.WaitingPeriod)
	}
	if s.MaxQueueEntries <= 0 {
		return fmt.Errorf("max_queue_entries must be > 0, got %d", s.MaxQueueEntries)
	}
	if s.RateStalePeriod <= 0 {
		return fmt.Errorf("rate_stale_period must be > 0, got %s", s.RateStalePeriod)
	}
	if s.AtomicMaxVolumePerBlock <= 0 {
		return fmt.Errorf("atomic_max_volume_per_block must be > 0, got %d", s.AtomicMaxVolumePerBlock)
	}
	if s.BlockInterval <= 0 {
		return fmt.Errorf("block_interval must be > 0, got %s", s.BlockInterval)
	}
	if s.PriceDeviationFactor <= fpmath.RateUnit {
		return fmt.Errorf("price_deviation_factor must be > 1.0, got %d", s.PriceDeviationFactor)
	}
	return nil
}
