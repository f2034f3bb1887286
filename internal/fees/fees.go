// Package fees implements the volatility-aware exchange fee model.
//
// The dynamic component is derived from recent oracle rounds: each
// round-over-round fractional move is decay-weighted and summed, and only
// the excess over a configured threshold is charged. When even the
// uncapped excess exceeds the configured maximum the asset is considered
// too volatile to quote at all — a loud failure, unlike the circuit
// breaker's silent skip.
package fees

import (
	"errors"
	"fmt"

	"SynthPool/internal/ledger"
	fpmath "SynthPool/internal/math"
	"SynthPool/internal/oracle"
)

// ErrTooVolatile is returned when the uncapped dynamic fee for either leg
// exceeds the configured maximum. Callers must not proceed with the trade.
var ErrTooVolatile = errors.New("fees: rates too volatile to quote an exchange")

// Config holds the per-asset fee parameters.
type Config struct {
	Currency              ledger.CurrencyKey
	BaseFeeRate           int64  // rate scale
	AtomicFeeRateOverride *int64 // replaces base+dynamic for the dest leg when set
	DynamicFeeRounds      int    // observations to walk
	DynamicFeeThreshold   int64  // rate scale; deviation below this is free
	DynamicFeeMaxRate     int64  // rate scale cap on the dynamic component
	DynamicFeeWeightDecay int64  // rate scale, < 1.0
}

// DefaultConfigs mirror conservative production settings.
var DefaultConfigs = map[ledger.CurrencyKey]*Config{
	"rUSD": {
		Currency:              "rUSD",
		BaseFeeRate:           0,
		DynamicFeeRounds:      6,
		DynamicFeeThreshold:   4_000_000, // 0.4%
		DynamicFeeMaxRate:     50_000_000,
		DynamicFeeWeightDecay: 900_000_000, // 0.9
	},
	"rBTC": {
		Currency:              "rBTC",
		BaseFeeRate:           3_000_000, // 0.3%
		DynamicFeeRounds:      6,
		DynamicFeeThreshold:   4_000_000,
		DynamicFeeMaxRate:     50_000_000, // 5%
		DynamicFeeWeightDecay: 900_000_000,
	},
	"rETH": {
		Currency:              "rETH",
		BaseFeeRate:           3_000_000,
		DynamicFeeRounds:      6,
		DynamicFeeThreshold:   4_000_000,
		DynamicFeeMaxRate:     50_000_000,
		DynamicFeeWeightDecay: 900_000_000,
	},
	"rEUR": {
		Currency:              "rEUR",
		BaseFeeRate:           1_000_000, // 0.1%
		DynamicFeeRounds:      6,
		DynamicFeeThreshold:   4_000_000,
		DynamicFeeMaxRate:     50_000_000,
		DynamicFeeWeightDecay: 900_000_000,
	},
}

// ValidateConfig checks fee parameters are within valid ranges.
func ValidateConfig(cfg *Config) error {
	if cfg.BaseFeeRate < 0 {
		return fmt.Errorf("base_fee_rate must be >= 0, got %d", cfg.BaseFeeRate)
	}
	if cfg.AtomicFeeRateOverride != nil && *cfg.AtomicFeeRateOverride < 0 {
		return fmt.Errorf("atomic_fee_rate_override must be >= 0, got %d", *cfg.AtomicFeeRateOverride)
	}
	if cfg.DynamicFeeRounds < 0 {
		return fmt.Errorf("dynamic_fee_rounds must be >= 0, got %d", cfg.DynamicFeeRounds)
	}
	if cfg.DynamicFeeThreshold < 0 {
		return fmt.Errorf("dynamic_fee_threshold must be >= 0, got %d", cfg.DynamicFeeThreshold)
	}
	if cfg.DynamicFeeMaxRate <= 0 {
		return fmt.Errorf("dynamic_fee_max_rate must be > 0, got %d", cfg.DynamicFeeMaxRate)
	}
	if cfg.DynamicFeeWeightDecay <= 0 || cfg.DynamicFeeWeightDecay >= fpmath.RateUnit {
		return fmt.Errorf("dynamic_fee_weight_decay must be in (0, 1), got %d", cfg.DynamicFeeWeightDecay)
	}
	return nil
}

// Model computes exchange fee rates.
// Not thread-safe — only accessed from the serialized engine.
type Model struct {
	configs map[ledger.CurrencyKey]*Config
	rates   oracle.RateProvider
}

func NewModel(rates oracle.RateProvider) *Model {
	configs := make(map[ledger.CurrencyKey]*Config, len(DefaultConfigs))
	for k, v := range DefaultConfigs {
		cp := *v
		configs[k] = &cp
	}
	return &Model{
		configs: configs,
		rates:   rates,
	}
}

// GetConfig returns the fee config for an asset, or a zero-fee config for
// unknown assets.
func (m *Model) GetConfig(key ledger.CurrencyKey) *Config {
	if cfg, ok := m.configs[key]; ok {
		return cfg
	}
	return &Config{Currency: key}
}

// UpdateConfig replaces an asset's fee config after validation.
func (m *Model) UpdateConfig(cfg *Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid fee config for %s: %w", cfg.Currency, err)
	}
	m.configs[cfg.Currency] = cfg
	return nil
}

// DynamicFeeRate computes the volatility surcharge for one asset.
// tooVolatile is true when the uncapped excess exceeds the configured max;
// the returned rate is still capped in that case.
func (m *Model) DynamicFeeRate(key ledger.CurrencyKey) (rate int64, tooVolatile bool) {
	cfg := m.GetConfig(key)
	if cfg.DynamicFeeRounds < 2 {
		return 0, false
	}

	rounds := m.rates.RoundsForPeriod(key, cfg.DynamicFeeRounds)
	if len(rounds) < 2 {
		return 0, false
	}

	// Decay-weighted sum of round-over-round fractional moves,
	// most recent move weighted heaviest.
	weight := fpmath.RateUnit
	var deviation int64
	for i := 0; i+1 < len(rounds); i++ {
		move := fpmath.FractionalDeviation(rounds[i].Rate, rounds[i+1].Rate)
		deviation += fpmath.MulRate(move, weight)
		weight = fpmath.MulRate(weight, cfg.DynamicFeeWeightDecay)
	}

	if deviation <= cfg.DynamicFeeThreshold {
		return 0, false
	}

	excess := deviation - cfg.DynamicFeeThreshold
	if excess > cfg.DynamicFeeMaxRate {
		return cfg.DynamicFeeMaxRate, true
	}
	return excess, false
}

// FeeRateForExchange returns the total fee rate for trading src into dest.
// Each leg contributes base + dynamic independently; trading volatile for
// volatile deliberately double-counts. An atomic override on the
// destination asset fully replaces that leg's base+dynamic computation.
// Fails with ErrTooVolatile when either leg's uncapped dynamic fee
// overflows its max.
func (m *Model) FeeRateForExchange(src, dest ledger.CurrencyKey) (int64, error) {
	srcLeg, err := m.legRate(src, false)
	if err != nil {
		return 0, err
	}
	destLeg, err := m.legRate(dest, true)
	if err != nil {
		return 0, err
	}
	return srcLeg + destLeg, nil
}

func (m *Model) legRate(key ledger.CurrencyKey, isDest bool) (int64, error) {
	cfg := m.GetConfig(key)

	if isDest && cfg.AtomicFeeRateOverride != nil {
		return *cfg.AtomicFeeRateOverride, nil
	}

	dyn, tooVolatile := m.DynamicFeeRate(key)
	if tooVolatile {
		return 0, fmt.Errorf("%w: %s", ErrTooVolatile, key)
	}
	return cfg.BaseFeeRate + dyn, nil
}

// Snapshot returns copies of all fee configs, for the admin query surface.
func (m *Model) Snapshot() map[ledger.CurrencyKey]Config {
	out := make(map[ledger.CurrencyKey]Config, len(m.configs))
	for k, v := range m.configs {
		out[k] = *v
	}
	return out
}
