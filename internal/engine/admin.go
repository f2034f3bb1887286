package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"SynthPool/internal/event"
	"SynthPool/internal/fees"
	"SynthPool/internal/ledger"
)

// Administrative surface. These mutate configuration under the same lock
// as operations, so a trade never observes a half-applied change.

// UpdateFeeConfig replaces one asset's fee parameters.
func (e *Engine) UpdateFeeConfig(cfg *fees.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.assets.Get(cfg.Currency); !ok {
		return e.reject("update_fee_config", fmt.Errorf("%w: %s", ErrUnknownAsset, cfg.Currency))
	}
	if err := e.feeModel.UpdateConfig(cfg); err != nil {
		return e.reject("update_fee_config", err)
	}

	e.emit(&event.FeeConfigUpdated{
		OperationID: uuid.New(),
		Currency:    cfg.Currency,
		Timestamp:   e.now(),
	}, nil)
	e.log.Info().Str("currency", string(cfg.Currency)).Msg("fee config updated")
	return nil
}

// FeeConfig returns the active fee parameters for one asset.
func (e *Engine) FeeConfig(currency ledger.CurrencyKey) *fees.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeModel.GetConfig(currency)
}

// ResetBreaker re-baselines the circuit breaker after a legitimate large
// move that the deviation check would otherwise keep rejecting.
func (e *Engine) ResetBreaker(currency ledger.CurrencyKey, value int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.assets.Get(currency); !ok {
		return e.reject("reset_breaker", fmt.Errorf("%w: %s", ErrUnknownAsset, currency))
	}
	if value <= 0 {
		return e.reject("reset_breaker", fmt.Errorf("%w: baseline must be positive, got %d", ErrInvalidRate, value))
	}
	e.breaker.ResetLastValue(currency, value)

	e.emit(&event.BreakerReset{
		OperationID: uuid.New(),
		Currency:    currency,
		NewBaseline: value,
		Timestamp:   e.now(),
	}, nil)
	e.log.Info().
		Str("currency", string(currency)).
		Int64("baseline", value).
		Msg("circuit breaker re-baselined")
	return nil
}

// LastGoodRate returns the breaker baseline for one asset.
func (e *Engine) LastGoodRate(currency ledger.CurrencyKey) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breaker.LastGoodRate(currency)
}

// UpdateSettings validates and swaps the settings, propagating to the
// components that cache derived values.
func (e *Engine) UpdateSettings(s Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.Validate(); err != nil {
		return e.reject("update_settings", err)
	}
	e.settings = s
	e.queue.SetMaxEntries(s.MaxQueueEntries)
	e.breaker.SetDeviationFactor(s.PriceDeviationFactor)
	if sp, ok := e.rates.(interface{ SetStalePeriod(time.Duration) }); ok {
		sp.SetStalePeriod(s.RateStalePeriod)
	}

	e.emit(&event.SettingsUpdated{
		OperationID: uuid.New(),
		Timestamp:   e.now(),
	}, nil)
	e.log.Info().Msg("engine settings updated")
	return nil
}

// MigrateDebtShares adjusts an account's debt shares directly, bypassing
// issue/burn logic. The caller must be an allow-listed migrator.
func (e *Engine) MigrateDebtShares(migrator, account ledger.Address, deltaShares int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.pool.ModifyDebtSharesForMigration(migrator, account, deltaShares); err != nil {
		return e.reject("migrate_debt", err)
	}

	e.emit(&event.DebtMigrated{
		OperationID: uuid.New(),
		Migrator:    migrator,
		Account:     account,
		DeltaShares: deltaShares,
		Timestamp:   e.now(),
	}, nil)
	e.log.Info().
		Str("migrator", string(migrator)).
		Str("account", string(account)).
		Int64("delta_shares", deltaShares).
		Msg("debt shares migrated")

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues("migrate_debt").Inc()
		e.metrics.TotalDebtShares.Set(float64(e.pool.TotalShares()))
	}
	return nil
}
