package server

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"SynthPool/internal/engine"
	"SynthPool/internal/fees"
	"SynthPool/internal/ledger"
	fpmath "SynthPool/internal/math"
)

// Amounts and rates cross the HTTP boundary as decimal strings and are
// converted to fixed point here. Nothing past this file handles decimals.

type issueRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type issueResponse struct {
	SharesMinted string `json:"shares_minted"`
	DebtRatio    string `json:"debt_ratio"`
}

type burnRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type burnToTargetRequest struct {
	Account string `json:"account"`
}

type burnResponse struct {
	AmountBurned string `json:"amount_burned"`
	SharesBurned string `json:"shares_burned"`
	DebtRatio    string `json:"debt_ratio"`
}

type exchangeRequest struct {
	Account       string `json:"account"`
	SrcAsset      string `json:"src_asset"`
	Amount        string `json:"amount"`
	DestAsset     string `json:"dest_asset"`
	MinDestAmount string `json:"min_dest_amount,omitempty"` // atomic only
}

type exchangeResponse struct {
	Skipped            bool   `json:"skipped"`
	TrippedAsset       string `json:"tripped_asset,omitempty"`
	DestAmountReceived string `json:"dest_amount_received"`
	Fee                string `json:"fee"`
	FeeRate            string `json:"fee_rate"`
}

type settleRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset,omitempty"` // empty settles every asset
}

type settleResponse struct {
	EntriesDrained int    `json:"entries_drained"`
	ReclaimAmount  string `json:"reclaim_amount"`
	RebateAmount   string `json:"rebate_amount"`
}

type debtResponse struct {
	DebtBalance string `json:"debt_balance"`
	MaxIssuable string `json:"max_issuable"`
}

type collateralisationResponse struct {
	Ratio string `json:"ratio"`
}

type balanceResponse struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

type queueEntryResponse struct {
	SrcAsset          string `json:"src_asset"`
	SrcAmount         string `json:"src_amount"`
	DestAsset         string `json:"dest_asset"`
	DestAmountAtTrade string `json:"dest_amount_at_trade"`
	FeeRateAtTrade    string `json:"fee_rate_at_trade"`
	TimestampUs       int64  `json:"timestamp_us"`
}

type feeRateResponse struct {
	SrcAsset  string `json:"src_asset"`
	DestAsset string `json:"dest_asset"`
	FeeRate   string `json:"fee_rate"`
}

type feeConfigRequest struct {
	BaseFeeRate           string  `json:"base_fee_rate"`
	AtomicFeeRateOverride *string `json:"atomic_fee_rate_override,omitempty"`
	DynamicFeeRounds      int     `json:"dynamic_fee_rounds"`
	DynamicFeeThreshold   string  `json:"dynamic_fee_threshold"`
	DynamicFeeMaxRate     string  `json:"dynamic_fee_max_rate"`
	DynamicFeeWeightDecay string  `json:"dynamic_fee_weight_decay"`
}

type breakerResetRequest struct {
	Value string `json:"value"`
}

type settingsRequest struct {
	MinimumStakeTimeSec     int64  `json:"minimum_stake_time_sec"`
	IssuanceRatio           string `json:"issuance_ratio"`
	WaitingPeriodSec        int64  `json:"waiting_period_sec"`
	MaxQueueEntries         int    `json:"max_queue_entries"`
	RateStalePeriodSec      int64  `json:"rate_stale_period_sec"`
	AtomicMaxVolumePerBlock string `json:"atomic_max_volume_per_block"`
	BlockIntervalMs         int64  `json:"block_interval_ms"`
	PriceDeviationFactor    string `json:"price_deviation_factor"`
}

type migrateDebtRequest struct {
	Account     string `json:"account"`
	DeltaShares string `json:"delta_shares"` // signed
}

type migrateDebtResponse struct {
	Account     string `json:"account"`
	DeltaShares string `json:"delta_shares"`
}

type collateralRequest struct {
	Category string `json:"category,omitempty"`
	Value    string `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- fixed-point conversion ---

func parseFixed(s string, scale int32, allowNegative bool) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q", s)
	}
	if !allowNegative && d.Sign() <= 0 {
		return 0, fmt.Errorf("value %q must be positive", s)
	}
	scaled := d.Shift(scale)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("value %q exceeds %d decimal places", s, scale)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("value %q out of range", s)
	}
	return scaled.IntPart(), nil
}

func parseAmount(s string) (int64, error) {
	return parseFixed(s, int32(fpmath.AmountConfig.DecimalPrecision), false)
}

func parseRate(s string) (int64, error) {
	return parseFixed(s, int32(fpmath.RateConfig.DecimalPrecision), false)
}

func parseSignedAmount(s string) (int64, error) {
	return parseFixed(s, int32(fpmath.AmountConfig.DecimalPrecision), true)
}

func formatAmount(v int64) string {
	return decimal.New(v, -int32(fpmath.AmountConfig.DecimalPrecision)).String()
}

func formatRate(v int64) string {
	return decimal.New(v, -int32(fpmath.RateConfig.DecimalPrecision)).String()
}

func parseCurrency(s string) (ledger.CurrencyKey, error) {
	if s == "" {
		return "", fmt.Errorf("missing currency key")
	}
	return ledger.CurrencyKey(s), nil
}

func feeConfigFromRequest(currency ledger.CurrencyKey, req feeConfigRequest) (*fees.Config, error) {
	base, err := parseFixed(req.BaseFeeRate, int32(fpmath.RateConfig.DecimalPrecision), true)
	if err != nil {
		return nil, fmt.Errorf("base_fee_rate: %w", err)
	}
	threshold, err := parseFixed(req.DynamicFeeThreshold, int32(fpmath.RateConfig.DecimalPrecision), true)
	if err != nil {
		return nil, fmt.Errorf("dynamic_fee_threshold: %w", err)
	}
	maxRate, err := parseRate(req.DynamicFeeMaxRate)
	if err != nil {
		return nil, fmt.Errorf("dynamic_fee_max_rate: %w", err)
	}
	decay, err := parseRate(req.DynamicFeeWeightDecay)
	if err != nil {
		return nil, fmt.Errorf("dynamic_fee_weight_decay: %w", err)
	}

	cfg := &fees.Config{
		Currency:              currency,
		BaseFeeRate:           base,
		DynamicFeeRounds:      req.DynamicFeeRounds,
		DynamicFeeThreshold:   threshold,
		DynamicFeeMaxRate:     maxRate,
		DynamicFeeWeightDecay: decay,
	}
	if req.AtomicFeeRateOverride != nil {
		override, err := parseFixed(*req.AtomicFeeRateOverride, int32(fpmath.RateConfig.DecimalPrecision), true)
		if err != nil {
			return nil, fmt.Errorf("atomic_fee_rate_override: %w", err)
		}
		cfg.AtomicFeeRateOverride = &override
	}
	return cfg, nil
}

func settingsFromRequest(req settingsRequest) (engine.Settings, error) {
	ratio, err := parseRate(req.IssuanceRatio)
	if err != nil {
		return engine.Settings{}, fmt.Errorf("issuance_ratio: %w", err)
	}
	volume, err := parseAmount(req.AtomicMaxVolumePerBlock)
	if err != nil {
		return engine.Settings{}, fmt.Errorf("atomic_max_volume_per_block: %w", err)
	}
	deviation, err := parseRate(req.PriceDeviationFactor)
	if err != nil {
		return engine.Settings{}, fmt.Errorf("price_deviation_factor: %w", err)
	}

	return engine.Settings{
		MinimumStakeTime:        time.Duration(req.MinimumStakeTimeSec) * time.Second,
		IssuanceRatio:           ratio,
		WaitingPeriod:           time.Duration(req.WaitingPeriodSec) * time.Second,
		MaxQueueEntries:         req.MaxQueueEntries,
		RateStalePeriod:         time.Duration(req.RateStalePeriodSec) * time.Second,
		AtomicMaxVolumePerBlock: volume,
		BlockInterval:           time.Duration(req.BlockIntervalMs) * time.Millisecond,
		PriceDeviationFactor:    deviation,
	}, nil
}
