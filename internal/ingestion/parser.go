package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"SynthPool/internal/ledger"
	fpmath "SynthPool/internal/math"
	"SynthPool/internal/oracle"
)

// --- JSON wire formats ---
// Feed payloads carry rates as decimal strings; they are converted to
// rate-scale fixed point here, at the edge, so nothing past the parser
// touches floating point or arbitrary precision.

type priceUpdateJSON struct {
	Currency    string `json:"currency"`
	Rate        string `json:"rate"` // decimal string, USD per unit
	RoundID     int64  `json:"round_id"`
	TimestampUs int64  `json:"timestamp_us"`
}

type debtRatioJSON struct {
	Ratio       string `json:"ratio"` // decimal string
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceUpdate converts a feed payload into a currency key and round.
func ParsePriceUpdate(data []byte) (ledger.CurrencyKey, oracle.Round, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return "", oracle.Round{}, fmt.Errorf("parse price update: %w", err)
	}
	if j.Currency == "" {
		return "", oracle.Round{}, fmt.Errorf("price update missing currency")
	}
	if j.RoundID <= 0 {
		return "", oracle.Round{}, fmt.Errorf("price update has invalid round_id %d", j.RoundID)
	}
	if j.TimestampUs <= 0 {
		return "", oracle.Round{}, fmt.Errorf("price update has invalid timestamp_us %d", j.TimestampUs)
	}

	rate, err := parseRate(j.Rate)
	if err != nil {
		return "", oracle.Round{}, fmt.Errorf("price update for %s: %w", j.Currency, err)
	}

	return ledger.CurrencyKey(j.Currency), oracle.Round{
		Rate:      rate,
		RoundID:   j.RoundID,
		Timestamp: j.TimestampUs,
	}, nil
}

// ParseDebtRatio converts a debt-ratio payload into rate-scale fixed
// point plus its observation timestamp.
func ParseDebtRatio(data []byte) (ratio int64, timestampUs int64, err error) {
	var j debtRatioJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return 0, 0, fmt.Errorf("parse debt ratio: %w", err)
	}
	if j.TimestampUs <= 0 {
		return 0, 0, fmt.Errorf("debt ratio has invalid timestamp_us %d", j.TimestampUs)
	}
	ratio, err = parseRate(j.Ratio)
	if err != nil {
		return 0, 0, err
	}
	return ratio, j.TimestampUs, nil
}

func parseRate(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("rate must be positive, got %q", s)
	}
	scaled := d.Shift(9)
	if !scaled.IsInteger() {
		// Sub-nano precision is truncated, not rounded: the feed is the
		// source of truth and must not be nudged upward.
		scaled = scaled.Truncate(0)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("rate %q overflows fixed point", s)
	}
	v := scaled.IntPart()
	if v <= 0 {
		return 0, fmt.Errorf("rate %q rounds to zero at scale %d", s, fpmath.RateConfig.DecimalPrecision)
	}
	return v, nil
}
