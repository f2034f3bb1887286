package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	AmountConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}     // synth amounts, debt shares
	RateConfig   = DecimalConfig{DecimalPrecision: 9, Scale: 1_000_000_000} // oracle rates, ratios, fee rates
)

// RateUnit is the fixed-point representation of 1.0 in rate scale.
const RateUnit = int64(1_000_000_000)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	// Apply rounding
	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			// remainder > half: round up
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			// remainder == half and even denominator: round to even
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// MulDiv computes a * b / denom through int128 with banker's rounding.
func MulDiv(a, b, denom int64) int64 {
	num := MultiplyInt128(a, b)
	result := DivideInt128(num, denom, RoundHalfEven)
	putInt128(num)
	return result
}

// MulRate multiplies an amount by a rate-scaled factor: amount * rate / RateUnit.
func MulRate(amount, rate int64) int64 {
	return MulDiv(amount, rate, RateUnit)
}

// DivRate divides an amount by a rate-scaled factor: amount * RateUnit / rate.
func DivRate(amount, rate int64) int64 {
	return MulDiv(amount, RateUnit, rate)
}

// ConvertAmount converts an amount priced at srcRate into the equivalent
// amount priced at destRate: amount * srcRate / destRate.
func ConvertAmount(amount, srcRate, destRate int64) int64 {
	return MulDiv(amount, srcRate, destRate)
}

// FractionalDeviation returns |a - b| / b in rate scale.
// Returns 0 when b == 0 — zero rates are rejected upstream as invalid.
func FractionalDeviation(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return MulDiv(diff, RateUnit, b)
}

// AbsInt64 returns |v|.
func AbsInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// MinInt64 returns the smaller of a and b.
func MinInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
