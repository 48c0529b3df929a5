/*
This file contains common utility functions for fixed-precision decimal
handling, particularly for parsing on-chain integer amounts and keeping
scores inside their defined bounds.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrEmptyInput       = errors.New("input is empty")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// ParseDec parses a decimal string into a LegacyDec with proper error context.
func ParseDec(s string) (sdkmath.LegacyDec, error) {
	if s == "" {
		return sdkmath.LegacyDec{}, ErrEmptyInput
	}
	dec, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %q: %w", ErrConversionFailed, s, err)
	}
	return dec, nil
}

// ClampDec bounds value to [min, max].
func ClampDec(value, min, max sdkmath.LegacyDec) sdkmath.LegacyDec {
	if value.LT(min) {
		return min
	}
	if value.GT(max) {
		return max
	}
	return value
}

// ClampUnit bounds value to the unit interval [0, 1], the range every risk and
// liquidity score must lie in.
func ClampUnit(value sdkmath.LegacyDec) sdkmath.LegacyDec {
	return ClampDec(value, sdkmath.LegacyZeroDec(), sdkmath.LegacyOneDec())
}

// RawUnitsToDec converts an integer on-chain amount (e.g. wei) to a decimal
// using the token's precision. An 18-precision input of "1500000000000000000"
// yields 1.5.
func RawUnitsToDec(raw string, precision int) (sdkmath.LegacyDec, error) {
	if precision < 0 || precision > 18 {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	amount, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %q is not an integer amount", ErrConversionFailed, raw)
	}
	if amount.IsNegative() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: amount is negative", ErrConversionFailed)
	}

	dec := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}
	return dec.Quo(factor), nil
}

// DecToFloat64 converts a LegacyDec to float64 for logging and JSON summaries.
// Scoring itself never round-trips through floats.
func DecToFloat64(dec sdkmath.LegacyDec) (float64, error) {
	if dec.IsNil() {
		return 0, fmt.Errorf("%w: decimal is nil", ErrConversionFailed)
	}
	f, err := dec.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, f)
	}
	return f, nil
}

// PercentChange reports the percentage change from old to new. A zero old
// value yields zero rather than a division fault.
func PercentChange(oldVal, newVal sdkmath.LegacyDec) sdkmath.LegacyDec {
	if oldVal.IsZero() {
		return sdkmath.LegacyZeroDec()
	}
	return newVal.Sub(oldVal).Quo(oldVal).MulInt64(100)
}
