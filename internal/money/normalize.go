// Package money normalizes heterogeneous persisted amount representations
// into canonical values and handles cent-precision rounding.
package money

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Normalize parses an amount stored as a number or a free-form string into a
// float64. It is total: malformed or missing input yields 0, never an error.
func Normalize(raw any) float64 {
	switch v := raw.(type) {
	case nil:
		return 0
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	case float32:
		return Normalize(float64(v))
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		return NormalizeString(v.String())
	case string:
		return NormalizeString(v)
	case *string:
		if v == nil {
			return 0
		}
		return NormalizeString(*v)
	}
	return 0
}

// NormalizeString parses a monetary string that may carry currency symbols,
// thousands separators and either comma or dot as the decimal mark.
func NormalizeString(raw string) float64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}

	// Drivers stringify float8 columns in %g form, so large values arrive
	// as exponent notation. That must parse as-is, not as localized digits.
	if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
		if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return 0
		}
		return parsed
	}

	var b strings.Builder
	for _, r := range trimmed {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	if lastComma >= 0 && lastComma > lastDot {
		// Comma is the decimal mark, dots are thousands separators.
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0
	}
	return parsed
}

// RoundCents rounds to 2 decimal places, half away from zero.
func RoundCents(value float64) float64 {
	rounded, _ := decimal.NewFromFloat(value).Round(2).Float64()
	return rounded
}

// SumAbs accumulates the absolute values of amounts at cent precision.
func SumAbs(amounts []float64) decimal.Decimal {
	sum := decimal.Zero
	for _, amount := range amounts {
		sum = sum.Add(decimal.NewFromFloat(amount).Abs())
	}
	return sum.Round(2)
}

// EqualCents reports whether two sums agree once rounded to cents.
func EqualCents(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}
