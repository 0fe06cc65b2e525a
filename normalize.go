package valuation

import "github.com/shopspring/decimal"

// Canonical rounding for the whole module. Three modes are in play and they
// are not interchangeable: currency amounts and prices round half-to-even,
// percentages round half-up. Mixing them up produces reports that are off by
// a cent against the reference numbers.

const (
	// moneyDecimals is the precision of reporting-currency amounts.
	moneyDecimals int32 = 2
	// priceDecimals is the precision of per-share prices.
	priceDecimals int32 = 4
	// percentDecimals is the precision of percentage fields.
	percentDecimals int32 = 2
)

// MinorToMajor converts an integer minor-unit amount (cents) into a
// major-unit decimal, rounded half-to-even at the given precision.
func MinorToMajor(minor int64, decimals int32) decimal.Decimal {
	return decimal.New(minor, -moneyDecimals).RoundBank(decimals)
}

// MajorToMinor converts a major-unit decimal into integer minor units,
// rounding half-to-even at cent precision.
func MajorToMinor(v decimal.Decimal) int64 {
	return v.RoundBank(moneyDecimals).Shift(moneyDecimals).IntPart()
}

// RoundPrice rounds a per-share price half-to-even at the given precision.
func RoundPrice(v decimal.Decimal, decimals int32) decimal.Decimal {
	return v.RoundBank(decimals)
}

// DecodeScaledPrice converts a 10^8 fixed-point raw price into a decimal
// rounded to price precision.
func DecodeScaledPrice(raw int64, decimals int32) decimal.Decimal {
	return decimal.New(raw, -shareScale).RoundBank(decimals)
}

// RoundPercentage rounds a percentage half-up (ties away from zero) at the
// given precision. Percentages deliberately do not use banker's rounding.
func RoundPercentage(v decimal.Decimal, decimals int32) decimal.Decimal {
	return v.Round(decimals)
}

// ToScaledInt converts a decimal into its exact 10^8 fixed-point integer
// representation, rounding half-to-even at the eighth decimal.
func ToScaledInt(v decimal.Decimal) int64 {
	return v.RoundBank(shareScale).Shift(shareScale).IntPart()
}

// FromScaledInt converts a 10^8 fixed-point integer back into a decimal.
// FromScaledInt(ToScaledInt(x)) == x for every x representable at eight
// decimals.
func FromScaledInt(raw int64) decimal.Decimal {
	return decimal.New(raw, -shareScale)
}
