package valuation

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Money represents a monetary value in a single currency.
// The value is held as a major-unit decimal; conversion to and from
// integer minor units is explicit so that amounts cross component
// boundaries exactly.
type Money struct {
	value decimal.Decimal // major unit value
	cur   string
}

// M builds a Money from a major-unit value.
func M[T float32 | float64 | int | int32 | int64 | decimal.Decimal](value T, currency string) Money {
	return Money{value: newDecimal(value), cur: NormalizeCurrency(currency)}
}

// MoneyFromMinorUnits builds a Money from an integer amount of minor units
// (cents for two-fraction currencies).
func MoneyFromMinorUnits(minor int64, currency string) Money {
	currency = NormalizeCurrency(currency)
	return Money{value: decimal.New(minor, -currencyFraction(currency)), cur: currency}
}

// NormalizeCurrency returns the canonical form of a currency code:
// trimmed and uppercase.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCurrency reports whether code is a known ISO currency.
func ValidateCurrency(code string) error {
	if money.GetCurrency(NormalizeCurrency(code)) == nil {
		return fmt.Errorf("unknown currency code %q", code)
	}
	return nil
}

// currencyFraction returns the number of minor-unit digits of a currency,
// defaulting to 2 for unknown codes.
func currencyFraction(code string) int32 {
	cur := money.GetCurrency(code)
	if cur == nil {
		return 2
	}
	return int32(cur.Fraction)
}

func (m Money) Currency() string             { return m.cur }
func (m Money) Decimal() decimal.Decimal     { return m.value }
func (m Money) Equal(n Money) bool           { return m.value.Equal(n.value) && m.cur == n.cur }
func (m Money) IsZero() bool                 { return m.value.IsZero() }
func (m Money) IsPositive() bool             { return m.value.IsPositive() }
func (m Money) IsNegative() bool             { return m.value.IsNegative() }
func (m Money) LessThan(n Money) bool        { return m.value.LessThan(n.value) }
func (m Money) GreaterThan(n Money) bool     { return m.value.GreaterThan(n.value) }
func (m Money) Neg() Money                   { return Money{value: m.value.Neg(), cur: m.cur} }
func (m Money) Mul(q Quantity) Money         { return Money{value: m.value.Mul(q.value), cur: m.cur} }
func (m Money) Div(q Quantity) Money         { return Money{value: m.value.Div(q.value), cur: m.cur} }
func (m Money) DivPrice(n Money) decimal.Decimal { return m.value.Div(n.value) }

// binary operators.
func (m Money) Add(n Money) Money { return Money{value: m.value.Add(n.value), cur: cur(m, n)} }
func (m Money) Sub(n Money) Money { return Money{value: m.value.Sub(n.value), cur: cur(m, n)} }

// makes the "" currency totally weak.
func cur(a, b Money) string {
	if a.cur == "" {
		return b.cur
	}
	if b.cur == "" {
		return a.cur
	}
	if a.cur != b.cur {
		panic("currency mismatch " + a.cur + "!=" + b.cur)
	}
	return a.cur
}

// MinorUnits returns the amount as integer minor units, rounding the
// major-unit value half-to-even at the currency's fraction.
func (m Money) MinorUnits() int64 {
	fraction := currencyFraction(m.cur)
	return m.value.RoundBank(fraction).Shift(fraction).IntPart()
}

// Rounded returns the value rounded half-to-even at the currency fraction.
func (m Money) Rounded() decimal.Decimal {
	return m.value.RoundBank(currencyFraction(m.cur))
}

// ConvertAt converts m into target currency using rate, where rate is
// expressed as units of m's currency per one unit of the target currency.
func (m Money) ConvertAt(rate decimal.Decimal, target string) Money {
	return Money{value: m.value.Div(rate), cur: NormalizeCurrency(target)}
}

// String returns the rounded amount with its currency code, e.g. "12.34 EUR".
func (m Money) String() string {
	return m.Rounded().StringFixed(currencyFraction(m.cur)) + " " + m.cur
}

// newDecimal is a convenient factory for decimal.Decimal.
func newDecimal[T float32 | float64 | int | int32 | int64 | decimal.Decimal](value T) decimal.Decimal {
	switch v := any(value).(type) {
	case decimal.Decimal:
		return v
	case float32:
		return decimal.NewFromFloat32(v)
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int32:
		return decimal.NewFromInt32(v)
	case int64:
		return decimal.NewFromInt(v)
	default:
		panic("unsupported type")
	}
}
