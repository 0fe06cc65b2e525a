package valuation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Percent is a percentage value, e.g. 5.25 for +5.25%.
type Percent float64

// PercentOf returns part/whole expressed as a Percent, rounded half-up at
// two decimals. It returns 0 when whole is zero.
func PercentOf(part, whole decimal.Decimal) Percent {
	if whole.IsZero() {
		return 0
	}
	ratio := part.Div(whole).Mul(decimal.NewFromInt(100))
	return Percent(RoundPercentage(ratio, percentDecimals).InexactFloat64())
}

func (p Percent) Equal(q Percent) bool {
	// it has to be compared with some precision
	const precision = 0.0001
	diff := p - q
	if diff < 0 {
		diff = -diff
	}
	return diff < precision
}

func (p Percent) String() string {
	return fmt.Sprintf("%.2f%%", float64(p))
}

func (p Percent) SignedString() string {
	res := fmt.Sprintf("%+.2f%%", float64(p))
	if res == "+0.00%" {
		return "-"
	}
	return res
}
