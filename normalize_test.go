package valuation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestMinorToMajor(t *testing.T) {
	assert.True(t, dec("1234.56").Equal(MinorToMajor(123456, moneyDecimals)))
	assert.True(t, dec("-0.01").Equal(MinorToMajor(-1, moneyDecimals)))
	assert.True(t, decimal.Zero.Equal(MinorToMajor(0, moneyDecimals)))
}

func TestMajorToMinor_HalfToEven(t *testing.T) {
	testCases := []struct {
		value string
		want  int64
	}{
		{"1234.56", 123456},
		// Ties go to the even cent, not always up.
		{"1.235", 124},
		{"1.225", 122},
		{"1.245", 124},
		{"-1.235", -124},
		{"0.005", 0},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, MajorToMinor(dec(tc.value)), "MajorToMinor(%s)", tc.value)
	}
}

func TestRoundPrice_HalfToEven(t *testing.T) {
	assert.True(t, dec("1.0000").Equal(RoundPrice(dec("1.00005"), priceDecimals)))
	assert.True(t, dec("1.0002").Equal(RoundPrice(dec("1.00015"), priceDecimals)))
	assert.True(t, dec("123.4568").Equal(RoundPrice(dec("123.456789"), priceDecimals)))
}

func TestRoundPercentage_HalfUp(t *testing.T) {
	// The distinguishing boundary: banker's rounding would give 1.22.
	assert.True(t, dec("1.23").Equal(RoundPercentage(dec("1.225"), percentDecimals)))
	assert.True(t, dec("1.24").Equal(RoundPercentage(dec("1.235"), percentDecimals)))
	assert.True(t, dec("-1.23").Equal(RoundPercentage(dec("-1.225"), percentDecimals)))
}

func TestDecodeScaledPrice(t *testing.T) {
	assert.True(t, dec("123.4568").Equal(DecodeScaledPrice(12345678900, priceDecimals)))
	assert.True(t, dec("150").Equal(DecodeScaledPrice(15000000000, priceDecimals)))
}

func TestScaledIntRoundTrip(t *testing.T) {
	// Round-trip stable for every value representable at eight decimals.
	for _, s := range []string{"0", "1", "-1", "1.23456789", "99999999.99999999", "-0.00000001"} {
		v := dec(s)
		require.True(t, v.Equal(FromScaledInt(ToScaledInt(v))), "round trip of %s", s)
	}
}

func TestToScaledInt_HalfToEven(t *testing.T) {
	assert.Equal(t, int64(0), ToScaledInt(dec("0.000000005")))
	assert.Equal(t, int64(2), ToScaledInt(dec("0.000000015")))
	assert.Equal(t, int64(123456789), ToScaledInt(dec("1.23456789")))
}

func TestPercentOf(t *testing.T) {
	assert.True(t, Percent(25).Equal(PercentOf(dec("50"), dec("200"))))
	assert.True(t, Percent(0).Equal(PercentOf(dec("50"), decimal.Zero)), "no divide by zero")
	assert.True(t, Percent(-10).Equal(PercentOf(dec("-20"), dec("200"))))
}
