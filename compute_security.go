package valuation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// legacyScaleThreshold flags per-share prices that were stored with an
// extra 10^8 factor by older ledger exports. No real per-share price is
// expected above ten million units.
var legacyScaleThreshold = decimal.NewFromInt(10_000_000)

// SecurityMetricsComputer values each (portfolio, security) position,
// including day-over-day price change in native and reporting currency.
type SecurityMetricsComputer struct {
	base     string
	resolver *RateResolver
	engine   *CostBasisEngine
	log      *zap.Logger
}

// NewSecurityMetricsComputer creates a computer reporting in base currency.
func NewSecurityMetricsComputer(log *zap.Logger, base string, resolver *RateResolver, engine *CostBasisEngine) *SecurityMetricsComputer {
	return &SecurityMetricsComputer{base: NormalizeCurrency(base), resolver: resolver, engine: engine, log: log}
}

// Compute produces one record per held (portfolio, security) position.
// A failure on a single record skips that record and continues; it never
// aborts the whole scope.
func (c *SecurityMetricsComputer) Compute(ledger Ledger, runUUID uuid.UUID, asOf Date, warns *warnOnce) []SecurityMetricRecord {
	var records []SecurityMetricRecord
	for _, pos := range ledger.Holdings() {
		if pos.Shares <= 0 {
			continue
		}
		rec, err := c.compute(ledger, pos, runUUID, asOf, warns)
		if err != nil {
			c.log.Warn("skipping security metric record",
				zap.String("portfolio", pos.PortfolioID),
				zap.String("security", pos.SecurityID),
				zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (c *SecurityMetricsComputer) compute(ledger Ledger, pos Holding, runUUID uuid.UUID, asOf Date, warns *warnOnce) (SecurityMetricRecord, error) {
	sec := securityByID(ledger, pos.SecurityID)
	if sec == nil {
		return SecurityMetricRecord{}, fmt.Errorf("security %q not declared in ledger", pos.SecurityID)
	}
	currency := NormalizeCurrency(sec.Currency)
	rec := SecurityMetricRecord{
		RunUUID:     runUUID,
		PortfolioID: pos.PortfolioID,
		SecurityID:  pos.SecurityID,
		Name:        sec.Name,
		Currency:    currency,
		Shares:      QuantityFromScaled(pos.Shares),
	}

	basis := c.engine.Replay(ledger.Transactions(pos.PortfolioID, pos.SecurityID), warns)
	rec.AvgPriceNative = basis.AvgPriceNative
	if !basis.PurchaseValue.IsZero() {
		purchase := MajorToMinor(basis.PurchaseValue)
		rec.PurchaseValue = &purchase
	}

	priceDate := pos.LastPriceDate
	if priceDate.IsZero() {
		priceDate = asOf
	}
	closeDate := priceDate.Add(-1)

	if pos.LastPrice > 0 {
		price := maybeRescaleLegacy(DecodeScaledPrice(pos.LastPrice, priceDecimals))
		rec.LastPriceNative = &price
		if eur, ok := c.priceToReporting(price, currency, priceDate); ok {
			rec.LastPriceEUR = &eur
		}
	}
	if pos.LastClose > 0 {
		closePrice := maybeRescaleLegacy(DecodeScaledPrice(pos.LastClose, priceDecimals))
		rec.LastCloseNative = &closePrice
		if eur, ok := c.priceToReporting(closePrice, currency, closeDate); ok {
			rec.LastCloseEUR = &eur
		}
	}

	if rec.LastPriceNative != nil && rec.LastCloseNative != nil {
		change := RoundPrice(rec.LastPriceNative.Sub(*rec.LastCloseNative), priceDecimals)
		rec.DayChangeNative = &change
	}
	// The reporting-currency change is the difference of the two already
	// converted prices, not a conversion of the native delta: each price
	// carries its own day's rate.
	if rec.LastPriceEUR != nil && rec.LastCloseEUR != nil {
		change := RoundPrice(rec.LastPriceEUR.Sub(*rec.LastCloseEUR), priceDecimals)
		rec.DayChangeEUR = &change
	}

	if rec.LastPriceNative != nil && rec.LastPriceEUR != nil && !rec.LastPriceEUR.IsZero() {
		fx := rec.LastPriceNative.Div(*rec.LastPriceEUR)
		rec.FXRate = &fx
	}

	if current, ok := c.currentValue(rec, pos, currency, priceDate); ok {
		rec.CurrentValue = &current
	}

	// Coverage counts the four derived inputs of the record.
	resolved := 0
	if rec.CurrentValue != nil {
		resolved++
	}
	if rec.PurchaseValue != nil {
		resolved++
	}
	if rec.LastPriceEUR != nil {
		resolved++
	}
	if rec.LastCloseEUR != nil {
		resolved++
	}
	rec.CoverageRatio = float64(resolved) / 4.0
	return rec, nil
}

// currentValue resolves the reporting-currency current value in cents,
// preferring the ledger's aggregate and falling back to shares times the
// last price.
func (c *SecurityMetricsComputer) currentValue(rec SecurityMetricRecord, pos Holding, currency string, priceDate Date) (int64, bool) {
	if pos.CurrentValue != nil {
		if currency == c.base {
			return *pos.CurrentValue, true
		}
		rate, ok := c.resolver.LoadRate(priceDate, currency)
		if !ok || rate.Rate.IsZero() {
			return 0, false
		}
		return MoneyFromMinorUnits(*pos.CurrentValue, currency).ConvertAt(rate.Rate, c.base).MinorUnits(), true
	}
	if rec.LastPriceEUR == nil {
		return 0, false
	}
	value := rec.Shares.Decimal().Mul(*rec.LastPriceEUR)
	return MajorToMinor(value), true
}

// priceToReporting converts a native per-share price into the reporting
// currency at the given date's rate, rounded to price precision.
func (c *SecurityMetricsComputer) priceToReporting(price decimal.Decimal, currency string, day Date) (decimal.Decimal, bool) {
	if currency == c.base {
		return RoundPrice(price, priceDecimals), true
	}
	rate, ok := c.resolver.LoadRate(day, currency)
	if !ok || rate.Rate.IsZero() {
		return decimal.Decimal{}, false
	}
	return RoundPrice(price.Div(rate.Rate), priceDecimals), true
}

// maybeRescaleLegacy detects values magnitude-inflated by an extra 10^8
// factor in old exports and scales them back down. Threshold-based: a
// genuinely absurd price could in theory be misclassified, which is why the
// threshold sits far above any quoted per-share price.
func maybeRescaleLegacy(price decimal.Decimal) decimal.Decimal {
	if price.GreaterThan(legacyScaleThreshold) {
		return RoundPrice(price.Shift(-shareScale), priceDecimals)
	}
	return price
}
