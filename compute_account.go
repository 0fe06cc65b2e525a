package valuation

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AccountMetricsComputer values cash accounts in the reporting currency.
type AccountMetricsComputer struct {
	base     string
	resolver *RateResolver
	log      *zap.Logger
}

// NewAccountMetricsComputer creates a computer reporting in base currency.
func NewAccountMetricsComputer(log *zap.Logger, base string, resolver *RateResolver) *AccountMetricsComputer {
	return &AccountMetricsComputer{base: NormalizeCurrency(base), resolver: resolver, log: log}
}

// Compute produces one record per ledger account. A missing same-day rate
// degrades the record (nil reporting balance, coverage 0.0); it never
// produces an error.
func (c *AccountMetricsComputer) Compute(ledger Ledger, runUUID uuid.UUID, asOf Date) []AccountMetricRecord {
	accounts := ledger.Accounts()
	records := make([]AccountMetricRecord, 0, len(accounts))
	for _, acc := range accounts {
		records = append(records, c.compute(acc, runUUID, asOf))
	}
	return records
}

func (c *AccountMetricsComputer) compute(acc Account, runUUID uuid.UUID, asOf Date) AccountMetricRecord {
	currency := NormalizeCurrency(acc.Currency)
	rec := AccountMetricRecord{
		RunUUID:   runUUID,
		AccountID: acc.ID,
		Name:      acc.Name,
		Currency:  currency,
		Balance:   acc.Balance,
	}

	if currency == c.base {
		balance := acc.Balance
		rec.BalanceEUR = &balance
		rec.CoverageRatio = 1.0
		return rec
	}

	rate, ok := c.resolver.LoadRate(asOf, currency)
	if !ok || rate.Rate.IsZero() {
		// Coverage gap, not an error: the reader sees the native balance
		// and a zero coverage ratio.
		c.log.Debug("account balance not convertible",
			zap.String("account", acc.ID),
			zap.String("currency", currency),
			zap.String("date", asOf.String()))
		rec.CoverageRatio = 0.0
		return rec
	}

	converted := MoneyFromMinorUnits(acc.Balance, currency).ConvertAt(rate.Rate, c.base).MinorUnits()
	rec.BalanceEUR = &converted
	rec.CoverageRatio = 1.0
	rec.RateSource = rate.Source
	fetchedAt := rate.FetchedAt
	rec.RateFetchedAt = &fetchedAt
	rec.RateProvenance = rate.Provenance
	return rec
}
