package valuation

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PortfolioMetricsComputer aggregates position values per portfolio.
type PortfolioMetricsComputer struct {
	base     string
	resolver *RateResolver
	engine   *CostBasisEngine
	log      *zap.Logger
}

// NewPortfolioMetricsComputer creates a computer reporting in base currency.
func NewPortfolioMetricsComputer(log *zap.Logger, base string, resolver *RateResolver, engine *CostBasisEngine) *PortfolioMetricsComputer {
	return &PortfolioMetricsComputer{base: NormalizeCurrency(base), resolver: resolver, engine: engine, log: log}
}

// Compute produces one record per portfolio. Positions whose inputs do not
// resolve lower the coverage ratio and the missing-value count instead of
// raising an error.
func (c *PortfolioMetricsComputer) Compute(ledger Ledger, runUUID uuid.UUID, asOf Date, warns *warnOnce) []PortfolioMetricRecord {
	holdingsByPortfolio := make(map[string][]Holding)
	for _, h := range ledger.Holdings() {
		holdingsByPortfolio[h.PortfolioID] = append(holdingsByPortfolio[h.PortfolioID], h)
	}

	portfolios := ledger.Portfolios()
	records := make([]PortfolioMetricRecord, 0, len(portfolios))
	for _, pf := range portfolios {
		records = append(records, c.compute(ledger, pf, holdingsByPortfolio[pf.ID], runUUID, asOf, warns))
	}
	return records
}

func (c *PortfolioMetricsComputer) compute(ledger Ledger, pf Portfolio, positions []Holding, runUUID uuid.UUID, asOf Date, warns *warnOnce) PortfolioMetricRecord {
	rec := PortfolioMetricRecord{
		RunUUID:     runUUID,
		PortfolioID: pf.ID,
		Name:        pf.Name,
	}

	var currentTotal, purchaseTotal decimal.Decimal
	resolvedInputs, totalInputs := 0, 0
	for _, pos := range positions {
		// Three inputs per position: current value, purchase value, holdings.
		totalInputs += 3

		// The holdings input resolves whenever the ledger reports the
		// position at all: zero shares is a value, not a gap.
		resolvedInputs++
		if pos.Shares > 0 {
			rec.PositionCount++
		}

		if current, ok := c.positionCurrentValue(ledger, pos, asOf); ok {
			currentTotal = currentTotal.Add(current)
			resolvedInputs++
		} else {
			rec.MissingValuePositions++
		}

		if purchase, ok := c.positionPurchaseValue(ledger, pos, asOf, warns); ok {
			purchaseTotal = purchaseTotal.Add(purchase)
			resolvedInputs++
		}
	}

	// current_value defaults to 0 for an empty portfolio.
	rec.CurrentValue = MajorToMinor(currentTotal)
	rec.PurchaseValue = MajorToMinor(purchaseTotal)
	rec.GainAbs = rec.CurrentValue - rec.PurchaseValue
	rec.GainPct = PercentOf(currentTotal.Sub(purchaseTotal), purchaseTotal)
	if totalInputs > 0 {
		rec.CoverageRatio = float64(resolvedInputs) / float64(totalInputs)
	} else {
		rec.CoverageRatio = 1.0
	}
	return rec
}

// positionCurrentValue resolves the reporting-currency current value of one
// position from the ledger's holdings aggregation.
func (c *PortfolioMetricsComputer) positionCurrentValue(ledger Ledger, pos Holding, asOf Date) (decimal.Decimal, bool) {
	if pos.CurrentValue == nil {
		return decimal.Decimal{}, false
	}
	sec := securityByID(ledger, pos.SecurityID)
	if sec == nil {
		return decimal.Decimal{}, false
	}
	return c.toReporting(*pos.CurrentValue, sec.Currency, asOf)
}

// positionPurchaseValue resolves the reporting-currency purchase value of
// one position, preferring the FIFO replay over the ledger's aggregate.
func (c *PortfolioMetricsComputer) positionPurchaseValue(ledger Ledger, pos Holding, asOf Date, warns *warnOnce) (decimal.Decimal, bool) {
	txs := ledger.Transactions(pos.PortfolioID, pos.SecurityID)
	if len(txs) > 0 {
		basis := c.engine.Replay(txs, warns)
		if !basis.PurchaseValue.IsZero() || basis.RemainingShares.IsZero() {
			return basis.PurchaseValue, true
		}
	}
	if pos.PurchaseValue == nil {
		return decimal.Decimal{}, false
	}
	sec := securityByID(ledger, pos.SecurityID)
	if sec == nil {
		return decimal.Decimal{}, false
	}
	return c.toReporting(*pos.PurchaseValue, sec.Currency, asOf)
}

// toReporting converts native minor units into a reporting-currency major
// decimal using the same-day rate.
func (c *PortfolioMetricsComputer) toReporting(minor int64, currency string, asOf Date) (decimal.Decimal, bool) {
	currency = NormalizeCurrency(currency)
	if currency == c.base {
		return MinorToMajor(minor, moneyDecimals), true
	}
	rate, ok := c.resolver.LoadRate(asOf, currency)
	if !ok || rate.Rate.IsZero() {
		return decimal.Decimal{}, false
	}
	return MinorToMajor(minor, moneyDecimals).Div(rate.Rate), true
}
