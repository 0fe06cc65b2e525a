package valuation

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// lot represents a single purchase of a security, used for FIFO cost basis
// calculations. Lots are created and consumed entirely within one replay
// and never persisted.
type lot struct {
	Date           Date
	Shares         Quantity
	NativePrice    decimal.Decimal // per share, in Currency
	ConvertedPrice decimal.Decimal // per share, in the reporting currency
	Currency       string
	nativeOK       bool // NativePrice is resolvable
	convertedOK    bool // ConvertedPrice is resolvable
}

type lots []lot

// sell reduces the available lots by a quantity to sell, consuming the
// oldest lot first. A sale spanning more shares than remain stops at zero
// inventory; negative inventory is never produced.
func (l lots) sell(quantityToSell Quantity) lots {
	var remaining lots
	for _, currentLot := range l {
		if quantityToSell.IsZero() || quantityToSell.IsNegative() {
			remaining = append(remaining, currentLot)
			continue
		}
		if currentLot.Shares.GreaterThan(quantityToSell) {
			// Partial sale from this lot.
			currentLot.Shares = currentLot.Shares.Sub(quantityToSell)
			remaining = append(remaining, currentLot)
			quantityToSell = Q(decimal.Zero)
		} else {
			// Full sale of this lot.
			quantityToSell = quantityToSell.Sub(currentLot.Shares)
		}
	}
	return remaining
}

// CostBasis is the outcome of a FIFO replay for one (portfolio, security)
// pair: what remains held and what it cost.
type CostBasis struct {
	Currency        string   // native currency of the position
	RemainingShares Quantity // never negative
	// PurchaseValueNative is the total native purchase value of the
	// remaining lots whose native price resolved.
	PurchaseValueNative decimal.Decimal
	// PurchaseValue is the reporting-currency purchase value of the
	// remaining lots whose conversion resolved.
	PurchaseValue decimal.Decimal
	// AvgPriceNative is the weighted average native purchase price. It is
	// nil unless every remaining lot resolved a native price.
	AvgPriceNative *decimal.Decimal
}

// CostBasisEngine replays a transaction stream into FIFO lots, converting
// purchase prices into the reporting currency as it goes.
type CostBasisEngine struct {
	base     string
	resolver *RateResolver
	log      *zap.Logger
}

// NewCostBasisEngine creates an engine reporting in base currency.
func NewCostBasisEngine(log *zap.Logger, base string, resolver *RateResolver) *CostBasisEngine {
	return &CostBasisEngine{base: NormalizeCurrency(base), resolver: resolver, log: log}
}

// Replay runs a strict FIFO replay over the transactions of one
// (portfolio, security) pair, which must be ordered by date ascending.
// Missing exchange rates are warned once per (currency, date) through warns
// and degrade the affected lot's contribution instead of failing.
func (e *CostBasisEngine) Replay(txs []Transaction, warns *warnOnce) CostBasis {
	var open lots
	for _, tx := range txs {
		switch {
		case tx.Type.IsPurchase():
			open = append(open, e.newLot(tx, warns))
		case tx.Type.IsSale():
			open = open.sell(QuantityFromScaled(tx.Shares))
		}
	}

	basis := CostBasis{}
	allNative := true
	var weightedNative decimal.Decimal
	for _, currentLot := range open {
		if basis.Currency == "" {
			basis.Currency = currentLot.Currency
		}
		basis.RemainingShares = basis.RemainingShares.Add(currentLot.Shares)
		if currentLot.nativeOK {
			weightedNative = weightedNative.Add(currentLot.NativePrice.Mul(currentLot.Shares.Decimal()))
		} else {
			allNative = false
		}
		if currentLot.convertedOK {
			basis.PurchaseValue = basis.PurchaseValue.Add(currentLot.ConvertedPrice.Mul(currentLot.Shares.Decimal()))
		}
	}
	basis.PurchaseValueNative = weightedNative

	// The average is only meaningful when every remaining lot priced.
	if allNative && len(open) > 0 && basis.RemainingShares.IsPositive() {
		avg := RoundPrice(weightedNative.Div(basis.RemainingShares.Decimal()), priceDecimals)
		basis.AvgPriceNative = &avg
	}
	return basis
}

// newLot builds a lot from a purchase transaction, resolving the native
// per-share price and its reporting-currency conversion.
func (e *CostBasisEngine) newLot(tx Transaction, warns *warnOnce) lot {
	shares := QuantityFromScaled(tx.Shares)
	created := lot{Date: tx.Date, Shares: shares, Currency: NormalizeCurrency(tx.Currency)}

	// The foreign-currency unit breakdown, when present, carries the true
	// native amount of the purchase.
	amount := tx.Amount
	if tx.FX != nil && tx.FX.Amount != 0 {
		amount = tx.FX.Amount
		created.Currency = NormalizeCurrency(tx.FX.Currency)
	}
	if shares.IsPositive() && amount != 0 {
		// Decode minor units at the currency's own fraction, so that
		// zero-fraction currencies price the same here as on the account path.
		created.NativePrice = MoneyFromMinorUnits(amount, created.Currency).Decimal().Div(shares.Decimal())
		created.nativeOK = true
	}

	if !created.nativeOK {
		return created
	}
	if created.Currency == e.base {
		created.ConvertedPrice = created.NativePrice
		created.convertedOK = true
		return created
	}

	rec, ok := e.resolver.LoadRate(tx.Date, created.Currency)
	if !ok || rec.Rate.IsZero() {
		if warns.first(created.Currency, tx.Date) {
			e.log.Warn("no exchange rate for purchase lot",
				zap.String("currency", created.Currency),
				zap.String("date", tx.Date.String()))
		}
		return created
	}
	created.ConvertedPrice = created.NativePrice.Div(rec.Rate)
	created.convertedOK = true
	return created
}

// warnOnce deduplicates data-quality warnings per distinguishing key for
// the duration of one metric run. It replaces the original's process-wide
// warning set with run-scoped state.
type warnOnce struct {
	seen map[string]bool
}

func newWarnOnce() *warnOnce { return &warnOnce{seen: make(map[string]bool)} }

// first reports whether this (currency, date) combination is seen for the
// first time.
func (w *warnOnce) first(currency string, day Date) bool {
	key := currency + "/" + day.String()
	if w.seen[key] {
		return false
	}
	w.seen[key] = true
	return true
}
