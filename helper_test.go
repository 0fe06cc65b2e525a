package valuation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestStore returns an ephemeral in-memory store.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(zaptest.NewLogger(t), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedRate caches one exchange rate versus EUR for the given date.
func seedRate(t *testing.T, store *SQLiteStore, day Date, currency string, rate float64) {
	t.Helper()
	err := store.SaveRates([]RateRecord{{
		Date:       day,
		Currency:   currency,
		Rate:       decimal.NewFromFloat(rate),
		FetchedAt:  time.Date(2025, time.March, 14, 18, 0, 0, 0, time.UTC),
		Source:     "test",
		Provenance: currency,
	}})
	require.NoError(t, err)
}

// stubProvider serves a fixed currency→rate map for every date and counts
// its calls. A nil rates map simulates a provider outage.
type stubProvider struct {
	mu    sync.Mutex
	rates map[string]decimal.Decimal
	calls int
	err   error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stubProvider) Fetch(_ context.Context, _ Date, _ string, symbols []string) (map[string]decimal.Decimal, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]decimal.Decimal)
	for _, sym := range symbols {
		if rate, ok := p.rates[sym]; ok {
			out[sym] = rate
		}
	}
	return out, nil
}

// newTestResolver wires a resolver over the given store and provider with
// fast retries.
func newTestResolver(t *testing.T, store *SQLiteStore, provider RateProvider) *RateResolver {
	t.Helper()
	return NewRateResolver(zaptest.NewLogger(t), "EUR", provider, store, FXConfig{
		Attempts:     2,
		InitialDelay: time.Millisecond,
		Timeout:      time.Second,
	})
}

// shares converts a share count into the ledger's 10^8-scaled integer form.
func shares(n float64) int64 { return int64(n * 1e8) }

// cents is a convenience for optional minor-unit fields.
func cents(v int64) *int64 { return &v }

// testLedger builds the standard fixture: one portfolio holding a USD
// security and a EUR security, plus one account per currency.
//
//	P1/AAPL: bought 10 sh for 1100.00 USD on buyDate, last 150/148 USD
//	P1/SAP:  bought  5 sh for  500.00 EUR on buyDate, last 110/108 EUR
func testLedger(asOf Date) *Snapshot {
	buyDate := asOf.Add(-30)
	return &Snapshot{
		AccountRows: []Account{
			{ID: "acc-eur", Name: "Cash EUR", Currency: "EUR", Balance: 250_00},
			{ID: "acc-usd", Name: "Cash USD", Currency: "USD", Balance: 100_00},
		},
		PortfolioRows: []Portfolio{{ID: "p1", Name: "Main"}},
		SecurityRows: []Security{
			{ID: "aapl", Name: "Apple Inc.", Currency: "USD"},
			{ID: "sap", Name: "SAP SE", Currency: "EUR"},
		},
		HoldingRows: []Holding{
			{
				PortfolioID: "p1", SecurityID: "aapl",
				Shares:    shares(10),
				LastPrice: shares(150), LastClose: shares(148),
				LastPriceDate: asOf,
				CurrentValue:  cents(1500_00), // native USD
			},
			{
				PortfolioID: "p1", SecurityID: "sap",
				Shares:    shares(5),
				LastPrice: shares(110), LastClose: shares(108),
				LastPriceDate: asOf,
				CurrentValue:  cents(550_00), // native EUR
			},
		},
		Txs: []Transaction{
			{
				ID: "t1", Type: TxBuy, Portfolio: "p1", Security: "aapl",
				Amount: 1100_00, Currency: "USD", Shares: shares(10), Date: buyDate,
			},
			{
				ID: "t2", Type: TxBuy, Portfolio: "p1", Security: "sap",
				Amount: 500_00, Currency: "EUR", Shares: shares(5), Date: buyDate,
			},
		},
	}
}
