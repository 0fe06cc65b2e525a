package valuation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleBatch builds a batch with every nullable field exercised.
func sampleBatch(runUUID uuid.UUID) MetricBatch {
	fetchedAt := time.Date(2025, time.March, 14, 18, 0, 0, 0, time.UTC)
	price := dec("136.3636")
	change := dec("4.2207")
	return MetricBatch{
		Accounts: []AccountMetricRecord{
			{
				RunUUID: runUUID, AccountID: "a1", Name: "Cash EUR", Currency: "EUR",
				Balance: 25000, BalanceEUR: cents(25000), CoverageRatio: 1.0,
			},
			{
				RunUUID: runUUID, AccountID: "a2", Name: "Cash USD", Currency: "USD",
				Balance: 10000, BalanceEUR: cents(9091), CoverageRatio: 1.0,
				RateSource: "stub", RateFetchedAt: &fetchedAt, RateProvenance: "USD",
			},
			{
				RunUUID: runUUID, AccountID: "a3", Name: "Cash CHF", Currency: "CHF",
				Balance: 5000, CoverageRatio: 0.0, // BalanceEUR unresolved
			},
		},
		Portfolios: []PortfolioMetricRecord{{
			RunUUID: runUUID, PortfolioID: "p1", Name: "Main",
			CurrentValue: 191364, PurchaseValue: 150000, GainAbs: 41364,
			GainPct: Percent(27.58), PositionCount: 2, CoverageRatio: 1.0,
		}},
		Securities: []SecurityMetricRecord{{
			RunUUID: runUUID, PortfolioID: "p1", SecurityID: "aapl",
			Name: "Apple Inc.", Currency: "USD", Shares: Q(10),
			CurrentValue: cents(136364), PurchaseValue: cents(100000),
			LastPriceEUR: &price, DayChangeEUR: &change,
			CoverageRatio: 0.5,
		}},
	}
}

func TestStore_CreateRun(t *testing.T) {
	store := newTestStore(t)
	run, err := store.CreateRun(RunRunning, "manual", "as_of=2025-03-14")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, run.RunUUID)
	assert.Equal(t, RunRunning, run.Status)
	assert.Equal(t, "manual", run.Trigger)
	assert.Nil(t, run.FinishedAt)
	assert.False(t, run.StartedAt.IsZero())
}

func TestStore_BatchRoundTrip(t *testing.T) {
	store := newTestStore(t)
	run, err := store.CreateRun(RunRunning, "manual", "")
	require.NoError(t, err)

	batch := sampleBatch(run.RunUUID)
	run.ProcessedPortfolios = 1
	run.ProcessedAccounts = 3
	run.ProcessedSecurities = 1
	run.TotalEntities = 5
	run.DurationMS = 42
	_, err = store.StoreBatch(run, batch)
	require.NoError(t, err)

	run.Status = RunCompleted
	now := time.Now().UTC()
	run.FinishedAt = &now
	require.NoError(t, store.FinishRun(run))

	loadedRun, loaded, err := store.LoadLatestCompletedBatch()
	require.NoError(t, err)
	require.NotNil(t, loadedRun)
	assert.Equal(t, run.RunUUID, loadedRun.RunUUID)
	assert.Equal(t, RunCompleted, loadedRun.Status)
	assert.Equal(t, 5, loadedRun.TotalEntities)
	assert.Equal(t, int64(42), loadedRun.DurationMS)
	require.NotNil(t, loadedRun.FinishedAt)

	require.Len(t, loaded.Accounts, 3)
	require.Len(t, loaded.Portfolios, 1)
	require.Len(t, loaded.Securities, 1)

	usd := loaded.Accounts[1]
	assert.Equal(t, "a2", usd.AccountID)
	require.NotNil(t, usd.BalanceEUR)
	assert.Equal(t, int64(9091), *usd.BalanceEUR)
	assert.Equal(t, "stub", usd.RateSource)
	require.NotNil(t, usd.RateFetchedAt)

	chf := loaded.Accounts[2]
	assert.Nil(t, chf.BalanceEUR)
	assert.Equal(t, 0.0, chf.CoverageRatio)

	sec := loaded.Securities[0]
	assert.True(t, Q(10).Equal(sec.Shares))
	require.NotNil(t, sec.LastPriceEUR)
	assert.True(t, dec("136.3636").Equal(*sec.LastPriceEUR))
	require.NotNil(t, sec.DayChangeEUR)
	assert.True(t, dec("4.2207").Equal(*sec.DayChangeEUR))
	assert.Nil(t, sec.LastPriceNative)
	assert.Nil(t, sec.FXRate)

	pf := loaded.Portfolios[0]
	assert.True(t, Percent(27.58).Equal(pf.GainPct))
	assert.Equal(t, int64(41364), pf.GainAbs)
}

func TestStore_BatchIsAtomic(t *testing.T) {
	store := newTestStore(t)
	run, err := store.CreateRun(RunRunning, "manual", "")
	require.NoError(t, err)

	batch := sampleBatch(run.RunUUID)
	// A duplicate primary key fails mid-transaction.
	batch.Securities = append(batch.Securities, batch.Securities[0])
	_, err = store.StoreBatch(run, batch)
	require.Error(t, err)

	// The failure rolled back every write of that run: zero rows in all
	// three metric tables.
	loaded, err := store.LoadBatch(run.RunUUID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Accounts)
	assert.Empty(t, loaded.Portfolios)
	assert.Empty(t, loaded.Securities)
}

func TestStore_LoadBatchUnknownRun(t *testing.T) {
	store := newTestStore(t)
	loaded, err := store.LoadBatch(uuid.New())
	require.NoError(t, err, "unknown run is not an error")
	assert.Zero(t, loaded.Size())
}

func TestStore_NoCompletedRunYet(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateRun(RunRunning, "manual", "")
	require.NoError(t, err)

	run, batch, err := store.LoadLatestCompletedBatch()
	require.NoError(t, err, "no data yet is not an error")
	assert.Nil(t, run)
	assert.Zero(t, batch.Size())
}

func TestStore_RatesAreAppendOnly(t *testing.T) {
	store := newTestStore(t)
	day := NewDate(2025, time.March, 14)
	seedRate(t, store, day, "USD", 1.1)

	// A second write for the same key is ignored, never an overwrite.
	err := store.SaveRates([]RateRecord{{
		Date: day, Currency: "USD", Rate: decimal.NewFromFloat(9.9),
		FetchedAt: time.Now().UTC(), Source: "other",
	}})
	require.NoError(t, err)

	rec, err := store.LoadRate(day, "USD")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, dec("1.1").Equal(rec.Rate))
	assert.Equal(t, "test", rec.Source)
}
