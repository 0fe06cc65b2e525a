package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestOrchestrator(t *testing.T, store *SQLiteStore, metricStore MetricStore, progress ProgressFunc) *Orchestrator {
	t.Helper()
	provider := &stubProvider{rates: map[string]decimal.Decimal{"USD": dec("1.1")}}
	resolver := newTestResolver(t, store, provider)
	return NewOrchestrator(zaptest.NewLogger(t), "EUR", metricStore, resolver, progress)
}

func TestOrchestrator_CompletedRun(t *testing.T) {
	store := newTestStore(t)
	orchestrator := newTestOrchestrator(t, store, store, nil)
	asOf := NewDate(2025, time.March, 14)

	run, batch, err := orchestrator.Run(context.Background(), testLedger(asOf), "manual", asOf)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 1, run.ProcessedPortfolios)
	assert.Equal(t, 2, run.ProcessedAccounts)
	assert.Equal(t, 2, run.ProcessedSecurities)
	assert.Equal(t, 5, run.TotalEntities)
	assert.Empty(t, run.ErrorMessage)
	require.NotNil(t, run.FinishedAt)

	assert.Len(t, batch.Portfolios, 1)
	assert.Len(t, batch.Accounts, 2)
	assert.Len(t, batch.Securities, 2)

	// The completed run is what readers now see.
	latest, loaded, err := store.LoadLatestCompletedBatch()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.RunUUID, latest.RunUUID)
	assert.Equal(t, batch.Size(), loaded.Size())
}

func TestOrchestrator_CheckpointOrder(t *testing.T) {
	store := newTestStore(t)
	var stages []string
	var counts []int
	progress := func(stage string, detail map[string]any) {
		stages = append(stages, stage)
		if c, ok := detail["count"].(int); ok {
			counts = append(counts, c)
		}
	}
	orchestrator := newTestOrchestrator(t, store, store, progress)
	asOf := NewDate(2025, time.March, 14)

	_, _, err := orchestrator.Run(context.Background(), testLedger(asOf), "scheduled", asOf)
	require.NoError(t, err)

	assert.Equal(t, []string{
		StageStart,
		StagePortfoliosComputed,
		StageAccountsComputed,
		StageSecuritiesComputed,
		StagePersistenceStarted,
		StagePersistenceCompleted,
		StageCompleted,
	}, stages)
	assert.Equal(t, []int{1, 2, 2}, counts)
}

// failingStore fails every batch persistence while delegating run
// bookkeeping to the real store.
type failingStore struct {
	*SQLiteStore
}

func (f *failingStore) StoreBatch(MetricRun, MetricBatch) (MetricRun, error) {
	return MetricRun{}, errors.New("disk full")
}

func TestOrchestrator_ScenarioC_FailedRunKeepsPriorSnapshot(t *testing.T) {
	store := newTestStore(t)
	asOf := NewDate(2025, time.March, 14)

	// First run completes and becomes the authoritative snapshot.
	good := newTestOrchestrator(t, store, store, nil)
	goodRun, _, err := good.Run(context.Background(), testLedger(asOf), "manual", asOf)
	require.NoError(t, err)

	// Second run fails before persisting anything.
	var stages []string
	progress := func(stage string, _ map[string]any) { stages = append(stages, stage) }
	bad := newTestOrchestrator(t, store, &failingStore{store}, progress)
	badRun, _, err := bad.Run(context.Background(), testLedger(asOf), "manual", asOf.Add(1))

	// The failure is never swallowed: it propagates to the caller and the
	// run carries it.
	require.Error(t, err)
	assert.Equal(t, RunFailed, badRun.Status)
	assert.Contains(t, badRun.ErrorMessage, "disk full")
	require.NotNil(t, badRun.FinishedAt)
	assert.Equal(t, StageFailed, stages[len(stages)-1])

	// Readers keep seeing the last good snapshot.
	latest, batch, err := store.LoadLatestCompletedBatch()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, goodRun.RunUUID, latest.RunUUID)
	assert.Equal(t, 5, batch.Size())

	// And the failed run persisted zero metric rows.
	failedBatch, err := store.LoadBatch(badRun.RunUUID)
	require.NoError(t, err)
	assert.Zero(t, failedBatch.Size())
}

// recordingProvider remembers every date it is asked to fetch.
type recordingProvider struct {
	stubProvider
	dates []Date
}

func (p *recordingProvider) Fetch(ctx context.Context, day Date, base string, symbols []string) (map[string]decimal.Decimal, error) {
	p.dates = append(p.dates, day)
	return p.stubProvider.Fetch(ctx, day, base, symbols)
}

func TestEnsureCoverage_SkipsQuotelessHoldings(t *testing.T) {
	store := newTestStore(t)
	provider := &recordingProvider{stubProvider: stubProvider{rates: map[string]decimal.Decimal{"USD": dec("1.1")}}}
	resolver := newTestResolver(t, store, provider)
	orchestrator := NewOrchestrator(zaptest.NewLogger(t), "EUR", store, resolver, nil)

	asOf := NewDate(2025, time.March, 14)
	ledger := testLedger(asOf)
	// A USD position the ledger has never priced: no price date exists,
	// so no rate beyond the asOf pair must be fetched for it.
	ledger.HoldingRows = append(ledger.HoldingRows, Holding{
		PortfolioID: "p1", SecurityID: "aapl", Shares: shares(1),
	})

	orchestrator.ensureCoverage(context.Background(), ledger, asOf)

	require.NotEmpty(t, provider.dates)
	floor := asOf.Add(-60) // oldest purchase in the fixture is asOf-30
	for _, day := range provider.dates {
		assert.False(t, day.Before(floor), "fetched rate for implausible date %s", day)
	}
}

func TestOrchestrator_RunStatusTransitions(t *testing.T) {
	assert.False(t, RunPending.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunCompleted.Terminal())
	assert.True(t, RunFailed.Terminal())

	_, err := ParseRunStatus("sideways")
	assert.Error(t, err)
}
