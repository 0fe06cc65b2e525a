package valuation

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Progress checkpoint stages, reported in this order on the happy path.
const (
	StageStart                = "start"
	StagePortfoliosComputed   = "portfolios_computed"
	StageAccountsComputed     = "accounts_computed"
	StageSecuritiesComputed   = "securities_computed"
	StagePersistenceStarted   = "persistence_started"
	StagePersistenceCompleted = "persistence_completed"
	StageCompleted            = "completed"
	StageFailed               = "failed"
)

// ProgressFunc is invoked synchronously at fixed checkpoints of a run with
// the stage name and a detail map (counts, run UUID). A slow callback
// delays the run's own completion; checkpoint ordering is preserved.
type ProgressFunc func(stage string, detail map[string]any)

// MetricStore is the persistence boundary of the orchestrator.
type MetricStore interface {
	CreateRun(status RunStatus, trigger, provenance string) (MetricRun, error)
	StoreBatch(run MetricRun, batch MetricBatch) (MetricRun, error)
	FinishRun(run MetricRun) error
}

// Orchestrator sequences the scope computers, assembles the immutable
// batch, drives atomic persistence and owns the run state machine
// pending → running → {completed, failed}.
type Orchestrator struct {
	base       string
	store      MetricStore
	resolver   *RateResolver
	engine     *CostBasisEngine
	accounts   *AccountMetricsComputer
	portfolios *PortfolioMetricsComputer
	securities *SecurityMetricsComputer
	log        *zap.Logger
	progress   ProgressFunc
}

// NewOrchestrator wires an orchestrator from its collaborators. progress
// may be nil.
func NewOrchestrator(log *zap.Logger, base string, store MetricStore, resolver *RateResolver, progress ProgressFunc) *Orchestrator {
	base = NormalizeCurrency(base)
	engine := NewCostBasisEngine(log, base, resolver)
	return &Orchestrator{
		base:       base,
		store:      store,
		resolver:   resolver,
		engine:     engine,
		accounts:   NewAccountMetricsComputer(log, base, resolver),
		portfolios: NewPortfolioMetricsComputer(log, base, resolver, engine),
		securities: NewSecurityMetricsComputer(log, base, resolver, engine),
		log:        log,
		progress:   progress,
	}
}

// Run executes one full metric run over the ledger as of the given date.
// It returns the terminal run together with the computed batch. Systemic
// failures mark the run failed and are returned to the caller so the
// external scheduler can retry or alert; they are never swallowed here.
// There is no cancellation primitive: a started run ends completed or
// failed.
func (o *Orchestrator) Run(ctx context.Context, ledger Ledger, trigger string, asOf Date) (MetricRun, MetricBatch, error) {
	run, err := o.store.CreateRun(RunRunning, trigger, "as_of="+asOf.String())
	if err != nil {
		return MetricRun{}, MetricBatch{}, errors.Wrap(err, "create metric run")
	}
	o.report(StageStart, map[string]any{"run_uuid": run.RunUUID.String(), "trigger": trigger})
	o.log.Info("metric run started",
		zap.String("run_uuid", run.RunUUID.String()),
		zap.String("trigger", trigger),
		zap.String("as_of", asOf.String()))

	batch, err := o.computeAndPersist(ctx, &run, ledger, asOf)
	if err != nil {
		o.fail(&run, err)
		o.report(StageFailed, map[string]any{
			"run_uuid": run.RunUUID.String(),
			"error":    err.Error(),
		})
		return run, MetricBatch{}, err
	}

	o.report(StageCompleted, map[string]any{
		"run_uuid":       run.RunUUID.String(),
		"total_entities": run.TotalEntities,
		"duration_ms":    run.DurationMS,
	})
	o.log.Info("metric run completed",
		zap.String("run_uuid", run.RunUUID.String()),
		zap.Int("total_entities", run.TotalEntities),
		zap.Int64("duration_ms", run.DurationMS))
	return run, batch, nil
}

func (o *Orchestrator) computeAndPersist(ctx context.Context, run *MetricRun, ledger Ledger, asOf Date) (MetricBatch, error) {
	o.ensureCoverage(ctx, ledger, asOf)
	warns := newWarnOnce()

	// Fixed scope order: portfolios, then accounts, then securities.
	portfolioRecords := o.portfolios.Compute(ledger, run.RunUUID, asOf, warns)
	o.report(StagePortfoliosComputed, map[string]any{
		"run_uuid": run.RunUUID.String(),
		"count":    len(portfolioRecords),
	})

	accountRecords := o.accounts.Compute(ledger, run.RunUUID, asOf)
	o.report(StageAccountsComputed, map[string]any{
		"run_uuid": run.RunUUID.String(),
		"count":    len(accountRecords),
	})

	securityRecords := o.securities.Compute(ledger, run.RunUUID, asOf, warns)
	o.report(StageSecuritiesComputed, map[string]any{
		"run_uuid": run.RunUUID.String(),
		"count":    len(securityRecords),
	})

	batch := MetricBatch{
		Accounts:   accountRecords,
		Portfolios: portfolioRecords,
		Securities: securityRecords,
	}

	run.ProcessedPortfolios = len(portfolioRecords)
	run.ProcessedAccounts = len(accountRecords)
	run.ProcessedSecurities = len(securityRecords)
	run.TotalEntities = batch.Size()
	run.DurationMS = time.Since(run.StartedAt).Milliseconds()

	o.report(StagePersistenceStarted, map[string]any{
		"run_uuid": run.RunUUID.String(),
		"records":  batch.Size(),
	})
	stored, err := o.store.StoreBatch(*run, batch)
	if err != nil {
		return MetricBatch{}, errors.Wrap(err, "persist metric batch")
	}
	o.report(StagePersistenceCompleted, map[string]any{
		"run_uuid": run.RunUUID.String(),
		"records":  batch.Size(),
	})

	stored.Status = RunCompleted
	now := time.Now().UTC()
	stored.FinishedAt = &now
	stored.DurationMS = time.Since(run.StartedAt).Milliseconds()
	if err := o.store.FinishRun(stored); err != nil {
		return MetricBatch{}, errors.Wrap(err, "finalize metric run")
	}
	*run = stored
	return batch, nil
}

// ensureCoverage pre-fetches every exchange rate the computers will look
// up: the valuation date, its previous close, and every purchase date in
// the held positions' transaction history. Fetch failures degrade to
// missing coverage downstream.
func (o *Orchestrator) ensureCoverage(ctx context.Context, ledger Ledger, asOf Date) {
	currencies := o.resolver.DiscoverActiveCurrencies(ledger)
	if len(currencies) == 0 {
		return
	}

	seen := map[string]bool{}
	var dates []Date
	add := func(day Date) {
		if day.IsZero() || seen[day.String()] {
			return
		}
		seen[day.String()] = true
		dates = append(dates, day)
	}
	add(asOf)
	add(asOf.Add(-1))
	for _, pos := range ledger.Holdings() {
		// A quoteless holding has no price date of its own; the asOf pair
		// already covers its valuation.
		if !pos.LastPriceDate.IsZero() {
			add(pos.LastPriceDate)
			add(pos.LastPriceDate.Add(-1))
		}
		for _, tx := range ledger.Transactions(pos.PortfolioID, pos.SecurityID) {
			if tx.Type.IsPurchase() {
				add(tx.Date)
			}
		}
	}
	o.resolver.EnsureRates(ctx, dates, currencies)
}

// fail marks the run failed with the captured error and finish timestamp.
// A failed run never touches the previously completed run's data.
func (o *Orchestrator) fail(run *MetricRun, cause error) {
	run.Status = RunFailed
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.DurationMS = time.Since(run.StartedAt).Milliseconds()
	run.ErrorMessage = cause.Error()
	if err := o.store.FinishRun(*run); err != nil {
		o.log.Error("failed to record failed run",
			zap.String("run_uuid", run.RunUUID.String()),
			zap.Error(err))
	}
	o.log.Error("metric run failed",
		zap.String("run_uuid", run.RunUUID.String()),
		zap.Error(cause))
}

func (o *Orchestrator) report(stage string, detail map[string]any) {
	if o.progress != nil {
		o.progress(stage, detail)
	}
}
