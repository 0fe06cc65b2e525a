package valuation

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SQLiteStore persists metric runs, metric batches and the rate cache in a
// single SQLite database. Batch writes are transactional: a run's records
// and its metadata commit or roll back together, so a reader never observes
// a partially written run.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLiteStore opens (and migrates) the database at path. Use ":memory:"
// for an ephemeral store.
func NewSQLiteStore(log *zap.Logger, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &SQLiteStore{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateRun inserts an initial run row with a freshly generated run UUID.
func (s *SQLiteStore) CreateRun(status RunStatus, trigger, provenance string) (MetricRun, error) {
	run := MetricRun{
		RunUUID:    uuid.New(),
		Status:     status,
		Trigger:    trigger,
		StartedAt:  time.Now().UTC(),
		Provenance: provenance,
	}
	_, err := s.db.Exec(`
		INSERT INTO metric_runs
		(run_uuid, status, run_trigger, started_at, provenance)
		VALUES (?, ?, ?, ?, ?)`,
		run.RunUUID.String(), string(run.Status), run.Trigger, run.StartedAt, run.Provenance,
	)
	if err != nil {
		return MetricRun{}, errors.Wrap(err, "insert metric run")
	}
	return run, nil
}

// StoreBatch writes all three record sets plus the updated run metadata
// inside one transaction. Any failure rolls back every write of that run
// UUID, changing nothing.
func (s *SQLiteStore) StoreBatch(run MetricRun, batch MetricBatch) (MetricRun, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return MetricRun{}, errors.Wrap(err, "begin batch transaction")
	}
	if err := storeBatchTx(tx, run, batch); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("batch rollback failed",
				zap.String("run_uuid", run.RunUUID.String()),
				zap.Error(rbErr))
		}
		return MetricRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return MetricRun{}, errors.Wrap(err, "commit metric batch")
	}
	return run, nil
}

func storeBatchTx(tx *sql.Tx, run MetricRun, batch MetricBatch) error {
	for _, rec := range batch.Accounts {
		_, err := tx.Exec(`
			INSERT INTO account_metrics
			(run_uuid, account_id, name, currency, balance, balance_eur,
			 coverage_ratio, rate_source, rate_fetched_at, rate_provenance)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunUUID.String(), rec.AccountID, rec.Name, rec.Currency,
			rec.Balance, nullInt(rec.BalanceEUR), rec.CoverageRatio,
			rec.RateSource, nullTime(rec.RateFetchedAt), rec.RateProvenance,
		)
		if err != nil {
			return errors.Wrapf(err, "insert account metric %s", rec.AccountID)
		}
	}
	for _, rec := range batch.Portfolios {
		_, err := tx.Exec(`
			INSERT INTO portfolio_metrics
			(run_uuid, portfolio_id, name, current_value, purchase_value,
			 gain_abs, gain_pct, position_count, missing_value_positions, coverage_ratio)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunUUID.String(), rec.PortfolioID, rec.Name, rec.CurrentValue,
			rec.PurchaseValue, rec.GainAbs, float64(rec.GainPct),
			rec.PositionCount, rec.MissingValuePositions, rec.CoverageRatio,
		)
		if err != nil {
			return errors.Wrapf(err, "insert portfolio metric %s", rec.PortfolioID)
		}
	}
	for _, rec := range batch.Securities {
		_, err := tx.Exec(`
			INSERT INTO security_metrics
			(run_uuid, portfolio_id, security_id, name, currency, shares,
			 current_value, purchase_value, last_price_native, last_close_native,
			 last_price_eur, last_close_eur, day_change_native, day_change_eur,
			 avg_price_native, fx_rate, coverage_ratio)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunUUID.String(), rec.PortfolioID, rec.SecurityID, rec.Name,
			rec.Currency, rec.Shares.String(),
			nullInt(rec.CurrentValue), nullInt(rec.PurchaseValue),
			nullDec(rec.LastPriceNative), nullDec(rec.LastCloseNative),
			nullDec(rec.LastPriceEUR), nullDec(rec.LastCloseEUR),
			nullDec(rec.DayChangeNative), nullDec(rec.DayChangeEUR),
			nullDec(rec.AvgPriceNative), nullDec(rec.FXRate), rec.CoverageRatio,
		)
		if err != nil {
			return errors.Wrapf(err, "insert security metric %s/%s", rec.PortfolioID, rec.SecurityID)
		}
	}

	res, err := tx.Exec(`
		UPDATE metric_runs SET
			processed_portfolios = ?, processed_accounts = ?, processed_securities = ?,
			total_entities = ?, duration_ms = ?
		WHERE run_uuid = ?`,
		run.ProcessedPortfolios, run.ProcessedAccounts, run.ProcessedSecurities,
		run.TotalEntities, run.DurationMS, run.RunUUID.String(),
	)
	if err != nil {
		return errors.Wrap(err, "update run metadata")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("unknown run %s", run.RunUUID)
	}
	return nil
}

// FinishRun records the terminal state of a run: status, finish timestamp,
// duration and error message.
func (s *SQLiteStore) FinishRun(run MetricRun) error {
	_, err := s.db.Exec(`
		UPDATE metric_runs SET
			status = ?, finished_at = ?, duration_ms = ?, error_message = ?
		WHERE run_uuid = ?`,
		string(run.Status), nullTime(run.FinishedAt), run.DurationMS,
		run.ErrorMessage, run.RunUUID.String(),
	)
	return errors.Wrap(err, "finish metric run")
}

// LoadLatestCompletedBatch returns the most recent completed run together
// with its full batch. When no run has ever completed it returns
// (nil, empty batch, nil): "no data yet" is not an error.
func (s *SQLiteStore) LoadLatestCompletedBatch() (*MetricRun, MetricBatch, error) {
	row := s.db.QueryRow(`
		SELECT run_uuid FROM metric_runs
		WHERE status = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1`, string(RunCompleted))
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, MetricBatch{}, nil
		}
		return nil, MetricBatch{}, errors.Wrap(err, "find latest completed run")
	}
	run, err := s.loadRun(id)
	if err != nil {
		return nil, MetricBatch{}, err
	}
	batch, err := s.LoadBatch(run.RunUUID)
	if err != nil {
		return nil, MetricBatch{}, err
	}
	return run, batch, nil
}

// LoadBatch loads a specific run's records. An unknown run UUID yields an
// empty batch, not an error.
func (s *SQLiteStore) LoadBatch(runUUID uuid.UUID) (MetricBatch, error) {
	var batch MetricBatch
	id := runUUID.String()

	rows, err := s.db.Query(`
		SELECT run_uuid, account_id, name, currency, balance, balance_eur,
		       coverage_ratio, rate_source, rate_fetched_at, rate_provenance
		FROM account_metrics WHERE run_uuid = ? ORDER BY account_id`, id)
	if err != nil {
		return MetricBatch{}, errors.Wrap(err, "query account metrics")
	}
	defer rows.Close()
	for rows.Next() {
		var rec AccountMetricRecord
		var runID string
		var balanceEUR sql.NullInt64
		var fetchedAt sql.NullTime
		if err := rows.Scan(&runID, &rec.AccountID, &rec.Name, &rec.Currency,
			&rec.Balance, &balanceEUR, &rec.CoverageRatio,
			&rec.RateSource, &fetchedAt, &rec.RateProvenance); err != nil {
			return MetricBatch{}, errors.Wrap(err, "scan account metric")
		}
		rec.RunUUID = uuid.MustParse(runID)
		rec.BalanceEUR = intPtr(balanceEUR)
		rec.RateFetchedAt = timePtr(fetchedAt)
		batch.Accounts = append(batch.Accounts, rec)
	}
	if err := rows.Err(); err != nil {
		return MetricBatch{}, errors.Wrap(err, "iterate account metrics")
	}

	prows, err := s.db.Query(`
		SELECT run_uuid, portfolio_id, name, current_value, purchase_value,
		       gain_abs, gain_pct, position_count, missing_value_positions, coverage_ratio
		FROM portfolio_metrics WHERE run_uuid = ? ORDER BY portfolio_id`, id)
	if err != nil {
		return MetricBatch{}, errors.Wrap(err, "query portfolio metrics")
	}
	defer prows.Close()
	for prows.Next() {
		var rec PortfolioMetricRecord
		var runID string
		var gainPct float64
		if err := prows.Scan(&runID, &rec.PortfolioID, &rec.Name,
			&rec.CurrentValue, &rec.PurchaseValue, &rec.GainAbs, &gainPct,
			&rec.PositionCount, &rec.MissingValuePositions, &rec.CoverageRatio); err != nil {
			return MetricBatch{}, errors.Wrap(err, "scan portfolio metric")
		}
		rec.RunUUID = uuid.MustParse(runID)
		rec.GainPct = Percent(gainPct)
		batch.Portfolios = append(batch.Portfolios, rec)
	}
	if err := prows.Err(); err != nil {
		return MetricBatch{}, errors.Wrap(err, "iterate portfolio metrics")
	}

	srows, err := s.db.Query(`
		SELECT run_uuid, portfolio_id, security_id, name, currency, shares,
		       current_value, purchase_value, last_price_native, last_close_native,
		       last_price_eur, last_close_eur, day_change_native, day_change_eur,
		       avg_price_native, fx_rate, coverage_ratio
		FROM security_metrics WHERE run_uuid = ? ORDER BY portfolio_id, security_id`, id)
	if err != nil {
		return MetricBatch{}, errors.Wrap(err, "query security metrics")
	}
	defer srows.Close()
	for srows.Next() {
		var rec SecurityMetricRecord
		var runID, shares string
		var currentValue, purchaseValue sql.NullInt64
		var lastPriceNative, lastCloseNative, lastPriceEUR, lastCloseEUR sql.NullString
		var dayChangeNative, dayChangeEUR, avgPriceNative, fxRate sql.NullString
		if err := srows.Scan(&runID, &rec.PortfolioID, &rec.SecurityID, &rec.Name,
			&rec.Currency, &shares, &currentValue, &purchaseValue,
			&lastPriceNative, &lastCloseNative, &lastPriceEUR, &lastCloseEUR,
			&dayChangeNative, &dayChangeEUR, &avgPriceNative, &fxRate,
			&rec.CoverageRatio); err != nil {
			return MetricBatch{}, errors.Wrap(err, "scan security metric")
		}
		rec.RunUUID = uuid.MustParse(runID)
		qty, err := decimal.NewFromString(shares)
		if err != nil {
			return MetricBatch{}, errors.Wrapf(err, "invalid shares %q", shares)
		}
		rec.Shares = Q(qty)
		rec.CurrentValue = intPtr(currentValue)
		rec.PurchaseValue = intPtr(purchaseValue)
		if rec.LastPriceNative, err = decPtr(lastPriceNative); err != nil {
			return MetricBatch{}, err
		}
		if rec.LastCloseNative, err = decPtr(lastCloseNative); err != nil {
			return MetricBatch{}, err
		}
		if rec.LastPriceEUR, err = decPtr(lastPriceEUR); err != nil {
			return MetricBatch{}, err
		}
		if rec.LastCloseEUR, err = decPtr(lastCloseEUR); err != nil {
			return MetricBatch{}, err
		}
		if rec.DayChangeNative, err = decPtr(dayChangeNative); err != nil {
			return MetricBatch{}, err
		}
		if rec.DayChangeEUR, err = decPtr(dayChangeEUR); err != nil {
			return MetricBatch{}, err
		}
		if rec.AvgPriceNative, err = decPtr(avgPriceNative); err != nil {
			return MetricBatch{}, err
		}
		if rec.FXRate, err = decPtr(fxRate); err != nil {
			return MetricBatch{}, err
		}
		batch.Securities = append(batch.Securities, rec)
	}
	if err := srows.Err(); err != nil {
		return MetricBatch{}, errors.Wrap(err, "iterate security metrics")
	}
	return batch, nil
}

// loadRun loads one run's metadata.
func (s *SQLiteStore) loadRun(id string) (*MetricRun, error) {
	row := s.db.QueryRow(`
		SELECT run_uuid, status, run_trigger, started_at, finished_at,
		       processed_portfolios, processed_accounts, processed_securities,
		       total_entities, duration_ms, error_message, provenance
		FROM metric_runs WHERE run_uuid = ?`, id)
	var run MetricRun
	var runID, status string
	var finishedAt sql.NullTime
	if err := row.Scan(&runID, &status, &run.Trigger, &run.StartedAt, &finishedAt,
		&run.ProcessedPortfolios, &run.ProcessedAccounts, &run.ProcessedSecurities,
		&run.TotalEntities, &run.DurationMS, &run.ErrorMessage, &run.Provenance); err != nil {
		return nil, errors.Wrapf(err, "load run %s", id)
	}
	run.RunUUID = uuid.MustParse(runID)
	parsed, err := ParseRunStatus(status)
	if err != nil {
		return nil, err
	}
	run.Status = parsed
	run.FinishedAt = timePtr(finishedAt)
	return &run, nil
}

// SaveRates appends newly fetched rates to the cache. Existing (date,
// currency) keys are never overwritten.
func (s *SQLiteStore) SaveRates(records []RateRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin rate transaction")
	}
	for _, rec := range records {
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO fx_rates
			(date, currency, rate, fetched_at, source, provenance)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Date.String(), rec.Currency, rec.Rate.String(),
			rec.FetchedAt, rec.Source, rec.Provenance,
		)
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert rate %s", rec.Key())
		}
	}
	return errors.Wrap(tx.Commit(), "commit rates")
}

// LoadRate returns the cached rate for one (date, currency) key, or nil.
func (s *SQLiteStore) LoadRate(day Date, currency string) (*RateRecord, error) {
	row := s.db.QueryRow(`
		SELECT date, currency, rate, fetched_at, source, provenance
		FROM fx_rates WHERE date = ? AND currency = ?`,
		day.String(), NormalizeCurrency(currency))
	var rec RateRecord
	var dateStr, rateStr string
	if err := row.Scan(&dateStr, &rec.Currency, &rateStr, &rec.FetchedAt, &rec.Source, &rec.Provenance); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "load rate")
	}
	parsedDate, err := ParseDate(dateStr)
	if err != nil {
		return nil, err
	}
	rec.Date = parsedDate
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid stored rate %q", rateStr)
	}
	rec.Rate = rate
	return &rec, nil
}

// null/pointer conversion helpers for database/sql.

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullDec(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}

func decPtr(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid stored decimal %q", v.String)
	}
	return &d, nil
}
