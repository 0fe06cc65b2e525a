package valuation

// Schema owned by the valuation core: three append-only metric tables keyed
// by (run_uuid, entity id), one run-metadata table, and the rate cache keyed
// by (date, currency). Decimal columns are stored as text to keep amounts
// exact; cents and scaled integers are INTEGER.
const Schema = `
CREATE TABLE IF NOT EXISTS metric_runs (
	run_uuid TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	run_trigger TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	processed_portfolios INTEGER NOT NULL DEFAULT 0,
	processed_accounts INTEGER NOT NULL DEFAULT 0,
	processed_securities INTEGER NOT NULL DEFAULT 0,
	total_entities INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	provenance TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_metric_runs_status ON metric_runs(status, started_at);

CREATE TABLE IF NOT EXISTS account_metrics (
	run_uuid TEXT NOT NULL,
	account_id TEXT NOT NULL,
	name TEXT NOT NULL,
	currency TEXT NOT NULL,
	balance INTEGER NOT NULL,
	balance_eur INTEGER,
	coverage_ratio REAL NOT NULL,
	rate_source TEXT NOT NULL DEFAULT '',
	rate_fetched_at DATETIME,
	rate_provenance TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_uuid, account_id)
);

CREATE TABLE IF NOT EXISTS portfolio_metrics (
	run_uuid TEXT NOT NULL,
	portfolio_id TEXT NOT NULL,
	name TEXT NOT NULL,
	current_value INTEGER NOT NULL,
	purchase_value INTEGER NOT NULL,
	gain_abs INTEGER NOT NULL,
	gain_pct REAL NOT NULL,
	position_count INTEGER NOT NULL,
	missing_value_positions INTEGER NOT NULL,
	coverage_ratio REAL NOT NULL,
	PRIMARY KEY (run_uuid, portfolio_id)
);

CREATE TABLE IF NOT EXISTS security_metrics (
	run_uuid TEXT NOT NULL,
	portfolio_id TEXT NOT NULL,
	security_id TEXT NOT NULL,
	name TEXT NOT NULL,
	currency TEXT NOT NULL,
	shares TEXT NOT NULL,
	current_value INTEGER,
	purchase_value INTEGER,
	last_price_native TEXT,
	last_close_native TEXT,
	last_price_eur TEXT,
	last_close_eur TEXT,
	day_change_native TEXT,
	day_change_eur TEXT,
	avg_price_native TEXT,
	fx_rate TEXT,
	coverage_ratio REAL NOT NULL,
	PRIMARY KEY (run_uuid, portfolio_id, security_id)
);

CREATE TABLE IF NOT EXISTS fx_rates (
	date TEXT NOT NULL,
	currency TEXT NOT NULL,
	rate TEXT NOT NULL,
	fetched_at DATETIME NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	provenance TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (date, currency)
);
`
