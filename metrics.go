package valuation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RunStatus is the lifecycle state of a metric run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunFailed }

// ParseRunStatus parses a stored status string.
func ParseRunStatus(s string) (RunStatus, error) {
	switch st := RunStatus(s); st {
	case RunPending, RunRunning, RunCompleted, RunFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown run status %q", s)
	}
}

// MetricRun is one versioned computation cycle over the whole ledger. It
// transitions exactly once from running to a terminal state.
type MetricRun struct {
	RunUUID             uuid.UUID
	Status              RunStatus
	Trigger             string
	StartedAt           time.Time
	FinishedAt          *time.Time
	ProcessedPortfolios int
	ProcessedAccounts   int
	ProcessedSecurities int
	TotalEntities       int
	DurationMS          int64
	ErrorMessage        string
	Provenance          string
}

// AccountMetricRecord is the valuation of one cash account within a run.
type AccountMetricRecord struct {
	RunUUID   uuid.UUID
	AccountID string
	Name      string
	Currency  string
	// Balance is the native balance in integer minor units.
	Balance int64
	// BalanceEUR is the reporting-currency balance in cents; nil when no
	// same-day rate resolved.
	BalanceEUR    *int64
	CoverageRatio float64
	// Rate traceability, copied from the resolved rate record.
	RateSource     string
	RateFetchedAt  *time.Time
	RateProvenance string
}

// PortfolioMetricRecord is the aggregated valuation of one portfolio.
// All monetary fields are reporting-currency cents.
type PortfolioMetricRecord struct {
	RunUUID               uuid.UUID
	PortfolioID           string
	Name                  string
	CurrentValue          int64
	PurchaseValue         int64
	GainAbs               int64
	GainPct               Percent
	PositionCount         int
	MissingValuePositions int
	CoverageRatio         float64
}

// SecurityMetricRecord is the valuation of one (portfolio, security)
// position. Monetary aggregates are reporting-currency cents; prices carry
// four decimals. Nil pointers mark values that did not resolve.
type SecurityMetricRecord struct {
	RunUUID     uuid.UUID
	PortfolioID string
	SecurityID  string
	Name        string
	Currency    string
	Shares      Quantity

	CurrentValue  *int64
	PurchaseValue *int64

	LastPriceNative *decimal.Decimal
	LastCloseNative *decimal.Decimal
	LastPriceEUR    *decimal.Decimal
	LastCloseEUR    *decimal.Decimal
	DayChangeNative *decimal.Decimal
	DayChangeEUR    *decimal.Decimal
	AvgPriceNative  *decimal.Decimal

	// FXRate is native/EUR of the last price, derived purely for
	// diagnostics. It is never reused as an authoritative rate.
	FXRate *decimal.Decimal

	CoverageRatio float64
}

// MetricBatch is the immutable output of one run: every record carries the
// owning run UUID and all records of one run form one consistent snapshot.
type MetricBatch struct {
	Accounts   []AccountMetricRecord
	Portfolios []PortfolioMetricRecord
	Securities []SecurityMetricRecord
}

// Size returns the total record count of the batch.
func (b MetricBatch) Size() int {
	return len(b.Accounts) + len(b.Portfolios) + len(b.Securities)
}
