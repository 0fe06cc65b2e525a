// Package valuation computes and persists versioned financial valuation
// metrics (cost basis, current value, gain, day-over-day change) for a
// ledger of accounts, portfolios, securities and transactions, normalizing
// every amount into a single reporting currency.
//
// The package is the analytical core of a personal portfolio tracker. The
// host supplies the ledger through the Ledger interface and triggers runs;
// the Orchestrator replays the transaction stream into FIFO lots, resolves
// exchange rates through the RateResolver, computes one metric record per
// account, portfolio and held security, and persists the whole batch
// atomically under a run UUID. Downstream readers only ever consume the
// latest completed run, so a failed run never corrupts the last good
// snapshot.
//
// Amounts cross component boundaries as integer minor units, share counts
// and raw prices as 10^8-scaled integers; arithmetic runs on
// shopspring/decimal and rounding is strictly canonical (see normalize.go).
package valuation
