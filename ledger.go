package valuation

import (
	"fmt"
	"sort"
)

// TransactionType is a typed string identifying a ledger transaction kind.
type TransactionType string

// Transaction types recognised by the valuation core.
const (
	TxBuy              TransactionType = "BUY"
	TxSell             TransactionType = "SELL"
	TxInboundDelivery  TransactionType = "INBOUND_DELIVERY"
	TxOutboundDelivery TransactionType = "OUTBOUND_DELIVERY"
	TxCashTransfer     TransactionType = "CASH_TRANSFER"
	TxDeposit          TransactionType = "DEPOSIT"
	TxRemoval          TransactionType = "REMOVAL"
	TxDividend         TransactionType = "DIVIDEND"
	TxInterest         TransactionType = "INTEREST"
	TxInterestCharge   TransactionType = "INTEREST_CHARGE"
	TxTaxes            TransactionType = "TAXES"
	TxTaxRefund        TransactionType = "TAX_REFUND"
	TxFees             TransactionType = "FEES"
	TxFeesRefund       TransactionType = "FEES_REFUND"
)

// IsPurchase reports whether the transaction type adds shares to a position.
func (t TransactionType) IsPurchase() bool {
	return t == TxBuy || t == TxInboundDelivery
}

// IsSale reports whether the transaction type removes shares from a position.
func (t TransactionType) IsSale() bool {
	return t == TxSell || t == TxOutboundDelivery
}

// ParseTransactionType parses a ledger type string.
func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(s); t {
	case TxBuy, TxSell, TxInboundDelivery, TxOutboundDelivery, TxCashTransfer,
		TxDeposit, TxRemoval, TxDividend, TxInterest, TxInterestCharge,
		TxTaxes, TxTaxRefund, TxFees, TxFeesRefund:
		return t, nil
	default:
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
}

// FXUnit is the optional foreign-currency breakdown of a transaction: the
// gross amount expressed in the foreign currency together with the rate to
// the transaction's base currency.
type FXUnit struct {
	Amount     int64  // minor units of Currency
	Currency   string
	RateToBase float64 // foreign units per one base unit
}

// Transaction is one immutable row of the external ledger. Monetary amounts
// are integer minor units; share counts are 10^8-scaled integers.
type Transaction struct {
	ID        string
	Type      TransactionType
	Account   string // optional reference
	Portfolio string // optional reference
	Security  string // optional reference
	Amount    int64  // minor units of Currency
	Currency  string
	Shares    int64 // 10^8-scaled
	Date      Date
	FX        *FXUnit // optional
}

// Account is a cash account as reported by the ledger.
type Account struct {
	ID       string
	Name     string
	Currency string
	Balance  int64 // minor units of Currency
}

// Portfolio is a securities portfolio as reported by the ledger.
type Portfolio struct {
	ID   string
	Name string
}

// Security is a security definition as reported by the ledger.
type Security struct {
	ID       string
	Name     string
	Currency string
}

// Holding is the ledger's current-position aggregation for one
// (portfolio, security) pair. Prices are 10^8-scaled integers in the
// security's native currency; zero means the ledger has no price.
type Holding struct {
	PortfolioID   string
	SecurityID    string
	Shares        int64 // 10^8-scaled
	LastPrice     int64 // 10^8-scaled, native currency
	LastClose     int64 // 10^8-scaled, native currency, previous close
	LastPriceDate Date
	CurrentValue  *int64 // minor units, native currency; nil when unknown
	PurchaseValue *int64 // minor units, native currency; nil when unknown
}

// Ledger is the read API of the external ledger. Implementations return
// typed records; monetary amounts are integer minor units, shares and
// prices are 10^8-scaled integers.
type Ledger interface {
	Accounts() []Account
	Portfolios() []Portfolio
	Securities() []Security
	Holdings() []Holding
	// Transactions returns the rows of one (portfolio, security) pair in
	// ascending date order.
	Transactions(portfolioID, securityID string) []Transaction
}

// Snapshot is an in-memory Ledger over a fixed set of rows, used by hosts
// that load the ledger up front and by tests.
type Snapshot struct {
	AccountRows   []Account
	PortfolioRows []Portfolio
	SecurityRows  []Security
	HoldingRows   []Holding
	Txs           []Transaction
}

func (s *Snapshot) Accounts() []Account     { return s.AccountRows }
func (s *Snapshot) Portfolios() []Portfolio { return s.PortfolioRows }
func (s *Snapshot) Securities() []Security  { return s.SecurityRows }
func (s *Snapshot) Holdings() []Holding     { return s.HoldingRows }

// Transactions returns the pair's rows sorted by date ascending.
func (s *Snapshot) Transactions(portfolioID, securityID string) []Transaction {
	var out []Transaction
	for _, tx := range s.Txs {
		if tx.Portfolio == portfolioID && tx.Security == securityID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// security returns the security definition for id, or nil.
func securityByID(ledger Ledger, id string) *Security {
	for _, sec := range ledger.Securities() {
		if sec.ID == id {
			return &sec
		}
	}
	return nil
}
