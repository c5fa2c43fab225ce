package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// RootType is the top-level classification of an account branch.
// It is set on root groups and inherited by every descendant.
type RootType string

const (
	RootAsset     RootType = "ASSET"
	RootLiability RootType = "LIABILITY"
	RootIncome    RootType = "INCOME"
	RootExpense   RootType = "EXPENSE"
)

// ReportType says which statement an account feeds into. Always derived
// from RootType, never supplied by a caller.
type ReportType string

const (
	ReportBalanceSheet ReportType = "BS"
	ReportProfitLoss   ReportType = "PL"
)

// ReportTypeFromRoot maps INCOME/EXPENSE to P&L and everything else to
// the Balance Sheet.
func ReportTypeFromRoot(rt RootType) ReportType {
	if rt == RootIncome || rt == RootExpense {
		return ReportProfitLoss
	}
	return ReportBalanceSheet
}

type Business struct {
	ID           int64
	Name         string
	BusinessType string
	CreatedAt    time.Time
}

// Account is a node in the chart-of-accounts tree.
// is_group=true is a structural group (no postings); is_group=false is a
// postable ledger. The one exception is the primary ledger ("Profit &
// Loss A/c"), a ledger with no parent.
type Account struct {
	ID                 int64
	BusinessID         int64
	Name               string
	ParentID           *int64
	IsGroup            bool
	RootType           RootType
	ReportType         ReportType
	AccountType        string
	IsRoot             bool
	IsPrimaryLedger    bool
	OpeningBalance     decimal.Decimal
	OpeningBalanceType string // "DR" or "CR"
	OpeningBalanceDate string // YYYY-MM-DD, empty when unset
	CreatedAt          time.Time
}

// OpeningNet normalizes the opening balance to a signed value:
// DR positive, CR negative.
func (a *Account) OpeningNet() decimal.Decimal {
	if a.OpeningBalanceType == "CR" {
		return a.OpeningBalance.Neg()
	}
	return a.OpeningBalance
}

type VoucherType string

const (
	VoucherReceipt  VoucherType = "RECEIPT"
	VoucherPayment  VoucherType = "PAYMENT"
	VoucherJournal  VoucherType = "JOURNAL"
	VoucherContra   VoucherType = "CONTRA"
	VoucherSales    VoucherType = "SALES"
	VoucherPurchase VoucherType = "PURCHASE"
)

// Voucher is a business event: a header plus balanced debit/credit
// lines. Posting validates and locks it permanently.
type Voucher struct {
	ID          int64
	BusinessID  int64
	Number      string
	VoucherType VoucherType
	PostingDate string // YYYY-MM-DD
	Narration   string
	IsPosted    bool
	PostedAt    *time.Time
	PostedBy    string
	SourceType  string
	SourceID    string
	CreatedAt   time.Time
	Lines       []VoucherLine
}

// VoucherLine carries exactly one side: either debit or credit is
// nonzero, never both.
type VoucherLine struct {
	ID        int64
	VoucherID int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// StockGroup is a Tally-style stock group; parent nil means "Primary".
type StockGroup struct {
	ID                   int64
	BusinessID           int64
	Name                 string
	Alias                string
	ParentID             *int64
	CanQuantitiesBeAdded bool
}

type UnitOfMeasure struct {
	ID            int64
	BusinessID    int64
	UnitType      string // SIMPLE or COMPOUND
	Symbol        string
	FormalName    string
	DecimalPlaces int16
}

// Item is a stock item master.
type Item struct {
	ID           int64
	BusinessID   int64
	SKU          string
	Name         string
	Alias        string
	StockGroupID *int64
	UnitID       *int64
	ReorderLevel decimal.Decimal
	IsStockItem  bool
}

const (
	RateTypeCost    = "COST"
	RateTypeSelling = "SELLING"
)

// StandardRate is a standard cost or selling price effective from a date.
type StandardRate struct {
	ID             int64
	ItemID         int64
	RateType       string
	ApplicableFrom string
	Rate           decimal.Decimal
}

// Godown is a warehouse. Balances are always derived from the stock
// ledger, never stored.
type Godown struct {
	ID         int64
	BusinessID int64
	Name       string
}

// StockLedgerEntry is one inventory movement. Balances and valuation
// read posted entries only: balance = sum(qty_in) - sum(qty_out).
// VoucherID is a weak back-reference; deleting the voucher does not
// cascade here automatically.
type StockLedgerEntry struct {
	ID          int64
	BusinessID  int64
	PostingDate string
	ItemID      int64
	GodownID    int64
	QtyIn       decimal.Decimal // 3 dp
	QtyOut      decimal.Decimal // 3 dp
	Rate        decimal.Decimal // 2 dp
	Amount      decimal.Decimal // 2 dp
	VoucherType string // PURCHASE, SALES, STOCK_JOURNAL
	VoucherID   *int64
	IsPosted    bool
	TransferRef string
	Narration   string
	CreatedAt   time.Time
}

// EntryAmount computes a stock entry's value: |qty_in - qty_out| x rate,
// rounded to 2 decimals (banker's rounding, applied per entry).
func EntryAmount(qtyIn, qtyOut, rate decimal.Decimal) decimal.Decimal {
	return qtyIn.Sub(qtyOut).Abs().Mul(rate).RoundBank(2)
}
