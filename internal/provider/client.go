package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

// TargetSystem abstracts the accounting system masters are created in.
// Anti-Corruption Layer: callers see domain payloads and classified
// failures, never the wire format.
type TargetSystem interface {
	// Name identifies the target in sync logs.
	Name() string

	// CreateMaster submits one master. Failures are *SyncError.
	CreateMaster(ctx context.Context, company string, payload domain.CreationPayload) (*Result, error)

	// PostVoucher submits one transaction. Failures are *SyncError.
	PostVoucher(ctx context.Context, company string, voucher Voucher) (*Result, error)

	// ExportCollection lists the names of every master of kind in company.
	ExportCollection(ctx context.Context, company string, kind domain.CatalogKind) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Exchange is the raw request/response pair of one call, kept for sync logs.
type Exchange struct {
	RequestXML  string
	ResponseXML string
	StatusCode  int
	Duration    time.Duration
}

// Result is the outcome of an accepted import.
type Result struct {
	Exchange
	Created int
	Altered int
	Ignored int
	// VoucherNumber is set when the target echoes one back.
	VoucherNumber string
}

// Voucher is a transaction in the target's terms.
type Voucher struct {
	Type      string // Sales, Purchase, Journal, Payment
	Number    string
	Date      time.Time
	Party     string
	Narration string
	Inventory []InventoryEntry
	Entries   []LedgerEntry
}

// InventoryEntry is a stock line of a voucher.
type InventoryEntry struct {
	StockItem string
	Unit      string
	Godown    string
	Qty       decimal.Decimal
	Rate      decimal.Decimal
	Amount    decimal.Decimal
	Ledger    string
	// Inward is true for purchases.
	Inward bool
}

// LedgerEntry is an accounting line. Debit entries are deemed positive and
// carry a negative amount on the wire.
type LedgerEntry struct {
	Ledger  string
	Amount  decimal.Decimal
	Debit   bool
	IsParty bool
}
