package domain

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

// Source doctypes the resolver understands.
const (
	DoctypeSalesOrder      = "Sales Order"
	DoctypeSalesInvoice    = "Sales Invoice"
	DoctypeDeliveryNote    = "Delivery Note"
	DoctypePurchaseOrder   = "Purchase Order"
	DoctypePurchaseInvoice = "Purchase Invoice"
	DoctypePurchaseReceipt = "Purchase Receipt"
	DoctypeJournalEntry    = "Journal Entry"
	DoctypePaymentEntry    = "Payment Entry"
)

// IsSalesDoctype reports whether doctype posts against a customer.
func IsSalesDoctype(doctype string) bool {
	switch doctype {
	case DoctypeSalesOrder, DoctypeSalesInvoice, DoctypeDeliveryNote:
		return true
	}
	return false
}

// IsPurchaseDoctype reports whether doctype posts against a supplier.
func IsPurchaseDoctype(doctype string) bool {
	switch doctype {
	case DoctypePurchaseOrder, DoctypePurchaseInvoice, DoctypePurchaseReceipt:
		return true
	}
	return false
}

// IsAccountingDoctype reports whether doctype is a plain accounting voucher.
func IsAccountingDoctype(doctype string) bool {
	return doctype == DoctypeJournalEntry || doctype == DoctypePaymentEntry
}

// TransactionDocument is the subset of a source document that decides which
// masters it needs.
type TransactionDocument struct {
	Doctype     string    `json:"doctype" validate:"required"`
	Name        string    `json:"name" validate:"required"`
	Company     string    `json:"company" validate:"required"`
	Modified    time.Time `json:"modified"`
	PostingDate time.Time `json:"posting_date"`

	// Party is the customer or supplier name on sales and purchase documents.
	Party            string `json:"party,omitempty"`
	PartyParentGroup string `json:"party_parent_group,omitempty"`
	PartyType        string `json:"party_type,omitempty"`
	Territory        string `json:"territory,omitempty"`
	GSTIN            string `json:"gstin,omitempty"`
	GSTCategory      string `json:"gst_category,omitempty"`

	Items    []DocumentItem `json:"items,omitempty" validate:"dive"`
	Taxes    []TaxLine      `json:"taxes,omitempty" validate:"dive"`
	Accounts []AccountLine  `json:"accounts,omitempty" validate:"dive"`

	GrandTotal decimal.Decimal `json:"grand_total"`
	Currency   string          `json:"currency,omitempty"`
}

// DocumentItem is an inventory line.
type DocumentItem struct {
	ItemCode   string `json:"item_code" validate:"required"`
	ItemName   string `json:"item_name,omitempty"`
	ItemGroup  string `json:"item_group,omitempty"`
	StockUOM   string `json:"stock_uom,omitempty"`
	HSNCode    string `json:"hsn_code,omitempty"`
	Warehouse  string `json:"warehouse,omitempty"`
	CostCenter string `json:"cost_center,omitempty"`
	// Account is the income or expense account the line posts to.
	Account string          `json:"account,omitempty"`
	Qty     decimal.Decimal `json:"qty"`
	Rate    decimal.Decimal `json:"rate"`
	Amount  decimal.Decimal `json:"amount"`
}

// TaxLine is a tax or charge row.
type TaxLine struct {
	AccountHead string          `json:"account_head" validate:"required"`
	CostCenter  string          `json:"cost_center,omitempty"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// AccountLine is a journal or payment row.
type AccountLine struct {
	Account     string          `json:"account" validate:"required"`
	AccountType string          `json:"account_type,omitempty"`
	CostCenter  string          `json:"cost_center,omitempty"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// Ref returns the document's reference.
func (d TransactionDocument) Ref() DocumentRef {
	return DocumentRef{Doctype: d.Doctype, Name: d.Name}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func documentValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonTagName)
	})
	return validate
}

func jsonTagName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// Validate checks the fields extraction depends on.
func (d TransactionDocument) Validate() error {
	err := documentValidator().Struct(d)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validate document: %w", err)
	}
	fields := make([]apperrors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperrors.FieldError{
			Field:   fe.Namespace(),
			Code:    apperrors.CodeValidationFailed,
			Message: fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()),
		})
	}
	return apperrors.BadRequest(apperrors.CodeValidationFailed, "source document is incomplete").
		WithFieldErrors(fields)
}
