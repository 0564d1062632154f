package provider

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

// Fallback ledgers for item lines that name no account.
const (
	DefaultSalesLedger    = "Sales Account"
	DefaultPurchaseLedger = "Purchase Account"
)

// VoucherFromDocument converts a source transaction into a voucher. Sales
// debit the party and credit item and tax lines; purchases do the reverse.
// Journal and payment entries carry their own debit and credit columns.
func VoucherFromDocument(doc domain.TransactionDocument) (Voucher, error) {
	v := Voucher{
		Number:    doc.Name,
		Date:      doc.PostingDate,
		Party:     doc.Party,
		Narration: fmt.Sprintf("%s %s", doc.Doctype, doc.Name),
	}
	if v.Date.IsZero() {
		v.Date = doc.Modified
	}

	switch {
	case domain.IsSalesDoctype(doc.Doctype):
		v.Type = "Sales"
		fillTrade(&v, doc, false, DefaultSalesLedger)
	case domain.IsPurchaseDoctype(doc.Doctype):
		v.Type = "Purchase"
		fillTrade(&v, doc, true, DefaultPurchaseLedger)
	case doc.Doctype == domain.DoctypeJournalEntry:
		v.Type = "Journal"
		fillAccounts(&v, doc)
	case doc.Doctype == domain.DoctypePaymentEntry:
		v.Type = "Payment"
		fillAccounts(&v, doc)
	default:
		return Voucher{}, fmt.Errorf("no voucher mapping for doctype %q", doc.Doctype)
	}

	if len(v.Entries) == 0 && len(v.Inventory) == 0 {
		return Voucher{}, fmt.Errorf("%s %s has no postable lines", doc.Doctype, doc.Name)
	}
	return v, nil
}

func fillTrade(v *Voucher, doc domain.TransactionDocument, inward bool, fallbackLedger string) {
	total := doc.GrandTotal
	if total.IsZero() {
		for _, it := range doc.Items {
			total = total.Add(lineAmount(it))
		}
		for _, tx := range doc.Taxes {
			total = total.Add(tx.Amount)
		}
	}

	// party line first, as Tally expects
	v.Entries = append(v.Entries, LedgerEntry{
		Ledger:  doc.Party,
		Amount:  total,
		Debit:   !inward,
		IsParty: true,
	})

	for _, it := range doc.Items {
		ledger := it.Account
		if ledger == "" {
			ledger = fallbackLedger
		}
		v.Inventory = append(v.Inventory, InventoryEntry{
			StockItem: it.ItemCode,
			Unit:      it.StockUOM,
			Godown:    it.Warehouse,
			Qty:       it.Qty,
			Rate:      it.Rate,
			Amount:    lineAmount(it),
			Ledger:    ledger,
			Inward:    inward,
		})
	}

	for _, tx := range doc.Taxes {
		if tx.Amount.IsZero() {
			continue
		}
		v.Entries = append(v.Entries, LedgerEntry{Ledger: tx.AccountHead, Amount: tx.Amount, Debit: inward})
	}
}

func fillAccounts(v *Voucher, doc domain.TransactionDocument) {
	for _, a := range doc.Accounts {
		switch {
		case a.Debit.IsPositive():
			v.Entries = append(v.Entries, LedgerEntry{Ledger: a.Account, Amount: a.Debit, Debit: true})
		case a.Credit.IsPositive():
			v.Entries = append(v.Entries, LedgerEntry{Ledger: a.Account, Amount: a.Credit})
		}
	}
}

func lineAmount(it domain.DocumentItem) decimal.Decimal {
	if !it.Amount.IsZero() {
		return it.Amount
	}
	return it.Qty.Mul(it.Rate)
}
