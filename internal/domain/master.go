// Package domain holds the entities of the master approval workflow: masters
// and their references, creation requests, snapshots, notification history
// and the events emitted on every transition.
package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// MasterType is the kind of master as the source ledger names it.
type MasterType string

const (
	MasterCustomer   MasterType = "Customer"
	MasterSupplier   MasterType = "Supplier"
	MasterLedger     MasterType = "Ledger"
	MasterGroup      MasterType = "Group"
	MasterCostCentre MasterType = "Cost Centre"
	MasterItem       MasterType = "Item"
	MasterStockGroup MasterType = "Stock Group"
	MasterUnit       MasterType = "Unit"
	MasterGodown     MasterType = "Godown"
)

// MasterTypes lists every supported master type in display order.
var MasterTypes = []MasterType{
	MasterCustomer, MasterSupplier, MasterLedger, MasterGroup, MasterCostCentre,
	MasterItem, MasterStockGroup, MasterUnit, MasterGodown,
}

// CatalogKind is the object class in the target system. Several master
// types share a kind: customers and suppliers are both ledgers.
type CatalogKind string

const (
	KindLedger     CatalogKind = "Ledger"
	KindGroup      CatalogKind = "Group"
	KindCostCentre CatalogKind = "CostCentre"
	KindStockItem  CatalogKind = "StockItem"
	KindStockGroup CatalogKind = "StockGroup"
	KindUnit       CatalogKind = "Unit"
	KindGodown     CatalogKind = "Godown"
)

// CatalogKinds lists every kind the catalog snapshots.
var CatalogKinds = []CatalogKind{
	KindLedger, KindGroup, KindCostCentre, KindStockItem, KindStockGroup, KindUnit, KindGodown,
}

// Valid reports whether t is a supported master type.
func (t MasterType) Valid() bool {
	for _, known := range MasterTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Kind maps a master type to its target-system object class.
func (t MasterType) Kind() CatalogKind {
	switch t {
	case MasterCustomer, MasterSupplier, MasterLedger:
		return KindLedger
	case MasterGroup:
		return KindGroup
	case MasterCostCentre:
		return KindCostCentre
	case MasterItem:
		return KindStockItem
	case MasterStockGroup:
		return KindStockGroup
	case MasterUnit:
		return KindUnit
	case MasterGodown:
		return KindGodown
	default:
		return ""
	}
}

// RequiresParent reports whether the target system needs a parent for t.
func (t MasterType) RequiresParent() bool {
	switch t {
	case MasterUnit, MasterGodown:
		return false
	default:
		return t.Valid()
	}
}

// IsParty reports whether t is a customer or supplier ledger.
func (t MasterType) IsParty() bool {
	return t == MasterCustomer || t == MasterSupplier
}

// Default parent groups in the target chart of accounts.
const (
	ParentSundryDebtors     = "Sundry Debtors"
	ParentSundryCreditors   = "Sundry Creditors"
	ParentPrimary           = "Primary"
	ParentDutiesAndTaxes    = "Duties & Taxes"
	ParentPrimaryCostCentre = "Primary Cost Centre"
)

// DefaultParent returns the parent used when neither the document nor the
// approver names one. Units and godowns have none.
func (t MasterType) DefaultParent() string {
	switch t {
	case MasterCustomer:
		return ParentSundryDebtors
	case MasterSupplier:
		return ParentSundryCreditors
	case MasterItem, MasterStockGroup, MasterGroup:
		return ParentPrimary
	case MasterLedger:
		return ParentDutiesAndTaxes
	case MasterCostCentre:
		return ParentPrimaryCostCentre
	default:
		return ""
	}
}

// predefinedGroups are the account groups every target company starts
// with, keyed by folded name.
var predefinedGroups = foldSet(
	ParentPrimary,
	"Branch / Divisions", "Capital Account", "Current Assets", "Current Liabilities",
	"Direct Expenses", "Direct Incomes", "Fixed Assets", "Indirect Expenses",
	"Indirect Incomes", "Investments", "Loans (Liability)", "Misc. Expenses (ASSET)",
	"Purchase Accounts", "Sales Accounts", "Suspense A/c",
	"Bank Accounts", "Bank OD A/c", "Cash-in-Hand", "Deposits (Asset)", ParentDutiesAndTaxes,
	"Loans & Advances (Asset)", "Provisions", "Reserves & Surplus", "Secured Loans",
	"Stock-in-Hand", ParentSundryCreditors, ParentSundryDebtors, "Unsecured Loans",
)

func foldSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[NormalizeName(n)] = struct{}{}
	}
	return out
}

// IsPredefinedGroup reports whether name is an account group the target
// system creates with every company, so it never needs a request.
func IsPredefinedGroup(name string) bool {
	_, ok := predefinedGroups[NormalizeName(name)]
	return ok
}

// IsPrimaryStockGroup reports whether name is the root of the stock group
// hierarchy.
func IsPrimaryStockGroup(name string) bool {
	return NormalizeName(name) == NormalizeName(ParentPrimary)
}

var itemGroupStockGroups = map[string]string{
	"raw material":   "Raw Materials",
	"finished goods": "Finished Products",
	"consumables":    "Consumables",
	"services":       "Services",
}

// StockGroupForItemGroup maps a source item group to the stock group an
// item is filed under in the target system.
func StockGroupForItemGroup(itemGroup string) string {
	if sg, ok := itemGroupStockGroups[NormalizeName(itemGroup)]; ok {
		return sg
	}
	return ParentPrimary
}

// DefaultMaxNameLength is the target system's master-name limit in runes.
const DefaultMaxNameLength = 100

// NormalizeName folds case and surrounding whitespace so that names which
// the target system treats as equal compare equal. A Caser is stateful, so
// one is built per call.
func NormalizeName(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

var nameReplacer = strings.NewReplacer("&", "and", "<", "", ">", "", `"`, "", "'", "")

// SanitizeName rewrites characters the target system refuses in master names.
func SanitizeName(name string) string {
	return strings.TrimSpace(nameReplacer.Replace(name))
}

// SuggestName sanitizes name and truncates it to maxLen runes, marking the
// cut with "...".
func SuggestName(name string, maxLen int) string {
	name = SanitizeName(name)
	if maxLen <= 3 || utf8.RuneCountInString(name) <= maxLen {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxLen-3]) + "..."
}

// Identity is the natural key of a master creation request.
type Identity struct {
	Company    string     `json:"company"`
	MasterType MasterType `json:"master_type"`
	MasterName string     `json:"master_name"`
}

// Key returns a stable string form used for locking and map keys.
func (id Identity) Key() string {
	return fmt.Sprintf("%s|%s|%s", NormalizeName(id.Company), id.MasterType, NormalizeName(id.MasterName))
}

func (id Identity) String() string {
	return fmt.Sprintf("%s %q (%s)", id.MasterType, id.MasterName, id.Company)
}

// MasterRef is a master a transaction needs in the target system.
type MasterRef struct {
	Type        MasterType     `json:"master_type"`
	Name        string         `json:"master_name"`
	ParentGroup string         `json:"parent_group,omitempty"`
	Fields      SnapshotFields `json:"-"`
}

// Identity returns the request identity of ref within company.
func (r MasterRef) Identity(company string) Identity {
	return Identity{Company: company, MasterType: r.Type, MasterName: r.Name}
}

// SameMaster reports whether r and other name the same master.
func (r MasterRef) SameMaster(other MasterRef) bool {
	return r.Type == other.Type && NormalizeName(r.Name) == NormalizeName(other.Name)
}
