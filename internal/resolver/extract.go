// Package resolver works out which masters a transaction needs, which of
// them are missing in the target system, and raises approval requests for
// the missing ones.
package resolver

import (
	"strings"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

// refSet collects references in first-seen order, dropping repeats.
type refSet struct {
	seen map[string]struct{}
	refs []domain.MasterRef
}

func newRefSet() *refSet {
	return &refSet{seen: make(map[string]struct{})}
}

func (s *refSet) add(ref domain.MasterRef) {
	ref.Name = strings.TrimSpace(ref.Name)
	if ref.Name == "" {
		return
	}
	key := string(ref.Type) + "|" + domain.NormalizeName(ref.Name)
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	if ref.ParentGroup == "" {
		ref.ParentGroup = ref.Type.DefaultParent()
	}
	ref.Fields.MasterName = ref.Name
	ref.Fields.ParentGroup = ref.ParentGroup
	s.refs = append(s.refs, ref)
}

// Extract lists the masters doc needs in the target system. It does no I/O.
// References are unique by type and folded name and come out in the order
// they first appear in the document. A group or stock group that is not
// predefined in the target precedes the masters filed under it.
func Extract(doc domain.TransactionDocument) []domain.MasterRef {
	set := newRefSet()

	switch {
	case domain.IsSalesDoctype(doc.Doctype):
		addParty(set, partyRef(doc, domain.MasterCustomer))
		addLines(set, doc)
	case domain.IsPurchaseDoctype(doc.Doctype):
		addParty(set, partyRef(doc, domain.MasterSupplier))
		addLines(set, doc)
	case domain.IsAccountingDoctype(doc.Doctype):
		for _, acc := range doc.Accounts {
			set.add(domain.MasterRef{
				Type:   domain.MasterLedger,
				Name:   acc.Account,
				Fields: domain.SnapshotFields{AccountType: acc.AccountType},
			})
		}
		for _, acc := range doc.Accounts {
			set.add(costCentreRef(acc.CostCenter))
		}
	}

	if set.refs == nil {
		return []domain.MasterRef{}
	}
	return set.refs
}

func partyRef(doc domain.TransactionDocument, t domain.MasterType) domain.MasterRef {
	partyType := doc.PartyType
	if partyType == "" {
		partyType = string(t)
	}
	return domain.MasterRef{
		Type:        t,
		Name:        doc.Party,
		ParentGroup: doc.PartyParentGroup,
		Fields: domain.SnapshotFields{
			PartyType:   partyType,
			Territory:   doc.Territory,
			GSTIN:       doc.GSTIN,
			GSTCategory: doc.GSTCategory,
		},
	}
}

// addParty adds the party ledger after the group it is filed under.
func addParty(set *refSet, party domain.MasterRef) {
	if strings.TrimSpace(party.Name) == "" {
		return
	}
	parent := strings.TrimSpace(party.ParentGroup)
	if parent != "" && !domain.IsPredefinedGroup(parent) {
		set.add(domain.MasterRef{
			Type:        domain.MasterGroup,
			Name:        parent,
			ParentGroup: party.Type.DefaultParent(),
		})
	}
	set.add(party)
}

func costCentreRef(name string) domain.MasterRef {
	return domain.MasterRef{Type: domain.MasterCostCentre, Name: name}
}

// addLines adds the references carried by item and tax rows, grouped by
// master type so related requests sit together. Stock groups come first.
// Tax ledgers sit under Duties & Taxes, which every company has.
func addLines(set *refSet, doc domain.TransactionDocument) {
	for _, it := range doc.Items {
		if strings.TrimSpace(it.ItemCode) == "" {
			continue
		}
		if sg := domain.StockGroupForItemGroup(it.ItemGroup); !domain.IsPrimaryStockGroup(sg) {
			set.add(domain.MasterRef{Type: domain.MasterStockGroup, Name: sg})
		}
	}
	for _, it := range doc.Items {
		set.add(domain.MasterRef{
			Type:        domain.MasterItem,
			Name:        it.ItemCode,
			ParentGroup: domain.StockGroupForItemGroup(it.ItemGroup),
			Fields: domain.SnapshotFields{
				ItemCode:  it.ItemCode,
				ItemName:  it.ItemName,
				ItemGroup: it.ItemGroup,
				StockUOM:  it.StockUOM,
				HSNCode:   it.HSNCode,
			},
		})
	}
	for _, it := range doc.Items {
		set.add(domain.MasterRef{Type: domain.MasterUnit, Name: it.StockUOM})
	}
	for _, it := range doc.Items {
		set.add(domain.MasterRef{Type: domain.MasterGodown, Name: it.Warehouse})
	}
	for _, tax := range doc.Taxes {
		set.add(domain.MasterRef{
			Type:        domain.MasterLedger,
			Name:        tax.AccountHead,
			ParentGroup: domain.ParentDutiesAndTaxes,
			Fields:      domain.SnapshotFields{AccountType: "Tax"},
		})
	}
	for _, it := range doc.Items {
		set.add(costCentreRef(it.CostCenter))
	}
	for _, tax := range doc.Taxes {
		set.add(costCentreRef(tax.CostCenter))
	}
}

// Find returns the reference in doc matching ref, if doc still names it.
func Find(doc domain.TransactionDocument, ref domain.MasterRef) (domain.MasterRef, bool) {
	for _, r := range Extract(doc) {
		if r.SameMaster(ref) {
			return r, true
		}
	}
	return domain.MasterRef{}, false
}
