package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wI2L/jsondiff"
)

// SnapshotFields are the source values a master is created from. Field
// names double as the names reported by drift detection.
type SnapshotFields struct {
	MasterName  string `json:"master_name,omitempty"`
	ParentGroup string `json:"parent_group,omitempty"`
	PartyType   string `json:"party_type,omitempty"`
	Territory   string `json:"territory,omitempty"`
	GSTIN       string `json:"gstin,omitempty"`
	GSTCategory string `json:"gst_category,omitempty"`
	ItemCode    string `json:"item_code,omitempty"`
	ItemName    string `json:"item_name,omitempty"`
	ItemGroup   string `json:"item_group,omitempty"`
	StockUOM    string `json:"stock_uom,omitempty"`
	HSNCode     string `json:"hsn_code,omitempty"`
	AccountType string `json:"account_type,omitempty"`
}

// SourceSnapshot captures the source document's relevant fields when a
// request is created. It is never modified afterwards.
type SourceSnapshot struct {
	Doctype  string         `json:"doctype"`
	Document string         `json:"document"`
	Modified time.Time      `json:"modified"`
	TakenAt  time.Time      `json:"taken_at"`
	Fields   SnapshotFields `json:"fields"`
}

// DriftReport is the outcome of comparing a stored snapshot with live data.
type DriftReport struct {
	// ChangedFields lists changed field names in sorted order.
	ChangedFields []string `json:"changed_fields"`
	// ReferenceMissing is set when the live document no longer names the master.
	ReferenceMissing bool `json:"reference_missing,omitempty"`
	// Checked is false when there was nothing to compare against, e.g. a
	// request raised by hand.
	Checked bool `json:"checked"`
}

// HasDrift reports whether the live data differs from the snapshot.
func (d DriftReport) HasDrift() bool {
	return d.ReferenceMissing || len(d.ChangedFields) > 0
}

// Fields returns the names to surface to the caller.
func (d DriftReport) Fields() []string {
	if d.ReferenceMissing && len(d.ChangedFields) == 0 {
		return []string{"reference"}
	}
	return d.ChangedFields
}

// CompareSnapshots returns the names of fields that differ between stored
// and live, sorted. Neither argument is modified.
func CompareSnapshots(stored, live SnapshotFields) ([]string, error) {
	patch, err := jsondiff.Compare(stored, live)
	if err != nil {
		return nil, fmt.Errorf("compare snapshots: %w", err)
	}

	seen := make(map[string]struct{}, len(patch))
	changed := make([]string, 0, len(patch))
	for _, op := range patch {
		field := strings.TrimPrefix(fmt.Sprint(op.Path), "/")
		if i := strings.IndexByte(field, '/'); i >= 0 {
			field = field[:i]
		}
		if field == "" {
			// whole-document replacement: fall back to a per-field walk
			return diffFieldMaps(stored.asMap(), live.asMap()), nil
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		changed = append(changed, field)
	}
	sort.Strings(changed)
	return changed, nil
}

func (f SnapshotFields) asMap() map[string]string {
	return map[string]string{
		"master_name":  f.MasterName,
		"parent_group": f.ParentGroup,
		"party_type":   f.PartyType,
		"territory":    f.Territory,
		"gstin":        f.GSTIN,
		"gst_category": f.GSTCategory,
		"item_code":    f.ItemCode,
		"item_name":    f.ItemName,
		"item_group":   f.ItemGroup,
		"stock_uom":    f.StockUOM,
		"hsn_code":     f.HSNCode,
		"account_type": f.AccountType,
	}
}

func diffFieldMaps(a, b map[string]string) []string {
	var changed []string
	for k, v := range a {
		if b[k] != v {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
