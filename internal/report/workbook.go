// Package report exports master requests and their audit trail as an
// Excel workbook for reviewers outside the system.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/governance/audit"
)

// Sheet names.
const (
	SheetRequests = "Requests"
	SheetAudit    = "Audit"
)

var requestHeaders = []string{
	"ID", "Company", "Master Type", "Master Name", "Effective Name", "Parent Group",
	"Status", "Priority", "Source Document", "Requested By", "Assigned To",
	"Approved By", "Rejected By", "Rejection Reason", "Attempts", "Sync Error Kind",
	"Sync Error", "Notifications", "Created At", "Approved At", "Completed At",
}

var auditHeaders = []string{"Time", "Action", "Resource", "Actor", "Details"}

// Workbook builds the export. Requests come first, one row each, in the
// order given; audit entries, when any, go on a second sheet.
func Workbook(reqs []*domain.MasterCreationRequest, entries []audit.Entry) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetRequests); err != nil {
		return nil, err
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return nil, err
	}

	if err := writeHeader(f, SheetRequests, requestHeaders, header); err != nil {
		return nil, err
	}
	for i, r := range reqs {
		if err := f.SetSheetRow(SheetRequests, cell(1, i+2), requestRow(r)); err != nil {
			return nil, fmt.Errorf("write request %s: %w", r.ID, err)
		}
	}
	if err := f.SetColWidth(SheetRequests, "A", "A", 38); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(SheetRequests, "B", "F", 24); err != nil {
		return nil, err
	}

	if len(entries) > 0 {
		if _, err := f.NewSheet(SheetAudit); err != nil {
			return nil, err
		}
		if err := writeHeader(f, SheetAudit, auditHeaders, header); err != nil {
			return nil, err
		}
		for i, e := range entries {
			row := []interface{}{
				e.CreatedAt.UTC().Format(time.RFC3339),
				e.Action,
				e.ResourceType + "/" + e.ResourceID,
				e.Actor,
				formatDetails(e.Details),
			}
			if err := f.SetSheetRow(SheetAudit, cell(1, i+2), &row); err != nil {
				return nil, fmt.Errorf("write audit entry %s: %w", e.ID, err)
			}
		}
	}
	return f, nil
}

// Write renders the workbook to w.
func Write(w io.Writer, reqs []*domain.MasterCreationRequest, entries []audit.Entry) error {
	f, err := Workbook(reqs, entries)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return err
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", style); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func requestRow(r *domain.MasterCreationRequest) *[]interface{} {
	source := ""
	if r.SourceDocument != "" {
		source = r.SourceDoctype + " " + r.SourceDocument
	}
	row := []interface{}{
		r.ID,
		r.Company,
		string(r.MasterType),
		r.MasterName,
		r.EffectiveName(),
		r.EffectiveParent(),
		string(r.Status),
		string(r.Priority),
		source,
		r.RequestedBy,
		r.AssignedTo,
		r.ApprovedBy,
		r.RejectedBy,
		r.RejectionReason,
		r.Attempts,
		string(r.SyncErrorKind),
		r.SyncError,
		r.NotificationHistory.Len(),
		formatTime(&r.CreatedAt),
		formatTime(r.ApprovedAt),
		formatTime(r.CompletedAt),
	}
	return &row
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDetails(d map[string]interface{}) string {
	if len(d) == 0 {
		return ""
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, d[k])
	}
	return strings.Join(parts, "; ")
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
