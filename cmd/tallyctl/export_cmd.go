package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/governance/audit"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
	"github.com/Data-Analyst4/tally-connect/internal/report"
	"github.com/Data-Analyst4/tally-connect/internal/repository"
)

// exportPageSize bounds one store read.
const exportPageSize = 500

func newExportCmd() *cobra.Command {
	var (
		out      string
		statuses string
		company  string
		since    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write master requests and their audit trail to an Excel workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := exportFilter(company, statuses)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := connectDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store := repository.NewPostgresStore(db.Pool)
			var reqs []*domain.MasterCreationRequest
			for {
				page, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				reqs = append(reqs, page...)
				if len(page) < filter.Limit {
					break
				}
				filter.Offset += len(page)
			}

			auditFilter := audit.Filter{ResourceType: domain.AggregateMasterRequest}
			if since > 0 {
				auditFilter.Since = time.Now().Add(-since)
			}
			entries, err := audit.NewLogger(db.Pool).List(cmd.Context(), auditFilter)
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := report.Write(f, reqs, entries); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			logger.Info("Export written",
				zap.String("file", out),
				zap.Int("requests", len(reqs)),
				zap.Int("audit_entries", len(entries)),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "requests.xlsx", "Output workbook path")
	cmd.Flags().StringVar(&statuses, "status", "", "Comma separated statuses to include")
	cmd.Flags().StringVar(&company, "company", "", "Only requests of this company")
	cmd.Flags().DurationVar(&since, "audit-since", 0, "Only audit entries newer than this (0 for all)")
	return cmd
}

func exportFilter(company, statuses string) (repository.ListFilter, error) {
	filter := repository.ListFilter{Company: strings.TrimSpace(company), Limit: exportPageSize}
	for _, s := range strings.Split(statuses, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		st := domain.Status(s)
		if !st.Valid() {
			return repository.ListFilter{}, fmt.Errorf("unknown status %q", s)
		}
		filter.Status = append(filter.Status, st)
	}
	return filter, nil
}
