package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/catalog"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// CatalogRefresher is the part of *catalog.Catalog the refresh job uses.
type CatalogRefresher interface {
	ForceRefresh(ctx context.Context, company string) (*catalog.Snapshot, error)
	Companies() []string
}

// CatalogRefreshWorker reloads the snapshot of every configured company and
// of every company the catalog has already loaded.
type CatalogRefreshWorker struct {
	river.WorkerDefaults[CatalogRefreshArgs]
	catalog   CatalogRefresher
	companies []string
}

// NewCatalogRefreshWorker creates a CatalogRefreshWorker.
func NewCatalogRefreshWorker(c CatalogRefresher, companies []string) *CatalogRefreshWorker {
	return &CatalogRefreshWorker{catalog: c, companies: companies}
}

// Work refreshes each company in turn. One failing company does not stop
// the others.
func (w *CatalogRefreshWorker) Work(ctx context.Context, _ *river.Job[CatalogRefreshArgs]) error {
	if w == nil || w.catalog == nil {
		return fmt.Errorf("catalog refresh worker is not initialized")
	}

	var errs []error
	companies := w.targets()
	for _, company := range companies {
		if _, err := w.catalog.ForceRefresh(ctx, company); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", company, err))
		}
	}

	logger.Info("catalog refresh completed",
		zap.Int("companies", len(companies)),
		zap.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

func (w *CatalogRefreshWorker) targets() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{w.companies, w.catalog.Companies()} {
		for _, c := range list {
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
