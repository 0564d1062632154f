package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Data-Analyst4/tally-connect/internal/app/modules"
	"github.com/Data-Analyst4/tally-connect/internal/config"
	"github.com/Data-Analyst4/tally-connect/internal/infrastructure"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the master catalog",
	}
	cmd.AddCommand(newCatalogRefreshCmd())
	return cmd
}

func newCatalogRefreshCmd() *cobra.Command {
	var companies []string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Export masters from Tally and print the snapshot status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(companies) == 0 {
				companies = cfg.Catalog.Companies
			}
			if len(companies) == 0 {
				return fmt.Errorf("no company given and catalog.companies is empty")
			}

			cat, closeFn, err := newCatalogModule(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			out := make([]any, 0, len(companies))
			for _, company := range companies {
				if _, err := cat.Catalog().ForceRefresh(cmd.Context(), company); err != nil {
					return fmt.Errorf("refresh %s: %w", company, err)
				}
				out = append(out, cat.Catalog().Status(company))
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringSliceVar(&companies, "company", nil, "Company to refresh (repeatable; defaults to catalog.companies)")
	return cmd
}

// newCatalogModule builds the catalog the server uses, without a database.
// With redis enabled the refreshed snapshot is shared with running servers.
func newCatalogModule(ctx context.Context, cfg *config.Config) (*modules.CatalogModule, func(), error) {
	rdb, err := infrastructure.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis: %w", err)
	}
	infra := &modules.Infrastructure{Config: cfg, Redis: rdb}
	return modules.NewCatalogModule(infra), infra.Close, nil
}
