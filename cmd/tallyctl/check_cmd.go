package main

import (
	"github.com/spf13/cobra"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/resolver"
	"github.com/Data-Analyst4/tally-connect/internal/source"
)

type checkOutput struct {
	resolver.Resolution
	Ready bool `json:"ready"`
}

func newCheckCmd() *cobra.Command {
	var ref domain.DocumentRef

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report the masters a transaction needs and which are missing in Tally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			docs := source.NewFrappeClient(cfg.Source.BaseURL, cfg.Source.APIKey, cfg.Source.APISecret, cfg.Source.Timeout, nil)
			doc, err := docs.Fetch(cmd.Context(), ref)
			if err != nil {
				return source.AsAppError(ref, err)
			}

			cat, closeFn, err := newCatalogModule(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			// Resolve only reads the catalog.
			res, err := resolver.New(cat.Catalog(), nil, nil, nil).Resolve(cmd.Context(), doc)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), checkOutput{Resolution: res, Ready: res.Ready()})
		},
	}

	cmd.Flags().StringVar(&ref.Doctype, "doctype", "", "Source doctype, e.g. Sales Invoice (required)")
	cmd.Flags().StringVar(&ref.Name, "name", "", "Source document name (required)")
	_ = cmd.MarkFlagRequired("doctype")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
