package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cardmint/internal/catalog"
	"cardmint/internal/queue"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Card catalog utilities",
	}
	catalogCmd.AddCommand(newCatalogIngestCommand(ctx))
	catalogCmd.AddCommand(newCatalogCountsCommand(ctx))
	return catalogCmd
}

func openCatalog(ctx *commandContext) (*catalog.Store, func(), error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	cat, err := catalog.New(store.DB())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return cat, func() { store.Close() }, nil
}

func newCatalogIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <csv-file>",
		Short: "Load card reference data from a CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open catalog file: %w", err)
			}
			defer file.Close()

			cat, closeStore, err := openCatalog(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			result, err := cat.IngestCSV(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d sets and %d cards\n", result.Sets, result.Cards)
			return nil
		},
	}
}

func newCatalogCountsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Show catalog table sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, closeStore, err := openCatalog(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			sets, cards, err := cat.Counts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d sets, %d cards\n", sets, cards)
			return nil
		},
	}
}
