package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/shahryar908/visa-scraper/config"
	"github.com/shahryar908/visa-scraper/models"
	"github.com/shahryar908/visa-scraper/storage"
)

func newRecordsCmd(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List visa records held in the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cfg.Store == config.StoreNone || cfg.StoreDSN == "" {
				return fmt.Errorf("records needs --store and --store-dsn")
			}

			store, err := storage.Open(cmd.Context(), cfg.Store, cfg.StoreDSN)
			if err != nil {
				return fmt.Errorf("open %s store: %w", cfg.Store, err)
			}
			defer store.Close()

			records, err := store.ListVisaRecords(cmd.Context(), flags.country)
			if err != nil {
				return err
			}
			renderRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.country, "country", "", "Only list records for this country (e.g. Germany)")
	return cmd
}

func renderRecords(w io.Writer, records []*models.VisaRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Country", "Visa Type", "Requirements", "Processing Time", "Validity", "Fees", "Entry", "Allowed Stay", "Embassy"})
	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.Country,
			rec.VisaType,
			strings.Join(rec.Requirements, "\n"),
			rec.ProcessingTime,
			rec.Validity,
			rec.Fees,
			rec.EntryType,
			rec.AllowedStay,
			rec.EmbassyLink,
		})
		t.AppendSeparator()
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", len(records)})
	t.Render()
}
