package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/realm-ml/interp-ingest/internal/ingest"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent ingestion runs",
	Long:  "Lists recorded ingestion runs with their stage, status, duration, and row counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		entries, err := ingest.NewRunLog(pool).ListAll(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if len(entries) == 0 {
			fmt.Println("No ingestion runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSTAGE\tSTATUS\tDURATION\tFILES\tINSERTED\tUPDATED\tSKIPPED\tDELETED")
		for _, e := range entries {
			duration := "-"
			if e.CompletedAt != nil {
				duration = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				e.StartedAt.Format("2006-01-02 15:04:05"),
				e.Stage, e.Status, duration,
				e.Files, e.Inserted, e.Updated, e.Skipped, e.Deleted,
			)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
