package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/realm-ml/interp-ingest/internal/ingest"
)

var ingestExplanationsCmd = &cobra.Command{
	Use:   "explanations <batch-dir>",
	Short: "Load explanation batch files",
	Long: `Load explanation batch files from a directory.

Bootstraps the owning user, model, source set, and per-layer sources on first
contact, creates any referenced feature rows, then inserts explanations in
batches. Re-running the same input is a no-op: explanation ids are
deterministic and duplicates are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "ingest explanations: migrate")
		}

		maxRecords, _ := cmd.Flags().GetInt("max-records")
		stage := ingest.NewExplanationImporter(pool, ingestConfig(cmd), args[0], maxRecords)

		if err := ingest.NewPipeline(ingest.NewRunLog(pool), stage).Run(ctx); err != nil {
			return eris.Wrap(err, "ingest explanations")
		}

		fmt.Println("Explanation import complete")
		return nil
	},
}

func init() {
	ingestExplanationsCmd.Flags().Int("max-records", 0, "stop after this many records (0 = no limit)")
	ingestExplanationsCmd.Flags().String("source-set", "", "source set name (default from config)")
	ingestCmd.AddCommand(ingestExplanationsCmd)
}
