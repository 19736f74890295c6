package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/realm-ml/interp-ingest/internal/ingest"
)

var ingestFeaturesCmd = &cobra.Command{
	Use:   "features <batch-dir>",
	Short: "Load feature statistics batch files",
	Long: `Load feature statistics batch files from a directory.

Statistics are applied as in-place updates to existing feature rows: records
for features that were never created update nothing and are counted as
skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "ingest features: migrate")
		}

		maxRecords, _ := cmd.Flags().GetInt("max-records")
		stage := ingest.NewFeatureStatsUpdater(pool, ingestConfig(cmd), args[0], maxRecords)

		if err := ingest.NewPipeline(ingest.NewRunLog(pool), stage).Run(ctx); err != nil {
			return eris.Wrap(err, "ingest features")
		}

		fmt.Println("Feature statistics update complete")
		return nil
	},
}

func init() {
	ingestFeaturesCmd.Flags().Int("max-records", 0, "stop after this many records (0 = no limit)")
	ingestFeaturesCmd.Flags().String("source-set", "", "source set name (default from config)")
	ingestCmd.AddCommand(ingestFeaturesCmd)
}
