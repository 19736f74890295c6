package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/realm-ml/interp-ingest/internal/ingest"
)

var ingestRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full ingestion pipeline",
	Long: `Run every ingestion stage in dependency order: explanations (which
bootstrap the entity chain and create feature rows), then activations, then
feature statistics, then top-K pruning. Stages whose directory flag is unset
are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		explDir, _ := cmd.Flags().GetString("explanations")
		actDir, _ := cmd.Flags().GetString("activations")
		featDir, _ := cmd.Flags().GetString("features")
		if explDir == "" && actDir == "" && featDir == "" {
			return eris.New("ingest run: at least one of --explanations, --activations, --features is required")
		}

		clear, _ := cmd.Flags().GetBool("clear")
		skipPruning, _ := cmd.Flags().GetBool("skip-pruning")
		topK, _ := cmd.Flags().GetInt("top-k")
		maxRecords, _ := cmd.Flags().GetInt("max-records")

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "ingest run: migrate")
		}

		ic := ingestConfig(cmd)
		var stages []ingest.Stage
		if explDir != "" {
			stages = append(stages, ingest.NewExplanationImporter(pool, ic, explDir, maxRecords))
		}
		if actDir != "" {
			stages = append(stages, ingest.NewActivationImporter(pool, ic, actDir, clear, confirmer(cmd), maxRecords))
		}
		if featDir != "" {
			stages = append(stages, ingest.NewFeatureStatsUpdater(pool, ic, featDir, maxRecords))
		}
		if actDir != "" && !skipPruning {
			stages = append(stages, ingest.NewPruner(pool, ic, actDir, "", topK))
		}

		if err := ingest.NewPipeline(ingest.NewRunLog(pool), stages...).Run(ctx); err != nil {
			return eris.Wrap(err, "ingest run")
		}

		fmt.Println("Pipeline complete")
		return nil
	},
}

func init() {
	ingestRunCmd.Flags().String("explanations", "", "directory of explanation batch files")
	ingestRunCmd.Flags().String("activations", "", "directory of activation batch files")
	ingestRunCmd.Flags().String("features", "", "directory of feature statistics batch files")
	ingestRunCmd.Flags().Bool("clear", false, "delete existing activations for the dataset first")
	ingestRunCmd.Flags().Bool("skip-pruning", false, "keep all loaded examples instead of pruning to top K")
	ingestRunCmd.Flags().Int("top-k", 0, "examples to keep per feature (0 = configured default)")
	ingestRunCmd.Flags().Bool("yes", false, "answer yes to confirmation prompts")
	ingestRunCmd.Flags().Int("max-records", 0, "stop each stage after this many records (0 = no limit)")
	ingestRunCmd.Flags().String("source-set", "", "source set name (default from config)")
	ingestCmd.AddCommand(ingestRunCmd)
}
