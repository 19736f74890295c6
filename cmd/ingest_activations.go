package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/realm-ml/interp-ingest/internal/ingest"
)

var ingestActivationsCmd = &cobra.Command{
	Use:   "activations <batch-dir>",
	Short: "Load activation batch files",
	Long: `Load activation example batch files from a directory.

Activations never create feature rows: candidates whose feature is absent are
dropped. After loading, each feature's examples are pruned down to the top K
by activation strength unless --skip-pruning is set. Use --clear to delete
previously loaded activations for the dataset first (prompts unless --yes).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "ingest activations: migrate")
		}

		clear, _ := cmd.Flags().GetBool("clear")
		skipPruning, _ := cmd.Flags().GetBool("skip-pruning")
		topK, _ := cmd.Flags().GetInt("top-k")
		maxRecords, _ := cmd.Flags().GetInt("max-records")

		ic := ingestConfig(cmd)
		stages := []ingest.Stage{
			ingest.NewActivationImporter(pool, ic, args[0], clear, confirmer(cmd), maxRecords),
		}
		if !skipPruning {
			stages = append(stages, ingest.NewPruner(pool, ic, args[0], "", topK))
		}

		if err := ingest.NewPipeline(ingest.NewRunLog(pool), stages...).Run(ctx); err != nil {
			return eris.Wrap(err, "ingest activations")
		}

		fmt.Println("Activation import complete")
		return nil
	},
}

func init() {
	ingestActivationsCmd.Flags().Bool("clear", false, "delete existing activations for the dataset first")
	ingestActivationsCmd.Flags().Bool("skip-pruning", false, "keep all loaded examples instead of pruning to top K")
	ingestActivationsCmd.Flags().Int("top-k", 0, "examples to keep per feature (0 = configured default)")
	ingestActivationsCmd.Flags().Bool("yes", false, "answer yes to confirmation prompts")
	ingestActivationsCmd.Flags().Int("max-records", 0, "stop after this many records (0 = no limit)")
	ingestActivationsCmd.Flags().String("source-set", "", "source set name (default from config)")
	ingestCmd.AddCommand(ingestActivationsCmd)
}
