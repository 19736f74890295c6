package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/realm-ml/interp-ingest/internal/ingest"
)

var pruneCmd = &cobra.Command{
	Use:   "prune [batch-dir]",
	Short: "Prune activation examples to the top K per feature",
	Long: `Delete all but the K strongest activation examples of every feature,
ranked by maxValue. Ties at the boundary are kept. The model is taken from
--model, or derived from the batch files in batch-dir.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		model, _ := cmd.Flags().GetString("model")
		topK, _ := cmd.Flags().GetInt("top-k")

		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		if model == "" && dir == "" {
			return eris.New("prune: pass a batch directory or --model")
		}

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		stage := ingest.NewPruner(pool, ingestConfig(cmd), dir, model, topK)
		if err := ingest.NewPipeline(ingest.NewRunLog(pool), stage).Run(ctx); err != nil {
			return eris.Wrap(err, "prune")
		}

		fmt.Println("Prune complete")
		return nil
	},
}

func init() {
	pruneCmd.Flags().String("model", "", "model id to prune (canonical store id)")
	pruneCmd.Flags().Int("top-k", 0, "examples to keep per feature (0 = configured default)")
	pruneCmd.Flags().String("source-set", "", "source set name (default from config)")
	rootCmd.AddCommand(pruneCmd)
}
