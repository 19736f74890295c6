package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/realm-ml/interp-ingest/internal/ingest"
)

var fixMaxActCmd = &cobra.Command{
	Use:   "fix-max-act",
	Short: "Backfill missing maxActApprox values",
	Long: `Backfill maxActApprox for features where statistics ingestion left it
zero or null but activation examples exist, using the strongest stored
example. Prompts before writing unless --yes is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		model, _ := cmd.Flags().GetString("model")

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		stage := ingest.NewMaxActFixer(pool, model, confirmer(cmd))
		if err := ingest.NewPipeline(ingest.NewRunLog(pool), stage).Run(ctx); err != nil {
			return eris.Wrap(err, "fix-max-act")
		}

		fmt.Println("Backfill complete")
		return nil
	},
}

func init() {
	fixMaxActCmd.Flags().String("model", "", "restrict the backfill to one model id")
	fixMaxActCmd.Flags().Bool("yes", false, "answer yes to confirmation prompts")
	rootCmd.AddCommand(fixMaxActCmd)
}
