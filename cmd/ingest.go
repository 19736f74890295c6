package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/realm-ml/interp-ingest/internal/config"
	"github.com/realm-ml/interp-ingest/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load batch files into the feature store",
	Long:  "Streams JSONL batch files (optionally gzipped) into the store: explanations, activation examples, and feature statistics.",
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

// storePool creates a pgxpool.Pool for the feature store.
func storePool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.Store.DatabaseURL
	if dsn == "" {
		return nil, eris.New("ingest: no database_url configured (set store.database_url or INTERP_STORE_DATABASE_URL)")
	}

	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: parse database_url")
	}
	if cfg.Store.MaxConns > 0 {
		pc.MaxConns = cfg.Store.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ingest: ping database")
	}

	fmt.Println("Connected to database")
	return pool, nil
}

// ingestConfig returns the ingestion config with any --source-set override
// applied.
func ingestConfig(cmd *cobra.Command) config.IngestConfig {
	ic := cfg.Ingest
	if set, _ := cmd.Flags().GetString("source-set"); set != "" {
		ic.SourceSet = set
	}
	return ic
}

// confirmer builds the yes/no gate for destructive steps, honoring --yes.
func confirmer(cmd *cobra.Command) ingest.Confirmer {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return ingest.AutoConfirm
	}
	return ingest.TerminalConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())
}
