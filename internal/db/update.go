package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpdateConfig defines the parameters for a bulk update-in-place operation.
type UpdateConfig struct {
	Table   string   // target table (e.g., "Neuron")
	Keys    []string // columns identifying the row to update
	Columns []string // columns to overwrite
}

// BulkUpdate overwrites Columns on existing rows matched by Keys. Rows with
// no match are silently ignored, never created. Each element of rows holds
// the key values followed by the column values, in config order. Returns the
// number of rows actually updated.
func BulkUpdate(ctx context.Context, pool Pool, cfg UpdateConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Keys) == 0 {
		return 0, eris.New("db: update: no key columns specified")
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: update: no columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: update: begin tx")
	}
	defer tx.Rollback(ctx)

	allCols := append(append([]string{}, cfg.Keys...), cfg.Columns...)
	tempTable, err := stageRows(ctx, tx, cfg.Table, allCols, rows)
	if err != nil {
		return 0, err
	}

	var setClauses []string
	for _, col := range cfg.Columns {
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = t.%s", q, q))
	}

	var onClauses []string
	for _, key := range cfg.Keys {
		q := pgx.Identifier{key}.Sanitize()
		onClauses = append(onClauses, fmt.Sprintf("x.%s = t.%s", q, q))
	}

	updateSQL := fmt.Sprintf(
		"UPDATE %s x SET %s FROM %s t WHERE %s",
		pgx.Identifier{cfg.Table}.Sanitize(),
		strings.Join(setClauses, ", "),
		pgx.Identifier{tempTable}.Sanitize(),
		strings.Join(onClauses, " AND "),
	)

	tag, err := tx.Exec(ctx, updateSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: update: UPDATE FROM for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: update: commit tx")
	}

	return tag.RowsAffected(), nil
}
