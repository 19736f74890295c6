package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertConfig defines the parameters for a bulk insert-or-skip operation.
type InsertConfig struct {
	Table        string   // target table (e.g., "Explanation")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint; conflicts are no-ops
	Parent       *ParentGuard
}

// ParentGuard restricts an insert to rows whose parent row exists. Rows
// without a parent are silently dropped, not errors.
type ParentGuard struct {
	Table string
	// On maps child columns to parent columns.
	On [][2]string
}

// BulkInsert inserts rows with duplicate-key conflicts treated as no-ops.
// 1. Creates a temp table with the same columns
// 2. COPYs rows into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO NOTHING
// The whole operation runs in one transaction: all rows commit together or
// the batch rolls back. Returns the number of rows actually inserted and the
// number dropped by the parent guard (always zero without one); the remaining
// difference from len(rows) is duplicate-key no-ops.
func BulkInsert(ctx context.Context, pool Pool, cfg InsertConfig, rows [][]any) (inserted, dropped int64, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, 0, eris.New("db: insert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, 0, eris.New("db: insert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, 0, eris.Wrap(err, "db: insert: begin tx")
	}
	defer tx.Rollback(ctx)

	tempTable, err := stageRows(ctx, tx, cfg.Table, cfg.Columns, rows)
	if err != nil {
		return 0, 0, err
	}

	colList := quoteAndJoin(cfg.Columns)
	selectList := prefixAndJoin("t", cfg.Columns)

	var guard string
	if cfg.Parent != nil {
		var conds []string
		for _, pair := range cfg.Parent.On {
			conds = append(conds, fmt.Sprintf("p.%s = t.%s",
				pgx.Identifier{pair[1]}.Sanitize(), pgx.Identifier{pair[0]}.Sanitize()))
		}
		parentSQL := fmt.Sprintf("SELECT 1 FROM %s p WHERE %s",
			pgx.Identifier{cfg.Parent.Table}.Sanitize(), strings.Join(conds, " AND "))
		guard = fmt.Sprintf(" WHERE EXISTS (%s)", parentSQL)

		countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s t WHERE NOT EXISTS (%s)",
			pgx.Identifier{tempTable}.Sanitize(), parentSQL)
		if err := tx.QueryRow(ctx, countSQL).Scan(&dropped); err != nil {
			return 0, 0, eris.Wrapf(err, "db: insert: count parent-guard drops for %s", cfg.Table)
		}
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s t%s ON CONFLICT (%s) DO NOTHING",
		pgx.Identifier{cfg.Table}.Sanitize(),
		colList,
		selectList,
		pgx.Identifier{tempTable}.Sanitize(),
		guard,
		quoteAndJoin(cfg.ConflictKeys),
	)

	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "db: insert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, eris.Wrap(err, "db: insert: commit tx")
	}

	return tag.RowsAffected(), dropped, nil
}

// stageRows creates a temp table mirroring the target and COPYs rows into it.
func stageRows(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) (string, error) {
	tempTable := fmt.Sprintf("_tmp_%s", strings.ToLower(table))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		pgx.Identifier{table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return "", eris.Wrapf(err, "db: create temp table for %s", table)
	}

	copySource := pgx.CopyFromRows(rows)
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, columns, copySource); err != nil {
		return "", eris.Wrapf(err, "db: COPY into temp table for %s", table)
	}

	return tempTable, nil
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// prefixAndJoin quotes each column with a table alias prefix.
func prefixAndJoin(alias string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = alias + "." + pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
