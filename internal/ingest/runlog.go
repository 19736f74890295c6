package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/realm-ml/interp-ingest/internal/db"
)

// RunEntry represents a row in ingest.run_log.
type RunEntry struct {
	ID          string         `json:"id"`
	Stage       string         `json:"stage"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Files       int            `json:"files"`
	Inserted    int64          `json:"inserted"`
	Updated     int64          `json:"updated"`
	Skipped     int64          `json:"skipped"`
	Deleted     int64          `json:"deleted"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RunLog provides read/write access to the ingest.run_log table.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by the given connection pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a stage run and returns its id.
func (l *RunLog) Start(ctx context.Context, stage string) (string, error) {
	id := uuid.NewString()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO ingest.run_log (id, stage, status, started_at)
		 VALUES ($1, $2, 'running', now())`,
		id, stage,
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start stage %s", stage)
	}
	return id, nil
}

// Complete marks a stage run as successfully completed.
func (l *RunLog) Complete(ctx context.Context, runID string, result *Result) error {
	var metaJSON []byte
	if result != nil && result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	r := Result{}
	if result != nil {
		r = *result
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE ingest.run_log
		 SET status = 'complete', completed_at = now(),
		     files = $1, inserted = $2, updated = $3, skipped = $4, deleted = $5,
		     metadata = $6
		 WHERE id = $7`,
		r.Files, r.Inserted, r.Updated, r.Skipped, r.Deleted, metaJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", runID)
	}
	return nil
}

// Fail marks a stage run as failed with an error message.
func (l *RunLog) Fail(ctx context.Context, runID string, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE ingest.run_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", runID)
	}
	return nil
}

// ListAll returns all run log entries ordered by most recent first.
func (l *RunLog) ListAll(ctx context.Context) ([]RunEntry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, stage, status, started_at, completed_at,
		        files, inserted, updated, skipped, deleted, error, metadata
		 FROM ingest.run_log ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list all")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var completedAt *time.Time
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Stage, &e.Status, &e.StartedAt, &completedAt,
			&e.Files, &e.Inserted, &e.Updated, &e.Skipped, &e.Deleted, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		e.CompletedAt = completedAt
		if errStr != nil {
			e.Error = *errStr
		}
		if metaJSON != nil {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, eris.Wrapf(err, "runlog: decode metadata for run %s", e.ID)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
