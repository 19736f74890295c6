package ingest

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLogStart(t *testing.T) {
	mock := newMockPool(t)
	l := NewRunLog(mock)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ingest.run_log`)).
		WithArgs(pgxmock.AnyArg(), "explanations").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := l.Start(context.Background(), "explanations")
	require.NoError(t, err)

	_, parseErr := uuid.Parse(id)
	assert.NoError(t, parseErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogComplete(t *testing.T) {
	mock := newMockPool(t)
	l := NewRunLog(mock)

	mock.ExpectExec(`UPDATE ingest.run_log\s+SET status = 'complete'`).
		WithArgs(2, int64(10), int64(0), int64(1), int64(0), pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := l.Complete(context.Background(), "run-1", &Result{
		Files:    2,
		Inserted: 10,
		Skipped:  1,
		Metadata: map[string]any{"model": "m"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogFail(t *testing.T) {
	mock := newMockPool(t)
	l := NewRunLog(mock)

	mock.ExpectExec(`UPDATE ingest.run_log\s+SET status = 'failed'`).
		WithArgs("boom", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, l.Fail(context.Background(), "run-1", "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogListAll(t *testing.T) {
	mock := newMockPool(t)
	l := NewRunLog(mock)

	started := time.Now().Add(-time.Minute)
	completed := time.Now()
	meta := []byte(`{"model":"m"}`)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM ingest.run_log ORDER BY started_at DESC`)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "stage", "status", "started_at", "completed_at",
			"files", "inserted", "updated", "skipped", "deleted", "error", "metadata",
		}).
			AddRow("run-2", "prune", "running", completed, (*time.Time)(nil),
				0, int64(0), int64(0), int64(0), int64(0), (*string)(nil), []byte(nil)).
			AddRow("run-1", "explanations", "complete", started, &completed,
				2, int64(10), int64(0), int64(1), int64(0), (*string)(nil), meta))

	entries, err := l.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "prune", entries[0].Stage)
	assert.Nil(t, entries[0].CompletedAt)

	assert.Equal(t, "explanations", entries[1].Stage)
	assert.Equal(t, int64(10), entries[1].Inserted)
	assert.Equal(t, map[string]any{"model": "m"}, entries[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogListAll_CorruptMetadata(t *testing.T) {
	mock := newMockPool(t)
	l := NewRunLog(mock)

	started := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM ingest.run_log ORDER BY started_at DESC`)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "stage", "status", "started_at", "completed_at",
			"files", "inserted", "updated", "skipped", "deleted", "error", "metadata",
		}).
			AddRow("run-1", "explanations", "complete", started, &started,
				1, int64(1), int64(0), int64(0), int64(0), (*string)(nil), []byte(`{not json`)))

	_, err := l.ListAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode metadata for run run-1")
}
