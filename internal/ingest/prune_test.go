package ingest

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPruner_Run(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectQuery(`SELECT DISTINCT layer FROM "Activation"`).
		WithArgs("m", "%-res-jb").
		WillReturnRows(pgxmock.NewRows([]string{"layer"}).
			AddRow("0-res-jb").
			AddRow("1-res-jb"))

	mock.ExpectExec(`DELETE FROM "Activation" a1`).
		WithArgs("m", "0-res-jb", 20).
		WillReturnResult(pgxmock.NewResult("DELETE", 15))
	mock.ExpectExec(`DELETE FROM "Activation" a1`).
		WithArgs("m", "1-res-jb", 20).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	p := NewPruner(mock, testIngestConfig(), "", "m", 0)
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(22), result.Deleted)
	assert.Equal(t, 20, result.Metadata["top_k"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPruner_ExplicitTopK(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectQuery(`SELECT DISTINCT layer FROM "Activation"`).
		WithArgs("m", "%-res-jb").
		WillReturnRows(pgxmock.NewRows([]string{"layer"}).AddRow("0-res-jb"))

	mock.ExpectExec(`DELETE FROM "Activation" a1`).
		WithArgs("m", "0-res-jb", 5).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	p := NewPruner(mock, testIngestConfig(), "", "m", 5)
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.Deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPruner_NoLayersIsNoOp(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectQuery(`SELECT DISTINCT layer FROM "Activation"`).
		WithArgs("m", "%-res-jb").
		WillReturnRows(pgxmock.NewRows([]string{"layer"}))

	p := NewPruner(mock, testIngestConfig(), "", "m", 0)
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, result.Deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPruner_DerivesModelFromBatchDir(t *testing.T) {
	dir := t.TempDir()
	writeBatchFile(t, dir, "batch-000.jsonl",
		`{"modelId":"GPT2_small","layer":"0-res-jb","index":"5"}`,
	)

	mock := newMockPool(t)

	mock.ExpectQuery(`SELECT DISTINCT layer FROM "Activation"`).
		WithArgs("gpt2-small", "%-res-jb").
		WillReturnRows(pgxmock.NewRows([]string{"layer"}))

	p := NewPruner(mock, testIngestConfig(), dir, "", 0)
	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
