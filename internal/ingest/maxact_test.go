package ingest

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxActFixer_NothingToFix(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM "Neuron" n`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))

	f := NewMaxActFixer(mock, "", DenyAll)
	result, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxActFixer_Confirmed(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM "Neuron" n`).
		WithArgs("m").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))
	mock.ExpectExec(`UPDATE "Neuron" n\s+SET "maxActApprox" = s\.max_value`).
		WithArgs("m").
		WillReturnResult(pgxmock.NewResult("UPDATE", 7))

	f := NewMaxActFixer(mock, "m", AutoConfirm)
	result, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxActFixer_Declined(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM "Neuron" n`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	f := NewMaxActFixer(mock, "", DenyAll)
	_, err := f.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declined")
}
