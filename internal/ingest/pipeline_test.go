package ingest

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	name   string
	result *Result
	err    error
	runs   int
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Run(ctx context.Context) (*Result, error) {
	s.runs++
	return s.result, s.err
}

func expectRunStart(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ingest.run_log`)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func expectRunComplete(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec(`UPDATE ingest.run_log\s+SET status = 'complete'`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func expectRunFail(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec(`UPDATE ingest.run_log\s+SET status = 'failed'`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func TestPipeline_RunsStagesInOrder(t *testing.T) {
	mock := newMockPool(t)

	first := &fakeStage{name: "first", result: &Result{Inserted: 3}}
	second := &fakeStage{name: "second", result: &Result{Updated: 2}}

	expectRunStart(mock)
	expectRunComplete(mock)
	expectRunStart(mock)
	expectRunComplete(mock)

	p := NewPipeline(NewRunLog(mock), first, second)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 1, first.runs)
	assert.Equal(t, 1, second.runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_FatalErrorAborts(t *testing.T) {
	mock := newMockPool(t)

	first := &fakeStage{name: "first", err: Fatal(errors.New("schema missing"))}
	second := &fakeStage{name: "second", result: &Result{}}

	expectRunStart(mock)
	expectRunFail(mock)

	p := NewPipeline(NewRunLog(mock), first, second)
	err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	assert.Equal(t, 1, first.runs)
	assert.Zero(t, second.runs, "stages after a fatal failure must not run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_NonFatalErrorContinues(t *testing.T) {
	mock := newMockPool(t)

	first := &fakeStage{name: "first", err: errors.New("one file unreadable")}
	second := &fakeStage{name: "second", result: &Result{Inserted: 1}}

	expectRunStart(mock)
	expectRunFail(mock)
	expectRunStart(mock)
	expectRunComplete(mock)

	p := NewPipeline(NewRunLog(mock), first, second)
	err := p.Run(context.Background())
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "1 of 2 stages failed")

	assert.Equal(t, 1, second.runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_CancelledContext(t *testing.T) {
	mock := newMockPool(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stage := &fakeStage{name: "first", result: &Result{}}
	p := NewPipeline(NewRunLog(mock), stage)

	require.Error(t, p.Run(ctx))
	assert.Zero(t, stage.runs)
}

func TestResultAdd(t *testing.T) {
	total := &Result{Inserted: 1, Metadata: map[string]any{"a": 1}}
	total.Add(&Result{Files: 2, Inserted: 4, Skipped: 3, Metadata: map[string]any{"b": 2}})
	total.Add(nil)

	assert.Equal(t, 2, total.Files)
	assert.Equal(t, int64(5), total.Inserted)
	assert.Equal(t, int64(3), total.Skipped)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, total.Metadata)
}
