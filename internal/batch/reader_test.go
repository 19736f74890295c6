package batch

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ModelID string `json:"modelId"`
	Layer   string `json:"layer"`
	Index   string `json:"index"`
}

func collect[T any](t *testing.T, ctx context.Context, input string, onSkip func(*MalformedRecordError)) ([]T, error) {
	t.Helper()
	outCh, errCh := Decode[T](ctx, strings.NewReader(input), onSkip)
	var out []T
	for rec := range outCh {
		out = append(out, rec)
	}
	return out, <-errCh
}

func TestDecode_Records(t *testing.T) {
	input := `{"modelId":"M","layer":"0-src","index":"5"}
{"modelId":"M","layer":"0-src","index":"7"}
`
	recs, err := collect[testRecord](t, context.Background(), input, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "5", recs[0].Index)
	assert.Equal(t, "7", recs[1].Index)
}

func TestDecode_EmptyInput(t *testing.T) {
	recs, err := collect[testRecord](t, context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDecode_BlankLinesSkipped(t *testing.T) {
	input := "\n  \n{\"index\":\"1\"}\n\n"
	recs, err := collect[testRecord](t, context.Background(), input, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDecode_MalformedLineSkippedAndCounted(t *testing.T) {
	input := `{"index":"1"}
{truncated
{"index":"2"}
`
	var skipped []*MalformedRecordError
	recs, err := collect[testRecord](t, context.Background(), input, func(e *MalformedRecordError) {
		skipped = append(skipped, e)
	})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	require.Len(t, skipped, 1)
	assert.Equal(t, 2, skipped[0].Line)
}

func TestDecode_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := collect[testRecord](t, ctx, `{"index":"1"}`+"\n", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeGzipFile(t, dir, "batch-0000.jsonl.gz",
		`{"modelId":"M","layer":"0-src","index":"5"}`+"\n"+
			`{"modelId":"M","layer":"0-src","index":"7"}`+"\n")

	var seen []string
	n, err := DecodeFile(context.Background(), path, nil, func(r testRecord) error {
		seen = append(seen, r.Index)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"5", "7"}, seen)
}

func TestDecodeFile_InterleavedMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "batch-0000.jsonl",
		`{"index":"1"}`+"\n"+`{bad`+"\n"+`{"index":"2"}`+"\n"+`{worse`+"\n"+`{"index":"3"}`+"\n")

	// Both callbacks increment unsynchronized counters; DecodeFile runs them
	// on the calling goroutine so this is safe under the race detector.
	records := 0
	skips := 0
	n, err := DecodeFile(context.Background(), path, func(*MalformedRecordError) {
		skips++
	}, func(testRecord) error {
		records++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, records)
	assert.Equal(t, 2, skips)
}

func TestDecodeFile_CallbackAborts(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "batch-0000.jsonl",
		`{"index":"1"}`+"\n"+`{"index":"2"}`+"\n"+`{"index":"3"}`+"\n")

	boom := eris.New("writer failed")
	n, err := DecodeFile(context.Background(), path, nil, func(r testRecord) error {
		if r.Index == "2" {
			return boom
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, n)
}
