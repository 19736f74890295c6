package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverDataset(t *testing.T) {
	dir := t.TempDir()
	writeBatchFile(t, dir, "batch-000.jsonl",
		`{"modelId":"GPT2_small","layer":"0-res-jb","index":"1"}`,
		`{"modelId":"GPT2_small","layer":"5-res-jb","index":"2"}`,
	)
	writeBatchFile(t, dir, "batch-001.jsonl",
		`{"modelId":"GPT2_small","layer":"11-res-jb","index":"3"}`,
	)

	info, err := DiscoverDataset(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "GPT2_small", info.RawModelID)
	assert.Equal(t, "gpt2-small", info.ModelID)
	assert.Equal(t, 12, info.Layers)
}

func TestDiscoverDataset_SamplesLeadingFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeBatchFile(t, dir, "batch-000.jsonl", `{"modelId":"m","layer":"0-res-jb","index":"1"}`)
	writeBatchFile(t, dir, "batch-001.jsonl", `{"modelId":"m","layer":"1-res-jb","index":"1"}`)
	writeBatchFile(t, dir, "batch-002.jsonl", `{"modelId":"m","layer":"2-res-jb","index":"1"}`)
	// Beyond the sample window; its higher layer must not count.
	writeBatchFile(t, dir, "batch-003.jsonl", `{"modelId":"m","layer":"9-res-jb","index":"1"}`)

	info, err := DiscoverDataset(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Layers)
}

func TestDiscoverDataset_SkipsUnresolvableLayers(t *testing.T) {
	dir := t.TempDir()
	writeBatchFile(t, dir, "batch-000.jsonl",
		`{"modelId":"m","layer":"not-a-layer","index":"1"}`,
		`{"modelId":"m","layer":"2-res-jb","index":"1"}`,
	)

	info, err := DiscoverDataset(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Layers)
}

func TestDiscoverDataset_NoUsableRecords(t *testing.T) {
	dir := t.TempDir()
	writeBatchFile(t, dir, "batch-000.jsonl", ``)

	_, err := DiscoverDataset(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable records")
}

func TestDiscoverDataset_NoFiles(t *testing.T) {
	_, err := DiscoverDataset(context.Background(), t.TempDir())
	require.Error(t, err)
}
