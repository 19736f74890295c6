package ingest

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/realm-ml/interp-ingest/internal/batch"
	"github.com/realm-ml/interp-ingest/internal/resolve"
)

func TestFatal(t *testing.T) {
	assert.Nil(t, Fatal(nil))

	err := Fatal(errors.New("schema missing"))
	assert.True(t, IsFatal(err))
	assert.EqualError(t, err, "schema missing")

	// Fatality survives further wrapping.
	wrapped := eris.Wrap(err, "stage failed")
	assert.True(t, IsFatal(wrapped))

	assert.False(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestIsStructural(t *testing.T) {
	assert.True(t, IsStructural(&batch.MalformedRecordError{Line: 3, Err: errors.New("bad json")}))
	assert.True(t, IsStructural(&resolve.KeyFormatError{Field: "layer", Value: "nope"}))
	assert.False(t, IsStructural(errors.New("connection reset")))
	assert.False(t, IsStructural(nil))
}
