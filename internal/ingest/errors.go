package ingest

import (
	"errors"

	"github.com/realm-ml/interp-ingest/internal/batch"
	"github.com/realm-ml/interp-ingest/internal/resolve"
)

// FatalError marks an error that must abort the whole run: the store is
// unreachable, the schema is missing, or a parent-entity guarantee failed.
// Fatal errors are never retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps an error as fatal. Returns nil for a nil error.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal returns true if the error chain contains a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsStructural returns true for per-record conditions that skip the record
// and continue the file: unparseable lines and unresolvable keys.
func IsStructural(err error) bool {
	var mre *batch.MalformedRecordError
	if errors.As(err, &mre) {
		return true
	}
	var kfe *resolve.KeyFormatError
	return errors.As(err, &kfe)
}
