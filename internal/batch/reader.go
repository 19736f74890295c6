package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// Activation and feature-statistics lines carry full token/value arrays,
	// so lines run far past bufio's default limit.
	initialLineBuf = 1 << 20  // 1 MiB
	maxLineBuf     = 64 << 20 // 64 MiB
)

// MalformedRecordError reports a single unparseable line. The line is
// skippable; the rest of the file is unaffected.
type MalformedRecordError struct {
	Line int
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("batch: malformed record at line %d: %v", e.Line, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// scan reads r line by line, decoding each non-blank line into T and passing
// it to fn. Malformed lines go to onSkip (which may be nil) and are skipped.
// fn and onSkip are both invoked on the calling goroutine, so callers may
// mutate shared state from either without synchronization. Returns the number
// of records passed to fn; a non-nil error from fn aborts the scan.
func scan[T any](ctx context.Context, r io.Reader, onSkip func(*MalformedRecordError), fn func(T) error) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialLineBuf), maxLineBuf)

	line := 0
	count := 0
	for scanner.Scan() {
		line++

		if err := ctx.Err(); err != nil {
			return count, err
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec T
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			if onSkip != nil {
				onSkip(&MalformedRecordError{Line: line, Err: err})
			}
			continue
		}

		if err := fn(rec); err != nil {
			return count, err
		}
		count++
	}

	if err := scanner.Err(); err != nil {
		return count, &MalformedRecordError{Line: line + 1, Err: err}
	}
	return count, nil
}

// Decode streams one decoded record per non-blank line of r on the returned
// channel. Malformed lines are reported through onSkip (which may be nil) and
// skipped; onSkip runs on the decode goroutine, not the consumer's. The error
// channel carries at most one error: a read failure or context cancellation.
// Both channels are closed when the file is exhausted. An empty input produces
// zero records and no error.
func Decode[T any](ctx context.Context, r io.Reader, onSkip func(*MalformedRecordError)) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		_, err := scan(ctx, r, onSkip, func(rec T) error {
			select {
			case outCh <- rec:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errCh <- err
		}
	}()

	return outCh, errCh
}

// DecodeFile opens path and streams its records through fn in file order,
// reporting malformed lines via onSkip. The whole scan runs on the calling
// goroutine: fn and onSkip may share unsynchronized state such as counters.
// It returns the number of records passed to fn. A non-nil error from fn
// aborts the file.
func DecodeFile[T any](ctx context.Context, path string, onSkip func(*MalformedRecordError), fn func(T) error) (int, error) {
	rc, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	return scan(ctx, rc, onSkip, fn)
}
