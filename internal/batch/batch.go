// Package batch reads newline-delimited JSON batch files produced by the
// upstream artifact generation pipeline. Files are named batch-*.jsonl and may
// be gzip-compressed; one file is held open at a time, one line in memory at a
// time.
package batch

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Discover returns all batch files in dir, in sorted filename order.
// Processing order matters: activation ids embed the file position, so the
// sequence must be stable across runs.
func Discover(dir string) ([]string, error) {
	plain, err := filepath.Glob(filepath.Join(dir, "batch-*.jsonl"))
	if err != nil {
		return nil, eris.Wrapf(err, "batch: glob %s", dir)
	}
	gz, err := filepath.Glob(filepath.Join(dir, "batch-*.jsonl.gz"))
	if err != nil {
		return nil, eris.Wrapf(err, "batch: glob %s", dir)
	}

	files := append(plain, gz...)
	if len(files) == 0 {
		return nil, eris.Errorf("batch: no batch-*.jsonl files found in %s", dir)
	}

	sort.Strings(files)
	return files, nil
}

// gzipFile couples a gzip reader with its underlying file so Close releases both.
type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.f.Close(); err != nil {
		return err
	}
	return gzErr
}

// Open opens a batch file for reading, decompressing transparently when the
// filename carries a .gz extension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: open %s", path)
	}

	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}

	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, eris.Wrapf(err, "batch: gzip reader for %s", path)
	}
	return &gzipFile{Reader: zr, f: f}, nil
}
