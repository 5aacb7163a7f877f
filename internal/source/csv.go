// Package source reads delimited record files for the raw layer. Field text
// is delivered verbatim; cleaning belongs to the silver layer.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/hyperengineering/strata/internal/types"
)

var (
	// ErrUnreadable marks an I/O failure opening or reading a source.
	ErrUnreadable = errors.New("source unreadable")

	// ErrSchemaMismatch marks a source whose header is not the expected
	// field list. Such a source is never partially ingested.
	ErrSchemaMismatch = errors.New("source header mismatch")
)

// Header is the exact field list every source must declare.
var Header = []string{"timestamp", "price", "user_id"}

// Reader yields the rows of one delimited file with stable 1-based sequence
// numbers. Rows with the wrong field count are dropped but still consume
// their sequence number, so surviving rows keep their position across
// re-reads.
type Reader struct {
	name    string
	file    *os.File
	csv     *csv.Reader
	seq     int64
	dropped int64
}

// Open opens the file and validates its header. The reader must be closed.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	r := csv.NewReader(f)
	r.LazyQuotes = true
	// Field counts are checked per row so a bad row cannot abort the file.
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: %s has no header", ErrSchemaMismatch, filepath.Base(path))
		}
		return nil, fmt.Errorf("%w: reading header of %s: %v", ErrUnreadable, filepath.Base(path), err)
	}
	if !slices.Equal(header, Header) {
		f.Close()
		return nil, fmt.Errorf("%w: %s declares %v", ErrSchemaMismatch, filepath.Base(path), header)
	}

	return &Reader{
		name: filepath.Base(path),
		file: f,
		csv:  r,
	}, nil
}

// Name returns the source name, the file's base name.
func (r *Reader) Name() string {
	return r.name
}

// Dropped returns how many rows were discarded for a wrong field count.
func (r *Reader) Dropped() int64 {
	return r.dropped
}

// ReadBatch reads up to size rows. It returns io.EOF only when the file is
// exhausted and no rows remain; a final partial batch comes back with a nil
// error.
func (r *Reader) ReadBatch(ctx context.Context, size int) ([]types.RawRecord, error) {
	records := make([]types.RawRecord, 0, size)

	for len(records) < size {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		row, err := r.csv.Read()
		if err == io.EOF {
			if len(records) > 0 {
				return records, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrUnreadable, r.name, err)
		}

		r.seq++
		if len(row) != len(Header) {
			r.dropped++
			continue
		}
		records = append(records, types.RawRecord{
			SourceName: r.name,
			Seq:        r.seq,
			Timestamp:  row[0],
			Price:      row[1],
			UserID:     row[2],
		})
	}
	return records, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
