// Package ingest reads raw transaction rows from delimited batch files
// and normalizes them into typed records.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/casamayor/predial/internal/common"
)

// Input columns required to derive the composite transaction key.
var RequiredColumns = []string{
	ColJurisdictionCode,
	ColRegistrationNumber,
	ColAnnotationNumber,
	ColActNatureCode,
	ColYear,
}

// Input column names.
const (
	ColJurisdictionCode   = "jurisdiction_code"
	ColRegistrationNumber = "registration_number"
	ColAnnotationNumber   = "annotation_number"
	ColActNatureCode      = "act_nature_code"
	ColActNatureName      = "act_nature_name"
	ColYear               = "year"
	ColRegistrationDate   = "registration_date"
	ColRegistryOffice     = "registry_office"
	ColDepartment         = "department"
	ColMunicipality       = "municipality"
	ColZoneType           = "zone_type"
	ColDynamics           = "dynamics"
	ColValue              = "value"
	ColPartyCount         = "party_count"
)

// Row is one raw input row with its source line number.
type Row struct {
	Fields map[string]string
	Line   int
}

// ChunkReader produces a lazy, restartable sequence of row batches from
// a CSV batch file. Memory stays bounded by the chunk size; restarting
// is only supported at batch boundaries.
type ChunkReader struct {
	file      *os.File
	reader    *csv.Reader
	header    []string
	chunkSize int
	batch     int
	line      int
	rejected  int
}

// NewChunkReader opens a CSV batch file and validates that all required
// columns are present in the header.
func NewChunkReader(path string, chunkSize int, required []string) (*ChunkReader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", common.ErrInvalidConfig, chunkSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("failed to open input file %s", path), err)
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		_ = file.Close()
		return nil, common.NewUserError("failed to read input header", err)
	}

	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}
	for _, col := range required {
		if !present[col] {
			_ = file.Close()
			return nil, fmt.Errorf("%w: missing column %q", common.ErrSchemaMismatch, col)
		}
	}

	return &ChunkReader{
		file:      file,
		reader:    reader,
		header:    header,
		chunkSize: chunkSize,
		line:      1,
	}, nil
}

// ReadChunk returns the next batch of rows. It returns io.EOF once the
// file is exhausted. Rows with a field count that does not match the
// header are rejected and counted, never fatal.
func (r *ChunkReader) ReadChunk(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, r.chunkSize)
	for len(rows) < r.chunkSize {
		record, err := r.reader.Read()
		if err == io.EOF {
			if len(rows) == 0 {
				return nil, io.EOF
			}
			break
		}
		r.line++
		if err != nil {
			// Quote/parse failure on a single row.
			r.reject(fmt.Errorf("%w: %v", common.ErrMalformedRow, err))
			continue
		}
		if len(record) != len(r.header) {
			r.reject(fmt.Errorf("%w: %d fields, header has %d",
				common.ErrMalformedRow, len(record), len(r.header)))
			continue
		}

		fields := make(map[string]string, len(r.header))
		for i, col := range r.header {
			fields[col] = record[i]
		}
		rows = append(rows, Row{Fields: fields, Line: r.line})
	}

	r.batch++
	return rows, nil
}

// Skip advances past n batches without materializing field maps, so a
// run can resume at a batch boundary.
func (r *ChunkReader) Skip(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		read := 0
		for read < r.chunkSize {
			record, err := r.reader.Read()
			if err == io.EOF {
				return io.EOF
			}
			r.line++
			if err != nil || len(record) != len(r.header) {
				r.reject(common.ErrMalformedRow)
				continue
			}
			read++
		}
		r.batch++
	}
	return nil
}

// reject counts a malformed row, keeping the cause visible at debug
// level for operators chasing rejected-row counts.
func (r *ChunkReader) reject(cause error) {
	r.rejected++
	slog.Debug("Rejecting malformed row", "line", r.line, "error", cause)
}

// Batch returns the number of batches read so far.
func (r *ChunkReader) Batch() int {
	return r.batch
}

// Rejected returns the number of malformed rows skipped so far.
func (r *ChunkReader) Rejected() int {
	return r.rejected
}

// Size returns the input file size in bytes, for progress reporting.
func (r *ChunkReader) Size() int64 {
	info, err := r.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close closes the underlying file.
func (r *ChunkReader) Close() error {
	return r.file.Close()
}
