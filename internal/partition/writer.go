package partition

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/casamayor/predial/internal/model"
)

// Named partitions produced by an ETL run.
const (
	PartitionFull     = "full"
	PartitionClean    = "clean"
	PartitionMarket   = "market"
	PartitionML       = "ml"
	PartitionErrors   = "errors"
	PartitionWarnings = "warnings"
)

// Names lists all partitions in their canonical order.
var Names = []string{
	PartitionFull,
	PartitionClean,
	PartitionMarket,
	PartitionML,
	PartitionErrors,
	PartitionWarnings,
}

// Writer routes each classified record into its partitions. Every
// record lands in full and in exactly one of {errors, warnings, clean};
// market and ml are overlapping refinements.
type Writer struct {
	files   map[string]*os.File
	writers map[string]*csv.Writer
	counts  map[string]int
	dir     string
}

// NewWriter creates the output directory and one CSV file per
// partition, each starting with RecordHeader.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	w := &Writer{
		files:   make(map[string]*os.File, len(Names)),
		writers: make(map[string]*csv.Writer, len(Names)),
		counts:  make(map[string]int, len(Names)),
		dir:     dir,
	}

	for _, name := range Names {
		file, err := os.Create(filepath.Join(dir, name+".csv"))
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to create partition %s: %w", name, err)
		}
		cw := csv.NewWriter(file)
		if err := cw.Write(RecordHeader); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to write header for partition %s: %w", name, err)
		}
		w.files[name] = file
		w.writers[name] = cw
		w.counts[name] = 0
	}

	return w, nil
}

// Route writes the record into every partition it belongs to.
func (w *Writer) Route(r *model.TransactionRecord) error {
	row := MarshalRecord(r)

	targets := []string{PartitionFull}
	switch r.QualityStatus {
	case model.StatusError:
		targets = append(targets, PartitionErrors)
	case model.StatusWarning:
		targets = append(targets, PartitionWarnings)
	default:
		targets = append(targets, PartitionClean)
	}
	if r.IsValidMarketAct && r.QualityStatus != model.StatusError {
		targets = append(targets, PartitionMarket)
	}
	if r.IsValidMarketAct && r.IsValidValue && r.QualityStatus == model.StatusOK {
		targets = append(targets, PartitionML)
	}

	for _, name := range targets {
		if err := w.writers[name].Write(row); err != nil {
			return fmt.Errorf("failed to write to partition %s: %w", name, err)
		}
		w.counts[name]++
	}

	return nil
}

// Counts returns per-partition record counts.
func (w *Writer) Counts() map[string]int {
	out := make(map[string]int, len(w.counts))
	for k, v := range w.counts {
		out[k] = v
	}
	return out
}

// Path returns the file path of a named partition.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.dir, name+".csv")
}

// Close flushes and closes every partition file.
func (w *Writer) Close() error {
	var firstErr error
	for name, cw := range w.writers {
		cw.Flush()
		if err := cw.Error(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to flush partition %s: %w", name, err)
		}
	}
	for name, file := range w.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close partition %s: %w", name, err)
		}
	}
	return firstErr
}
