package partition

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/casamayor/predial/internal/model"
)

// valueAggregate accumulates value statistics for one group without
// buffering the group's rows.
type valueAggregate struct {
	count int
	sum   float64
	min   float64
	max   float64
}

func (a *valueAggregate) observe(v float64) {
	if a.count == 0 {
		a.min = v
		a.max = v
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	a.count++
	a.sum += v
}

type statsKey struct {
	group string
	year  int
}

// StatsCollector builds the dashboard aggregates over the ML partition
// while records stream past.
type StatsCollector struct {
	byDepartment map[statsKey]*valueAggregate
	byZone       map[statsKey]*valueAggregate
}

// NewStatsCollector creates an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		byDepartment: make(map[statsKey]*valueAggregate),
		byZone:       make(map[statsKey]*valueAggregate),
	}
}

// ObserveML feeds one ML-partition record into the aggregates.
func (s *StatsCollector) ObserveML(r *model.TransactionRecord) {
	if r.Value == nil {
		return
	}
	observe(s.byDepartment, statsKey{group: r.Department, year: r.Year}, *r.Value)
	observe(s.byZone, statsKey{group: r.ZoneType, year: r.Year}, *r.Value)
}

func observe(table map[statsKey]*valueAggregate, key statsKey, v float64) {
	agg := table[key]
	if agg == nil {
		agg = &valueAggregate{}
		table[key] = agg
	}
	agg.observe(v)
}

// WriteFiles persists the aggregates as CSV files in the output
// directory, sorted for deterministic output.
func (s *StatsCollector) WriteFiles(dir string) error {
	if err := writeStatsFile(filepath.Join(dir, "stats_department_year.csv"), "department", s.byDepartment); err != nil {
		return err
	}
	return writeStatsFile(filepath.Join(dir, "stats_zone_year.csv"), "zone_type", s.byZone)
}

func writeStatsFile(path, groupColumn string, table map[statsKey]*valueAggregate) error {
	keys := make([]statsKey, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].group != keys[j].group {
			return keys[i].group < keys[j].group
		}
		return keys[i].year < keys[j].year
	})

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create stats file: %w", err)
	}
	defer func() { _ = file.Close() }()

	w := csv.NewWriter(file)
	if err := w.Write([]string{groupColumn, "year", "transactions", "value_mean", "value_min", "value_max"}); err != nil {
		return fmt.Errorf("failed to write stats header: %w", err)
	}

	for _, key := range keys {
		agg := table[key]
		mean := agg.sum / float64(agg.count)
		row := []string{
			key.group,
			strconv.Itoa(key.year),
			strconv.Itoa(agg.count),
			strconv.FormatFloat(mean, 'f', 2, 64),
			strconv.FormatFloat(agg.min, 'f', 2, 64),
			strconv.FormatFloat(agg.max, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write stats row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// Report is the machine-readable summary persisted after every ETL run.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	RunID           string                      `json:"run_id"`
	PartitionCounts map[string]int              `json:"partition_counts"`
	ReasonCounts    map[model.ErrorReason]int   `json:"reason_counts"`
	StatusCounts    map[model.QualityStatus]int `json:"status_counts"`

	InputRows              int `json:"input_rows"`
	RejectedRows           int `json:"rejected_rows"`
	ExcessiveActivityCount int `json:"excessive_activity_count"`
	GeoDiscrepancyCount    int `json:"geo_discrepancy_count"`
}

// WriteReport persists the report as etl_report.json in the output
// directory.
func WriteReport(dir string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "etl_report.json"), data, 0o600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
