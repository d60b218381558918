package partition

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casamayor/predial/internal/model"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func makeRecord(id string, status model.QualityStatus, marketAct, validValue bool) model.TransactionRecord {
	dynamics := model.DynamicsAdministrative
	if marketAct {
		dynamics = model.DynamicsMarket
	}
	return model.TransactionRecord{
		TransactionID:      id,
		JurisdictionCode:   "11001",
		RegistrationNumber: "50N-1",
		AnnotationNumber:   "1",
		ActNatureCode:      "0125",
		Year:               2019,
		Department:         "CUNDINAMARCA",
		Municipality:       "BOGOTA",
		ZoneType:           "URBANO",
		Dynamics:           &dynamics,
		Value:              floatPtr(150_000_000),
		QualityStatus:      status,
		IsValidMarketAct:   marketAct,
		IsValidValue:       validValue,
	}
}

func readPartition(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRouteCoverage(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	records := []model.TransactionRecord{
		makeRecord("ok-market-valid", model.StatusOK, true, true),
		makeRecord("ok-market-irrisory", model.StatusOK, true, false),
		makeRecord("ok-admin", model.StatusOK, false, false),
		makeRecord("warn-market", model.StatusWarning, true, false),
		makeRecord("error-market", model.StatusError, true, false),
		makeRecord("error-admin", model.StatusError, false, false),
	}
	for i := range records {
		require.NoError(t, w.Route(&records[i]))
	}
	require.NoError(t, w.Close())

	counts := w.Counts()
	assert.Equal(t, 6, counts[PartitionFull])
	assert.Equal(t, 3, counts[PartitionClean])
	assert.Equal(t, 1, counts[PartitionWarnings])
	assert.Equal(t, 2, counts[PartitionErrors])
	// Market excludes errors but keeps warnings.
	assert.Equal(t, 3, counts[PartitionMarket])
	assert.Equal(t, 1, counts[PartitionML])

	// Every record appears in exactly one of {errors, warnings, clean}.
	assert.Equal(t, counts[PartitionFull],
		counts[PartitionClean]+counts[PartitionWarnings]+counts[PartitionErrors])

	// The full partition holds every record exactly once.
	fullRows := readPartition(t, w.Path(PartitionFull))
	assert.Len(t, fullRows, 7) // header + 6 records

	seen := make(map[string]int)
	for _, row := range fullRows[1:] {
		seen[row[0]]++
	}
	for _, r := range records {
		assert.Equal(t, 1, seen[r.TransactionID], "record %s", r.TransactionID)
	}

	mlRows := readPartition(t, w.Path(PartitionML))
	require.Len(t, mlRows, 2)
	assert.Equal(t, "ok-market-valid", mlRows[1][0])
}

func TestRecordCodecRoundTrip(t *testing.T) {
	original := model.TransactionRecord{
		TransactionID:      "11001_50N-1_4_0125_2019",
		JurisdictionCode:   "11001",
		RegistrationNumber: "50N-1",
		AnnotationNumber:   "4",
		ActNatureCode:      "0125",
		ActNatureName:      "COMPRAVENTA",
		Year:               2019,
		RegistrationDate:   time.Date(2019, 3, 4, 0, 0, 0, 0, time.UTC),
		RegistryOffice:     70,
		Department:         "CUNDINAMARCA",
		Municipality:       "BOGOTA",
		ZoneType:           "URBANO",
		Dynamics:           intPtr(model.DynamicsMarket),
		Value:              floatPtr(150_000_000),
		PartyCount:         2,
		QualityStatus:      model.StatusOK,
		IsValidMarketAct:   true,
		IsValidValue:       true,
		ExcessiveActivity:  true,
		AnnotationsPerYear: 201,
		GeoDiscrepancy:     true,
		ExpectedDepartment: "ANTIOQUIA",
	}

	row := MarshalRecord(&original)
	require.Len(t, row, len(RecordHeader))

	fields := make(map[string]string, len(RecordHeader))
	for i, col := range RecordHeader {
		fields[col] = row[i]
	}

	decoded, err := UnmarshalRecord(fields)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestUnmarshalRecordRequiresID(t *testing.T) {
	_, err := UnmarshalRecord(map[string]string{"year": "2019"})
	require.Error(t, err)
}

func TestStatsCollector(t *testing.T) {
	dir := t.TempDir()
	collector := NewStatsCollector()

	for _, v := range []float64{100, 200, 300} {
		r := makeRecord("a", model.StatusOK, true, true)
		r.Value = floatPtr(v)
		collector.ObserveML(&r)
	}
	other := makeRecord("b", model.StatusOK, true, true)
	other.Department = "ANTIOQUIA"
	other.Value = floatPtr(500)
	collector.ObserveML(&other)

	require.NoError(t, collector.WriteFiles(dir))

	rows := readPartition(t, filepath.Join(dir, "stats_department_year.csv"))
	require.Len(t, rows, 3)
	// Sorted by group name: ANTIOQUIA before CUNDINAMARCA.
	assert.Equal(t, "ANTIOQUIA", rows[1][0])
	assert.Equal(t, "CUNDINAMARCA", rows[2][0])
	assert.Equal(t, "3", rows[2][2])
	assert.Equal(t, "200.00", rows[2][3])
	assert.Equal(t, "100.00", rows[2][4])
	assert.Equal(t, "300.00", rows[2][5])
}
