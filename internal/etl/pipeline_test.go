package etl

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casamayor/predial/internal/model"
	"github.com/casamayor/predial/internal/partition"
	"github.com/casamayor/predial/internal/service"
	"github.com/casamayor/predial/internal/testutil"
)

func runPipeline(t *testing.T, store service.Storage, rows []string, threshold int) (*service.EtlSummary, string) {
	t.Helper()

	outputDir := filepath.Join(t.TempDir(), "out")
	p := New(store, Config{
		InputPath:         testutil.WriteInputFile(t, rows...),
		OutputDir:         outputDir,
		ChunkSize:         3,
		ActivityThreshold: threshold,
		IngestionDate:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	return summary, outputDir
}

func TestRunClassifiesAndPartitions(t *testing.T) {
	db := testutil.SetupTestDB(t)

	rows := []string{
		// clean market act
		testutil.InputRow(nil),
		// valid admin act
		testutil.InputRow(map[string]string{"annotation_number": "2", "dynamics": "0", "value": "0"}),
		// market act without value
		testutil.InputRow(map[string]string{"annotation_number": "3", "dynamics": "1", "value": ""}),
		// irrisory
		testutil.InputRow(map[string]string{"annotation_number": "4", "value": "500000"}),
		// missing key component
		testutil.InputRow(map[string]string{"annotation_number": "5", "jurisdiction_code": ""}),
	}

	summary, outputDir := runPipeline(t, db.Storage, rows, 150)

	assert.Equal(t, 4, summary.InputRows)
	assert.Equal(t, 1, summary.RejectedRows)
	assert.Equal(t, 2, summary.OKCount)
	assert.Equal(t, 1, summary.WarningCount)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, 1, summary.ReasonCounts[model.ReasonMarketMissingValue])
	assert.Equal(t, 1, summary.ReasonCounts[model.ReasonIrrisoryValue])

	assert.Equal(t, 4, summary.PartitionCounts[partition.PartitionFull])
	assert.Equal(t, 1, summary.PartitionCounts[partition.PartitionML])

	// Persisted records match the classification.
	count, err := db.Storage.GetRecordCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	got, err := db.Storage.GetRecordByID(context.Background(), "11001_50N-1_4_0125_2019")
	require.NoError(t, err)
	assert.Equal(t, model.StatusWarning, got.QualityStatus)
	assert.Equal(t, model.ReasonIrrisoryValue, got.ErrorReason)

	// The report lands next to the partitions.
	data, err := os.ReadFile(filepath.Join(outputDir, "etl_report.json"))
	require.NoError(t, err)
	var report partition.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 4, report.InputRows)
	assert.Equal(t, 1, report.RejectedRows)
}

func TestRunFlagsExcessiveActivity(t *testing.T) {
	db := testutil.SetupTestDB(t)

	// Eleven annotations on one property in one year, threshold ten.
	rows := testutil.RepeatedRows(11, "90Z-9", 2021)
	summary, _ := runPipeline(t, db.Storage, rows, 10)

	assert.Equal(t, 11, summary.InputRows)
	assert.Equal(t, 11, summary.ExcessiveActivityCount)

	pending, err := db.Storage.GetPendingReviewCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11, pending)
}

func TestRunIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rows := []string{
		testutil.InputRow(nil),
		testutil.InputRow(map[string]string{"annotation_number": "2"}),
	}

	first, _ := runPipeline(t, db.Storage, rows, 150)
	second, _ := runPipeline(t, db.Storage, rows, 150)

	assert.Equal(t, first.InputRows, second.InputRows)

	// Replaying the run overwrites rather than duplicates.
	count, err := db.Storage.GetRecordCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	db := testutil.SetupTestDB(t)

	p := New(db.Storage, Config{
		InputPath: testutil.WriteInputFile(t, testutil.InputRow(nil)),
		OutputDir: filepath.Join(t.TempDir(), "out"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
