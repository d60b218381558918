package score

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casamayor/predial/internal/ensemble"
	"github.com/casamayor/predial/internal/feature"
	"github.com/casamayor/predial/internal/model"
	"github.com/casamayor/predial/internal/service"
	"github.com/casamayor/predial/internal/testutil"
)

func storedRecords(n int, seed int64) []model.TransactionRecord {
	rng := rand.New(rand.NewSource(seed))
	dynamics := model.DynamicsMarket
	records := make([]model.TransactionRecord, n)
	for i := range records {
		value := 10_000_000 + rng.Float64()*500_000_000
		records[i] = model.TransactionRecord{
			TransactionID:      fmt.Sprintf("11001_50N-%03d_1_0125_2019", i),
			JurisdictionCode:   "11001",
			RegistrationNumber: fmt.Sprintf("50N-%03d", i),
			AnnotationNumber:   "1",
			ActNatureCode:      "0125",
			Year:               2010 + i%12,
			RegistrationDate:   time.Date(2010+i%12, time.Month(1+i%12), 1+i%28, 0, 0, 0, 0, time.UTC),
			Department:         "CUNDINAMARCA",
			Municipality:       "BOGOTA",
			ZoneType:           "URBANO",
			Dynamics:           &dynamics,
			Value:              &value,
			PartyCount:         1 + i%4,
			QualityStatus:      model.StatusOK,
			IsValidMarketAct:   true,
			IsValidValue:       true,
		}
	}
	return records
}

func trainArtifact(t *testing.T, records []model.TransactionRecord) *ensemble.Artifact {
	t.Helper()

	encoder := feature.Fit(records)
	params := ensemble.DefaultParams()
	params.MinSamples = 100
	m, err := ensemble.Train(encoder.TransformAll(records), params)
	require.NoError(t, err)

	return &ensemble.Artifact{
		Encoder:  encoder,
		Model:    m,
		Metadata: ensemble.Metadata{RunID: "model-run"},
	}
}

func TestRunScoresFullCorpus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	records := storedRecords(200, 1)
	// One ERROR record with no value: scored like every other record.
	records[0].QualityStatus = model.StatusError
	records[0].ErrorReason = model.ReasonMarketMissingValue
	records[0].Value = nil
	records[0].IsValidMarketAct = false
	records[0].IsValidValue = false
	require.NoError(t, db.Storage.SaveRecords(ctx, records))

	artifact := trainArtifact(t, records[1:])
	summary, err := New(db.Storage, artifact, Config{ChunkSize: 32}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 200, summary.Processed)
	assert.Equal(t, 200, summary.Updated)
	assert.Zero(t, summary.FailedChunks)

	scored, err := db.Storage.GetRecordByID(ctx, records[5].TransactionID)
	require.NoError(t, err)
	assert.NotEmpty(t, scored.RiskLevel)
	assert.GreaterOrEqual(t, scored.AnomalyScore, 0.0)
	assert.LessOrEqual(t, scored.AnomalyScore, 1.0)

	degraded, err := db.Storage.GetRecordByID(ctx, records[0].TransactionID)
	require.NoError(t, err)
	assert.NotEmpty(t, degraded.RiskLevel)
	assert.GreaterOrEqual(t, degraded.AnomalyScore, 0.0)
	assert.LessOrEqual(t, degraded.AnomalyScore, 1.0)
}

func TestRunIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	records := storedRecords(150, 2)
	require.NoError(t, db.Storage.SaveRecords(ctx, records))
	artifact := trainArtifact(t, records)

	first, err := New(db.Storage, artifact, Config{ChunkSize: 50}).Run(ctx)
	require.NoError(t, err)
	afterFirst, err := db.Storage.GetRecordByID(ctx, records[10].TransactionID)
	require.NoError(t, err)

	second, err := New(db.Storage, artifact, Config{ChunkSize: 50}).Run(ctx)
	require.NoError(t, err)
	afterSecond, err := db.Storage.GetRecordByID(ctx, records[10].TransactionID)
	require.NoError(t, err)

	assert.Equal(t, first.Updated, second.Updated)
	assert.Equal(t, afterFirst.AnomalyScore, afterSecond.AnomalyScore)
	assert.Equal(t, afterFirst.RiskLevel, afterSecond.RiskLevel)
}

// flakyStorage fails ApplyScores permanently for one cursor range.
type flakyStorage struct {
	service.Storage
	failBefore string
}

func (f *flakyStorage) ApplyScores(ctx context.Context, updates []service.ScoreUpdate) error {
	if updates[0].TransactionID < f.failBefore {
		return errors.New("disk on fire")
	}
	return f.Storage.ApplyScores(ctx, updates)
}

func TestRunSkipsFailedChunks(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	records := storedRecords(150, 3)
	require.NoError(t, db.Storage.SaveRecords(ctx, records))
	artifact := trainArtifact(t, records)

	flaky := &flakyStorage{Storage: db.Storage, failBefore: records[50].TransactionID}
	summary, err := New(flaky, artifact, Config{ChunkSize: 50, MaxRetries: 2}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 150, summary.Processed)
	assert.Equal(t, 1, summary.FailedChunks)
	assert.Equal(t, 100, summary.Updated)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	db := testutil.SetupTestDB(t)
	records := storedRecords(120, 4)
	require.NoError(t, db.Storage.SaveRecords(context.Background(), records))
	artifact := trainArtifact(t, records)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(db.Storage, artifact, Config{ChunkSize: 50}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
