package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casamayor/predial/internal/common"
	"github.com/casamayor/predial/internal/model"
	"github.com/casamayor/predial/internal/service"
)

func setupTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func testRecord(id string) model.TransactionRecord {
	value := 150_000_000.0
	dynamics := model.DynamicsMarket
	return model.TransactionRecord{
		TransactionID:      id,
		JurisdictionCode:   "11001",
		RegistrationNumber: "50N-1",
		AnnotationNumber:   "1",
		ActNatureCode:      "0125",
		ActNatureName:      "COMPRAVENTA",
		Year:               2019,
		RegistrationDate:   time.Date(2019, 3, 4, 0, 0, 0, 0, time.UTC),
		RegistryOffice:     70,
		Department:         "CUNDINAMARCA",
		Municipality:       "BOGOTA",
		ZoneType:           "URBANO",
		Dynamics:           &dynamics,
		Value:              &value,
		PartyCount:         2,
		QualityStatus:      model.StatusOK,
		IsValidMarketAct:   true,
		IsValidValue:       true,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupTestStorage(t)
	// A second migration run finds nothing to do.
	require.NoError(t, store.Migrate(context.Background()))
}

func TestSaveAndGetRecord(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	original := testRecord("11001_50N-1_1_0125_2019")
	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{original}))

	got, err := store.GetRecordByID(ctx, original.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, original.TransactionID, got.TransactionID)
	assert.Equal(t, original.Department, got.Department)
	assert.Equal(t, original.QualityStatus, got.QualityStatus)
	require.NotNil(t, got.Value)
	assert.Equal(t, *original.Value, *got.Value)
	require.NotNil(t, got.Dynamics)
	assert.Equal(t, model.DynamicsMarket, *got.Dynamics)
	assert.True(t, got.RegistrationDate.Equal(original.RegistrationDate))
}

func TestGetRecordByIDNotFound(t *testing.T) {
	store := setupTestStorage(t)

	_, err := store.GetRecordByID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSaveRecordsIsIdempotent(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	r := testRecord("11001_50N-1_1_0125_2019")
	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{r}))

	// Re-running the same chunk overwrites rather than duplicates.
	r.QualityStatus = model.StatusWarning
	r.ErrorReason = model.ReasonIrrisoryValue
	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{r}))

	count, err := store.GetRecordCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := store.GetRecordByID(ctx, r.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWarning, got.QualityStatus)
	assert.Equal(t, model.ReasonIrrisoryValue, got.ErrorReason)
}

func TestSaveRecordsRejectsInvalid(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	err := store.SaveRecords(ctx, []model.TransactionRecord{})
	assert.ErrorIs(t, err, ErrEmptySlice)

	missing := testRecord("")
	err = store.SaveRecords(ctx, []model.TransactionRecord{missing})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestNullableFieldsSurviveRoundTrip(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	r := testRecord("admin-1")
	r.Value = nil
	r.Dynamics = nil
	r.RegistrationDate = time.Time{}
	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{r}))

	got, err := store.GetRecordByID(ctx, "admin-1")
	require.NoError(t, err)
	assert.Nil(t, got.Value)
	assert.Nil(t, got.Dynamics)
	assert.True(t, got.RegistrationDate.IsZero())
}

func TestListRecordsAfterPaginates(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	ids := []string{"a-1", "b-2", "c-3", "d-4", "e-5"}
	records := make([]model.TransactionRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, testRecord(id))
	}
	require.NoError(t, store.SaveRecords(ctx, records))

	var seen []string
	cursor := ""
	for {
		page, err := store.ListRecordsAfter(ctx, cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			seen = append(seen, r.TransactionID)
		}
		cursor = page[len(page)-1].TransactionID
	}

	assert.Equal(t, ids, seen)
}

func TestApplyScoresIsIdempotent(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	r := testRecord("scored-1")
	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{r}))

	update := service.ScoreUpdate{
		TransactionID: "scored-1",
		RiskLevel:     model.RiskHighRisk,
		AnomalyScore:  0.83,
		IsAnomaly:     true,
	}
	require.NoError(t, store.ApplyScores(ctx, []service.ScoreUpdate{update}))
	require.NoError(t, store.ApplyScores(ctx, []service.ScoreUpdate{update}))

	got, err := store.GetRecordByID(ctx, "scored-1")
	require.NoError(t, err)
	assert.Equal(t, 0.83, got.AnomalyScore)
	assert.True(t, got.IsAnomaly)
	assert.Equal(t, model.RiskHighRisk, got.RiskLevel)
}

func TestApplyScoresValidation(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	err := store.ApplyScores(ctx, []service.ScoreUpdate{{
		TransactionID: "x",
		RiskLevel:     model.RiskNormal,
		AnomalyScore:  1.5,
	}})
	assert.ErrorIs(t, err, ErrInvalidScore)

	err = store.ApplyScores(ctx, []service.ScoreUpdate{{
		TransactionID: "x",
		RiskLevel:     "catastrophic",
		AnomalyScore:  0.5,
	}})
	assert.ErrorIs(t, err, ErrInvalidScore)
}

func TestReviewQueue(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	flagged := testRecord("flagged-1")
	flagged.ExcessiveActivity = true
	clean := testRecord("clean-1")
	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{flagged, clean}))

	require.NoError(t, store.SaveReviewRecords(ctx, []model.TransactionRecord{flagged, clean}))

	pending, err := store.GetPendingReviewCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	// Re-queueing keeps the original entry.
	require.NoError(t, store.SaveReviewRecords(ctx, []model.TransactionRecord{flagged}))
	pending, err = store.GetPendingReviewCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}
