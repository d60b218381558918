package feature

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casamayor/predial/internal/model"
)

func floatPtr(v float64) *float64 { return &v }

func sampleRecords() []model.TransactionRecord {
	records := make([]model.TransactionRecord, 0, 20)
	for i := 0; i < 20; i++ {
		dept := "CUNDINAMARCA"
		city := "BOGOTA"
		if i%4 == 0 {
			dept = "ANTIOQUIA"
			city = "MEDELLIN"
		}
		records = append(records, model.TransactionRecord{
			TransactionID:    fmt.Sprintf("tx-%d", i),
			Year:             2015 + i%8,
			RegistrationDate: time.Date(2015+i%8, time.Month(1+i%12), 1+i, 0, 0, 0, 0, time.UTC),
			Department:       dept,
			Municipality:     city,
			ActNatureCode:    "0125",
			ZoneType:         "URBANO",
			Value:            floatPtr(float64(50_000_000 + i*10_000_000)),
			PartyCount:       2,
			RegistryOffice:   70,
		})
	}
	return records
}

func TestFitAssignsCodesFromOne(t *testing.T) {
	enc := Fit(sampleRecords())

	// Codes are dense, sorted by value, and never zero.
	assert.Equal(t, float64(1), enc.Departments.Code("ANTIOQUIA"))
	assert.Equal(t, float64(2), enc.Departments.Code("CUNDINAMARCA"))
	assert.Equal(t, float64(1), enc.ZoneTypes.Code("URBANO"))
}

func TestUnseenCategoryGetsReservedCode(t *testing.T) {
	enc := Fit(sampleRecords())

	assert.Equal(t, float64(UnseenCode), enc.Departments.Code("VICHADA"))
	assert.Equal(t, float64(UnseenCode), enc.Municipalities.Code("PUERTO CARRENO"))
	assert.Equal(t, float64(UnseenCode), enc.ZoneTypes.Code("MIXTO"))
}

func TestRawVectorShapeAndOrder(t *testing.T) {
	enc := Fit(sampleRecords())
	r := sampleRecords()[0]

	vec := enc.Raw(&r)
	require.Len(t, vec, Count)
	require.Len(t, Names, Count)

	byName := make(map[string]float64, Count)
	for i, name := range Names {
		byName[name] = vec[i]
	}
	assert.Equal(t, float64(r.Year), byName["year"])
	assert.Equal(t, float64(r.Year-2000), byName["years_since_2000"])
	assert.Equal(t, *r.Value/1_000_000, byName["value_millions"])
	assert.Equal(t, float64(1), byName["is_urban"])
	assert.Equal(t, float64(0), byName["is_rural"])
	assert.Equal(t, float64(0), byName["missing_value"])
}

func TestMissingIndicators(t *testing.T) {
	enc := Fit(sampleRecords())
	r := model.TransactionRecord{Year: 2019, Department: "CUNDINAMARCA"}

	vec := enc.Raw(&r)
	byName := make(map[string]float64, Count)
	for i, name := range Names {
		byName[name] = vec[i]
	}
	assert.Equal(t, float64(1), byName["missing_date"])
	assert.Equal(t, float64(1), byName["missing_value"])
	assert.Equal(t, float64(0), byName["month"])
	assert.Equal(t, float64(0), byName["value"])
}

func TestTransformIsFrozenAndDeterministic(t *testing.T) {
	records := sampleRecords()
	enc := Fit(records)

	first := enc.Transform(&records[3])
	second := enc.Transform(&records[3])
	assert.Equal(t, first, second)

	// Fitting on the same sample reproduces identical statistics.
	other := Fit(sampleRecords())
	assert.Equal(t, enc.Means, other.Means)
	assert.Equal(t, enc.Stds, other.Stds)
	assert.Equal(t, enc.LargeCities, other.LargeCities)
}

func TestTransformSurvivesSerialization(t *testing.T) {
	records := sampleRecords()
	enc := Fit(records)

	data, err := json.Marshal(enc)
	require.NoError(t, err)

	var restored Encoder
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, enc.Transform(&records[0]), restored.Transform(&records[0]))
}

func TestLargeCitySetUsesFrequency(t *testing.T) {
	records := sampleRecords()
	// One rare municipality among many frequent ones.
	rare := records[0]
	rare.Municipality = "MOMPOX"
	records = append(records, rare)

	enc := Fit(records)
	assert.True(t, enc.LargeCities["BOGOTA"])

	// With fewer distinct cities than the cap, everything qualifies.
	assert.True(t, enc.LargeCities["MOMPOX"])
}

func TestConstantColumnsNormalizeToZero(t *testing.T) {
	records := sampleRecords()
	enc := Fit(records)

	// registry_office is constant in the sample.
	vec := enc.Transform(&records[0])
	for i, name := range Names {
		if name == "registry_office" {
			assert.Equal(t, float64(0), vec[i])
		}
	}
}

func TestValueBucket(t *testing.T) {
	tests := []struct {
		value  float64
		bucket float64
	}{
		{value: 0, bucket: 0},
		{value: 500, bucket: 2},
		{value: 1_000_000, bucket: 6},
		{value: 150_000_000, bucket: 8},
		{value: 9_000_000_000_000_000, bucket: 12},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.bucket, valueBucket(tt.value), "value %v", tt.value)
	}
}
