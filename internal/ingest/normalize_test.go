package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casamayor/predial/internal/common"
	"github.com/casamayor/predial/internal/model"
)

var ingestionDate = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func baseRow() Row {
	return Row{
		Line: 2,
		Fields: map[string]string{
			ColJurisdictionCode:   "11001",
			ColRegistrationNumber: "50N-123456",
			ColAnnotationNumber:   "4",
			ColActNatureCode:      "0125",
			ColActNatureName:      "compraventa",
			ColYear:               "2019",
			ColRegistrationDate:   "2019-03-04",
			ColRegistryOffice:     "70",
			ColDepartment:         " cundinamarca ",
			ColMunicipality:       "BOGOTA",
			ColZoneType:           "urbano",
			ColDynamics:           "1",
			ColValue:              "$150,000,000",
			ColPartyCount:         "2",
		},
	}
}

func TestNormalizeHappyPath(t *testing.T) {
	n := NewNormalizer(ingestionDate)

	record, err := n.Normalize(baseRow())
	require.NoError(t, err)

	assert.Equal(t, "11001_50N-123456_4_0125_2019", record.TransactionID)
	assert.Equal(t, "CUNDINAMARCA", record.Department)
	assert.Equal(t, "COMPRAVENTA", record.ActNatureName)
	assert.Equal(t, "URBANO", record.ZoneType)
	assert.Equal(t, 2019, record.Year)
	assert.Equal(t, 70, record.RegistryOffice)
	assert.Equal(t, 2, record.PartyCount)
	require.NotNil(t, record.Value)
	assert.InDelta(t, 150_000_000, *record.Value, 0.001)
	require.NotNil(t, record.Dynamics)
	assert.Equal(t, model.DynamicsMarket, *record.Dynamics)
	assert.False(t, record.ValueMalformed)
	assert.False(t, record.DateOutOfWindow)
}

func TestNormalizeRejectsMissingKeyComponent(t *testing.T) {
	for _, col := range RequiredColumns {
		t.Run(col, func(t *testing.T) {
			row := baseRow()
			row.Fields[col] = "  "

			n := NewNormalizer(ingestionDate)
			_, err := n.Normalize(row)
			assert.ErrorIs(t, err, common.ErrMissingKeyComponent)
		})
	}
}

func TestNormalizeDefectsAreRecordedNotFatal(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value string
		check func(t *testing.T, r model.TransactionRecord)
	}{
		{
			name:  "non-numeric value is malformed",
			field: ColValue,
			value: "unknown",
			check: func(t *testing.T, r model.TransactionRecord) {
				assert.Nil(t, r.Value)
				assert.True(t, r.ValueMalformed)
			},
		},
		{
			name:  "empty value is missing, not malformed",
			field: ColValue,
			value: "",
			check: func(t *testing.T, r model.TransactionRecord) {
				assert.Nil(t, r.Value)
				assert.False(t, r.ValueMalformed)
			},
		},
		{
			name:  "invalid dynamics",
			field: ColDynamics,
			value: "9",
			check: func(t *testing.T, r model.TransactionRecord) {
				assert.Nil(t, r.Dynamics)
			},
		},
		{
			name:  "date before window",
			field: ColRegistrationDate,
			value: "1997-01-01",
			check: func(t *testing.T, r model.TransactionRecord) {
				assert.True(t, r.DateOutOfWindow)
			},
		},
		{
			name:  "date after ingestion date",
			field: ColRegistrationDate,
			value: "2031-01-01",
			check: func(t *testing.T, r model.TransactionRecord) {
				assert.True(t, r.DateOutOfWindow)
			},
		},
		{
			name:  "registry office out of range",
			field: ColRegistryOffice,
			value: "1200",
			check: func(t *testing.T, r model.TransactionRecord) {
				assert.Equal(t, 0, r.RegistryOffice)
			},
		},
		{
			name:  "textual null department",
			field: ColDepartment,
			value: "None",
			check: func(t *testing.T, r model.TransactionRecord) {
				assert.Empty(t, r.Department)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := baseRow()
			row.Fields[tt.field] = tt.value

			n := NewNormalizer(ingestionDate)
			record, err := n.Normalize(row)
			require.NoError(t, err)
			tt.check(t, record)
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		want      *float64
		name      string
		raw       string
		malformed bool
	}{
		{name: "plain number", raw: "1500000", want: floatPtr(1_500_000)},
		{name: "thousands separators", raw: "1,500,000.50", want: floatPtr(1_500_000.50)},
		{name: "currency symbol", raw: "$2,000,000", want: floatPtr(2_000_000)},
		{name: "currency code", raw: "350000 COP", want: floatPtr(350_000)},
		{name: "empty", raw: "", want: nil},
		{name: "textual null", raw: "NULL", want: nil},
		{name: "garbage", raw: "12a4", want: nil, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, malformed := ParseAmount(tt.raw)
			assert.Equal(t, tt.malformed, malformed)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.001)
		})
	}
}

func floatPtr(v float64) *float64 { return &v }
