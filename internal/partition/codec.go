// Package partition routes classified records into the named output
// subsets and writes the run's aggregate statistics.
package partition

import (
	"fmt"
	"strconv"
	"time"

	"github.com/casamayor/predial/internal/ingest"
	"github.com/casamayor/predial/internal/model"
)

// Derived columns appended to the input schema in partition files.
const (
	ColTransactionID      = "transaction_id"
	ColQualityStatus      = "quality_status"
	ColErrorReason        = "error_reason"
	ColIsValidMarketAct   = "is_valid_market_act"
	ColIsValidValue       = "is_valid_value"
	ColExcessiveActivity  = "excessive_activity"
	ColAnnotationsPerYear = "annotations_per_year"
	ColGeoDiscrepancy     = "geo_discrepancy"
	ColExpectedDepartment = "expected_department"
)

// RecordHeader is the column order of every partition file.
var RecordHeader = []string{
	ColTransactionID,
	ingest.ColJurisdictionCode,
	ingest.ColRegistrationNumber,
	ingest.ColAnnotationNumber,
	ingest.ColActNatureCode,
	ingest.ColActNatureName,
	ingest.ColYear,
	ingest.ColRegistrationDate,
	ingest.ColRegistryOffice,
	ingest.ColDepartment,
	ingest.ColMunicipality,
	ingest.ColZoneType,
	ingest.ColDynamics,
	ingest.ColValue,
	ingest.ColPartyCount,
	ColQualityStatus,
	ColErrorReason,
	ColIsValidMarketAct,
	ColIsValidValue,
	ColExcessiveActivity,
	ColAnnotationsPerYear,
	ColGeoDiscrepancy,
	ColExpectedDepartment,
}

const dateLayout = "2006-01-02"

// MarshalRecord flattens a record into one partition-file row, in
// RecordHeader order.
func MarshalRecord(r *model.TransactionRecord) []string {
	date := ""
	if !r.RegistrationDate.IsZero() {
		date = r.RegistrationDate.Format(dateLayout)
	}
	value := ""
	if r.Value != nil {
		value = strconv.FormatFloat(*r.Value, 'f', -1, 64)
	}
	dynamics := ""
	if r.Dynamics != nil {
		dynamics = strconv.Itoa(*r.Dynamics)
	}

	return []string{
		r.TransactionID,
		r.JurisdictionCode,
		r.RegistrationNumber,
		r.AnnotationNumber,
		r.ActNatureCode,
		r.ActNatureName,
		strconv.Itoa(r.Year),
		date,
		strconv.Itoa(r.RegistryOffice),
		r.Department,
		r.Municipality,
		r.ZoneType,
		dynamics,
		value,
		strconv.Itoa(r.PartyCount),
		string(r.QualityStatus),
		string(r.ErrorReason),
		marshalBool(r.IsValidMarketAct),
		marshalBool(r.IsValidValue),
		marshalBool(r.ExcessiveActivity),
		strconv.Itoa(r.AnnotationsPerYear),
		marshalBool(r.GeoDiscrepancy),
		r.ExpectedDepartment,
	}
}

// UnmarshalRecord rebuilds a record from a partition-file row, so the
// training stage can consume partitions through the same chunk reader
// as raw input.
func UnmarshalRecord(fields map[string]string) (model.TransactionRecord, error) {
	id := fields[ColTransactionID]
	if id == "" {
		return model.TransactionRecord{}, fmt.Errorf("partition row missing %s", ColTransactionID)
	}

	r := model.TransactionRecord{
		TransactionID:      id,
		JurisdictionCode:   fields[ingest.ColJurisdictionCode],
		RegistrationNumber: fields[ingest.ColRegistrationNumber],
		AnnotationNumber:   fields[ingest.ColAnnotationNumber],
		ActNatureCode:      fields[ingest.ColActNatureCode],
		ActNatureName:      fields[ingest.ColActNatureName],
		Department:         fields[ingest.ColDepartment],
		Municipality:       fields[ingest.ColMunicipality],
		ZoneType:           fields[ingest.ColZoneType],
		QualityStatus:      model.QualityStatus(fields[ColQualityStatus]),
		ErrorReason:        model.ErrorReason(fields[ColErrorReason]),
		ExpectedDepartment: fields[ColExpectedDepartment],
	}

	r.Year, _ = strconv.Atoi(fields[ingest.ColYear])
	r.RegistryOffice, _ = strconv.Atoi(fields[ingest.ColRegistryOffice])
	r.PartyCount, _ = strconv.Atoi(fields[ingest.ColPartyCount])
	r.AnnotationsPerYear, _ = strconv.Atoi(fields[ColAnnotationsPerYear])

	if raw := fields[ingest.ColRegistrationDate]; raw != "" {
		if date, err := time.Parse(dateLayout, raw); err == nil {
			r.RegistrationDate = date.UTC()
		}
	}
	if raw := fields[ingest.ColValue]; raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			r.Value = &v
		}
	}
	if raw := fields[ingest.ColDynamics]; raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			r.Dynamics = &v
		}
	}

	r.IsValidMarketAct = fields[ColIsValidMarketAct] == "1"
	r.IsValidValue = fields[ColIsValidValue] == "1"
	r.ExcessiveActivity = fields[ColExcessiveActivity] == "1"
	r.GeoDiscrepancy = fields[ColGeoDiscrepancy] == "1"

	return r, nil
}

func marshalBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
