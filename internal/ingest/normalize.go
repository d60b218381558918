package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/casamayor/predial/internal/common"
	"github.com/casamayor/predial/internal/model"
)

// Earliest acceptable registration date; the upper bound is the
// ingestion date.
var dateWindowStart = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Normalizer derives composite keys and coerces raw row fields into a
// typed TransactionRecord.
type Normalizer struct {
	// IngestionDate bounds the registration date window. Records dated
	// after it are out of window.
	IngestionDate time.Time
}

// NewNormalizer creates a normalizer bounded by the given ingestion date.
func NewNormalizer(ingestionDate time.Time) *Normalizer {
	return &Normalizer{IngestionDate: ingestionDate}
}

// Normalize converts a raw row into a TransactionRecord or rejects it.
// The only rejection cause is a missing composite key component; every
// other defect is recorded on the record for the classifier to judge.
func (n *Normalizer) Normalize(row Row) (model.TransactionRecord, error) {
	jurisdiction := cleanCategory(row.Fields[ColJurisdictionCode])
	registration := cleanCategory(row.Fields[ColRegistrationNumber])
	annotation := cleanCategory(row.Fields[ColAnnotationNumber])
	actNature := cleanCategory(row.Fields[ColActNatureCode])
	yearRaw := strings.TrimSpace(row.Fields[ColYear])

	for name, v := range map[string]string{
		ColJurisdictionCode:   jurisdiction,
		ColRegistrationNumber: registration,
		ColAnnotationNumber:   annotation,
		ColActNatureCode:      actNature,
		ColYear:               yearRaw,
	} {
		if v == "" {
			return model.TransactionRecord{}, fmt.Errorf("%w: %s (line %d)", common.ErrMissingKeyComponent, name, row.Line)
		}
	}

	record := model.TransactionRecord{
		TransactionID:      model.CompositeKey(jurisdiction, registration, annotation, actNature, yearRaw),
		JurisdictionCode:   jurisdiction,
		RegistrationNumber: registration,
		AnnotationNumber:   annotation,
		ActNatureCode:      actNature,
		ActNatureName:      cleanCategory(row.Fields[ColActNatureName]),
		Department:         cleanCategory(row.Fields[ColDepartment]),
		Municipality:       cleanCategory(row.Fields[ColMunicipality]),
		ZoneType:           cleanCategory(row.Fields[ColZoneType]),
	}

	if year, err := strconv.Atoi(yearRaw); err == nil {
		record.Year = year
	}

	record.Value, record.ValueMalformed = ParseAmount(row.Fields[ColValue])
	record.Dynamics = parseDynamics(row.Fields[ColDynamics])
	record.RegistryOffice = parseRegistryOffice(row.Fields[ColRegistryOffice])

	if count, err := strconv.Atoi(strings.TrimSpace(row.Fields[ColPartyCount])); err == nil && count >= 0 {
		record.PartyCount = count
	}

	if date, ok := parseDate(row.Fields[ColRegistrationDate]); ok {
		record.RegistrationDate = date
		if date.Before(dateWindowStart) || date.After(n.IngestionDate) {
			record.DateOutOfWindow = true
		}
	}

	return record, nil
}

// ParseAmount converts a monetary field to a float, tolerating thousands
// separators, currency symbols and stray spaces. It reports whether a
// non-empty value failed to parse; missing values are not malformed.
func ParseAmount(raw string) (*float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
		return nil, false
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "COP", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, true
	}
	return &v, false
}

func parseDynamics(raw string) *int {
	switch strings.TrimSpace(raw) {
	case "0":
		v := model.DynamicsAdministrative
		return &v
	case "1":
		v := model.DynamicsMarket
		return &v
	default:
		return nil
	}
}

// Registry-office codes live in [1, 999]; anything else is unknown.
func parseRegistryOffice(raw string) int {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	code := int(v)
	if code < 1 || code > 999 {
		return 0
	}
	return code
}

func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// cleanCategory trims, uppercases and blanks out textual nulls, the same
// treatment for every categorical input column.
func cleanCategory(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "NONE" || s == "NULL" || s == "NAN" {
		return ""
	}
	return s
}
