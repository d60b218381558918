package model

import (
	"strings"
	"time"
)

// QualityStatus is the data quality classification of a record.
type QualityStatus string

// Quality statuses assigned by the contextual classifier.
const (
	StatusOK      QualityStatus = "OK"
	StatusWarning QualityStatus = "WARNING"
	StatusError   QualityStatus = "ERROR"
)

// ErrorReason categorizes why a record was classified ERROR or WARNING.
type ErrorReason string

// Error reasons emitted by the classifier.
const (
	ReasonNone               ErrorReason = ""
	ReasonValueNotNumeric    ErrorReason = "VALUE_NOT_NUMERIC"
	ReasonDynamicsInvalid    ErrorReason = "DYNAMICS_INVALID"
	ReasonYearOutOfRange     ErrorReason = "YEAR_OUT_OF_RANGE"
	ReasonDateOutOfWindow    ErrorReason = "DATE_OUT_OF_WINDOW"
	ReasonGeographyMissing   ErrorReason = "GEOGRAPHY_MISSING"
	ReasonExtremeValue       ErrorReason = "EXTREME_VALUE"
	ReasonMarketMissingValue ErrorReason = "MARKET_ACT_MISSING_VALUE"
	ReasonIrrisoryValue      ErrorReason = "IRRISORY_VALUE"
	ReasonZoneTypeUnknown    ErrorReason = "ZONE_TYPE_UNKNOWN"
)

// RiskLevel is the three-level risk classification produced by scoring.
type RiskLevel string

// Risk levels derived from the ensemble anomaly score.
const (
	RiskNormal     RiskLevel = "normal"
	RiskSuspicious RiskLevel = "suspicious"
	RiskHighRisk   RiskLevel = "high-risk"
)

// Act dynamics values distinguishing market transactions from
// administrative acts.
const (
	DynamicsAdministrative = 0
	DynamicsMarket         = 1
)

// ZoneNoInformation is a valid zone category marking a georeferencing
// gap, not a data error.
const ZoneNoInformation = "SIN INFORMACION"

// TransactionRecord represents one notarized real-estate act.
//
// Quality and anomaly fields are set exactly once per ingestion run.
// ML fields are overwritten by repeated scoring runs and must stay
// idempotent.
type TransactionRecord struct {
	RegistrationDate time.Time

	TransactionID      string
	JurisdictionCode   string
	RegistrationNumber string
	AnnotationNumber   string
	ActNatureCode      string
	ActNatureName      string
	Department         string
	Municipality       string
	ZoneType           string
	ExpectedDepartment string

	Value    *float64
	Dynamics *int

	Year           int
	RegistryOffice int
	PartyCount     int

	// Raw-input defects recorded by the normalizer for the classifier.
	ValueMalformed  bool
	DateOutOfWindow bool

	// Quality fields.
	QualityStatus    QualityStatus
	ErrorReason      ErrorReason
	IsValidMarketAct bool
	IsValidValue     bool

	// Anomaly fields.
	ExcessiveActivity  bool
	AnnotationsPerYear int
	GeoDiscrepancy     bool

	// ML fields.
	AnomalyScore float64
	IsAnomaly    bool
	RiskLevel    RiskLevel
}

// CompositeKey derives the unique transaction identifier from the five
// key components. It is a pure concatenation; callers must reject rows
// with missing components before deriving the key.
func CompositeKey(jurisdiction, registration, annotation, actNature string, year string) string {
	return strings.Join([]string{jurisdiction, registration, annotation, actNature, year}, "_")
}

// IsMarketAct reports whether the record is a market transaction
// (dynamics=1) rather than an administrative act.
func (r *TransactionRecord) IsMarketAct() bool {
	return r.Dynamics != nil && *r.Dynamics == DynamicsMarket
}

// HasValue reports whether the record carries a non-zero monetary value.
func (r *TransactionRecord) HasValue() bool {
	return r.Value != nil && *r.Value != 0
}
