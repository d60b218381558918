// Package quality implements the contextual data-quality classifier.
//
// Classification is conditioned on the act's dynamics flag instead of
// blanket null filtering: administrative acts legitimately carry no
// price, so only market acts are penalized for missing values. The
// classifier is a pure function of a single record and is idempotent.
package quality

import (
	"github.com/casamayor/predial/internal/model"
)

// Value rule boundaries in local-currency units.
const (
	// IrrisoryValueCeiling marks market values below it as suspect.
	IrrisoryValueCeiling = 1_000_000
	// ExtremeValueCeiling marks values above it as probable digit errors.
	ExtremeValueCeiling = 10_000_000_000
)

// Registration years accepted by the classifier; the upper bound is the
// ingestion year, supplied by the caller.
const MinYear = 2000

// Known zone categories. ZoneNoInformation is valid: it records a
// georeferencing gap, not a data error.
var knownZoneTypes = map[string]bool{
	"URBANO":                true,
	"RURAL":                 true,
	"MIXTO":                 true,
	model.ZoneNoInformation: true,
}

// Outcome is the result of classifying one record.
type Outcome struct {
	Status           model.QualityStatus
	Reason           model.ErrorReason
	IsValidMarketAct bool
	IsValidValue     bool
}

// Classifier applies the quality decision table.
type Classifier struct {
	maxYear int
}

// NewClassifier creates a classifier whose year window closes at the
// given ingestion year.
func NewClassifier(ingestionYear int) *Classifier {
	return &Classifier{maxYear: ingestionYear}
}

// Classify runs the decision table over a single record. Rules are
// ordered: the first ERROR rule that fires fixes the reason, then
// WARNING rules, then OK.
func (c *Classifier) Classify(r *model.TransactionRecord) Outcome {
	out := Outcome{Status: model.StatusOK}

	out.IsValidMarketAct = r.IsMarketAct()
	out.IsValidValue = out.IsValidMarketAct &&
		r.Value != nil &&
		*r.Value >= IrrisoryValueCeiling &&
		*r.Value <= ExtremeValueCeiling

	switch {
	case r.ValueMalformed:
		out.Status = model.StatusError
		out.Reason = model.ReasonValueNotNumeric
	case r.Dynamics == nil:
		out.Status = model.StatusError
		out.Reason = model.ReasonDynamicsInvalid
	case r.Year < MinYear || r.Year > c.maxYear:
		out.Status = model.StatusError
		out.Reason = model.ReasonYearOutOfRange
	case r.DateOutOfWindow:
		out.Status = model.StatusError
		out.Reason = model.ReasonDateOutOfWindow
	case r.Department == "" || r.Municipality == "":
		out.Status = model.StatusError
		out.Reason = model.ReasonGeographyMissing
	case r.Value != nil && *r.Value > ExtremeValueCeiling:
		out.Status = model.StatusError
		out.Reason = model.ReasonExtremeValue
	case out.IsValidMarketAct && !r.HasValue():
		out.Status = model.StatusError
		out.Reason = model.ReasonMarketMissingValue
	case out.IsValidMarketAct && *r.Value > 0 && *r.Value < IrrisoryValueCeiling:
		out.Status = model.StatusWarning
		out.Reason = model.ReasonIrrisoryValue
	case !knownZoneTypes[r.ZoneType]:
		out.Status = model.StatusWarning
		out.Reason = model.ReasonZoneTypeUnknown
	}

	return out
}

// Apply classifies the record and writes the quality fields onto it.
func (c *Classifier) Apply(r *model.TransactionRecord) {
	out := c.Classify(r)
	r.QualityStatus = out.Status
	r.ErrorReason = out.Reason
	r.IsValidMarketAct = out.IsValidMarketAct
	r.IsValidValue = out.IsValidValue
}
