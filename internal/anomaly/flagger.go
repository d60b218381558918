// Package anomaly computes the two cross-record structural signals:
// excessive per-property annotation activity and geographic
// jurisdiction mismatch.
//
// Both signals need one full aggregation pass over the corpus before
// any flag can be emitted, so the package is split into an Aggregator
// (observe phase) and a frozen Flagger (annotate phase). The hand-off
// through Freeze is a hard barrier: no record may be annotated until
// every record has been observed.
package anomaly

import (
	"github.com/casamayor/predial/internal/model"
)

// DefaultActivityThreshold is the annotations-per-property-per-year
// count above which records are flagged. A domain-tuned default, not
// law: override it through configuration.
const DefaultActivityThreshold = 150

type activityKey struct {
	registration string
	year         int
}

// departmentTally tracks observed departments for one jurisdiction code
// in first-seen order so mode ties break deterministically.
type departmentTally struct {
	counts map[string]int
	order  []string
}

// Aggregator accumulates the per-property activity counts and the
// jurisdiction geo map during the observe phase.
type Aggregator struct {
	activity map[activityKey]int
	geo      map[string]*departmentTally
}

// NewAggregator creates an empty observe-phase aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		activity: make(map[activityKey]int),
		geo:      make(map[string]*departmentTally),
	}
}

// Observe feeds one record into both aggregation tables.
func (a *Aggregator) Observe(r *model.TransactionRecord) {
	a.activity[activityKey{registration: r.RegistrationNumber, year: r.Year}]++

	if r.JurisdictionCode == "" || r.Department == "" {
		return
	}
	tally := a.geo[r.JurisdictionCode]
	if tally == nil {
		tally = &departmentTally{counts: make(map[string]int)}
		a.geo[r.JurisdictionCode] = tally
	}
	if tally.counts[r.Department] == 0 {
		tally.order = append(tally.order, r.Department)
	}
	tally.counts[r.Department]++
}

// Freeze closes the observe phase and returns a read-only Flagger for
// the annotate phase. The geo map keeps, per jurisdiction code, the
// most frequent observed department; ties break by first-seen order.
func (a *Aggregator) Freeze(activityThreshold int) *Flagger {
	if activityThreshold <= 0 {
		activityThreshold = DefaultActivityThreshold
	}

	expected := make(map[string]string, len(a.geo))
	for code, tally := range a.geo {
		best := ""
		bestCount := 0
		for _, dept := range tally.order {
			if tally.counts[dept] > bestCount {
				best = dept
				bestCount = tally.counts[dept]
			}
		}
		expected[code] = best
	}

	return &Flagger{
		activity:          a.activity,
		expectedDept:      expected,
		activityThreshold: activityThreshold,
	}
}

// Flagger annotates records with the frozen aggregation results.
type Flagger struct {
	activity          map[activityKey]int
	expectedDept      map[string]string
	activityThreshold int
}

// Annotate writes the anomaly fields onto a record. Geographic
// discrepancy marks review candidates only: cross-jurisdiction
// registration is legal but rare.
func (f *Flagger) Annotate(r *model.TransactionRecord) {
	count := f.activity[activityKey{registration: r.RegistrationNumber, year: r.Year}]
	r.AnnotationsPerYear = count
	r.ExcessiveActivity = count > f.activityThreshold

	expected := f.expectedDept[r.JurisdictionCode]
	r.ExpectedDepartment = expected
	r.GeoDiscrepancy = expected != "" && r.Department != "" && r.Department != expected
}

// ExpectedDepartment exposes the frozen geo-map entry for a
// jurisdiction code; empty when the code was never observed with a
// department.
func (f *Flagger) ExpectedDepartment(jurisdictionCode string) string {
	return f.expectedDept[jurisdictionCode]
}

// Threshold returns the activity threshold the flagger was frozen with.
func (f *Flagger) Threshold() int {
	return f.activityThreshold
}
