// Package feature turns transaction records into the numeric vectors
// consumed by the anomaly ensemble.
package feature

import "math"

// Names lists every model feature in canonical column order. Transform
// output follows this order exactly; reordering it invalidates saved
// model artifacts.
var Names = []string{
	"year",
	"month",
	"quarter",
	"day_of_week",
	"day_of_month",
	"week_of_year",
	"is_weekend",
	"years_since_2000",
	"value",
	"log_value",
	"value_millions",
	"value_bucket",
	"value_per_party",
	"party_count",
	"multiple_parties",
	"many_parties",
	"department_code",
	"municipality_code",
	"act_nature_code",
	"zone_type_code",
	"is_urban",
	"is_rural",
	"is_large_city",
	"registry_office",
	"missing_date",
	"missing_value",
	"excessive_activity",
	"geo_discrepancy",
	"annotations_per_year",
}

// Count is the dimensionality of every feature vector.
var Count = len(Names)

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// valueBucket groups monetary values by order of magnitude so the
// forest can split on coarse price bands.
func valueBucket(v float64) float64 {
	if v <= 0 {
		return 0
	}
	bucket := math.Floor(math.Log10(v))
	if bucket > 12 {
		bucket = 12
	}
	return bucket
}
