package feature

import (
	"math"
	"sort"

	"github.com/casamayor/predial/internal/model"
)

// LargeCityCount is how many of the most frequent municipalities are
// treated as large cities.
const LargeCityCount = 10

// Vocab maps a category value to its integer code. Codes start at 1;
// zero is reserved for values never seen during fitting.
type Vocab map[string]int

// UnseenCode is returned for category values absent from the vocabulary.
const UnseenCode = 0

func fitVocab(seen map[string]struct{}) Vocab {
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)

	vocab := make(Vocab, len(values))
	for i, v := range values {
		vocab[v] = i + 1
	}
	return vocab
}

// Code returns the integer code of a category value as a feature.
func (v Vocab) Code(value string) float64 {
	code, ok := v[value]
	if !ok {
		return UnseenCode
	}
	return float64(code)
}

// Encoder holds everything fitted during training that Transform needs
// at scoring time. All fields are frozen after Fit and serialized into
// the model artifact.
type Encoder struct {
	Departments    Vocab `json:"departments"`
	Municipalities Vocab `json:"municipalities"`
	ActNatures     Vocab `json:"act_natures"`
	ZoneTypes      Vocab `json:"zone_types"`

	LargeCities map[string]bool `json:"large_cities"`

	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// Fit learns the category vocabularies, the large-city set and the
// per-feature normalization statistics from the training sample.
func Fit(records []model.TransactionRecord) *Encoder {
	departments := make(map[string]struct{})
	municipalities := make(map[string]struct{})
	actNatures := make(map[string]struct{})
	zoneTypes := make(map[string]struct{})
	cityCounts := make(map[string]int)

	for i := range records {
		r := &records[i]
		if r.Department != "" {
			departments[r.Department] = struct{}{}
		}
		if r.Municipality != "" {
			municipalities[r.Municipality] = struct{}{}
			cityCounts[r.Municipality]++
		}
		if r.ActNatureCode != "" {
			actNatures[r.ActNatureCode] = struct{}{}
		}
		if r.ZoneType != "" {
			zoneTypes[r.ZoneType] = struct{}{}
		}
	}

	enc := &Encoder{
		Departments:    fitVocab(departments),
		Municipalities: fitVocab(municipalities),
		ActNatures:     fitVocab(actNatures),
		ZoneTypes:      fitVocab(zoneTypes),
		LargeCities:    topCities(cityCounts, LargeCityCount),
	}

	enc.fitNormalization(records)
	return enc
}

// topCities returns the n most frequent municipalities, breaking count
// ties by name so fitting is deterministic.
func topCities(counts map[string]int, n int) map[string]bool {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	if len(names) > n {
		names = names[:n]
	}
	cities := make(map[string]bool, len(names))
	for _, name := range names {
		cities[name] = true
	}
	return cities
}

func (e *Encoder) fitNormalization(records []model.TransactionRecord) {
	e.Means = make([]float64, Count)
	e.Stds = make([]float64, Count)

	sums := make([]float64, Count)
	sumSquares := make([]float64, Count)
	for i := range records {
		vec := e.Raw(&records[i])
		for j, v := range vec {
			sums[j] += v
			sumSquares[j] += v * v
		}
	}

	n := float64(len(records))
	if n == 0 {
		for j := range e.Stds {
			e.Stds[j] = 1
		}
		return
	}
	for j := range sums {
		mean := sums[j] / n
		variance := sumSquares[j]/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		e.Means[j] = mean
		std := math.Sqrt(variance)
		if std == 0 {
			// Constant columns map to zero instead of dividing by zero.
			std = 1
		}
		e.Stds[j] = std
	}
}

// Raw extracts the unnormalized feature vector in Names order.
func (e *Encoder) Raw(r *model.TransactionRecord) []float64 {
	value := 0.0
	missingValue := true
	if r.Value != nil {
		value = *r.Value
		missingValue = false
	}
	logValue := 0.0
	if value > 0 {
		logValue = math.Log1p(value)
	}
	valuePerParty := value
	if r.PartyCount > 0 {
		valuePerParty = value / float64(r.PartyCount)
	}

	missingDate := r.RegistrationDate.IsZero()
	month, dayOfWeek, dayOfMonth, week, weekend := 0.0, 0.0, 0.0, 0.0, 0.0
	quarter := 0.0
	if !missingDate {
		month = float64(r.RegistrationDate.Month())
		quarter = math.Ceil(month / 3)
		dayOfWeek = float64(r.RegistrationDate.Weekday())
		dayOfMonth = float64(r.RegistrationDate.Day())
		_, isoWeek := r.RegistrationDate.ISOWeek()
		week = float64(isoWeek)
		weekend = boolFeature(dayOfWeek == 0 || dayOfWeek == 6)
	}

	return []float64{
		float64(r.Year),
		month,
		quarter,
		dayOfWeek,
		dayOfMonth,
		week,
		weekend,
		float64(r.Year - 2000),
		value,
		logValue,
		value / 1_000_000,
		valueBucket(value),
		valuePerParty,
		float64(r.PartyCount),
		boolFeature(r.PartyCount > 1),
		boolFeature(r.PartyCount > 4),
		e.Departments.Code(r.Department),
		e.Municipalities.Code(r.Municipality),
		e.ActNatures.Code(r.ActNatureCode),
		e.ZoneTypes.Code(r.ZoneType),
		boolFeature(r.ZoneType == "URBANO"),
		boolFeature(r.ZoneType == "RURAL"),
		boolFeature(e.LargeCities[r.Municipality]),
		float64(r.RegistryOffice),
		boolFeature(missingDate),
		boolFeature(missingValue),
		boolFeature(r.ExcessiveActivity),
		boolFeature(r.GeoDiscrepancy),
		float64(r.AnnotationsPerYear),
	}
}

// Transform extracts and z-score normalizes one record using the
// frozen statistics.
func (e *Encoder) Transform(r *model.TransactionRecord) []float64 {
	vec := e.Raw(r)
	for j, v := range vec {
		vec[j] = (v - e.Means[j]) / e.Stds[j]
	}
	return vec
}

// TransformAll applies Transform to every record in order.
func (e *Encoder) TransformAll(records []model.TransactionRecord) [][]float64 {
	out := make([][]float64, len(records))
	for i := range records {
		out[i] = e.Transform(&records[i])
	}
	return out
}
