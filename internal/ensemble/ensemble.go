package ensemble

import (
	"fmt"
	"math"
	"sort"

	"github.com/casamayor/predial/internal/common"
	"github.com/casamayor/predial/internal/model"
)

// Ensemble defaults.
const (
	DefaultForestWeight  = 0.6
	DefaultDensityWeight = 0.4
	DefaultContamination = 0.1
	DefaultSeed          = 42

	// MinTrainingSamples is the floor below which training refuses to
	// produce a model.
	MinTrainingSamples = 1000
)

// Score thresholds applied to the combined [0, 1] score.
const (
	SuspiciousThreshold = 0.4
	HighRiskThreshold   = 0.7
	AnomalyThreshold    = 0.5
)

// Weights combines the two estimators into one score.
type Weights struct {
	Forest  float64 `json:"forest"`
	Density float64 `json:"density"`
}

// DefaultWeights returns the standard forest/density split.
func DefaultWeights() Weights {
	return Weights{Forest: DefaultForestWeight, Density: DefaultDensityWeight}
}

// Params configures a training run.
type Params struct {
	NumTrees         int
	SubsampleSize    int
	Neighbors        int
	MaxReferenceSize int
	MinSamples       int
	Seed             int64
	Contamination    float64
	Weights          Weights
}

// DefaultParams returns the standard training configuration.
func DefaultParams() Params {
	return Params{
		NumTrees:         DefaultNumTrees,
		SubsampleSize:    DefaultSubsampleSize,
		Neighbors:        DefaultNeighbors,
		MaxReferenceSize: DefaultMaxReferenceSize,
		MinSamples:       MinTrainingSamples,
		Seed:             DefaultSeed,
		Contamination:    DefaultContamination,
		Weights:          DefaultWeights(),
	}
}

// calibration freezes the raw score range observed on the training
// data so scoring maps raw scores into [0, 1] the same way forever.
type calibration struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func fitCalibration(scores []float64) calibration {
	c := calibration{Min: scores[0], Max: scores[0]}
	for _, s := range scores[1:] {
		if s < c.Min {
			c.Min = s
		}
		if s > c.Max {
			c.Max = s
		}
	}
	return c
}

// normalize maps a raw score into [0, 1], clamping scores outside the
// training range.
func (c calibration) normalize(raw float64) float64 {
	if c.Max == c.Min {
		return 0.5
	}
	v := (raw - c.Min) / (c.Max - c.Min)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// riskCalibration maps the combined training-score distribution into
// [0, 1] so that the contamination prior's share of training scores
// lands above the high-risk cut point. Pivot is the raw combined score
// at the (1 - contamination) training quantile.
type riskCalibration struct {
	Min   float64 `json:"min"`
	Pivot float64 `json:"pivot"`
	Max   float64 `json:"max"`
}

func fitRiskCalibration(scores []float64, contamination float64) riskCalibration {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	idx := int(math.Ceil(float64(len(sorted)) * (1 - contamination)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return riskCalibration{
		Min:   sorted[0],
		Pivot: sorted[idx],
		Max:   sorted[len(sorted)-1],
	}
}

// normalize maps a raw combined score so the pivot lands exactly on
// the high-risk cut point, clamping outside the training range.
func (c riskCalibration) normalize(raw float64) float64 {
	switch {
	case raw <= c.Min:
		return 0
	case raw <= c.Pivot:
		if c.Pivot == c.Min {
			return HighRiskThreshold
		}
		return HighRiskThreshold * (raw - c.Min) / (c.Pivot - c.Min)
	case raw >= c.Max:
		return 1
	default:
		if c.Max == c.Pivot {
			return HighRiskThreshold
		}
		return HighRiskThreshold + (1-HighRiskThreshold)*(raw-c.Pivot)/(c.Max-c.Pivot)
	}
}

// Model is the trained ensemble. Every field needed to reproduce a
// score is serialized into the artifact.
type Model struct {
	Forest *IsolationForest    `json:"forest"`
	LOF    *LocalOutlierFactor `json:"lof"`

	// Mask marks the feature columns kept after dropping zero-variance
	// columns, indexed by original column position.
	Mask []bool `json:"mask"`

	ForestCalibration  calibration     `json:"forest_calibration"`
	DensityCalibration calibration     `json:"density_calibration"`
	RiskCalibration    riskCalibration `json:"risk_calibration"`

	Contamination float64 `json:"contamination"`
	Weights       Weights `json:"weights"`
}

// Train fits both estimators on the vectors and freezes the score
// calibration. Returns ErrInsufficientTrainingData when the sample is
// too small to produce a trustworthy model.
func Train(vectors [][]float64, params Params) (*Model, error) {
	if len(vectors) < params.MinSamples {
		return nil, fmt.Errorf("%w: got %d samples, need %d",
			common.ErrInsufficientTrainingData, len(vectors), params.MinSamples)
	}

	mask := varianceMask(vectors)
	masked := applyMask(vectors, mask)
	if len(masked[0]) == 0 {
		return nil, fmt.Errorf("%w: all feature columns are constant",
			common.ErrInsufficientTrainingData)
	}

	if params.Contamination <= 0 || params.Contamination >= 1 {
		params.Contamination = DefaultContamination
	}

	m := &Model{
		Forest:        FitIsolationForest(masked, params.NumTrees, params.SubsampleSize, params.Seed),
		LOF:           FitLOF(masked, params.Neighbors, params.MaxReferenceSize, params.Seed),
		Mask:          mask,
		Contamination: params.Contamination,
		Weights:       params.Weights,
	}

	forestScores := make([]float64, len(masked))
	densityScores := make([]float64, len(masked))
	for i, vec := range masked {
		forestScores[i] = m.Forest.Score(vec)
		densityScores[i] = m.LOF.Score(vec)
	}
	m.ForestCalibration = fitCalibration(forestScores)
	m.DensityCalibration = fitCalibration(densityScores)

	combined := make([]float64, len(masked))
	for i := range masked {
		combined[i] = m.Weights.Forest*m.ForestCalibration.normalize(forestScores[i]) +
			m.Weights.Density*m.DensityCalibration.normalize(densityScores[i])
	}
	m.RiskCalibration = fitRiskCalibration(combined, params.Contamination)

	return m, nil
}

// varianceMask marks columns whose values are not constant across the
// training data.
func varianceMask(vectors [][]float64) []bool {
	mask := make([]bool, len(vectors[0]))
	first := vectors[0]
	for _, vec := range vectors[1:] {
		for j, v := range vec {
			if v != first[j] {
				mask[j] = true
			}
		}
	}
	return mask
}

func applyMask(vectors [][]float64, mask []bool) [][]float64 {
	kept := 0
	for _, keep := range mask {
		if keep {
			kept++
		}
	}
	out := make([][]float64, len(vectors))
	for i, vec := range vectors {
		row := make([]float64, 0, kept)
		for j, keep := range mask {
			if keep {
				row = append(row, vec[j])
			}
		}
		out[i] = row
	}
	return out
}

func (m *Model) maskVector(vec []float64) []float64 {
	row := make([]float64, 0, len(vec))
	for j, keep := range m.Mask {
		if keep {
			row = append(row, vec[j])
		}
	}
	return row
}

// Score combines both calibrated estimator scores into one value in
// [0, 1]. The input is a full-width feature vector; the model applies
// its own column mask.
func (m *Model) Score(vec []float64) float64 {
	masked := m.maskVector(vec)
	forest := m.ForestCalibration.normalize(m.Forest.Score(masked))
	density := m.DensityCalibration.normalize(m.LOF.Score(masked))
	return m.RiskCalibration.normalize(m.Weights.Forest*forest + m.Weights.Density*density)
}

// ClassifyRisk maps a combined score to its risk level.
func ClassifyRisk(score float64) model.RiskLevel {
	switch {
	case score > HighRiskThreshold:
		return model.RiskHighRisk
	case score >= SuspiciousThreshold:
		return model.RiskSuspicious
	default:
		return model.RiskNormal
	}
}

// IsAnomaly reports whether a combined score crosses the binary
// anomaly threshold.
func IsAnomaly(score float64) bool {
	return score >= AnomalyThreshold
}
