package ensemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/casamayor/predial/internal/common"
	"github.com/casamayor/predial/internal/feature"
)

// Artifact file names inside the model directory.
const (
	ModelFileName    = "model.json"
	MetadataFileName = "training_metadata.json"
)

// Metadata describes the training run that produced an artifact.
type Metadata struct {
	TrainedAt time.Time `json:"trained_at"`

	RunID           string             `json:"run_id"`
	FeatureNames    []string           `json:"feature_names"`
	DroppedFeatures []string           `json:"dropped_features"`
	Importances     map[string]float64 `json:"importances"`

	SampleSize int `json:"sample_size"`
}

// Artifact bundles the frozen encoder, the trained model and the run
// metadata. Loading an artifact is everything a scoring run needs.
type Artifact struct {
	Encoder  *feature.Encoder `json:"encoder"`
	Model    *Model           `json:"model"`
	Metadata Metadata         `json:"metadata"`
}

// Save persists the artifact atomically: each file is written to a
// temporary name first and renamed into place, so a crashed run never
// leaves a half-written model behind.
func (a *Artifact) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	if err := writeJSONAtomic(filepath.Join(dir, ModelFileName), a); err != nil {
		return err
	}
	return writeJSONAtomic(filepath.Join(dir, MetadataFileName), a.Metadata)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load reads a previously saved artifact. A missing model file maps to
// ErrModelNotFitted so callers can tell the user to train first.
func Load(dir string) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, ModelFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no model found in %s", common.ErrModelNotFitted, dir)
		}
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if artifact.Model == nil || artifact.Encoder == nil {
		return nil, fmt.Errorf("%w: model file is incomplete", common.ErrModelNotFitted)
	}
	return &artifact, nil
}
