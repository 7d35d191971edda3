package config

import (
	"fmt"
	"os"

	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"gopkg.in/yaml.v3"
)

// LoadTrainingProfile reads an optional YAML file of hyperparameter overrides
// that operators use to pin cluster-wide defaults (e.g. a smaller max_steps on
// staging). Returns nil when no profile path is configured.
func LoadTrainingProfile(path string) (*entity.TrainingConfigOverride, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read training profile %s: %w", path, err)
	}

	var override entity.TrainingConfigOverride
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse training profile %s: %w", path, err)
	}

	return &override, nil
}
