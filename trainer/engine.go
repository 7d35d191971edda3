package trainer

import (
	"context"

	"github.com/tnqbao/gau-finetune-orchestrator/entity"
)

// Engine is one training backend driven stage by stage. Implementations hold
// whatever process or session state they need between calls; the pipeline
// owns ordering and progress reporting.
type Engine interface {
	// LoadModel loads the base model into the backend
	LoadModel(ctx context.Context) error

	// ApplyAdapters attaches the LoRA adapters to the loaded model
	ApplyAdapters(ctx context.Context) error

	// Train runs the training loop over a formatted dataset. Step completions
	// are reported through onStep as they happen.
	Train(ctx context.Context, datasetPath, outputDir string, onStep func(currentStep, totalSteps int)) error

	// Save writes the trained adapter to the given directory
	Save(ctx context.Context, adapterDir string) error

	// Close releases the backend
	Close() error
}

// EngineFactory builds a fresh engine for one job attempt. jobDir is the
// job's scratch directory on the worker host.
type EngineFactory func(ctx context.Context, jobDir string, cfg entity.TrainingConfig) (Engine, error)
