package trainer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/formatter"
	"github.com/tnqbao/gau-finetune-orchestrator/infra"
	"github.com/tnqbao/gau-finetune-orchestrator/storage"
)

// Pipeline stage names, used to tag failures with where they happened
const (
	StageInitialize = "initialize"
	StageLoadModel  = "load_model"
	StageAdapters   = "configure_adapters"
	StageDataset    = "load_dataset"
	StageTrain      = "train"
	StagePersist    = "persist"
)

// Reporter receives checkpoint publishes while a job runs. Publishes are
// best-effort; the pipeline logs and continues when one fails.
// repository.StateRepository satisfies this.
type Reporter interface {
	SetStarted(ctx context.Context, jobID, message string) error
	SetProgress(ctx context.Context, jobID string, percent, currentStep, totalSteps int, message string) error
	IsRevoked(ctx context.Context, jobID string) (bool, error)
}

// Outcome is the single result of one pipeline attempt. Exactly one of
// Result/Error is set for succeeded/failed; Aborted marks a run interrupted
// by shutdown, which must be redelivered rather than finalized.
type Outcome struct {
	Terminal entity.JobState
	Result   *entity.TrainingResult
	Error    *entity.JobError
	Aborted  bool
}

// Pipeline drives one work item through the fixed stage sequence, publishing
// a progress band at each checkpoint and observing the cooperative revoke
// flag between stages.
type Pipeline struct {
	store     storage.Store
	reporter  Reporter
	logger    *infra.LoggerClient
	newEngine EngineFactory
	workDir   string
}

func NewPipeline(store storage.Store, reporter Reporter, logger *infra.LoggerClient, newEngine EngineFactory, workDir string) *Pipeline {
	return &Pipeline{
		store:     store,
		reporter:  reporter,
		logger:    logger,
		newEngine: newEngine,
		workDir:   workDir,
	}
}

// Run executes the full pipeline for one work item. Every failure path maps
// into the returned Outcome; Run itself never returns an error.
func (p *Pipeline) Run(ctx context.Context, item entity.WorkItem) (outcome Outcome) {
	currentStage := StageInitialize

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorWithContextf(ctx, fmt.Errorf("%v", r), "[TrainingPipeline] Panic in stage %s for job %s", currentStage, item.JobID)
			outcome = Outcome{
				Terminal: entity.JobStateFailed,
				Error: &entity.JobError{
					Message: fmt.Sprintf("stage %s: panic: %v", currentStage, r),
					Stage:   currentStage,
					Trace:   string(debug.Stack()),
				},
			}
		}
	}()

	// Revoke observed before any work: the item is dropped unrun
	if p.revoked(ctx, item.JobID) {
		return Outcome{Terminal: entity.JobStateRevoked}
	}

	// Precondition: the dataset must have bytes behind it before the job is
	// claimed. Failing here never shows the job as started.
	if _, err := p.store.Stat(ctx, item.Dataset); err != nil {
		if errors.Is(err, entity.ErrInputNotFound) || errors.Is(err, entity.ErrStorageIO) {
			return Outcome{
				Terminal: entity.JobStateFailed,
				Error: &entity.JobError{
					Message: fmt.Sprintf("Training data not found: %s", item.Dataset),
					Stage:   StageInitialize,
					Trace:   err.Error(),
				},
			}
		}
		return p.stageFailure(ctx, item.JobID, StageInitialize, err)
	}

	cfg := item.Config
	totalSteps := cfg.MaxSteps

	p.publishStarted(ctx, item.JobID, "Initializing training...")

	jobDir := filepath.Join(p.workDir, item.JobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return p.stageFailure(ctx, item.JobID, StageInitialize, err)
	}
	defer os.RemoveAll(jobDir)

	engine, err := p.newEngine(ctx, jobDir, cfg)
	if err != nil {
		return p.stageFailure(ctx, item.JobID, StageInitialize, err)
	}
	defer engine.Close()

	if aborted, out := p.checkpoint(ctx, item.JobID); aborted {
		return out
	}

	currentStage = StageLoadModel
	p.publishProgress(ctx, item.JobID, 10, 0, totalSteps, "Loading model...")
	if err := engine.LoadModel(ctx); err != nil {
		return p.stageFailure(ctx, item.JobID, currentStage, err)
	}

	if aborted, out := p.checkpoint(ctx, item.JobID); aborted {
		return out
	}

	currentStage = StageAdapters
	p.publishProgress(ctx, item.JobID, 20, 0, totalSteps, "Setting up LoRA adapters...")
	if err := engine.ApplyAdapters(ctx); err != nil {
		return p.stageFailure(ctx, item.JobID, currentStage, err)
	}

	if aborted, out := p.checkpoint(ctx, item.JobID); aborted {
		return out
	}

	currentStage = StageDataset
	p.publishProgress(ctx, item.JobID, 30, 0, totalSteps, "Loading dataset...")
	datasetPath := filepath.Join(jobDir, "data.formatted.jsonl")
	datasetSize, err := p.prepareDataset(ctx, item.Dataset, datasetPath, cfg)
	if err != nil {
		return p.stageFailure(ctx, item.JobID, currentStage, err)
	}

	if aborted, out := p.checkpoint(ctx, item.JobID); aborted {
		return out
	}

	currentStage = StageTrain
	p.publishProgress(ctx, item.JobID, 40, 0, totalSteps, "Training in progress...")
	outputPath := filepath.Join(jobDir, "outputs")
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return p.stageFailure(ctx, item.JobID, currentStage, err)
	}

	startedAt := time.Now()
	err = engine.Train(ctx, datasetPath, outputPath, func(currentStep, total int) {
		if total <= 0 {
			total = totalSteps
		}
		percent := 40
		if total > 0 {
			percent = 40 + (50*currentStep)/total
		}
		if percent > 90 {
			percent = 90
		}
		p.publishProgress(ctx, item.JobID, percent, currentStep, total, "Training in progress...")
	})
	if err != nil {
		return p.stageFailure(ctx, item.JobID, currentStage, err)
	}
	trainingDuration := time.Since(startedAt).Seconds()

	if aborted, out := p.checkpoint(ctx, item.JobID); aborted {
		return out
	}

	currentStage = StagePersist
	p.publishProgress(ctx, item.JobID, 90, totalSteps, totalSteps, "Saving adapter...")
	adapterPath := filepath.Join(outputPath, "adapter")
	if err := os.MkdirAll(adapterPath, 0o755); err != nil {
		return p.stageFailure(ctx, item.JobID, currentStage, err)
	}
	if err := engine.Save(ctx, adapterPath); err != nil {
		return p.stageFailure(ctx, item.JobID, currentStage, err)
	}

	// A write failure here is terminal: training finished but the result was
	// not durably persisted, which must not be reported as success.
	if err := p.persistArtifacts(ctx, outputPath, item.OutputDir); err != nil {
		return p.stageFailure(ctx, item.JobID, currentStage, err)
	}

	result := &entity.TrainingResult{
		OutputDir:               item.OutputDir,
		AdapterDir:              item.OutputDir + "/adapter",
		TrainingDurationSeconds: trainingDuration,
		DatasetSize:             datasetSize,
		MaxSteps:                cfg.MaxSteps,
		CompletedAt:             time.Now().UTC().Format(time.RFC3339),
		Model:                   cfg.BaseModel,
	}

	p.logger.InfoWithContextf(ctx, "[TrainingPipeline] Job %s completed in %.2fs", item.JobID, trainingDuration)
	return Outcome{Terminal: entity.JobStateSucceeded, Result: result}
}

// prepareDataset streams the raw dataset out of the store, renders it into
// trainable prompts and writes the formatted file next to the job
func (p *Pipeline) prepareDataset(ctx context.Context, datasetHandle, destPath string, cfg entity.TrainingConfig) (int, error) {
	raw, _, err := p.store.Open(ctx, datasetHandle)
	if err != nil {
		return 0, err
	}
	defer raw.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer dest.Close()

	count, err := formatter.RenderDataset(raw, dest, cfg)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, fmt.Errorf("dataset contains no trainable records")
	}

	return count, nil
}

// persistArtifacts uploads everything under dir into the job's output
// namespace. Uploads overwrite, so a redelivered attempt converges on the
// same objects.
func (p *Pipeline) persistArtifacts(ctx context.Context, dir, namespace string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = p.store.Put(ctx, namespace, filepath.ToSlash(rel), f, info.Size())
		return err
	})
}

// checkpoint is called between stages: it honors shutdown first, then the
// cooperative revoke flag
func (p *Pipeline) checkpoint(ctx context.Context, jobID string) (bool, Outcome) {
	select {
	case <-ctx.Done():
		return true, Outcome{Aborted: true}
	default:
	}

	if p.revoked(ctx, jobID) {
		return true, Outcome{Terminal: entity.JobStateRevoked}
	}

	return false, Outcome{}
}

func (p *Pipeline) revoked(ctx context.Context, jobID string) bool {
	revoked, err := p.reporter.IsRevoked(ctx, jobID)
	if err != nil {
		p.logger.WarningWithContextf(ctx, "[TrainingPipeline] Failed to read revoke flag for job %s: %v", jobID, err)
		return false
	}
	return revoked
}

func (p *Pipeline) stageFailure(ctx context.Context, jobID, stage string, err error) Outcome {
	wrapped := &entity.StageExecutionError{Stage: stage, Err: err}
	p.logger.ErrorWithContextf(ctx, wrapped, "[TrainingPipeline] Job %s failed in stage %s", jobID, stage)

	return Outcome{
		Terminal: entity.JobStateFailed,
		Error: &entity.JobError{
			Message: wrapped.Error(),
			Stage:   stage,
			Trace:   err.Error(),
		},
	}
}

func (p *Pipeline) publishStarted(ctx context.Context, jobID, message string) {
	if err := p.reporter.SetStarted(ctx, jobID, message); err != nil {
		p.logger.WarningWithContextf(ctx, "[TrainingPipeline] Failed to publish started for job %s: %v", jobID, err)
	}
}

func (p *Pipeline) publishProgress(ctx context.Context, jobID string, percent, currentStep, totalSteps int, message string) {
	if err := p.reporter.SetProgress(ctx, jobID, percent, currentStep, totalSteps, message); err != nil {
		p.logger.WarningWithContextf(ctx, "[TrainingPipeline] Failed to publish progress for job %s: %v", jobID, err)
	}
}
