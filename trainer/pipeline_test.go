package trainer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/infra"
	"github.com/tnqbao/gau-finetune-orchestrator/storage"
)

type publish struct {
	state   string
	percent int
	step    int
	total   int
	message string
}

// fakeReporter records every publish and drives the cooperative revoke flag.
type fakeReporter struct {
	publishes   []publish
	revoked     bool
	revokeAfter int // flag turns up after this many checks, 0 disables
	checks      int
}

func (r *fakeReporter) SetStarted(ctx context.Context, jobID, message string) error {
	r.publishes = append(r.publishes, publish{state: "started", message: message})
	return nil
}

func (r *fakeReporter) SetProgress(ctx context.Context, jobID string, percent, currentStep, totalSteps int, message string) error {
	r.publishes = append(r.publishes, publish{
		state:   "in_progress",
		percent: percent,
		step:    currentStep,
		total:   totalSteps,
		message: message,
	})
	return nil
}

func (r *fakeReporter) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	r.checks++
	if r.revoked {
		return true, nil
	}
	if r.revokeAfter > 0 && r.checks > r.revokeAfter {
		return true, nil
	}
	return false, nil
}

// fakeEngine records the calls it receives and emits configurable step
// callbacks during Train.
type fakeEngine struct {
	calls       []string
	loadErr     error
	trainErr    error
	saveErr     error
	loadPanics  bool
	steps       [][2]int
	datasetPath string
}

func (e *fakeEngine) LoadModel(ctx context.Context) error {
	e.calls = append(e.calls, "load_model")
	if e.loadPanics {
		panic("CUDA out of memory")
	}
	return e.loadErr
}

func (e *fakeEngine) ApplyAdapters(ctx context.Context) error {
	e.calls = append(e.calls, "configure_adapters")
	return nil
}

func (e *fakeEngine) Train(ctx context.Context, datasetPath, outputDir string, onStep func(currentStep, totalSteps int)) error {
	e.calls = append(e.calls, "train")
	e.datasetPath = datasetPath
	if e.trainErr != nil {
		return e.trainErr
	}
	for _, step := range e.steps {
		onStep(step[0], step[1])
	}
	return os.WriteFile(filepath.Join(outputDir, "training_args.json"), []byte("{}"), 0o644)
}

func (e *fakeEngine) Save(ctx context.Context, adapterDir string) error {
	e.calls = append(e.calls, "save")
	if e.saveErr != nil {
		return e.saveErr
	}
	return os.WriteFile(filepath.Join(adapterDir, "adapter_model.bin"), []byte("weights"), 0o644)
}

func (e *fakeEngine) Close() error {
	e.calls = append(e.calls, "close")
	return nil
}

func testLogger() *infra.LoggerClient {
	return infra.NewLoggerClient(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestPipeline(t *testing.T, engine *fakeEngine, reporter *fakeReporter) (*Pipeline, storage.Store) {
	t.Helper()

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	factory := func(ctx context.Context, jobDir string, cfg entity.TrainingConfig) (Engine, error) {
		return engine, nil
	}
	return NewPipeline(store, reporter, testLogger(), factory, t.TempDir()), store
}

func seedDataset(t *testing.T, store storage.Store, datasetID, body string) string {
	t.Helper()
	handle, err := store.Put(context.Background(), storage.DatasetNamespace(datasetID), storage.DatasetObjectName,
		strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	return handle
}

func testItem(datasetHandle string) entity.WorkItem {
	return entity.WorkItem{
		JobID:     "job-1",
		Dataset:   datasetHandle,
		OutputDir: storage.ModelNamespace("job-1"),
		Config:    entity.DefaultTrainingConfig(),
	}
}

const twoRecords = `{"instruction": "a", "output": "b"}
{"instruction": "c", "input": "x", "output": "d"}
`

func TestPipelineSuccess(t *testing.T) {
	engine := &fakeEngine{steps: [][2]int{{30, 60}, {60, 60}}}
	reporter := &fakeReporter{}
	pipeline, store := newTestPipeline(t, engine, reporter)

	handle := seedDataset(t, store, "ds-1", twoRecords)
	outcome := pipeline.Run(context.Background(), testItem(handle))

	require.Equal(t, entity.JobStateSucceeded, outcome.Terminal)
	require.NotNil(t, outcome.Result)
	assert.Nil(t, outcome.Error)
	assert.False(t, outcome.Aborted)

	result := outcome.Result
	assert.Equal(t, "models/job-1", result.OutputDir)
	assert.Equal(t, "models/job-1/adapter", result.AdapterDir)
	assert.Equal(t, 2, result.DatasetSize)
	assert.Equal(t, 60, result.MaxSteps)
	assert.Equal(t, "unsloth/llama-3-8b-bnb-4bit", result.Model)
	_, err := time.Parse(time.RFC3339, result.CompletedAt)
	assert.NoError(t, err, "completed_at should be RFC3339")

	assert.Equal(t, []string{"load_model", "configure_adapters", "train", "save", "close"}, engine.calls)
	assert.Equal(t, "data.formatted.jsonl", filepath.Base(engine.datasetPath))

	want := []publish{
		{state: "started", message: "Initializing training..."},
		{state: "in_progress", percent: 10, total: 60, message: "Loading model..."},
		{state: "in_progress", percent: 20, total: 60, message: "Setting up LoRA adapters..."},
		{state: "in_progress", percent: 30, total: 60, message: "Loading dataset..."},
		{state: "in_progress", percent: 40, total: 60, message: "Training in progress..."},
		{state: "in_progress", percent: 65, step: 30, total: 60, message: "Training in progress..."},
		{state: "in_progress", percent: 90, step: 60, total: 60, message: "Training in progress..."},
		{state: "in_progress", percent: 90, step: 60, total: 60, message: "Saving adapter..."},
	}
	assert.Equal(t, want, reporter.publishes)

	objects, err := store.List(context.Background(), storage.ModelNamespace("job-1"))
	require.NoError(t, err)
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		names = append(names, obj.Name)
	}
	assert.Contains(t, names, "models/job-1/adapter/adapter_model.bin")
	assert.Contains(t, names, "models/job-1/training_args.json")
}

func TestPipelineMissingDataset(t *testing.T) {
	engine := &fakeEngine{}
	reporter := &fakeReporter{}
	pipeline, _ := newTestPipeline(t, engine, reporter)

	outcome := pipeline.Run(context.Background(), testItem("datasets/missing/data.jsonl"))

	require.Equal(t, entity.JobStateFailed, outcome.Terminal)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, "Training data not found: datasets/missing/data.jsonl", outcome.Error.Message)
	assert.Equal(t, StageInitialize, outcome.Error.Stage)

	// The job never shows as started and no engine ever spins up.
	assert.Empty(t, reporter.publishes)
	assert.Empty(t, engine.calls)
}

func TestPipelineEmptyDataset(t *testing.T) {
	engine := &fakeEngine{}
	reporter := &fakeReporter{}
	pipeline, store := newTestPipeline(t, engine, reporter)

	handle := seedDataset(t, store, "ds-empty", `{"instruction": "", "output": "no instruction"}`+"\n")
	outcome := pipeline.Run(context.Background(), testItem(handle))

	require.Equal(t, entity.JobStateFailed, outcome.Terminal)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, StageDataset, outcome.Error.Stage)
	assert.Contains(t, outcome.Error.Message, "no trainable records")

	// Failure happened mid-run, so the start was already published.
	require.NotEmpty(t, reporter.publishes)
	assert.Equal(t, "started", reporter.publishes[0].state)
	assert.NotContains(t, engine.calls, "train")
}

func TestPipelineStageFailure(t *testing.T) {
	engine := &fakeEngine{loadErr: errors.New("driver not initialized")}
	reporter := &fakeReporter{}
	pipeline, store := newTestPipeline(t, engine, reporter)

	handle := seedDataset(t, store, "ds-1", twoRecords)
	outcome := pipeline.Run(context.Background(), testItem(handle))

	require.Equal(t, entity.JobStateFailed, outcome.Terminal)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, StageLoadModel, outcome.Error.Stage)
	assert.Contains(t, outcome.Error.Message, "stage load_model:")

	assert.NotContains(t, engine.calls, "train")
	assert.Contains(t, engine.calls, "close")
}

func TestPipelinePanicBecomesFailure(t *testing.T) {
	engine := &fakeEngine{loadPanics: true}
	reporter := &fakeReporter{}
	pipeline, store := newTestPipeline(t, engine, reporter)

	handle := seedDataset(t, store, "ds-1", twoRecords)
	outcome := pipeline.Run(context.Background(), testItem(handle))

	require.Equal(t, entity.JobStateFailed, outcome.Terminal)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, StageLoadModel, outcome.Error.Stage)
	assert.Contains(t, outcome.Error.Message, "panic")
	assert.NotEmpty(t, outcome.Error.Trace)
}

func TestPipelineRevokedBeforeStart(t *testing.T) {
	engine := &fakeEngine{}
	reporter := &fakeReporter{revoked: true}
	pipeline, store := newTestPipeline(t, engine, reporter)

	handle := seedDataset(t, store, "ds-1", twoRecords)
	outcome := pipeline.Run(context.Background(), testItem(handle))

	assert.Equal(t, entity.JobStateRevoked, outcome.Terminal)
	assert.Empty(t, reporter.publishes)
	assert.Empty(t, engine.calls)
}

func TestPipelineRevokedAtCheckpoint(t *testing.T) {
	engine := &fakeEngine{}
	// First check passes (claim time), every later checkpoint sees the flag.
	reporter := &fakeReporter{revokeAfter: 1}
	pipeline, store := newTestPipeline(t, engine, reporter)

	handle := seedDataset(t, store, "ds-1", twoRecords)
	outcome := pipeline.Run(context.Background(), testItem(handle))

	assert.Equal(t, entity.JobStateRevoked, outcome.Terminal)
	assert.Nil(t, outcome.Result)
	assert.Nil(t, outcome.Error)

	// The run stopped at the first checkpoint: engine created but never driven.
	assert.NotContains(t, engine.calls, "load_model")
	assert.Contains(t, engine.calls, "close")
}

func TestPipelineAbortedOnShutdown(t *testing.T) {
	engine := &fakeEngine{}
	reporter := &fakeReporter{}
	pipeline, store := newTestPipeline(t, engine, reporter)

	handle := seedDataset(t, store, "ds-1", twoRecords)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := pipeline.Run(ctx, testItem(handle))

	assert.True(t, outcome.Aborted)
	assert.Empty(t, string(outcome.Terminal))
	assert.Nil(t, outcome.Result)
	assert.Nil(t, outcome.Error)
	assert.NotContains(t, engine.calls, "load_model")
}

type failingPutStore struct {
	storage.Store
}

func (s failingPutStore) Put(ctx context.Context, namespace, name string, data io.Reader, size int64) (string, error) {
	return "", entity.ErrStorageIO
}

func TestPipelinePersistFailureIsTerminal(t *testing.T) {
	engine := &fakeEngine{steps: [][2]int{{60, 60}}}
	reporter := &fakeReporter{}

	inner, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	handle := seedDataset(t, inner, "ds-1", twoRecords)

	factory := func(ctx context.Context, jobDir string, cfg entity.TrainingConfig) (Engine, error) {
		return engine, nil
	}
	pipeline := NewPipeline(failingPutStore{inner}, reporter, testLogger(), factory, t.TempDir())

	outcome := pipeline.Run(context.Background(), testItem(handle))

	// Training finished but nothing was durably stored: never a success.
	require.Equal(t, entity.JobStateFailed, outcome.Terminal)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, StagePersist, outcome.Error.Stage)
	assert.Nil(t, outcome.Result)
	assert.Contains(t, engine.calls, "save")
}
