package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/infra"
	"github.com/tnqbao/gau-finetune-orchestrator/repository"
	"github.com/tnqbao/gau-finetune-orchestrator/storage"
	"github.com/tnqbao/gau-finetune-orchestrator/trainer"
	"gorm.io/datatypes"
)

type fakeKV struct {
	data map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string][]byte{}}
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = data
	return nil
}

func (f *fakeKV) Get(ctx context.Context, key string, dest interface{}) error {
	data, ok := f.data[key]
	if !ok {
		return infra.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (f *fakeKV) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	return true, f.Set(ctx, key, value, expiration)
}

func (f *fakeKV) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeKV) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range f.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

type ackCall struct {
	op      string
	requeue bool
}

// fakeAcknowledger records broker settlements; onAck observes state at the
// moment of acknowledgment.
type fakeAcknowledger struct {
	calls []ackCall
	onAck func()
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	if a.onAck != nil {
		a.onAck()
	}
	a.calls = append(a.calls, ackCall{op: "ack"})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.calls = append(a.calls, ackCall{op: "nack", requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.calls = append(a.calls, ackCall{op: "reject", requeue: requeue})
	return nil
}

type terminalCall struct {
	id      uuid.UUID
	state   string
	result  datatypes.JSON
	message string
}

type fakeArchive struct {
	terminals []terminalCall
}

func (a *fakeArchive) Create(job *entity.TrainingJob) error { return nil }

func (a *fakeArchive) FindByID(id uuid.UUID) (*entity.TrainingJob, error) {
	return nil, errors.New("not found")
}

func (a *fakeArchive) List(submittedBy string, limit, offset int) ([]entity.TrainingJob, int64, error) {
	return nil, 0, nil
}

func (a *fakeArchive) MarkTerminal(id uuid.UUID, state string, result datatypes.JSON, message, finishedAt string) error {
	a.terminals = append(a.terminals, terminalCall{id: id, state: state, result: result, message: message})
	return nil
}

func (a *fakeArchive) FindFinishedBefore(cutoff string, limit int) ([]entity.TrainingJob, error) {
	return nil, nil
}

func (a *fakeArchive) Delete(id uuid.UUID) error { return nil }

type stubEngine struct {
	trained bool
}

func (e *stubEngine) LoadModel(ctx context.Context) error     { return nil }
func (e *stubEngine) ApplyAdapters(ctx context.Context) error { return nil }

func (e *stubEngine) Train(ctx context.Context, datasetPath, outputDir string, onStep func(currentStep, totalSteps int)) error {
	e.trained = true
	onStep(60, 60)
	return os.WriteFile(filepath.Join(outputDir, "training_args.json"), []byte("{}"), 0o644)
}

func (e *stubEngine) Save(ctx context.Context, adapterDir string) error {
	return os.WriteFile(filepath.Join(adapterDir, "adapter_model.bin"), []byte("weights"), 0o644)
}

func (e *stubEngine) Close() error { return nil }

type consumerHarness struct {
	consumer *TrainingConsumer
	repo     *repository.Repository
	archive  *fakeArchive
	engine   *stubEngine
	store    storage.Store
}

func newConsumerHarness(t *testing.T) *consumerHarness {
	t.Helper()

	archive := &fakeArchive{}
	repo := &repository.Repository{
		Job:   archive,
		State: repository.NewStateRepository(newFakeKV(), 24*time.Hour),
	}

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	engine := &stubEngine{}
	factory := func(ctx context.Context, jobDir string, cfg entity.TrainingConfig) (trainer.Engine, error) {
		return engine, nil
	}

	logger := infra.NewLoggerClient(slog.New(slog.NewTextHandler(io.Discard, nil)))
	pipeline := trainer.NewPipeline(store, repo.State, logger, factory, t.TempDir())

	return &consumerHarness{
		consumer: NewTrainingConsumer(nil, &infra.Infra{Logger: logger}, repo, pipeline),
		repo:     repo,
		archive:  archive,
		engine:   engine,
		store:    store,
	}
}

func (h *consumerHarness) seedDataset(t *testing.T, datasetID string) string {
	t.Helper()
	body := `{"instruction": "a", "output": "b"}` + "\n" + `{"instruction": "c", "output": "d"}` + "\n"
	handle, err := h.store.Put(context.Background(), storage.DatasetNamespace(datasetID), storage.DatasetObjectName,
		strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	return handle
}

func (h *consumerHarness) delivery(t *testing.T, item entity.WorkItem, redelivered bool) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	body, err := json.Marshal(item)
	require.NoError(t, err)

	ack := &fakeAcknowledger{}
	return amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		DeliveryTag:  1,
		Redelivered:  redelivered,
	}, ack
}

func workItem(jobID, datasetHandle string) entity.WorkItem {
	return entity.WorkItem{
		JobID:     jobID,
		Dataset:   datasetHandle,
		OutputDir: storage.ModelNamespace(jobID),
		Config:    entity.DefaultTrainingConfig(),
	}
}

func TestHandleTrainingSuccess(t *testing.T) {
	h := newConsumerHarness(t)
	ctx := context.Background()
	jobID := uuid.New().String()
	handle := h.seedDataset(t, "ds-1")

	// Submission-side effects: activation claim and queued snapshot.
	require.NoError(t, h.repo.State.TryActivate(ctx, jobID))
	require.NoError(t, h.repo.State.InitQueued(ctx, jobID))

	msg, ack := h.delivery(t, workItem(jobID, handle), false)

	var stateAtAck entity.JobState
	ack.onAck = func() {
		record, err := h.repo.State.Get(ctx, jobID)
		require.NoError(t, err)
		stateAtAck = record.State
	}

	h.consumer.handleTraining(ctx, msg)

	require.Equal(t, []ackCall{{op: "ack"}}, ack.calls)
	assert.Equal(t, entity.JobStateSucceeded, stateAtAck, "terminal state must be published before the ack")

	record, err := h.repo.State.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStateSucceeded, record.State)
	assert.Equal(t, 100, record.ProgressPercent)
	require.NotNil(t, record.Result)
	assert.Equal(t, 2, record.Result.DatasetSize)
	assert.Equal(t, storage.ModelNamespace(jobID)+"/adapter", record.Result.AdapterDir)

	require.Len(t, h.archive.terminals, 1)
	archived := h.archive.terminals[0]
	assert.Equal(t, jobID, archived.id.String())
	assert.Equal(t, "succeeded", archived.state)
	assert.Equal(t, "Training completed successfully", archived.message)
	assert.NotEmpty(t, archived.result)

	active, err := h.repo.State.IsActive(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, active, "activation must release once the attempt settles")

	assert.True(t, h.engine.trained)
}

func TestHandleTrainingMalformedBody(t *testing.T) {
	h := newConsumerHarness(t)

	ack := &fakeAcknowledger{}
	msg := amqp.Delivery{Acknowledger: ack, Body: []byte("{not json"), DeliveryTag: 1}

	h.consumer.handleTraining(context.Background(), msg)

	// Poison message: dropped, never requeued.
	require.Equal(t, []ackCall{{op: "nack", requeue: false}}, ack.calls)
	assert.Empty(t, h.archive.terminals)
}

func TestHandleTrainingInvalidJobID(t *testing.T) {
	h := newConsumerHarness(t)

	msg, ack := h.delivery(t, workItem("not-a-uuid", "datasets/x/data.jsonl"), false)
	h.consumer.handleTraining(context.Background(), msg)

	require.Equal(t, []ackCall{{op: "nack", requeue: false}}, ack.calls)
	assert.Empty(t, h.archive.terminals)
}

func TestHandleTrainingMissingDataset(t *testing.T) {
	h := newConsumerHarness(t)
	ctx := context.Background()
	jobID := uuid.New().String()

	require.NoError(t, h.repo.State.InitQueued(ctx, jobID))

	msg, ack := h.delivery(t, workItem(jobID, "datasets/ghost/data.jsonl"), false)
	h.consumer.handleTraining(ctx, msg)

	// The precondition failure is a real terminal outcome: published, archived
	// and acknowledged like any other.
	require.Equal(t, []ackCall{{op: "ack"}}, ack.calls)

	record, err := h.repo.State.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStateFailed, record.State)
	assert.Equal(t, "Training data not found: datasets/ghost/data.jsonl", record.StatusMessage)

	require.Len(t, h.archive.terminals, 1)
	assert.Equal(t, "failed", h.archive.terminals[0].state)
	assert.False(t, h.engine.trained)
}

func TestHandleTrainingRedeliveredResetsSnapshot(t *testing.T) {
	h := newConsumerHarness(t)
	ctx := context.Background()
	jobID := uuid.New().String()
	handle := h.seedDataset(t, "ds-1")

	// A previous attempt crashed after publishing its terminal snapshot but
	// before acking, so the stale snapshot says succeeded.
	require.NoError(t, h.repo.State.InitQueued(ctx, jobID))
	require.NoError(t, h.repo.State.SetStarted(ctx, jobID, "Initializing training..."))
	require.NoError(t, h.repo.State.SetProgress(ctx, jobID, 90, 60, 60, "Saving adapter..."))
	require.NoError(t, h.repo.State.SetSucceeded(ctx, jobID, &entity.TrainingResult{MaxSteps: 60}))

	msg, ack := h.delivery(t, workItem(jobID, handle), true)
	h.consumer.handleTraining(ctx, msg)

	require.Equal(t, []ackCall{{op: "ack"}}, ack.calls)
	assert.True(t, h.engine.trained, "redelivery must run a fresh attempt")

	record, err := h.repo.State.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStateSucceeded, record.State)
	require.NotNil(t, record.Result)
	assert.Equal(t, 2, record.Result.DatasetSize, "result comes from the new attempt")
}

func TestHandleTrainingRevokedBeforeDelivery(t *testing.T) {
	h := newConsumerHarness(t)
	ctx := context.Background()
	jobID := uuid.New().String()

	// Cancel landed while the item sat in the queue: the snapshot is already
	// revoked and the flag is up.
	require.NoError(t, h.repo.State.InitQueued(ctx, jobID))
	require.NoError(t, h.repo.State.SetRevoked(ctx, jobID))
	require.NoError(t, h.repo.State.MarkRevoked(ctx, jobID))

	msg, ack := h.delivery(t, workItem(jobID, "datasets/unused/data.jsonl"), false)
	h.consumer.handleTraining(ctx, msg)

	require.Equal(t, []ackCall{{op: "ack"}}, ack.calls)
	assert.False(t, h.engine.trained)

	// The already-terminal snapshot is tolerated, the archive still records it.
	require.Len(t, h.archive.terminals, 1)
	assert.Equal(t, "revoked", h.archive.terminals[0].state)

	revoked, err := h.repo.State.IsRevoked(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, revoked, "revoke flag clears when the attempt settles")
}

func TestHandleTrainingShutdownRequeues(t *testing.T) {
	h := newConsumerHarness(t)
	jobID := uuid.New().String()
	handle := h.seedDataset(t, "ds-1")

	require.NoError(t, h.repo.State.InitQueued(context.Background(), jobID))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, ack := h.delivery(t, workItem(jobID, handle), false)
	h.consumer.handleTraining(ctx, msg)

	// No terminal was reached: the item goes back to the broker.
	require.Equal(t, []ackCall{{op: "nack", requeue: true}}, ack.calls)
	assert.Empty(t, h.archive.terminals)

	record, err := h.repo.State.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.False(t, record.State.Terminal(), "aborted run must not publish a terminal state")
}
