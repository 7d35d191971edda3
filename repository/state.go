package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/infra"
)

const (
	stateKeyPrefix  = "finetune:state:"
	activeKeyPrefix = "finetune:active:"
	revokeKeyPrefix = "finetune:revoke:"
	workerKeyPrefix = "finetune:worker:"

	// heartbeatTTL is how long a worker stays visible after its last beat
	heartbeatTTL = 45 * time.Second
)

// KV is the key-value contract the state repository needs. infra.RedisClient
// satisfies it; tests swap in an in-memory map.
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// StateRepository owns the live job records in the result backend. Every
// write re-arms the retention TTL, so records disappear a fixed window after
// their last update.
type StateRepository struct {
	kv  KV
	ttl time.Duration
}

func NewStateRepository(kv KV, resultTTL time.Duration) *StateRepository {
	return &StateRepository{kv: kv, ttl: resultTTL}
}

func stateKey(jobID string) string  { return stateKeyPrefix + jobID }
func activeKey(jobID string) string { return activeKeyPrefix + jobID }
func revokeKey(jobID string) string { return revokeKeyPrefix + jobID }

// Get returns the current snapshot for a job, or ErrStateNotFound when the
// record never existed or already expired.
func (r *StateRepository) Get(ctx context.Context, jobID string) (*entity.JobRecord, error) {
	var record entity.JobRecord
	err := r.kv.Get(ctx, stateKey(jobID), &record)
	if err != nil {
		if errors.Is(err, infra.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: %s", entity.ErrStateNotFound, jobID)
		}
		return nil, err
	}
	return &record, nil
}

// InitQueued writes a fresh queued snapshot for a newly accepted job
func (r *StateRepository) InitQueued(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	record := entity.JobRecord{
		JobID:     jobID,
		State:     entity.JobStateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.kv.Set(ctx, stateKey(jobID), record, r.ttl)
}

// ResetAttempt rewrites the snapshot to queued before a redelivered item is
// re-executed. Unlike transitions it overwrites unconditionally: a crash
// between terminal publish and broker ack leaves a terminal snapshot behind,
// and the new attempt starts over.
func (r *StateRepository) ResetAttempt(ctx context.Context, jobID string) error {
	now := time.Now().UTC()

	record, err := r.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, entity.ErrStateNotFound) {
			return err
		}
		record = &entity.JobRecord{JobID: jobID, CreatedAt: now}
	}

	fresh := entity.JobRecord{
		JobID:     jobID,
		State:     entity.JobStateQueued,
		CreatedAt: record.CreatedAt,
		UpdatedAt: now,
	}
	return r.kv.Set(ctx, stateKey(jobID), fresh, r.ttl)
}

// transition loads the snapshot, validates the move against the transition
// table and stores the mutated record. A missing snapshot counts as queued,
// matching how an unknown job id reads as pending.
func (r *StateRepository) transition(ctx context.Context, jobID string, to entity.JobState, mutate func(*entity.JobRecord)) error {
	record, err := r.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, entity.ErrStateNotFound) {
			return err
		}
		now := time.Now().UTC()
		record = &entity.JobRecord{
			JobID:     jobID,
			State:     entity.JobStateQueued,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	if !record.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s for job %s", entity.ErrInvalidTransition, record.State, to, jobID)
	}

	previousPercent := record.ProgressPercent

	record.State = to
	record.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(record)
	}

	// Progress never goes backwards within an attempt
	if record.ProgressPercent < previousPercent {
		record.ProgressPercent = previousPercent
	}

	return r.kv.Set(ctx, stateKey(jobID), *record, r.ttl)
}

func (r *StateRepository) SetStarted(ctx context.Context, jobID, message string) error {
	return r.transition(ctx, jobID, entity.JobStateStarted, func(record *entity.JobRecord) {
		record.ProgressPercent = 0
		record.CurrentStep = 0
		record.TotalSteps = 0
		record.StatusMessage = message
		record.Result = nil
		record.Error = nil
	})
}

func (r *StateRepository) SetProgress(ctx context.Context, jobID string, percent, currentStep, totalSteps int, message string) error {
	return r.transition(ctx, jobID, entity.JobStateInProgress, func(record *entity.JobRecord) {
		record.ProgressPercent = percent
		record.CurrentStep = currentStep
		record.TotalSteps = totalSteps
		record.StatusMessage = message
	})
}

func (r *StateRepository) SetSucceeded(ctx context.Context, jobID string, result *entity.TrainingResult) error {
	return r.transition(ctx, jobID, entity.JobStateSucceeded, func(record *entity.JobRecord) {
		record.ProgressPercent = 100
		record.StatusMessage = "Training completed successfully"
		record.Result = result
		record.Error = nil
	})
}

func (r *StateRepository) SetFailed(ctx context.Context, jobID string, jobErr *entity.JobError) error {
	return r.transition(ctx, jobID, entity.JobStateFailed, func(record *entity.JobRecord) {
		record.StatusMessage = jobErr.Message
		record.Result = nil
		record.Error = jobErr
	})
}

func (r *StateRepository) SetRevoked(ctx context.Context, jobID string) error {
	return r.transition(ctx, jobID, entity.JobStateRevoked, func(record *entity.JobRecord) {
		record.StatusMessage = "Job revoked"
		record.Result = nil
		record.Error = nil
	})
}

// TryActivate claims a job id for one in-flight execution. A second claim
// while the first is still active fails with ErrDuplicateJob.
func (r *StateRepository) TryActivate(ctx context.Context, jobID string) error {
	ok, err := r.kv.SetNX(ctx, activeKey(jobID), time.Now().UTC().Format(time.RFC3339), r.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", entity.ErrDuplicateJob, jobID)
	}
	return nil
}

// Deactivate releases a job id after its attempt reached a terminal state,
// clearing the revoke flag along with the activation claim.
func (r *StateRepository) Deactivate(ctx context.Context, jobID string) error {
	return r.kv.Delete(ctx, activeKey(jobID), revokeKey(jobID))
}

func (r *StateRepository) IsActive(ctx context.Context, jobID string) (bool, error) {
	return r.kv.Exists(ctx, activeKey(jobID))
}

// MarkRevoked raises the cooperative cancellation flag. A worker observes it
// at its next checkpoint; an undelivered item observes it at claim time.
func (r *StateRepository) MarkRevoked(ctx context.Context, jobID string) error {
	return r.kv.Set(ctx, revokeKey(jobID), time.Now().UTC().Format(time.RFC3339), r.ttl)
}

func (r *StateRepository) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	return r.kv.Exists(ctx, revokeKey(jobID))
}

// Heartbeat refreshes a worker's liveness key
func (r *StateRepository) Heartbeat(ctx context.Context, workerID string) error {
	return r.kv.Set(ctx, workerKeyPrefix+workerID, time.Now().UTC().Format(time.RFC3339), heartbeatTTL)
}

// ActiveWorkers counts workers that beat within the liveness window
func (r *StateRepository) ActiveWorkers(ctx context.Context) (int, error) {
	keys, err := r.kv.Keys(ctx, workerKeyPrefix+"*")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
