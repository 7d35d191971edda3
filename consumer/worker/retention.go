package worker

import (
	"context"
	"time"

	"github.com/tnqbao/gau-finetune-orchestrator/infra"
	"github.com/tnqbao/gau-finetune-orchestrator/repository"
	"github.com/tnqbao/gau-finetune-orchestrator/storage"
)

const (
	retentionSweepInterval = time.Hour
	retentionSweepBatch    = 100
)

// RetentionWorker periodically deletes trained artifacts and archive rows for
// jobs that finished longer ago than the retention window.
type RetentionWorker struct {
	infra         *infra.Infra
	repository    *repository.Repository
	store         storage.Store
	retentionDays int
}

func NewRetentionWorker(infra *infra.Infra, repo *repository.Repository, store storage.Store, retentionDays int) *RetentionWorker {
	return &RetentionWorker{
		infra:         infra,
		repository:    repo,
		store:         store,
		retentionDays: retentionDays,
	}
}

func (w *RetentionWorker) Start(ctx context.Context) {
	if w.retentionDays <= 0 {
		w.infra.Logger.InfoWithContextf(ctx, "[Retention Worker] Disabled (no retention window configured)")
		return
	}

	w.infra.Logger.InfoWithContextf(ctx, "[Retention Worker] Started with %d day window", w.retentionDays)

	go func() {
		ticker := time.NewTicker(retentionSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.infra.Logger.InfoWithContextf(ctx, "[Retention Worker] Shutting down...")
				return
			case <-ticker.C:
				w.sweep(ctx)
			}
		}
	}()
}

func (w *RetentionWorker) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -w.retentionDays).Format(time.RFC3339)

	jobs, err := w.repository.Job.FindFinishedBefore(cutoff, retentionSweepBatch)
	if err != nil {
		w.infra.Logger.ErrorWithContextf(ctx, err, "[Retention Worker] Failed to list expired jobs")
		return
	}
	if len(jobs) == 0 {
		return
	}

	for _, job := range jobs {
		jobID := job.ID.String()

		// Datasets are shared across jobs and kept; only the job's own
		// artifact namespace is swept
		if err := w.store.Delete(ctx, storage.ModelNamespace(jobID)); err != nil {
			w.infra.Logger.ErrorWithContextf(ctx, err, "[Retention Worker] Failed to delete artifacts for job %s", jobID)
			continue
		}

		if err := w.repository.Job.Delete(job.ID); err != nil {
			w.infra.Logger.ErrorWithContextf(ctx, err, "[Retention Worker] Failed to delete archive row for job %s", jobID)
			continue
		}

		w.infra.Logger.InfoWithContextf(ctx, "[Retention Worker] Cleaned up job %s (finished %s)", jobID, job.FinishedAt)
	}
}
