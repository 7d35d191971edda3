package controller

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/http/controller/dto"
	"github.com/tnqbao/gau-finetune-orchestrator/storage"
	"github.com/tnqbao/gau-finetune-orchestrator/utils"
	"gorm.io/gorm"
)

// SubmitJob validates a submission, claims the job id and enqueues the work
// item. The job id doubles as the idempotency key: while a previous
// submission under the same id is still in flight, resubmission is rejected.
func (ctrl *Controller) SubmitJob(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSON400(c, "Invalid request: "+err.Error())
		return
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	jobUUID, err := uuid.Parse(jobID)
	if err != nil {
		utils.JSON400(c, "Invalid job ID, must be a UUID")
		return
	}

	if _, err := uuid.Parse(req.DatasetID); err != nil {
		utils.JSON400(c, "Invalid dataset ID, must be a UUID")
		return
	}

	datasetHandle := ctrl.Store.Resolve(storage.DatasetNamespace(req.DatasetID), storage.DatasetObjectName)
	if _, err := ctrl.Store.Stat(ctx, datasetHandle); err != nil {
		if errors.Is(err, entity.ErrInputNotFound) {
			utils.JSON404(c, "Dataset not found: "+req.DatasetID)
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[JobController] Failed to stat dataset %s", req.DatasetID)
		utils.JSON500(c, "Failed to read dataset")
		return
	}

	cfg := entity.DefaultTrainingConfig()
	cfg.Apply(ctrl.Profile)
	cfg.Apply(req.Config)
	if err := cfg.Validate(); err != nil {
		utils.JSON400(c, "Invalid training config: "+err.Error())
		return
	}

	if err := ctrl.Repository.State.TryActivate(ctx, jobID); err != nil {
		if errors.Is(err, entity.ErrDuplicateJob) {
			utils.JSON409(c, "Job already enqueued or in flight: "+jobID)
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[JobController] Failed to claim job %s", jobID)
		utils.JSON500(c, "Failed to claim job ID")
		return
	}

	submittedBy := c.GetString("user_id")
	now := time.Now().UTC().Format(time.RFC3339)

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		_ = ctrl.Repository.State.Deactivate(ctx, jobID)
		utils.JSON500(c, "Failed to encode training config")
		return
	}

	job := &entity.TrainingJob{
		ID:          jobUUID,
		State:       string(entity.JobStateQueued),
		BaseModel:   cfg.BaseModel,
		Dataset:     datasetHandle,
		OutputDir:   storage.ModelNamespace(jobID),
		Config:      cfgJSON,
		SubmittedBy: submittedBy,
		SubmittedAt: now,
	}
	if err := ctrl.Repository.Job.Create(job); err != nil {
		_ = ctrl.Repository.State.Deactivate(ctx, jobID)
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[JobController] Failed to archive job %s", jobID)
		utils.JSON500(c, "Failed to record job")
		return
	}

	if err := ctrl.Repository.State.InitQueued(ctx, jobID); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[JobController] Failed to write queued snapshot for job %s: %v", jobID, err)
	}

	item := entity.WorkItem{
		JobID:       jobID,
		Dataset:     datasetHandle,
		OutputDir:   storage.ModelNamespace(jobID),
		Config:      cfg,
		SubmittedBy: submittedBy,
	}
	if err := ctrl.Enqueuer.PublishTrainingJob(ctx, item); err != nil {
		// Release the claim so the caller can retry the same id
		_ = ctrl.Repository.State.Deactivate(ctx, jobID)
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[JobController] Failed to enqueue job %s", jobID)
		utils.JSON503(c, gin.H{"error": "Failed to enqueue job, please retry", "job_id": jobID})
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[JobController] Job %s queued (model %s, dataset %s)", jobID, cfg.BaseModel, req.DatasetID)

	utils.JSON202(c, dto.SubmitJobResponse{
		JobID:   jobID,
		State:   string(entity.JobStateQueued),
		Message: "Training job accepted",
	})
}

// GetJobStatus returns the live snapshot for a job, falling back to the
// durable archive once the snapshot has expired
func (ctrl *Controller) GetJobStatus(c *gin.Context) {
	ctx := c.Request.Context()

	jobID := c.Param("id")
	jobUUID, err := uuid.Parse(jobID)
	if err != nil {
		utils.JSON400(c, "Invalid job ID")
		return
	}

	record, err := ctrl.Repository.State.Get(ctx, jobID)
	if err == nil {
		utils.JSON200(c, record)
		return
	}
	if !errors.Is(err, entity.ErrStateNotFound) {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[JobController] Failed to read snapshot for job %s", jobID)
		utils.JSON500(c, "Failed to read job state")
		return
	}

	job, err := ctrl.Repository.Job.FindByID(jobUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.JSON404(c, "Job not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[JobController] Failed to read archive for job %s", jobID)
		utils.JSON500(c, "Failed to read job state")
		return
	}

	utils.JSON200(c, archivedRecord(job))
}

// archivedRecord rebuilds a snapshot-shaped response from an archive row
func archivedRecord(job *entity.TrainingJob) *entity.JobRecord {
	record := &entity.JobRecord{
		JobID:         job.ID.String(),
		State:         entity.JobState(job.State),
		StatusMessage: job.Message,
	}

	if t, err := time.Parse(time.RFC3339, job.SubmittedAt); err == nil {
		record.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, job.FinishedAt); err == nil {
		record.UpdatedAt = t
	}

	switch record.State {
	case entity.JobStateSucceeded:
		record.ProgressPercent = 100
		var result entity.TrainingResult
		if err := json.Unmarshal(job.Result, &result); err == nil {
			record.Result = &result
			record.CurrentStep = result.MaxSteps
			record.TotalSteps = result.MaxSteps
		}
	case entity.JobStateFailed:
		record.Error = &entity.JobError{Message: job.Message}
	}

	return record
}

// ListJobs returns archived jobs newest first
func (ctrl *Controller) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	submittedBy := c.Query("submitted_by")

	jobs, total, err := ctrl.Repository.Job.List(submittedBy, limit, offset)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[JobController] Failed to list jobs")
		utils.JSON500(c, "Failed to list jobs")
		return
	}

	// Archive rows only change at submission and terminal transitions, so
	// overlay the live snapshot where one still exists
	for i := range jobs {
		record, err := ctrl.Repository.State.Get(ctx, jobs[i].ID.String())
		if err != nil {
			continue
		}
		jobs[i].State = string(record.State)
		jobs[i].Message = record.StatusMessage
	}

	utils.JSON200(c, dto.ListJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// CancelJob requests cancellation. A job still queued flips to revoked right
// away; a running job gets the cooperative flag and stops at its next
// checkpoint.
func (ctrl *Controller) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()

	jobID := c.Param("id")
	jobUUID, err := uuid.Parse(jobID)
	if err != nil {
		utils.JSON400(c, "Invalid job ID")
		return
	}

	record, err := ctrl.Repository.State.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, entity.ErrStateNotFound) {
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[JobController] Failed to read snapshot for job %s", jobID)
			utils.JSON500(c, "Failed to read job state")
			return
		}

		job, archiveErr := ctrl.Repository.Job.FindByID(jobUUID)
		if archiveErr != nil {
			if errors.Is(archiveErr, gorm.ErrRecordNotFound) {
				utils.JSON404(c, "Job not found")
				return
			}
			ctrl.Infra.Logger.ErrorWithContextf(ctx, archiveErr, "[JobController] Failed to read archive for job %s", jobID)
			utils.JSON500(c, "Failed to read job state")
			return
		}

		utils.JSON409(c, "Job already finished as "+job.State)
		return
	}

	if record.State.Terminal() {
		utils.JSON409(c, "Job already terminal: "+string(record.State))
		return
	}

	if err := ctrl.Repository.State.MarkRevoked(ctx, jobID); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[JobController] Failed to flag job %s for revocation", jobID)
		utils.JSON500(c, "Failed to revoke job")
		return
	}

	// A queued item never ran, so it can flip to revoked immediately. A
	// running one transitions at its next checkpoint.
	if record.State == entity.JobStateQueued {
		if err := ctrl.Repository.State.SetRevoked(ctx, jobID); err != nil && !errors.Is(err, entity.ErrInvalidTransition) {
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[JobController] Failed to mark job %s revoked", jobID)
			utils.JSON500(c, "Failed to revoke job")
			return
		}

		finishedAt := time.Now().UTC().Format(time.RFC3339)
		if err := ctrl.Repository.Job.MarkTerminal(jobUUID, string(entity.JobStateRevoked), nil, "Job revoked", finishedAt); err != nil {
			ctrl.Infra.Logger.WarningWithContextf(ctx, "[JobController] Failed to archive revocation for job %s: %v", jobID, err)
		}

		ctrl.Infra.Logger.InfoWithContextf(ctx, "[JobController] Job %s revoked before execution", jobID)
		utils.JSON200(c, dto.CancelJobResponse{
			JobID: jobID,
			State: string(entity.JobStateRevoked),
		})
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[JobController] Revocation requested for running job %s", jobID)
	utils.JSON202(c, dto.CancelJobResponse{
		JobID:   jobID,
		State:   string(record.State),
		Message: "Revocation requested, job stops at its next checkpoint",
	})
}
