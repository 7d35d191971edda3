package dto

import (
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/storage"
)

type SubmitJobRequest struct {
	JobID     string                         `json:"job_id"`
	DatasetID string                         `json:"dataset_id" binding:"required"`
	Config    *entity.TrainingConfigOverride `json:"config"`
}

type SubmitJobResponse struct {
	JobID   string `json:"job_id"`
	State   string `json:"state"`
	Message string `json:"message"`
}

type CancelJobResponse struct {
	JobID   string `json:"job_id"`
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

type ListJobsResponse struct {
	Jobs   []entity.TrainingJob `json:"jobs"`
	Total  int64                `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

type DatasetUploadResponse struct {
	DatasetID string `json:"dataset_id"`
	Handle    string `json:"handle"`
	Records   int    `json:"records"`
	Size      int64  `json:"size"`
}

type DatasetInfo struct {
	DatasetID    string `json:"dataset_id"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

type ArtifactListResponse struct {
	JobID     string               `json:"job_id"`
	Artifacts []storage.ObjectInfo `json:"artifacts"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Workers   int               `json:"workers"`
	Timestamp string            `json:"timestamp"`
}
