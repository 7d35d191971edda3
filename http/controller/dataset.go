package controller

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/formatter"
	"github.com/tnqbao/gau-finetune-orchestrator/http/controller/dto"
	"github.com/tnqbao/gau-finetune-orchestrator/storage"
	"github.com/tnqbao/gau-finetune-orchestrator/utils"
)

// UploadDataset accepts a JSONL file of instruction/response records and
// stores it under a fresh dataset id
func (ctrl *Controller) UploadDataset(c *gin.Context) {
	ctx := c.Request.Context()

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.JSON400(c, "Missing dataset file: "+err.Error())
		return
	}
	defer file.Close()

	name := strings.ToLower(header.Filename)
	if !strings.HasSuffix(name, ".jsonl") && !strings.HasSuffix(name, ".json") {
		utils.JSON400(c, "Unsupported dataset format, expected .jsonl or .json")
		return
	}

	records, err := formatter.ValidateDataset(file)
	if err != nil {
		utils.JSON400(c, "Invalid dataset: "+err.Error())
		return
	}
	if records == 0 {
		utils.JSON400(c, "Dataset contains no trainable records")
		return
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		utils.JSON500(c, "Failed to rewind dataset file")
		return
	}

	datasetID := uuid.New().String()
	handle, err := ctrl.Store.Put(ctx, storage.DatasetNamespace(datasetID), storage.DatasetObjectName, file, header.Size)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[DatasetController] Failed to store dataset %s", datasetID)
		utils.JSON500(c, "Failed to store dataset")
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[DatasetController] Stored dataset %s with %d records (%d bytes)", datasetID, records, header.Size)

	utils.JSON200(c, dto.DatasetUploadResponse{
		DatasetID: datasetID,
		Handle:    handle,
		Records:   records,
		Size:      header.Size,
	})
}

// ListDatasets returns every uploaded dataset with its size
func (ctrl *Controller) ListDatasets(c *gin.Context) {
	ctx := c.Request.Context()

	objects, err := ctrl.Store.List(ctx, "datasets")
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[DatasetController] Failed to list datasets")
		utils.JSON500(c, "Failed to list datasets")
		return
	}

	datasets := make([]dto.DatasetInfo, 0, len(objects))
	for _, object := range objects {
		// datasets/<id>/data.jsonl
		parts := strings.Split(object.Name, "/")
		if len(parts) < 3 {
			continue
		}
		datasets = append(datasets, dto.DatasetInfo{
			DatasetID:    parts[1],
			Size:         object.Size,
			LastModified: object.LastModified.UTC().Format(time.RFC3339),
		})
	}

	utils.JSON200(c, gin.H{"datasets": datasets, "total": len(datasets)})
}

// GetDataset returns metadata for one dataset
func (ctrl *Controller) GetDataset(c *gin.Context) {
	ctx := c.Request.Context()

	datasetID := c.Param("id")
	if _, err := uuid.Parse(datasetID); err != nil {
		utils.JSON400(c, "Invalid dataset ID")
		return
	}

	handle := ctrl.Store.Resolve(storage.DatasetNamespace(datasetID), storage.DatasetObjectName)
	info, err := ctrl.Store.Stat(ctx, handle)
	if err != nil {
		if errors.Is(err, entity.ErrInputNotFound) {
			utils.JSON404(c, "Dataset not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[DatasetController] Failed to stat dataset %s", datasetID)
		utils.JSON500(c, "Failed to read dataset")
		return
	}

	utils.JSON200(c, dto.DatasetInfo{
		DatasetID:    datasetID,
		Size:         info.Size,
		LastModified: info.LastModified.UTC().Format(time.RFC3339),
	})
}
