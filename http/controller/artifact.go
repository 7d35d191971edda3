package controller

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/http/controller/dto"
	"github.com/tnqbao/gau-finetune-orchestrator/storage"
	"github.com/tnqbao/gau-finetune-orchestrator/utils"
	"gorm.io/gorm"
)

const presignExpiry = 15 * time.Minute

// ListArtifacts returns everything a job wrote into its output namespace
func (ctrl *Controller) ListArtifacts(c *gin.Context) {
	ctx := c.Request.Context()

	jobID := c.Param("id")
	jobUUID, err := uuid.Parse(jobID)
	if err != nil {
		utils.JSON400(c, "Invalid job ID")
		return
	}

	if _, err := ctrl.Repository.Job.FindByID(jobUUID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.JSON404(c, "Job not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[ArtifactController] Failed to read archive for job %s", jobID)
		utils.JSON500(c, "Failed to read job")
		return
	}

	objects, err := ctrl.Store.List(ctx, storage.ModelNamespace(jobID))
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[ArtifactController] Failed to list artifacts for job %s", jobID)
		utils.JSON500(c, "Failed to list artifacts")
		return
	}

	utils.JSON200(c, dto.ArtifactListResponse{
		JobID:     jobID,
		Artifacts: objects,
	})
}

// DownloadArtifact streams one artifact through the gateway, or hands out a
// presigned URL when the backend supports it and ?presign=true is set
func (ctrl *Controller) DownloadArtifact(c *gin.Context) {
	ctx := c.Request.Context()

	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		utils.JSON400(c, "Invalid job ID")
		return
	}

	name := strings.TrimPrefix(c.Param("path"), "/")
	if name == "" {
		utils.JSON400(c, "Missing artifact name")
		return
	}

	handle := ctrl.Store.Resolve(storage.ModelNamespace(jobID), name)

	if c.Query("presign") == "true" {
		if signer, ok := ctrl.Store.(storage.URLSigner); ok {
			url, err := signer.SignedURL(ctx, handle, presignExpiry)
			if err != nil {
				ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[ArtifactController] Failed to presign %s", handle)
				utils.JSON500(c, "Failed to presign artifact")
				return
			}
			utils.JSON200(c, gin.H{"url": url, "expires_in_seconds": int(presignExpiry.Seconds())})
			return
		}
		utils.JSON400(c, "Presigned downloads are not supported by this storage backend")
		return
	}

	body, size, err := ctrl.Store.Open(ctx, handle)
	if err != nil {
		if errors.Is(err, entity.ErrInputNotFound) {
			utils.JSON404(c, "Artifact not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[ArtifactController] Failed to open %s", handle)
		utils.JSON500(c, "Failed to open artifact")
		return
	}
	defer body.Close()

	extraHeaders := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", path.Base(name)),
	}
	c.DataFromReader(http.StatusOK, size, "application/octet-stream", body, extraHeaders)
}
