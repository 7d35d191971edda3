package controller

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-finetune-orchestrator/http/controller/dto"
	"github.com/tnqbao/gau-finetune-orchestrator/utils"
)

// HealthCheck reports the state of every dependency plus how many workers
// are currently beating
func (ctrl *Controller) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	services := map[string]string{}
	healthy := true

	if sqlDB, err := ctrl.Infra.Postgres.DB.DB(); err == nil && sqlDB.PingContext(ctx) == nil {
		services["postgres"] = "ok"
	} else {
		services["postgres"] = "unreachable"
		healthy = false
	}

	if err := ctrl.Infra.Redis.Ping(ctx); err == nil {
		services["redis"] = "ok"
	} else {
		services["redis"] = "unreachable"
		healthy = false
	}

	if ctrl.Infra.RabbitMQ.Healthy() {
		services["rabbitmq"] = "ok"
	} else {
		services["rabbitmq"] = "unreachable"
		healthy = false
	}

	if err := ctrl.Store.Healthy(ctx); err == nil {
		services["storage"] = "ok"
	} else {
		services["storage"] = "unreachable"
		healthy = false
	}

	workers, err := ctrl.Repository.State.ActiveWorkers(ctx)
	if err != nil {
		workers = 0
	}

	response := dto.HealthResponse{
		Status:    "ok",
		Services:  services,
		Workers:   workers,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if !healthy {
		response.Status = "degraded"
		utils.JSON503(c, response)
		return
	}

	utils.JSON200(c, response)
}
