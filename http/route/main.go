package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-finetune-orchestrator/http/controller"
	middlewares "github.com/tnqbao/gau-finetune-orchestrator/http/middleware"
)

func SetupRouter(ctrl *controller.Controller) *gin.Engine {
	r := gin.Default()
	middles, err := middlewares.NewMiddlewares(ctrl)
	if err != nil {
		panic(err)
	}

	r.Use(middles.CORSMiddleware)

	r.GET("/health", ctrl.HealthCheck)

	apiRoutes := r.Group("/api/v1/finetune")
	{
		apiRoutes.Use(middles.AuthMiddleware)

		datasetRoutes := apiRoutes.Group("/datasets")
		{
			datasetRoutes.POST("/", ctrl.UploadDataset)
			datasetRoutes.GET("/", ctrl.ListDatasets)
			datasetRoutes.GET("/:id", ctrl.GetDataset)
		}

		jobRoutes := apiRoutes.Group("/jobs")
		{
			jobRoutes.POST("/", ctrl.SubmitJob)
			jobRoutes.GET("/", ctrl.ListJobs)
			jobRoutes.GET("/:id", ctrl.GetJobStatus)
			jobRoutes.DELETE("/:id", ctrl.CancelJob)

			jobRoutes.GET("/:id/artifacts", ctrl.ListArtifacts)
			jobRoutes.GET("/:id/artifacts/download/*path", ctrl.DownloadArtifact)
		}
	}
	return r
}
