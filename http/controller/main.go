package controller

import (
	"github.com/tnqbao/gau-finetune-orchestrator/config"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/infra"
	"github.com/tnqbao/gau-finetune-orchestrator/infra/produce"
	"github.com/tnqbao/gau-finetune-orchestrator/repository"
	"github.com/tnqbao/gau-finetune-orchestrator/storage"
)

type Controller struct {
	Config     *config.Config
	Infra      *infra.Infra
	Repository *repository.Repository
	Store      storage.Store
	Enqueuer   produce.TrainingEnqueuer
	Profile    *entity.TrainingConfigOverride
}

func NewController(cfg *config.Config, infra *infra.Infra, repo *repository.Repository) *Controller {
	if repo == nil {
		panic("Failed to initialize Repository")
	}

	store, err := storage.NewStore(cfg.EnvConfig, infra)
	if err != nil {
		panic("Failed to initialize artifact store: " + err.Error())
	}

	profile, err := config.LoadTrainingProfile(cfg.EnvConfig.Training.ProfilePath)
	if err != nil {
		panic("Failed to load training profile: " + err.Error())
	}

	return &Controller{
		Config:     cfg,
		Infra:      infra,
		Repository: repo,
		Store:      store,
		Enqueuer:   infra.Produce.TrainingService,
		Profile:    profile,
	}
}
