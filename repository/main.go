package repository

import (
	"time"

	"github.com/tnqbao/gau-finetune-orchestrator/config"
	"github.com/tnqbao/gau-finetune-orchestrator/infra"
	"gorm.io/gorm"
)

type Repository struct {
	Job   JobArchive
	State *StateRepository
}

var repository *Repository

func InitRepository(cfg *config.Config, infra *infra.Infra) *Repository {
	resultTTL := time.Duration(cfg.EnvConfig.Training.ResultTTLHours) * time.Hour

	repository = &Repository{
		Job:   NewJobRepository(infra.Postgres.DB),
		State: NewStateRepository(infra.Redis, resultTTL),
	}
	return repository
}

func GetRepository() *Repository {
	if repository == nil {
		panic("repository not initialized")
	}
	return repository
}

func (r *Repository) BeginTransaction(db *gorm.DB) *gorm.DB {
	return db.Begin()
}

func (r *Repository) WithTransaction(tx *gorm.DB) *Repository {
	return &Repository{
		Job:   NewJobRepository(tx),
		State: r.State,
	}
}
