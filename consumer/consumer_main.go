package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-finetune-orchestrator/config"
	"github.com/tnqbao/gau-finetune-orchestrator/consumer/worker"
	infraPkg "github.com/tnqbao/gau-finetune-orchestrator/infra"
	"github.com/tnqbao/gau-finetune-orchestrator/repository"
	"github.com/tnqbao/gau-finetune-orchestrator/storage"
	"github.com/tnqbao/gau-finetune-orchestrator/trainer"
)

func main() {
	err := godotenv.Load("../staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	repo := repository.InitRepository(cfg, infra)

	store, err := storage.NewStore(cfg.EnvConfig, infra)
	if err != nil {
		log.Fatalf("Failed to initialize artifact store: %v", err)
	}

	// Initialize context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineFactory := trainer.NewCommandEngineFactory(cfg.EnvConfig.Training.TrainerCommand)
	pipeline := trainer.NewPipeline(store, repo.State, infra.Logger, engineFactory, cfg.EnvConfig.Training.WorkDir)

	// Start Training Consumer
	trainingConsumer := worker.NewTrainingConsumer(infra.RabbitMQ.Channel, infra, repo, pipeline)
	if err := trainingConsumer.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start Training consumer: %v", err)
		log.Fatalf("Failed to start Training consumer: %v", err)
	}

	// Start Retention Worker
	retentionWorker := worker.NewRetentionWorker(infra, repo, store, cfg.EnvConfig.Training.ArtifactRetentionDays)
	retentionWorker.Start(ctx)

	startHeartbeat(ctx, cfg, repo)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down consumer...")
	cancel() // Cancel context to stop consumers

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := infra.Telemetry.Shutdown(shutdownCtx); err != nil {
		log.Printf("Telemetry shutdown failed: %v", err)
	}

	infra.Logger.InfoWithContextf(ctx, "Consumer exited properly")
}

// startHeartbeat keeps this worker visible in the result backend so the
// gateway can report how many workers are alive
func startHeartbeat(ctx context.Context, cfg *config.Config, repo *repository.Repository) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	workerID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	interval := time.Duration(cfg.EnvConfig.Training.HeartbeatSeconds) * time.Second

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := repo.State.Heartbeat(ctx, workerID); err != nil {
			log.Printf("Failed to publish worker heartbeat: %v", err)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := repo.State.Heartbeat(ctx, workerID); err != nil {
					log.Printf("Failed to publish worker heartbeat: %v", err)
				}
			}
		}
	}()
}
