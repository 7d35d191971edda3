package infra

import (
	"github.com/tnqbao/gau-finetune-orchestrator/config"
	"github.com/tnqbao/gau-finetune-orchestrator/infra/produce"
)

type Infra struct {
	Telemetry *TelemetryClient
	Logger    *LoggerClient
	Redis     *RedisClient
	Postgres  *PostgresClient
	RabbitMQ  *RabbitMQClient
	Produce   *produce.Produce
	Minio     *MinioClient
	S3        *S3Client
}

var infraInstance *Infra

func InitInfra(cfg *config.Config) *Infra {
	if infraInstance != nil {
		return infraInstance
	}

	telemetry := InitTelemetryClient(cfg.EnvConfig)
	if telemetry == nil {
		panic("Failed to initialize Telemetry service")
	}

	logger := InitLoggerClient(cfg.EnvConfig)
	if logger == nil {
		panic("Failed to initialize Logger service")
	}

	redis := InitRedisClient(cfg.EnvConfig)
	if redis == nil {
		panic("Failed to initialize Redis service")
	}

	postgres := InitPostgresClient(cfg.EnvConfig)
	if postgres == nil {
		panic("Failed to initialize Postgres service")
	}

	rabbitMQ := InitRabbitMQClient(cfg.EnvConfig)
	if rabbitMQ == nil {
		panic("Failed to initialize RabbitMQ service")
	}

	produceService := produce.InitProduce(rabbitMQ.Channel)
	if produceService == nil {
		panic("Failed to initialize Produce service")
	}

	infraInstance = &Infra{
		Telemetry: telemetry,
		Logger:    logger,
		Redis:     redis,
		Postgres:  postgres,
		RabbitMQ:  rabbitMQ,
		Produce:   produceService,
	}

	// Object storage client depends on the configured backend. The local
	// backend needs neither.
	switch cfg.EnvConfig.Storage.Backend {
	case "minio":
		minio := InitMinioClient(cfg.EnvConfig)
		if minio == nil {
			panic("Failed to initialize MinIO service")
		}
		infraInstance.Minio = minio
	case "s3":
		s3 := InitS3Client(cfg.EnvConfig)
		if s3 == nil {
			panic("Failed to initialize S3 service")
		}
		infraInstance.S3 = s3
	}

	return infraInstance
}

func GetClient() *Infra {
	if infraInstance == nil {
		panic("Infra not initialized. Call InitInfra() first.")
	}
	return infraInstance
}
