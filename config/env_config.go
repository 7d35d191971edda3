package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type EnvConfig struct {
	Postgres struct {
		HOST     string
		Database string
		Username string
		Password string
		Port     string
	}
	JWT struct {
		SecretKey string
		Algorithm string
		Expire    int
	}
	CORS struct {
		AllowDomains string
		GlobalDomain string
	}
	Redis struct {
		Password  string
		Database  int
		RedisHost string
		RedisPort string
	}
	RabbitMQ struct {
		Host     string
		Port     string
		Username string
		Password string
	}
	Minio struct {
		Endpoint     string
		RootUser     string
		RootPassword string
		Bucket       string
	}
	S3 struct {
		Region       string
		Endpoint     string
		AccessKey    string
		SecretKey    string
		Bucket       string
		UsePathStyle bool
	}
	Storage struct {
		Backend  string // "local", "minio" or "s3"
		LocalDir string
	}
	Training struct {
		ResultTTLHours        int
		WorkDir               string
		TrainerCommand        string
		ProfilePath           string
		HeartbeatSeconds      int
		ArtifactRetentionDays int
	}
	Grafana struct {
		OTLPEndpoint string
		ServiceName  string
	}
	Environment struct {
		Mode  string
		Group string
	}
	DomainName string
}

func LoadEnvConfig() *EnvConfig {
	var config EnvConfig

	// Postgres
	config.Postgres.HOST = os.Getenv("PGPOOL_HOST")
	config.Postgres.Database = os.Getenv("PGPOOL_DB")
	config.Postgres.Username = os.Getenv("PGPOOL_USER")
	config.Postgres.Password = os.Getenv("PGPOOL_PASSWORD")
	config.Postgres.Port = os.Getenv("PGPOOL_PORT")

	// JWT
	config.JWT.SecretKey = os.Getenv("JWT_SECRET_KEY")
	config.JWT.Algorithm = os.Getenv("JWT_ALGORITHM")

	if val := os.Getenv("JWT_EXPIRE"); val != "" {
		fmt.Sscanf(val, "%d", &config.JWT.Expire)
	} else {
		config.JWT.Expire = 3600 * 24 * 7
	}

	config.CORS.AllowDomains = os.Getenv("ALLOWED_DOMAINS")
	config.CORS.GlobalDomain = os.Getenv("GLOBAL_DOMAIN")

	config.Redis.Password = os.Getenv("REDIS_PASSWORD")
	config.Redis.Database, _ = strconv.Atoi(os.Getenv("REDIS_DB"))
	config.Redis.RedisHost = os.Getenv("REDIS_HOST")
	if config.Redis.RedisHost == "" {
		config.Redis.RedisHost = "localhost"
	}
	config.Redis.RedisPort = os.Getenv("REDIS_PORT")
	if config.Redis.RedisPort == "" {
		config.Redis.RedisPort = "6379"
	}

	// RabbitMQ
	config.RabbitMQ.Host = os.Getenv("RABBITMQ_HOST")
	if config.RabbitMQ.Host == "" {
		config.RabbitMQ.Host = "localhost"
	}
	config.RabbitMQ.Port = os.Getenv("RABBITMQ_PORT")
	if config.RabbitMQ.Port == "" {
		config.RabbitMQ.Port = "5672"
	}
	config.RabbitMQ.Username = os.Getenv("RABBITMQ_USER")
	if config.RabbitMQ.Username == "" {
		config.RabbitMQ.Username = "guest"
	}
	config.RabbitMQ.Password = os.Getenv("RABBITMQ_PASSWORD")
	if config.RabbitMQ.Password == "" {
		config.RabbitMQ.Password = "guest"
	}

	config.Minio.Endpoint = os.Getenv("MINIO_ENDPOINT")
	config.Minio.RootUser = os.Getenv("MINIO_ROOT_USER")
	config.Minio.RootPassword = os.Getenv("MINIO_ROOT_PASSWORD")
	config.Minio.Bucket = os.Getenv("MINIO_BUCKET")
	if config.Minio.Bucket == "" {
		config.Minio.Bucket = "finetune-artifacts"
	}

	// S3 (used when STORAGE_BACKEND=s3)
	config.S3.Region = os.Getenv("S3_REGION")
	if config.S3.Region == "" {
		config.S3.Region = "us-east-1"
	}
	config.S3.Endpoint = os.Getenv("S3_ENDPOINT")
	config.S3.AccessKey = os.Getenv("S3_ACCESS_KEY")
	config.S3.SecretKey = os.Getenv("S3_SECRET_KEY")
	config.S3.Bucket = os.Getenv("S3_BUCKET")
	if config.S3.Bucket == "" {
		config.S3.Bucket = "finetune-artifacts"
	}
	config.S3.UsePathStyle = os.Getenv("S3_USE_PATH_STYLE") == "true"

	// Storage backend selection
	config.Storage.Backend = os.Getenv("STORAGE_BACKEND")
	if config.Storage.Backend == "" {
		config.Storage.Backend = "local"
	}
	config.Storage.LocalDir = os.Getenv("STORAGE_LOCAL_DIR")
	if config.Storage.LocalDir == "" {
		config.Storage.LocalDir = "./storage"
	}

	// Training
	if val := os.Getenv("RESULT_TTL_HOURS"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil && ttl > 0 {
			config.Training.ResultTTLHours = ttl
		} else {
			config.Training.ResultTTLHours = 24
		}
	} else {
		config.Training.ResultTTLHours = 24
	}
	config.Training.WorkDir = os.Getenv("TRAINING_WORK_DIR")
	if config.Training.WorkDir == "" {
		config.Training.WorkDir = os.TempDir()
	}
	config.Training.TrainerCommand = os.Getenv("TRAINER_COMMAND")
	if config.Training.TrainerCommand == "" {
		config.Training.TrainerCommand = "python3 -m trainer.worker"
	}
	config.Training.ProfilePath = os.Getenv("TRAINING_PROFILE_PATH")
	// 0 disables the retention sweep
	if val := os.Getenv("ARTIFACT_RETENTION_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil && days > 0 {
			config.Training.ArtifactRetentionDays = days
		}
	}
	if val := os.Getenv("WORKER_HEARTBEAT_SECONDS"); val != "" {
		if hb, err := strconv.Atoi(val); err == nil && hb > 0 {
			config.Training.HeartbeatSeconds = hb
		} else {
			config.Training.HeartbeatSeconds = 15
		}
	} else {
		config.Training.HeartbeatSeconds = 15
	}

	// Grafana/OpenTelemetry
	grafanaEndpoint := os.Getenv("GRAFANA_OTLP_ENDPOINT")
	if grafanaEndpoint == "" {
		grafanaEndpoint = "https://grafana.gauas.online"
	}
	// Remove protocol for OpenTelemetry client to avoid duplicate protocols
	if strings.HasPrefix(grafanaEndpoint, "https://") {
		config.Grafana.OTLPEndpoint = strings.TrimPrefix(grafanaEndpoint, "https://")
	} else if strings.HasPrefix(grafanaEndpoint, "http://") {
		config.Grafana.OTLPEndpoint = strings.TrimPrefix(grafanaEndpoint, "http://")
	} else {
		config.Grafana.OTLPEndpoint = grafanaEndpoint
	}
	config.Grafana.ServiceName = os.Getenv("SERVICE_NAME")
	if config.Grafana.ServiceName == "" {
		config.Grafana.ServiceName = "gau-finetune-orchestrator"
	}

	config.Environment.Mode = os.Getenv("DEPLOY_ENV")
	if config.Environment.Mode == "" {
		config.Environment.Mode = "development"
	}

	config.Environment.Group = os.Getenv("GROUP_NAME")
	if config.Environment.Group == "" {
		config.Environment.Group = "local"
	}

	config.DomainName = os.Getenv("DOMAIN_NAME")
	if config.DomainName == "" {
		config.DomainName = "localhost:8080"
	}

	return &config
}
