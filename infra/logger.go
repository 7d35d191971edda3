package infra

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"github.com/tnqbao/gau-finetune-orchestrator/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// LoggerClient fans structured logs out to stdout (JSON) and to the OTLP log
// pipeline. InitTelemetryClient must run first so the otelslog bridge picks up
// the global logger provider.
type LoggerClient struct {
	logger *slog.Logger
}

func InitLoggerClient(cfg *config.EnvConfig) *LoggerClient {
	level := slog.LevelInfo
	if cfg.Environment.Mode == "development" {
		level = slog.LevelDebug
	}

	stdoutHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	otelHandler := otelslog.NewHandler(cfg.Grafana.ServiceName)

	logger := slog.New(slogmulti.Fanout(stdoutHandler, otelHandler)).With(
		slog.String("service", cfg.Grafana.ServiceName),
		slog.String("group", cfg.Environment.Group),
	)

	return &LoggerClient{logger: logger}
}

// NewLoggerClient wraps an existing slog logger. Used by tests.
func NewLoggerClient(logger *slog.Logger) *LoggerClient {
	return &LoggerClient{logger: logger}
}

func (l *LoggerClient) DebugWithContextf(ctx context.Context, format string, args ...interface{}) {
	l.logger.DebugContext(ctx, fmt.Sprintf(format, args...))
}

func (l *LoggerClient) InfoWithContextf(ctx context.Context, format string, args ...interface{}) {
	l.logger.InfoContext(ctx, fmt.Sprintf(format, args...))
}

func (l *LoggerClient) WarningWithContextf(ctx context.Context, format string, args ...interface{}) {
	l.logger.WarnContext(ctx, fmt.Sprintf(format, args...))
}

func (l *LoggerClient) ErrorWithContextf(ctx context.Context, err error, format string, args ...interface{}) {
	if err != nil {
		l.logger.ErrorContext(ctx, fmt.Sprintf(format, args...), slog.Any("error", err))
		return
	}
	l.logger.ErrorContext(ctx, fmt.Sprintf(format, args...))
}
