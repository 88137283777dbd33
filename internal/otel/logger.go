package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	slogutil "github.com/webitel/webitel-go-kit/infra/otel/log/bridge/slog"
	otelsdk "github.com/webitel/webitel-go-kit/infra/otel/sdk"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/resource"

	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/log/otlp"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/log/stdout"
)

const levelEnv = "OTEL_LOG_LEVEL"

// ParseLevel reads debug|info|warn|error. An empty value falls back to
// OTEL_LOG_LEVEL, then to info.
func ParseLevel(input string) slog.Level {
	if input == "" {
		input = os.Getenv(levelEnv)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(input))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger filters records below level before handing them to next.
func NewLogger(level *slog.LevelVar, next slog.Handler) *slog.Logger {
	return slog.New(slogutil.WithLevel(level, next))
}

// Setup initializes OpenTelemetry for service, redirects slog.Default() to
// the OpenTelemetry log bridge and returns the shutdown function. Exporters
// are picked from the OTEL_*_EXPORTER environment.
func Setup(service *resource.Resource, level string) func(context.Context) error {
	var verbose slog.LevelVar
	verbose.Set(ParseLevel(level))

	ctx := context.Background()
	shutdown, err := otelsdk.Configure(
		ctx,
		otelsdk.WithResource(service),
		otelsdk.WithLogBridge(func() {
			slog.SetDefault(NewLogger(&verbose, otelslog.NewHandler("slog")))
		}),
	)

	log := slog.Default()
	if err != nil {
		log.ErrorContext(ctx, "report_orchestrator.otel.setup_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.InfoContext(ctx, "report_orchestrator.otel.setup_complete", slog.String("level", verbose.Level().String()))
	return shutdown
}
