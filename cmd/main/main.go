package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	conf "github.com/webitel/report-orchestrator/config"
	"github.com/webitel/report-orchestrator/internal/app"
	"github.com/webitel/report-orchestrator/internal/model"
	logging "github.com/webitel/report-orchestrator/internal/otel"

	// ------------ logging ------------ //
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	// -------------------- plugin(s) -------------------- //
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/log/otlp"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/log/stdout"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/metric/otlp"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/metric/stdout"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/trace/otlp"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/trace/stdout"
)

func Run() {

	// Load configuration
	config, appErr := conf.LoadConfig(os.Args[1:])
	if appErr != nil {
		slog.Error("report_orchestrator.main.configuration_error", slog.String("error", appErr.Error()))
		os.Exit(1)
	}

	// slog + OTEL logging
	service := resource.NewSchemaless(
		semconv.ServiceName(model.AppServiceName),
		semconv.ServiceVersion(model.CurrentVersion),
		semconv.ServiceInstanceID(config.Consul.Id),
		semconv.ServiceNamespace(model.NamespaceName),
	)
	shutdown := logging.Setup(service, config.LogLevel)
	log := slog.Default()

	// Initialize the application
	application, appErr := app.New(config, log, shutdown)
	if appErr != nil {
		log.Error("report_orchestrator.main.application_initialization_error", slog.String("error", appErr.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize signal handling for graceful shutdown
	initSignals(application, cancel, log)

	log.Debug("report_orchestrator.main.configuration_loaded",
		slog.String("consul", config.Consul.Address),
		slog.String("grpc_address", config.Consul.PublicAddress),
		slog.String("consul_id", config.Consul.Id),
		slog.String("db_driver", config.Database.Driver),
		slog.Int("workers", config.Worker.Workers),
	)

	// Start the application
	log.Info("report_orchestrator.main.starting_application")
	if err := application.Start(ctx); err != nil {
		log.Error("report_orchestrator.main.application_start_error", slog.String("error", err.Error()))
		_ = application.Stop()
		os.Exit(1)
	}
}

func initSignals(application *app.App, cancel context.CancelFunc, log *slog.Logger) {
	log.Info("report_orchestrator.main.initializing_stop_signals")
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		s := <-sigch
		cancel()
		if err := application.Stop(); err != nil {
			log.Error("report_orchestrator.main.stop_error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		log.Info("report_orchestrator.main.received_kill_signal",
			slog.String("signal", s.String()),
			slog.String("status", "service gracefully stopped"),
		)
		os.Exit(0)
	}()
}
