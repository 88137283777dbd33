package app

import (
	"log/slog"

	"github.com/webitel/report-orchestrator/api/reports"
	handler "github.com/webitel/report-orchestrator/internal/handler/grpc"
	"google.golang.org/grpc"
)

// serviceRegistration holds information for initializing and registering a gRPC service.
type serviceRegistration struct {
	init     func(*App) (any, error)                    // Initialization function for *App
	register func(grpcServer *grpc.Server, service any) // Registration function for gRPC server
	name     string                                     // Service name for logging
}

// RegisterServices initializes and registers all necessary gRPC services.
func RegisterServices(grpcServer *grpc.Server, appInstance *App) {
	services := []serviceRegistration{
		{
			init: func(a *App) (any, error) {
				return handler.NewReportHandler(a.sessions, a.reports, a.batches, a.emails, "", a.log.With(slog.String("component", "handler")))
			},
			register: func(s *grpc.Server, svc any) {
				reports.RegisterReportServiceServer(s, svc.(reports.ReportServiceServer))
			},
			name: "ReportService",
		},
	}

	// Initialize and register each service
	for _, service := range services {
		svc, err := service.init(appInstance)
		if err != nil {
			appInstance.log.Error("report_orchestrator.app.service_init_failed",
				slog.String("service", service.name),
				slog.String("error", err.Error()))
			continue
		}
		service.register(grpcServer, svc)
		appInstance.log.Info("report_orchestrator.app.service_registered", slog.String("service", service.name))
	}
}
