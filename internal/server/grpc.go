package server

import (
	"log/slog"
	"net"

	conf "github.com/webitel/report-orchestrator/config"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/server/interceptor"
	"github.com/webitel/report-orchestrator/registry"
	"github.com/webitel/report-orchestrator/registry/consul"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type Server struct {
	Server   *grpc.Server
	Health   *health.Server
	listener net.Listener
	config   *conf.ConsulConfig
	exitChan chan error
	registry registry.ServiceRegistrator
	log      *slog.Logger
}

// BuildServer constructs the gRPC server with interceptors and tracing. The
// service is registered in consul only when a consul address is configured.
func BuildServer(config *conf.ConsulConfig, log *slog.Logger, exitChan chan error) (*Server, error) {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptor.OuterInterceptor(),
			interceptor.AddressUnaryServerInterceptor(),
			interceptor.ValidateUnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			interceptor.OuterStreamInterceptor(),
			interceptor.AddressStreamServerInterceptor(),
		),
	)

	listener, err := net.Listen("tcp", config.PublicAddress)
	if err != nil {
		return nil, errors.Internal(
			err.Error(),
			errors.WithID("server.build.listen.error"),
		)
	}

	var reg registry.ServiceRegistrator = registry.Noop{}
	if config.Address != "" {
		reg, err = consul.NewConsulRegistry(config, log)
		if err != nil {
			_ = listener.Close()
			return nil, errors.Internal(
				err.Error(),
				errors.WithID("server.build.consul_registry.error"),
			)
		}
	}

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	return &Server{
		Server:   s,
		Health:   hs,
		listener: listener,
		exitChan: exitChan,
		config:   config,
		registry: reg,
		log:      log,
	}, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Start registers and starts the gRPC server
func (s *Server) Start() {
	if err := s.registry.Register(); err != nil {
		s.exitChan <- err
		return
	}
	s.Health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.log.Info("report_orchestrator.server.listening", slog.String("addr", s.listener.Addr().String()))
	if err := s.Server.Serve(s.listener); err != nil {
		s.exitChan <- errors.Internal(
			err.Error(),
			errors.WithID("server.start.serve.error"),
		)
	}
}

// Stop deregisters the service and gracefully stops the gRPC server
func (s *Server) Stop() {
	s.Health.Shutdown()
	if err := s.registry.Deregister(); err != nil {
		s.log.Error("report_orchestrator.server.deregister_failed", slog.String("error", err.Error()))
	}
	s.Server.GracefulStop()
}
