package app

import (
	"context"
	"log/slog"

	"github.com/webitel/report-orchestrator/auth"
	cfg "github.com/webitel/report-orchestrator/config"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/locale"
	"github.com/webitel/report-orchestrator/internal/mail"
	"github.com/webitel/report-orchestrator/internal/queue"
	"github.com/webitel/report-orchestrator/internal/queue/redis"
	"github.com/webitel/report-orchestrator/internal/server"
	"github.com/webitel/report-orchestrator/internal/service"
	"github.com/webitel/report-orchestrator/internal/storage"
	"github.com/webitel/report-orchestrator/internal/storage/s3"
	"github.com/webitel/report-orchestrator/internal/store"
	"github.com/webitel/report-orchestrator/internal/store/memory"
	"github.com/webitel/report-orchestrator/internal/store/postgres"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type App struct {
	Config   *cfg.AppConfig
	log      *slog.Logger
	exitCh   chan error
	shutdown func(ctx context.Context) error
	Store    store.Store
	Queue    queue.Queue
	Blob     storage.Blob
	Mail     mail.Sender
	server   *server.Server

	ids            *service.IDAllocator
	sessionManager auth.Manager
	sessions       *service.SessionServiceImpl
	reports        *service.ReportServiceImpl
	batches        *service.BatchServiceImpl
	emails         *service.EmailServiceImpl

	stopWorkers context.CancelFunc
	workersDone chan struct{}
}

// New creates a fully initialized App.
func New(config *cfg.AppConfig, log *slog.Logger, shutdown func(ctx context.Context) error) (*App, error) {
	app := &App{
		Config:   config,
		log:      log,
		shutdown: shutdown,
		exitCh:   make(chan error, 1),
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}
	if err := app.initRedis(); err != nil {
		return nil, err
	}
	app.initStorage()
	app.initMail()
	if err := app.initServices(); err != nil {
		return nil, err
	}
	if err := app.initServer(); err != nil {
		return nil, err
	}

	// --------- Service Registration (GRPC) ---------
	RegisterServices(app.server.Server, app)

	return app, nil
}

// --------- Private init methods ---------

func (app *App) initStore() error {
	if app.Config.Database == nil {
		return errors.Validation("database config is nil", errors.WithID("app.init_store.config"))
	}
	switch app.Config.Database.Driver {
	case DriverMemory:
		app.log.Warn("report_orchestrator.app.memory_store", slog.String("hint", "records are lost on restart"))
		app.Store = store.New(memory.New())
	case DriverPostgres:
		app.Store = store.New(postgres.New(app.Config.Database))
	default:
		return errors.Validation("unknown database driver "+app.Config.Database.Driver, errors.WithID("app.init_store.driver"))
	}
	return nil
}

func (app *App) initRedis() error {
	q, err := redis.NewRedisQueue(app.Config.Redis.Addr, app.Config.Redis.Password, app.Config.Redis.DB)
	if err != nil {
		return errors.New("unable to initialize Redis", errors.WithCause(err), errors.WithID("app.init_redis"))
	}
	app.Queue = q
	return nil
}

func (app *App) initStorage() {
	app.Blob = s3.New(app.Config.Storage, app.log.With(slog.String("component", "s3")))
}

func (app *App) initMail() {
	if app.Config.Smtp == nil || app.Config.Smtp.Host == "" {
		app.log.Info("report_orchestrator.app.mail_disabled")
		app.Mail = mail.Disabled{}
		return
	}
	app.Mail = mail.NewSMTPSender(app.Config.Smtp, app.log.With(slog.String("component", "mail")))
}

func (app *App) initServices() error {
	var err error
	log := app.log.With(slog.String("component", "service"))

	if app.ids, err = service.NewIDAllocator(app.Store.Generators(), log); err != nil {
		return err
	}
	if app.sessions, err = service.NewSessionService(app.Store.Sessions(), app.ids, app.Config.Session.InactivityLogout, log); err != nil {
		return err
	}
	app.sessionManager = app.sessions

	links := service.NewLinkIssuer(app.Blob, app.Config.Links.Attempts, app.Config.Links.Delay, log)
	ttl := service.LinkTTLs{Report: app.Config.Links.ReportTTL, Batch: app.Config.Links.BatchTTL}

	if app.reports, err = service.NewReportService(app.Store, app.Queue, app.Blob, links, app.sessionManager, app.ids, ttl, log); err != nil {
		return err
	}
	if app.batches, err = service.NewBatchService(app.Store, app.Queue, links, app.sessionManager, app.ids, ttl.Batch, log); err != nil {
		return err
	}
	if err = locale.Load(); err != nil {
		return errors.Internal("load translations", errors.WithID("app.init_services.locale"), errors.WithCause(err))
	}
	app.emails, err = service.NewEmailService(app.Store, links, app.sessionManager, app.Mail, ttl, locale.T(locale.DefaultLanguage), log)
	return err
}

func (app *App) initServer() error {
	srv, err := server.BuildServer(app.Config.Consul, app.log.With(slog.String("component", "server")), app.exitCh)
	if err != nil {
		return errors.New("failed to build server", errors.WithCause(err), errors.WithID("app.init_server"))
	}
	app.server = srv
	return nil
}

// Start opens the store, seeds identifier counters, then runs the gRPC server
// and the embedded workers until the server fails.
func (app *App) Start(ctx context.Context) error {
	if err := app.Store.Open(); err != nil {
		return errors.New("failed to open store", errors.WithCause(err), errors.WithID("app.start.store"))
	}
	if err := app.ids.Seed(ctx); err != nil {
		return err
	}

	go app.server.Start()
	app.StartWorkers(ctx)

	return <-app.exitCh
}

// Stop gracefully shuts down all services
func (app *App) Stop() error {
	app.log.Info("report_orchestrator.main.stop_starting")

	if app.server != nil {
		app.server.Stop()
		app.log.Info("report_orchestrator.main.server_stopped")
	}
	app.StopWorkers()

	if app.Queue != nil {
		if err := app.Queue.Close(); err != nil {
			app.log.Error("report_orchestrator.main.redis_close_failed", slog.String("error", err.Error()))
		}
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.log.Error("report_orchestrator.main.store_close_failed", slog.String("error", err.Error()))
		}
	}

	if app.shutdown != nil {
		if err := app.shutdown(context.Background()); err != nil {
			app.log.Error("report_orchestrator.main.shutdown_hook_failed", slog.String("error", err.Error()))
		}
	}

	app.log.Info("report_orchestrator.main.stop_complete")
	return nil
}
