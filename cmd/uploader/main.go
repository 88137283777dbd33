package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	conf "github.com/webitel/report-orchestrator/config"
	"github.com/webitel/report-orchestrator/internal/client"
	"github.com/webitel/report-orchestrator/internal/localstore"
	"github.com/webitel/report-orchestrator/internal/model"
	logging "github.com/webitel/report-orchestrator/internal/otel"
	"github.com/webitel/report-orchestrator/internal/poller"
	"github.com/webitel/report-orchestrator/internal/uploader"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/trace/otlp"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/trace/stdout"
)

// recovery keeps the local snapshot in step with the session and the queue.
type recovery struct {
	mu      sync.Mutex
	store   *localstore.Store
	session client.Session
	items   []localstore.Entry
	log     *slog.Logger
}

func (r *recovery) setSession(s client.Session) {
	r.mu.Lock()
	r.session = s
	r.mu.Unlock()
	r.save()
}

func (r *recovery) setItems(items []localstore.Entry) {
	r.mu.Lock()
	r.items = items
	r.mu.Unlock()
	r.save()
}

func (r *recovery) save() {
	r.mu.Lock()
	snap := &localstore.Snapshot{SessionID: r.session.SessionID, AccessKey: r.session.AccessKey, Items: r.items}
	r.mu.Unlock()
	if err := r.store.Save(context.Background(), snap); err != nil {
		r.log.Error("report_orchestrator.uploader.checkpoint_failed", slog.String("error", err.Error()))
	}
}

func main() {
	cfg, err := conf.LoadUploaderConfig(os.Args[1:])
	if err != nil {
		slog.Error("report_orchestrator.uploader.configuration_error", slog.String("error", err.Error()))
		os.Exit(2)
	}
	service := resource.NewSchemaless(
		semconv.ServiceName(model.UploaderServiceName),
		semconv.ServiceVersion(model.CurrentVersion),
		semconv.ServiceNamespace(model.NamespaceName),
	)
	shutdown := logging.Setup(service, cfg.LogLevel)
	defer func() { _ = shutdown(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, slog.Default()); err != nil {
		slog.Error("report_orchestrator.uploader.failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *conf.UploaderConfig, log *slog.Logger) error {
	store, err := localstore.Open(cfg.LocalDB)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Load(ctx)
	if err != nil {
		return err
	}
	rec := &recovery{store: store, items: snap.Items, log: log}

	api, err := client.Dial(cfg.Target, log.With(slog.String("component", "client")),
		client.WithSession(client.Session{SessionID: snap.SessionID, AccessKey: snap.AccessKey}),
		client.OnSession(rec.setSession),
	)
	if err != nil {
		return err
	}
	defer api.Close()

	if _, err := api.EnsureSession(ctx); err != nil {
		return err
	}
	keepCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()
	go api.KeepAlive(keepCtx, cfg.Queue.KeepAlive)

	queue := uploader.New(api, uploader.ConfigFrom(cfg.Queue), log.With(slog.String("component", "uploader")),
		uploader.WithCheckpoint(rec.setItems))

	if len(snap.Items) > 0 {
		if err := recoverQueue(ctx, api, queue, snap.Items, log); err != nil {
			log.WarnContext(ctx, "report_orchestrator.uploader.recover_failed", slog.String("error", err.Error()))
		}
	}

	if cfg.Report.Clear {
		queue.Clear(ctx)
		return nil
	}

	if len(cfg.Files) > 0 {
		added, err := queue.Add(cfg.Files, uploader.ReportOptions{
			Hours:    cfg.Report.Hours,
			Sections: cfg.Report.Sections,
			Label:    cfg.Report.Label,
		})
		if err != nil {
			log.WarnContext(ctx, "report_orchestrator.uploader.files_rejected", slog.String("error", err.Error()))
		}
		log.InfoContext(ctx, "report_orchestrator.uploader.files_accepted", slog.Int("count", len(added)))
		queue.Submit(time.Now())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go queue.Run(runCtx, cfg.Queue.Tick)
	go poller.NewReportPoller(api, queue, cfg.Queue.ReportPoll, log.With(slog.String("component", "poller"))).Run(runCtx)

	if err := waitSettled(ctx, queue, cfg.Queue.Tick); err != nil {
		return err
	}
	cancel()
	queue.Wait()
	printQueue(queue.Items())

	if cfg.Report.Batch {
		return requestBatch(ctx, api, queue, cfg, log)
	}
	return nil
}

func recoverQueue(ctx context.Context, api *client.Client, queue *uploader.Manager, entries []localstore.Entry, log *slog.Logger) error {
	refs := make([]model.ReportRef, len(entries))
	for i, e := range entries {
		refs[i] = model.ReportRef{Serial: e.Serial, ReportID: e.ReportID}
	}
	recalled, err := api.RecallReports(ctx, refs)
	if err != nil {
		return err
	}
	items := make([]uploader.Recovered, 0, len(recalled))
	for _, r := range recalled {
		st, err := model.ParseFileStatus(r.Status)
		if err != nil {
			continue
		}
		items = append(items, uploader.Recovered{
			Serial:     r.Serial,
			ReportID:   r.ReportID,
			FileName:   r.SourceName,
			Status:     st,
			ErrorLevel: r.ErrorLevel,
			Hours:      r.Hours,
			Label:      r.Label,
			Start:      r.Start,
			End:        r.End,
			URI:        r.URI,
		})
	}
	n := queue.Recover(items, time.Now())
	log.InfoContext(ctx, "report_orchestrator.uploader.recovered", slog.Int("saved", len(entries)), slog.Int("recalled", n))
	return nil
}

func waitSettled(ctx context.Context, queue *uploader.Manager, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for !queue.Settled() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func requestBatch(ctx context.Context, api *client.Client, queue *uploader.Manager, cfg *conf.UploaderConfig, log *slog.Logger) error {
	refs := queue.Completed()
	if len(refs) == 0 {
		fmt.Println("no completed reports to bundle")
		return nil
	}
	batchID, err := api.BatchRequest(ctx, refs)
	if err != nil {
		return err
	}
	p := poller.NewBatchPoller(api, cfg.Queue.BatchPoll, func(s model.BatchState) {
		log.InfoContext(ctx, "report_orchestrator.uploader.batch_progress",
			slog.String("batch_id", s.BatchID),
			slog.String("status", s.Status.String()),
			slog.Int("progress", s.Progress),
			slog.String("message", s.Message))
	}, log)
	state, err := p.Wait(ctx, batchID)
	if err != nil {
		return err
	}
	if state.Status == model.StatusError {
		return fmt.Errorf("batch %s failed: %s", batchID, state.Message)
	}
	fmt.Printf("batch %s: %s\n", batchID, state.URI)

	if len(cfg.Report.EmailTo) == 0 {
		return nil
	}
	ids, err := api.SendEmail(ctx, client.EmailRequest{
		RecordID: batchID,
		From:     cfg.Report.EmailFrom,
		Subject:  cfg.Report.EmailSubject,
		To:       cfg.Report.EmailTo,
		Link:     state.URI,
		FileName: model.BatchFileName(time.Now()),
		Multiple: true,
	})
	if err != nil {
		return err
	}
	if ids == nil {
		fmt.Println("email was not sent")
		return nil
	}
	fmt.Printf("email sent to %d recipient(s)\n", len(ids))
	return nil
}

func printQueue(items []uploader.Item) {
	for _, it := range items {
		line := fmt.Sprintf("%-40s %-11s", it.FileName, it.Status)
		if it.ReportID != "" {
			line += " " + it.ReportID
		}
		if it.URI != "" {
			line += " " + it.URI
		}
		fmt.Println(line)
	}
}
