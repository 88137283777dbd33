package app

import (
	"context"
	"log/slog"

	"github.com/webitel/report-orchestrator/internal/worker"
)

// StartWorkers launches the embedded reference workers when configured. With
// zero workers the queue is left to an external consumer.
func (app *App) StartWorkers(ctx context.Context) {
	n := 0
	if app.Config.Worker != nil {
		n = app.Config.Worker.Workers
	}
	if n <= 0 {
		app.log.InfoContext(ctx, "report_orchestrator.app.external_worker")
		return
	}

	ctx, app.stopWorkers = context.WithCancel(ctx)
	app.workersDone = make(chan struct{})
	w := worker.New(app.Queue, app.Blob, app.Store.Reports(), app.reports, app.batches,
		app.log.With(slog.String("component", "worker")))
	go func() {
		defer close(app.workersDone)
		w.Start(ctx, n)
	}()
}

func (app *App) StopWorkers() {
	if app.stopWorkers == nil {
		return
	}
	app.stopWorkers()
	<-app.workersDone
}
