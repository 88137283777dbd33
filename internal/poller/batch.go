package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/model"
)

type BatchAPI interface {
	BatchDownload(ctx context.Context, batchID string) (*model.BatchState, error)
}

// Finished is the batch poller's stop condition.
func Finished(s *model.BatchState) bool {
	return s != nil && ((s.Status == model.StatusComplete && s.URI != "") || s.Status == model.StatusError)
}

type BatchPoller struct {
	api      BatchAPI
	interval time.Duration
	onUpdate func(model.BatchState)
	log      *slog.Logger
}

func NewBatchPoller(api BatchAPI, interval time.Duration, onUpdate func(model.BatchState), log *slog.Logger) *BatchPoller {
	return &BatchPoller{api: api, interval: interval, onUpdate: onUpdate, log: log}
}

// Wait polls batchID until it is finished and returns the last state.
// Transient failures are retried; anything else ends the wait.
func (p *BatchPoller) Wait(ctx context.Context, batchID string) (*model.BatchState, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		state, err := p.api.BatchDownload(ctx, batchID)
		switch {
		case err != nil && errors.KindOf(err).Transient():
			p.log.WarnContext(ctx, "report_orchestrator.poller.batch_retry",
				slog.String("batch_id", batchID), slog.String("error", err.Error()))
		case err != nil:
			return nil, err
		default:
			if p.onUpdate != nil {
				p.onUpdate(*state)
			}
			if Finished(state) {
				return state, nil
			}
		}
		timer.Reset(p.interval)
	}
}
