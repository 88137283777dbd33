package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/report-orchestrator/internal/model"
)

type ReportAPI interface {
	ReportStatus(ctx context.Context, refs []model.ReportRef) ([]model.ReportState, error)
	ReportDownload(ctx context.Context, ref model.ReportRef) (string, error)
}

// Tracker is the queue the report poller reconciles into.
type Tracker interface {
	InFlight() []model.ReportRef
	ApplyStatus(states []model.ReportState, now time.Time) []model.ReportRef
	CompleteWithLink(ref model.ReportRef, uri string, now time.Time)
}

// ReportPoller queries the status of in-flight reports and asks for a link
// for every report the server finished.
type ReportPoller struct {
	api      ReportAPI
	tracker  Tracker
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewReportPoller(api ReportAPI, tracker Tracker, interval time.Duration, log *slog.Logger) *ReportPoller {
	return &ReportPoller{api: api, tracker: tracker, interval: interval, now: time.Now, log: log}
}

// Poll runs one round. It is a no-op while nothing is in flight.
func (p *ReportPoller) Poll(ctx context.Context) error {
	refs := p.tracker.InFlight()
	if len(refs) == 0 {
		return nil
	}
	states, err := p.api.ReportStatus(ctx, refs)
	if err != nil {
		return err
	}
	for _, ref := range p.tracker.ApplyStatus(states, p.now()) {
		uri, err := p.api.ReportDownload(ctx, ref)
		if err != nil {
			p.log.WarnContext(ctx, "report_orchestrator.poller.link_failed",
				slog.String("report_id", ref.ReportID), slog.String("error", err.Error()))
			continue
		}
		if uri == "" {
			// not signed yet, asked again next round
			continue
		}
		p.tracker.CompleteWithLink(ref, uri, p.now())
	}
	return nil
}

// Run polls every interval until ctx is done. Failed rounds are retried on
// the next tick.
func (p *ReportPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.log.WarnContext(ctx, "report_orchestrator.poller.report_status_failed", slog.String("error", err.Error()))
			}
		}
	}
}
