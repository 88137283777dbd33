package uploader

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/report-orchestrator/internal/model"
)

// InFlight lists the reports the server is still working on, including
// completed ones still waiting for their download link.
func (m *Manager) InFlight() []model.ReportRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReportRef
	for _, it := range m.items {
		if it.Status.InFlight() && it.ReportID != "" {
			out = append(out, it.Ref())
		}
	}
	return out
}

// ApplyStatus merges polled states by report id. Reports the server finished
// are returned instead of marked COMPLETE: they complete once a link exists.
func (m *Manager) ApplyStatus(states []model.ReportState, now time.Time) []model.ReportRef {
	m.mu.Lock()
	var needLink []model.ReportRef
	for _, st := range states {
		it := m.find(func(it *Item) bool { return it.ReportID != "" && it.ReportID == st.ReportID })
		if it == nil || !it.Status.InFlight() {
			continue
		}
		switch st.Status {
		case model.StatusProcessing:
			if it.Status == model.StatusQueued {
				m.move(it, model.StatusProcessing, now)
			}
		case model.StatusComplete:
			needLink = append(needLink, it.Ref())
		case model.StatusError, model.StatusCancelled:
			m.move(it, st.Status, now)
			it.ErrorLevel = st.ErrorLevel
		}
	}
	save := m.takeCheckpoint()
	m.mu.Unlock()

	save()
	return needLink
}

// CompleteWithLink records uri for a finished report. An empty uri is ignored.
func (m *Manager) CompleteWithLink(ref model.ReportRef, uri string, now time.Time) {
	if uri == "" {
		return
	}
	m.mu.Lock()
	if it := m.find(func(it *Item) bool { return it.ReportID == ref.ReportID }); it != nil && it.Status.InFlight() {
		it.URI = uri
		it.Progress = 1
		m.move(it, model.StatusComplete, now)
	}
	save := m.takeCheckpoint()
	m.mu.Unlock()

	save()
}

// Recover rebuilds items from the server view of a saved recovery set. A
// finished report without a link comes back as PROCESSING so the poller
// fetches one.
func (m *Manager) Recover(recalled []Recovered, now time.Time) int {
	m.mu.Lock()
	n := 0
	for _, r := range recalled {
		if r.ReportID == "" || m.find(func(it *Item) bool { return it.ReportID == r.ReportID }) != nil {
			continue
		}
		m.nextKey++
		it := &Item{
			Key:        m.nextKey,
			FileName:   r.FileName,
			Serial:     r.Serial,
			ReportID:   r.ReportID,
			Hours:      r.Hours,
			Label:      r.Label,
			Start:      r.Start,
			End:        r.End,
			ErrorLevel: r.ErrorLevel,
			URI:        r.URI,
			Progress:   1,
		}
		switch {
		case r.Status == model.StatusComplete && r.URI != "":
			it.enter(model.StatusComplete, now)
		case r.Status == model.StatusComplete, r.Status == model.StatusProcessing:
			it.enter(model.StatusProcessing, now)
		case r.Status == model.StatusQueued:
			it.enter(model.StatusQueued, now)
		case r.Status == model.StatusCancelled:
			it.enter(model.StatusCancelled, now)
		default:
			it.enter(model.StatusError, now)
		}
		m.items = append(m.items, it)
		n++
	}
	if n > 0 {
		m.dirty = true
	}
	save := m.takeCheckpoint()
	m.mu.Unlock()

	save()
	if n > 0 {
		m.signal()
	}
	return n
}

// Clear cancels running transfers, withdraws reports the server is still
// working on and empties the queue. The withdrawal is best effort.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	var refs []model.ReportRef
	var statuses []model.FileStatus
	for _, it := range m.items {
		if it.cancel != nil {
			it.cancel()
			it.cancel = nil
		}
		if it.Status.InFlight() && it.ReportID != "" {
			refs = append(refs, it.Ref())
			statuses = append(statuses, model.StatusCancelled)
		}
	}
	m.items = nil
	checkpoint := m.checkpoint
	m.dirty = false
	m.mu.Unlock()

	if len(refs) > 0 {
		if err := m.api.SetStatus(ctx, refs, statuses); err != nil {
			m.log.WarnContext(ctx, "report_orchestrator.uploader.clear_cancel_failed",
				slog.Int("reports", len(refs)), slog.String("error", err.Error()))
		}
	}
	if checkpoint != nil {
		checkpoint(nil)
	}
	m.log.InfoContext(ctx, "report_orchestrator.uploader.queue_cleared", slog.Int("cancelled", len(refs)))
}
