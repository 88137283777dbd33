package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/webitel/report-orchestrator/internal/client"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/localstore"
	"github.com/webitel/report-orchestrator/internal/model"
)

const notifyTimeout = 10 * time.Second

// API is the part of the orchestrator the queue talks to.
type API interface {
	Upload(ctx context.Context, meta client.UploadMeta, body io.ReadSeeker, progress func(sent int64)) (*client.UploadResult, error)
	SetStatus(ctx context.Context, refs []model.ReportRef, statuses []model.FileStatus) error
}

// Opener opens a data file for upload and reports its size.
type Opener func(path string) (io.ReadSeekCloser, int64, error)

func OpenFile(path string) (io.ReadSeekCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

type attemptKey struct{ key, attempt int }

type result struct {
	attemptKey
	serial string
	res    *client.UploadResult
	err    error
}

// inbox collects what transfers report back between ticks.
type inbox struct {
	mu       sync.Mutex
	progress map[attemptKey]int64
	results  []result
}

func (in *inbox) setProgress(k attemptKey, sent int64) {
	in.mu.Lock()
	in.progress[k] = sent
	in.mu.Unlock()
}

func (in *inbox) finish(r result) {
	in.mu.Lock()
	in.results = append(in.results, r)
	in.mu.Unlock()
}

func (in *inbox) take() (map[attemptKey]int64, []result) {
	in.mu.Lock()
	defer in.mu.Unlock()
	p, r := in.progress, in.results
	in.progress, in.results = make(map[attemptKey]int64), nil
	return p, r
}

// Manager is the client upload queue. A single Tick loop promotes pending
// items under the concurrency cap, expires stalled stages and folds transfer
// progress and results back into the items.
type Manager struct {
	api  API
	open Opener
	cfg  Config
	log  *slog.Logger

	mu          sync.Mutex
	items       []*Item
	nextKey     int
	outstanding int
	dirty       bool

	inbox      *inbox
	wake       chan struct{}
	notifies   sync.WaitGroup
	checkpoint func([]localstore.Entry)
}

type Option func(*Manager)

// WithCheckpoint sets the hook receiving the recovery set whenever an item is
// queued, reaches a terminal state or the queue is cleared.
func WithCheckpoint(fn func([]localstore.Entry)) Option {
	return func(m *Manager) { m.checkpoint = fn }
}

func WithOpener(open Opener) Option { return func(m *Manager) { m.open = open } }

func New(api API, cfg Config, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		api:   api,
		open:  OpenFile,
		cfg:   cfg,
		log:   log,
		inbox: &inbox{progress: make(map[attemptKey]int64)},
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add validates paths and appends them as EDITING items. Rejected files are
// reported in the returned error; the rest are still added.
func (m *Manager) Add(paths []string, opts ReportOptions) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var added []Item
	var errs []error
	for _, p := range paths {
		f, err := model.ParseExportFilename(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if m.find(func(it *Item) bool { return it.FileName == f.Name }) != nil {
			errs = append(errs, errors.Validation(p+": file is already queued", errors.WithID("uploader.add.duplicate")))
			continue
		}
		m.nextKey++
		it := &Item{
			Key:        m.nextKey,
			Path:       p,
			FileName:   f.Name,
			Serial:     f.Serial,
			ExportDate: f.ExportDate,
			Hours:      opts.Hours,
			Sections:   opts.Sections,
			Label:      opts.Label,
			End:        f.ExportDate,
			Start:      f.ExportDate.Add(-time.Duration(opts.Hours) * time.Hour),
			Status:     model.StatusEditing,
		}
		m.items = append(m.items, it)
		added = append(added, *it)
	}
	return added, errors.Join(errs...)
}

// Submit moves every EDITING item to PENDING and restarts the tick loop.
func (m *Manager) Submit(now time.Time) int {
	m.mu.Lock()
	n := 0
	for _, it := range m.items {
		if it.Status == model.StatusEditing {
			m.move(it, model.StatusPending, now)
			n++
		}
	}
	m.mu.Unlock()
	if n > 0 {
		m.signal()
	}
	return n
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Tick runs one dispatch round at now and reports whether another is needed.
// Transfer reports are taken as of the start of the tick.
func (m *Manager) Tick(ctx context.Context, now time.Time) bool {
	progress, results := m.inbox.take()

	m.mu.Lock()
	m.dispatch(ctx, now)
	m.expire(ctx, now)
	m.collect(ctx, now, progress, results)
	active := m.outstanding > 0
	for _, it := range m.items {
		active = active || it.needsTick()
	}
	save := m.takeCheckpoint()
	m.mu.Unlock()

	save()
	return active
}

// Run ticks every interval while there is work and sleeps until Submit or
// Recover adds some. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case now := <-ticker.C:
			if m.Tick(ctx, now) {
				continue
			}
			m.log.DebugContext(ctx, "report_orchestrator.uploader.idle")
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				ticker.Reset(interval)
			}
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, now time.Time) {
	uploading := 0
	for _, it := range m.items {
		if it.Status == model.StatusUploading {
			uploading++
		}
	}
	for _, it := range m.items {
		if uploading >= m.cfg.MaxUploads {
			return
		}
		if it.Status != model.StatusPending {
			continue
		}
		m.start(ctx, it, now)
		uploading++
	}
}

func (m *Manager) start(ctx context.Context, it *Item, now time.Time) {
	m.move(it, model.StatusUploading, now)
	it.attempt++
	it.Progress = 0

	tctx, cancel := context.WithCancel(ctx)
	it.cancel = cancel
	m.outstanding++

	k := attemptKey{key: it.Key, attempt: it.attempt}
	meta := client.UploadMeta{
		Serial:     it.Serial,
		FileName:   it.FileName,
		Sections:   it.Sections,
		Start:      it.Start,
		End:        it.End,
		Hours:      it.Hours,
		ExportDate: it.ExportDate,
		UploadDate: now.UTC(),
		Label:      it.Label,
	}
	go m.transfer(tctx, k, it.Path, meta)
}

func (m *Manager) transfer(ctx context.Context, k attemptKey, path string, meta client.UploadMeta) {
	body, size, err := m.open(path)
	if err != nil {
		m.inbox.finish(result{attemptKey: k, serial: meta.Serial, err: errors.Validation("cannot open "+path, errors.WithID("uploader.open"), errors.WithCause(err))})
		return
	}
	defer body.Close()

	meta.Size = size
	m.inbox.setProgress(k, 0)
	res, err := m.api.Upload(ctx, meta, body, func(sent int64) {
		if size > 0 {
			m.inbox.setProgress(k, sent*1000/size)
		}
	})
	m.inbox.finish(result{attemptKey: k, serial: meta.Serial, res: res, err: err})
}

func (m *Manager) expire(ctx context.Context, now time.Time) {
	for _, it := range m.items {
		switch it.Status {
		case model.StatusRetrying:
			if !now.Before(it.retryAt) {
				m.move(it, model.StatusPending, now)
			}
		case model.StatusPending:
			if now.Sub(it.PendingStart) > m.cfg.PendingTimeout {
				m.fail(ctx, it, now, "pending timeout")
			}
		case model.StatusUploading:
			if now.Sub(it.PendingStart) > m.cfg.PendingTimeout+m.cfg.UploadingTimeout {
				m.fail(ctx, it, now, "uploading timeout")
			}
		case model.StatusQueued:
			if now.Sub(it.QueuedStart) > m.cfg.QueuedTimeout {
				m.fail(ctx, it, now, "queued timeout")
			}
		case model.StatusProcessing:
			if now.Sub(it.ProcessingStart) > m.cfg.ProcessingTimeout {
				m.fail(ctx, it, now, "processing timeout")
			}
		}
	}
}

// fail makes it terminal ERROR. Items the server knows about are reported
// in the background.
func (m *Manager) fail(ctx context.Context, it *Item, now time.Time, reason string) {
	serverVisible := it.Status == model.StatusQueued || it.Status == model.StatusProcessing
	if it.cancel != nil {
		it.cancel()
		it.cancel = nil
	}
	m.log.WarnContext(ctx, "report_orchestrator.uploader.item_failed",
		slog.String("file", it.FileName),
		slog.String("from", it.Status.String()),
		slog.String("reason", reason),
		slog.Int("upload_retries", it.UploadRetries))
	m.move(it, model.StatusError, now)
	it.ErrorLevel = model.FailureErrorLevel
	if serverVisible && it.ReportID != "" {
		m.notify(ctx, it.Ref(), model.StatusError)
	}
}

func (m *Manager) collect(ctx context.Context, now time.Time, progress map[attemptKey]int64, results []result) {
	for k, permille := range progress {
		it := m.find(func(it *Item) bool { return it.Key == k.key })
		if it != nil && it.attempt == k.attempt && it.Status == model.StatusUploading {
			it.Progress = min(float64(permille)/1000, 1)
		}
	}
	for _, r := range results {
		m.outstanding--
		it := m.find(func(it *Item) bool { return it.Key == r.key })
		if it == nil || it.attempt != r.attempt || it.Status != model.StatusUploading {
			m.late(ctx, it, r)
			continue
		}
		it.cancel()
		it.cancel = nil
		if r.err != nil {
			m.uploadFailed(ctx, it, r.err, now)
			continue
		}
		it.ReportID = r.res.ReportID
		it.Progress = 1
		if r.res.Status == model.StatusError {
			m.move(it, model.StatusError, now)
			it.ErrorLevel = model.FailureErrorLevel
		} else {
			m.move(it, model.StatusQueued, now)
		}
	}
}

// late handles a transfer result for an item that moved on without it. A
// report the server accepted meanwhile is withdrawn.
func (m *Manager) late(ctx context.Context, it *Item, r result) {
	if r.err != nil || r.res == nil || r.res.ReportID == "" {
		return
	}
	status := model.StatusError
	if it == nil {
		// cleared while the upload was running
		status = model.StatusCancelled
	}
	m.log.InfoContext(ctx, "report_orchestrator.uploader.late_upload",
		slog.String("report_id", r.res.ReportID), slog.String("status", status.String()))
	m.notify(ctx, model.ReportRef{Serial: r.serial, ReportID: r.res.ReportID}, status)
}

func (m *Manager) uploadFailed(ctx context.Context, it *Item, err error, now time.Time) {
	it.Progress = 0
	if errors.KindOf(err) == errors.KindValidation {
		m.fail(ctx, it, now, err.Error())
		return
	}
	it.UploadRetries++
	if it.UploadRetries >= m.cfg.MaxUploadAttempts {
		m.fail(ctx, it, now, err.Error())
		return
	}
	m.log.InfoContext(ctx, "report_orchestrator.uploader.upload_retry",
		slog.String("file", it.FileName),
		slog.Int("upload_retries", it.UploadRetries),
		slog.String("error", err.Error()))
	m.move(it, model.StatusRetrying, now)
	it.retryAt = now.Add(m.cfg.RetryDelay)
}

func (m *Manager) move(it *Item, to model.FileStatus, now time.Time) {
	from := it.Status
	it.enter(to, now)
	if from == to {
		return
	}
	m.log.Debug("report_orchestrator.uploader.transition",
		slog.String("file", it.FileName),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	if to == model.StatusQueued || (to.Terminal() && it.ReportID != "") {
		m.dirty = true
	}
}

// notify reports st for ref without blocking the loop. Failures are logged only.
func (m *Manager) notify(ctx context.Context, ref model.ReportRef, st model.FileStatus) {
	m.notifies.Add(1)
	go func() {
		defer m.notifies.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := m.api.SetStatus(ctx, []model.ReportRef{ref}, []model.FileStatus{st}); err != nil {
			m.log.WarnContext(ctx, "report_orchestrator.uploader.set_status_failed",
				slog.String("report_id", ref.ReportID),
				slog.String("status", st.String()),
				slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until background status reports have finished.
func (m *Manager) Wait() { m.notifies.Wait() }

func (m *Manager) find(match func(*Item) bool) *Item {
	for _, it := range m.items {
		if match(it) {
			return it
		}
	}
	return nil
}

func (m *Manager) takeCheckpoint() func() {
	if !m.dirty || m.checkpoint == nil {
		m.dirty = false
		return func() {}
	}
	m.dirty = false
	entries := m.recoverySet()
	return func() { m.checkpoint(entries) }
}

func (m *Manager) recoverySet() []localstore.Entry {
	var out []localstore.Entry
	for _, it := range m.items {
		if it.ReportID != "" {
			out = append(out, localstore.Entry{Serial: it.Serial, ReportID: it.ReportID, FileName: it.FileName})
		}
	}
	return out
}

// Items returns a copy of the queue in submission order.
func (m *Manager) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, len(m.items))
	for i, it := range m.items {
		out[i] = *it
		out[i].cancel = nil
	}
	return out
}

// Settled is true when no item will change without outside input.
func (m *Manager) Settled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outstanding > 0 {
		return false
	}
	for _, it := range m.items {
		if it.Status != model.StatusEditing && !it.Status.Terminal() {
			return false
		}
	}
	return true
}

// Completed lists the references of COMPLETE items.
func (m *Manager) Completed() []model.ReportRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReportRef
	for _, it := range m.items {
		if it.Status == model.StatusComplete {
			out = append(out, it.Ref())
		}
	}
	return out
}
