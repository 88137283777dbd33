package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/report-orchestrator/internal/client"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/localstore"
	"github.com/webitel/report-orchestrator/internal/model"
)

var t0 = time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

type statusCall struct {
	refs     []model.ReportRef
	statuses []model.FileStatus
}

type fakeAPI struct {
	mu       sync.Mutex
	calls    int
	outcome  func(call int) error
	release  chan struct{} // when set, each upload waits for one receive
	stubborn bool          // uploads ignore cancellation
	status   []statusCall
}

func (f *fakeAPI) Upload(ctx context.Context, meta client.UploadMeta, body io.ReadSeeker, progress func(int64)) (*client.UploadResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.release != nil {
		if f.stubborn {
			<-f.release
		} else {
			select {
			case <-f.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	n, _ := io.Copy(io.Discard, body)
	progress(n)
	if f.outcome != nil {
		if err := f.outcome(call); err != nil {
			return nil, err
		}
	}
	// SN001 is accepted as R00000001
	return &client.UploadResult{ReportID: "R00000" + strings.TrimPrefix(meta.Serial, "SN"), Status: model.StatusQueued}, nil
}

func (f *fakeAPI) SetStatus(_ context.Context, refs []model.ReportRef, statuses []model.FileStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = append(f.status, statusCall{refs: refs, statuses: statuses})
	return nil
}

func (f *fakeAPI) uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAPI) statusCalls() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusCall(nil), f.status...)
}

type readSeekCloser struct{ *bytes.Reader }

func (readSeekCloser) Close() error { return nil }

func fakeOpener(string) (io.ReadSeekCloser, int64, error) {
	data := bytes.Repeat([]byte("d"), 1024)
	return readSeekCloser{bytes.NewReader(data)}, int64(len(data)), nil
}

func testConfig() Config {
	return Config{
		MaxUploads:        2,
		MaxUploadAttempts: 3,
		RetryDelay:        5 * time.Second,
		PendingTimeout:    time.Minute,
		UploadingTimeout:  10 * time.Minute,
		QueuedTimeout:     10 * time.Minute,
		ProcessingTimeout: 15 * time.Minute,
	}
}

func exportName(i int) string {
	return fmt.Sprintf("/data/export_%d_SN%03d_20261001_0700%02d.tar", i, i, i)
}

func newManager(t *testing.T, api *fakeAPI, cfg Config, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithOpener(fakeOpener)}, opts...)
	return New(api, cfg, slog.New(slog.DiscardHandler), opts...)
}

func submit(t *testing.T, m *Manager, n int) {
	t.Helper()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = exportName(i + 1)
	}
	_, err := m.Add(paths, ReportOptions{Hours: 24})
	require.NoError(t, err)
	require.Equal(t, n, m.Submit(t0))
}

// waitResults blocks until n transfers have reported back.
func waitResults(t *testing.T, m *Manager, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		m.inbox.mu.Lock()
		defer m.inbox.mu.Unlock()
		return len(m.inbox.results) >= n
	}, time.Second, time.Millisecond)
}

func statuses(m *Manager) []model.FileStatus {
	var out []model.FileStatus
	for _, it := range m.Items() {
		out = append(out, it.Status)
	}
	return out
}

func TestManager_SingleFileLifecycle(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	var saved [][]localstore.Entry
	m := newManager(t, api, testConfig(), WithCheckpoint(func(e []localstore.Entry) { saved = append(saved, e) }))

	added, err := m.Add([]string{exportName(1)}, ReportOptions{Hours: 24, Label: "north"})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, model.StatusEditing, added[0].Status)
	assert.Equal(t, "SN001", added[0].Serial)
	assert.Equal(t, added[0].End.Add(-24*time.Hour), added[0].Start)

	m.Submit(t0)
	it := m.Items()[0]
	assert.Equal(t, model.StatusPending, it.Status)
	assert.Equal(t, t0, it.PendingStart)

	assert.True(t, m.Tick(ctx, t0))
	assert.Equal(t, model.StatusUploading, m.Items()[0].Status)

	waitResults(t, m, 1)
	t1 := t0.Add(250 * time.Millisecond)
	assert.True(t, m.Tick(ctx, t1))
	it = m.Items()[0]
	assert.Equal(t, model.StatusQueued, it.Status)
	assert.Equal(t, "R00000001", it.ReportID)
	assert.Equal(t, t1, it.QueuedStart)
	assert.True(t, it.PendingStart.IsZero())
	assert.Equal(t, 1.0, it.Progress)
	require.Len(t, saved, 1)
	assert.Equal(t, []localstore.Entry{{Serial: "SN001", ReportID: "R00000001", FileName: it.FileName}}, saved[0])

	assert.Equal(t, []model.ReportRef{{Serial: "SN001", ReportID: "R00000001"}}, m.InFlight())

	// a finished report waits for its link
	need := m.ApplyStatus([]model.ReportState{{ReportID: "R00000001", Serial: "SN001", Status: model.StatusComplete}}, t1)
	assert.Equal(t, []model.ReportRef{{Serial: "SN001", ReportID: "R00000001"}}, need)
	assert.Equal(t, model.StatusQueued, m.Items()[0].Status)

	m.CompleteWithLink(need[0], "", t1)
	assert.Equal(t, model.StatusQueued, m.Items()[0].Status)

	m.CompleteWithLink(need[0], "https://blob/r1.pdf", t1)
	it = m.Items()[0]
	assert.Equal(t, model.StatusComplete, it.Status)
	assert.Equal(t, "https://blob/r1.pdf", it.URI)
	assert.Empty(t, m.InFlight())
	assert.Equal(t, []model.ReportRef{{Serial: "SN001", ReportID: "R00000001"}}, m.Completed())

	assert.False(t, m.Tick(ctx, t1.Add(time.Second)))
	assert.True(t, m.Settled())
}

func TestManager_FailedUploadRetriesAfterDelay(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{outcome: func(call int) error {
		if call == 1 {
			return errors.Network("connection reset")
		}
		return nil
	}}
	cfg := testConfig()
	m := newManager(t, api, cfg)
	submit(t, m, 1)

	m.Tick(ctx, t0)
	waitResults(t, m, 1)
	m.Tick(ctx, t0.Add(time.Second))

	it := m.Items()[0]
	assert.Equal(t, model.StatusRetrying, it.Status)
	assert.Equal(t, 1, it.UploadRetries)
	assert.Zero(t, it.Progress)
	assert.True(t, it.PendingStart.IsZero())
	assert.True(t, it.QueuedStart.IsZero())
	assert.True(t, it.ProcessingStart.IsZero())

	failedAt := t0.Add(time.Second)
	m.Tick(ctx, failedAt.Add(cfg.RetryDelay-time.Millisecond))
	assert.Equal(t, model.StatusRetrying, m.Items()[0].Status)

	back := failedAt.Add(cfg.RetryDelay)
	m.Tick(ctx, back)
	it = m.Items()[0]
	assert.Equal(t, model.StatusPending, it.Status)
	assert.Equal(t, back, it.PendingStart)

	m.Tick(ctx, back.Add(time.Millisecond))
	assert.Equal(t, model.StatusUploading, m.Items()[0].Status)
	waitResults(t, m, 1)
	m.Tick(ctx, back.Add(2*time.Millisecond))
	assert.Equal(t, model.StatusQueued, m.Items()[0].Status)
	assert.Equal(t, 2, api.uploads())
}

func TestManager_ThreeFailuresAreFinal(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{outcome: func(int) error { return errors.Network("unreachable") }}
	cfg := testConfig()
	m := newManager(t, api, cfg)
	submit(t, m, 1)

	now := t0
	for attempt := 1; attempt <= 3; attempt++ {
		m.Tick(ctx, now)
		require.Equal(t, model.StatusUploading, m.Items()[0].Status, "attempt %d", attempt)
		waitResults(t, m, 1)
		now = now.Add(time.Millisecond)
		m.Tick(ctx, now)
		now = now.Add(cfg.RetryDelay)
		m.Tick(ctx, now)
	}

	it := m.Items()[0]
	assert.Equal(t, model.StatusError, it.Status)
	assert.Equal(t, 3, it.UploadRetries)

	for i := 0; i < 5; i++ {
		now = now.Add(cfg.RetryDelay * 10)
		m.Tick(ctx, now)
	}
	assert.Equal(t, model.StatusError, m.Items()[0].Status)
	assert.Equal(t, 3, api.uploads())
	// nothing reached the server, so nothing is reported
	m.Wait()
	assert.Empty(t, api.statusCalls())
}

func TestManager_ConcurrencyCap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeAPI{release: make(chan struct{})}
	m := newManager(t, api, testConfig())
	submit(t, m, 3)

	m.Tick(ctx, t0)
	assert.Equal(t, []model.FileStatus{model.StatusUploading, model.StatusUploading, model.StatusPending}, statuses(m))
	m.Tick(ctx, t0.Add(250*time.Millisecond))
	assert.Equal(t, model.StatusPending, m.Items()[2].Status)

	api.release <- struct{}{}
	waitResults(t, m, 1)

	// the slot frees while collecting, after this tick's dispatch
	m.Tick(ctx, t0.Add(500*time.Millisecond))
	st := statuses(m)
	assert.Contains(t, st, model.StatusQueued)
	assert.Equal(t, model.StatusPending, st[2])

	m.Tick(ctx, t0.Add(750*time.Millisecond))
	assert.Equal(t, model.StatusUploading, m.Items()[2].Status)
	require.Eventually(t, func() bool { return api.uploads() == 3 }, time.Second, time.Millisecond)
}

func TestManager_PendingTimeoutBeforeDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeAPI{release: make(chan struct{})}
	cfg := testConfig()
	cfg.MaxUploads = 1
	m := newManager(t, api, cfg)
	submit(t, m, 2)

	m.Tick(ctx, t0)
	assert.Equal(t, []model.FileStatus{model.StatusUploading, model.StatusPending}, statuses(m))

	m.Tick(ctx, t0.Add(cfg.PendingTimeout+time.Second))
	items := m.Items()
	assert.Equal(t, model.StatusUploading, items[0].Status)
	assert.Equal(t, model.StatusError, items[1].Status)
	require.Eventually(t, func() bool { return api.uploads() == 1 }, time.Second, time.Millisecond)
	m.Tick(ctx, t0.Add(2*cfg.PendingTimeout))
	assert.Equal(t, 1, api.uploads())
}

func TestManager_UploadingTimeoutCountsFromPending(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{release: make(chan struct{}), stubborn: true}
	cfg := testConfig()
	m := newManager(t, api, cfg)
	submit(t, m, 1)
	m.Tick(ctx, t0)

	m.Tick(ctx, t0.Add(cfg.UploadingTimeout+time.Second))
	assert.Equal(t, model.StatusUploading, m.Items()[0].Status)

	m.Tick(ctx, t0.Add(cfg.PendingTimeout+cfg.UploadingTimeout+time.Second))
	assert.Equal(t, model.StatusError, m.Items()[0].Status)

	// the server accepts the upload after all; it gets withdrawn
	api.release <- struct{}{}
	waitResults(t, m, 1)
	m.Tick(ctx, t0.Add(time.Hour))
	m.Wait()

	calls := api.statusCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []model.ReportRef{{Serial: "SN001", ReportID: "R00000001"}}, calls[0].refs)
	assert.Equal(t, []model.FileStatus{model.StatusError}, calls[0].statuses)
	assert.Equal(t, model.StatusError, m.Items()[0].Status)
}

func TestManager_StageTimeoutsReportToServer(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	cfg := testConfig()
	m := newManager(t, api, cfg)
	submit(t, m, 2)

	m.Tick(ctx, t0)
	waitResults(t, m, 2)
	m.Tick(ctx, t0)
	require.Equal(t, []model.FileStatus{model.StatusQueued, model.StatusQueued}, statuses(m))

	processingAt := t0.Add(time.Minute)
	m.ApplyStatus([]model.ReportState{{ReportID: "R00000002", Status: model.StatusProcessing}}, processingAt)
	assert.Equal(t, processingAt, m.Items()[1].ProcessingStart)
	assert.True(t, m.Items()[1].QueuedStart.IsZero())

	m.Tick(ctx, t0.Add(cfg.QueuedTimeout+time.Second))
	assert.Equal(t, []model.FileStatus{model.StatusError, model.StatusProcessing}, statuses(m))

	m.Tick(ctx, processingAt.Add(cfg.ProcessingTimeout+time.Second))
	assert.Equal(t, []model.FileStatus{model.StatusError, model.StatusError}, statuses(m))
	assert.Equal(t, model.FailureErrorLevel, m.Items()[1].ErrorLevel)

	m.Wait()
	var reported []string
	for _, c := range api.statusCalls() {
		assert.Equal(t, []model.FileStatus{model.StatusError}, c.statuses)
		reported = append(reported, c.refs[0].ReportID)
	}
	assert.ElementsMatch(t, []string{"R00000001", "R00000002"}, reported)
}

func TestManager_ValidationFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{outcome: func(int) error { return errors.Validation("received fewer bytes than declared") }}
	m := newManager(t, api, testConfig())
	submit(t, m, 1)

	m.Tick(ctx, t0)
	waitResults(t, m, 1)
	m.Tick(ctx, t0)

	it := m.Items()[0]
	assert.Equal(t, model.StatusError, it.Status)
	assert.Zero(t, it.UploadRetries)
}

func TestManager_AddRejectsBadAndDuplicateFiles(t *testing.T) {
	m := newManager(t, &fakeAPI{}, testConfig())

	added, err := m.Add([]string{exportName(1), "/data/notes.txt", exportName(1), "/data/export_x_SN1_20261001_070000.tar"}, ReportOptions{Hours: 1})
	require.Error(t, err)
	assert.Len(t, added, 1)
	assert.Len(t, m.Items(), 1)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.Contains(t, err.Error(), "notes.txt")
	assert.Contains(t, err.Error(), "already queued")
}

func TestManager_ServerErrorAndCancelAreApplied(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m := newManager(t, api, testConfig())
	submit(t, m, 2)
	m.Tick(ctx, t0)
	waitResults(t, m, 2)
	m.Tick(ctx, t0)

	need := m.ApplyStatus([]model.ReportState{
		{ReportID: "R00000001", Status: model.StatusError, ErrorLevel: 3},
		{ReportID: "R00000002", Status: model.StatusCancelled, ErrorLevel: 5},
		{ReportID: "R00000099", Status: model.StatusComplete},
	}, t0)
	assert.Empty(t, need)
	items := m.Items()
	assert.Equal(t, model.StatusError, items[0].Status)
	assert.Equal(t, 3, items[0].ErrorLevel)
	assert.Equal(t, model.StatusCancelled, items[1].Status)

	// terminal items ignore later polls
	m.ApplyStatus([]model.ReportState{{ReportID: "R00000001", Status: model.StatusProcessing}}, t0)
	assert.Equal(t, model.StatusError, m.Items()[0].Status)
}

func TestManager_Recover(t *testing.T) {
	var saved []localstore.Entry
	m := newManager(t, &fakeAPI{}, testConfig(), WithCheckpoint(func(e []localstore.Entry) { saved = e }))

	n := m.Recover([]Recovered{
		{Serial: "A", ReportID: "R1", Status: model.StatusQueued},
		{Serial: "B", ReportID: "R2", Status: model.StatusProcessing},
		{Serial: "C", ReportID: "R3", Status: model.StatusComplete, URI: "https://blob/r3"},
		{Serial: "D", ReportID: "R4", Status: model.StatusComplete},
		{Serial: "E", ReportID: "R5", Status: model.StatusError, ErrorLevel: 5},
		{Serial: "F", ReportID: "R1", Status: model.StatusQueued},
	}, t0)
	assert.Equal(t, 5, n)

	items := m.Items()
	assert.Equal(t, []model.FileStatus{
		model.StatusQueued, model.StatusProcessing, model.StatusComplete, model.StatusProcessing, model.StatusError,
	}, statuses(m))
	assert.Equal(t, t0, items[0].QueuedStart)
	assert.Equal(t, t0, items[1].ProcessingStart)
	assert.Len(t, saved, 5)
	assert.Len(t, m.InFlight(), 3)
}

func TestManager_ClearCancelsOutstandingReports(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	cleared := false
	m := newManager(t, api, testConfig(), WithCheckpoint(func(e []localstore.Entry) { cleared = e == nil }))
	m.Recover([]Recovered{
		{Serial: "A", ReportID: "R1", Status: model.StatusQueued},
		{Serial: "B", ReportID: "R2", Status: model.StatusComplete, URI: "u"},
		{Serial: "C", ReportID: "R3", Status: model.StatusProcessing},
	}, t0)

	m.Clear(ctx)
	assert.Empty(t, m.Items())
	assert.True(t, cleared)

	calls := api.statusCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []model.ReportRef{{Serial: "A", ReportID: "R1"}, {Serial: "C", ReportID: "R3"}}, calls[0].refs)
	assert.Equal(t, []model.FileStatus{model.StatusCancelled, model.StatusCancelled}, calls[0].statuses)
}

// Random failures never push more than MaxUploads items into UPLOADING, and
// items that settled never move again.
func TestManager_CapAndFinalityUnderRandomFailures(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	var rngMu sync.Mutex
	api := &fakeAPI{outcome: func(int) error {
		rngMu.Lock()
		defer rngMu.Unlock()
		if rng.IntN(3) == 0 {
			return errors.Network("flaky")
		}
		return nil
	}}
	cfg := testConfig()
	cfg.RetryDelay = time.Second
	m := newManager(t, api, cfg)
	submit(t, m, 12)

	final := map[int]model.FileStatus{}
	now := t0
	for tick := 0; tick < 400; tick++ {
		now = now.Add(250 * time.Millisecond)
		m.Tick(ctx, now)

		uploading := 0
		for _, it := range m.Items() {
			if it.Status == model.StatusUploading {
				uploading++
			}
			if prev, ok := final[it.Key]; ok {
				require.Equal(t, prev, it.Status, "item %d left a final state", it.Key)
			}
			if it.Status == model.StatusError && it.UploadRetries == cfg.MaxUploadAttempts {
				final[it.Key] = it.Status
			}
		}
		require.LessOrEqual(t, uploading, cfg.MaxUploads)

		m.mu.Lock()
		outstanding := m.outstanding
		m.mu.Unlock()
		if outstanding > 0 {
			waitResults(t, m, 1)
		}
	}
	for _, it := range m.Items() {
		assert.Contains(t, []model.FileStatus{model.StatusQueued, model.StatusError}, it.Status)
	}
}
