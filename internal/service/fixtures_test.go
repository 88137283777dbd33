package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/report-orchestrator/auth"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/locale"
	"github.com/webitel/report-orchestrator/internal/mail"
	"github.com/webitel/report-orchestrator/internal/model"
	"github.com/webitel/report-orchestrator/internal/model/options"
	"github.com/webitel/report-orchestrator/internal/queue"
	"github.com/webitel/report-orchestrator/internal/storage"
	"github.com/webitel/report-orchestrator/internal/store"
)

// fakeBlob keeps objects in memory. An object becomes visible to Exists only
// after hiddenFor calls for its key.
type fakeBlob struct {
	mu        sync.Mutex
	objects   map[string][]byte
	hiddenFor int
	exists    map[string]int
	existsErr error
	signed    []storage.SignOptions
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}, exists: map[string]int{}}
}

func (b *fakeBlob) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	buf, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = buf
	return nil
}

func (b *fakeBlob) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (b *fakeBlob) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.existsErr != nil {
		return false, b.existsErr
	}
	b.exists[key]++
	if b.exists[key] <= b.hiddenFor {
		return false, nil
	}
	_, ok := b.objects[key]
	return ok, nil
}

func (b *fakeBlob) SignGet(_ context.Context, key string, opts storage.SignOptions) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signed = append(b.signed, opts)
	return "https://blob.test/" + key + "?ttl=" + opts.TTL.String(), nil
}

func (b *fakeBlob) put(key, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = []byte(body)
}

type fakeQueue struct {
	mu      sync.Mutex
	reports []model.ReportTask
	batches []model.BatchTask
	uploads map[string]string
	pushErr error
}

var _ queue.Queue = (*fakeQueue)(nil)

func newFakeQueue() *fakeQueue { return &fakeQueue{uploads: map[string]string{}} }

func (q *fakeQueue) PushReportTask(_ context.Context, task model.ReportTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return q.pushErr
	}
	q.reports = append(q.reports, task)
	return nil
}

func (q *fakeQueue) PopReportTask(context.Context, time.Duration) (*model.ReportTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.reports) == 0 {
		return nil, queue.ErrEmpty
	}
	t := q.reports[0]
	q.reports = q.reports[1:]
	return &t, nil
}

func (q *fakeQueue) PushBatchTask(_ context.Context, task model.BatchTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return q.pushErr
	}
	q.batches = append(q.batches, task)
	return nil
}

func (q *fakeQueue) PopBatchTask(context.Context, time.Duration) (*model.BatchTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.batches) == 0 {
		return nil, queue.ErrEmpty
	}
	t := q.batches[0]
	q.batches = q.batches[1:]
	return &t, nil
}

func (q *fakeQueue) RememberUpload(_ context.Context, key, value string, _ time.Duration) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if v, ok := q.uploads[key]; ok {
		return v, false, nil
	}
	q.uploads[key] = value
	return value, true, nil
}

func (q *fakeQueue) ForgetUpload(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.uploads, key)
	return nil
}

func (q *fakeQueue) Close() error { return nil }

type fakeSender struct {
	mu   sync.Mutex
	sent []*mail.Message
	fail map[string]bool
}

func (s *fakeSender) Send(_ context.Context, msg *mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[msg.To] {
		return errors.Network("relay refused", errors.WithID("test.smtp"))
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fixture struct {
	st       store.Store
	blob     *fakeBlob
	queue    *fakeQueue
	sender   *fakeSender
	clock    *testClock
	sessions *SessionServiceImpl
	reports  *ReportServiceImpl
	batches  *BatchServiceImpl
	emails   *EmailServiceImpl
	caller   auth.Credentials
}

var testTTLs = LinkTTLs{Report: 12 * time.Hour, Batch: 14 * 24 * time.Hour}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sessions, clock, st := newTestSessions(t)
	f := &fixture{
		st:       st,
		blob:     newFakeBlob(),
		queue:    newFakeQueue(),
		sender:   &fakeSender{fail: map[string]bool{}},
		clock:    clock,
		sessions: sessions,
	}
	links := NewLinkIssuer(f.blob, 3, time.Millisecond, slog.Default())

	var err error
	f.reports, err = NewReportService(st, f.queue, f.blob, links, sessions, sessions.ids, testTTLs, slog.Default())
	require.NoError(t, err)
	f.reports.now = clock.now
	f.batches, err = NewBatchService(st, f.queue, links, sessions, sessions.ids, testTTLs.Batch, slog.Default())
	require.NoError(t, err)
	f.emails, err = NewEmailService(st, links, sessions, f.sender, testTTLs, locale.T(locale.DefaultLanguage), slog.Default())
	require.NoError(t, err)

	sess, _, err := sessions.GetOrCreate(context.Background(), "10.0.0.1", "", "")
	require.NoError(t, err)
	f.caller = auth.Credentials{Address: "10.0.0.1", SessionID: sess.SessionID, AccessKey: sess.AccessKey}
	return f
}

func (f *fixture) createOpts() *options.CreateOptions {
	return &options.CreateOptions{Context: context.Background(), Time: f.clock.t, Auth: f.caller}
}

func (f *fixture) searchOpts() *options.SearchOptions {
	return &options.SearchOptions{Context: context.Background(), Time: f.clock.t, Auth: f.caller}
}

func (f *fixture) updateOpts() *options.UpdateOptions {
	return &options.UpdateOptions{Context: context.Background(), Time: f.clock.t, Auth: f.caller}
}

func (f *fixture) stranger(t *testing.T) auth.Credentials {
	t.Helper()
	sess, _, err := f.sessions.GetOrCreate(context.Background(), "10.0.0.2", "", "")
	require.NoError(t, err)
	return auth.Credentials{Address: "10.0.0.2", SessionID: sess.SessionID, AccessKey: sess.AccessKey}
}

func testUpload(serial, name string, size int) *UploadRequest {
	return &UploadRequest{
		Serial:     serial,
		FileName:   name,
		Sections:   []string{"summary"},
		Start:      time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC),
		Hours:      24,
		Size:       int64(size),
		ExportDate: time.Date(2026, 10, 13, 17, 30, 0, 0, time.UTC),
	}
}

// upload stores a report for the fixture caller and returns its ref.
func (f *fixture) upload(t *testing.T, serial, name string) model.ReportRef {
	t.Helper()
	body := "tar-bytes-" + name
	res, err := f.reports.SingleUpload(f.createOpts(), testUpload(serial, name, len(body)), bytes.NewBufferString(body))
	require.NoError(t, err)
	return model.ReportRef{Serial: serial, ReportID: res.ReportID}
}

// complete drives a report through the worker path with a stored PDF.
func (f *fixture) complete(t *testing.T, ref model.ReportRef) string {
	t.Helper()
	ctx := context.Background()
	key := storage.ReportKey(ref.Serial, ref.ReportID)
	f.blob.put(key, "%PDF")
	require.NoError(t, f.reports.MarkProcessing(ctx, ref.Serial, ref.ReportID))
	require.NoError(t, f.reports.CompleteReport(ctx, ref.Serial, ref.ReportID, key, ref.ReportID+".pdf"))
	return key
}
