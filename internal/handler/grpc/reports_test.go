package grpc

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/report-orchestrator/api/reports"
	"github.com/webitel/report-orchestrator/auth"
	"github.com/webitel/report-orchestrator/internal/locale"
	"github.com/webitel/report-orchestrator/internal/mail"
	"github.com/webitel/report-orchestrator/internal/queue/redis"
	"github.com/webitel/report-orchestrator/internal/server/interceptor"
	"github.com/webitel/report-orchestrator/internal/service"
	"github.com/webitel/report-orchestrator/internal/storage"
	"github.com/webitel/report-orchestrator/internal/store"
	"github.com/webitel/report-orchestrator/internal/store/memory"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBlob) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	buf, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = buf
	return nil
}

func (b *memBlob) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (b *memBlob) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *memBlob) SignGet(_ context.Context, key string, _ storage.SignOptions) (string, error) {
	return "https://blob.test/" + key, nil
}

type harness struct {
	client  reports.ReportServiceClient
	reports *service.ReportServiceImpl
	blob    *memBlob
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.Default()
	mr := miniredis.RunT(t)
	q, err := redis.NewRedisQueue(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	st := store.New(memory.New())
	ids, err := service.NewIDAllocator(st.Generators(), log)
	require.NoError(t, err)
	require.NoError(t, ids.Seed(context.Background()))
	sessions, err := service.NewSessionService(st.Sessions(), ids, time.Hour, log)
	require.NoError(t, err)

	blob := &memBlob{objects: map[string][]byte{}}
	links := service.NewLinkIssuer(blob, 3, time.Millisecond, log)
	ttl := service.LinkTTLs{Report: 12 * time.Hour, Batch: 336 * time.Hour}
	rs, err := service.NewReportService(st, q, blob, links, sessions, ids, ttl, log)
	require.NoError(t, err)
	bs, err := service.NewBatchService(st, q, links, sessions, ids, ttl.Batch, log)
	require.NoError(t, err)
	es, err := service.NewEmailService(st, links, sessions, mail.Disabled{}, ttl, locale.T(locale.DefaultLanguage), log)
	require.NoError(t, err)
	h, err := NewReportHandler(sessions, rs, bs, es, t.TempDir(), log)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpclib.NewServer(
		grpclib.ChainUnaryInterceptor(
			interceptor.OuterInterceptor(),
			interceptor.AddressUnaryServerInterceptor(),
			interceptor.ValidateUnaryServerInterceptor(),
		),
		grpclib.ChainStreamInterceptor(
			interceptor.OuterStreamInterceptor(),
			interceptor.AddressStreamServerInterceptor(),
		),
	)
	reports.RegisterReportServiceServer(srv, h)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpclib.NewClient("passthrough:///bufnet",
		grpclib.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpclib.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{client: reports.NewReportServiceClient(conn), reports: rs, blob: blob}
}

func callerCtx() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), auth.RealIPHeader, "198.51.100.4")
}

func (h *harness) session(t *testing.T) *reports.Session {
	t.Helper()
	resp, err := h.client.GetSession(callerCtx(), &reports.GetSessionRequest{})
	require.NoError(t, err)
	require.NotNil(t, resp.Session)
	return resp.Session
}

func (h *harness) upload(t *testing.T, sess *reports.Session, body []byte, declared int64) (*reports.SingleUploadResponse, error) {
	t.Helper()
	stream, err := h.client.SingleUpload(callerCtx())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&reports.UploadChunk{Metadata: &reports.UploadMetadata{
		SessionID:  sess.SessionID,
		AccessKey:  sess.AccessKey,
		Serial:     "ABC123",
		FileName:   "export_7_ABC123_20261013_173000.tar",
		Hours:      24,
		Size:       declared,
		ExportDate: time.Date(2026, 10, 13, 17, 30, 0, 0, time.UTC),
	}}))
	for len(body) > 0 {
		n := min(len(body), 4)
		if err := stream.Send(&reports.UploadChunk{Data: body[:n]}); err != nil {
			break
		}
		body = body[n:]
	}
	return stream.CloseAndRecv()
}

func TestGetSessionRenewsFromSameAddress(t *testing.T) {
	h := newHarness(t)
	first := h.session(t)

	again, err := h.client.GetSession(callerCtx(), &reports.GetSessionRequest{SessionID: first.SessionID, AccessKey: first.AccessKey})
	require.NoError(t, err)
	assert.True(t, again.Renewed)
	assert.Equal(t, first.SessionID, again.Session.SessionID)

	other := metadata.AppendToOutgoingContext(context.Background(), auth.RealIPHeader, "198.51.100.99")
	moved, err := h.client.GetSession(other, &reports.GetSessionRequest{SessionID: first.SessionID, AccessKey: first.AccessKey})
	require.NoError(t, err)
	assert.False(t, moved.Renewed)
	assert.NotEqual(t, first.AccessKey, moved.Session.AccessKey)
}

func TestUploadStatusAndCancel(t *testing.T) {
	h := newHarness(t)
	sess := h.session(t)
	body := []byte("0123456789abcdef")

	res, err := h.upload(t, sess, body, int64(len(body)))
	require.NoError(t, err)
	assert.True(t, res.Authorized)
	assert.Equal(t, "QUEUED", res.Status)

	st, err := h.client.ReportStatus(callerCtx(), &reports.ReportStatusRequest{Serials: []string{"ABC123"}, ReportIDs: []string{res.ReportID}})
	require.NoError(t, err)
	require.Len(t, st.Reports, 1)
	assert.Equal(t, "QUEUED", st.Reports[0].Status)

	set, err := h.client.SetStatus(callerCtx(), &reports.SetStatusRequest{
		SessionID: sess.SessionID, AccessKey: sess.AccessKey,
		Serials: []string{"ABC123"}, ReportIDs: []string{res.ReportID}, Statuses: []string{"CANCELLED"},
	})
	require.NoError(t, err)
	assert.True(t, set.OK)

	st, err = h.client.ReportStatus(callerCtx(), &reports.ReportStatusRequest{Serials: []string{"ABC123"}, ReportIDs: []string{res.ReportID}})
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", st.Reports[0].Status)
	assert.Equal(t, 5, st.Reports[0].ErrorLevel)
}

func TestUploadSizeMismatch(t *testing.T) {
	h := newHarness(t)
	sess := h.session(t)

	_, err := h.upload(t, sess, []byte("short"), 100)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestUploadWithStaleSessionIsUnauthorized(t *testing.T) {
	h := newHarness(t)
	sess := h.session(t)
	sess.AccessKey = "deadbeef"

	res, err := h.upload(t, sess, []byte("abc"), 3)
	require.NoError(t, err)
	assert.False(t, res.Authorized)
	assert.Empty(t, res.ReportID)
}

func TestMalformedRequestIsInvalidArgument(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.ReportStatus(callerCtx(), &reports.ReportStatusRequest{Serials: []string{"A"}, ReportIDs: nil})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	sess := h.session(t)
	_, err = h.client.SetStatus(callerCtx(), &reports.SetStatusRequest{
		SessionID: sess.SessionID, AccessKey: sess.AccessKey,
		Serials: []string{"A"}, ReportIDs: []string{"R1"}, Statuses: []string{"DONE"},
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestReportDownloadAfterCompletion(t *testing.T) {
	h := newHarness(t)
	sess := h.session(t)
	res, err := h.upload(t, sess, []byte("abc"), 3)
	require.NoError(t, err)

	req := &reports.ReportDownloadRequest{SessionID: sess.SessionID, AccessKey: sess.AccessKey, Serial: "ABC123", ReportID: res.ReportID}
	dl, err := h.client.ReportDownload(callerCtx(), req)
	require.NoError(t, err)
	assert.True(t, dl.Authorized)
	assert.Empty(t, dl.URI)

	ctx := context.Background()
	key := storage.ReportKey("ABC123", res.ReportID)
	require.NoError(t, h.blob.Put(ctx, key, bytes.NewBufferString("%PDF"), 4, "application/pdf"))
	require.NoError(t, h.reports.CompleteReport(ctx, "ABC123", res.ReportID, key, res.ReportID+".pdf"))

	dl, err = h.client.ReportDownload(callerCtx(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://blob.test/"+key, dl.URI)

	// another session sees no link and stays authorized
	other := h.session(t)
	dl, err = h.client.ReportDownload(callerCtx(), &reports.ReportDownloadRequest{
		SessionID: other.SessionID, AccessKey: other.AccessKey, Serial: "ABC123", ReportID: res.ReportID,
	})
	require.NoError(t, err)
	assert.True(t, dl.Authorized)
	assert.Empty(t, dl.URI)
}

func TestBatchRoundTrip(t *testing.T) {
	h := newHarness(t)
	sess := h.session(t)
	res, err := h.upload(t, sess, []byte("abc"), 3)
	require.NoError(t, err)

	br, err := h.client.BatchRequest(callerCtx(), &reports.BatchRequestRequest{
		SessionID: sess.SessionID, AccessKey: sess.AccessKey,
		Serials: []string{"ABC123"}, ReportIDs: []string{res.ReportID}, RequestTime: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, br.Authorized)
	assert.Equal(t, "B00000001", br.BatchID)

	bd, err := h.client.BatchDownload(callerCtx(), &reports.BatchDownloadRequest{SessionID: sess.SessionID, AccessKey: sess.AccessKey, BatchID: br.BatchID})
	require.NoError(t, err)
	assert.Equal(t, "QUEUED", bd.Status)
	assert.Empty(t, bd.URI)
}
