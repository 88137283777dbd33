package client

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mbobakov/grpc-consul-resolver" // consul:// targets

	"github.com/webitel/report-orchestrator/api/reports"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/model"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ChunkSize is the payload size of one upload stream message.
const ChunkSize = 64 << 10

type Session struct {
	SessionID string
	AccessKey string
	ExpireDT  time.Time
}

func (s Session) Empty() bool { return s.SessionID == "" || s.AccessKey == "" }

func (s Session) same(o Session) bool { return s.SessionID == o.SessionID && s.AccessKey == o.AccessKey }

// UploadMeta describes one data file sent through Upload.
type UploadMeta struct {
	Serial     string
	FileName   string
	Sections   []string
	Start      time.Time
	End        time.Time
	Hours      int
	Size       int64
	ExportDate time.Time
	UploadDate time.Time
	Label      string
}

type UploadResult struct {
	ReportID string
	Status   model.FileStatus
}

// EmailRequest names a finished report or batch. Link is informational; the
// server signs a fresh one.
type EmailRequest struct {
	RecordID string
	From     string
	Subject  string
	To       []string
	Link     string
	FileName string
	Multiple bool
	Serial   string
}

// Client calls the orchestrator on behalf of one session. A call rejected as
// unauthorized renews the session once and is retried with the new pair.
type Client struct {
	api  reports.ReportServiceClient
	conn *grpc.ClientConn
	now  func() time.Time
	log  *slog.Logger

	// renewals collapses concurrent exchanges of the same held pair.
	renewals singleflight.Group

	mu        sync.Mutex
	session   Session
	onSession func(Session)
}

type Option func(*Client)

// WithSession seeds the client with previously stored credentials.
func WithSession(s Session) Option { return func(c *Client) { c.session = s } }

// OnSession is called whenever the server hands out a different session.
func OnSession(fn func(Session)) Option { return func(c *Client) { c.onSession = fn } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// Dial connects to target, which is host:port or consul://<agent>/<service>.
func Dial(target string, log *slog.Logger, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultServiceConfig(`{"loadBalancingPolicy": "round_robin"}`),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, errors.New("unable to create orchestrator client", errors.WithCause(err), errors.WithID("client.dial"))
	}
	c := New(reports.NewReportServiceClient(conn), log, opts...)
	c.conn = conn
	return c, nil
}

func New(api reports.ReportServiceClient, log *slog.Logger, opts ...Option) *Client {
	c := &Client{api: api, now: time.Now, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// EnsureSession presents the stored pair to the server and adopts whatever
// session comes back. A missing session in the reply is an AuthError.
func (c *Client) EnsureSession(ctx context.Context) (Session, error) {
	return c.exchange(ctx, c.Session())
}

// exchange presents held once for all concurrent callers holding it. A caller
// that arrives after the pair was already replaced adopts the replacement.
func (c *Client) exchange(ctx context.Context, held Session) (Session, error) {
	v, err, _ := c.renewals.Do(held.SessionID+"/"+held.AccessKey, func() (any, error) {
		if cur := c.Session(); !cur.Empty() && !cur.same(held) {
			return cur, nil
		}
		return c.getSession(ctx, held)
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (c *Client) getSession(ctx context.Context, held Session) (Session, error) {
	resp, err := c.api.GetSession(ctx, &reports.GetSessionRequest{SessionID: held.SessionID, AccessKey: held.AccessKey})
	if err != nil {
		return Session{}, classify("get_session", err)
	}
	if resp.Session == nil {
		c.setSession(Session{})
		return Session{}, errors.Auth("server issued no session", errors.WithID("client.get_session.empty"))
	}
	s := Session{SessionID: resp.Session.SessionID, AccessKey: resp.Session.AccessKey, ExpireDT: resp.Session.ExpireDT}
	if !resp.Renewed {
		c.log.InfoContext(ctx, "report_orchestrator.client.session_issued", slog.String("session_id", s.SessionID))
	}
	c.setSession(s)
	return s, nil
}

// KeepAlive renews the session every interval until ctx is done. The server
// only extends a session when it is presented for renewal.
func (c *Client) KeepAlive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.EnsureSession(ctx); err != nil && ctx.Err() == nil {
				c.log.WarnContext(ctx, "report_orchestrator.client.keepalive_failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Client) setSession(s Session) {
	c.mu.Lock()
	changed := c.session.SessionID != s.SessionID || c.session.AccessKey != s.AccessKey
	c.session = s
	hook := c.onSession
	c.mu.Unlock()
	if changed && hook != nil {
		hook(s)
	}
}

// authorized runs call with the current session, renewing it once when the
// server answers authorized=false.
func (c *Client) authorized(ctx context.Context, op string, call func(Session) (bool, error)) error {
	s := c.Session()
	if s.Empty() {
		var err error
		if s, err = c.exchange(ctx, s); err != nil {
			return err
		}
	}
	ok, err := call(s)
	if err != nil {
		return classify(op, err)
	}
	if ok {
		return nil
	}

	c.log.InfoContext(ctx, "report_orchestrator.client.session_renew", slog.String("operation", op))
	if s, err = c.exchange(ctx, s); err != nil {
		return err
	}
	if ok, err = call(s); err != nil {
		return classify(op, err)
	}
	if !ok {
		return errors.Auth("session rejected after renewal", errors.WithID("client."+op+".unauthorized"))
	}
	return nil
}

// Upload streams body as one data file. progress, when set, receives the
// running byte count. body is rewound before a renewed attempt.
func (c *Client) Upload(ctx context.Context, meta UploadMeta, body io.ReadSeeker, progress func(sent int64)) (*UploadResult, error) {
	var out *UploadResult
	err := c.authorized(ctx, "upload", func(s Session) (bool, error) {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return false, errors.Internal("rewind upload body", errors.WithCause(err), errors.WithID("client.upload.rewind"))
		}
		resp, err := c.stream(ctx, s, meta, body, progress)
		if err != nil {
			return false, err
		}
		if !resp.Authorized {
			return false, nil
		}
		st, err := model.ParseFileStatus(resp.Status)
		if err != nil {
			return false, err
		}
		out = &UploadResult{ReportID: resp.ReportID, Status: st}
		return true, nil
	})
	return out, err
}

func (c *Client) stream(ctx context.Context, s Session, meta UploadMeta, body io.Reader, progress func(int64)) (*reports.SingleUploadResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.api.SingleUpload(ctx)
	if err != nil {
		return nil, err
	}
	err = stream.Send(&reports.UploadChunk{Metadata: &reports.UploadMetadata{
		SessionID:  s.SessionID,
		AccessKey:  s.AccessKey,
		Serial:     meta.Serial,
		FileName:   meta.FileName,
		Sections:   meta.Sections,
		Start:      meta.Start,
		End:        meta.End,
		Hours:      meta.Hours,
		Size:       meta.Size,
		ExportDate: meta.ExportDate,
		UploadDate: meta.UploadDate,
		Label:      meta.Label,
	}})
	if err != nil {
		return nil, err
	}

	buf := make([]byte, ChunkSize)
	var sent int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if err := stream.Send(&reports.UploadChunk{Data: buf[:n]}); err != nil {
				// the real cause is only visible on CloseAndRecv
				if err == io.EOF {
					break
				}
				return nil, err
			}
			sent += int64(n)
			if progress != nil {
				progress(sent)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, errors.Internal("read upload body", errors.WithCause(rerr), errors.WithID("client.upload.read"))
		}
	}
	return stream.CloseAndRecv()
}

func (c *Client) SetStatus(ctx context.Context, refs []model.ReportRef, statuses []model.FileStatus) error {
	serials, ids := splitRefs(refs)
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = st.String()
	}
	return c.authorized(ctx, "set_status", func(s Session) (bool, error) {
		resp, err := c.api.SetStatus(ctx, &reports.SetStatusRequest{
			SessionID: s.SessionID, AccessKey: s.AccessKey,
			Serials: serials, ReportIDs: ids, Statuses: names,
		})
		if err != nil {
			return false, err
		}
		return resp.Authorized, nil
	})
}

// ReportStatus needs no session.
func (c *Client) ReportStatus(ctx context.Context, refs []model.ReportRef) ([]model.ReportState, error) {
	serials, ids := splitRefs(refs)
	resp, err := c.api.ReportStatus(ctx, &reports.ReportStatusRequest{Serials: serials, ReportIDs: ids})
	if err != nil {
		return nil, classify("report_status", err)
	}
	out := make([]model.ReportState, 0, len(resp.Reports))
	for _, r := range resp.Reports {
		st, err := model.ParseFileStatus(r.Status)
		if err != nil {
			c.log.WarnContext(ctx, "report_orchestrator.client.bad_status",
				slog.String("report_id", r.ReportID), slog.String("status", r.Status))
			continue
		}
		out = append(out, model.ReportState{ReportID: r.ReportID, Serial: r.Serial, Status: st, ErrorLevel: r.ErrorLevel})
	}
	return out, nil
}

func (c *Client) RecallReports(ctx context.Context, refs []model.ReportRef) ([]reports.RecalledReport, error) {
	serials, ids := splitRefs(refs)
	var out []reports.RecalledReport
	err := c.authorized(ctx, "recall_reports", func(s Session) (bool, error) {
		resp, err := c.api.RecallReports(ctx, &reports.RecallReportsRequest{
			SessionID: s.SessionID, AccessKey: s.AccessKey, Serials: serials, ReportIDs: ids,
		})
		if err != nil {
			return false, err
		}
		out = resp.Reports
		return resp.Authorized, nil
	})
	return out, err
}

// ReportDownload returns "" while the link cannot be issued yet.
func (c *Client) ReportDownload(ctx context.Context, ref model.ReportRef) (string, error) {
	var uri string
	err := c.authorized(ctx, "report_download", func(s Session) (bool, error) {
		resp, err := c.api.ReportDownload(ctx, &reports.ReportDownloadRequest{
			SessionID: s.SessionID, AccessKey: s.AccessKey, Serial: ref.Serial, ReportID: ref.ReportID,
		})
		if err != nil {
			return false, err
		}
		uri = resp.URI
		return resp.Authorized, nil
	})
	return uri, err
}

func (c *Client) BatchRequest(ctx context.Context, refs []model.ReportRef) (string, error) {
	serials, ids := splitRefs(refs)
	var batchID string
	err := c.authorized(ctx, "batch_request", func(s Session) (bool, error) {
		resp, err := c.api.BatchRequest(ctx, &reports.BatchRequestRequest{
			SessionID: s.SessionID, AccessKey: s.AccessKey,
			Serials: serials, ReportIDs: ids, RequestTime: c.now().UTC(),
		})
		if err != nil {
			return false, err
		}
		batchID = resp.BatchID
		return resp.Authorized, nil
	})
	return batchID, err
}

func (c *Client) BatchDownload(ctx context.Context, batchID string) (*model.BatchState, error) {
	var state *model.BatchState
	err := c.authorized(ctx, "batch_download", func(s Session) (bool, error) {
		resp, err := c.api.BatchDownload(ctx, &reports.BatchDownloadRequest{
			SessionID: s.SessionID, AccessKey: s.AccessKey, BatchID: batchID,
		})
		if err != nil {
			return false, err
		}
		if !resp.Authorized {
			return false, nil
		}
		st, err := model.ParseFileStatus(resp.Status)
		if err != nil {
			return false, err
		}
		state = &model.BatchState{BatchID: batchID, Status: st, Progress: resp.Progress, URI: resp.URI, Message: resp.Message}
		return true, nil
	})
	return state, err
}

// SendEmail returns nil ids when the server sent nothing.
func (c *Client) SendEmail(ctx context.Context, req EmailRequest) ([]string, error) {
	var ids []string
	err := c.authorized(ctx, "send_email", func(s Session) (bool, error) {
		resp, err := c.api.SendEmail(ctx, &reports.SendEmailRequest{
			SessionID: s.SessionID, AccessKey: s.AccessKey,
			RecordID: req.RecordID, From: req.From, Subject: req.Subject, To: req.To,
			Link: req.Link, FileName: req.FileName, SendDate: c.now().UTC(), Multiple: req.Multiple, Serial: req.Serial,
		})
		if err != nil {
			return false, err
		}
		ids = resp.MessageIDs
		return resp.Authorized, nil
	})
	return ids, err
}

func splitRefs(refs []model.ReportRef) (serials, ids []string) {
	serials = make([]string, len(refs))
	ids = make([]string, len(refs))
	for i, r := range refs {
		serials[i] = r.Serial
		ids[i] = r.ReportID
	}
	return serials, ids
}
