package grpc

import (
	"context"
	"io"
	"log/slog"
	"os"

	goi18n "github.com/nicksnyder/go-i18n/i18n"
	"github.com/webitel/report-orchestrator/api/reports"
	"github.com/webitel/report-orchestrator/auth"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/locale"
	"github.com/webitel/report-orchestrator/internal/model"
	"github.com/webitel/report-orchestrator/internal/model/options"
	"github.com/webitel/report-orchestrator/internal/service"
)

// MaxUploadSize bounds a single data file.
const MaxUploadSize = 2 << 30

type ReportHandler struct {
	sessions service.SessionService
	reports  service.ReportService
	batches  service.BatchService
	emails   service.EmailService
	spoolDir string
	T        goi18n.TranslateFunc
	log      *slog.Logger
}

var _ reports.ReportServiceServer = (*ReportHandler)(nil)

func NewReportHandler(sessions service.SessionService, rs service.ReportService, bs service.BatchService, es service.EmailService, spoolDir string, log *slog.Logger) (*ReportHandler, error) {
	if sessions == nil || rs == nil || bs == nil || es == nil {
		return nil, errors.Internal("a service is nil in ReportHandler")
	}
	return &ReportHandler{sessions: sessions, reports: rs, batches: bs, emails: es, spoolDir: spoolDir, T: locale.T(locale.DefaultLanguage), log: log}, nil
}

// rejected reports whether err is a session rejection, which the contract
// returns as authorized=false rather than as an error.
func (h *ReportHandler) rejected(ctx context.Context, err error) bool {
	var authErr errors.AuthError
	if !errors.As(err, &authErr) {
		return false
	}
	authErr.Translate(h.T)
	h.log.InfoContext(ctx, "report_orchestrator.handler.session_rejected",
		slog.String("error_id", authErr.GetId()),
		slog.String("detail", authErr.GetDetailedError()),
		slog.String("address", auth.AddressFromContext(ctx)))
	return true
}

func (h *ReportHandler) GetSession(ctx context.Context, req *reports.GetSessionRequest) (*reports.GetSessionResponse, error) {
	sess, renewed, err := h.sessions.GetOrCreate(ctx, auth.AddressFromContext(ctx), req.SessionID, req.AccessKey)
	if err != nil {
		return nil, err
	}
	return &reports.GetSessionResponse{
		Session: &reports.Session{SessionID: sess.SessionID, AccessKey: sess.AccessKey, ExpireDT: sess.ExpireDT},
		Renewed: renewed,
	}, nil
}

// SingleUpload spools the streamed file to disk, checks its size and hands
// it to the report service.
func (h *ReportHandler) SingleUpload(stream reports.SingleUploadServer) error {
	ctx := stream.Context()
	first, err := stream.Recv()
	if err != nil {
		if err == io.EOF {
			return errors.Validation("upload stream is empty", errors.WithID("handler.upload.empty"))
		}
		return err
	}
	meta := first.Metadata
	if meta == nil {
		return errors.Validation("first upload message must carry metadata", errors.WithID("handler.upload.metadata"))
	}
	if err := meta.Validate(); err != nil {
		return errors.Validation(err.Error(), errors.WithID("handler.upload.metadata"))
	}
	if meta.Size > MaxUploadSize {
		return errors.Validation("file exceeds the upload limit", errors.WithID("handler.upload.too_large"))
	}

	spool, err := os.CreateTemp(h.spoolDir, "upload-*.tar")
	if err != nil {
		return errors.Internal("create upload spool", errors.WithID("handler.upload.spool"), errors.WithCause(err))
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	var received int64
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if chunk.Metadata != nil {
			return errors.Validation("metadata repeated mid-stream", errors.WithID("handler.upload.metadata"))
		}
		received += int64(len(chunk.Data))
		if received > meta.Size {
			return errors.Validation("received more bytes than declared", errors.WithID("handler.upload.size"))
		}
		if _, err := spool.Write(chunk.Data); err != nil {
			return errors.Internal("write upload spool", errors.WithID("handler.upload.spool"), errors.WithCause(err))
		}
	}
	if received != meta.Size {
		return errors.Validation("received fewer bytes than declared", errors.WithID("handler.upload.size"))
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return errors.Internal("rewind upload spool", errors.WithID("handler.upload.spool"), errors.WithCause(err))
	}

	opts := options.NewCreateOptions(ctx, meta.SessionID, meta.AccessKey)
	res, err := h.reports.SingleUpload(opts, &service.UploadRequest{
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
	}, spool)
	if err != nil {
		if h.rejected(ctx, err) {
			return stream.SendAndClose(&reports.SingleUploadResponse{Authorized: false})
		}
		return err
	}
	return stream.SendAndClose(&reports.SingleUploadResponse{
		Authorized: true,
		ReportID:   res.ReportID,
		Status:     res.Status.String(),
	})
}

func (h *ReportHandler) SetStatus(ctx context.Context, req *reports.SetStatusRequest) (*reports.SetStatusResponse, error) {
	refs, err := service.PairRefs(req.Serials, req.ReportIDs)
	if err != nil {
		return nil, err
	}
	statuses := make([]model.FileStatus, len(req.Statuses))
	for i, s := range req.Statuses {
		if statuses[i], err = model.ParseFileStatus(s); err != nil {
			return nil, err
		}
	}
	err = h.reports.SetStatus(options.NewUpdateOptions(ctx, req.SessionID, req.AccessKey), refs, statuses)
	if err != nil {
		if h.rejected(ctx, err) {
			return &reports.SetStatusResponse{}, nil
		}
		return nil, err
	}
	return &reports.SetStatusResponse{Authorized: true, OK: true}, nil
}

func (h *ReportHandler) ReportStatus(ctx context.Context, req *reports.ReportStatusRequest) (*reports.ReportStatusResponse, error) {
	refs, err := service.PairRefs(req.Serials, req.ReportIDs)
	if err != nil {
		return nil, err
	}
	states, err := h.reports.ReportStatus(ctx, refs)
	if err != nil {
		return nil, err
	}
	out := &reports.ReportStatusResponse{Reports: make([]reports.ReportState, len(states))}
	for i, s := range states {
		out.Reports[i] = reports.ReportState{
			ReportID:   s.ReportID,
			Serial:     s.Serial,
			Status:     s.Status.String(),
			ErrorLevel: s.ErrorLevel,
		}
	}
	return out, nil
}

func (h *ReportHandler) RecallReports(ctx context.Context, req *reports.RecallReportsRequest) (*reports.RecallReportsResponse, error) {
	refs, err := service.PairRefs(req.Serials, req.ReportIDs)
	if err != nil {
		return nil, err
	}
	found, err := h.reports.RecallReports(options.NewSearchOptions(ctx, req.SessionID, req.AccessKey), refs)
	if err != nil {
		if h.rejected(ctx, err) {
			return &reports.RecallReportsResponse{}, nil
		}
		return nil, err
	}
	out := &reports.RecallReportsResponse{Authorized: true, Reports: make([]reports.RecalledReport, len(found))}
	for i, r := range found {
		rec := r.Record
		out.Reports[i] = reports.RecalledReport{
			ReportID:   rec.ReportID,
			Serial:     rec.Serial,
			Status:     rec.Status.String(),
			ErrorLevel: rec.ErrorLevel,
			SourceName: rec.SourceName,
			FileName:   rec.FileName,
			Start:      rec.Start,
			End:        rec.End,
			Hours:      rec.Hours,
			Label:      rec.Label,
			URI:        r.URI,
		}
	}
	return out, nil
}

func (h *ReportHandler) BatchRequest(ctx context.Context, req *reports.BatchRequestRequest) (*reports.BatchRequestResponse, error) {
	refs, err := service.PairRefs(req.Serials, req.ReportIDs)
	if err != nil {
		return nil, err
	}
	batchID, err := h.batches.BatchRequest(options.NewCreateOptions(ctx, req.SessionID, req.AccessKey), refs, req.RequestTime)
	if err != nil {
		if h.rejected(ctx, err) {
			return &reports.BatchRequestResponse{}, nil
		}
		return nil, err
	}
	return &reports.BatchRequestResponse{Authorized: true, BatchID: batchID}, nil
}

func (h *ReportHandler) BatchDownload(ctx context.Context, req *reports.BatchDownloadRequest) (*reports.BatchDownloadResponse, error) {
	state, err := h.batches.BatchDownload(options.NewSearchOptions(ctx, req.SessionID, req.AccessKey), req.BatchID)
	if err != nil {
		if h.rejected(ctx, err) {
			return &reports.BatchDownloadResponse{}, nil
		}
		return nil, err
	}
	return &reports.BatchDownloadResponse{
		Authorized: true,
		Status:     state.Status.String(),
		Progress:   state.Progress,
		URI:        state.URI,
		Message:    state.Message,
	}, nil
}

func (h *ReportHandler) ReportDownload(ctx context.Context, req *reports.ReportDownloadRequest) (*reports.ReportDownloadResponse, error) {
	ref := model.ReportRef{Serial: req.Serial, ReportID: req.ReportID}
	uri, err := h.reports.ReportDownload(options.NewSearchOptions(ctx, req.SessionID, req.AccessKey), ref)
	if err != nil {
		if h.rejected(ctx, err) {
			return &reports.ReportDownloadResponse{}, nil
		}
		return nil, err
	}
	return &reports.ReportDownloadResponse{Authorized: true, URI: uri}, nil
}

func (h *ReportHandler) SendEmail(ctx context.Context, req *reports.SendEmailRequest) (*reports.SendEmailResponse, error) {
	ids, err := h.emails.SendEmail(options.NewCreateOptions(ctx, req.SessionID, req.AccessKey), &service.EmailRequest{
		RecordID: req.RecordID,
		From:     req.From,
		Subject:  req.Subject,
		To:       req.To,
		Link:     req.Link,
		FileName: req.FileName,
		SendDate: req.SendDate,
		Multiple: req.Multiple,
		Serial:   req.Serial,
	})
	if err != nil {
		if h.rejected(ctx, err) {
			return &reports.SendEmailResponse{}, nil
		}
		switch errors.KindOf(err) {
		case errors.KindNotReady, errors.KindNetwork, errors.KindNotFound:
			h.log.WarnContext(ctx, "report_orchestrator.handler.email_not_sent",
				slog.String("record_id", req.RecordID),
				slog.String("error", err.Error()))
			return &reports.SendEmailResponse{Authorized: true}, nil
		}
		return nil, err
	}
	return &reports.SendEmailResponse{Authorized: true, MessageIDs: ids}, nil
}
