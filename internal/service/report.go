package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/report-orchestrator/auth"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/model"
	"github.com/webitel/report-orchestrator/internal/model/options"
	"github.com/webitel/report-orchestrator/internal/queue"
	"github.com/webitel/report-orchestrator/internal/storage"
	"github.com/webitel/report-orchestrator/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	maxTransitionAttempts = 5
	recallConcurrency     = 4
	uploadMemoryTTL       = 24 * time.Hour
	dataContentType       = "application/x-tar"
)

type UploadRequest struct {
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

// RecalledReport is a record returned to its owning session, with a fresh
// link when the report is finished.
type RecalledReport struct {
	Record *model.ReportRecord
	URI    string
}

type ReportService interface {
	SingleUpload(opts *options.CreateOptions, req *UploadRequest, data io.Reader) (*UploadResult, error)
	SetStatus(opts *options.UpdateOptions, refs []model.ReportRef, statuses []model.FileStatus) error
	ReportStatus(ctx context.Context, refs []model.ReportRef) ([]model.ReportState, error)
	RecallReports(opts *options.SearchOptions, refs []model.ReportRef) ([]RecalledReport, error)
	ReportDownload(opts *options.SearchOptions, ref model.ReportRef) (string, error)

	MarkProcessing(ctx context.Context, serial, reportID string) error
	CompleteReport(ctx context.Context, serial, reportID, filePath, fileName string) error
	FailReport(ctx context.Context, serial, reportID string) error
}

// LinkTTLs bound capability links per record kind.
type LinkTTLs struct {
	Report time.Duration
	Batch  time.Duration
}

type ReportServiceImpl struct {
	store    store.Store
	queue    queue.Queue
	blob     storage.Blob
	links    *LinkIssuer
	sessions auth.Manager
	ids      *IDAllocator
	ttl      LinkTTLs
	now      func() time.Time
	log      *slog.Logger
}

func NewReportService(st store.Store, q queue.Queue, blob storage.Blob, links *LinkIssuer, sessions auth.Manager, ids *IDAllocator, ttl LinkTTLs, log *slog.Logger) (*ReportServiceImpl, error) {
	if st == nil || q == nil || blob == nil || links == nil || sessions == nil || ids == nil {
		return nil, errors.Internal("dependency is nil in ReportService")
	}
	return &ReportServiceImpl{
		store: st, queue: q, blob: blob, links: links, sessions: sessions, ids: ids,
		ttl: ttl, now: time.Now, log: log,
	}, nil
}

// PairRefs zips parallel serial and id lists. Both must be non-empty, of equal
// length and free of blanks.
func PairRefs(serials, reportIDs []string) ([]model.ReportRef, error) {
	if len(serials) == 0 || len(serials) != len(reportIDs) {
		return nil, errors.Validation("serial and report id lists must be non-empty and of equal length",
			errors.WithID("service.refs.length"))
	}
	refs := make([]model.ReportRef, len(serials))
	for i := range serials {
		if serials[i] == "" || reportIDs[i] == "" {
			return nil, errors.Validation(fmt.Sprintf("blank serial or report id at position %d", i),
				errors.WithID("service.refs.blank"))
		}
		refs[i] = model.ReportRef{Serial: serials[i], ReportID: reportIDs[i]}
	}
	return refs, nil
}

func (r *UploadRequest) validate() error {
	switch {
	case r.Serial == "":
		return errors.Validation("serial is required", errors.WithID("service.upload.serial"))
	case r.FileName == "":
		return errors.Validation("file name is required", errors.WithID("service.upload.file_name"))
	case r.Size <= 0:
		return errors.Validation("size must be positive", errors.WithID("service.upload.size"))
	case r.Hours <= 0:
		return errors.Validation("hours must be positive", errors.WithID("service.upload.hours"))
	case r.ExportDate.IsZero():
		return errors.Validation("export date is required", errors.WithID("service.upload.export_date"))
	case !r.End.IsZero() && r.End.Before(r.Start):
		return errors.Validation("report end precedes start", errors.WithID("service.upload.range"))
	}
	return nil
}

// uploadMemoryKey identifies one upload of a data file with one set of report
// parameters. The same file uploaded with other parameters is a new report.
func uploadMemoryKey(sessionID string, req *UploadRequest) string {
	return fmt.Sprintf("%s:%s:%s:%d:%d:%q:%d:%d:%q", sessionID, req.Serial, req.FileName, req.Size,
		req.Hours, strings.Join(req.Sections, ","), unixOrZero(req.Start), unixOrZero(req.End), req.Label)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// SingleUpload stores the data file and queues its report. A repeated upload of
// the same file with the same report parameters within a session returns the
// report already created for it.
func (s *ReportServiceImpl) SingleUpload(opts *options.CreateOptions, req *UploadRequest, data io.Reader) (*UploadResult, error) {
	ctx := opts.Context
	if err := s.sessions.Authorize(ctx, opts.Auth); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	sessionID := opts.Auth.GetSessionID()

	reportID, err := s.ids.Allocate(ctx, ReportID)
	if err != nil {
		return nil, err
	}

	memKey := uploadMemoryKey(sessionID, req)
	existing, stored, err := s.queue.RememberUpload(ctx, memKey, reportID, uploadMemoryTTL)
	if err != nil {
		return nil, err
	}
	if !stored {
		if res := s.previousUpload(ctx, req.Serial, existing); res != nil {
			_, _ = io.Copy(io.Discard, data)
			s.log.InfoContext(ctx, "report_orchestrator.service.upload_deduplicated",
				slog.String("report_id", res.ReportID),
				slog.String("file", req.FileName))
			return res, nil
		}
		if err := s.queue.ForgetUpload(ctx, memKey); err != nil {
			return nil, err
		}
		if _, _, err := s.queue.RememberUpload(ctx, memKey, reportID, uploadMemoryTTL); err != nil {
			return nil, err
		}
	}

	now := opts.Time
	uploadDate := req.UploadDate
	if uploadDate.IsZero() {
		uploadDate = now
	}
	dataPath := storage.DataKey(uploadDate, req.FileName)
	if err := s.blob.Put(ctx, dataPath, data, req.Size, dataContentType); err != nil {
		_ = s.queue.ForgetUpload(ctx, memKey)
		return nil, err
	}

	rec := &model.ReportRecord{
		ReportID:   reportID,
		SessionID:  sessionID,
		Serial:     req.Serial,
		AccountID:  model.DefaultAccountID,
		ReportType: model.DefaultReportType,
		Start:      req.Start,
		End:        req.End,
		Hours:      req.Hours,
		Sections:   req.Sections,
		Label:      req.Label,
		Status:     model.StatusQueued,
		SourceName: req.FileName,
		DataPath:   dataPath,
		ExportDT:   req.ExportDate,
		UploadDT:   uploadDate,
		QueueDT:    now,
	}
	if _, err := s.store.Reports().Insert(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.store.Reports().PutQueue(ctx, &model.ReportQueueEntry{
		ReportID: reportID,
		Serial:   req.Serial,
		Status:   model.StatusQueued,
		StartDT:  now,
		Hours:    req.Hours,
	}); err != nil {
		return nil, err
	}

	task := model.ReportTask{
		TaskID:     uuid.NewString(),
		ReportID:   reportID,
		Serial:     req.Serial,
		SessionID:  sessionID,
		DataPath:   dataPath,
		EnqueuedAt: now,
	}
	if err := s.queue.PushReportTask(ctx, task); err != nil {
		s.log.ErrorContext(ctx, "report_orchestrator.service.publish_report_failed",
			slog.String("report_id", reportID),
			slog.String("error", err.Error()))
		if ferr := s.FailReport(ctx, req.Serial, reportID); ferr != nil {
			return nil, errors.Join(err, ferr)
		}
		return &UploadResult{ReportID: reportID, Status: model.StatusError}, nil
	}

	s.log.InfoContext(ctx, "report_orchestrator.service.report_queued",
		slog.String("report_id", reportID),
		slog.String("serial", req.Serial),
		slog.String("session_id", sessionID))
	return &UploadResult{ReportID: reportID, Status: model.StatusQueued}, nil
}

func (s *ReportServiceImpl) previousUpload(ctx context.Context, serial, reportID string) *UploadResult {
	rec, _, err := s.store.Reports().Get(ctx, serial, reportID)
	if err != nil || rec.Status == model.StatusError || rec.Status == model.StatusCancelled {
		return nil
	}
	return &UploadResult{ReportID: rec.ReportID, Status: rec.Status}
}

// SetStatus applies explicit status overrides. Overrides the state machine
// forbids are skipped, not failed.
func (s *ReportServiceImpl) SetStatus(opts *options.UpdateOptions, refs []model.ReportRef, statuses []model.FileStatus) error {
	ctx := opts.Context
	if err := s.sessions.Authorize(ctx, opts.Auth); err != nil {
		return err
	}
	if len(refs) != len(statuses) {
		return errors.Validation("status list length differs from report list", errors.WithID("service.set_status.length"))
	}
	for i := range refs {
		if !statuses[i].Valid() {
			return errors.Validation(fmt.Sprintf("invalid status %q", statuses[i]), errors.WithID("service.set_status.status"))
		}
	}

	for i, ref := range refs {
		rec, changed, err := s.transition(ctx, ref.Serial, ref.ReportID, statuses[i], nil)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.log.WarnContext(ctx, "report_orchestrator.service.set_status_missing",
					slog.String("report_id", ref.ReportID))
				continue
			}
			return err
		}
		if !changed && rec.Status != statuses[i] {
			s.log.InfoContext(ctx, "report_orchestrator.service.set_status_skipped",
				slog.String("report_id", ref.ReportID),
				slog.String("from", rec.Status.String()),
				slog.String("to", statuses[i].String()))
		}
	}
	return nil
}

// transition moves a report to status `to` under a conditional write, then
// syncs the queue view. changed is false when the record already held `to`
// or the move is not allowed.
func (s *ReportServiceImpl) transition(ctx context.Context, serial, reportID string, to model.FileStatus, mutate func(*model.ReportRecord)) (*model.ReportRecord, bool, error) {
	reports := s.store.Reports()
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		rec, etag, err := reports.Get(ctx, serial, reportID)
		if err != nil {
			return nil, false, err
		}
		if rec.Status == to || !model.CanTransition(rec.Status, to) {
			return rec, false, nil
		}

		rec.Status = to
		if to.ClearsQueue() {
			rec.ErrorLevel = model.FailureErrorLevel
		}
		if mutate != nil {
			mutate(rec)
		}
		if _, err := reports.Replace(ctx, rec, etag); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return nil, false, err
		}

		if err := s.syncQueue(ctx, rec); err != nil {
			// The record is authoritative; a stale queue view is tolerated.
			s.log.WarnContext(ctx, "report_orchestrator.service.queue_sync_failed",
				slog.String("report_id", reportID),
				slog.String("error", err.Error()))
		}
		return rec, true, nil
	}
	return nil, false, errors.Exhausted("report status kept conflicting", errors.WithID("service.report.transition"))
}

func (s *ReportServiceImpl) syncQueue(ctx context.Context, rec *model.ReportRecord) error {
	reports := s.store.Reports()
	if rec.Status.ClearsQueue() {
		return reports.DeleteQueue(ctx, rec.Serial, rec.ReportID)
	}
	entry, err := reports.GetQueue(ctx, rec.Serial, rec.ReportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	entry.Status = rec.Status
	return reports.PutQueue(ctx, entry)
}

func (s *ReportServiceImpl) ReportStatus(ctx context.Context, refs []model.ReportRef) ([]model.ReportState, error) {
	out := make([]model.ReportState, 0, len(refs))
	for _, ref := range refs {
		rec, _, err := s.store.Reports().Get(ctx, ref.Serial, ref.ReportID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, model.ReportState{
			ReportID:   rec.ReportID,
			Serial:     rec.Serial,
			Status:     rec.Status,
			ErrorLevel: rec.ErrorLevel,
		})
	}
	return out, nil
}

// RecallReports returns the caller's own records among refs, in request order.
func (s *ReportServiceImpl) RecallReports(opts *options.SearchOptions, refs []model.ReportRef) ([]RecalledReport, error) {
	ctx := opts.Context
	if err := s.sessions.Authorize(ctx, opts.Auth); err != nil {
		return nil, err
	}
	sessionID := opts.Auth.GetSessionID()

	var found []RecalledReport
	for _, ref := range refs {
		rec, _, err := s.store.Reports().Get(ctx, ref.Serial, ref.ReportID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if rec.SessionID != sessionID {
			continue
		}
		found = append(found, RecalledReport{Record: rec})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recallConcurrency)
	for i := range found {
		if found[i].Record.Status != model.StatusComplete {
			continue
		}
		g.Go(func() error {
			rec := found[i].Record
			uri, err := s.links.Issue(gctx, rec.FilePath, rec.FileName, s.ttl.Report)
			if err != nil {
				if errors.Is(err, ErrLinkNotReady) {
					return nil
				}
				return err
			}
			found[i].URI = uri
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// ReportDownload returns "" while the report is unfinished or its link is not ready.
func (s *ReportServiceImpl) ReportDownload(opts *options.SearchOptions, ref model.ReportRef) (string, error) {
	ctx := opts.Context
	if err := s.sessions.Authorize(ctx, opts.Auth); err != nil {
		return "", err
	}
	rec, _, err := s.store.Reports().Get(ctx, ref.Serial, ref.ReportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if rec.SessionID != opts.Auth.GetSessionID() {
		s.log.WarnContext(ctx, "report_orchestrator.service.download_not_owner",
			slog.String("report_id", ref.ReportID),
			slog.String("serial", ref.Serial),
			slog.String("session_id", opts.Auth.GetSessionID()))
		return "", nil
	}
	if rec.Status != model.StatusComplete || rec.FilePath == "" {
		return "", nil
	}
	uri, err := s.links.Issue(ctx, rec.FilePath, rec.FileName, s.ttl.Report)
	if errors.Is(err, ErrLinkNotReady) {
		return "", nil
	}
	return uri, err
}

func (s *ReportServiceImpl) MarkProcessing(ctx context.Context, serial, reportID string) error {
	_, _, err := s.transition(ctx, serial, reportID, model.StatusProcessing, nil)
	return err
}

func (s *ReportServiceImpl) CompleteReport(ctx context.Context, serial, reportID, filePath, fileName string) error {
	_, changed, err := s.transition(ctx, serial, reportID, model.StatusComplete, func(rec *model.ReportRecord) {
		rec.FilePath = filePath
		rec.FileName = fileName
		rec.ReportDT = s.now().UTC()
	})
	if err == nil && changed {
		s.log.InfoContext(ctx, "report_orchestrator.service.report_complete",
			slog.String("report_id", reportID),
			slog.String("file", filePath))
	}
	return err
}

func (s *ReportServiceImpl) FailReport(ctx context.Context, serial, reportID string) error {
	_, _, err := s.transition(ctx, serial, reportID, model.StatusError, nil)
	return err
}

// ReportFileName names a generated report for download.
func ReportFileName(rec *model.ReportRecord) string {
	name := fmt.Sprintf("%s %s %s", rec.Serial, rec.ReportType, rec.ExportDT.UTC().Format("2006-01-02"))
	if rec.Label != "" {
		name = rec.Label + " " + name
	}
	return strings.TrimSpace(name) + ".pdf"
}
