package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/report-orchestrator/auth"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/model"
	"github.com/webitel/report-orchestrator/internal/model/options"
	"github.com/webitel/report-orchestrator/internal/queue"
	"github.com/webitel/report-orchestrator/internal/store"
)

const batchMissingMessage = "batch not found"

type BatchService interface {
	BatchRequest(opts *options.CreateOptions, refs []model.ReportRef, requestTime time.Time) (string, error)
	BatchDownload(opts *options.SearchOptions, batchID string) (*model.BatchState, error)

	MarkBatchProcessing(ctx context.Context, sessionID, batchID string) error
	UpdateBatchProgress(ctx context.Context, sessionID, batchID string, progress int, message string) error
	CompleteBatch(ctx context.Context, sessionID, batchID, filePath, fileName string) error
	FailBatch(ctx context.Context, sessionID, batchID, message string) error
}

type BatchServiceImpl struct {
	store    store.Store
	queue    queue.Queue
	links    *LinkIssuer
	sessions auth.Manager
	ids      *IDAllocator
	ttl      time.Duration
	log      *slog.Logger
}

func NewBatchService(st store.Store, q queue.Queue, links *LinkIssuer, sessions auth.Manager, ids *IDAllocator, ttl time.Duration, log *slog.Logger) (*BatchServiceImpl, error) {
	if st == nil || q == nil || links == nil || sessions == nil || ids == nil {
		return nil, errors.Internal("dependency is nil in BatchService")
	}
	return &BatchServiceImpl{store: st, queue: q, links: links, sessions: sessions, ids: ids, ttl: ttl, log: log}, nil
}

// BatchRequest records a batch over refs and hands it to the batch worker.
// requestTime is the caller's local clock and only names the archive.
func (s *BatchServiceImpl) BatchRequest(opts *options.CreateOptions, refs []model.ReportRef, requestTime time.Time) (string, error) {
	ctx := opts.Context
	if err := s.sessions.Authorize(ctx, opts.Auth); err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return "", errors.Validation("batch needs at least one report", errors.WithID("service.batch.empty"))
	}
	if requestTime.IsZero() {
		requestTime = opts.Time
	}
	sessionID := opts.Auth.GetSessionID()

	batchID, err := s.ids.Allocate(ctx, BatchID)
	if err != nil {
		return "", err
	}
	rec := &model.BatchRecord{
		BatchID:   batchID,
		SessionID: sessionID,
		RequestDT: requestTime,
		Status:    model.StatusQueued,
		FileName:  model.BatchFileName(requestTime),
	}
	for _, ref := range refs {
		rec.Serials = append(rec.Serials, ref.Serial)
		rec.ReportIDs = append(rec.ReportIDs, ref.ReportID)
	}
	if _, err := s.store.Batches().Insert(ctx, rec); err != nil {
		return "", err
	}
	if err := s.store.Batches().PutQueue(ctx, &model.BatchQueueEntry{
		BatchID:   batchID,
		SessionID: sessionID,
		RequestDT: requestTime,
		StartDT:   opts.Time,
		Status:    model.StatusQueued,
	}); err != nil {
		return "", err
	}

	task := model.BatchTask{
		TaskID:     uuid.NewString(),
		BatchID:    batchID,
		SessionID:  sessionID,
		Refs:       refs,
		EnqueuedAt: opts.Time,
	}
	if err := s.queue.PushBatchTask(ctx, task); err != nil {
		s.log.ErrorContext(ctx, "report_orchestrator.service.publish_batch_failed",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()))
		if ferr := s.FailBatch(ctx, sessionID, batchID, "batch could not be scheduled"); ferr != nil {
			return "", errors.Join(err, ferr)
		}
		return batchID, nil
	}

	s.log.InfoContext(ctx, "report_orchestrator.service.batch_queued",
		slog.String("batch_id", batchID),
		slog.String("session_id", sessionID),
		slog.Int("reports", len(refs)))
	return batchID, nil
}

// BatchDownload reports batch progress. URI is set once the archive is
// complete and visible; a batch unknown to the session reads as ERROR.
func (s *BatchServiceImpl) BatchDownload(opts *options.SearchOptions, batchID string) (*model.BatchState, error) {
	ctx := opts.Context
	if err := s.sessions.Authorize(ctx, opts.Auth); err != nil {
		return nil, err
	}
	if batchID == "" {
		return nil, errors.Validation("batch id is required", errors.WithID("service.batch.id"))
	}
	rec, _, err := s.store.Batches().Get(ctx, opts.Auth.GetSessionID(), batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &model.BatchState{BatchID: batchID, Status: model.StatusError, Message: batchMissingMessage}, nil
		}
		return nil, err
	}

	state := &model.BatchState{
		BatchID:  rec.BatchID,
		Status:   rec.Status,
		Progress: rec.Progress,
		Message:  rec.Message,
	}
	if rec.Status != model.StatusComplete || rec.FilePath == "" {
		return state, nil
	}
	name := rec.FileName
	if name == "" {
		name = model.BatchFileName(rec.RequestDT)
	}
	uri, err := s.links.Issue(ctx, rec.FilePath, name, s.ttl)
	if err != nil {
		if errors.Is(err, ErrLinkNotReady) {
			return state, nil
		}
		return nil, err
	}
	state.URI = uri
	return state, nil
}

func (s *BatchServiceImpl) MarkBatchProcessing(ctx context.Context, sessionID, batchID string) error {
	_, err := s.transition(ctx, sessionID, batchID, model.StatusProcessing, nil)
	return err
}

// UpdateBatchProgress records worker progress without touching the status.
func (s *BatchServiceImpl) UpdateBatchProgress(ctx context.Context, sessionID, batchID string, progress int, message string) error {
	batches := s.store.Batches()
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		rec, etag, err := batches.Get(ctx, sessionID, batchID)
		if err != nil {
			return err
		}
		if rec.Status.Terminal() {
			return nil
		}
		rec.Progress = min(max(progress, 0), 100)
		rec.Message = message
		if _, err := batches.Replace(ctx, rec, etag); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return errors.Exhausted("batch progress kept conflicting", errors.WithID("service.batch.progress"))
}

func (s *BatchServiceImpl) CompleteBatch(ctx context.Context, sessionID, batchID, filePath, fileName string) error {
	changed, err := s.transition(ctx, sessionID, batchID, model.StatusComplete, func(rec *model.BatchRecord) {
		rec.FilePath = filePath
		if fileName != "" {
			rec.FileName = fileName
		}
		rec.Progress = 100
		rec.Message = ""
	})
	if err == nil && changed {
		s.log.InfoContext(ctx, "report_orchestrator.service.batch_complete",
			slog.String("batch_id", batchID),
			slog.String("file", filePath))
	}
	return err
}

func (s *BatchServiceImpl) FailBatch(ctx context.Context, sessionID, batchID, message string) error {
	_, err := s.transition(ctx, sessionID, batchID, model.StatusError, func(rec *model.BatchRecord) {
		rec.Message = message
	})
	return err
}

func (s *BatchServiceImpl) transition(ctx context.Context, sessionID, batchID string, to model.FileStatus, mutate func(*model.BatchRecord)) (bool, error) {
	batches := s.store.Batches()
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		rec, etag, err := batches.Get(ctx, sessionID, batchID)
		if err != nil {
			return false, err
		}
		if rec.Status == to || !model.CanTransition(rec.Status, to) {
			return false, nil
		}
		rec.Status = to
		if mutate != nil {
			mutate(rec)
		}
		if _, err := batches.Replace(ctx, rec, etag); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return false, err
		}

		var qerr error
		if to.ClearsQueue() {
			qerr = batches.DeleteQueue(ctx, sessionID, batchID)
		} else if entry, err := batches.GetQueue(ctx, sessionID, batchID); err == nil {
			entry.Status = to
			qerr = batches.PutQueue(ctx, entry)
		} else if !errors.Is(err, store.ErrNotFound) {
			qerr = err
		}
		if qerr != nil {
			s.log.WarnContext(ctx, "report_orchestrator.service.batch_queue_sync_failed",
				slog.String("batch_id", batchID),
				slog.String("error", qerr.Error()))
		}
		return true, nil
	}
	return false, errors.Exhausted("batch status kept conflicting", errors.WithID("service.batch.transition"))
}
