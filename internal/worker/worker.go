package worker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"runtime"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/model"
	"github.com/webitel/report-orchestrator/internal/queue"
	"github.com/webitel/report-orchestrator/internal/service"
	"github.com/webitel/report-orchestrator/internal/storage"
	"github.com/webitel/report-orchestrator/internal/util/pdf/maroto"
)

const (
	popWait   = time.Second
	idleSleep = time.Second
)

// ReportSink is the worker side of the report state machine.
type ReportSink interface {
	MarkProcessing(ctx context.Context, serial, reportID string) error
	CompleteReport(ctx context.Context, serial, reportID, filePath, fileName string) error
	FailReport(ctx context.Context, serial, reportID string) error
}

// BatchSink is the worker side of the batch state machine.
type BatchSink interface {
	MarkBatchProcessing(ctx context.Context, sessionID, batchID string) error
	UpdateBatchProgress(ctx context.Context, sessionID, batchID string, progress int, message string) error
	CompleteBatch(ctx context.Context, sessionID, batchID, filePath, fileName string) error
	FailBatch(ctx context.Context, sessionID, batchID, message string) error
}

type RecordReader interface {
	Get(ctx context.Context, serial, reportID string) (*model.ReportRecord, string, error)
}

// Worker renders reports and zips batches from queued tasks. It stands in for
// the external rendering service.
type Worker struct {
	queue   queue.Queue
	blob    storage.Blob
	records RecordReader
	reports ReportSink
	batches BatchSink
	now     func() time.Time
	log     *slog.Logger
}

func New(q queue.Queue, blob storage.Blob, records RecordReader, reports ReportSink, batches BatchSink, log *slog.Logger) *Worker {
	return &Worker{queue: q, blob: blob, records: records, reports: reports, batches: batches, now: time.Now, log: log}
}

// Start launches n report loops and n batch loops; n is capped at twice the
// CPU count. It returns once every loop has exited after ctx is done.
func (w *Worker) Start(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	if maxWorkers := runtime.NumCPU() * 2; n > maxWorkers {
		n = maxWorkers
	}
	w.log.InfoContext(ctx, "report_orchestrator.worker.starting", slog.Int("count", n))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			w.loop(ctx, w.nextReport)
		}()
		go func() {
			defer wg.Done()
			w.loop(ctx, w.nextBatch)
		}()
	}
	wg.Wait()
	w.log.Info("report_orchestrator.worker.stopped")
}

func (w *Worker) loop(ctx context.Context, next func(context.Context) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := next(ctx)
		if err == nil || errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		w.log.WarnContext(ctx, "report_orchestrator.worker.pop_failed", slog.String("error", err.Error()))
		time.Sleep(idleSleep)
	}
}

func (w *Worker) nextReport(ctx context.Context) error {
	task, err := w.queue.PopReportTask(ctx, popWait)
	if err != nil {
		return err
	}
	if err := w.HandleReport(ctx, task); err != nil {
		w.log.ErrorContext(ctx, "report_orchestrator.worker.report_failed",
			slog.String("report_id", task.ReportID),
			slog.String("error", err.Error()))
	}
	return nil
}

func (w *Worker) nextBatch(ctx context.Context) error {
	task, err := w.queue.PopBatchTask(ctx, popWait)
	if err != nil {
		return err
	}
	if err := w.HandleBatch(ctx, task); err != nil {
		w.log.ErrorContext(ctx, "report_orchestrator.worker.batch_failed",
			slog.String("batch_id", task.BatchID),
			slog.String("error", err.Error()))
	}
	return nil
}

// HandleReport renders one report. Any failure marks the report ERROR.
func (w *Worker) HandleReport(ctx context.Context, task *model.ReportTask) error {
	if err := w.reports.MarkProcessing(ctx, task.Serial, task.ReportID); err != nil {
		return err
	}
	key, name, err := w.renderReport(ctx, task)
	if err != nil {
		if ferr := w.reports.FailReport(ctx, task.Serial, task.ReportID); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	return w.reports.CompleteReport(ctx, task.Serial, task.ReportID, key, name)
}

func (w *Worker) renderReport(ctx context.Context, task *model.ReportTask) (string, string, error) {
	rec, _, err := w.records.Get(ctx, task.Serial, task.ReportID)
	if err != nil {
		return "", "", err
	}
	data, err := w.blob.Get(ctx, task.DataPath)
	if err != nil {
		return "", "", err
	}
	defer data.Close()
	entries, err := listArchive(data)
	if err != nil {
		return "", "", err
	}

	out, err := maroto.GenerateReportPDF(maroto.ReportSummary{
		ReportID:   rec.ReportID,
		Serial:     rec.Serial,
		ReportType: rec.ReportType,
		AccountID:  rec.AccountID,
		Label:      rec.Label,
		SourceName: rec.SourceName,
		Start:      rec.Start,
		End:        rec.End,
		Hours:      rec.Hours,
		Sections:   rec.Sections,
		Entries:    entries,
		Generated:  w.now(),
	})
	if err != nil {
		return "", "", errors.Internal("render report", errors.WithID("worker.report.render"), errors.WithCause(err))
	}
	key := storage.ReportKey(rec.Serial, rec.ReportID)
	if err := w.blob.Put(ctx, key, bytes.NewReader(out), int64(len(out)), "application/pdf"); err != nil {
		return "", "", err
	}
	return key, service.ReportFileName(rec), nil
}

// listArchive reads the entry table of a tar data file.
func listArchive(r io.Reader) ([]maroto.Entry, error) {
	tr := tar.NewReader(r)
	var entries []maroto.Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, errors.Validation("data file is not a tar archive", errors.WithID("worker.report.archive"), errors.WithCause(err))
		}
		if hdr.Typeflag == tar.TypeReg {
			entries = append(entries, maroto.Entry{Name: hdr.Name, Size: hdr.Size})
		}
	}
}

// HandleBatch zips the finished reports of a batch. Reports that are not
// COMPLETE are skipped; a batch with none fails.
func (w *Worker) HandleBatch(ctx context.Context, task *model.BatchTask) error {
	if err := w.batches.MarkBatchProcessing(ctx, task.SessionID, task.BatchID); err != nil {
		return err
	}
	key, err := w.zipBatch(ctx, task)
	if err != nil {
		if ferr := w.batches.FailBatch(ctx, task.SessionID, task.BatchID, err.Error()); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	return w.batches.CompleteBatch(ctx, task.SessionID, task.BatchID, key, "")
}

func (w *Worker) zipBatch(ctx context.Context, task *model.BatchTask) (string, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := map[string]int{}
	added := 0

	for i, ref := range task.Refs {
		ok, err := w.addReport(ctx, zw, ref, names)
		if err != nil {
			return "", err
		}
		if ok {
			added++
		}
		progress := (i + 1) * 100 / len(task.Refs)
		msg := fmt.Sprintf("%d of %d reports", i+1, len(task.Refs))
		if err := w.batches.UpdateBatchProgress(ctx, task.SessionID, task.BatchID, progress, msg); err != nil {
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", errors.Internal("close archive", errors.WithID("worker.batch.zip"), errors.WithCause(err))
	}
	if added == 0 {
		return "", errors.Validation("no completed reports in batch", errors.WithID("worker.batch.empty"))
	}

	key := storage.BatchKey(task.SessionID, task.BatchID)
	if err := w.blob.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/zip"); err != nil {
		return "", err
	}
	return key, nil
}

func (w *Worker) addReport(ctx context.Context, zw *zip.Writer, ref model.ReportRef, names map[string]int) (bool, error) {
	rec, _, err := w.records.Get(ctx, ref.Serial, ref.ReportID)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			return false, nil
		}
		return false, err
	}
	if rec.Status != model.StatusComplete || rec.FilePath == "" {
		return false, nil
	}
	body, err := w.blob.Get(ctx, rec.FilePath)
	if err != nil {
		return false, err
	}
	defer body.Close()

	out, err := zw.Create(uniqueName(names, rec.FileName))
	if err != nil {
		return false, errors.Internal("add archive entry", errors.WithID("worker.batch.zip"), errors.WithCause(err))
	}
	if _, err := io.Copy(out, body); err != nil {
		return false, errors.Internal("copy report into archive", errors.WithID("worker.batch.zip"), errors.WithCause(err))
	}
	return true, nil
}

// uniqueName suffixes repeated archive names: "a.pdf", "a (2).pdf".
func uniqueName(seen map[string]int, name string) string {
	if name == "" {
		name = "report.pdf"
	}
	seen[name]++
	if n := seen[name]; n > 1 {
		ext := path.Ext(name)
		return fmt.Sprintf("%s (%d)%s", name[:len(name)-len(ext)], n, ext)
	}
	return name
}
