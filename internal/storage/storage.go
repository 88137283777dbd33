package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/webitel/report-orchestrator/internal/errors"
)

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = errors.NotFound("object not found", errors.WithID("storage.object.not_found"))

// SignOptions shape a capability link.
type SignOptions struct {
	TTL      time.Duration
	FileName string
}

// Blob is the object store holding data files, reports and batch archives.
type Blob interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	// SignGet returns a read-only URI for key valid for opts.TTL.
	SignGet(ctx context.Context, key string, opts SignOptions) (string, error)
}

func DataKey(uploaded time.Time, fileName string) string {
	return path.Join("data", uploaded.UTC().Format("2006/01/02"), path.Base(fileName))
}

func ReportKey(serial, reportID string) string {
	return path.Join("reports", serial, reportID+".pdf")
}

func BatchKey(sessionID, batchID string) string {
	return path.Join("batches", sessionID, batchID+".zip")
}

// AttachmentDisposition is the content-disposition header for downloads.
func AttachmentDisposition(fileName string) string {
	return fmt.Sprintf("attachment; filename=%q", path.Base(fileName))
}
