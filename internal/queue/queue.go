package queue

import (
	"context"
	"time"

	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/model"
)

// ErrEmpty is returned by Pop* when no task arrived within the wait.
var ErrEmpty = errors.NotFound("queue empty", errors.WithID("queue.pop.empty"))

// Queue is the hand-off boundary between the orchestrator and the report
// worker. Tasks are delivered at least once.
type Queue interface {
	PushReportTask(ctx context.Context, task model.ReportTask) error
	PopReportTask(ctx context.Context, wait time.Duration) (*model.ReportTask, error)
	PushBatchTask(ctx context.Context, task model.BatchTask) error
	PopBatchTask(ctx context.Context, wait time.Duration) (*model.BatchTask, error)

	// RememberUpload records value under key unless one is already stored, in
	// which case the stored value is returned with stored=false.
	RememberUpload(ctx context.Context, key, value string, ttl time.Duration) (existing string, stored bool, err error)
	ForgetUpload(ctx context.Context, key string) error

	Close() error
}
