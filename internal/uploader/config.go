package uploader

import (
	"time"

	conf "github.com/webitel/report-orchestrator/config"
)

// Config holds the queue limits. Every stage budget is independent; the
// uploading budget is counted from the moment the item became pending.
type Config struct {
	MaxUploads        int
	MaxUploadAttempts int
	RetryDelay        time.Duration
	PendingTimeout    time.Duration
	UploadingTimeout  time.Duration
	QueuedTimeout     time.Duration
	ProcessingTimeout time.Duration
}

func DefaultConfig() Config {
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

func ConfigFrom(q *conf.QueueConfig) Config {
	return Config{
		MaxUploads:        q.MaxUploads,
		MaxUploadAttempts: q.MaxUploadAttempts,
		RetryDelay:        q.RetryDelay,
		PendingTimeout:    q.PendingTimeout,
		UploadingTimeout:  q.UploadingTimeout,
		QueuedTimeout:     q.QueuedTimeout,
		ProcessingTimeout: q.ProcessingTimeout,
	}
}
