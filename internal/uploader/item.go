package uploader

import (
	"context"
	"time"

	"github.com/webitel/report-orchestrator/internal/model"
)

// Item is one submitted data file. Zero stage times are unset; at most one
// of them is set, matching Status.
type Item struct {
	Key        int
	Path       string
	FileName   string
	Serial     string
	ExportDate time.Time
	Hours      int
	Sections   []string
	Label      string
	Start      time.Time
	End        time.Time

	Status        model.FileStatus
	ReportID      string
	Progress      float64
	UploadRetries int
	ErrorLevel    int
	URI           string

	PendingStart    time.Time
	QueuedStart     time.Time
	ProcessingStart time.Time

	retryAt time.Time
	attempt int
	cancel  context.CancelFunc
}

func (it *Item) Ref() model.ReportRef {
	return model.ReportRef{Serial: it.Serial, ReportID: it.ReportID}
}

// enter moves the item to st and resets the stage clock for it.
func (it *Item) enter(st model.FileStatus, now time.Time) {
	keepPending := st == model.StatusUploading && it.Status == model.StatusPending
	it.Status = st
	if !keepPending {
		it.PendingStart = time.Time{}
	}
	it.QueuedStart = time.Time{}
	it.ProcessingStart = time.Time{}
	switch st {
	case model.StatusPending:
		it.PendingStart = now
	case model.StatusQueued:
		it.QueuedStart = now
	case model.StatusProcessing:
		it.ProcessingStart = now
	}
}

// needsTick is true while the item still waits for dispatch, a retry or a
// stage timeout.
func (it *Item) needsTick() bool {
	switch it.Status {
	case model.StatusPending, model.StatusUploading, model.StatusRetrying,
		model.StatusQueued, model.StatusProcessing:
		return true
	}
	return false
}

// ReportOptions are the report parameters chosen for a set of files.
type ReportOptions struct {
	Hours    int
	Sections []string
	Label    string
}

// Recovered is the server view of a previously queued item.
type Recovered struct {
	Serial     string
	ReportID   string
	FileName   string
	Status     model.FileStatus
	ErrorLevel int
	Hours      int
	Label      string
	Start      time.Time
	End        time.Time
	URI        string
}
