package model

import "time"

const (
	DefaultAccountID  = "Guest"
	DefaultReportType = "Usage"
)

// ReportRecord is the server-owned record of one submitted data file.
type ReportRecord struct {
	ReportID   string     `json:"reportID"`
	SessionID  string     `json:"sessionID"`
	Serial     string     `json:"serial"`
	AccountID  string     `json:"accountID"`
	ReportType string     `json:"reportType"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Hours      int        `json:"hours"`
	Sections   []string   `json:"sections,omitempty"`
	Label      string     `json:"label,omitempty"`
	Status     FileStatus `json:"status"`
	ErrorLevel int        `json:"errorLevel"`
	SourceName string     `json:"sourceName"`
	DataPath   string     `json:"dataPath"`
	FilePath   string     `json:"filePath,omitempty"`
	FileName   string     `json:"fileName,omitempty"`
	ExportDT   time.Time  `json:"exportDT"`
	UploadDT   time.Time  `json:"uploadDT"`
	QueueDT    time.Time  `json:"queueDT"`
	ReportDT   time.Time  `json:"reportDT,omitzero"`
}

// ReportQueueEntry mirrors an unfinished report for the worker queue view.
type ReportQueueEntry struct {
	ReportID string     `json:"reportID"`
	Serial   string     `json:"serial"`
	Status   FileStatus `json:"status"`
	StartDT  time.Time  `json:"startDT"`
	Hours    int        `json:"hours"`
}

type BatchRecord struct {
	BatchID   string     `json:"batchID"`
	SessionID string     `json:"sessionID"`
	RequestDT time.Time  `json:"requestDT"`
	Serials   []string   `json:"serials"`
	ReportIDs []string   `json:"reportIDs"`
	Status    FileStatus `json:"status"`
	Progress  int        `json:"progress"`
	FilePath  string     `json:"filePath,omitempty"`
	FileName  string     `json:"fileName,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// Refs pairs serials with report ids in request order.
func (b *BatchRecord) Refs() []ReportRef {
	refs := make([]ReportRef, 0, len(b.ReportIDs))
	for i := range b.ReportIDs {
		if i < len(b.Serials) {
			refs = append(refs, ReportRef{Serial: b.Serials[i], ReportID: b.ReportIDs[i]})
		}
	}
	return refs
}

type BatchQueueEntry struct {
	BatchID   string     `json:"batchID"`
	SessionID string     `json:"sessionID"`
	RequestDT time.Time  `json:"requestDT"`
	StartDT   time.Time  `json:"startDT"`
	Status    FileStatus `json:"status"`
}

// Session is keyed by (Address, SessionID).
type Session struct {
	SessionID string    `json:"sessionID"`
	Address   string    `json:"address"`
	AccessKey string    `json:"accessKey"`
	LogonDT   time.Time `json:"logonDT"`
	ExpireDT  time.Time `json:"expireDT"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpireDT)
}

type ReportRef struct {
	Serial   string `json:"serial"`
	ReportID string `json:"reportID"`
}

// ReportState is the poll view of a report.
type ReportState struct {
	ReportID   string     `json:"reportID"`
	Serial     string     `json:"serial"`
	Status     FileStatus `json:"status"`
	ErrorLevel int        `json:"errorLevel"`
}

// BatchState is the download view of a batch.
type BatchState struct {
	BatchID  string     `json:"batchID"`
	Status   FileStatus `json:"status"`
	Progress int        `json:"progress"`
	URI      string     `json:"uri,omitempty"`
	Message  string     `json:"message,omitempty"`
}
