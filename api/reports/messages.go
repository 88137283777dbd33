package reports

import (
	"errors"
	"time"
)

var (
	errCredentials = errors.New("sessionId and accessKey are required")
	errRefLists    = errors.New("serials and reportIds must be non-empty and of equal length")
)

type Session struct {
	SessionID string    `json:"sessionId"`
	AccessKey string    `json:"accessKey"`
	ExpireDT  time.Time `json:"expireDT"`
}

type GetSessionRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
}

// GetSessionResponse carries a nil Session when none could be issued.
type GetSessionResponse struct {
	Session *Session `json:"session"`
	Renewed bool     `json:"renewed"`
}

type UploadMetadata struct {
	SessionID  string    `json:"sessionId"`
	AccessKey  string    `json:"accessKey"`
	Serial     string    `json:"serial"`
	FileName   string    `json:"fileName"`
	Sections   []string  `json:"sections,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Hours      int       `json:"hours"`
	Size       int64     `json:"size"`
	ExportDate time.Time `json:"exportDate"`
	UploadDate time.Time `json:"uploadDate"`
	Label      string    `json:"label,omitempty"`
}

func (m *UploadMetadata) Validate() error {
	switch {
	case m.SessionID == "" || m.AccessKey == "":
		return errCredentials
	case m.Serial == "" || m.FileName == "":
		return errors.New("serial and fileName are required")
	case m.Size <= 0:
		return errors.New("size must be positive")
	}
	return nil
}

// UploadChunk is one message of the SingleUpload stream. The first carries
// Metadata only, the rest carry Data only.
type UploadChunk struct {
	Metadata *UploadMetadata `json:"metadata,omitempty"`
	Data     []byte          `json:"data,omitempty"`
}

type SingleUploadResponse struct {
	Authorized bool   `json:"authorized"`
	ReportID   string `json:"reportId"`
	Status     string `json:"status"`
}

type SetStatusRequest struct {
	SessionID string   `json:"sessionId"`
	AccessKey string   `json:"accessKey"`
	Serials   []string `json:"serials"`
	ReportIDs []string `json:"reportIds"`
	Statuses  []string `json:"statuses"`
}

func (r *SetStatusRequest) Validate() error {
	if r.SessionID == "" || r.AccessKey == "" {
		return errCredentials
	}
	if err := validRefLists(r.Serials, r.ReportIDs); err != nil {
		return err
	}
	if len(r.Statuses) != len(r.ReportIDs) {
		return errors.New("statuses must match reportIds in length")
	}
	return nil
}

type SetStatusResponse struct {
	Authorized bool `json:"authorized"`
	OK         bool `json:"ok"`
}

type ReportStatusRequest struct {
	Serials   []string `json:"serials"`
	ReportIDs []string `json:"reportIds"`
}

func (r *ReportStatusRequest) Validate() error { return validRefLists(r.Serials, r.ReportIDs) }

type ReportState struct {
	ReportID   string `json:"reportId"`
	Serial     string `json:"serial"`
	Status     string `json:"status"`
	ErrorLevel int    `json:"errorLevel"`
}

type ReportStatusResponse struct {
	Reports []ReportState `json:"reports"`
}

type RecallReportsRequest struct {
	SessionID string   `json:"sessionId"`
	AccessKey string   `json:"accessKey"`
	Serials   []string `json:"serials"`
	ReportIDs []string `json:"reportIds"`
}

func (r *RecallReportsRequest) Validate() error {
	if r.SessionID == "" || r.AccessKey == "" {
		return errCredentials
	}
	return validRefLists(r.Serials, r.ReportIDs)
}

type RecalledReport struct {
	ReportID   string    `json:"reportId"`
	Serial     string    `json:"serial"`
	Status     string    `json:"status"`
	ErrorLevel int       `json:"errorLevel"`
	SourceName string    `json:"sourceName"`
	FileName   string    `json:"fileName,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Hours      int       `json:"hours"`
	Label      string    `json:"label,omitempty"`
	URI        string    `json:"uri,omitempty"`
}

type RecallReportsResponse struct {
	Authorized bool             `json:"authorized"`
	Reports    []RecalledReport `json:"reports"`
}

type BatchRequestRequest struct {
	SessionID   string    `json:"sessionId"`
	AccessKey   string    `json:"accessKey"`
	Serials     []string  `json:"serials"`
	ReportIDs   []string  `json:"reportIds"`
	RequestTime time.Time `json:"requestTime"`
}

func (r *BatchRequestRequest) Validate() error {
	if r.SessionID == "" || r.AccessKey == "" {
		return errCredentials
	}
	return validRefLists(r.Serials, r.ReportIDs)
}

type BatchRequestResponse struct {
	Authorized bool   `json:"authorized"`
	BatchID    string `json:"batchId"`
}

type BatchDownloadRequest struct {
	SessionID string `json:"sessionId"`
	AccessKey string `json:"accessKey"`
	BatchID   string `json:"batchId"`
}

func (r *BatchDownloadRequest) Validate() error {
	if r.SessionID == "" || r.AccessKey == "" {
		return errCredentials
	}
	if r.BatchID == "" {
		return errors.New("batchId is required")
	}
	return nil
}

type BatchDownloadResponse struct {
	Authorized bool   `json:"authorized"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	URI        string `json:"uri,omitempty"`
	Message    string `json:"message,omitempty"`
}

type ReportDownloadRequest struct {
	SessionID string `json:"sessionId"`
	AccessKey string `json:"accessKey"`
	Serial    string `json:"serial"`
	ReportID  string `json:"reportId"`
}

func (r *ReportDownloadRequest) Validate() error {
	if r.SessionID == "" || r.AccessKey == "" {
		return errCredentials
	}
	if r.Serial == "" || r.ReportID == "" {
		return errors.New("serial and reportId are required")
	}
	return nil
}

// ReportDownloadResponse has an empty URI while the report is not ready.
type ReportDownloadResponse struct {
	Authorized bool   `json:"authorized"`
	URI        string `json:"uri,omitempty"`
}

type SendEmailRequest struct {
	SessionID string    `json:"sessionId"`
	AccessKey string    `json:"accessKey"`
	RecordID  string    `json:"recordId"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	To        []string  `json:"to"`
	Link      string    `json:"link"`
	FileName  string    `json:"fileName"`
	SendDate  time.Time `json:"sendDate"`
	Multiple  bool      `json:"multiple"`
	Serial    string    `json:"serial,omitempty"`
}

func (r *SendEmailRequest) Validate() error {
	if r.SessionID == "" || r.AccessKey == "" {
		return errCredentials
	}
	if r.RecordID == "" || len(r.To) == 0 {
		return errors.New("recordId and at least one recipient are required")
	}
	return nil
}

// SendEmailResponse has nil MessageIDs when nothing was sent.
type SendEmailResponse struct {
	Authorized bool     `json:"authorized"`
	MessageIDs []string `json:"messageIds"`
}

func validRefLists(serials, reportIDs []string) error {
	if len(serials) == 0 || len(serials) != len(reportIDs) {
		return errRefLists
	}
	return nil
}
