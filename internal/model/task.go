package model

import "time"

const (
	ReportTaskType = "report"
	BatchTaskType  = "batch"
)

// ReportTask asks the worker to generate one report. It must be JSON-serializable.
type ReportTask struct {
	TaskID     string    `json:"task_id"`
	ReportID   string    `json:"report_id"`
	Serial     string    `json:"serial"`
	SessionID  string    `json:"session_id"`
	DataPath   string    `json:"data_path"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// BatchTask asks the worker to zip a set of finished reports.
type BatchTask struct {
	TaskID     string      `json:"task_id"`
	BatchID    string      `json:"batch_id"`
	SessionID  string      `json:"session_id"`
	Refs       []ReportRef `json:"refs"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}
