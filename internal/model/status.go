package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/webitel/report-orchestrator/internal/errors"
)

// FileStatus is the lifecycle state of an upload item or server record.
// It travels by name so client and server never depend on numeric values.
type FileStatus string

const (
	StatusRetrying   FileStatus = "RETRYING"
	StatusCancelled  FileStatus = "CANCELLED"
	StatusError      FileStatus = "ERROR"
	StatusPending    FileStatus = "PENDING"
	StatusEditing    FileStatus = "EDITING"
	StatusUploading  FileStatus = "UPLOADING"
	StatusQueued     FileStatus = "QUEUED"
	StatusProcessing FileStatus = "PROCESSING"
	StatusComplete   FileStatus = "COMPLETE"
)

var legacyCodes = map[FileStatus]int{
	StatusRetrying:   -3,
	StatusCancelled:  -2,
	StatusError:      -1,
	StatusPending:    0,
	StatusEditing:    1,
	StatusUploading:  2,
	StatusQueued:     3,
	StatusProcessing: 4,
	StatusComplete:   5,
}

// FailureErrorLevel is recorded on records forced into ERROR or CANCELLED.
const FailureErrorLevel = 5

func ParseFileStatus(s string) (FileStatus, error) {
	st := FileStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := legacyCodes[st]; !ok {
		return "", errors.Validation(fmt.Sprintf("unknown file status %q", s), errors.WithID("model.status.parse"))
	}
	return st, nil
}

func (s FileStatus) Valid() bool {
	_, ok := legacyCodes[s]
	return ok
}

// LegacyCode is the numeric value used by the server-side records of the
// historical system. Clients must not rely on it.
func (s FileStatus) LegacyCode() int {
	if c, ok := legacyCodes[s]; ok {
		return c
	}
	return legacyCodes[StatusError]
}

// Terminal is true for states an item never leaves on its own.
func (s FileStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// InFlight is true while the server still owns progress of the item.
func (s FileStatus) InFlight() bool {
	return s == StatusQueued || s == StatusProcessing
}

// ClearsQueue reports whether reaching this status removes the queue entry.
func (s FileStatus) ClearsQueue() bool {
	return s == StatusError || s == StatusCancelled
}

func (s FileStatus) String() string { return string(s) }

func (s *FileStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = ""
		return nil
	}
	st, err := ParseFileStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// CanTransition applies the server-side record state machine.
// Same-status writes are permitted and treated as no-ops by callers.
func CanTransition(from, to FileStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusComplete || to == StatusError || to == StatusCancelled
	case StatusProcessing:
		return to == StatusComplete || to == StatusError || to == StatusCancelled
	}
	return false
}
