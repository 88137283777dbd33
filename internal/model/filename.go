package model

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/webitel/report-orchestrator/internal/errors"
)

const exportTimeLayout = "20060102_150405"

// ExportFile is what a device export filename encodes:
// export_<seq>_<serial>_<YYYYMMDD>_<HHMMSS>.tar
type ExportFile struct {
	Name       string
	Sequence   int
	Serial     string
	ExportDate time.Time
}

func ParseExportFilename(path string) (*ExportFile, error) {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	if !strings.EqualFold(ext, ".tar") {
		return nil, errors.Validation("only .tar exports are accepted",
			errors.WithID("model.filename.extension"))
	}
	parts := strings.Split(strings.TrimSuffix(name, ext), "_")
	if len(parts) != 5 || !strings.EqualFold(parts[0], "export") {
		return nil, errors.Validation("filename does not match export_<seq>_<serial>_<date>_<time>.tar",
			errors.WithID("model.filename.pattern"))
	}
	seq, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errors.Validation("export sequence is not a number",
			errors.WithID("model.filename.sequence"), errors.WithCause(err))
	}
	if parts[2] == "" {
		return nil, errors.Validation("serial number is missing",
			errors.WithID("model.filename.serial"))
	}
	at, err := time.ParseInLocation(exportTimeLayout, parts[3]+"_"+parts[4], time.UTC)
	if err != nil {
		return nil, errors.Validation("export date is malformed",
			errors.WithID("model.filename.date"), errors.WithCause(err))
	}
	return &ExportFile{
		Name:       name,
		Sequence:   seq,
		Serial:     strings.ToUpper(parts[2]),
		ExportDate: at,
	}, nil
}

// BatchFileName is the archive name offered when the caller gives none.
func BatchFileName(requested time.Time) string {
	return "Reports " + requested.Format("2006-01-02 15-04") + ".zip"
}
