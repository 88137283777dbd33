package maroto

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReportPDF(t *testing.T) {
	out, err := GenerateReportPDF(ReportSummary{
		ReportID:   "R00000001",
		Serial:     "ABC123",
		ReportType: "Usage",
		AccountID:  "Guest",
		SourceName: "export_1_ABC123_20261013_173000.tar",
		Start:      time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Hours:      24,
		Sections:   []string{"summary", "alarms"},
		Entries:    []Entry{{Name: "events.csv", Size: 120}, {Name: "trend.csv", Size: 4096}},
		Generated:  time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))
	assert.Equal(t, "2026-10-14 09:00 UTC", formatTime(time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)))
}
