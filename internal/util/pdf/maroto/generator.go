package maroto

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/johnfercher/maroto/pkg/consts"
	"github.com/johnfercher/maroto/pkg/pdf"
	"github.com/johnfercher/maroto/pkg/props"
)

// Entry is one file found in an uploaded data archive.
type Entry struct {
	Name string
	Size int64
}

// ReportSummary is what the reference renderer prints for one report.
type ReportSummary struct {
	ReportID   string
	Serial     string
	ReportType string
	AccountID  string
	Label      string
	SourceName string
	Start      time.Time
	End        time.Time
	Hours      int
	Sections   []string
	Entries    []Entry
	Generated  time.Time
}

const dateLayout = "2006-01-02 15:04 MST"

// GenerateReportPDF renders a one-document summary: a heading, the report
// attributes and a table of archive entries.
func GenerateReportPDF(s ReportSummary) ([]byte, error) {
	m := pdf.NewMaroto(consts.Portrait, consts.A4)
	m.SetBorder(false)

	title := s.ReportType + " report"
	if s.Label != "" {
		title = s.Label + " - " + title
	}
	m.Row(14, func() {
		m.Col(12, func() {
			m.Text(title, props.Text{Size: 16, Style: consts.Bold, Align: consts.Center})
		})
	})

	attrs := [][]string{
		{"Report", s.ReportID},
		{"Device serial", s.Serial},
		{"Account", s.AccountID},
		{"Source file", s.SourceName},
		{"Period start", formatTime(s.Start)},
		{"Period end", formatTime(s.End)},
		{"Hours", strconv.Itoa(s.Hours)},
		{"Sections", strings.Join(s.Sections, ", ")},
		{"Generated", formatTime(s.Generated)},
	}
	m.TableList([]string{"Attribute", "Value"}, attrs, props.TableList{
		HeaderProp:  props.TableListContent{Size: 10, GridSizes: []uint{4, 8}},
		ContentProp: props.TableListContent{Size: 9, GridSizes: []uint{4, 8}},
		Align:       consts.Left,
	})

	m.Line(6)

	rows := make([][]string, 0, len(s.Entries))
	var total int64
	for _, e := range s.Entries {
		rows = append(rows, []string{e.Name, strconv.FormatInt(e.Size, 10)})
		total += e.Size
	}
	rows = append(rows, []string{fmt.Sprintf("%d files", len(s.Entries)), strconv.FormatInt(total, 10)})
	m.TableList([]string{"Data file", "Bytes"}, rows, props.TableList{
		HeaderProp:  props.TableListContent{Size: 10, GridSizes: []uint{9, 3}},
		ContentProp: props.TableListContent{Size: 8, GridSizes: []uint{9, 3}},
		Align:       consts.Left,
	})

	buf, err := m.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to generate output: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(dateLayout)
}
