package appstore

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/klauspost/compress/gzip"

	"salesdigest/internal/report"
)

const (
	unitsColumn     = "Units"
	beginDateColumn = "Begin Date"

	maxReportBytes = 64 << 20
)

// decompress gunzips body when it carries the gzip magic number and returns
// it unchanged otherwise.
func decompress(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, &report.ParseError{Reason: fmt.Sprintf("gunzip: %v", err)}
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxReportBytes))
	if err != nil {
		return nil, &report.ParseError{Reason: fmt.Sprintf("gunzip: %v", err)}
	}
	return out, nil
}

// ParseTSV reads a Sales and Trends report. The first non-blank line is the
// header and must name a Units column. Rows take their date from the Begin
// Date column when present and fall back to reportDate. Refund lines
// (negative units) are dropped.
func ParseTSV(text string, reportDate civil.Date) ([]report.Row, error) {
	lines := strings.Split(text, "\n")

	headerLine := -1
	var header []string
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		headerLine = i
		header = splitRow(line)
		break
	}
	if headerLine < 0 {
		return nil, &report.ParseError{Reason: "missing header row"}
	}

	unitsIdx, dateIdx := -1, -1
	for i, name := range header {
		switch {
		case strings.EqualFold(name, unitsColumn):
			unitsIdx = i
		case strings.EqualFold(name, beginDateColumn):
			dateIdx = i
		}
	}
	if unitsIdx < 0 {
		return nil, &report.ParseError{Line: headerLine + 1, Reason: "missing header row: no Units column"}
	}

	var rows []report.Row
	for i := headerLine + 1; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := splitRow(line)
		if len(cols) < len(header) {
			return nil, &report.ParseError{Line: i + 1, Reason: fmt.Sprintf("expected %d columns, got %d", len(header), len(cols))}
		}

		raw := cols[unitsIdx]
		if raw == "" {
			continue
		}
		units, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &report.ParseError{Line: i + 1, Reason: fmt.Sprintf("units %q is not an integer", raw)}
		}
		if units < 0 {
			continue
		}

		d := reportDate
		if dateIdx >= 0 && cols[dateIdx] != "" {
			d, err = parseReportDate(cols[dateIdx])
			if err != nil {
				return nil, &report.ParseError{Line: i + 1, Reason: err.Error()}
			}
		}
		rows = append(rows, report.Row{Date: d, Units: units})
	}
	return rows, nil
}

func splitRow(line string) []string {
	cols := strings.Split(line, "\t")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}

func parseReportDate(s string) (civil.Date, error) {
	for _, layout := range []string{"01/02/2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("begin date %q not recognised", s)
}
