// Package export renders tabular data such as group rosters as CSV or PDF.
package export

import (
	"errors"
	"fmt"
	"strings"
)

// Format selects an output encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts csv or pdf, case-insensitively. Empty means csv.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return FormatCSV, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType is the MIME type served for the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}

// Table is an ordered set of rows under a header.
type Table struct {
	Title   string
	Caption string
	Header  []string
	Rows    [][]string
}

var errNoHeader = errors.New("table has no header")

func (t Table) validate() error {
	if len(t.Header) == 0 {
		return errNoHeader
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Header) {
			return fmt.Errorf("row %d has %d cells, want %d", i+1, len(row), len(t.Header))
		}
	}
	return nil
}

// Render encodes t in the given format.
func Render(t Table, f Format) ([]byte, error) {
	switch f {
	case FormatPDF:
		return RenderPDF(t)
	case FormatCSV:
		return RenderCSV(t)
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
}
