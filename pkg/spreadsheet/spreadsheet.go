// Package spreadsheet reads tabular uploads (CSV or XLSX) into header-keyed records.
package spreadsheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for files that are neither .csv nor .xlsx.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

// ErrEmpty is returned when a file has no header row.
var ErrEmpty = errors.New("spreadsheet has no header row")

// Record is one data row. Line is the 1-based row number in the source file.
type Record struct {
	Line   int
	values map[string]string
}

// Get returns the trimmed cell under header, matched case-insensitively.
func (r Record) Get(header string) string {
	return r.values[normaliseHeader(header)]
}

// Blank reports whether every cell of the row is empty.
func (r Record) Blank() bool {
	for _, v := range r.values {
		if v != "" {
			return false
		}
	}
	return true
}

// Sheet is a parsed upload.
type Sheet struct {
	Header  []string
	Records []Record
}

// HasColumns reports the required headers missing from the sheet.
func (s *Sheet) HasColumns(required ...string) []string {
	present := make(map[string]bool, len(s.Header))
	for _, h := range s.Header {
		present[normaliseHeader(h)] = true
	}
	var missing []string
	for _, r := range required {
		if !present[normaliseHeader(r)] {
			missing = append(missing, r)
		}
	}
	return missing
}

// Supported reports whether filename has a readable extension.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".xlsx":
		return true
	default:
		return false
	}
}

// Read parses r according to the extension of filename. XLSX uploads use the
// first worksheet.
func Read(filename string, r io.Reader) (*Sheet, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		rows, err = readCSV(r)
	case ".xlsx":
		rows, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	if err != nil {
		return nil, err
	}
	return build(rows)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read xlsx rows: %w", err)
	}
	return rows, nil
}

func build(rows [][]string) (*Sheet, error) {
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	sheet := &Sheet{Header: header}
	for i, row := range rows[1:] {
		values := make(map[string]string, len(header))
		for col, h := range header {
			if col < len(row) {
				values[normaliseHeader(h)] = strings.TrimSpace(row[col])
			}
		}
		record := Record{Line: i + 2, values: values}
		if record.Blank() {
			continue
		}
		sheet.Records = append(sheet.Records, record)
	}
	return sheet, nil
}

func normaliseHeader(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}
