package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageMargin  = 10.0
	headerRowH  = 8.0
	bodyRowH    = 7.0
	landscapeAt = 6
)

// RenderPDF lays the table out on A4, switching to landscape for wide tables.
// Column widths follow the longest cell of each column.
func RenderPDF(t Table) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	orientation := "P"
	if len(t.Header) >= landscapeAt {
		orientation = "L"
	}
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(pageMargin, 15, pageMargin)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	widths := columnWidths(t, pageW-2*pageMargin)

	header := func() {
		pdf.SetFont("Arial", "B", 10)
		pdf.SetFillColor(230, 230, 230)
		for i, h := range t.Header {
			pdf.CellFormat(widths[i], headerRowH, tr(h), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
	}

	pdf.AddPage()
	if t.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(t.Title), "", 1, "C", false, 0, "")
	}
	if t.Caption != "" {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, tr(t.Caption), "", 1, "C", false, 0, "")
	}
	pdf.Ln(3)
	header()

	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range t.Rows {
		if pdf.GetY()+bodyRowH > pageH-bottom {
			pdf.AddPage()
			header()
		}
		for i, cell := range row {
			pdf.CellFormat(widths[i], bodyRowH, tr(cell), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(t Table, total float64) []float64 {
	weights := make([]float64, len(t.Header))
	sum := 0.0
	for i, h := range t.Header {
		longest := len(h)
		for _, row := range t.Rows {
			if len(row[i]) > longest {
				longest = len(row[i])
			}
		}
		if longest < 4 {
			longest = 4
		}
		if longest > 40 {
			longest = 40
		}
		weights[i] = float64(longest)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] = total * weights[i] / sum
	}
	return weights
}
