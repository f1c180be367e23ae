package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFRenderer lays tables out on landscape A4 pages.
type PDFRenderer struct{}

// NewPDFRenderer constructs a PDF renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Extension implements Renderer.
func (r *PDFRenderer) Extension() string { return ".pdf" }

// Render implements Renderer. Long cells wrap inside their column.
func (r *PDFRenderer) Render(table Table) ([]byte, error) {
	if len(table.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()

	if table.Title != "" {
		pdf.SetFont("Arial", "B", 13)
		pdf.CellFormat(0, 9, table.Title, "", 1, "L", false, 0, "")
		pdf.Ln(3)
	}

	colWidth := 277.0 / float64(len(table.Headers))
	header := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, h := range table.Headers {
			pdf.CellFormat(colWidth, 7, h, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}
	header()

	const lineHeight = 5.0
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range table.Rows {
		lines := 1
		for _, cell := range row {
			if n := len(pdf.SplitLines([]byte(cell), colWidth-2)); n > lines {
				lines = n
			}
		}
		height := float64(lines) * lineHeight
		if pdf.GetY()+height > pageHeight-bottom {
			pdf.AddPage()
			header()
		}
		x, y := pdf.GetXY()
		for i, cell := range row {
			pdf.SetXY(x+float64(i)*colWidth, y)
			pdf.Rect(x+float64(i)*colWidth, y, colWidth, height, "D")
			pdf.MultiCell(colWidth, lineHeight, cell, "", "L", false)
		}
		pdf.SetXY(x, y+height)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
