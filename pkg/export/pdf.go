package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// Row is a single label/value pair in a rendered document.
type Row struct {
	Label string
	Value string
}

// Document is an ordered field/value table with a heading. Row order is a
// compatibility contract for downstream consumers and must not change.
type Document struct {
	Heading string
	Rows    []Row
}

// PDFExporter renders documents into a two-column tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF from the document. Pure function of its input.
func (e *PDFExporter) Render(doc Document) ([]byte, error) {
	if len(doc.Rows) == 0 {
		return nil, fmt.Errorf("document requires at least one row")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if doc.Heading != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, doc.Heading, "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	const labelWidth, valueWidth = 55.0, 135.0
	for _, row := range doc.Rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(labelWidth, 8, row.Label, "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(valueWidth, 8, row.Value, "1", "", false)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
