package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// CaseFile is the printable view of an appeal record.
type CaseFile struct {
	Title    string
	Fields   []Field
	Timeline []TimelineEntry
}

// Field is a single labelled value on the case file.
type Field struct {
	Label string
	Value string
}

// TimelineEntry is one row of the stage history table.
type TimelineEntry struct {
	Stage     string
	Timestamp string
	Deadline  string
}

// CaseFileExporter renders appeal case files as PDF documents.
type CaseFileExporter struct{}

// NewCaseFileExporter constructs a case-file exporter.
func NewCaseFileExporter() *CaseFileExporter {
	return &CaseFileExporter{}
}

// Render creates a PDF document for the given case file.
func (e *CaseFileExporter) Render(cf CaseFile) ([]byte, error) {
	if len(cf.Fields) == 0 {
		return nil, fmt.Errorf("case file requires at least one field")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if cf.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, strings.ToUpper(cf.Title), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	for _, field := range cf.Fields {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(50, 7, field.Label, "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(140, 7, field.Value, "", "", false)
	}

	if len(cf.Timeline) > 0 {
		pdf.Ln(5)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, "Stage Timeline", "", 1, "", false, 0, "")

		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(80, 7, "Stage", "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 7, "Entered", "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 7, "Deadline", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 9)
		for _, entry := range cf.Timeline {
			pdf.CellFormat(80, 7, entry.Stage, "1", 0, "", false, 0, "")
			pdf.CellFormat(55, 7, entry.Timestamp, "1", 0, "", false, 0, "")
			pdf.CellFormat(55, 7, entry.Deadline, "1", 0, "", false, 0, "")
			pdf.Ln(-1)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render case file pdf: %w", err)
	}
	return buf.Bytes(), nil
}
