package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"demandline/internal/aggregate"
)

const (
	pageWidth  = 190
	lineHeight = 10
)

func renderPDF(v view, detail Detail, at time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(true)
	pdf.SetCreationDate(at)
	pdf.SetModificationDate(at)
	pdf.SetCatalogSort(true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	text := func(style string, size float64, s string) {
		pdf.SetFont("Arial", style, size)
		pdf.CellFormat(pageWidth, lineHeight, tr(s), "", 1, "L", false, 0, "")
	}

	pdf.SetTitle(v.Title, true)
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(pageWidth, lineHeight, tr(v.Title), "", 1, "C", false, 0, "")
	pdf.Ln(10)
	text("B", 12, periodText(v.Start, v.End))
	pdf.Ln(5)

	text("B", 14, "Overall Metrics")
	text("", 12, fmt.Sprintf("Total Demands: %d", v.Overall.Total))
	text("", 12, fmt.Sprintf("Completed Demands: %d", v.Overall.Completed))
	text("", 12, "Completion Rate: "+aggregate.FormatRate(v.Overall.CompletionRate))
	pdf.Ln(10)

	if detail == DetailComplete {
		text("B", 14, "Demand Details")
		pdf.Ln(5)
		for i, l := range v.Lines {
			text("B", 12, fmt.Sprintf("Demand %d: %s", i+1, l.Title))
			text("", 12, "Type: "+l.Type.Label())
			text("", 12, "Status: "+l.Status.Label())
			text("", 12, "Assignee: "+l.Assignee)
			pdf.Ln(5)
		}
	} else {
		text("B", 14, "Summary by Type")
		pdf.Ln(5)
		for _, r := range v.ByType {
			text("", 12, fmt.Sprintf("%s: %d", r.Label, r.Total))
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
