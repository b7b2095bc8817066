package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
)

const (
	pdfPageWidth    = 297.0
	pdfPageHeight   = 210.0
	pdfMargin       = 10.0
	pdfBottomMargin = 20.0
	pdfLabelWidth   = 20.0
	pdfTitleHeight  = 8.0
	pdfRowHeight    = 6.0
	pdfSectionGap   = 4.0
	pdfTextLeading  = 3.5
)

// gridWriter draws a section at y. It must leave pdf in an error state or
// return an error when the table could not be laid out.
type gridWriter func(pdf *gofpdf.Fpdf, section Section, y float64) error

// AttendancePDFRenderer renders monthly attendance as A4 landscape PDF.
type AttendancePDFRenderer struct {
	loc       *time.Location
	writeGrid gridWriter
}

// NewAttendancePDFRenderer builds a renderer that prints times in loc.
func NewAttendancePDFRenderer(loc *time.Location) *AttendancePDFRenderer {
	if loc == nil {
		loc = time.UTC
	}
	return &AttendancePDFRenderer{loc: loc, writeGrid: writePDFGrid}
}

// RenderSingle renders one user's month.
func (r *AttendancePDFRenderer) RenderSingle(data *attendance.MonthlyAttendanceData) ([]byte, error) {
	return r.RenderCombined([]*attendance.MonthlyAttendanceData{data})
}

// RenderCombined packs one section per bucket in the given order.
func (r *AttendancePDFRenderer) RenderCombined(items []*attendance.MonthlyAttendanceData) ([]byte, error) {
	sections := buildSections(items, r.loc)
	if len(sections) == 0 {
		return nil, ErrNothingToExport
	}
	out, gridErr := r.renderGrid(sections)
	if gridErr == nil {
		return out, nil
	}
	out, err := renderPlainPDF(sections)
	if err != nil {
		return nil, fmt.Errorf("render attendance pdf: grid: %v: fallback: %w", gridErr, err)
	}
	return out, nil
}

func buildSections(items []*attendance.MonthlyAttendanceData, loc *time.Location) []Section {
	sections := make([]Section, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		sections = append(sections, BuildAttendanceSection(item, loc))
	}
	return sections
}

func (r *AttendancePDFRenderer) renderGrid(sections []Section) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("grid layout panic: %v", rec)
		}
	}()

	pdf := newAttendancePDF()
	pdf.AddPage()
	placements := planPages(sections)
	for i, section := range sections {
		if i > 0 && placements[i].page != placements[i-1].page {
			pdf.AddPage()
		}
		if err := r.writeGrid(pdf, section, placements[i].y); err != nil {
			return nil, err
		}
		if pdf.Err() {
			return nil, pdf.Error()
		}
	}
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func newAttendancePDF() *gofpdf.Fpdf {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfBottomMargin)
	return pdf
}

type placement struct {
	page int
	y    float64
}

// planPages assigns each section a page and top offset. A section that
// would cross the bottom margin starts a new page; a section taller than a
// whole page is placed at the top of its own page.
func planPages(sections []Section) []placement {
	placements := make([]placement, len(sections))
	page, y := 1, pdfMargin
	limit := pdfPageHeight - pdfBottomMargin
	for i, section := range sections {
		h := sectionHeight(section)
		if y > pdfMargin && y+h > limit {
			page++
			y = pdfMargin
		}
		placements[i] = placement{page: page, y: y}
		y += h + pdfSectionGap
	}
	return placements
}

func sectionHeight(section Section) float64 {
	var h float64
	for _, row := range section.Rows {
		h += rowHeight(row.Kind)
	}
	return h
}

func rowHeight(kind RowKind) float64 {
	if kind == RowTitle {
		return pdfTitleHeight
	}
	return pdfRowHeight
}

// columnWidth returns the width of span columns starting at col.
func columnWidth(section Section, col, span int) float64 {
	dayWidth := (pdfPageWidth - 2*pdfMargin - pdfLabelWidth) / float64(section.Days())
	var w float64
	for c := col; c < col+span; c++ {
		if c == 0 {
			w += pdfLabelWidth
		} else {
			w += dayWidth
		}
	}
	return w
}

func writePDFGrid(pdf *gofpdf.Fpdf, section Section, y float64) error {
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, row := range section.Rows {
		h := rowHeight(row.Kind)
		setRowFont(pdf, row.Kind)
		x, col := pdfMargin, 0
		for _, cell := range row.Cells {
			w := columnWidth(section, col, cell.Span)
			align := "C"
			if row.Kind == RowMeta || (col == 0 && cell.Span == 1) {
				align = "L"
			}
			fill := setPresenceFill(pdf, cell.Presence)
			pdf.SetXY(x, y)
			pdf.CellFormat(w, h, tr(cell.Text), "1", 0, align, fill, 0, "")
			x += w
			col += cell.Span
		}
		if col != section.Columns {
			return fmt.Errorf("row %d spans %d of %d columns", row.Kind, col, section.Columns)
		}
		y += h
	}
	return pdf.Error()
}

func setRowFont(pdf *gofpdf.Fpdf, kind RowKind) {
	switch {
	case kind == RowTitle:
		pdf.SetFont("Arial", "B", 12)
	case kind.Header():
		pdf.SetFont("Arial", "B", 7)
	default:
		pdf.SetFont("Arial", "", 6)
	}
}

func setPresenceFill(pdf *gofpdf.Fpdf, presence Presence) bool {
	switch presence {
	case PresencePresent:
		pdf.SetFillColor(198, 239, 206)
		return true
	case PresenceAbsent:
		pdf.SetFillColor(255, 199, 206)
		return true
	default:
		return false
	}
}

// renderPlainPDF writes every row as a line of text with no table layout.
func renderPlainPDF(sections []Section) ([]byte, error) {
	pdf := newAttendancePDF()
	pdf.SetFont("Courier", "", 6)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	y := pdfMargin + pdfTextLeading
	limit := pdfPageHeight - pdfBottomMargin
	for _, section := range sections {
		for _, row := range section.Rows {
			if y > limit {
				pdf.AddPage()
				y = pdfMargin + pdfTextLeading
			}
			pdf.Text(pdfMargin, y, tr(plainLine(row)))
			y += pdfTextLeading
		}
		y += pdfTextLeading
	}
	if pdf.Err() {
		return nil, pdf.Error()
	}
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func plainLine(row GridRow) string {
	parts := make([]string, 0, len(row.Cells))
	for _, cell := range row.Cells {
		text := cell.Text
		if text == "" {
			text = "-"
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}
