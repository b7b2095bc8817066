package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

var sessionHeaders = []string{"User ID", "Name", "College", "Date", "Check In", "Check Out", "Working Hours", "Status", "Latitude", "Longitude"}

// SessionsDataset flattens paired sessions into one row per session.
// Timestamps are printed in loc (UTC when nil).
func SessionsDataset(sessions []attendance.Session, loc *time.Location) Dataset {
	if loc == nil {
		loc = time.UTC
	}
	rows := make([]map[string]string, 0, len(sessions))
	for _, s := range sessions {
		status := "complete"
		checkout := ""
		if s.IsPending {
			status = "pending"
		} else if s.CheckoutTime != nil {
			checkout = s.CheckoutTime.In(loc).Format(timeOfDayLayout)
		}
		rows = append(rows, map[string]string{
			"User ID":       s.UserID,
			"Name":          s.UserName,
			"College":       s.College,
			"Date":          s.Date,
			"Check In":      s.CheckinTime.In(loc).Format(timeOfDayLayout),
			"Check Out":     checkout,
			"Working Hours": FormatHours(s.WorkingHours),
			"Status":        status,
			"Latitude":      formatCoordinate(s.Latitude),
			"Longitude":     formatCoordinate(s.Longitude),
		})
	}
	return Dataset{Headers: sessionHeaders, Rows: rows}
}

func formatCoordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// PDFExporter renders datasets as a landscape table whose header row is
// repeated on every page.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfBottomMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	colWidth := (pdfPageWidth - 2*pdfMargin) / float64(len(data.Headers))

	header := func() {
		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(217, 225, 242)
		for _, h := range data.Headers {
			pdf.CellFormat(colWidth, pdfRowHeight, tr(h), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 7)
	}

	pdf.AddPage()
	if title != "" {
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, pdfTitleHeight, tr(strings.ToUpper(title)), "", 1, "C", false, 0, "")
		pdf.Ln(2)
	}
	header()

	limit := pdfPageHeight - pdfBottomMargin
	for _, row := range data.Rows {
		if pdf.GetY()+pdfRowHeight > limit {
			pdf.AddPage()
			header()
		}
		for _, h := range data.Headers {
			pdf.CellFormat(colWidth, pdfRowHeight, tr(row[h]), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
