package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
)

const (
	xlsxSheetName = "Attendance"
	pointsPerMM   = 72 / 25.4
)

// AttendanceXLSXRenderer renders the same sections as AttendancePDFRenderer
// stacked on a single worksheet.
type AttendanceXLSXRenderer struct {
	loc *time.Location
}

// NewAttendanceXLSXRenderer builds a spreadsheet renderer printing times in loc.
func NewAttendanceXLSXRenderer(loc *time.Location) *AttendanceXLSXRenderer {
	if loc == nil {
		loc = time.UTC
	}
	return &AttendanceXLSXRenderer{loc: loc}
}

// RenderSingle renders one user's month.
func (r *AttendanceXLSXRenderer) RenderSingle(data *attendance.MonthlyAttendanceData) ([]byte, error) {
	return r.RenderCombined([]*attendance.MonthlyAttendanceData{data})
}

// RenderCombined writes one block per bucket with a page break between blocks.
func (r *AttendanceXLSXRenderer) RenderCombined(items []*attendance.MonthlyAttendanceData) ([]byte, error) {
	sections := buildSections(items, r.loc)
	if len(sections) == 0 {
		return nil, ErrNothingToExport
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	styles, err := newXLSXStyles(f)
	if err != nil {
		return nil, err
	}
	orientation := "landscape"
	if err := f.SetPageLayout(xlsxSheetName, &excelize.PageLayoutOptions{Orientation: &orientation}); err != nil {
		return nil, fmt.Errorf("page layout: %w", err)
	}

	maxCols := 0
	row := 1
	for i, section := range sections {
		if i > 0 {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.InsertPageBreak(xlsxSheetName, cell); err != nil {
				return nil, fmt.Errorf("page break: %w", err)
			}
		}
		if err := writeXLSXSection(f, styles, section, row); err != nil {
			return nil, err
		}
		row += len(section.Rows) + 1
		if section.Columns > maxCols {
			maxCols = section.Columns
		}
	}

	if err := f.SetColWidth(xlsxSheetName, "A", "A", 12); err != nil {
		return nil, fmt.Errorf("column width: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(maxCols)
	if err := f.SetColWidth(xlsxSheetName, "B", last, 6.5); err != nil {
		return nil, fmt.Errorf("column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

type xlsxStyles struct {
	title   int
	header  int
	body    int
	present int
	absent  int
}

func newXLSXStyles(f *excelize.File) (xlsxStyles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "#000000", Style: 1},
		{Type: "right", Color: "#000000", Style: 1},
		{Type: "top", Color: "#000000", Style: 1},
		{Type: "bottom", Color: "#000000", Style: 1},
	}
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center"}
	definitions := []*excelize.Style{
		{Font: &excelize.Font{Bold: true, Size: 14}, Alignment: center, Border: border},
		{Font: &excelize.Font{Bold: true, Size: 10}, Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1}, Alignment: center, Border: border},
		{Font: &excelize.Font{Size: 9}, Alignment: center, Border: border},
		{Font: &excelize.Font{Bold: true, Size: 9, Color: "#006100"}, Fill: excelize.Fill{Type: "pattern", Color: []string{"#C6EFCE"}, Pattern: 1}, Alignment: center, Border: border},
		{Font: &excelize.Font{Bold: true, Size: 9, Color: "#9C0006"}, Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1}, Alignment: center, Border: border},
	}
	ids := make([]int, len(definitions))
	for i, def := range definitions {
		id, err := f.NewStyle(def)
		if err != nil {
			return xlsxStyles{}, fmt.Errorf("create style: %w", err)
		}
		ids[i] = id
	}
	return xlsxStyles{title: ids[0], header: ids[1], body: ids[2], present: ids[3], absent: ids[4]}, nil
}

func writeXLSXSection(f *excelize.File, styles xlsxStyles, section Section, top int) error {
	for r, gridRow := range section.Rows {
		rowNum := top + r
		col := 1
		for _, cell := range gridRow.Cells {
			start, _ := excelize.CoordinatesToCellName(col, rowNum)
			end, _ := excelize.CoordinatesToCellName(col+cell.Span-1, rowNum)
			if err := f.SetCellValue(xlsxSheetName, start, cell.Text); err != nil {
				return fmt.Errorf("set cell %s: %w", start, err)
			}
			if cell.Span > 1 {
				if err := f.MergeCell(xlsxSheetName, start, end); err != nil {
					return fmt.Errorf("merge %s:%s: %w", start, end, err)
				}
			}
			if err := f.SetCellStyle(xlsxSheetName, start, end, cellStyle(styles, gridRow.Kind, cell)); err != nil {
				return fmt.Errorf("style %s: %w", start, err)
			}
			col += cell.Span
		}
		if err := f.SetRowHeight(xlsxSheetName, rowNum, xlsxRowHeight(gridRow.Kind)); err != nil {
			return fmt.Errorf("row height %d: %w", rowNum, err)
		}
	}
	return nil
}

// xlsxRowHeight matches the PDF band height, in points.
func xlsxRowHeight(kind RowKind) float64 {
	return rowHeight(kind) * pointsPerMM
}

func cellStyle(styles xlsxStyles, kind RowKind, cell Cell) int {
	switch {
	case cell.Presence == PresencePresent:
		return styles.present
	case cell.Presence == PresenceAbsent:
		return styles.absent
	case kind == RowTitle:
		return styles.title
	case kind.Header():
		return styles.header
	default:
		return styles.body
	}
}
