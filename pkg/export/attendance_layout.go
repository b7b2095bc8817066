package export

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
)

// ErrNothingToExport is returned when a combined report has no sections.
var ErrNothingToExport = errors.New("nothing to export")

const (
	reportTitle      = "ATTENDANCE REPORT"
	summarySpan      = 10
	missingTime      = "--:--"
	zeroHours        = "00:00"
	presentMarker    = "P"
	absentMarker     = "A"
	timeOfDayLayout  = "15:04"
	combinedDateForm = "2006-01-02"
)

// RowKind identifies a band of an attendance section.
type RowKind int

const (
	RowTitle RowKind = iota
	RowMeta
	RowSummaryHeader
	RowSummaryValues
	RowDayNumbers
	RowWeekdays
	RowCheckIn
	RowCheckOut
	RowWork
	RowStatus
)

// Header reports whether the band is rendered in bold.
func (k RowKind) Header() bool {
	switch k {
	case RowTitle, RowMeta, RowSummaryHeader, RowDayNumbers, RowWeekdays:
		return true
	default:
		return false
	}
}

// Presence marks a status cell.
type Presence int

const (
	PresenceNone Presence = iota
	PresencePresent
	PresenceAbsent
)

// Cell is a single grid cell spanning Span columns.
type Cell struct {
	Text     string
	Span     int
	Presence Presence
}

// GridRow is one band of cells whose spans add up to the section's column count.
type GridRow struct {
	Kind  RowKind
	Cells []Cell
}

// Section is the fixed block rendered for one user's month.
type Section struct {
	UserID  string
	Columns int
	Rows    []GridRow
}

// Days returns the number of day columns.
func (s Section) Days() int {
	return s.Columns - 1
}

// FormatHours renders fractional hours as HH:MM. Minutes are rounded on the
// total so 23.999999 becomes 24:00, never 23:60. Negative and NaN render 00:00.
func FormatHours(hours float64) string {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours <= 0 {
		return zeroHours
	}
	minutes := int64(math.Round(hours * 60))
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// BuildAttendanceSection lays out data as label rows over 1+daysInMonth
// columns. Times are shown in loc (UTC when nil).
func BuildAttendanceSection(data *attendance.MonthlyAttendanceData, loc *time.Location) Section {
	if loc == nil {
		loc = time.UTC
	}
	days := attendance.DaysInMonth(data.Year, data.Month)
	cols := days + 1
	left := cols / 2

	section := Section{UserID: data.UserID, Columns: cols}
	section.Rows = append(section.Rows,
		GridRow{Kind: RowTitle, Cells: []Cell{{Text: reportTitle, Span: cols}}},
		GridRow{Kind: RowMeta, Cells: []Cell{
			{Text: "Employee Name: " + data.UserName, Span: left},
			{Text: fmt.Sprintf("Report Month: %s %d", data.Month.String(), data.Year), Span: cols - left},
		}},
		GridRow{Kind: RowSummaryHeader, Cells: summaryCells(cols, "Present Days", "Absent Days", "Total Working Hours")},
		GridRow{Kind: RowSummaryValues, Cells: summaryCells(cols,
			strconv.Itoa(data.Summary.Present),
			strconv.Itoa(data.Summary.Absent),
			FormatHours(data.Summary.TotalWorkingHours),
		)},
	)

	numbers := labelled("", days)
	weekdays := labelled("Day", days)
	ins := labelled("IN", days)
	outs := labelled("OUT", days)
	work := labelled("WORK", days)
	status := labelled("Status", days)

	for d := 1; d <= days; d++ {
		numbers[d] = Cell{Text: strconv.Itoa(d), Span: 1}
		weekdays[d] = Cell{Text: time.Date(data.Year, data.Month, d, 0, 0, 0, 0, loc).Weekday().String()[:3], Span: 1}

		rec := dayRecord(data, d)
		if rec == nil {
			ins[d] = Cell{Text: missingTime, Span: 1}
			outs[d] = Cell{Text: missingTime, Span: 1}
			work[d] = Cell{Text: zeroHours, Span: 1}
			status[d] = Cell{Text: absentMarker, Span: 1, Presence: PresenceAbsent}
			continue
		}
		ins[d] = Cell{Text: clock(rec.CheckinTime, loc), Span: 1}
		if rec.Pending {
			outs[d] = Cell{Text: missingTime, Span: 1}
		} else {
			outs[d] = Cell{Text: clock(rec.CheckoutTime, loc), Span: 1}
		}
		work[d] = Cell{Text: FormatHours(rec.WorkingHours), Span: 1}
		status[d] = Cell{Text: presentMarker, Span: 1, Presence: PresencePresent}
	}

	section.Rows = append(section.Rows,
		GridRow{Kind: RowDayNumbers, Cells: numbers},
		GridRow{Kind: RowWeekdays, Cells: weekdays},
		GridRow{Kind: RowCheckIn, Cells: ins},
		GridRow{Kind: RowCheckOut, Cells: outs},
		GridRow{Kind: RowWork, Cells: work},
		GridRow{Kind: RowStatus, Cells: status},
	)
	return section
}

func summaryCells(cols int, present, absent, total string) []Cell {
	return []Cell{
		{Text: present, Span: summarySpan},
		{Text: absent, Span: summarySpan},
		{Text: total, Span: cols - 2*summarySpan},
	}
}

func labelled(label string, days int) []Cell {
	cells := make([]Cell, days+1)
	cells[0] = Cell{Text: label, Span: 1}
	return cells
}

// dayRecord tolerates a Days slice shorter than the calendar month.
func dayRecord(data *attendance.MonthlyAttendanceData, d int) *attendance.DayRecord {
	if d-1 >= len(data.Days) {
		return nil
	}
	return data.Days[d-1]
}

func clock(ts *time.Time, loc *time.Location) string {
	if ts == nil || ts.IsZero() {
		return missingTime
	}
	return ts.In(loc).Format(timeOfDayLayout)
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9]`)

// SingleReportFilename builds attendance_{name}_{Month}_{Year}.{ext}.
func SingleReportFilename(userName string, month time.Month, year int, ext string) string {
	return fmt.Sprintf("attendance_%s_%s_%d.%s", unsafeFilenameChars.ReplaceAllString(userName, "_"), month.String(), year, ext)
}

// CombinedReportFilename builds attendance_combined_{YYYY-MM-DD}.{ext}.
func CombinedReportFilename(now time.Time, ext string) string {
	return fmt.Sprintf("attendance_combined_%s.%s", now.Format(combinedDateForm), ext)
}
