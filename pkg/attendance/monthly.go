package attendance

import (
	"fmt"
	"math"
	"time"
)

// Row is the simplified per-session shape consumed by the aggregator.
type Row struct {
	UserID       string     `json:"userId"`
	UserName     string     `json:"userName"`
	College      string     `json:"college,omitempty"`
	Date         string     `json:"date"`
	CheckinTime  *time.Time `json:"checkinTime,omitempty"`
	CheckoutTime *time.Time `json:"checkoutTime,omitempty"`
	WorkingHours *float64   `json:"workingHours,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	Pending      bool       `json:"pending"`
}

// DayRecord is the representative attendance for one day of a bucket.
type DayRecord struct {
	Date         string     `json:"date"`
	CheckinTime  *time.Time `json:"checkinTime,omitempty"`
	CheckoutTime *time.Time `json:"checkoutTime,omitempty"`
	WorkingHours float64    `json:"workingHours"`
	Sessions     int        `json:"sessions"`
	Pending      bool       `json:"pending"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
}

// Summary carries the per-month counters of a bucket.
type Summary struct {
	Present           int     `json:"present"`
	Absent            int     `json:"absent"`
	TotalWorkingHours float64 `json:"totalWorkingHours"`
	TotalOvertime     float64 `json:"totalOvertime"`
}

// MonthlyAttendanceData is one (user, month, year) bucket. Days has one slot
// per calendar day; index d-1 holds day d and nil marks an absent day.
type MonthlyAttendanceData struct {
	UserID    string       `json:"userId"`
	UserName  string       `json:"userName"`
	Month     time.Month   `json:"monthNumber"`
	MonthName string       `json:"month"`
	Year      int          `json:"year"`
	Days      []*DayRecord `json:"dailyRecords"`
	Summary   Summary      `json:"summary"`
}

// Day returns the record for day-of-month d, or nil when absent or out of range.
func (m *MonthlyAttendanceData) Day(d int) *DayRecord {
	if m == nil || d < 1 || d > len(m.Days) {
		return nil
	}
	return m.Days[d-1]
}

// DaysInMonth returns the number of calendar days in month of year.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// EmptyMonth builds an all-absent bucket.
func EmptyMonth(userID, userName string, year int, month time.Month) *MonthlyAttendanceData {
	days := DaysInMonth(year, month)
	return &MonthlyAttendanceData{
		UserID:    userID,
		UserName:  userName,
		Month:     month,
		MonthName: month.String(),
		Year:      year,
		Days:      make([]*DayRecord, days),
		Summary:   Summary{Absent: days},
	}
}

// ParseDate accepts YYYY-MM-DD first and then any timestamp layout.
func ParseDate(raw string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d, nil
	}
	ts, err := ParseTimestamp(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable date %q", raw)
	}
	return ts, nil
}

// OvertimePolicy credits hours beyond a daily threshold as overtime.
type OvertimePolicy struct {
	DailyThresholdHours float64
}

// AggregateOptions tunes Aggregate.
type AggregateOptions struct {
	Overtime *OvertimePolicy
}

// SkippedRow reports an input row the aggregator could not bucket.
type SkippedRow struct {
	Index  int    `json:"index"`
	UserID string `json:"userId"`
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// MonthlyResult is the output of Aggregate. Buckets keep first-appearance order.
type MonthlyResult struct {
	Buckets []*MonthlyAttendanceData
	Skipped []SkippedRow
}

// ByUser indexes buckets by user id. When a user spans several months the
// latest bucket in input order wins; filter to one month before relying on it.
func (r MonthlyResult) ByUser() map[string]*MonthlyAttendanceData {
	out := make(map[string]*MonthlyAttendanceData, len(r.Buckets))
	for _, b := range r.Buckets {
		out[b.UserID] = b
	}
	return out
}

// For returns the bucket of userID for year/month, or nil.
func (r MonthlyResult) For(userID string, year int, month time.Month) *MonthlyAttendanceData {
	for _, b := range r.Buckets {
		if b.UserID == userID && b.Year == year && b.Month == month {
			return b
		}
	}
	return nil
}

type bucketKey struct {
	userID string
	year   int
	month  time.Month
}

// RowsFromSessions flattens sessions into aggregator rows.
func RowsFromSessions(sessions []Session) []Row {
	rows := make([]Row, 0, len(sessions))
	for _, s := range sessions {
		checkin := s.CheckinTime
		hours := s.WorkingHours
		rows = append(rows, Row{
			UserID:       s.UserID,
			UserName:     s.UserName,
			College:      s.College,
			Date:         s.Date,
			CheckinTime:  &checkin,
			CheckoutTime: s.CheckoutTime,
			WorkingHours: &hours,
			Latitude:     s.Latitude,
			Longitude:    s.Longitude,
			Pending:      s.IsPending,
		})
	}
	return rows
}

// Aggregate groups rows into monthly buckets keyed by (user, year, month).
// Rows for the same user and day are merged: earliest check-in, latest
// check-out, summed hours. Present counts distinct days, so
// Present+Absent always equals the month length.
func Aggregate(rows []Row, opts AggregateOptions) MonthlyResult {
	var result MonthlyResult
	index := make(map[bucketKey]*MonthlyAttendanceData)

	for i, row := range rows {
		date, err := ParseDate(row.Date)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedRow{Index: i, UserID: row.UserID, Date: row.Date, Reason: err.Error()})
			continue
		}
		key := bucketKey{userID: row.UserID, year: date.Year(), month: date.Month()}
		bucket, ok := index[key]
		if !ok {
			bucket = EmptyMonth(row.UserID, row.UserName, key.year, key.month)
			bucket.Summary.Absent = 0
			index[key] = bucket
			result.Buckets = append(result.Buckets, bucket)
		}
		if bucket.UserName == "" {
			bucket.UserName = row.UserName
		}

		hours := 0.0
		if row.WorkingHours != nil && !math.IsNaN(*row.WorkingHours) && *row.WorkingHours > 0 {
			hours = *row.WorkingHours
		}
		day := date.Day()
		existing := bucket.Days[day-1]
		if existing == nil {
			bucket.Days[day-1] = newDayRecord(date, row, hours)
			bucket.Summary.Present++
		} else {
			mergeDay(existing, row, hours)
		}
		bucket.Summary.TotalWorkingHours += hours
	}

	for _, bucket := range result.Buckets {
		days := len(bucket.Days)
		bucket.Summary.Absent = days - bucket.Summary.Present
		if bucket.Summary.Absent < 0 {
			bucket.Summary.Absent = 0
		}
		if opts.Overtime != nil && opts.Overtime.DailyThresholdHours > 0 {
			bucket.Summary.TotalOvertime = overtime(bucket.Days, opts.Overtime.DailyThresholdHours)
		}
	}
	return result
}

func newDayRecord(date time.Time, row Row, hours float64) *DayRecord {
	rec := &DayRecord{
		Date:         date.Format("2006-01-02"),
		CheckinTime:  row.CheckinTime,
		WorkingHours: hours,
		Sessions:     1,
		Pending:      row.Pending || row.CheckoutTime == nil,
		Latitude:     row.Latitude,
		Longitude:    row.Longitude,
	}
	if !row.Pending {
		rec.CheckoutTime = row.CheckoutTime
	}
	return rec
}

func mergeDay(rec *DayRecord, row Row, hours float64) {
	rec.Sessions++
	rec.WorkingHours += hours
	if row.CheckinTime != nil && (rec.CheckinTime == nil || row.CheckinTime.Before(*rec.CheckinTime)) {
		rec.CheckinTime = row.CheckinTime
	}
	if !row.Pending && row.CheckoutTime != nil {
		if rec.CheckoutTime == nil || row.CheckoutTime.After(*rec.CheckoutTime) {
			rec.CheckoutTime = row.CheckoutTime
		}
		rec.Pending = false
	}
	if row.Latitude != nil && row.Longitude != nil {
		rec.Latitude, rec.Longitude = row.Latitude, row.Longitude
	}
}

func overtime(days []*DayRecord, threshold float64) float64 {
	var total float64
	for _, d := range days {
		if d != nil && d.WorkingHours > threshold {
			total += d.WorkingHours - threshold
		}
	}
	return total
}
