package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
)

// AttendanceEvents is the JSONB events column of an attendance row.
type AttendanceEvents []attendance.Event

// Value marshals events to JSON for persistence.
func (e AttendanceEvents) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal([]attendance.Event(e))
	if err != nil {
		return nil, fmt.Errorf("marshal attendance events: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON array of events.
func (e *AttendanceEvents) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for AttendanceEvents", value)
	}
	if len(data) == 0 {
		*e = nil
		return nil
	}
	var events []attendance.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("unmarshal attendance events: %w", err)
	}
	*e = events
	return nil
}

// AttendanceRecord is one user's raw attendance for one day.
type AttendanceRecord struct {
	ID            string           `db:"id" json:"id"`
	UserID        string           `db:"user_id" json:"user_id"`
	UserName      string           `db:"user_name" json:"user_name"`
	College       *string          `db:"college" json:"college,omitempty"`
	Method        *string          `db:"method" json:"method,omitempty"`
	Date          time.Time        `db:"date" json:"date"`
	Events        AttendanceEvents `db:"events" json:"events,omitempty"`
	CheckinTimes  pq.StringArray   `db:"checkin_times" json:"checkin_times,omitempty"`
	CheckoutTimes pq.StringArray   `db:"checkout_times" json:"checkout_times,omitempty"`
	Latitude      *float64         `db:"latitude" json:"latitude,omitempty"`
	Longitude     *float64         `db:"longitude" json:"longitude,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// ToRecord converts the row into the pairing engine input.
func (r AttendanceRecord) ToRecord() attendance.Record {
	rec := attendance.Record{
		UserID:        r.UserID,
		UserName:      r.UserName,
		Date:          r.Date.Format("2006-01-02"),
		Events:        []attendance.Event(r.Events),
		CheckinTimes:  []string(r.CheckinTimes),
		CheckoutTimes: []string(r.CheckoutTimes),
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
	}
	if r.College != nil {
		rec.College = *r.College
	}
	if r.Method != nil {
		rec.Method = *r.Method
	}
	return rec
}

// AttendanceRecordFilter scopes attendance listing queries. Dates are inclusive.
type AttendanceRecordFilter struct {
	UserIDs  []string
	College  string
	DateFrom time.Time
	DateTo   time.Time
}
