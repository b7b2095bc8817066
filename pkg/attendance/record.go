package attendance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventType distinguishes check-in from check-out observations.
type EventType string

const (
	CheckIn  EventType = "check_in"
	CheckOut EventType = "check_out"
)

// ErrUnknownEventType is returned for labels that map to neither direction.
var ErrUnknownEventType = errors.New("unknown attendance event type")

// ParseEventType maps canonical and legacy labels onto an EventType.
func ParseEventType(label string) (EventType, error) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	normalized = strings.NewReplacer("-", "", "_", "", " ", "").Replace(normalized)
	switch normalized {
	case "checkin", "in", "clockin":
		return CheckIn, nil
	case "checkout", "out", "clockout":
		return CheckOut, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, label)
	}
}

// Event is a single observed check-in or check-out.
type Event struct {
	Type       string   `json:"type"`
	Timestamp  string   `json:"timestamp"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Record is the raw per user, per day unit fed to the pairing engine.
// A non-empty Events wins over the flattened CheckinTimes/CheckoutTimes
// arrays, which are then ignored even if every event label is unknown.
type Record struct {
	UserID        string
	UserName      string
	College       string
	Method        string
	Date          string
	Events        []Event
	CheckinTimes  []string
	CheckoutTimes []string
	Latitude      *float64
	Longitude     *float64
}

// HasData reports whether the record carries anything to pair.
func (r Record) HasData() bool {
	return len(r.Events) > 0 || len(r.CheckinTimes) > 0 || len(r.CheckoutTimes) > 0
}

// Session is one reconciled check-in/check-out interval.
type Session struct {
	UserID       string     `json:"userId"`
	UserName     string     `json:"userName"`
	College      string     `json:"college,omitempty"`
	Date         string     `json:"date"`
	CheckinTime  time.Time  `json:"checkinTime"`
	CheckoutTime *time.Time `json:"checkoutTime,omitempty"`
	WorkingHours float64    `json:"workingHours"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	IsPending    bool       `json:"isPending"`
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02 15:04:05Z07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTimestamp converts a raw timestamp into an instant. Zone-less layouts
// are interpreted in loc (UTC when nil); all-digit values of 12+ digits are
// treated as epoch milliseconds.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if len(value) >= 12 && isDigits(value) {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return time.UnixMilli(ms).In(loc), nil
		}
	}
	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
