package dto

import "github.com/noah-isme/campus-attendance-api/pkg/attendance"

// AttendanceSessionsRequest captures query parameters for /attendance/sessions.
type AttendanceSessionsRequest struct {
	From    string `form:"from" validate:"required,datetime=2006-01-02"`
	To      string `form:"to" validate:"required,datetime=2006-01-02"`
	UserID  string `form:"userId" validate:"omitempty,max=64"`
	College string `form:"college" validate:"omitempty,max=128"`
}

// MonthlyAttendanceRequest selects users and a calendar month. An empty
// UserIDs selects every user with attendance in the month.
type MonthlyAttendanceRequest struct {
	Year    int      `form:"year" json:"year" validate:"required,min=1970,max=9999"`
	Month   int      `form:"month" json:"month" validate:"required,min=1,max=12"`
	UserIDs []string `form:"userIds" json:"userIds" validate:"omitempty,dive,required,max=64"`
	College string   `form:"college" json:"college" validate:"omitempty,max=128"`
}

// AttendanceSessionsResponse is the /attendance/sessions payload.
type AttendanceSessionsResponse struct {
	Sessions []attendance.Session    `json:"sessions"`
	Stats    attendance.PairingStats `json:"stats"`
}
