package dto

import "github.com/noah-isme/campus-attendance-api/internal/models"

// CombinedReportRequest captures POST /reports/attendance/combined.
type CombinedReportRequest struct {
	Year    int                 `json:"year" validate:"required,min=1970,max=9999"`
	Month   int                 `json:"month" validate:"required,min=1,max=12"`
	UserIDs []string            `json:"userIds" validate:"omitempty,dive,required,max=64"`
	College string              `json:"college" validate:"omitempty,max=128"`
	Format  models.ReportFormat `json:"format" validate:"omitempty,oneof=pdf xlsx"`
}

// SingleReportRequest captures GET /reports/attendance/users/:id query parameters.
type SingleReportRequest struct {
	Year   int                 `form:"year" validate:"required,min=1970,max=9999"`
	Month  int                 `form:"month" validate:"required,min=1,max=12"`
	Format models.ReportFormat `form:"format" validate:"omitempty,oneof=pdf xlsx"`
}

// ReportRequest captures the POST /reports/generate payload.
type ReportRequest struct {
	Type    models.ReportType   `json:"type" validate:"required"`
	Year    int                 `json:"year" validate:"omitempty,min=1970,max=9999"`
	Month   int                 `json:"month" validate:"omitempty,min=1,max=12"`
	UserIDs []string            `json:"userIds" validate:"omitempty,dive,required,max=64"`
	College string              `json:"college" validate:"omitempty,max=128"`
	From    string              `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To      string              `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Format  models.ReportFormat `json:"format" validate:"required,oneof=pdf xlsx csv"`
}

// ReportJobResponse is returned after enqueueing a report.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse exposes job progress metadata.
type ReportStatusResponse struct {
	ID        string              `json:"id"`
	Type      models.ReportType   `json:"type"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"resultUrl,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
