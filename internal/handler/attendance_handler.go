package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-attendance-api/internal/dto"
	"github.com/noah-isme/campus-attendance-api/internal/middleware"
	"github.com/noah-isme/campus-attendance-api/internal/models"
	"github.com/noah-isme/campus-attendance-api/internal/service"
	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
	appErrors "github.com/noah-isme/campus-attendance-api/pkg/errors"
	"github.com/noah-isme/campus-attendance-api/pkg/response"
)

type attendanceService interface {
	Sessions(ctx context.Context, req dto.AttendanceSessionsRequest) (*dto.AttendanceSessionsResponse, error)
	Monthly(ctx context.Context, req dto.MonthlyAttendanceRequest) ([]*attendance.MonthlyAttendanceData, bool, error)
	InvalidateMonth(ctx context.Context, year, month int) error
}

type sessionsExporter interface {
	RenderSessions(resp *dto.AttendanceSessionsResponse, from, to string, format models.ReportFormat) (*service.ReportArtifact, error)
}

// AttendanceHandler serves paired sessions and monthly summaries.
type AttendanceHandler struct {
	service  attendanceService
	exporter sessionsExporter
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(service attendanceService, exporter sessionsExporter) *AttendanceHandler {
	return &AttendanceHandler{service: service, exporter: exporter}
}

// Sessions godoc
// @Summary List paired attendance sessions
// @Tags Attendance
// @Produce json
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Param userId query string false "User ID; staff may only pass their own"
// @Param college query string false "College"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions [get]
func (h *AttendanceHandler) Sessions(c *gin.Context) {
	req, ok := h.sessionsRequest(c)
	if !ok {
		return
	}
	resp, err := h.service.Sessions(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, map[string]interface{}{
		"count": len(resp.Sessions),
	})
}

// ExportSessions godoc
// @Summary Download paired sessions as CSV or PDF
// @Tags Attendance
// @Produce octet-stream
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Param userId query string false "User ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /attendance/sessions/export [get]
func (h *AttendanceHandler) ExportSessions(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export not configured"))
		return
	}
	req, ok := h.sessionsRequest(c)
	if !ok {
		return
	}
	format := models.ReportFormat(c.DefaultQuery("format", string(models.ReportFormatCSV)))
	resp, err := h.service.Sessions(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	artifact, err := h.exporter.RenderSessions(resp, req.From, req.To, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, artifact.Filename, artifact.ContentType, artifact.Data)
}

func (h *AttendanceHandler) sessionsRequest(c *gin.Context) (dto.AttendanceSessionsRequest, bool) {
	var req dto.AttendanceSessionsRequest
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return req, false
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return req, false
	}
	if !isReportAdmin(claims) {
		if req.UserID != "" && req.UserID != claims.UserID {
			response.Error(c, appErrors.ErrForbidden)
			return req, false
		}
		req.UserID = claims.UserID
	}
	return req, true
}

// Monthly godoc
// @Summary Monthly attendance buckets
// @Tags Attendance
// @Produce json
// @Param year query int true "Year"
// @Param month query int true "Month (1-12)"
// @Param userIds query []string false "User IDs, repeated or comma separated"
// @Param college query string false "College"
// @Success 200 {object} response.Envelope
// @Router /attendance/monthly [get]
func (h *AttendanceHandler) Monthly(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	year, month, ok := yearMonth(c)
	if !ok {
		return
	}
	req := dto.MonthlyAttendanceRequest{
		Year:    year,
		Month:   month,
		UserIDs: queryList(c, "userIds"),
		College: c.Query("college"),
	}
	if !isReportAdmin(claims) {
		for _, id := range req.UserIDs {
			if id != claims.UserID {
				response.Error(c, appErrors.ErrForbidden)
				return
			}
		}
		req.UserIDs = []string{claims.UserID}
	}

	buckets, hit, err := h.service.Monthly(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, buckets, middleware.ExtractMeta(c))
}

// InvalidateMonthly godoc
// @Summary Drop cached monthly summaries
// @Tags Attendance
// @Param year query int true "Year"
// @Param month query int true "Month (1-12)"
// @Success 204
// @Router /attendance/monthly/cache [delete]
func (h *AttendanceHandler) InvalidateMonthly(c *gin.Context) {
	year, month, ok := yearMonth(c)
	if !ok {
		return
	}
	if err := h.service.InvalidateMonth(c.Request.Context(), year, month); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func yearMonth(c *gin.Context) (int, int, bool) {
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "year must be a number"))
		return 0, 0, false
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "month must be a number"))
		return 0, 0, false
	}
	return year, month, true
}
