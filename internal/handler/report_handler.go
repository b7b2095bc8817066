package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-attendance-api/internal/dto"
	"github.com/noah-isme/campus-attendance-api/internal/models"
	"github.com/noah-isme/campus-attendance-api/internal/service"
	appErrors "github.com/noah-isme/campus-attendance-api/pkg/errors"
	"github.com/noah-isme/campus-attendance-api/pkg/response"
)

type reportService interface {
	GenerateSingle(ctx context.Context, userID string, req dto.SingleReportRequest) (*service.ReportArtifact, error)
	GenerateCombined(ctx context.Context, req dto.CombinedReportRequest) (*service.ReportArtifact, error)
	CreateJob(ctx context.Context, req dto.ReportRequest, claims *models.JWTClaims) (*dto.ReportJobResponse, error)
	GetStatus(ctx context.Context, id string, claims *models.JWTClaims) (*dto.ReportStatusResponse, error)
	ListJobs(ctx context.Context, claims *models.JWTClaims, limit int) ([]dto.ReportStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error)
}

// ReportHandler exposes attendance report downloads and async report jobs.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(service reportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// SingleReport godoc
// @Summary Download one user's monthly attendance report
// @Tags Reports
// @Produce octet-stream
// @Param id path string true "User ID"
// @Param year query int true "Year"
// @Param month query int true "Month (1-12)"
// @Param format query string false "pdf or xlsx" default(pdf)
// @Success 200 {file} binary
// @Router /reports/attendance/users/{id} [get]
func (h *ReportHandler) SingleReport(c *gin.Context) {
	var req dto.SingleReportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	artifact, err := h.service.GenerateSingle(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeArtifact(c, artifact)
}

// CombinedReport godoc
// @Summary Download a combined monthly attendance report
// @Tags Reports
// @Accept json
// @Produce octet-stream
// @Param payload body dto.CombinedReportRequest true "Selection"
// @Success 200 {file} binary
// @Failure 422 {object} response.Envelope
// @Router /reports/attendance/combined [post]
func (h *ReportHandler) CombinedReport(c *gin.Context) {
	var req dto.CombinedReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid combined report payload"))
		return
	}
	artifact, err := h.service.GenerateCombined(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeArtifact(c, artifact)
}

func writeArtifact(c *gin.Context, artifact *service.ReportArtifact) {
	response.Attachment(c, artifact.Filename, artifact.ContentType, artifact.Data)
}

// GenerateReport godoc
// @Summary Queue an attendance report
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body dto.ReportRequest true "Report request"
// @Success 202 {object} response.Envelope
// @Router /reports/generate [post]
func (h *ReportHandler) GenerateReport(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid report request"))
		return
	}
	resp, err := h.service.CreateJob(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, resp)
}

// ReportStatus godoc
// @Summary Report job status
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /reports/status/{id} [get]
func (h *ReportHandler) ReportStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	resp, err := h.service.GetStatus(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp)
}

// ListJobs godoc
// @Summary Caller's recent report jobs
// @Tags Reports
// @Produce json
// @Param limit query int false "Max jobs" default(20)
// @Success 200 {object} response.Envelope
// @Router /reports/jobs [get]
func (h *ReportHandler) ListJobs(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	jobs, err := h.service.ListJobs(c.Request.Context(), claims, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobs, map[string]interface{}{"count": len(jobs)})
}

// DownloadReport godoc
// @Summary Download a finished report via signed token
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 410 {object} response.Envelope
// @Router /export/{token} [get]
func (h *ReportHandler) DownloadReport(c *gin.Context) {
	download, err := h.service.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.Reader.Close() //nolint:errcheck
	response.Stream(c, download.Filename, download.ContentType, -1, download.Reader)
}
