package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-attendance-api/internal/dto"
	"github.com/noah-isme/campus-attendance-api/internal/middleware"
	"github.com/noah-isme/campus-attendance-api/internal/models"
	"github.com/noah-isme/campus-attendance-api/internal/service"
	appErrors "github.com/noah-isme/campus-attendance-api/pkg/errors"
	"github.com/noah-isme/campus-attendance-api/pkg/response"
)

type reportServiceMock struct {
	artifact    *service.ReportArtifact
	artifactErr error
	lastSingle  struct {
		userID string
		req    dto.SingleReportRequest
	}
	lastCombined dto.CombinedReportRequest
	createResp   *dto.ReportJobResponse
	createErr    error
	statusResp   *dto.ReportStatusResponse
	statusErr    error
	jobs         []dto.ReportStatusResponse
	download     *service.ReportDownload
	downloadErr  error
}

func (m *reportServiceMock) GenerateSingle(ctx context.Context, userID string, req dto.SingleReportRequest) (*service.ReportArtifact, error) {
	m.lastSingle.userID = userID
	m.lastSingle.req = req
	return m.artifact, m.artifactErr
}

func (m *reportServiceMock) GenerateCombined(ctx context.Context, req dto.CombinedReportRequest) (*service.ReportArtifact, error) {
	m.lastCombined = req
	return m.artifact, m.artifactErr
}

func (m *reportServiceMock) CreateJob(ctx context.Context, req dto.ReportRequest, claims *models.JWTClaims) (*dto.ReportJobResponse, error) {
	return m.createResp, m.createErr
}

func (m *reportServiceMock) GetStatus(ctx context.Context, id string, claims *models.JWTClaims) (*dto.ReportStatusResponse, error) {
	return m.statusResp, m.statusErr
}

func (m *reportServiceMock) ListJobs(ctx context.Context, claims *models.JWTClaims, limit int) ([]dto.ReportStatusResponse, error) {
	return m.jobs, nil
}

func (m *reportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *appErrors.Error {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	return env.Error
}

func TestReportHandlerSingleReport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{artifact: &service.ReportArtifact{
		Filename:    "attendance_Asha_September_2025.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.3"),
	}}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/attendance/users/u-1?year=2025&month=9", nil)
	c.Params = gin.Params{{Key: "id", Value: "u-1"}}
	handler.SingleReport(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="attendance_Asha_September_2025.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.3", w.Body.String())
	assert.Equal(t, "u-1", mockSvc.lastSingle.userID)
	assert.Equal(t, 9, mockSvc.lastSingle.req.Month)
}

func TestReportHandlerSingleReportBadQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewReportHandler(&reportServiceMock{})

	c, w := newGinContext(http.MethodGet, "/reports/attendance/users/u-1?year=abc", nil)
	c.Params = gin.Params{{Key: "id", Value: "u-1"}}
	handler.SingleReport(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportHandlerCombinedReportEmptySelection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{artifactErr: appErrors.ErrNothingToExport}
	handler := NewReportHandler(mockSvc)

	payload, _ := json.Marshal(dto.CombinedReportRequest{Year: 2025, Month: 9, UserIDs: []string{"ghost"}})
	c, w := newGinContext(http.MethodPost, "/reports/attendance/combined", payload)
	handler.CombinedReport(c)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NOTHING_TO_EXPORT", decodeError(t, w).Code)
	assert.Equal(t, []string{"ghost"}, mockSvc.lastCombined.UserIDs)
}

func TestReportHandlerCombinedReportNoUsersSelected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := service.NewReportService(nil, nil, nil, nil, nil, zap.NewNop(), service.ReportServiceConfig{})
	handler := NewReportHandler(svc)

	c, w := newGinContext(http.MethodPost, "/reports/attendance/combined", []byte(`{"year":2025,"month":9,"userIds":[]}`))
	handler.CombinedReport(c)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NOTHING_TO_EXPORT", decodeError(t, w).Code)
	assert.Empty(t, w.Header().Get("Content-Disposition"))
}

func TestReportHandlerCombinedReportXLSX(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{artifact: &service.ReportArtifact{
		Filename:    "attendance_combined_2025-10-01.xlsx",
		ContentType: models.ReportFormatXLSX.ContentType(),
		Data:        []byte("PK"),
	}}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodPost, "/reports/attendance/combined", []byte(`{"year":2025,"month":9,"format":"xlsx"}`))
	handler.CombinedReport(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance_combined_2025-10-01.xlsx")
	assert.Equal(t, models.ReportFormatXLSX, mockSvc.lastCombined.Format)
}

func TestReportHandlerGenerateReport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		createResp: &dto.ReportJobResponse{ID: "job-1", Status: models.ReportStatusQueued, Progress: 0},
	}
	handler := NewReportHandler(mockSvc)

	payload, _ := json.Marshal(dto.ReportRequest{Type: models.ReportTypeAttendanceCombined, Year: 2025, Month: 9, Format: models.ReportFormatPDF})
	c, w := newGinContext(http.MethodPost, "/reports/generate", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.GenerateReport(c)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestReportHandlerGenerateReportRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewReportHandler(&reportServiceMock{})

	c, w := newGinContext(http.MethodPost, "/reports/generate", []byte(`{}`))
	handler.GenerateReport(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReportHandlerReportStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		statusResp: &dto.ReportStatusResponse{ID: "job-1", Status: models.ReportStatusFinished, Progress: 100},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/status/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.ReportStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReportHandlerListJobs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{jobs: []dto.ReportStatusResponse{{ID: "job-1"}, {ID: "job-2"}}}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/jobs", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: models.RoleStaff})
	handler.ListJobs(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestReportHandlerDownloadReport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		download: &service.ReportDownload{
			Reader:      io.NopCloser(strings.NewReader("data")),
			Filename:    "attendance_sessions_2025-09-01_2025-09-30.csv",
			ContentType: "text/csv",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/export/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.DownloadReport(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance_sessions_2025-09-01_2025-09-30.csv")
}

func TestReportHandlerDownloadExpired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewReportHandler(&reportServiceMock{downloadErr: appErrors.ErrLinkExpired})

	c, w := newGinContext(http.MethodGet, "/export/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.DownloadReport(c)
	require.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "LINK_EXPIRED", decodeError(t, w).Code)
}
