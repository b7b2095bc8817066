package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-attendance-api/internal/dto"
	"github.com/noah-isme/campus-attendance-api/internal/models"
	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
	appErrors "github.com/noah-isme/campus-attendance-api/pkg/errors"
	"github.com/noah-isme/campus-attendance-api/pkg/export"
	"github.com/noah-isme/campus-attendance-api/pkg/storage"
)

type attendanceSource interface {
	Sessions(ctx context.Context, req dto.AttendanceSessionsRequest) (*dto.AttendanceSessionsResponse, error)
	Monthly(ctx context.Context, req dto.MonthlyAttendanceRequest) ([]*attendance.MonthlyAttendanceData, bool, error)
}

type monthlyRenderer interface {
	RenderSingle(data *attendance.MonthlyAttendanceData) ([]byte, error)
	RenderCombined(items []*attendance.MonthlyAttendanceData) ([]byte, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
	Location  *time.Location
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	Key       string
	Token     string
	URL       string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// ReportArtifact is a rendered report held in memory.
type ReportArtifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders attendance reports and persists them for download.
type ExportService struct {
	attendance attendanceSource
	store      storage.ArtifactStore
	pdf        monthlyRenderer
	xlsx       monthlyRenderer
	csv        csvRenderer
	listing    pdfRenderer
	signer     *storage.SignedURLSigner
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        ExportConfig
	now        func() time.Time
}

// NewExportService constructs an ExportService with the default renderers.
func NewExportService(source attendanceSource, store storage.ArtifactStore, signer *storage.SignedURLSigner, metrics *MetricsService, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ExportService{
		attendance: source,
		store:      store,
		pdf:        export.NewAttendancePDFRenderer(cfg.Location),
		xlsx:       export.NewAttendanceXLSXRenderer(cfg.Location),
		csv:        export.NewCSVExporter(),
		listing:    export.NewPDFExporter(),
		signer:     signer,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// RenderSingle renders one user's month. It never fails for an empty month:
// an all-absent bucket still renders.
func (s *ExportService) RenderSingle(data *attendance.MonthlyAttendanceData, format models.ReportFormat) (*ReportArtifact, error) {
	if data == nil {
		return nil, appErrors.ErrNothingToExport
	}
	format = monthlyFormat(format)
	renderer, err := s.monthlyRenderer(format)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := renderer.RenderSingle(data)
	s.observe(models.ReportTypeAttendanceSingle, format, start, err)
	if err != nil {
		return nil, translateRenderError(err)
	}
	return &ReportArtifact{
		Filename:    export.SingleReportFilename(data.UserName, data.Month, data.Year, string(format)),
		ContentType: format.ContentType(),
		Data:        out,
	}, nil
}

// RenderCombined renders every bucket in order into one document.
func (s *ExportService) RenderCombined(items []*attendance.MonthlyAttendanceData, format models.ReportFormat) (*ReportArtifact, error) {
	format = monthlyFormat(format)
	renderer, err := s.monthlyRenderer(format)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := renderer.RenderCombined(items)
	s.observe(models.ReportTypeAttendanceCombined, format, start, err)
	if err != nil {
		return nil, translateRenderError(err)
	}
	return &ReportArtifact{
		Filename:    export.CombinedReportFilename(s.now().In(s.cfg.Location), string(format)),
		ContentType: format.ContentType(),
		Data:        out,
	}, nil
}

// RenderSessions renders a flat session listing as CSV or PDF.
func (s *ExportService) RenderSessions(resp *dto.AttendanceSessionsResponse, from, to string, format models.ReportFormat) (*ReportArtifact, error) {
	dataset := export.SessionsDataset(resp.Sessions, s.cfg.Location)
	start := time.Now()
	var (
		out []byte
		err error
	)
	switch format {
	case models.ReportFormatCSV:
		out, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		out, err = s.listing.Render(dataset, fmt.Sprintf("Attendance sessions %s to %s", from, to))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("format %s is not supported for session listings", format))
	}
	s.observe(models.ReportTypeAttendanceSessions, format, start, err)
	if err != nil {
		return nil, translateRenderError(err)
	}
	return &ReportArtifact{
		Filename:    fmt.Sprintf("attendance_sessions_%s_%s.%s", from, to, format),
		ContentType: format.ContentType(),
		Data:        out,
	}, nil
}

// Generate renders the report a job describes, stores it and signs a download link.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	artifact, err := s.build(ctx, job)
	if err != nil {
		return nil, err
	}

	key := job.ID + "/" + artifact.Filename
	key, err = s.store.Save(ctx, key, artifact.Data)
	if err != nil {
		return nil, fmt.Errorf("store report artifact: %w", err)
	}

	token, expiresAt, err := s.signer.Generate(job.ID, key)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("report artifact stored",
		zap.String("job_id", job.ID), zap.String("key", key), zap.Int("bytes", len(artifact.Data)))

	return &ExportResult{
		Key:       key,
		Token:     token,
		URL:       fmt.Sprintf("%s/export/%s", prefix, token),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *ExportService) build(ctx context.Context, job *models.ReportJob) (*ReportArtifact, error) {
	params := job.Params
	switch job.Type {
	case models.ReportTypeAttendanceSingle, models.ReportTypeAttendanceCombined:
		if len(params.UserIDs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrNothingToExport, "no users selected")
		}
		items, _, err := s.attendance.Monthly(ctx, dto.MonthlyAttendanceRequest{
			Year:    params.Year,
			Month:   params.Month,
			UserIDs: params.UserIDs,
			College: params.College,
		})
		if err != nil {
			return nil, err
		}
		if job.Type == models.ReportTypeAttendanceSingle {
			if len(items) == 0 {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
			}
			return s.RenderSingle(items[0], params.Format)
		}
		return s.RenderCombined(items, params.Format)
	case models.ReportTypeAttendanceSessions:
		req := dto.AttendanceSessionsRequest{From: params.From, To: params.To, College: params.College}
		if len(params.UserIDs) > 0 {
			req.UserID = params.UserIDs[0]
		}
		resp, err := s.attendance.Sessions(ctx, req)
		if err != nil {
			return nil, err
		}
		return s.RenderSessions(resp, params.From, params.To, params.Format)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report type %s", job.Type))
	}
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (storage.DownloadToken, error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a reader over a stored artifact.
func (s *ExportService) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.store.Open(ctx, key)
}

// Delete removes a stored artifact.
func (s *ExportService) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

// Cleanup removes artifacts older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ctx context.Context, ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.store.CleanupOlderThan(ctx, ttl)
}

func (s *ExportService) monthlyRenderer(format models.ReportFormat) (monthlyRenderer, error) {
	switch format {
	case models.ReportFormatPDF:
		return s.pdf, nil
	case models.ReportFormatXLSX:
		return s.xlsx, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("format %s is not supported for monthly reports", format))
	}
}

// monthlyFormat defaults an unset format to PDF.
func monthlyFormat(format models.ReportFormat) models.ReportFormat {
	if format == "" {
		return models.ReportFormatPDF
	}
	return format
}

func (s *ExportService) observe(kind models.ReportType, format models.ReportFormat, start time.Time, err error) {
	outcome := ReportOutcomeSuccess
	switch {
	case errors.Is(err, export.ErrNothingToExport):
		outcome = ReportOutcomeEmpty
	case err != nil:
		outcome = ReportOutcomeError
		s.logger.Error("report rendering failed", zap.String("kind", string(kind)), zap.String("format", string(format)), zap.Error(err))
	}
	s.metrics.ObserveReport(string(kind), string(format), outcome, time.Since(start))
}

func translateRenderError(err error) error {
	if errors.Is(err, export.ErrNothingToExport) {
		return appErrors.ErrNothingToExport
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
}
