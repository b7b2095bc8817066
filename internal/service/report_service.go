package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-attendance-api/internal/dto"
	"github.com/noah-isme/campus-attendance-api/internal/models"
	"github.com/noah-isme/campus-attendance-api/internal/repository"
	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
	appErrors "github.com/noah-isme/campus-attendance-api/pkg/errors"
	"github.com/noah-isme/campus-attendance-api/pkg/jobs"
	applog "github.com/noah-isme/campus-attendance-api/pkg/logger"
	"github.com/noah-isme/campus-attendance-api/pkg/storage"
)

const cleanupBatchSize = 100

// SystemActorID is recorded as the creator of scheduled jobs.
const SystemActorID = "system"

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListByStatus(ctx context.Context, statuses []models.ReportStatus, limit int) ([]models.ReportJob, error)
	ListByCreator(ctx context.Context, userID string, limit int) ([]models.ReportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

type monthlyAttendance interface {
	Monthly(ctx context.Context, req dto.MonthlyAttendanceRequest) ([]*attendance.MonthlyAttendanceData, bool, error)
	MonthlyForUser(ctx context.Context, userID string, year, month int) (*attendance.MonthlyAttendanceData, error)
}

// ReportService serves synchronous report downloads and manages the
// lifecycle of asynchronous report jobs.
type ReportService struct {
	repo       reportJobStore
	attendance monthlyAttendance
	queue      jobDispatcher
	exporter   *ExportService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        ReportServiceConfig
}

// ReportServiceConfig governs queue recovery and cleanup.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	Metrics         *MetricsService
}

// ReportDownload aggregates resolved download data. The caller closes Reader.
type ReportDownload struct {
	Reader      io.ReadCloser
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// NewReportService constructs the report service.
func NewReportService(repo reportJobStore, source monthlyAttendance, queue jobDispatcher, exporter *ExportService, validate *validator.Validate, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ReportService{
		repo:       repo,
		attendance: source,
		queue:      queue,
		exporter:   exporter,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
	}
}

// GenerateSingle renders one user's month for immediate download.
func (s *ReportService) GenerateSingle(ctx context.Context, userID string, req dto.SingleReportRequest) (*ReportArtifact, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report query")
	}
	data, err := s.attendance.MonthlyForUser(ctx, userID, req.Year, req.Month)
	if err != nil {
		return nil, err
	}
	return s.exporter.RenderSingle(data, req.Format)
}

// GenerateCombined renders every selected user's month into one document.
// An empty selection yields ErrNothingToExport; it never widens to all users.
func (s *ReportService) GenerateCombined(ctx context.Context, req dto.CombinedReportRequest) (*ReportArtifact, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid combined report payload")
	}
	userIDs := uniqueIDs(req.UserIDs)
	if len(userIDs) == 0 {
		return nil, emptySelectionError()
	}
	items, _, err := s.attendance.Monthly(ctx, dto.MonthlyAttendanceRequest{
		Year:    req.Year,
		Month:   req.Month,
		UserIDs: userIDs,
		College: req.College,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErrors.ErrNothingToExport
	}
	return s.exporter.RenderCombined(items, req.Format)
}

// CreateJob validates request, persists job, and enqueues processing.
func (s *ReportService) CreateJob(ctx context.Context, req dto.ReportRequest, claims *models.JWTClaims) (*dto.ReportJobResponse, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validateRequest(req, claims); err != nil {
		return nil, err
	}
	job := &models.ReportJob{
		Type: req.Type,
		Params: models.ReportJobParams{
			Year:    req.Year,
			Month:   req.Month,
			UserIDs: uniqueIDs(req.UserIDs),
			College: req.College,
			From:    req.From,
			To:      req.To,
			Format:  req.Format,
		},
		Status:    models.ReportStatusQueued,
		CreatedBy: claims.UserID,
	}
	return s.submit(ctx, job)
}

// ScheduleCombined queues a combined monthly report on behalf of the system.
func (s *ReportService) ScheduleCombined(ctx context.Context, year, month int, userIDs []string, format models.ReportFormat) (*dto.ReportJobResponse, error) {
	if len(uniqueIDs(userIDs)) == 0 {
		return nil, emptySelectionError()
	}
	job := &models.ReportJob{
		Type: models.ReportTypeAttendanceCombined,
		Params: models.ReportJobParams{
			Year:    year,
			Month:   month,
			UserIDs: uniqueIDs(userIDs),
			Format:  monthlyFormat(format),
		},
		Status:    models.ReportStatusQueued,
		CreatedBy: SystemActorID,
	}
	return s.submit(ctx, job)
}

func (s *ReportService) submit(ctx context.Context, job *models.ReportJob) (*dto.ReportJobResponse, error) {
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		status := models.ReportStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		progress := 100
		_ = s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		s.cfg.Metrics.ObserveReportJob(status)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	s.cfg.Metrics.ObserveReportJob(job.Status)
	applog.WithContext(ctx, s.logger).Info("report job queued", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.String("created_by", job.CreatedBy))
	return &dto.ReportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// GetStatus exposes job metadata to clients. Staff only see their own jobs.
func (s *ReportService) GetStatus(ctx context.Context, id string, claims *models.JWTClaims) (*dto.ReportStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, jobLoadError(err)
	}
	if !canSeeJob(job, claims) {
		return nil, appErrors.ErrForbidden
	}
	return statusResponse(job), nil
}

// ListJobs returns the caller's most recent jobs.
func (s *ReportService) ListJobs(ctx context.Context, claims *models.JWTClaims, limit int) ([]dto.ReportStatusResponse, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	records, err := s.repo.ListByCreator(ctx, claims.UserID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list report jobs")
	}
	out := make([]dto.ReportStatusResponse, 0, len(records))
	for i := range records {
		out = append(out, *statusResponse(&records[i]))
	}
	return out, nil
}

// ResolveDownload validates token and opens the stored artifact.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	parsed, err := s.exporter.ParseToken(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.ErrLinkExpired
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	job, err := s.repo.GetByID(ctx, parsed.JobID)
	if err != nil {
		return nil, jobLoadError(err)
	}
	if job.Status == models.ReportStatusExpired {
		return nil, appErrors.ErrLinkExpired
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ReportStatusFinished {
		return nil, appErrors.ErrReportNotReady
	}
	reader, err := s.exporter.Open(ctx, parsed.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErrors.Clone(appErrors.ErrLinkExpired, "report file is no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open report file")
	}
	return &ReportDownload{
		Reader:      reader,
		Filename:    path.Base(parsed.Key),
		ContentType: job.Params.Format.ContentType(),
		ExpiresAt:   parsed.ExpiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs and jobs interrupted mid-processing
// (e.g. after process restart).
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListByStatus(ctx, []models.ReportStatus{models.ReportStatusQueued, models.ReportStatusProcessing}, 50)
	if err != nil {
		s.logger.Warn("failed to recover report jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if job.Status == models.ReportStatusProcessing {
			queued := models.ReportStatusQueued
			reset := 0
			if err := s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{Status: &queued, Progress: &reset}); err != nil {
				s.logger.Warn("failed to reset interrupted job", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
		}
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue pending job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("recovered report jobs", zap.Int("count", len(pending)))
	}
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *ReportService) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, cleanupBatchSize)
		if err != nil {
			s.logger.Warn("cleanup list failed", zap.Error(err))
			return
		}
		for _, job := range expired {
			s.expireJob(ctx, job)
		}
		if len(expired) < cleanupBatchSize {
			break
		}
	}
	removed, err := s.exporter.Cleanup(ctx, s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("artifact cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("expired report artifacts removed", zap.Int("count", len(removed)))
	}
}

// expireJob deletes the job's artifact and clears its link so the job is not
// listed for cleanup again.
func (s *ReportService) expireJob(ctx context.Context, job models.ReportJob) {
	if job.ResultURL != nil {
		if token := extractToken(*job.ResultURL); token != "" {
			if parsed, err := s.exporter.ParseToken(token, true); err == nil {
				if err := s.exporter.Delete(ctx, parsed.Key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
					s.logger.Warn("cleanup delete failed", zap.String("job_id", job.ID), zap.Error(err))
					return
				}
			}
		}
	}
	expired := models.ReportStatusExpired
	empty := ""
	if err := s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{Status: &expired, ResultURL: &empty}); err != nil {
		s.logger.Warn("failed to mark job expired", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	s.cfg.Metrics.ObserveReportJob(expired)
}

func (s *ReportService) validateRequest(req dto.ReportRequest, claims *models.JWTClaims) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report request")
	}
	if !req.Type.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	}
	admin := claims.HasRole(models.ReportAdminRoles...)

	switch req.Type {
	case models.ReportTypeAttendanceSingle, models.ReportTypeAttendanceCombined:
		if req.Year == 0 || req.Month == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "year and month are required")
		}
		if req.Format == models.ReportFormatCSV {
			return appErrors.Clone(appErrors.ErrValidation, "monthly reports support pdf and xlsx")
		}
		if req.Type == models.ReportTypeAttendanceCombined {
			if !admin {
				return appErrors.ErrForbidden
			}
			if len(uniqueIDs(req.UserIDs)) == 0 {
				return emptySelectionError()
			}
		}
		if req.Type == models.ReportTypeAttendanceSingle {
			if len(uniqueIDs(req.UserIDs)) != 1 {
				return appErrors.Clone(appErrors.ErrValidation, "exactly one userId is required")
			}
			if !admin && req.UserIDs[0] != claims.UserID {
				return appErrors.ErrForbidden
			}
		}
	case models.ReportTypeAttendanceSessions:
		if req.From == "" || req.To == "" {
			return appErrors.Clone(appErrors.ErrValidation, "from and to are required")
		}
		if req.Format == models.ReportFormatXLSX {
			return appErrors.Clone(appErrors.ErrValidation, "session listings support csv and pdf")
		}
		if len(req.UserIDs) > 1 {
			return appErrors.Clone(appErrors.ErrValidation, "at most one userId is allowed")
		}
		if !admin && (len(req.UserIDs) == 0 || req.UserIDs[0] != claims.UserID) {
			return appErrors.ErrForbidden
		}
	}
	return nil
}

func emptySelectionError() error {
	return appErrors.Clone(appErrors.ErrNothingToExport, "no users selected")
}

func canSeeJob(job *models.ReportJob, claims *models.JWTClaims) bool {
	if claims == nil {
		return false
	}
	return claims.HasRole(models.ReportAdminRoles...) || job.CreatedBy == claims.UserID
}

func statusResponse(job *models.ReportJob) *dto.ReportStatusResponse {
	resp := &dto.ReportStatusResponse{
		ID:       job.ID,
		Type:     job.Type,
		Status:   job.Status,
		Progress: job.Progress,
	}
	if job.ResultURL != nil && *job.ResultURL != "" {
		resp.ResultURL = job.ResultURL
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp
}

func jobLoadError(err error) error {
	if errors.Is(err, appErrors.ErrNotFound) {
		return appErrors.Clone(appErrors.ErrNotFound, "report job not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
}

func extractToken(url string) string {
	if url == "" {
		return ""
	}
	parts := strings.Split(url, "/")
	return parts[len(parts)-1]
}

// ReportWorker bridges queue jobs to ExportService.
type ReportWorker struct {
	repo     reportJobStore
	exporter exportGenerator
	logger   *zap.Logger
	metrics  *MetricsService
}

// NewReportWorker constructs a worker.
func NewReportWorker(repo reportJobStore, exporter exportGenerator, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportWorker{repo: repo, exporter: exporter, logger: logger}
}

// WithMetrics reports job transitions to metrics.
func (w *ReportWorker) WithMetrics(metrics *MetricsService) *ReportWorker {
	w.metrics = metrics
	return w
}

// Handle processes a queue job. Errors that a retry cannot fix (validation,
// empty selection, missing users) fail the job immediately; anything else is
// returned so the queue retries it.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.ReportStatusProcessing
	progress := 10
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:   &processing,
		Progress: &progress,
	}); err != nil {
		return err
	}

	result, err := w.exporter.Generate(ctx, record)
	if err != nil {
		if permanentReportError(err) {
			w.markFailed(ctx, job.ID, err)
			return nil
		}
		msg := err.Error()
		queued := models.ReportStatusQueued
		reset := 0
		if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
			Status:       &queued,
			Progress:     &reset,
			ErrorMessage: &msg,
		}); updateErr != nil {
			w.logger.Warn("failed to mark job queued", zap.String("job_id", job.ID), zap.Error(updateErr))
		}
		return err
	}

	finished := models.ReportStatusFinished
	progress = 100
	now := time.Now().UTC()
	url := result.URL
	clear := ""
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:       &finished,
		Progress:     &progress,
		ResultURL:    &url,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark job finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	w.metrics.ObserveReportJob(finished)
	return nil
}

// OnExhausted marks a job failed once the queue gives up retrying it.
func (w *ReportWorker) OnExhausted(ctx context.Context, job jobs.Job, err error) {
	w.markFailed(ctx, job.ID, fmt.Errorf("gave up after %d attempts: %w", job.Attempt, err))
}

func (w *ReportWorker) markFailed(ctx context.Context, id string, cause error) {
	failed := models.ReportStatusFailed
	progress := 100
	now := time.Now().UTC()
	msg := cause.Error()
	if err := w.repo.Update(ctx, id, repository.UpdateReportJobParams{
		Status:       &failed,
		Progress:     &progress,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark job failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	w.metrics.ObserveReportJob(failed)
}

func permanentReportError(err error) bool {
	for _, target := range []error{appErrors.ErrValidation, appErrors.ErrNothingToExport, appErrors.ErrNotFound, appErrors.ErrForbidden} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
