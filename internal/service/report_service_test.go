package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-attendance-api/internal/dto"
	"github.com/noah-isme/campus-attendance-api/internal/models"
	"github.com/noah-isme/campus-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/campus-attendance-api/pkg/errors"
	"github.com/noah-isme/campus-attendance-api/pkg/jobs"
)

type reportRepoStub struct {
	jobs map[string]*models.ReportJob
}

func newReportRepoStub() *reportRepoStub {
	return &reportRepoStub{jobs: map[string]*models.ReportJob{}}
}

func (r *reportRepoStub) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *reportRepoStub) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
	}
	return job, nil
}

func (r *reportRepoStub) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := r.jobs[id]
	if !ok {
		return errors.New("not found")
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *reportRepoStub) ListByStatus(ctx context.Context, statuses []models.ReportStatus, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range r.sorted() {
		for _, s := range statuses {
			if job.Status == s {
				out = append(out, *job)
			}
		}
	}
	return out, nil
}

func (r *reportRepoStub) ListByCreator(ctx context.Context, userID string, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range r.sorted() {
		if job.CreatedBy == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *reportRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range r.sorted() {
		if job.Status == models.ReportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *reportRepoStub) sorted() []*models.ReportJob {
	out := make([]*models.ReportJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type reportFixture struct {
	svc      *ReportService
	repo     *reportRepoStub
	queue    *queueStub
	exporter *ExportService
	worker   *ReportWorker
}

func newReportFixture(t *testing.T, tokenTTL time.Duration) reportFixture {
	t.Helper()
	repo := newReportRepoStub()
	queue := &queueStub{}
	exporter, source, _ := newExportServiceForTest(t, tokenTTL)
	svc := NewReportService(repo, source, queue, exporter, nil, zap.NewNop(), ReportServiceConfig{
		ResultTTL:       time.Hour,
		CleanupInterval: time.Hour,
	})
	return reportFixture{svc: svc, repo: repo, queue: queue, exporter: exporter, worker: NewReportWorker(repo, exporter, zap.NewNop())}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func staffClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStaff}
}

func TestReportServiceGenerateCombined(t *testing.T) {
	f := newReportFixture(t, time.Hour)

	artifact, err := f.svc.GenerateCombined(context.Background(), dto.CombinedReportRequest{Year: 2025, Month: 9, UserIDs: []string{"u-1", "u-2"}})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", artifact.ContentType)
	assert.Contains(t, artifact.Filename, "attendance_combined_")
	assert.NotEmpty(t, artifact.Data)
}

func TestReportServiceGenerateCombinedNothingToExport(t *testing.T) {
	f := newReportFixture(t, time.Hour)

	_, err := f.svc.GenerateCombined(context.Background(), dto.CombinedReportRequest{Year: 2025, Month: 9, UserIDs: []string{"ghost"}})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNothingToExport.Code, appErr.Code)
	assert.Equal(t, 422, appErr.Status)
}

func TestReportServiceGenerateCombinedEmptySelection(t *testing.T) {
	f := newReportFixture(t, time.Hour)

	for _, ids := range [][]string{nil, {}, {"  "}} {
		artifact, err := f.svc.GenerateCombined(context.Background(), dto.CombinedReportRequest{Year: 2025, Month: 9, UserIDs: ids})
		require.Error(t, err, "%q", ids)
		assert.Nil(t, artifact)
		assert.ErrorIs(t, err, appErrors.ErrNothingToExport)
		assert.Equal(t, 422, appErrors.FromError(err).Status)
	}
	assert.Empty(t, f.repo.jobs)
}

func TestReportServiceGenerateSingle(t *testing.T) {
	f := newReportFixture(t, time.Hour)

	artifact, err := f.svc.GenerateSingle(context.Background(), "u-2", dto.SingleReportRequest{Year: 2025, Month: 9, Format: models.ReportFormatXLSX})
	require.NoError(t, err)
	assert.Equal(t, "attendance_Budi_September_2025.xlsx", artifact.Filename)

	_, err = f.svc.GenerateSingle(context.Background(), "u-2", dto.SingleReportRequest{Year: 2025, Month: 0})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceCreateJob(t *testing.T) {
	f := newReportFixture(t, time.Hour)
	resp, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:    models.ReportTypeAttendanceCombined,
		Year:    2025,
		Month:   9,
		UserIDs: []string{"u-1", "u-2", "u-1"},
		Format:  models.ReportFormatPDF,
	}, adminClaims())
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	assert.Equal(t, []string{"u-1", "u-2"}, f.repo.jobs[resp.ID].Params.UserIDs)
	assert.Equal(t, "admin-1", f.repo.jobs[resp.ID].CreatedBy)
}

func TestReportServiceCreateJobAccessRules(t *testing.T) {
	f := newReportFixture(t, time.Hour)
	ctx := context.Background()

	cases := []struct {
		name   string
		req    dto.ReportRequest
		claims *models.JWTClaims
		code   string
	}{
		{"staff combined", dto.ReportRequest{Type: models.ReportTypeAttendanceCombined, Year: 2025, Month: 9, Format: models.ReportFormatPDF}, staffClaims("u-1"), appErrors.ErrForbidden.Code},
		{"staff single for someone else", dto.ReportRequest{Type: models.ReportTypeAttendanceSingle, Year: 2025, Month: 9, UserIDs: []string{"u-2"}, Format: models.ReportFormatPDF}, staffClaims("u-1"), appErrors.ErrForbidden.Code},
		{"staff sessions without user", dto.ReportRequest{Type: models.ReportTypeAttendanceSessions, From: "2025-09-01", To: "2025-09-30", Format: models.ReportFormatCSV}, staffClaims("u-1"), appErrors.ErrForbidden.Code},
		{"single without user", dto.ReportRequest{Type: models.ReportTypeAttendanceSingle, Year: 2025, Month: 9, Format: models.ReportFormatPDF}, adminClaims(), appErrors.ErrValidation.Code},
		{"monthly csv", dto.ReportRequest{Type: models.ReportTypeAttendanceCombined, Year: 2025, Month: 9, Format: models.ReportFormatCSV}, adminClaims(), appErrors.ErrValidation.Code},
		{"monthly without month", dto.ReportRequest{Type: models.ReportTypeAttendanceCombined, Year: 2025, Format: models.ReportFormatPDF}, adminClaims(), appErrors.ErrValidation.Code},
		{"sessions xlsx", dto.ReportRequest{Type: models.ReportTypeAttendanceSessions, From: "2025-09-01", To: "2025-09-30", Format: models.ReportFormatXLSX}, adminClaims(), appErrors.ErrValidation.Code},
		{"combined empty selection", dto.ReportRequest{Type: models.ReportTypeAttendanceCombined, Year: 2025, Month: 9, UserIDs: []string{}, Format: models.ReportFormatPDF}, adminClaims(), appErrors.ErrNothingToExport.Code},
		{"unknown type", dto.ReportRequest{Type: "grades", Format: models.ReportFormatPDF}, adminClaims(), appErrors.ErrValidation.Code},
	}
	for _, tc := range cases {
		_, err := f.svc.CreateJob(ctx, tc.req, tc.claims)
		require.Error(t, err, tc.name)
		assert.Equal(t, tc.code, appErrors.FromError(err).Code, tc.name)
	}

	_, err := f.svc.CreateJob(ctx, dto.ReportRequest{Type: models.ReportTypeAttendanceSingle, Year: 2025, Month: 9, UserIDs: []string{"u-1"}, Format: models.ReportFormatPDF}, staffClaims("u-1"))
	require.NoError(t, err)
	assert.Len(t, f.queue.jobs, 1)
}

func TestReportServiceCreateJobEnqueueFailure(t *testing.T) {
	f := newReportFixture(t, time.Hour)
	f.queue.err = errors.New("queue full")

	_, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{
		Type: models.ReportTypeAttendanceCombined, Year: 2025, Month: 9, UserIDs: []string{"u-1"}, Format: models.ReportFormatPDF,
	}, adminClaims())
	require.Error(t, err)
	require.Len(t, f.repo.jobs, 1)
	for _, job := range f.repo.jobs {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
	}
}

func TestReportServiceGetStatusOwnership(t *testing.T) {
	f := newReportFixture(t, time.Hour)
	f.repo.jobs["job-1"] = &models.ReportJob{ID: "job-1", Type: models.ReportTypeAttendanceSingle, Status: models.ReportStatusQueued, CreatedBy: "u-1"}

	resp, err := f.svc.GetStatus(context.Background(), "job-1", staffClaims("u-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)

	_, err = f.svc.GetStatus(context.Background(), "job-1", staffClaims("u-2"))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.GetStatus(context.Background(), "job-1", adminClaims())
	assert.NoError(t, err)

	_, err = f.svc.GetStatus(context.Background(), "missing", adminClaims())
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	list, err := f.svc.ListJobs(context.Background(), staffClaims("u-1"), 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReportServiceJobRoundTrip(t *testing.T) {
	f := newReportFixture(t, time.Hour)
	ctx := context.Background()

	resp, err := f.svc.CreateJob(ctx, dto.ReportRequest{
		Type: models.ReportTypeAttendanceCombined, Year: 2025, Month: 9, UserIDs: []string{"u-1", "u-3"}, Format: models.ReportFormatXLSX,
	}, adminClaims())
	require.NoError(t, err)

	require.NoError(t, f.worker.Handle(ctx, f.queue.jobs[0]))
	status, err := f.svc.GetStatus(ctx, resp.ID, adminClaims())
	require.NoError(t, err)
	require.Equal(t, models.ReportStatusFinished, status.Status)
	require.NotNil(t, status.ResultURL)

	token := extractToken(*status.ResultURL)
	download, err := f.svc.ResolveDownload(ctx, token)
	require.NoError(t, err)
	defer download.Reader.Close()
	data, err := io.ReadAll(download.Reader)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, models.ReportFormatXLSX.ContentType(), download.ContentType)
	assert.Contains(t, download.Filename, "attendance_combined_")
}

func TestReportServiceResolveDownloadErrors(t *testing.T) {
	f := newReportFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.svc.ResolveDownload(ctx, "garbage")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	f.repo.jobs["job-1"] = &models.ReportJob{ID: "job-1", Type: models.ReportTypeAttendanceSingle,
		Params: models.ReportJobParams{Year: 2025, Month: 9, UserIDs: []string{"u-1"}, Format: models.ReportFormatPDF}, Status: models.ReportStatusQueued}
	result, err := f.exporter.Generate(ctx, f.repo.jobs["job-1"])
	require.NoError(t, err)
	f.repo.jobs["job-1"].ResultURL = &result.URL

	_, err = f.svc.ResolveDownload(ctx, result.Token)
	assert.Equal(t, appErrors.ErrReportNotReady.Code, appErrors.FromError(err).Code)

	f.repo.jobs["job-1"].Status = models.ReportStatusFinished
	other := "/api/v1/export/other"
	f.repo.jobs["job-1"].ResultURL = &other
	_, err = f.svc.ResolveDownload(ctx, result.Token)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportServiceResolveDownloadExpired(t *testing.T) {
	f := newReportFixture(t, time.Nanosecond)
	ctx := context.Background()

	f.repo.jobs["job-1"] = &models.ReportJob{ID: "job-1", Type: models.ReportTypeAttendanceSingle,
		Params: models.ReportJobParams{Year: 2025, Month: 9, UserIDs: []string{"u-1"}, Format: models.ReportFormatPDF}, Status: models.ReportStatusFinished}
	result, err := f.exporter.Generate(ctx, f.repo.jobs["job-1"])
	require.NoError(t, err)
	f.repo.jobs["job-1"].ResultURL = &result.URL

	time.Sleep(5 * time.Millisecond)
	_, err = f.svc.ResolveDownload(ctx, result.Token)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrLinkExpired.Code, appErr.Code)
	assert.Equal(t, 410, appErr.Status)
}

func TestReportServiceCleanupExpiresFinishedJobs(t *testing.T) {
	f := newReportFixture(t, time.Hour)
	ctx := context.Background()

	job := &models.ReportJob{ID: "job-old", Type: models.ReportTypeAttendanceSingle,
		Params: models.ReportJobParams{Year: 2025, Month: 9, UserIDs: []string{"u-1"}, Format: models.ReportFormatPDF}}
	f.repo.jobs[job.ID] = job
	result, err := f.exporter.Generate(ctx, job)
	require.NoError(t, err)
	finished := time.Now().Add(-2 * time.Hour)
	job.Status = models.ReportStatusFinished
	job.FinishedAt = &finished
	job.ResultURL = &result.URL

	f.svc.cleanupExpired(ctx)

	assert.Equal(t, models.ReportStatusExpired, job.Status)
	_, err = f.exporter.Open(ctx, result.Key)
	assert.Error(t, err)

	_, err = f.svc.ResolveDownload(ctx, result.Token)
	assert.Equal(t, appErrors.ErrLinkExpired.Code, appErrors.FromError(err).Code)
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	f := newReportFixture(t, time.Hour)
	f.repo.jobs["a"] = &models.ReportJob{ID: "a", Type: models.ReportTypeAttendanceCombined, Status: models.ReportStatusQueued}
	f.repo.jobs["b"] = &models.ReportJob{ID: "b", Type: models.ReportTypeAttendanceCombined, Status: models.ReportStatusProcessing, Progress: 10}
	f.repo.jobs["c"] = &models.ReportJob{ID: "c", Type: models.ReportTypeAttendanceCombined, Status: models.ReportStatusFinished}

	f.svc.RecoverPendingJobs(context.Background())

	require.Len(t, f.queue.jobs, 2)
	assert.Equal(t, models.ReportStatusQueued, f.repo.jobs["b"].Status)
	assert.Equal(t, 0, f.repo.jobs["b"].Progress)
}

type exportStub struct {
	result *ExportResult
	err    error
}

func (e exportStub) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func queuedJobRepo() *reportRepoStub {
	return &reportRepoStub{
		jobs: map[string]*models.ReportJob{
			"job-1": {
				ID:        "job-1",
				Type:      models.ReportTypeAttendanceCombined,
				Params:    models.ReportJobParams{Year: 2025, Month: 9, Format: models.ReportFormatPDF},
				Status:    models.ReportStatusQueued,
				CreatedBy: "admin",
			},
		},
	}
}

func TestReportWorkerHandleSuccess(t *testing.T) {
	repo := queuedJobRepo()
	worker := NewReportWorker(repo, exportStub{result: &ExportResult{URL: "/api/v1/export/token"}}, zap.NewNop())

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}))
	require.Equal(t, models.ReportStatusFinished, repo.jobs["job-1"].Status)
	require.Equal(t, 100, repo.jobs["job-1"].Progress)
}

func TestReportWorkerHandleTransientFailure(t *testing.T) {
	repo := queuedJobRepo()
	metrics := NewMetricsService()
	worker := NewReportWorker(repo, exportStub{err: errors.New("storage unavailable")}, zap.NewNop()).WithMetrics(metrics)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	require.Error(t, err)
	require.Equal(t, models.ReportStatusQueued, repo.jobs["job-1"].Status)
	require.Equal(t, "storage unavailable", *repo.jobs["job-1"].ErrorMessage)

	worker.OnExhausted(context.Background(), jobs.Job{ID: "job-1", Attempt: 3}, err)
	require.Equal(t, models.ReportStatusFailed, repo.jobs["job-1"].Status)
	require.NotNil(t, repo.jobs["job-1"].FinishedAt)
	require.Equal(t, uint64(1), metrics.Snapshot().JobsFailed)
}

func TestReportWorkerHandlePermanentFailure(t *testing.T) {
	repo := queuedJobRepo()
	worker := NewReportWorker(repo, exportStub{err: appErrors.Clone(appErrors.ErrNothingToExport, "no sessions for 2025-09")}, zap.NewNop())

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}))
	require.Equal(t, models.ReportStatusFailed, repo.jobs["job-1"].Status)
}
