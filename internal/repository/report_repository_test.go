package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-attendance-api/internal/models"
	appErrors "github.com/noah-isme/campus-attendance-api/pkg/errors"
)

var reportJobRowColumns = []string{"id", "type", "params", "status", "progress", "result_url", "created_by", "created_at", "finished_at", "error_message"}

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestReportRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewReportRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_jobs")).
		WithArgs(sqlmock.AnyArg(), "attendance_combined", sqlmock.AnyArg(), "QUEUED", 0, nil, "user-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ReportJob{
		Type:      models.ReportTypeAttendanceCombined,
		Params:    models.ReportJobParams{Year: 2025, Month: 9, Format: models.ReportFormatPDF},
		CreatedBy: "user-1",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	require.NotEmpty(t, job.ID)

	rows := sqlmock.NewRows(reportJobRowColumns).
		AddRow(job.ID, "attendance_combined", `{"year":2025,"month":9,"userIds":["u-1","u-2"],"format":"pdf"}`, "QUEUED", 0, nil, "user-1", time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, fetched.ID)
	require.Equal(t, []string{"u-1", "u-2"}, fetched.Params.UserIDs)
	require.Equal(t, models.ReportFormatPDF, fetched.Params.Format)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestReportRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	now := time.Now()
	status := models.ReportStatusFinished
	progress := 100
	result := "/api/v1/export/token"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET status = $1, progress = $2, result_url = $3, finished_at = $4 WHERE id = $5")).
		WithArgs(status, progress, result, now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "job-1", UpdateReportJobParams{
		Status:     &status,
		Progress:   &progress,
		ResultURL:  &result,
		FinishedAt: &now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryUpdateMissingJob(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	status := models.ReportStatusExpired
	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET status = $1 WHERE id = $2")).
		WithArgs(status, "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewReportRepository(db).Update(context.Background(), "gone", UpdateReportJobParams{Status: &status})
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryUpdateNoop(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	require.NoError(t, NewReportRepository(db).Update(context.Background(), "job-1", UpdateReportJobParams{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	rows := sqlmock.NewRows(reportJobRowColumns).
		AddRow("job-1", "attendance_single", `{"year":2025,"month":9,"format":"pdf"}`, "QUEUED", 0, nil, "user-1", time.Now(), nil, nil).
		AddRow("job-2", "attendance_single", `{"year":2025,"month":9,"format":"xlsx"}`, "PROCESSING", 10, nil, "user-1", time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE status = ANY($1) ORDER BY created_at ASC LIMIT $2")).
		WithArgs(sqlmock.AnyArg(), 20).
		WillReturnRows(rows)

	jobs, err := repo.ListByStatus(context.Background(), []models.ReportStatus{models.ReportStatusQueued, models.ReportStatusProcessing}, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, models.ReportFormatXLSX, jobs[1].Params.Format)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListByCreator(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	rows := sqlmock.NewRows(reportJobRowColumns).
		AddRow("job-1", "attendance_sessions", `{"from":"2025-09-01","to":"2025-09-30","format":"csv"}`, "FINISHED", 100, "/api/v1/export/t", "user-1", time.Now(), time.Now(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE created_by = $1 ORDER BY created_at DESC LIMIT $2")).
		WithArgs("user-1", 20).
		WillReturnRows(rows)

	jobs, err := repo.ListByCreator(context.Background(), "user-1", 500)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "2025-09-01", jobs[0].Params.From)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListFinishedBefore(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	rows := sqlmock.NewRows(reportJobRowColumns).
		AddRow("job-1", "attendance_single", `{"year":2025,"month":9,"format":"pdf"}`, "FINISHED", 100, "/api/v1/export/token", "user-1", time.Now().Add(-48*time.Hour), time.Now().Add(-25*time.Hour), nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE status = 'FINISHED' AND finished_at IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2")).
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	jobs, err := repo.ListFinishedBefore(context.Background(), time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
