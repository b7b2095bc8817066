package service

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-attendance-api/internal/models"
	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.ObserveReport("attendance_combined", "pdf", ReportOutcomeSuccess, 200*time.Millisecond)
	m.ObserveReport("attendance_single", "xlsx", ReportOutcomeError, 10*time.Millisecond)
	m.ObservePairing(attendance.PairingStats{Completed: 3, Pending: 1, DiscardedCheckouts: 2, Malformed: 1}, 4)
	m.ObserveReportJob(models.ReportStatusQueued)
	m.ObserveReportJob(models.ReportStatusFinished)
	m.ObserveReportJob(models.ReportStatusFailed)
	m.ObserveHTTPRequest("GET", "/api/v1/attendance/monthly", 200, 4*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, 0.5, snap.CacheHitRatio)
	assert.Equal(t, uint64(2), snap.ReportsGenerated)
	assert.Equal(t, uint64(1), snap.ReportsFailed)
	assert.Equal(t, uint64(2), snap.DiscardedCheckouts)
	assert.Equal(t, uint64(1), snap.MalformedEvents)
	assert.Equal(t, uint64(1), snap.JobsFinished)
	assert.Equal(t, uint64(1), snap.JobsFailed)
	assert.Equal(t, uint64(1), snap.RequestsTotal)
	assert.InDelta(t, 4.0, snap.AverageRequestDurationMs, 0.001)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `campus_attendance_reports_total{format="pdf",kind="attendance_combined",outcome="success"} 1`)
	assert.Contains(t, string(body), `campus_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, string(body), `campus_attendance_report_jobs_total{status="FINISHED"} 1`)
	assert.Contains(t, string(body), `campus_attendance_pairing_events_total{outcome="discarded_checkout"} 2`)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveReport("k", "pdf", ReportOutcomeSuccess, time.Second)
	m.ObservePairing(attendance.PairingStats{}, 0)
	m.ObserveReportJob(models.ReportStatusFailed)
	m.RecordCacheOperation(true, 0)
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())
}
