package config

import (
	"os"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, StorageDriverLocal, cfg.Storage.Driver)
	assert.Equal(t, "0 2 1 * *", cfg.Reports.MonthlyCron)
	assert.Equal(t, 24*time.Hour, cfg.Reports.SignedURLTTL)
	assert.Zero(t, cfg.Reports.OvertimeDailyHours)
	assert.Equal(t, time.UTC, cfg.Reports.Location())
}

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORAGE_DRIVER", "OSS")
	t.Setenv("OSS_BUCKET", "campus-reports")
	t.Setenv("REPORTS_TIMEZONE", "Asia/Jakarta")
	t.Setenv("REPORTS_OVERTIME_DAILY_HOURS", "8")
	t.Setenv("ATTENDANCE_CACHE_TTL", "90s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageDriverOSS, cfg.Storage.Driver)
	assert.Equal(t, "campus-reports", cfg.Storage.OSS.Bucket)
	assert.Equal(t, 8.0, cfg.Reports.OvertimeDailyHours)
	assert.Equal(t, 90*time.Second, cfg.Attendance.CacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "Asia/Jakarta", cfg.Reports.Location().String())
}

func TestReportsLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, ReportsConfig{Timezone: "Mars/Olympus"}.Location())
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("nope", time.Minute))
	assert.Equal(t, 2*time.Hour, parseDuration("2h", time.Minute))
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
