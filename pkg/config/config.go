package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StorageDriverLocal = "local"
	StorageDriverOSS   = "oss"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Reports    ReportsConfig
	Storage    StorageConfig
	Attendance AttendanceConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig validates bearer tokens issued by the external identity provider.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ReportsConfig configures attendance report generation.
type ReportsConfig struct {
	Enabled            bool
	StorageDir         string
	SignedURLSecret    string
	SignedURLTTL       time.Duration
	CleanupInterval    time.Duration
	WorkerConcurrency  int
	WorkerRetries      int
	Timezone           string
	OvertimeDailyHours float64
	MonthlyCron        string
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (r ReportsConfig) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StorageConfig selects where rendered reports are kept.
type StorageConfig struct {
	Driver string
	OSS    OSSConfig
}

type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Prefix          string
}

// AttendanceConfig governs caching of monthly attendance summaries.
type AttendanceConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: v.GetString("JWT_AUDIENCE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Reports = ReportsConfig{
		Enabled:            v.GetBool("ENABLE_REPORTS"),
		StorageDir:         v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:    v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:       parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:    parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency:  v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:      v.GetInt("REPORTS_WORKER_RETRIES"),
		Timezone:           v.GetString("REPORTS_TIMEZONE"),
		OvertimeDailyHours: v.GetFloat64("REPORTS_OVERTIME_DAILY_HOURS"),
		MonthlyCron:        v.GetString("REPORTS_MONTHLY_CRON"),
	}

	cfg.Storage = StorageConfig{
		Driver: strings.ToLower(v.GetString("STORAGE_DRIVER")),
		OSS: OSSConfig{
			Endpoint:        v.GetString("OSS_ENDPOINT"),
			AccessKeyID:     v.GetString("OSS_ACCESS_KEY_ID"),
			AccessKeySecret: v.GetString("OSS_ACCESS_KEY_SECRET"),
			Bucket:          v.GetString("OSS_BUCKET"),
			Prefix:          v.GetString("OSS_PREFIX"),
		},
	}

	cfg.Attendance = AttendanceConfig{
		CacheEnabled: v.GetBool("ENABLE_ATTENDANCE_CACHE"),
		CacheTTL:     parseDuration(v.GetString("ATTENDANCE_CACHE_TTL"), 10*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campus_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_REPORTS", true)
	v.SetDefault("REPORTS_STORAGE_DIR", "./storage/reports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)
	v.SetDefault("REPORTS_TIMEZONE", "UTC")
	v.SetDefault("REPORTS_OVERTIME_DAILY_HOURS", 0)
	v.SetDefault("REPORTS_MONTHLY_CRON", "0 2 1 * *")

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("OSS_ENDPOINT", "")
	v.SetDefault("OSS_ACCESS_KEY_ID", "")
	v.SetDefault("OSS_ACCESS_KEY_SECRET", "")
	v.SetDefault("OSS_BUCKET", "")
	v.SetDefault("OSS_PREFIX", "reports")

	v.SetDefault("ENABLE_ATTENDANCE_CACHE", false)
	v.SetDefault("ATTENDANCE_CACHE_TTL", "10m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
