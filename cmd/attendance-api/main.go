package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/campus-attendance-api/api/swagger"
	"github.com/noah-isme/campus-attendance-api/internal/handler"
	internalmiddleware "github.com/noah-isme/campus-attendance-api/internal/middleware"
	"github.com/noah-isme/campus-attendance-api/internal/models"
	"github.com/noah-isme/campus-attendance-api/internal/repository"
	"github.com/noah-isme/campus-attendance-api/internal/service"
	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
	"github.com/noah-isme/campus-attendance-api/pkg/cache"
	"github.com/noah-isme/campus-attendance-api/pkg/config"
	"github.com/noah-isme/campus-attendance-api/pkg/database"
	"github.com/noah-isme/campus-attendance-api/pkg/jobs"
	"github.com/noah-isme/campus-attendance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-attendance-api/pkg/middleware/requestid"
	"github.com/noah-isme/campus-attendance-api/pkg/storage"
)

// @title Campus Attendance API
// @version 1.0.0
// @description Attendance sessions, monthly summaries and PDF/XLSX attendance reports
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Attendance.CacheEnabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, monthly cache disabled", zap.Error(err))
			redisClient = nil
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	loc := cfg.Reports.Location()

	cacheRepo := repository.NewCacheRepository(redisClient, logr.Named("cache"))
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Attendance.CacheTTL, logr.Named("cache"), cfg.Attendance.CacheEnabled && redisClient != nil)

	attendanceRepo := repository.NewAttendanceRepository(db)
	userRepo := repository.NewUserRepository(db)
	reportRepo := repository.NewReportRepository(db)

	var overtime *attendance.OvertimePolicy
	if cfg.Reports.OvertimeDailyHours > 0 {
		overtime = &attendance.OvertimePolicy{DailyThresholdHours: cfg.Reports.OvertimeDailyHours}
	}
	attendanceSvc := service.NewAttendanceService(attendanceRepo, userRepo, cacheSvc, metricsSvc, validate, logr.Named("attendance"), service.AttendanceServiceConfig{
		Location: loc,
		Overtime: overtime,
		CacheTTL: cfg.Attendance.CacheTTL,
	})
	identitySvc := service.NewIdentityService(service.IdentityConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	}, logr.Named("identity"))

	store, err := newArtifactStore(cfg)
	if err != nil {
		return fmt.Errorf("init report storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exportSvc := service.NewExportService(attendanceSvc, store, signer, metricsSvc, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
		Location:  loc,
	}, logr.Named("export"))

	worker := service.NewReportWorker(reportRepo, exportSvc, logr.Named("report-worker")).WithMetrics(metricsSvc)
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:     cfg.Reports.WorkerConcurrency,
		MaxRetries:  cfg.Reports.WorkerRetries,
		Logger:      logr.Named("jobs"),
		OnExhausted: worker.OnExhausted,
	})
	reportSvc := service.NewReportService(reportRepo, attendanceSvc, queue, exportSvc, validate, logr.Named("reports"), service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		Metrics:         metricsSvc,
	})

	if cfg.Reports.Enabled {
		queue.Start(ctx)
		defer queue.Stop()
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)

		scheduler := service.NewReportScheduler(userRepo, reportSvc, service.ReportSchedulerConfig{
			Spec:     cfg.Reports.MonthlyCron,
			Location: loc,
		}, logr.Named("scheduler"))
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer func() { <-scheduler.Stop().Done() }()
	}

	checks := map[string]handler.Pinger{"postgres": handler.PingFunc(db.PingContext)}
	if redisClient != nil {
		checks["redis"] = cacheRepo
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	registerRoutes(r, cfg, routeDeps{
		identity:   identitySvc,
		attendance: handler.NewAttendanceHandler(attendanceSvc, exportSvc),
		reports:    handler.NewReportHandler(reportSvc),
		metrics:    handler.NewMetricsHandler(metricsSvc, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type routeDeps struct {
	identity   *service.IdentityService
	attendance *handler.AttendanceHandler
	reports    *handler.ReportHandler
	metrics    *handler.MetricsHandler
}

func registerRoutes(r *gin.Engine, cfg *config.Config, deps routeDeps) {
	r.GET("/health", deps.metrics.Health)
	r.GET("/ready", deps.metrics.Ready)
	r.GET("/metrics", deps.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	if cfg.Reports.Enabled {
		api.GET("/export/:token", deps.reports.DownloadReport)
	}

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(deps.identity))

	admins := internalmiddleware.RequireRoles(models.ReportAdminRoles...)
	secured.GET("/metrics/summary", admins, deps.metrics.Summary)

	att := secured.Group("/attendance")
	att.GET("/sessions", deps.attendance.Sessions)
	att.GET("/sessions/export", deps.attendance.ExportSessions)
	att.GET("/monthly", deps.attendance.Monthly)
	att.DELETE("/monthly/cache", admins, deps.attendance.InvalidateMonthly)

	rep := secured.Group("/reports")
	rep.GET("/attendance/users/:id", internalmiddleware.RequireSelfOrRoles(models.ReportAdminRoles...), deps.reports.SingleReport)
	rep.POST("/attendance/combined", admins, deps.reports.CombinedReport)
	if cfg.Reports.Enabled {
		rep.POST("/generate", deps.reports.GenerateReport)
		rep.GET("/status/:id", deps.reports.ReportStatus)
		rep.GET("/jobs", deps.reports.ListJobs)
	}
}

func newArtifactStore(cfg *config.Config) (storage.ArtifactStore, error) {
	switch cfg.Storage.Driver {
	case "", config.StorageDriverLocal:
		return storage.NewLocalStorage(cfg.Reports.StorageDir)
	case config.StorageDriverOSS:
		return storage.NewOSSStorage(storage.OSSConfig{
			Endpoint:        cfg.Storage.OSS.Endpoint,
			AccessKeyID:     cfg.Storage.OSS.AccessKeyID,
			AccessKeySecret: cfg.Storage.OSS.AccessKeySecret,
			Bucket:          cfg.Storage.OSS.Bucket,
			Prefix:          cfg.Storage.OSS.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
