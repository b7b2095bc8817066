package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-attendance-api/internal/dto"
	"github.com/noah-isme/campus-attendance-api/internal/models"
)

const (
	defaultMonthlyReportSpec = "0 2 1 * *"
	scheduledRunTimeout      = 2 * time.Minute
)

type activeUserLister interface {
	ListActive(ctx context.Context, college string) ([]models.User, error)
}

type combinedScheduler interface {
	ScheduleCombined(ctx context.Context, year, month int, userIDs []string, format models.ReportFormat) (*dto.ReportJobResponse, error)
}

// ReportSchedulerConfig configures the monthly combined report.
type ReportSchedulerConfig struct {
	Spec     string
	Location *time.Location
}

// ReportScheduler queues last month's combined report for every active user.
type ReportScheduler struct {
	users   activeUserLister
	reports combinedScheduler
	cron    *cron.Cron
	spec    string
	loc     *time.Location
	logger  *zap.Logger
	now     func() time.Time
}

// NewReportScheduler constructs a scheduler; call Start to arm it.
func NewReportScheduler(users activeUserLister, reports combinedScheduler, cfg ReportSchedulerConfig, logger *zap.Logger) *ReportScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Spec == "" {
		cfg.Spec = defaultMonthlyReportSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &ReportScheduler{
		users:   users,
		reports: reports,
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		spec:   cfg.Spec,
		loc:    cfg.Location,
		logger: logger,
		now:    time.Now,
	}
}

// Start registers the monthly job and starts the cron runner.
func (s *ReportScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
		defer cancel()
		if _, err := s.RunMonthly(ctx); err != nil {
			s.logger.Error("scheduled monthly report failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule monthly report %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("monthly report schedule armed", zap.String("spec", s.spec), zap.String("timezone", s.loc.String()))
	return nil
}

// Stop halts the runner and returns a context done when running jobs finish.
func (s *ReportScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunMonthly queues the previous month's combined PDF. It returns nil without
// queueing anything when there are no active users.
func (s *ReportScheduler) RunMonthly(ctx context.Context) (*dto.ReportJobResponse, error) {
	year, month := previousMonth(s.now().In(s.loc))
	users, err := s.users.ListActive(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	if len(users) == 0 {
		s.logger.Info("no active users, skipping monthly report", zap.Int("year", year), zap.Int("month", int(month)))
		return nil, nil
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	resp, err := s.reports.ScheduleCombined(ctx, year, int(month), ids, models.ReportFormatPDF)
	if err != nil {
		return nil, err
	}
	s.logger.Info("monthly report queued", zap.String("job_id", resp.ID), zap.Int("users", len(ids)),
		zap.Int("year", year), zap.Int("month", int(month)))
	return resp, nil
}

func previousMonth(now time.Time) (int, time.Month) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prev := first.AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}
