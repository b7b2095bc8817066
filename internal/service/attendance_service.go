package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-attendance-api/internal/dto"
	"github.com/noah-isme/campus-attendance-api/internal/models"
	"github.com/noah-isme/campus-attendance-api/pkg/attendance"
	appErrors "github.com/noah-isme/campus-attendance-api/pkg/errors"
	applog "github.com/noah-isme/campus-attendance-api/pkg/logger"
)

const (
	attendanceDateLayout   = "2006-01-02"
	maxSessionsWindowDays  = 366
	monthlyCacheKeyPrefix  = "attendance:monthly"
	allUsersCacheSelection = "all"
)

type attendanceRecordReader interface {
	List(ctx context.Context, filter models.AttendanceRecordFilter) ([]models.AttendanceRecord, error)
}

type attendanceUserReader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type monthlyCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// AttendanceServiceConfig tunes pairing and aggregation.
type AttendanceServiceConfig struct {
	Location *time.Location
	Overtime *attendance.OvertimePolicy
	CacheTTL time.Duration
}

// AttendanceService turns raw attendance rows into sessions and monthly buckets.
type AttendanceService struct {
	records   attendanceRecordReader
	users     attendanceUserReader
	cache     monthlyCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AttendanceServiceConfig
}

// NewAttendanceService constructs an AttendanceService. cache may be nil.
func NewAttendanceService(records attendanceRecordReader, users attendanceUserReader, cache monthlyCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg AttendanceServiceConfig) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &AttendanceService{
		records:   records,
		users:     users,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Sessions pairs every record in the requested window.
func (s *AttendanceService) Sessions(ctx context.Context, req dto.AttendanceSessionsRequest) (*dto.AttendanceSessionsResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sessions query")
	}
	from, _ := time.Parse(attendanceDateLayout, req.From)
	to, _ := time.Parse(attendanceDateLayout, req.To)
	if to.Before(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	if to.Sub(from) > maxSessionsWindowDays*24*time.Hour {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("date range must not exceed %d days", maxSessionsWindowDays))
	}

	filter := models.AttendanceRecordFilter{College: req.College, DateFrom: from, DateTo: to}
	if req.UserID != "" {
		filter.UserIDs = []string{req.UserID}
	}
	records, err := s.listRecords(ctx, filter)
	if err != nil {
		return nil, err
	}

	resp := &dto.AttendanceSessionsResponse{Sessions: []attendance.Session{}}
	for _, record := range records {
		sessions, stats := attendance.PairWithStats(record.ToRecord(), s.pairingOptions())
		resp.Sessions = append(resp.Sessions, sessions...)
		resp.Stats.Add(stats)
	}
	s.observePairing(resp.Stats, 0)
	return resp, nil
}

// Monthly returns one bucket per selected user for the requested month. With
// an explicit selection the buckets follow the selection order and users
// without attendance get an all-absent month; unknown ids are dropped. The
// boolean reports a cache hit.
func (s *AttendanceService) Monthly(ctx context.Context, req dto.MonthlyAttendanceRequest) ([]*attendance.MonthlyAttendanceData, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid monthly attendance query")
	}
	req.UserIDs = uniqueIDs(req.UserIDs)

	key := monthlyCacheKey(req)
	if s.cache != nil {
		var cached []*attendance.MonthlyAttendanceData
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, true, nil
		}
	}

	buckets, err := s.buildMonthly(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, buckets, s.cfg.CacheTTL)
	}
	return buckets, false, nil
}

// MonthlyForUser returns a single user's month, all-absent when the user has
// no attendance.
func (s *AttendanceService) MonthlyForUser(ctx context.Context, userID string, year, month int) (*attendance.MonthlyAttendanceData, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	buckets, _, err := s.Monthly(ctx, dto.MonthlyAttendanceRequest{Year: year, Month: month, UserIDs: []string{userID}})
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return buckets[0], nil
}

// InvalidateMonth drops every cached monthly summary for year/month so the
// next read rebuilds it from the attendance rows.
func (s *AttendanceService) InvalidateMonth(ctx context.Context, year, month int) error {
	if year < 1970 || month < 1 || month > 12 {
		return appErrors.Clone(appErrors.ErrValidation, "invalid year or month")
	}
	if s.cache == nil {
		return nil
	}
	pattern := fmt.Sprintf("%s:%04d-%02d:*", monthlyCacheKeyPrefix, year, month)
	if err := s.cache.Invalidate(ctx, pattern); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate monthly cache")
	}
	applog.WithContext(ctx, s.logger).Info("monthly attendance cache invalidated", zap.Int("year", year), zap.Int("month", month))
	return nil
}

func (s *AttendanceService) buildMonthly(ctx context.Context, req dto.MonthlyAttendanceRequest) ([]*attendance.MonthlyAttendanceData, error) {
	month := time.Month(req.Month)
	first := time.Date(req.Year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	records, err := s.listRecords(ctx, models.AttendanceRecordFilter{
		UserIDs:  req.UserIDs,
		College:  req.College,
		DateFrom: first,
		DateTo:   last,
	})
	if err != nil {
		return nil, err
	}

	var (
		rows  []attendance.Row
		stats attendance.PairingStats
	)
	for _, record := range records {
		sessions, st := attendance.PairWithStats(record.ToRecord(), s.pairingOptions())
		stats.Add(st)
		rows = append(rows, attendance.RowsFromSessions(sessions)...)
	}
	result := attendance.Aggregate(rows, attendance.AggregateOptions{Overtime: s.cfg.Overtime})
	for _, skipped := range result.Skipped {
		s.logger.Debug("skipped attendance row",
			zap.Int("index", skipped.Index), zap.String("user_id", skipped.UserID),
			zap.String("date", skipped.Date), zap.String("reason", skipped.Reason))
	}
	s.observePairing(stats, len(result.Skipped))

	if len(req.UserIDs) == 0 {
		buckets := make([]*attendance.MonthlyAttendanceData, 0, len(result.Buckets))
		for _, b := range result.Buckets {
			if b.Year == req.Year && b.Month == month {
				buckets = append(buckets, b)
			}
		}
		return buckets, nil
	}

	users, err := s.users.ListByIDs(ctx, req.UserIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load users")
	}
	buckets := make([]*attendance.MonthlyAttendanceData, 0, len(users))
	for _, user := range users {
		bucket := result.For(user.ID, req.Year, month)
		if bucket == nil {
			bucket = attendance.EmptyMonth(user.ID, user.FullName, req.Year, month)
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

func (s *AttendanceService) listRecords(ctx context.Context, filter models.AttendanceRecordFilter) ([]models.AttendanceRecord, error) {
	start := time.Now()
	records, err := s.records.List(ctx, filter)
	s.metrics.ObserveDBQuery("attendance_records.list", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance records")
	}
	return records, nil
}

func (s *AttendanceService) pairingOptions() attendance.PairingOptions {
	return attendance.PairingOptions{Location: s.cfg.Location}
}

func (s *AttendanceService) observePairing(stats attendance.PairingStats, skipped int) {
	s.metrics.ObservePairing(stats, skipped)
	if stats.DiscardedCheckouts > 0 || stats.Malformed > 0 || skipped > 0 {
		s.logger.Warn("attendance data needed repair",
			zap.Int("completed", stats.Completed),
			zap.Int("pending", stats.Pending),
			zap.Int("discarded_checkouts", stats.DiscardedCheckouts),
			zap.Int("malformed", stats.Malformed),
			zap.Int("skipped_rows", skipped))
	}
}

func monthlyCacheKey(req dto.MonthlyAttendanceRequest) string {
	selection := allUsersCacheSelection
	if len(req.UserIDs) > 0 {
		selection = strings.Join(req.UserIDs, ",")
	}
	return fmt.Sprintf("%s:%04d-%02d:%s:%s", monthlyCacheKeyPrefix, req.Year, req.Month, req.College, selection)
}

func uniqueIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
