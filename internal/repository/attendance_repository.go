package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-attendance-api/internal/models"
)

// AttendanceRepository reads raw per-day attendance rows.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// List returns raw attendance rows in the filter window ordered by date then
// user, so sessions come out in a stable order.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceRecordFilter) ([]models.AttendanceRecord, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if !filter.DateFrom.IsZero() {
		where = append(where, fmt.Sprintf("ar.date >= $%d", len(args)+1))
		args = append(args, filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		where = append(where, fmt.Sprintf("ar.date <= $%d", len(args)+1))
		args = append(args, filter.DateTo)
	}
	if len(filter.UserIDs) > 0 {
		where = append(where, fmt.Sprintf("ar.user_id = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.UserIDs))
	}
	if filter.College != "" {
		where = append(where, fmt.Sprintf("ar.college = $%d", len(args)+1))
		args = append(args, filter.College)
	}

	query := fmt.Sprintf(`SELECT ar.id, ar.user_id, u.full_name AS user_name, ar.college, ar.method, ar.date, ar.events,
        ar.checkin_times, ar.checkout_times, ar.latitude, ar.longitude, ar.created_at, ar.updated_at
        FROM attendance_records ar
        JOIN users u ON u.id = ar.user_id
        WHERE %s
        ORDER BY ar.date ASC, ar.user_id ASC, ar.created_at ASC`, strings.Join(where, " AND "))

	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return rows, nil
}
