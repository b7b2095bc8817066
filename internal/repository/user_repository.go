package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-attendance-api/internal/models"
	appErrors "github.com/noah-isme/campus-attendance-api/pkg/errors"
)

const userColumns = `id, email, full_name, role, college, active, created_at, updated_at`

// UserRepository reads the users whose attendance is reported on.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns a single user.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// ListByIDs returns the users with the given ids in the same order as ids.
// Unknown ids are skipped.
func (r *UserRepository) ListByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list users by id: %w", err)
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	ordered := make([]models.User, 0, len(users))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			ordered = append(ordered, u)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// ListActive returns active users ordered by name, optionally limited to a college.
func (r *UserRepository) ListActive(ctx context.Context, college string) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE active = TRUE`
	args := []interface{}{}
	if college != "" {
		query += ` AND college = $1`
		args = append(args, college)
	}
	query += ` ORDER BY full_name ASC, id ASC`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	return users, nil
}
