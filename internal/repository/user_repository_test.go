package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var userRowColumns = []string{"id", "email", "full_name", "role", "college", "active", "created_at", "updated_at"}

func TestUserRepositoryListByIDsKeepsSelectionOrder(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u-1", "asha@campus.test", "Asha", "STAFF", nil, true, time.Now(), time.Now()).
		AddRow("u-2", "budi@campus.test", "Budi", "STAFF", "Science", true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	users, err := repo.ListByIDs(context.Background(), []string{"u-2", "missing", "u-1", "u-2"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "u-2", users[0].ID)
	require.Equal(t, "u-1", users[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryListByIDsEmpty(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()
	users, err := NewUserRepository(db).ListByIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestUserRepositoryListActiveByCollege(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u-2", "budi@campus.test", "Budi", "STAFF", "Science", true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE active = TRUE AND college = $1 ORDER BY full_name ASC, id ASC")).
		WithArgs("Science").
		WillReturnRows(rows)

	users, err := NewUserRepository(db).ListActive(context.Background(), "Science")
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "Science", *users[0].College)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := NewUserRepository(db).GetByID(context.Background(), "nope")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
