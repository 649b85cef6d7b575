package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshs/enrollment-api/internal/models"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
)

func TestIdentityRepositoryCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectExec("INSERT INTO identities").
		WillReturnResult(sqlmock.NewResult(0, 1))

	identity := &models.Identity{LoginName: "student1", SecretHash: "hash", DisplayName: "Sample Student", Role: models.RoleStudent}
	require.NoError(t, repo.Create(context.Background(), identity))
	assert.NotEmpty(t, identity.ID)
	assert.False(t, identity.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepositoryCreateDuplicateLogin(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectExec("INSERT INTO identities").
		WillReturnError(&pq.Error{Code: pq.ErrorCode(pqUniqueViolation)})

	err := repo.Create(context.Background(), &models.Identity{LoginName: "student1"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDuplicateIdentity))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepositoryFindByLogin(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "login_name", "secret_hash", "display_name", "role", "extra_roles", "student_id", "active", "created_at", "updated_at"}).
		AddRow("u1", "student1", "hash", "Sample Student", models.RoleStudent, "{}", nil, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE login_name = $1 LIMIT 1")).
		WithArgs("student1").
		WillReturnRows(rows)

	identity, err := repo.FindByLogin(context.Background(), "student1")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.ID)
	assert.Equal(t, models.RoleStudent, identity.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepositoryFindByLoginMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE login_name = $1 LIMIT 1")).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByLogin(context.Background(), "ghost")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepositoryUpdateRoleMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE identities SET role = $2, extra_roles = $3, updated_at = $4 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRole(context.Background(), "ghost", models.RoleRegistrar, nil, time.Now())
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}
