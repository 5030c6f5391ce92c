// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadly/threadly/internal/auth"
	"github.com/threadly/threadly/pkg/errutil"
)

var userRowColumns = []string{"id", "email", "password_hash", "first_name", "last_name", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (*UserRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return NewUserRepository(mock), mock
}

func testUser(t *testing.T) *auth.User {
	t.Helper()
	user, err := auth.NewUser("a@x.com", "$argon2id$hash", "Jo", "Doe")
	require.NoError(t, err)
	return user
}

func TestUserRepository_Create(t *testing.T) {
	tests := []struct {
		name      string
		execErr   error
		wantErr   error
		wantCode  string
		succeeded bool
	}{
		{name: "inserts user", succeeded: true},
		{
			name:     "unique violation maps to email taken",
			execErr:  &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_lower_key"},
			wantErr:  auth.ErrEmailTaken,
			wantCode: "USER_EMAIL_TAKEN",
		},
		{
			name:     "other errors are create failures",
			execErr:  errors.New("connection refused"),
			wantCode: "USER_CREATE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			user := testUser(t)

			exp := mock.ExpectExec(`INSERT INTO users`).
				WithArgs(user.ID.String(), "a@x.com", "$argon2id$hash", "Jo", "Doe", user.CreatedAt, user.UpdatedAt)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			err := repo.Create(context.Background(), user)
			if tt.succeeded {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestUserRepository_GetByID(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := ulid.Make()
		mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(userRowColumns).
				AddRow(id.String(), "a@x.com", "hash", "Jo", "Doe", created, created))

		user, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, "a@x.com", user.Email)
		assert.Equal(t, "hash", user.PasswordHash)
		assert.Equal(t, created, user.CreatedAt)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := ulid.Make()
		mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(userRowColumns))

		_, err := repo.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("corrupt id", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := ulid.Make()
		mock.ExpectQuery(`SELECT .+ FROM users`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(userRowColumns).
				AddRow("42", "a@x.com", "hash", "Jo", "Doe", created, created))

		_, err := repo.GetByID(context.Background(), id)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_INVALID_ID")
	})

	t.Run("query error", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := ulid.Make()
		mock.ExpectQuery(`SELECT .+ FROM users`).
			WithArgs(id.String()).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.GetByID(context.Background(), id)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserRepository_GetByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := ulid.Make()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE lower\(email\) = lower\(\$1\)`).
		WithArgs("a@x.com").
		WillReturnRows(pgxmock.NewRows(userRowColumns).
			AddRow(id.String(), "a@x.com", "hash", "Jo", "Doe", now, now))
	mock.ExpectQuery(`SELECT .+ FROM users WHERE lower\(email\)`).
		WithArgs("nobody@x.com").
		WillReturnRows(pgxmock.NewRows(userRowColumns))

	user, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)

	_, err = repo.GetByEmail(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	errutil.AssertErrorContext(t, err, "email", "nobody@x.com")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		result   pgconn.CommandTag
		execErr  error
		wantCode string
	}{
		{name: "updates", result: pgxmock.NewResult("UPDATE", 1)},
		{name: "missing user", result: pgxmock.NewResult("UPDATE", 0), wantCode: "USER_NOT_FOUND"},
		{name: "database error", execErr: errors.New("timeout"), wantCode: "USER_UPDATE_PASSWORD_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			repo.now = func() time.Time { return now }
			id := ulid.Make()

			exp := mock.ExpectExec(`UPDATE users SET password_hash = \$2, updated_at = \$3`).
				WithArgs(id.String(), "newhash", now)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(tt.result)
			}

			err := repo.UpdatePassword(context.Background(), id, "newhash")
			if tt.wantCode == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_Delete(t *testing.T) {
	t.Run("deletes", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := ulid.Make()
		mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, repo.Delete(context.Background(), id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := ulid.Make()
		mock.ExpectExec(`DELETE FROM users`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := repo.Delete(context.Background(), id)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := ulid.Make()
		mock.ExpectExec(`DELETE FROM users`).
			WithArgs(id.String()).
			WillReturnError(errors.New("timeout"))

		err := repo.Delete(context.Background(), id)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "USER_DELETE_FAILED")
	})
}
