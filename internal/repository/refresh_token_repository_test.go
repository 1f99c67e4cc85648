package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/auth-api/internal/models"
)

type recordingObserver struct {
	labels []string
}

func (o *recordingObserver) ObserveDBQuery(label string, d time.Duration) {
	o.labels = append(o.labels, label)
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	obs := &recordingObserver{}
	repo := NewRefreshTokenRepository(db, obs)

	expires := time.Now().Add(time.Hour).UTC()
	created := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO refresh_tokens (user_id, token, expires_at, revoked) VALUES ($1, $2, $3, FALSE) RETURNING id, created_at")).
		WithArgs(int64(42), "tok", expires).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(5), created))

	rt := &models.RefreshToken{UserID: 42, Token: "tok", ExpiresAt: expires}
	require.NoError(t, repo.Create(context.Background(), rt))
	assert.Equal(t, int64(5), rt.ID)
	assert.Equal(t, created, rt.CreatedAt)
	assert.Equal(t, []string{"refresh_tokens.create"}, obs.labels)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefreshTokenFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, nil)

	mock.ExpectQuery("INSERT INTO refresh_tokens").WillReturnError(errors.New("connection refused"))

	err := repo.Create(context.Background(), &models.RefreshToken{UserID: 1, Token: "t", ExpiresAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create refresh token")
}

func TestFindByTokenAndUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, nil)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token = $1 AND user_id = $2 LIMIT 1")).
		WithArgs("tok", int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "revoked", "created_at"}).
			AddRow(int64(1), int64(42), "tok", now.Add(time.Hour), false, now))

	rt, err := repo.FindByTokenAndUser(context.Background(), "tok", 42)
	require.NoError(t, err)
	assert.False(t, rt.Revoked)
	assert.Equal(t, int64(42), rt.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByTokenAndUserMismatch(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token = $1 AND user_id = $2 LIMIT 1")).
		WithArgs("tok", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "revoked", "created_at"}))

	_, err := repo.FindByTokenAndUser(context.Background(), "tok", 7)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRevokeIsConditional(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, nil)

	stmt := regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1 AND revoked = FALSE")
	mock.ExpectExec(stmt).WithArgs("tok").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).WithArgs("tok").WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.Revoke(context.Background(), "tok")
	require.NoError(t, err)
	second, err := repo.Revoke(context.Background(), "tok")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, nil)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.RevokeAllForUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredBefore(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db, nil)

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE expires_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 11))

	n, err := repo.DeleteExpiredBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
