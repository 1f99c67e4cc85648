package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/auth-api/internal/models"
)

// RefreshTokenRepository persists refresh token rows.
type RefreshTokenRepository struct {
	db      *sqlx.DB
	metrics QueryObserver
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB, metrics QueryObserver) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db, metrics: observerOrNop(metrics)}
}

// Create inserts a refresh token row and fills in its id and creation time.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	defer track(r.metrics, "refresh_tokens.create")()
	const query = `INSERT INTO refresh_tokens (user_id, token, expires_at, revoked) VALUES ($1, $2, $3, FALSE) RETURNING id, created_at`
	if err := r.db.QueryRowxContext(ctx, query, token.UserID, token.Token, token.ExpiresAt).Scan(&token.ID, &token.CreatedAt); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	token.Revoked = false
	return nil
}

// FindByTokenAndUser returns the row matching both the token string and the
// owning user. It returns sql.ErrNoRows when either does not match.
func (r *RefreshTokenRepository) FindByTokenAndUser(ctx context.Context, token string, userID int64) (*models.RefreshToken, error) {
	defer track(r.metrics, "refresh_tokens.find")()
	const query = `SELECT id, user_id, token, expires_at, revoked, created_at FROM refresh_tokens WHERE token = $1 AND user_id = $2 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Revoke flips the revoked flag of a live row in a single conditional update.
// It reports whether a row changed, so revoking twice yields true then false.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string) (bool, error) {
	defer track(r.metrics, "refresh_tokens.revoke")()
	const query = `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows: %w", err)
	}
	return n > 0, nil
}

// RevokeAllForUser revokes every live row owned by the user and returns the
// number of rows changed.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	defer track(r.metrics, "refresh_tokens.revoke_all")()
	const query = `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens rows: %w", err)
	}
	return n, nil
}

// DeleteExpiredBefore removes rows whose expiry is older than cutoff.
func (r *RefreshTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer track(r.metrics, "refresh_tokens.purge")()
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens rows: %w", err)
	}
	return n, nil
}
