package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the input for token minting.
type Identity struct {
	ID       int64
	Username string
	Role     RoleName
}

// RefreshToken represents a persisted refresh token row. Revoked only ever
// moves from false to true.
type RefreshToken struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Token     string    `db:"token" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Revoked   bool      `db:"revoked" json:"revoked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AccessClaims is the stateless access token payload.
type AccessClaims struct {
	UserID   int64    `json:"id"`
	Username string   `json:"username"`
	Role     RoleName `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims is the refresh token payload. It carries the user id only; the
// registered jti keeps token strings unique.
type RefreshClaims struct {
	UserID int64 `json:"id"`
	jwt.RegisteredClaims
}
