package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/internal/models"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

// Refresh verification outcomes. Only logged and counted, never returned.
const (
	refreshOK             = "ok"
	refreshExpired        = "expired"
	refreshMalformed      = "malformed"
	refreshNotFound       = "not_found"
	refreshRevoked        = "revoked"
	refreshExpiredInStore = "expired_in_store"
)

var signingMethod = jwt.SigningMethodHS256

type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByTokenAndUser(ctx context.Context, token string, userID int64) (*models.RefreshToken, error)
	Revoke(ctx context.Context, token string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenConfig holds signing material and lifetimes. It is fixed for the life
// of a TokenService.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

func (c TokenConfig) validate() error {
	switch {
	case c.AccessSecret == "":
		return appErrors.Clone(appErrors.ErrConfiguration, "access token secret is required")
	case c.RefreshSecret == "":
		return appErrors.Clone(appErrors.ErrConfiguration, "refresh token secret is required")
	case c.AccessSecret == c.RefreshSecret:
		return appErrors.Clone(appErrors.ErrConfiguration, "access and refresh secrets must differ")
	case c.AccessTTL <= 0:
		return appErrors.Clone(appErrors.ErrConfiguration, "access token ttl must be positive")
	case c.RefreshTTL <= 0:
		return appErrors.Clone(appErrors.ErrConfiguration, "refresh token ttl must be positive")
	}
	return nil
}

// TokenService mints and verifies access tokens (stateless) and refresh tokens
// (persisted and revocable).
type TokenService struct {
	store   refreshTokenStore
	config  TokenConfig
	logger  *zap.Logger
	metrics *MetricsService
	now     func() time.Time
}

// NewTokenService validates cfg and constructs the token engine.
func NewTokenService(store refreshTokenStore, cfg TokenConfig, logger *zap.Logger, metrics *MetricsService) (*TokenService, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{store: store, config: cfg, logger: logger, metrics: metrics, now: time.Now}, nil
}

// MintAccessToken signs {id, username, role}. It performs no I/O.
func (s *TokenService) MintAccessToken(identity models.Identity) (string, error) {
	issuedAt := s.now()
	claims := &models.AccessClaims{
		UserID:   identity.ID,
		Username: identity.Username,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(s.config.AccessSecret))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign access token")
	}
	s.metrics.RecordTokenIssued(TokenKindAccess)
	return signed, nil
}

// VerifyAccessToken checks signature and expiry only.
func (s *TokenService) VerifyAccessToken(token string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, s.keyFunc(s.config.AccessSecret), s.parserOptions()...); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired access token")
	}
	return claims, nil
}

// MintRefreshToken signs {id} and persists a live row for it. The token is
// only returned once the row is stored.
func (s *TokenService) MintRefreshToken(ctx context.Context, identity models.Identity) (string, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.config.RefreshTTL)
	claims := &models.RefreshClaims{
		UserID: identity.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(s.config.RefreshSecret))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign refresh token")
	}

	row := &models.RefreshToken{
		UserID:    identity.ID,
		Token:     signed,
		ExpiresAt: expiresAt.UTC(),
	}
	if err := s.store.Create(ctx, row); err != nil {
		s.logger.Error("failed to persist refresh token", zap.Int64("user_id", identity.ID), zap.Error(err))
		return "", appErrors.Persistence(err, "failed to persist refresh token")
	}
	s.metrics.RecordTokenIssued(TokenKindRefresh)
	return signed, nil
}

// VerifyRefreshToken accepts a token only when its signature and embedded
// expiry are valid, a row exists for the exact token and embedded user id, and
// that row is neither revoked nor expired. Every rejection is reported as the
// same invalid token error.
func (s *TokenService) VerifyRefreshToken(ctx context.Context, token string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, s.keyFunc(s.config.RefreshSecret), s.parserOptions()...); err != nil {
		reason := refreshMalformed
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = refreshExpired
		}
		return nil, s.reject(reason, 0, err)
	}

	row, err := s.store.FindByTokenAndUser(ctx, token, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject(refreshNotFound, claims.UserID, nil)
		}
		s.logger.Error("failed to load refresh token", zap.Int64("user_id", claims.UserID), zap.Error(err))
		return nil, appErrors.Persistence(err, "failed to load refresh token")
	}

	if row.Revoked {
		return nil, s.reject(refreshRevoked, claims.UserID, nil)
	}
	if !row.ExpiresAt.After(s.now()) {
		return nil, s.reject(refreshExpiredInStore, claims.UserID, nil)
	}

	s.metrics.RecordRefreshVerification(refreshOK)
	return claims, nil
}

// RefreshTokenOwner returns the user id embedded in a refresh token whose
// signature is valid, ignoring expiry. It never touches the store.
func (s *TokenService) RefreshTokenOwner(token string) (int64, bool) {
	claims := &models.RefreshClaims{}
	_, err := jwt.ParseWithClaims(token, claims, s.keyFunc(s.config.RefreshSecret),
		jwt.WithValidMethods([]string{signingMethod.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return 0, false
	}
	return claims.UserID, true
}

// RevokeRefreshToken marks a live row revoked. Unknown or already revoked
// tokens report false without error.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	revoked, err := s.store.Revoke(ctx, token)
	if err != nil {
		s.logger.Error("failed to revoke refresh token", zap.Error(err))
		return false, appErrors.Persistence(err, "failed to revoke refresh token")
	}
	if revoked {
		s.metrics.RecordRevocations(RevocationScopeSingle, 1)
	}
	return revoked, nil
}

// RevokeAllForUser revokes every live row of the user and returns the count.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	n, err := s.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke user refresh tokens", zap.Int64("user_id", userID), zap.Error(err))
		return 0, appErrors.Persistence(err, "failed to revoke refresh tokens")
	}
	s.metrics.RecordRevocations(RevocationScopeAll, n)
	return n, nil
}

// PurgeExpired deletes rows that expired more than retention ago.
func (s *TokenService) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		retention = 0
	}
	cutoff := s.now().Add(-retention).UTC()
	n, err := s.store.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Persistence(err, "failed to purge refresh tokens")
	}
	s.metrics.RecordReaped(n)
	return n, nil
}

func (s *TokenService) keyFunc(secret string) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}
}

func (s *TokenService) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	return opts
}

func (s *TokenService) reject(reason string, userID int64, cause error) error {
	fields := []zap.Field{zap.String("reason", reason)}
	if userID != 0 {
		fields = append(fields, zap.Int64("user_id", userID))
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	s.logger.Info("refresh token rejected", fields...)
	s.metrics.RecordRefreshVerification(reason)
	return appErrors.Clone(appErrors.ErrInvalidToken, "")
}
