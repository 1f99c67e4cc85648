package service

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/internal/events"
	"github.com/noah-isme/auth-api/internal/models"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// bcrypt rejects passwords longer than this many bytes.
const maxPasswordBytes = 72

// dummyPassword is hashed once and compared against when a login identifier
// matches no user, so both failure paths cost one bcrypt comparison.
const dummyPassword = "auth-api-dummy-password"

type authUserRepository interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id int64) error
}

type tokenIssuer interface {
	MintAccessToken(identity models.Identity) (string, error)
	MintRefreshToken(ctx context.Context, identity models.Identity) (string, error)
	VerifyRefreshToken(ctx context.Context, token string) (*models.RefreshClaims, error)
	RefreshTokenOwner(token string) (int64, bool)
	RevokeRefreshToken(ctx context.Context, token string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
}

type passwordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type roleLookup interface {
	Resolve(ctx context.Context, name models.RoleName) (*models.Role, error)
}

type eventEmitter interface {
	Emit(eventType string, userID int64, username string, attrs map[string]interface{})
}

// AuthService provides the authentication use cases on top of the token engine.
type AuthService struct {
	users     authUserRepository
	tokens    tokenIssuer
	hasher    passwordHasher
	roles     roleLookup
	events    eventEmitter
	validator *validator.Validate
	logger    *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService constructs an AuthService instance. events may be nil.
func NewAuthService(users authUserRepository, tokens tokenIssuer, hasher passwordHasher, roles roleLookup, emitter eventEmitter, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	RegisterValidations(validate)
	return &AuthService{
		users:     users,
		tokens:    tokens,
		hasher:    hasher,
		roles:     roles,
		events:    emitter,
		validator: validate,
		logger:    logger,
	}
}

// RegisterValidations installs the custom rules used by auth payloads.
func RegisterValidations(validate *validator.Validate) {
	_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		password := fl.Field().String()
		return len(password) <= maxPasswordBytes && utf8.ValidString(password)
	})
}

// Register creates a user with the default role and issues a token pair.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}

	role, err := s.roles.Resolve(ctx, models.RoleUser)
	if err != nil {
		s.logger.Error("failed to resolve default role", zap.Error(err))
		return nil, appErrors.Persistence(err, "failed to resolve default role")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		RoleID:       role.ID,
		RoleName:     role.Name,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if ce, ok := appErrors.AsConstraint(err); ok {
			field := ce.Column
			if field == "" {
				field = "username or email"
			}
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, field+" already exists")
		}
		s.logger.Error("failed to create user", zap.Error(err))
		return nil, appErrors.Persistence(err, "failed to create user")
	}

	res, err := s.issuePair(ctx, user)
	if err != nil {
		s.discardUser(ctx, user.ID)
		return nil, err
	}
	s.emit(events.TypeUserRegistered, user, nil)
	return res, nil
}

// Login authenticates by username or email. Unknown users and wrong passwords
// produce the same error.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	req.Identifier = strings.TrimSpace(req.Identifier)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	identifier := req.Identifier
	if strings.Contains(identifier, "@") {
		identifier = strings.ToLower(identifier)
	}

	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.compareDummy(req.Password)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Persistence(err, "failed to fetch user")
	}

	if err := s.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	res, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	s.emit(events.TypeUserLoggedIn, user, nil)
	return res, nil
}

// Refresh exchanges a live refresh token for a new access token. The refresh
// token itself is not rotated. If its user no longer exists the token is
// revoked and rejected.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	req.Token = strings.TrimSpace(req.Token)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	claims, err := s.tokens.VerifyRefreshToken(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, revokeErr := s.tokens.RevokeRefreshToken(ctx, req.Token); revokeErr != nil {
				s.logger.Warn("failed to revoke orphaned refresh token", zap.Int64("user_id", claims.UserID), zap.Error(revokeErr))
			}
			s.logger.Info("refresh token rejected", zap.String("reason", "user_not_found"), zap.Int64("user_id", claims.UserID))
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
		}
		return nil, appErrors.Persistence(err, "failed to load user")
	}

	accessToken, err := s.tokens.MintAccessToken(user.Identity())
	if err != nil {
		return nil, err
	}
	return &models.RefreshTokenResponse{AccessToken: accessToken}, nil
}

// Logout revokes a single refresh token. Unknown and already revoked tokens
// are reported as not found.
func (s *AuthService) Logout(ctx context.Context, req models.LogoutRequest) error {
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		return appErrors.Clone(appErrors.ErrValidation, "refresh token is required")
	}

	revoked, err := s.tokens.RevokeRefreshToken(ctx, token)
	if err != nil {
		return err
	}
	if !revoked {
		return appErrors.Clone(appErrors.ErrNotFound, "refresh token not found or already revoked")
	}

	if userID, ok := s.tokens.RefreshTokenOwner(token); ok && s.events != nil {
		s.events.Emit(events.TypeSessionRevoked, userID, "", nil)
	}
	return nil
}

// LogoutAll revokes every live refresh token of the user.
func (s *AuthService) LogoutAll(ctx context.Context, user models.CurrentUser) (*models.LogoutAllResponse, error) {
	n, err := s.tokens.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.Emit(events.TypeSessionsRevokedAll, user.ID, user.Username, map[string]interface{}{"revoked": n})
	}
	return &models.LogoutAllResponse{Revoked: n}, nil
}

// Profile returns the public view of a user.
func (s *AuthService) Profile(ctx context.Context, userID int64) (*models.UserInfo, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Persistence(err, "failed to load user")
	}
	info := user.Info()
	return &info, nil
}

func (s *AuthService) issuePair(ctx context.Context, user *models.User) (*models.AuthResponse, error) {
	identity := user.Identity()
	accessToken, err := s.tokens.MintAccessToken(identity)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.tokens.MintRefreshToken(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{
		User:         user.Info(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// discardUser removes a user whose registration could not complete. It runs
// detached from ctx, which may already be cancelled.
func (s *AuthService) discardUser(ctx context.Context, userID int64) {
	if err := s.users.Delete(context.WithoutCancel(ctx), userID); err != nil {
		s.logger.Error("failed to remove partially registered user", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *AuthService) compareDummy(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Warn("failed to prepare dummy password hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" {
		_ = s.hasher.Compare(s.dummyHash, password)
	}
}

func (s *AuthService) emit(eventType string, user *models.User, attrs map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.Emit(eventType, user.ID, user.Username, attrs)
}
