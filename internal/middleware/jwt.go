package middleware

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/internal/models"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/logger"
	"github.com/noah-isme/auth-api/pkg/response"
)

// ContextUserKey is the gin context key storing the authenticated *models.CurrentUser.
const ContextUserKey = "currentUser"

type accessTokenVerifier interface {
	VerifyAccessToken(token string) (*models.AccessClaims, error)
}

type userLoader interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

// Authenticate protects routes by requiring a valid access token. The role
// attached to the request is read from the store, not from the token.
func Authenticate(tokens accessTokenVerifier, users userLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or malformed authorization header"))
			return
		}

		claims, err := tokens.VerifyAccessToken(token)
		if err != nil {
			abort(c, err)
			return
		}

		user, err := users.FindByID(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "user no longer exists"))
				return
			}
			abort(c, appErrors.Persistence(err, "failed to load user"))
			return
		}

		c.Set(ContextUserKey, &models.CurrentUser{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Role:     user.RoleName,
		})
		c.Set(logger.UserIDKey, user.ID)
		c.Next()
	}
}

// CurrentUser returns the identity attached by Authenticate.
func CurrentUser(c *gin.Context) (*models.CurrentUser, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.CurrentUser)
	return user, ok && user != nil
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func abort(c *gin.Context, err error) {
	response.Error(c, err)
	c.Abort()
}
