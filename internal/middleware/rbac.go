package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/internal/models"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

// RBAC enforces role-based access control for routes. It must run after
// Authenticate; a request without an identity is rejected.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowedRoles := make(map[models.RoleName]struct{}, len(allowed))
	for _, a := range allowed {
		allowedRoles[models.RoleName(a)] = struct{}{}
	}

	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			abort(c, appErrors.Clone(appErrors.ErrForbidden, "no authenticated identity"))
			return
		}

		if _, ok := allowedRoles[user.Role]; !ok {
			abort(c, appErrors.Clone(appErrors.ErrForbidden, "insufficient role"))
			return
		}
		c.Next()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.RoleName) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}
