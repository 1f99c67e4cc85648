package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/internal/middleware"
	"github.com/noah-isme/auth-api/internal/models"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/response"
)

// currentUserOrAbort returns the authenticated identity or writes a 401.
func currentUserOrAbort(c *gin.Context) (*models.CurrentUser, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		c.Abort()
		return nil, false
	}
	return user, true
}
