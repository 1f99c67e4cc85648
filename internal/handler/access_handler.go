package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/pkg/response"
)

// AccessHandler serves role-restricted areas.
type AccessHandler struct{}

// NewAccessHandler constructs an AccessHandler.
func NewAccessHandler() *AccessHandler {
	return &AccessHandler{}
}

// DashboardSummary godoc
// @Summary Admin dashboard summary
// @Tags Access
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /api/auth/admin/dashboard-summary [get]
func (h *AccessHandler) DashboardSummary(c *gin.Context) {
	user, ok := currentUserOrAbort(c)
	if !ok {
		return
	}
	response.Message(c, http.StatusOK, "welcome to the admin dashboard", gin.H{
		"user": gin.H{"id": user.ID, "username": user.Username, "role": user.Role},
	})
}

// EditorArea godoc
// @Summary Content editor area
// @Tags Access
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /api/auth/content/editor-area [get]
func (h *AccessHandler) EditorArea(c *gin.Context) {
	user, ok := currentUserOrAbort(c)
	if !ok {
		return
	}
	response.Message(c, http.StatusOK, "welcome to the content editor area", gin.H{
		"user": gin.H{"id": user.ID, "username": user.Username, "role": user.Role},
	})
}
