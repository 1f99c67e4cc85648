package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/internal/middleware"
	"github.com/noah-isme/auth-api/internal/models"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes.
type Handlers struct {
	Auth    *AuthHandler
	Access  *AccessHandler
	Metrics *MetricsHandler
}

// RegisterRoutes mounts infrastructure routes at the root and auth routes under
// prefix. authenticate guards every route that needs a bearer token.
func RegisterRoutes(r *gin.Engine, prefix string, authenticate gin.HandlerFunc, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)
	api.POST("/register", h.Auth.Register)
	api.POST("/login", h.Auth.Login)
	api.POST("/refresh-token", h.Auth.Refresh)
	api.POST("/logout", h.Auth.Logout)

	protected := api.Group("", authenticate)
	protected.POST("/logout-all", h.Auth.LogoutAll)
	protected.GET("/profile", h.Auth.Profile)
	protected.GET("/admin/dashboard-summary", middleware.RequireRoles(models.RoleAdmin), h.Access.DashboardSummary)
	protected.GET("/content/editor-area", middleware.RequireRoles(models.RoleAdmin, models.RoleEditor), h.Access.EditorArea)
}
