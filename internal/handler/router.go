package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openshs/enrollment-api/internal/access"
	"github.com/openshs/enrollment-api/internal/middleware"
	"github.com/openshs/enrollment-api/internal/service"
	"github.com/openshs/enrollment-api/pkg/config"
	"github.com/openshs/enrollment-api/pkg/logger"
	corsmiddleware "github.com/openshs/enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/openshs/enrollment-api/pkg/middleware/requestid"
)

// RouterDeps bundles everything the router needs.
type RouterDeps struct {
	Config     *config.Config
	Logger     *zap.Logger
	Sessions   *service.SessionService
	Metrics    *service.MetricsService
	Auth       *AuthHandler
	Enrollment *EnrollmentHandler
	Admin      *AdminHandler
	Readiness  func() error
}

// NewRouter assembles the gin engine with all routes and middleware.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if deps.Readiness != nil {
			if err := deps.Readiness(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	prefix := deps.Config.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}
	api := r.Group(prefix)

	api.POST("/auth/register", deps.Auth.Register)
	api.POST("/auth/login", deps.Auth.Login)

	// Downloads authenticate with the signed token itself.
	api.GET("/documents/:token", deps.Enrollment.Download)

	secured := api.Group("")
	secured.Use(middleware.Session(deps.Sessions))

	secured.POST("/auth/logout", deps.Auth.Logout)
	secured.GET("/auth/me", deps.Auth.Me)
	secured.GET("/auth/menu", deps.Auth.Menu)

	secured.POST("/enrollment", middleware.RequireCapability(access.CapEnrollSubmit), deps.Enrollment.Submit)
	secured.GET("/enrollment/me", middleware.RequireCapability(access.CapEnrollViewOwn), deps.Enrollment.Mine)
	secured.GET("/enrollment/export", middleware.RequireCapability(access.CapEnrollExport), deps.Enrollment.ExportRoster)

	applications := secured.Group("/enrollment/applications")
	applications.POST("/:id/documents", deps.Enrollment.AttachDocument)
	applications.GET("/:id/documents/:slot/link", deps.Enrollment.DocumentLink)
	applications.POST("/:id/archive", middleware.RequireCapability(access.CapEnrollArchive), deps.Enrollment.Archive)

	review := applications.Group("")
	review.Use(middleware.RequireCapability(access.CapEnrollReview))
	review.GET("", deps.Enrollment.List)
	review.GET("/:id", deps.Enrollment.Get)
	review.POST("/:id/approve", deps.Enrollment.Approve)
	review.POST("/:id/reject", deps.Enrollment.Reject)
	review.POST("/:id/graduate", deps.Enrollment.Graduate)

	admin := secured.Group("/admin")
	admin.PUT("/users/:id/role", middleware.RequireCapability(access.CapRolesManage), deps.Admin.UpdateRole)
	admin.DELETE("/users/:id", middleware.RequireCapability(access.CapUsersManage), deps.Admin.Deactivate)
	admin.POST("/impersonate", middleware.RequireCapability(access.CapImpersonate), deps.Admin.Impersonate)
	admin.POST("/impersonate/stop", deps.Admin.StopImpersonation)

	return r
}
