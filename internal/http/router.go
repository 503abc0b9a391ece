package http

import (
	"github.com/gin-gonic/gin"

	"github.com/storytrim/server/internal/auth"
	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/http/respond"
	"github.com/storytrim/server/internal/logging"
)

// NewRouter creates and configures the HTTP router with all endpoints.
// Everything but /health lives under /api/v1 and requires a bearer token
// or a session cookie, except the public auth endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.CustomRecovery(recoverWithEnvelope))
	router.Use(RequestLogger("/health"))

	// Apply security headers to all responses
	router.Use(auth.SecurityHeadersMiddleware())

	// Sessions load before CSRF so the CSRF check sees the session cookie
	// and keeps the session in the request context it hands on.
	if cfg.SessionManager != nil {
		router.Use(cfg.SessionManager.SessionLoadSave())
		if len(cfg.CSRFSecret) > 0 {
			router.Use(auth.CSRFMiddleware(cfg.CSRFSecret, cfg.SecureCookies, cfg.SessionManager.Cookie.Name))
		}
	}

	health := NewHealthController(cfg.Database, cfg.Storage, cfg.Version)
	router.GET("/health", health.Status)

	api := router.Group("/api/v1")
	authMiddleware := cfg.AuthMiddleware
	if authMiddleware == nil {
		authMiddleware = auth.NewMiddleware(cfg.AuthService, cfg.SessionManager)
	}
	api.Use(authMiddleware.Handler())

	authController := cfg.AuthController
	if authController == nil {
		authController = auth.NewAuthController(cfg.AuthService, cfg.SessionManager, cfg.AuthConfig)
	}
	authController.RegisterRoutes(api.Group("/auth"))

	NewBooksController(cfg.Books, cfg.Imports, cfg.Tasks, cfg.MaxUploadBytes).RegisterRoutes(api.Group("/books"))

	chapters := NewChaptersController(cfg.Books, cfg.Contents)
	chapters.RegisterChapterRoutes(api.Group("/chapters"))
	chapters.RegisterContentRoutes(api.Group("/contents"))

	NewTrimController(cfg.Trims, cfg.StreamLimiter).RegisterRoutes(api.Group("/trim"))

	tasks := NewTasksController(cfg.Tasks)
	tasks.RegisterRoutes(api.Group("/tasks"))
	tasks.RegisterChapterRoutes(api.Group("/chapters"))

	points := NewPointsController(cfg.Points)
	points.RegisterRoutes(api.Group("/points"))
	points.RegisterUserRoutes(api.Group("/users/me"))
	NewCommonController(cfg.Books, cfg.ParserRules).RegisterRoutes(api.Group("/common"))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, respond.Response{Code: 404, Msg: "not found"})
	})

	return router
}

func recoverWithEnvelope(c *gin.Context, recovered any) {
	logging.With("http").Error().
		Interface("panic", recovered).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg("Handler panicked")
	respond.Abort(c, errno.ErrInternal)
}
