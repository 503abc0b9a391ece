package http

import (
	"github.com/storytrim/server/internal/auth"
	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/database"
	"github.com/storytrim/server/internal/ratelimit"
	"github.com/storytrim/server/internal/services"
	"github.com/storytrim/server/internal/storage"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	// Core services
	Books    *services.BookService
	Imports  *services.ImportService
	Trims    *services.TrimService
	Tasks    *services.TaskService
	Contents *services.ContentService
	Points   *services.PointsService

	// Health checks
	Database *database.Database
	Storage  storage.Client
	Version  string

	// Authentication. AuthService is required; the session manager and
	// CSRF secret are optional and enable cookie sessions for browsers.
	// AuthController and AuthMiddleware are built from the others when nil.
	AuthService    *auth.Service
	AuthController *auth.AuthController
	SessionManager *auth.SessionManager
	AuthMiddleware *auth.Middleware
	AuthConfig     config.Auth
	CSRFSecret     []byte
	SecureCookies  bool

	// Per-user throttle for trim streams (optional)
	StreamLimiter *ratelimit.KeyedRateLimiter

	// Chapter title rules served to clients
	ParserRules *config.ParserRulesStore

	// Largest accepted upload body, in bytes. Zero uses the default.
	MaxUploadBytes int64
}
